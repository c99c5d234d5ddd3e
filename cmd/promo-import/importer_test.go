package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/promo"
)

type memWriter struct {
	mu      sync.Mutex
	byCode  map[string]*promo.Policy
	updated []string
	failOn  string
}

func newMemWriter(codes ...string) *memWriter {
	w := &memWriter{byCode: make(map[string]*promo.Policy)}
	for _, c := range codes {
		w.byCode[c] = &promo.Policy{ID: "id-" + c, Code: c}
	}
	return w
}

func (w *memWriter) Create(_ context.Context, in promo.Input, actor string) (*promo.Policy, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	code := promo.NormalizeCode(in.Code)
	if code == w.failOn {
		return nil, errors.New("db down")
	}
	if len(code) < 3 {
		return nil, &promo.ValidationError{Field: "code", Reason: "too short"}
	}
	if _, ok := w.byCode[code]; ok {
		return nil, promo.ErrCodeTaken
	}
	p := &promo.Policy{ID: "id-" + code, Code: code, CreatedBy: actor}
	w.byCode[code] = p
	return p, nil
}

func (w *memWriter) Update(_ context.Context, id string, in promo.Input, _ string) (*promo.Policy, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updated = append(w.updated, id)
	return &promo.Policy{ID: id, Code: promo.NormalizeCode(in.Code)}, nil
}

func (w *memWriter) GetByCode(_ context.Context, code string) (*promo.Policy, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.byCode[code]
	if !ok {
		return nil, promo.ErrNotFound
	}
	return p, nil
}

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func line(code string) string {
	return `{"code":"` + code + `","discount_kind":"percentage","discount_value":10,` +
		`"valid_from":"2025-01-01T00:00:00Z","valid_until":"2026-01-01T00:00:00Z"}`
}

func TestImporter_Run(t *testing.T) {
	tests := []struct {
		name         string
		update       bool
		wantCreated  int64
		wantUpdated  int64
		wantExisting int64
	}{
		{name: "skip existing", wantCreated: 3, wantExisting: 1},
		{name: "update existing", update: true, wantCreated: 3, wantUpdated: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			files := []string{
				writeGz(t, dir, "a.jsonl.gz", line("alpha"), "", line("beta"), `{"code":`, line("old")),
				writeGz(t, dir, "b.jsonl.gz", line("ALPHA"), line("gamma"), line("x")),
			}

			w := newMemWriter("OLD")
			imp := newImporter(w, []string{"OLD"}, importOptions{Workers: 3, Update: tt.update, Actor: "test"})

			stats, err := imp.Run(context.Background(), files)
			require.NoError(t, err)

			assert.Equal(t, tt.wantCreated, stats.Created.Load())
			assert.Equal(t, tt.wantUpdated, stats.Updated.Load())
			assert.Equal(t, tt.wantExisting, stats.Existing.Load())
			assert.Equal(t, int64(1), stats.Duplicates.Load())
			assert.Equal(t, int64(2), stats.Invalid.Load(), "one malformed line and one rejected code")

			for _, code := range []string{"ALPHA", "BETA", "GAMMA"} {
				assert.Contains(t, w.byCode, code)
				assert.Equal(t, "test", w.byCode[code].CreatedBy)
			}
			if tt.update {
				assert.Equal(t, []string{"id-OLD"}, w.updated)
			}
		})
	}
}

func TestImporter_Run_WriteError(t *testing.T) {
	dir := t.TempDir()
	files := []string{writeGz(t, dir, "a.jsonl.gz", line("alpha"), line("broken"), line("gamma"))}

	w := newMemWriter()
	w.failOn = "BROKEN"
	imp := newImporter(w, nil, importOptions{Workers: 1})

	_, err := imp.Run(context.Background(), files)
	require.ErrorContains(t, err, "db down")
	assert.ErrorContains(t, err, "a.jsonl.gz:2")
}

func TestImporter_Run_MissingFile(t *testing.T) {
	imp := newImporter(newMemWriter(), nil, importOptions{Workers: 2})

	_, err := imp.Run(context.Background(), []string{filepath.Join(t.TempDir(), "nope.gz")})
	require.Error(t, err)
}

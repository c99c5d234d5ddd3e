package main

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/promo-engine/internal/domain/promo"
	"github.com/xenking/promo-engine/internal/promojson"
)

const (
	bloomFPR      = 0.001
	minBloomSize  = 1024
	progressEvery = 10_000
	maxLineBytes  = 1 << 20
)

// writer is the subset of promo.Service the import uses.
type writer interface {
	Create(ctx context.Context, in promo.Input, actor string) (*promo.Policy, error)
	Update(ctx context.Context, id string, in promo.Input, actor string) (*promo.Policy, error)
	GetByCode(ctx context.Context, code string) (*promo.Policy, error)
}

type importOptions struct {
	Workers int
	Update  bool
	Actor   string
}

type importStats struct {
	Created    atomic.Int64
	Updated    atomic.Int64
	Existing   atomic.Int64
	Duplicates atomic.Int64
	Invalid    atomic.Int64
}

type job struct {
	file string
	line int
	in   promo.Input
}

// importer writes policies through the service so that every imported code
// passes the same validation as the admin API.
type importer struct {
	svc  writer
	opts importOptions

	// stored holds the codes present before the import. A hit is confirmed
	// with GetByCode since the filter may report false positives.
	stored *bloom.BloomFilter

	mu   sync.Mutex
	seen map[string]struct{}

	stats importStats
}

func newImporter(svc writer, existing []string, opts importOptions) *importer {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	n := uint(max(len(existing), minBloomSize))
	stored := bloom.NewWithEstimates(n, bloomFPR)
	for _, code := range existing {
		stored.AddString(code)
	}
	return &importer{
		svc:    svc,
		opts:   opts,
		stored: stored,
		seen:   make(map[string]struct{}),
	}
}

// Run streams every file and writes its policies with opts.Workers
// concurrent writers. Malformed lines and rejected policies are counted and
// skipped; any other error aborts the import.
func (imp *importer) Run(ctx context.Context, files []string) (*importStats, error) {
	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan job, imp.opts.Workers*4)

	readers, rctx := errgroup.WithContext(ctx)
	for _, f := range files {
		readers.Go(func() error {
			return imp.readFile(rctx, f, jobs)
		})
	}
	g.Go(func() error {
		defer close(jobs)
		return readers.Wait()
	})

	for range imp.opts.Workers {
		g.Go(func() error {
			for j := range jobs {
				if err := imp.write(ctx, j); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &imp.stats, nil
}

// readFile decodes one policy per non-empty line of a gzip-compressed file.
func (imp *importer) readFile(ctx context.Context, path string, jobs chan<- job) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var line int
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		in, err := promojson.DecodeInput(jx.DecodeBytes(raw))
		if err != nil {
			imp.stats.Invalid.Add(1)
			slog.Warn("skip malformed line",
				slog.String("file", path),
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !imp.firstSeen(in.Code) {
			imp.stats.Duplicates.Add(1)
			continue
		}

		select {
		case jobs <- job{file: path, line: line, in: in}:
		case <-ctx.Done():
			return ctx.Err()
		}
		if line%progressEvery == 0 {
			slog.Info("read progress", slog.String("file", path), slog.Int("lines", line))
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// firstSeen reports whether code appears for the first time in this import.
func (imp *importer) firstSeen(code string) bool {
	code = promo.NormalizeCode(code)
	imp.mu.Lock()
	defer imp.mu.Unlock()
	if _, ok := imp.seen[code]; ok {
		return false
	}
	imp.seen[code] = struct{}{}
	return true
}

func (imp *importer) write(ctx context.Context, j job) error {
	code := promo.NormalizeCode(j.in.Code)

	var err error
	if imp.stored.TestString(code) {
		err = imp.writeExisting(ctx, code, j.in)
	} else {
		err = imp.create(ctx, j.in)
	}

	switch {
	case err == nil:
		return nil
	case promo.IsValidation(err):
		imp.stats.Invalid.Add(1)
		slog.Warn("skip rejected promo code",
			slog.String("file", j.file),
			slog.Int("line", j.line),
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
		return nil
	default:
		return errors.Wrapf(err, "%s:%d: write %s", j.file, j.line, code)
	}
}

func (imp *importer) create(ctx context.Context, in promo.Input) error {
	_, err := imp.svc.Create(ctx, in, imp.opts.Actor)
	if errors.Is(err, promo.ErrCodeTaken) {
		// Created concurrently by someone else.
		imp.stats.Existing.Add(1)
		return nil
	}
	if err == nil {
		imp.stats.Created.Add(1)
	}
	return err
}

func (imp *importer) writeExisting(ctx context.Context, code string, in promo.Input) error {
	cur, err := imp.svc.GetByCode(ctx, code)
	if errors.Is(err, promo.ErrNotFound) {
		return imp.create(ctx, in)
	}
	if err != nil {
		return err
	}
	if !imp.opts.Update {
		imp.stats.Existing.Add(1)
		return nil
	}
	if _, err := imp.svc.Update(ctx, cur.ID, in, imp.opts.Actor); err != nil {
		return err
	}
	imp.stats.Updated.Add(1)
	return nil
}

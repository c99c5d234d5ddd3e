package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
)

type countingExpirer struct {
	calls atomic.Int32
	err   error
}

func (c *countingExpirer) ExpireStale(context.Context) (int64, error) {
	c.calls.Add(1)
	return 1, c.err
}

func TestRunExpiry(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "sweeps"},
		{name: "keeps going after errors", err: errors.New("db down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			exp := &countingExpirer{err: tt.err}
			done := make(chan struct{})
			go func() {
				runExpiry(ctx, exp, 5*time.Millisecond)
				close(done)
			}()

			assert.Eventually(t, func() bool { return exp.calls.Load() >= 2 }, time.Second, time.Millisecond)
			cancel()
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("runExpiry did not stop after cancel")
			}
		})
	}
}

// Package health serves liveness and readiness probes.
//
// Every registered check polls in its own goroutine. A check flips to
// failing only after FailureThreshold consecutive errors and back after one
// success. Optional checks (a cache, an event broker) report a degraded
// service without taking it out of rotation.
package health

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// CheckFunc returns nil when the checked dependency is healthy.
type CheckFunc func(ctx context.Context) error

// Probe selects the endpoint a check reports to.
type Probe int

const (
	// Liveness checks back /livez.
	Liveness Probe = iota
	// Readiness checks back /readyz.
	Readiness
)

// Check describes a registered check.
type Check struct {
	Name    string
	Probe   Probe
	Timeout time.Duration
	Func    CheckFunc
	// Optional checks degrade the service instead of failing the probe.
	Optional bool
	// FailureThreshold defaults to 3.
	FailureThreshold int
}

// Response statuses.
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type state struct {
	Check

	// fails is owned by the polling goroutine.
	fails   int
	failing atomic.Bool
	lastErr atomic.Pointer[string]
}

func (s *state) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	err := s.Func(ctx)
	if err == nil {
		s.fails = 0
		s.lastErr.Store(nil)
		if s.failing.Swap(false) {
			zctx.From(ctx).Info("Dependency recovered", zap.String("check", s.Name))
		}
		return
	}

	msg := err.Error()
	s.lastErr.Store(&msg)
	s.fails++
	if s.fails >= s.FailureThreshold && !s.failing.Swap(true) {
		zctx.From(ctx).Warn("Dependency failing",
			zap.String("check", s.Name),
			zap.Bool("optional", s.Optional),
			zap.Int("failures", s.fails),
			zap.Error(err),
		)
	}
}

// Health tracks the probes of one process.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*state
	cancel context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Register adds c. Checks registered after Start are not polled.
func (h *Health) Register(c Check) {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, &state{Check: c})
}

// Start polls every registered check at interval until Stop or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := slices.Clone(h.checks)
	h.mu.Unlock()

	for _, s := range checks {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				s.poll(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop ends polling. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady marks the process as able to take traffic. It is cleared during
// shutdown so the load balancer drains it.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the process is marked ready and no required
// readiness check is failing.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	status, _ := h.report(Readiness)
	return status != StatusUnhealthy
}

// report returns the probe status and the message of every failing check.
func (h *Health) report(p Probe) (string, map[string]string) {
	h.mu.RLock()
	checks := slices.Clone(h.checks)
	h.mu.RUnlock()

	status := StatusOK
	failures := make(map[string]string)
	for _, s := range checks {
		if s.Probe != p || !s.failing.Load() {
			continue
		}
		msg := "failing"
		if e := s.lastErr.Load(); e != nil {
			msg = *e
		}
		failures[s.Name] = msg
		switch {
		case !s.Optional:
			status = StatusUnhealthy
		case status == StatusOK:
			status = StatusDegraded
		}
	}
	return status, failures
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	status, failures := h.report(Liveness)
	write(w, status, failures)
}

// ReadyEndpoint serves /readyz. A process not marked ready is unhealthy
// regardless of its checks.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	status, failures := h.report(Readiness)
	if !h.ready.Load() {
		status = StatusUnhealthy
		failures["_ready"] = "not ready"
	}
	write(w, status, failures)
}

func write(w http.ResponseWriter, status string, failures map[string]string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(status) })
		if len(failures) == 0 {
			return
		}
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range slices.Sorted(maps.Keys(failures)) {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
			})
		})
	})

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

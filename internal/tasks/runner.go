// Package tasks runs deferred jobs that re-check state before acting.
package tasks

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Job receives a context that is cancelled only when the runner stops.
type Job func(ctx context.Context)

// Runner fires jobs after a delay. Jobs are never cancelled once started;
// a job that must not act any more is expected to notice that itself.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	mu      sync.Mutex
	stopped bool
	pending map[*time.Timer]struct{}
	wg      sync.WaitGroup
}

func NewRunner(l *slog.Logger) *Runner {
	if l == nil {
		l = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		ctx:     ctx,
		cancel:  cancel,
		log:     l.With("component", "tasks"),
		pending: make(map[*time.Timer]struct{}),
	}
}

// After schedules job to run once delay has elapsed. It reports false when the runner is stopped.
func (r *Runner) After(delay time.Duration, name string, job Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return false
	}

	r.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.pending, timer)
		r.mu.Unlock()

		defer r.wg.Done()
		r.run(name, job)
	})
	r.pending[timer] = struct{}{}
	return true
}

func (r *Runner) run(name string, job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("deferred job panicked", "job", name, "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	job(r.ctx)
}

// Pending is the number of scheduled jobs that have not fired yet.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Stop drops jobs that have not fired and waits for running ones until ctx expires.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		for timer := range r.pending {
			if timer.Stop() {
				r.wg.Done()
			}
			delete(r.pending, timer)
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}

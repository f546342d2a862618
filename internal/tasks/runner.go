package tasks

import (
	"context"
	"sync"
	"time"

	"translation-gateway/internal/logging"

	"go.uber.org/zap"
)

// Runner tracks fire-and-forget background work (durable cache writes, ledger
// updates, continued AI calls) so shutdown can wait for it to finish. Tasks
// run on a detached context: sending the response never cancels them.
type Runner struct {
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewRunner(logger *zap.Logger, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{logger: logger, timeout: timeout}
}

// Go spawns a named background task with its own deadline.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("background task panic",
					zap.String("task", name), zap.Any("panic", rec))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		// Task errors may embed provider payloads or user content.
		if err := fn(ctx); err != nil {
			r.logger.Warn("background task failed",
				zap.String("task", name), logging.SafeError(err))
		}
	}()
}

// Drain blocks until all spawned tasks complete or ctx expires.
func (r *Runner) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

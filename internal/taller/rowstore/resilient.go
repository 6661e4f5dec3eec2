package rowstore

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"github.com/juju/clock"
	"github.com/sony/gobreaker"

	"github.com/fabriaustral/tallerflow/internal/taller/errdefs"
)

// Resilient wraps a Store with write retries and a circuit breaker.
// Writes are retried with exponential backoff up to maxAttempts; on
// exhaustion the transition has not taken effect, so there is nothing
// to undo. Domain errors (version conflicts, not-found) are never
// retried.
type Resilient struct {
	inner Store
	clk   clock.Clock
	log   logr.Logger

	breaker *gobreaker.CircuitBreaker

	maxAttempts   int
	baseRetryWait time.Duration
	maxRetryWait  time.Duration
}

// NewResilient wraps a store with the default retry policy: 3
// attempts, 500ms base backoff doubling to a 10s cap.
func NewResilient(inner Store, clk clock.Clock, log logr.Logger) *Resilient {
	return &Resilient{
		inner: inner,
		clk:   clk,
		log:   log,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "rowstore",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			Timeout: 30 * time.Second,
		}),
		maxAttempts:   3,
		baseRetryWait: 500 * time.Millisecond,
		maxRetryWait:  10 * time.Second,
	}
}

// retryable reports whether an error is worth another attempt.
func retryable(err error) bool {
	switch {
	case errors.Is(err, errdefs.ErrVersionConflict),
		errors.Is(err, errdefs.ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// backoff returns the wait before the given retry attempt (1-based).
func (r *Resilient) backoff(attempt int) time.Duration {
	wait := r.baseRetryWait
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= r.maxRetryWait {
			return r.maxRetryWait
		}
	}
	return wait
}

func (r *Resilient) retryWrite(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			wait := r.backoff(attempt)
			r.log.V(1).Info("retrying write", "op", op, "attempt", attempt+1, "wait", wait)
			select {
			case <-r.clk.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		_, err := r.breaker.Execute(func() (interface{}, error) {
			return nil, fn()
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			lastErr = errors.Join(errdefs.ErrTransientBackend, err)
			continue
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}
	r.log.Error(lastErr, "write failed after retries", "op", op, "attempts", r.maxAttempts)
	if errors.Is(lastErr, errdefs.ErrTransientBackend) {
		return lastErr
	}
	return errors.Join(errdefs.ErrTransientBackend, lastErr)
}

// ReadHeader implements Store.
func (r *Resilient) ReadHeader(ctx context.Context, table string) ([]string, error) {
	return r.inner.ReadHeader(ctx, table)
}

// ReadRow implements Store.
func (r *Resilient) ReadRow(ctx context.Context, table string, row int) (map[string]string, error) {
	return r.inner.ReadRow(ctx, table, row)
}

// ReadAll implements Store.
func (r *Resilient) ReadAll(ctx context.Context, table string) ([]Row, error) {
	return r.inner.ReadAll(ctx, table)
}

// FindRowByColumn implements Store.
func (r *Resilient) FindRowByColumn(ctx context.Context, table, name, value string) (int, error) {
	return r.inner.FindRowByColumn(ctx, table, name, value)
}

// UpdateCell implements Store.
func (r *Resilient) UpdateCell(ctx context.Context, table string, row int, name, value string) error {
	return r.retryWrite(ctx, "update-cell", func() error {
		return r.inner.UpdateCell(ctx, table, row, name, value)
	})
}

// BatchUpdate implements Store.
func (r *Resilient) BatchUpdate(ctx context.Context, cells []Cell, pre *Precondition) error {
	return r.retryWrite(ctx, "batch-update", func() error {
		return r.inner.BatchUpdate(ctx, cells, pre)
	})
}

// AppendRows implements Store.
func (r *Resilient) AppendRows(ctx context.Context, table string, rows [][]string) error {
	return r.retryWrite(ctx, "append-rows", func() error {
		return r.inner.AppendRows(ctx, table, rows)
	})
}

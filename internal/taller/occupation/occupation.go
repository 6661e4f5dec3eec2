// Package occupation coordinates exclusive ownership of spools across
// workers: the advisory lock in front, the occupation columns and the
// optimistic version token behind. The lock provides liveness and
// clear "occupied by X" failures; the version token provides safety
// against lost updates if the lock is ever bypassed.
package occupation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/fabriaustral/tallerflow/internal/taller/errdefs"
	"github.com/fabriaustral/tallerflow/internal/taller/lock"
	"github.com/fabriaustral/tallerflow/internal/taller/machine"
	"github.com/fabriaustral/tallerflow/internal/taller/rowstore"
	"github.com/fabriaustral/tallerflow/internal/taller/spool"
)

// DefaultTTL covers a multi-hour work session. The lock is refreshed
// on every successful observation by the same owner, so the TTL only
// has to outlive the gap between observations.
const DefaultTTL = 12 * time.Hour

// ReleaseMode selects the release semantics.
type ReleaseMode int

// Release modes.
const (
	// ReleasePause frees the spool keeping in-progress witnesses.
	ReleasePause ReleaseMode = iota
	// ReleaseComplete frees the spool; completion witnesses were
	// staged by the state machine.
	ReleaseComplete
	// ReleaseCancel frees the spool after the machine reversed the
	// in-progress witnesses.
	ReleaseCancel
)

// Grant is a successful acquisition: the ownership token plus the
// fresh row snapshot read under the lock, which is the transaction's
// single observation.
type Grant struct {
	Tag    string
	Worker spool.WorkerRef
	Token  string
	Spool  *spool.Spool
}

// Coordinator acquires and releases spool occupation.
type Coordinator struct {
	locks lock.Service
	rows  rowstore.Store
	clk   clock.Clock
	log   logr.Logger
	ttl   time.Duration
}

// New creates a Coordinator. A non-positive ttl falls back to
// DefaultTTL.
func New(locks lock.Service, rows rowstore.Store, clk clock.Clock, log logr.Logger, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{locks: locks, rows: rows, clk: clk, log: log, ttl: ttl}
}

// Acquire takes the lock for the worker and re-reads the row under it.
// The row must be free or already occupied by the same worker;
// otherwise the lock is dropped and the current holder is reported.
func (c *Coordinator) Acquire(ctx context.Context, tag string, row int, w spool.WorkerRef) (*Grant, error) {
	owner := w.Canonical()

	token, err := c.locks.Acquire(ctx, tag, owner, c.ttl)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			holder, ok, inspectErr := c.locks.Inspect(ctx, tag)
			if inspectErr != nil || !ok {
				return nil, errdefs.Occupied(tag, "unknown")
			}
			return nil, errdefs.Occupied(tag, holder.Owner)
		}
		return nil, fmt.Errorf("%w: acquire lock for %q: %v", errdefs.ErrTransientBackend, tag, err)
	}

	// Re-read under the lock: the row, not the lock, is the
	// authoritative record of occupation.
	cells, err := c.rows.ReadRow(ctx, spool.TableOperaciones, row)
	if err != nil {
		c.dropLock(ctx, tag, owner)
		return nil, err
	}
	s, err := spool.FromRow(row, cells)
	if err != nil {
		c.dropLock(ctx, tag, owner)
		return nil, fmt.Errorf("%w: %v", errdefs.ErrValidationFailed, err)
	}
	if s.Occupied() && !s.OccupiedBy(owner) {
		c.dropLock(ctx, tag, owner)
		return nil, errdefs.Occupied(tag, s.OcupadoPor)
	}

	return &Grant{Tag: tag, Worker: w, Token: token, Spool: s}, nil
}

// Verify confirms the caller still holds the lock with the given token
// and that the row still names them. A live observation refreshes the
// lock TTL.
func (c *Coordinator) Verify(ctx context.Context, tag string, w spool.WorkerRef, token string, s *spool.Spool) error {
	owner := w.Canonical()

	if !s.OccupiedBy(owner) {
		if !s.Occupied() {
			return fmt.Errorf("%w: %q is not occupied", errdefs.ErrForbidden, tag)
		}
		return fmt.Errorf("%w: %q is occupied by %s", errdefs.ErrForbidden, tag, s.OcupadoPor)
	}

	err := c.locks.Verify(ctx, tag, owner, token)
	switch {
	case err == nil:
	case errors.Is(err, lock.ErrNotHeld):
		return fmt.Errorf("%w: lock for %q expired", errdefs.ErrGone, tag)
	case errors.Is(err, lock.ErrHeld):
		return fmt.Errorf("%w: lock for %q reacquired by another worker", errdefs.ErrForbidden, tag)
	default:
		return fmt.Errorf("%w: verify lock for %q: %v", errdefs.ErrTransientBackend, tag, err)
	}

	if err := c.locks.Refresh(ctx, tag, owner, c.ttl); err != nil {
		// Refresh is an optimization; a failed refresh is not fatal
		// while the verify above succeeded.
		c.log.V(1).Info("lock refresh failed", "tag", tag, "error", err.Error())
	}
	return nil
}

// StageOccupy stages the occupation columns for the worker.
func (c *Coordinator) StageOccupy(eff *machine.Effects, w spool.WorkerRef, now time.Time) {
	eff.Set(spool.ColOcupadoPor, w.Canonical())
	eff.Set(spool.ColFechaOcupacion, spool.FormatTimestamp(now))
}

// StageRelease stages the occupation columns cleared. All release
// modes clear them; what differs between PAUSE, COMPLETE and CANCEL is
// what the state machine staged alongside.
func (c *Coordinator) StageRelease(eff *machine.Effects, _ ReleaseMode) {
	eff.Set(spool.ColOcupadoPor, "")
	eff.Set(spool.ColFechaOcupacion, "")
}

// Commit bumps the version token and applies the staged effects as one
// batched row write, preconditioned on the version observed when the
// transaction began. A stale version surfaces as ErrVersionConflict.
// Extra cells (writes to other tables staged by the caller) ride in
// the same batch.
func (c *Coordinator) Commit(ctx context.Context, row int, expectVersion string, eff *machine.Effects, extra ...rowstore.Cell) (string, error) {
	newVersion := uuid.NewString()
	eff.Set(spool.ColVersion, newVersion)

	pre := &rowstore.Precondition{
		Table:  spool.TableOperaciones,
		Row:    row,
		Name:   spool.ColVersion,
		Expect: expectVersion,
	}
	cells := append(eff.Cells(spool.TableOperaciones, row), extra...)
	if err := c.rows.BatchUpdate(ctx, cells, pre); err != nil {
		return "", err
	}
	return newVersion, nil
}

// ReleaseLock drops the advisory lock after a successful commit.
// Failure is logged and swallowed: the row already records the
// release, and the TTL reclaims the lock.
func (c *Coordinator) ReleaseLock(ctx context.Context, tag string, w spool.WorkerRef) {
	if err := c.locks.Release(ctx, tag, w.Canonical()); err != nil {
		c.log.Info("lock release failed; TTL will reclaim it", "tag", tag, "error", err.Error())
	}
}

// TTL returns the configured lock TTL.
func (c *Coordinator) TTL() time.Duration { return c.ttl }

func (c *Coordinator) dropLock(ctx context.Context, tag, owner string) {
	if err := c.locks.Release(ctx, tag, owner); err != nil {
		c.log.V(1).Info("dropping freshly acquired lock failed", "tag", tag, "error", err.Error())
	}
}

// Package validate is the declarative precondition kernel. Every check
// is a pure predicate over the request and the spool snapshot; nothing
// here touches the stores. The orchestrator runs the relevant check
// before acquiring locks or firing transitions, so domain failures
// surface fast and without side effects.
package validate

import (
	"fmt"

	"github.com/fabriaustral/tallerflow/internal/taller/cycle"
	"github.com/fabriaustral/tallerflow/internal/taller/errdefs"
	"github.com/fabriaustral/tallerflow/internal/taller/machine"
	"github.com/fabriaustral/tallerflow/internal/taller/spool"
)

// Policy configures role enforcement. METROLOGIA requires its role
// when a worker directory is wired; REPARACION is open to any active
// worker.
type Policy struct {
	EnforceMetrologiaRole bool
}

// Kernel evaluates preconditions.
type Kernel struct {
	policy Policy
}

// New creates a Kernel with the given policy.
func New(policy Policy) *Kernel {
	return &Kernel{policy: policy}
}

// CanTomar checks whether the worker may take the spool for ARM or
// SOLD work: the spool must be free (or already theirs), not finished,
// and the cross-operation dependency must hold.
func (k *Kernel) CanTomar(s *spool.Spool, w spool.WorkerRef, op machine.Operation) error {
	if op == machine.OpReparacion {
		return k.CanTomarReparacion(s, w)
	}

	if s.Occupied() && !s.OccupiedBy(w.Canonical()) {
		return errdefs.Occupied(s.Tag, s.OcupadoPor)
	}

	switch op {
	case machine.OpARM:
		if s.FechaArmado != "" {
			return fmt.Errorf("%w: ARM on %q", errdefs.ErrAlreadyCompleted, s.Tag)
		}
	case machine.OpSOLD:
		if s.Armador == "" {
			return fmt.Errorf("%w: ARM not initiated on %q", errdefs.ErrDependenciesNotSatisfied, s.Tag)
		}
		if s.FechaSoldadura != "" {
			return fmt.Errorf("%w: SOLD on %q", errdefs.ErrAlreadyCompleted, s.Tag)
		}
	default:
		return fmt.Errorf("%w: cannot tomar operation %s", errdefs.ErrValidationFailed, op)
	}
	return nil
}

// CanPausarOrCompletar checks that the caller is the current holder.
func (k *Kernel) CanPausarOrCompletar(s *spool.Spool, w spool.WorkerRef) error {
	if !s.OccupiedBy(w.Canonical()) {
		if !s.Occupied() {
			return fmt.Errorf("%w: %q is not occupied", errdefs.ErrForbidden, s.Tag)
		}
		return fmt.Errorf("%w: %q is occupied by %s", errdefs.ErrForbidden, s.Tag, s.OcupadoPor)
	}
	return nil
}

// CanCancelar checks that the caller holds the spool and the operation
// is actually in progress; there is nothing to cancel otherwise.
func (k *Kernel) CanCancelar(s *spool.Spool, w spool.WorkerRef, op machine.Operation) error {
	if err := k.CanPausarOrCompletar(s, w); err != nil {
		return err
	}
	state := machine.Hydrate(op, s).State()
	if state != machine.StateEnProgreso && state != machine.StateEnReparacion && state != machine.StateReparacionPausada {
		return fmt.Errorf("%w: %s on %q is %s, nothing to cancel", errdefs.ErrValidationFailed, op, s.Tag, state)
	}
	return nil
}

// CanMetrologia checks the inspection preconditions: both upstream
// operations finished, spool free, and not already inspected.
func (k *Kernel) CanMetrologia(s *spool.Spool, w spool.WorkerRef) error {
	if k.policy.EnforceMetrologiaRole && !w.HasRole(spool.RoleMetrologia) {
		return fmt.Errorf("%w: %s lacks the metrología role", errdefs.ErrForbidden, w.Canonical())
	}
	if s.FechaArmado == "" || s.FechaSoldadura == "" {
		return fmt.Errorf("%w: ARM and SOLD must be completed on %q before inspection", errdefs.ErrDependenciesNotSatisfied, s.Tag)
	}
	if s.Occupied() {
		return errdefs.Occupied(s.Tag, s.OcupadoPor)
	}
	if s.FechaQCMetrologia != "" {
		return fmt.Errorf("%w: %q already inspected on %s", errdefs.ErrAlreadyCompleted, s.Tag, s.FechaQCMetrologia)
	}
	return nil
}

// CanTomarReparacion checks that the spool is rejected, not blocked by
// the cycle governor, and free. Any active worker may repair.
func (k *Kernel) CanTomarReparacion(s *spool.Spool, w spool.WorkerRef) error {
	if cycle.IsBloqueado(s.EstadoDetalle) {
		return fmt.Errorf("%w: %q requires supervisor intervention", errdefs.ErrSpoolBloqueado, s.Tag)
	}
	if s.Occupied() && !s.OccupiedBy(w.Canonical()) {
		return errdefs.Occupied(s.Tag, s.OcupadoPor)
	}
	state := machine.Hydrate(machine.OpReparacion, s).State()
	if state != machine.StateRechazado && state != machine.StateReparacionPausada {
		return fmt.Errorf("%w: %q is not pending repair (state %s)", errdefs.ErrValidationFailed, s.Tag, state)
	}
	return nil
}

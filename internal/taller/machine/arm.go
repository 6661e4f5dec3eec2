package machine

import (
	"fmt"

	"github.com/fabriaustral/tallerflow/internal/taller/errdefs"
	"github.com/fabriaustral/tallerflow/internal/taller/spool"
)

// NewARM builds the assembly machine at the given state.
//
// PENDIENTE -tomar-> EN_PROGRESO -completar-> COMPLETADO, with
// cancelar reversing EN_PROGRESO back to PENDIENTE. Tomar from
// EN_PROGRESO re-enters it: resuming paused work rewrites the Armador
// column with the resuming worker.
func NewARM(state State) *Machine {
	enterProgreso := func(_ *spool.Spool, in TransitionContext, eff *Effects) {
		eff.Set(spool.ColArmador, in.Worker.Canonical())
	}
	return &Machine{
		op:    OpARM,
		state: state,
		transitions: []Transition{
			{From: StatePendiente, Action: ActionTomar, To: StateEnProgreso, OnEntry: enterProgreso},
			{From: StateEnProgreso, Action: ActionTomar, To: StateEnProgreso, OnEntry: enterProgreso},
			{From: StateEnProgreso, Action: ActionCompletar, To: StateCompletado,
				OnEntry: func(_ *spool.Spool, in TransitionContext, eff *Effects) {
					eff.Set(spool.ColFechaArmado, spool.FormatDate(in.Now))
				}},
			{From: StateEnProgreso, Action: ActionCancelar, To: StatePendiente,
				OnEntry: func(_ *spool.Spool, _ TransitionContext, eff *Effects) {
					eff.Set(spool.ColArmador, "")
				}},
		},
	}
}

// NewSOLD builds the welding machine at the given state. Isomorphic to
// ARM over Soldador/Fecha_Soldadura, with one guard: welding cannot
// start before assembly has been initiated on the same spool.
func NewSOLD(state State) *Machine {
	armInitiated := func(s *spool.Spool) error {
		if s.Armador == "" {
			return fmt.Errorf("%w: ARM not initiated on %q", errdefs.ErrDependenciesNotSatisfied, s.Tag)
		}
		return nil
	}
	enterProgreso := func(_ *spool.Spool, in TransitionContext, eff *Effects) {
		eff.Set(spool.ColSoldador, in.Worker.Canonical())
	}
	return &Machine{
		op:    OpSOLD,
		state: state,
		transitions: []Transition{
			{From: StatePendiente, Action: ActionTomar, To: StateEnProgreso, Guard: armInitiated, OnEntry: enterProgreso},
			{From: StateEnProgreso, Action: ActionTomar, To: StateEnProgreso, Guard: armInitiated, OnEntry: enterProgreso},
			{From: StateEnProgreso, Action: ActionCompletar, To: StateCompletado,
				OnEntry: func(_ *spool.Spool, in TransitionContext, eff *Effects) {
					eff.Set(spool.ColFechaSoldadura, spool.FormatDate(in.Now))
				}},
			{From: StateEnProgreso, Action: ActionCancelar, To: StatePendiente,
				OnEntry: func(_ *spool.Spool, _ TransitionContext, eff *Effects) {
					eff.Set(spool.ColSoldador, "")
				}},
		},
	}
}

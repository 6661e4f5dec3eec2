package machine

import (
	"github.com/fabriaustral/tallerflow/internal/taller/cycle"
	"github.com/fabriaustral/tallerflow/internal/taller/spool"
)

// NewReparacion builds the repair machine at the given state.
//
// RECHAZADO -tomar-> EN_REPARACION -pausar-> REPARACION_PAUSADA, with
// tomar resuming from the pause, completar closing the loop back to
// PENDIENTE_METROLOGIA, and cancelar dropping back to RECHAZADO.
// BLOQUEADO admits no transitions; only an out-of-band supervisor
// override clears it.
//
// The rework cycle is read from the persisted display by the caller
// and threaded through each callback unchanged: repair never mutates
// the counter, only METROLOGIA does.
func NewReparacion(state State) *Machine {
	enterReparacion := func(_ *spool.Spool, in TransitionContext, eff *Effects) {
		eff.Set(spool.ColEstadoDetalle, cycle.Format(cycle.KindEnReparacion, in.Cycle, in.Worker.Canonical()))
	}
	backToRechazado := func(_ *spool.Spool, in TransitionContext, eff *Effects) {
		eff.Set(spool.ColEstadoDetalle, cycle.Format(cycle.KindRechazado, in.Cycle, ""))
	}
	return &Machine{
		op:    OpReparacion,
		state: state,
		transitions: []Transition{
			{From: StateRechazado, Action: ActionTomar, To: StateEnReparacion, OnEntry: enterReparacion},
			{From: StateReparacionPausada, Action: ActionTomar, To: StateEnReparacion, OnEntry: enterReparacion},
			{From: StateEnReparacion, Action: ActionPausar, To: StateReparacionPausada,
				OnEntry: func(_ *spool.Spool, in TransitionContext, eff *Effects) {
					eff.Set(spool.ColEstadoDetalle, cycle.Format(cycle.KindReparacionPausada, in.Cycle, ""))
				}},
			{From: StateEnReparacion, Action: ActionCompletar, To: StatePendienteMetrologia,
				OnEntry: func(_ *spool.Spool, in TransitionContext, eff *Effects) {
					eff.Set(spool.ColEstadoDetalle, cycle.Format(cycle.KindPendienteMetrologia, in.Cycle, ""))
					// Clear the inspection witness so METROLOGIA can
					// re-run on the repaired spool.
					eff.Set(spool.ColFechaQCMetrologia, "")
				}},
			{From: StateEnReparacion, Action: ActionCancelar, To: StateRechazado, OnEntry: backToRechazado},
			{From: StateReparacionPausada, Action: ActionCancelar, To: StateRechazado, OnEntry: backToRechazado},
		},
	}
}

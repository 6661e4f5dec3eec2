package machine

import (
	"github.com/fabriaustral/tallerflow/internal/taller/cycle"
	"github.com/fabriaustral/tallerflow/internal/taller/spool"
)

// NewMetrologia builds the dimensional-inspection machine at the given
// state. PENDIENTE -aprobar-> APROBADO or -rechazar-> RECHAZADO, both
// terminal. Inspection never occupies the spool; preconditions are
// enforced by the validation kernel before the transition fires.
//
// Both outcomes write Fecha_QC_Metrologia and Estado_Detalle in the
// same staged batch. RECHAZADO re-reads the rework cycle from the
// current display, increments it, and escalates to BLOQUEADO when the
// bounded retry budget is spent.
func NewMetrologia(state State) *Machine {
	return &Machine{
		op:    OpMetrologia,
		state: state,
		transitions: []Transition{
			{From: StatePendiente, Action: ActionAprobar, To: StateAprobado,
				OnEntry: func(_ *spool.Spool, in TransitionContext, eff *Effects) {
					eff.Set(spool.ColFechaQCMetrologia, spool.FormatDate(in.Now))
					eff.Set(spool.ColEstadoDetalle, cycle.Reset())
				}},
			{From: StatePendiente, Action: ActionRechazar, To: StateRechazado,
				OnEntry: func(s *spool.Spool, in TransitionContext, eff *Effects) {
					c := cycle.Increment(cycle.Extract(s.EstadoDetalle))
					eff.Set(spool.ColFechaQCMetrologia, spool.FormatDate(in.Now))
					if cycle.ShouldBlock(c) {
						eff.Set(spool.ColEstadoDetalle, cycle.Format(cycle.KindBloqueado, c, ""))
					} else {
						eff.Set(spool.ColEstadoDetalle, cycle.Format(cycle.KindRechazado, c, ""))
					}
				}},
		},
	}
}

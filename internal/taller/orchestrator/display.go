package orchestrator

import (
	"fmt"

	"github.com/fabriaustral/tallerflow/internal/taller/cycle"
	"github.com/fabriaustral/tallerflow/internal/taller/machine"
	"github.com/fabriaustral/tallerflow/internal/taller/spool"
)

// Render derives the composite Estado_Detalle display from a spool
// snapshot: occupation, hydrated per-operation states and the rework
// cycle. The orchestrator calls it on the post-transition snapshot
// whenever the state machine did not stage a display of its own
// (METROLOGIA and REPARACION write theirs through cycle.Format), so
// the value written in a transaction always equals the rendering of
// its post-state.
func Render(s *spool.Spool) string {
	arm := machine.Hydrate(machine.OpARM, s).State()
	sold := machine.Hydrate(machine.OpSOLD, s).State()
	met := machine.Hydrate(machine.OpMetrologia, s).State()
	c := cycle.Extract(s.EstadoDetalle)

	switch {
	case met == machine.StateAprobado:
		return cycle.Reset()
	case arm == machine.StateCompletado && sold == machine.StateCompletado:
		return cycle.Format(cycle.KindPendienteMetrologia, c, "")
	case s.Occupied() && sold == machine.StateEnProgreso:
		return fmt.Sprintf("SOLD_EN_PROGRESO - Ocupado: %s", s.OcupadoPor)
	case s.Occupied() && arm == machine.StateEnProgreso:
		return fmt.Sprintf("ARM_EN_PROGRESO - Ocupado: %s", s.OcupadoPor)
	case sold == machine.StateEnProgreso:
		return "SOLD_PAUSADO"
	case arm == machine.StateEnProgreso:
		return "ARM_PAUSADO"
	case arm == machine.StateCompletado:
		return "ARM_COMPLETADO"
	}
	return "PENDIENTE"
}

// applyEffects projects staged writes onto a copy of the snapshot so
// the post-state can be rendered before committing.
func applyEffects(s *spool.Spool, eff *machine.Effects) *spool.Spool {
	post := *s
	set := func(dst *string, name string) {
		if v, ok := eff.Get(name); ok {
			*dst = v
		}
	}
	set(&post.OcupadoPor, spool.ColOcupadoPor)
	set(&post.FechaOcupacion, spool.ColFechaOcupacion)
	set(&post.EstadoDetalle, spool.ColEstadoDetalle)
	set(&post.Armador, spool.ColArmador)
	set(&post.FechaArmado, spool.ColFechaArmado)
	set(&post.Soldador, spool.ColSoldador)
	set(&post.FechaSoldadura, spool.ColFechaSoldadura)
	set(&post.FechaQCMetrologia, spool.ColFechaQCMetrologia)
	return &post
}

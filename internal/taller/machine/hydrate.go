package machine

import (
	"github.com/fabriaustral/tallerflow/internal/taller/cycle"
	"github.com/fabriaustral/tallerflow/internal/taller/spool"
)

// Hydrate reconstructs the machine for an operation from the spool's
// persisted witnesses. Called fresh on every request; the returned
// machine is request-scoped and never cached.
//
// Witness precedence:
//
//	ARM:        Fecha_Armado set    -> COMPLETADO
//	            Armador set         -> EN_PROGRESO
//	            otherwise           -> PENDIENTE
//	SOLD:       same over Soldador / Fecha_Soldadura
//	METROLOGIA: Fecha_QC set        -> APROBADO or RECHAZADO, read
//	                                   from Estado_Detalle
//	            otherwise           -> PENDIENTE
//	REPARACION: state parsed from Estado_Detalle
func Hydrate(op Operation, s *spool.Spool) *Machine {
	switch op {
	case OpARM:
		return NewARM(hydrateWitness(s.FechaArmado, s.Armador))
	case OpSOLD:
		return NewSOLD(hydrateWitness(s.FechaSoldadura, s.Soldador))
	case OpMetrologia:
		return NewMetrologia(hydrateMetrologia(s))
	case OpReparacion:
		return NewReparacion(hydrateReparacion(s.EstadoDetalle))
	}
	return nil
}

func hydrateWitness(fechaFin, worker string) State {
	switch {
	case fechaFin != "":
		return StateCompletado
	case worker != "":
		return StateEnProgreso
	default:
		return StatePendiente
	}
}

func hydrateMetrologia(s *spool.Spool) State {
	if s.FechaQCMetrologia == "" {
		return StatePendiente
	}
	if cycle.IsAprobado(s.EstadoDetalle) {
		return StateAprobado
	}
	return StateRechazado
}

func hydrateReparacion(estado string) State {
	switch {
	case cycle.IsBloqueado(estado):
		return StateBloqueado
	case cycle.IsEnReparacion(estado):
		return StateEnReparacion
	case cycle.IsReparacionPausada(estado):
		return StateReparacionPausada
	case cycle.IsPendienteMetrologia(estado):
		return StatePendienteMetrologia
	case cycle.IsRechazado(estado):
		return StateRechazado
	default:
		// No rejection on record: repair is not applicable yet.
		return StatePendiente
	}
}

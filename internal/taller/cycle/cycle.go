// Package cycle implements the rework-cycle governor: the
// consecutive-rejection counter embedded in the Estado_Detalle display
// field, its canonical string forms, and the bounded-retry policy
// (three strikes, then BLOQUEADO).
//
// Estado_Detalle is the only persisted carrier of the counter; this
// package is the only code that parses or formats it.
package cycle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxCycles bounds the RECHAZADO -> repair -> RECHAZADO loop on a
// single spool.
const MaxCycles = 3

// Canonical display fragments.
const (
	Bloqueado           = "BLOQUEADO - Contactar supervisor"
	MetrologiaAprobado  = "METROLOGIA_APROBADO ✓"
	PendienteMetrologia = "PENDIENTE_METROLOGIA"
	markerBloqueado     = "BLOQUEADO"
	markerEnReparacion  = "EN_REPARACION"
	markerRepPausada    = "REPARACION_PAUSADA"
	markerRechazado     = "RECHAZADO"
)

var cicloPattern = regexp.MustCompile(`Ciclo (\d+)/3`)

// Extract returns the consecutive-rejection count carried by an
// Estado_Detalle value. A BLOQUEADO display always counts as
// MaxCycles; a display with no cycle marker counts as zero.
func Extract(estado string) int {
	if containsMarker(estado, markerBloqueado) {
		return MaxCycles
	}
	m := cicloPattern.FindStringSubmatch(estado)
	if m == nil {
		return 0
	}
	c, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	if c > MaxCycles {
		return MaxCycles
	}
	return c
}

// Increment advances the counter, capped at MaxCycles.
func Increment(c int) int {
	if c >= MaxCycles {
		return MaxCycles
	}
	return c + 1
}

// ShouldBlock reports whether the counter has exhausted the bounded
// retry budget.
func ShouldBlock(c int) bool { return c >= MaxCycles }

// Kind selects which canonical display string Format emits.
type Kind int

const (
	// KindRechazado is the post-inspection rejected display.
	KindRechazado Kind = iota
	// KindBloqueado is the exhausted-cycle display.
	KindBloqueado
	// KindEnReparacion is the occupied-for-repair display.
	KindEnReparacion
	// KindReparacionPausada is the paused-repair display.
	KindReparacionPausada
	// KindPendienteMetrologia is the awaiting-inspection display.
	KindPendienteMetrologia
	// KindAprobado is the approved display (cycle reset).
	KindAprobado
)

// Format emits the canonical Estado_Detalle string for a kind, cycle
// count and optional occupying worker.
func Format(kind Kind, c int, worker string) string {
	switch kind {
	case KindBloqueado:
		return Bloqueado
	case KindRechazado:
		return fmt.Sprintf("RECHAZADO (Ciclo %d/3) - Pendiente reparación", c)
	case KindEnReparacion:
		return fmt.Sprintf("EN_REPARACION (Ciclo %d/3) - Ocupado: %s", c, worker)
	case KindReparacionPausada:
		return fmt.Sprintf("REPARACION_PAUSADA (Ciclo %d/3)", c)
	case KindPendienteMetrologia:
		// The cycle survives the repair loop; it is carried in the
		// display so the next RECHAZADO increments from it.
		if c > 0 {
			return fmt.Sprintf("PENDIENTE_METROLOGIA (Ciclo %d/3)", c)
		}
		return PendienteMetrologia
	case KindAprobado:
		return MetrologiaAprobado
	}
	return ""
}

// Reset returns the display written on APROBADO; the counter restarts
// from zero.
func Reset() string { return MetrologiaAprobado }

// IsBloqueado reports whether a display value marks the spool as
// blocked for supervisor intervention.
func IsBloqueado(estado string) bool { return containsMarker(estado, markerBloqueado) }

// IsRechazado reports whether a display value marks the spool as
// rejected and pending repair. BLOQUEADO is not RECHAZADO: a blocked
// spool admits no repair.
func IsRechazado(estado string) bool {
	return containsMarker(estado, markerRechazado) && !containsMarker(estado, markerBloqueado)
}

// IsEnReparacion reports an in-progress repair display.
func IsEnReparacion(estado string) bool { return containsMarker(estado, markerEnReparacion) }

// IsReparacionPausada reports a paused repair display.
func IsReparacionPausada(estado string) bool { return containsMarker(estado, markerRepPausada) }

// IsPendienteMetrologia reports an awaiting-inspection display.
func IsPendienteMetrologia(estado string) bool {
	return containsMarker(estado, PendienteMetrologia)
}

// IsAprobado reports an approved-inspection display.
func IsAprobado(estado string) bool { return containsMarker(estado, "METROLOGIA_APROBADO") }

func containsMarker(s, marker string) bool {
	return strings.Contains(s, marker)
}

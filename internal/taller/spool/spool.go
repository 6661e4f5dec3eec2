// Package spool holds the domain types of the shop floor: spools,
// unions, workers, and their bindings to the row-oriented store. A
// spool is a physical pipe assembly identified by an opaque tag; a
// union is one joint inside it.
package spool

import (
	"fmt"
	"strconv"
	"strings"
)

// Logical column names of the Operaciones table. Physical positions
// are resolved through colmap; these are the only names the engine
// uses.
const (
	ColTag               = "Tag"
	ColOT                = "OT"
	ColTotalUniones      = "Total_Uniones"
	ColOcupadoPor        = "Ocupado_Por"
	ColFechaOcupacion    = "Fecha_Ocupacion"
	ColVersion           = "Version"
	ColEstadoDetalle     = "Estado_Detalle"
	ColArmador           = "Armador"
	ColFechaArmado       = "Fecha_Armado"
	ColSoldador          = "Soldador"
	ColFechaSoldadura    = "Fecha_Soldadura"
	ColFechaQCMetrologia = "Fecha_QC_Metrologia"
)

// TableOperaciones and TableUniones are the tables the engine consumes.
const (
	TableOperaciones = "Operaciones"
	TableUniones     = "Uniones"
)

// RequiredColumns lists the Operaciones columns the engine cannot run
// without. Checked at startup by the schema validator.
var RequiredColumns = []string{
	ColTag, ColOT, ColTotalUniones, ColOcupadoPor, ColFechaOcupacion,
	ColVersion, ColEstadoDetalle, ColArmador, ColFechaArmado,
	ColSoldador, ColFechaSoldadura, ColFechaQCMetrologia,
}

// Spool is the engine's snapshot of one Operaciones row. It is read
// once per request and used throughout; nothing mutates it in place.
type Spool struct {
	Tag          string
	OT           string
	TotalUniones int

	OcupadoPor     string
	FechaOcupacion string
	Version        string
	EstadoDetalle  string

	Armador           string
	FechaArmado       string
	Soldador          string
	FechaSoldadura    string
	FechaQCMetrologia string

	// Row is the physical row in the Operaciones table the snapshot
	// was read from.
	Row int
}

// FromRow binds a name-addressed row to a Spool snapshot. Keys may be
// raw header names or already normalized.
func FromRow(row int, cells map[string]string) (*Spool, error) {
	norm := NormalizeCells(cells)
	get := func(name string) string { return norm[normKey(name)] }

	tag := strings.TrimSpace(get(ColTag))
	if tag == "" {
		return nil, fmt.Errorf("row %d has no tag", row)
	}

	total := 0
	if raw := strings.TrimSpace(get(ColTotalUniones)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad Total_Uniones %q: %w", row, raw, err)
		}
		total = n
	}

	return &Spool{
		Tag:               tag,
		OT:                strings.TrimSpace(get(ColOT)),
		TotalUniones:      total,
		OcupadoPor:        strings.TrimSpace(get(ColOcupadoPor)),
		FechaOcupacion:    strings.TrimSpace(get(ColFechaOcupacion)),
		Version:           strings.TrimSpace(get(ColVersion)),
		EstadoDetalle:     strings.TrimSpace(get(ColEstadoDetalle)),
		Armador:           strings.TrimSpace(get(ColArmador)),
		FechaArmado:       strings.TrimSpace(get(ColFechaArmado)),
		Soldador:          strings.TrimSpace(get(ColSoldador)),
		FechaSoldadura:    strings.TrimSpace(get(ColFechaSoldadura)),
		FechaQCMetrologia: strings.TrimSpace(get(ColFechaQCMetrologia)),
		Row:               row,
	}, nil
}

// UnionLevel reports whether ARM/SOLD progress is tracked per union
// (Total_Uniones > 0) rather than at spool level.
func (s *Spool) UnionLevel() bool { return s.TotalUniones > 0 }

// Occupied reports whether any worker currently holds the spool.
func (s *Spool) Occupied() bool { return s.OcupadoPor != "" }

// OccupiedBy reports whether the given canonical worker identity holds
// the spool.
func (s *Spool) OccupiedBy(worker string) bool { return s.OcupadoPor == worker }

// normKey mirrors colmap normalization so FromRow accepts rows keyed
// either by raw or normalized column names.
func normKey(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

// NormalizeCells rewrites a row map so its keys are normalized column
// names. Backends return raw header names; the engine compares
// normalized ones.
func NormalizeCells(cells map[string]string) map[string]string {
	out := make(map[string]string, len(cells))
	for k, v := range cells {
		out[normKey(k)] = v
	}
	return out
}

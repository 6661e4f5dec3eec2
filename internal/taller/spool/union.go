package spool

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Logical column names of the Uniones table.
const (
	ColUnionID    = "Union_ID"
	ColUnionOT    = "OT"
	ColNUnion     = "N_Union"
	ColDNUnion    = "DN_Union"
	ColTipoUnion  = "Tipo_Union"
	ColArmInicio  = "ARM_Fecha_Inicio"
	ColArmFin     = "ARM_Fecha_Fin"
	ColArmWorker  = "ARM_Worker"
	ColSolInicio  = "SOL_Fecha_Inicio"
	ColSolFin     = "SOL_Fecha_Fin"
	ColSolWorker  = "SOL_Worker"
	ColNDTFecha   = "NDT_Fecha"
	ColNDTStatus  = "NDT_Status"
	ColUnionVersn = "Version"
)

// RequiredUnionColumns lists the Uniones columns the engine cannot run
// without.
var RequiredUnionColumns = []string{
	ColUnionID, ColUnionOT, ColNUnion, ColDNUnion, ColTipoUnion,
	ColArmInicio, ColArmFin, ColArmWorker,
	ColSolInicio, ColSolFin, ColSolWorker,
	ColNDTFecha, ColNDTStatus, ColUnionVersn,
}

// Union is one joint of a union-level spool, identified by the
// composite {ot}+{n}.
type Union struct {
	OT     string
	N      int
	DN     float64
	Tipo   string
	Status string

	ArmInicio string
	ArmFin    string
	ArmWorker string
	SolInicio string
	SolFin    string
	SolWorker string
	NDTFecha  string
	NDTStatus string
	Version   string

	Row int
}

// UnionID builds the composite identifier {ot}+{n}.
func UnionID(ot string, n int) string {
	return fmt.Sprintf("%s+%d", ot, n)
}

// ID returns the union's composite identifier.
func (u *Union) ID() string { return UnionID(u.OT, u.N) }

// UnionFromRow binds a name-addressed Uniones row. Keys may be raw
// header names or already normalized.
func UnionFromRow(row int, cells map[string]string) (*Union, error) {
	norm := NormalizeCells(cells)
	get := func(name string) string { return strings.TrimSpace(norm[normKey(name)]) }

	ot := get(ColUnionOT)
	nRaw := get(ColNUnion)
	if ot == "" || nRaw == "" {
		return nil, fmt.Errorf("uniones row %d: missing OT or N_Union", row)
	}
	n, err := strconv.Atoi(nRaw)
	if err != nil {
		return nil, fmt.Errorf("uniones row %d: bad N_Union %q: %w", row, nRaw, err)
	}

	dn := 0.0
	if raw := get(ColDNUnion); raw != "" {
		// The store may carry decimal commas.
		raw = strings.ReplaceAll(raw, ",", ".")
		dn, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("uniones row %d: bad DN_Union %q: %w", row, raw, err)
		}
	}

	return &Union{
		OT:        ot,
		N:         n,
		DN:        dn,
		Tipo:      get(ColTipoUnion),
		ArmInicio: get(ColArmInicio),
		ArmFin:    get(ColArmFin),
		ArmWorker: get(ColArmWorker),
		SolInicio: get(ColSolInicio),
		SolFin:    get(ColSolFin),
		SolWorker: get(ColSolWorker),
		NDTFecha:  get(ColNDTFecha),
		NDTStatus: get(ColNDTStatus),
		Version:   get(ColUnionVersn),
		Row:       row,
	}, nil
}

// ArmDone reports whether assembly is finished on this union.
func (u *Union) ArmDone() bool { return u.ArmFin != "" }

// SolDone reports whether welding is finished on this union.
func (u *Union) SolDone() bool { return u.SolFin != "" }

// ArmAvailable reports whether the union can still receive assembly
// work.
func (u *Union) ArmAvailable() bool { return u.ArmFin == "" }

// SolAvailable reports whether the union can receive welding work:
// assembled but not yet welded.
func (u *Union) SolAvailable() bool { return u.ArmFin != "" && u.SolFin == "" }

// Progress aggregates per-operation completion over a spool's unions:
// how many are done and the summed diameter inches of the done set,
// rounded to two decimals.
type Progress struct {
	Completed int
	Total     int
	Pulgadas  float64
}

// Complete reports full completion of the operation across the spool.
func (p Progress) Complete() bool { return p.Total > 0 && p.Completed == p.Total }

// ArmProgress folds assembly completion over the unions.
func ArmProgress(unions []*Union) Progress {
	p := Progress{Total: len(unions)}
	sum := 0.0
	for _, u := range unions {
		if u.ArmDone() {
			p.Completed++
			sum += u.DN
		}
	}
	p.Pulgadas = round2(sum)
	return p
}

// SolProgress folds welding completion over the unions.
func SolProgress(unions []*Union) Progress {
	p := Progress{Total: len(unions)}
	sum := 0.0
	for _, u := range unions {
		if u.SolDone() {
			p.Completed++
			sum += u.DN
		}
	}
	p.Pulgadas = round2(sum)
	return p
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

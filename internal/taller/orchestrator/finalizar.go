package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/fabriaustral/tallerflow/internal/taller/cycle"
	"github.com/fabriaustral/tallerflow/internal/taller/errdefs"
	"github.com/fabriaustral/tallerflow/internal/taller/eventlog"
	"github.com/fabriaustral/tallerflow/internal/taller/machine"
	"github.com/fabriaustral/tallerflow/internal/taller/occupation"
	"github.com/fabriaustral/tallerflow/internal/taller/rowstore"
	"github.com/fabriaustral/tallerflow/internal/taller/spool"
)

// finalizar registers finished unions for ARM or SOLD work and derives
// the spool-level action from the selection: an empty survivor set
// cancels the occupation, a partial one pauses it, and registering
// every available union completes the operation. Invalid selections
// are dropped with per-item warnings; processing continues with the
// survivors. All spool and union cells land in one batched write, all
// events in one chunked append.
func (o *Orchestrator) finalizar(ctx context.Context, req Request, s *spool.Spool) (*Result, error) {
	if !s.UnionLevel() {
		return nil, fmt.Errorf("%w: %q is not a union-level spool", errdefs.ErrValidationFailed, s.Tag)
	}
	if err := o.kernel.CanPausarOrCompletar(s, req.Worker); err != nil {
		return nil, err
	}
	if err := o.occ.Verify(ctx, req.Tag, req.Worker, req.Token, s); err != nil {
		return nil, err
	}

	unions, err := o.readUnions(ctx, s.OT)
	if err != nil {
		return nil, err
	}
	available := availableCount(unions, req.Operacion)
	survivors, warnings := selectUnions(unions, req.Uniones, req.Operacion, s.Tag)

	now := o.clk.Now()
	in := machine.TransitionContext{Worker: req.Worker, Now: now, Cycle: cycle.Extract(s.EstadoDetalle)}
	eff := machine.NewEffects()
	m := machine.Hydrate(req.Operacion, s)

	finCol, workerCol := spool.ColArmFin, spool.ColArmWorker
	if req.Operacion == machine.OpSOLD {
		finCol, workerCol = spool.ColSolFin, spool.ColSolWorker
	}
	unionCells := make([]rowstore.Cell, 0, 2*len(survivors))
	for _, u := range survivors {
		unionCells = append(unionCells,
			rowstore.Cell{Table: spool.TableUniones, Row: u.Row, Name: finCol, Value: spool.FormatTimestamp(now)},
			rowstore.Cell{Table: spool.TableUniones, Row: u.Row, Name: workerCol, Value: req.Worker.Canonical()},
		)
		// Mark the snapshot so post-write progress folds correctly.
		if req.Operacion == machine.OpARM {
			u.ArmFin = spool.FormatTimestamp(now)
			u.ArmWorker = req.Worker.Canonical()
		} else {
			u.SolFin = spool.FormatTimestamp(now)
			u.SolWorker = req.Worker.Canonical()
		}
	}
	armProg := spool.ArmProgress(unions)
	solProg := spool.SolProgress(unions)
	prog := armProg
	if req.Operacion == machine.OpSOLD {
		prog = solProg
	}

	var spoolKind eventlog.Kind
	switch {
	case len(survivors) == 0:
		if err := m.Fire(machine.ActionCancelar, s, in, eff); err != nil {
			return nil, err
		}
		o.occ.StageRelease(eff, occupation.ReleaseCancel)
		eff.Set(spool.ColEstadoDetalle, Render(applyEffects(s, eff)))
		spoolKind = eventlog.KindSpoolCancelado
		warnings = append(warnings, "no valid unions selected; occupation cancelled")

	case len(survivors) < available:
		o.occ.StageRelease(eff, occupation.ReleasePause)
		eff.Set(spool.ColEstadoDetalle,
			fmt.Sprintf("%s_PAUSADO (%d/%d uniones)", req.Operacion, prog.Completed, prog.Total))
		spoolKind = eventlog.KindPausarSpool

	default:
		if err := m.Fire(machine.ActionCompletar, s, in, eff); err != nil {
			return nil, err
		}
		o.occ.StageRelease(eff, occupation.ReleaseComplete)
		if req.Operacion == machine.OpSOLD && armProg.Complete() && solProg.Complete() {
			eff.Set(spool.ColEstadoDetalle, cycle.Format(cycle.KindPendienteMetrologia, in.Cycle, ""))
		} else {
			eff.Set(spool.ColEstadoDetalle,
				fmt.Sprintf("%s_COMPLETADO (%d/%d uniones)", req.Operacion, prog.Completed, prog.Total))
		}
		spoolKind = eventlog.KindCompletarARM
		if req.Operacion == machine.OpSOLD {
			spoolKind = eventlog.KindCompletarSOLD
		}
	}

	if _, err := o.occ.Commit(ctx, s.Row, s.Version, eff, unionCells...); err != nil {
		return nil, err
	}
	o.occ.ReleaseLock(ctx, req.Tag, req.Worker)

	estado, _ := eff.Get(spool.ColEstadoDetalle)
	unionKind := eventlog.KindUnionARMRegistrada
	if req.Operacion == machine.OpSOLD {
		unionKind = eventlog.KindUnionSOLDRegistrada
	}
	events := make([]eventlog.Event, 0, len(survivors)+1)
	for _, u := range survivors {
		n := u.N
		events = append(events, o.event(unionKind, req, s.Tag, now, estado, &n))
	}
	events = append(events, o.event(spoolKind, req, s.Tag, now, estado, nil))
	warnings = append(warnings, o.emit(ctx, events...)...)

	return &Result{Estado: estado, Warnings: warnings, Pulgadas: prog.Pulgadas}, nil
}

// readUnions binds every Uniones row of the work order, ordered by
// union number. Undecodable rows are skipped.
func (o *Orchestrator) readUnions(ctx context.Context, ot string) ([]*spool.Union, error) {
	rows, err := o.rows.ReadAll(ctx, spool.TableUniones)
	if err != nil {
		return nil, err
	}
	var unions []*spool.Union
	for _, r := range rows {
		u, err := spool.UnionFromRow(r.Num, r.Cells)
		if err != nil {
			o.log.V(1).Info("skipping undecodable union row", "row", r.Num, "error", err.Error())
			continue
		}
		if u.OT == ot {
			unions = append(unions, u)
		}
	}
	sort.Slice(unions, func(i, j int) bool { return unions[i].N < unions[j].N })
	return unions, nil
}

// selectUnions filters the selected union numbers down to the ones that
// belong to the spool and satisfy the operation's precondition,
// emitting a warning per dropped member. Duplicates count once.
func selectUnions(unions []*spool.Union, selected []int, op machine.Operation, tag string) ([]*spool.Union, []string) {
	byN := make(map[int]*spool.Union, len(unions))
	for _, u := range unions {
		byN[u.N] = u
	}

	var survivors []*spool.Union
	var warnings []string
	seen := make(map[int]bool, len(selected))
	for _, n := range selected {
		if seen[n] {
			continue
		}
		seen[n] = true
		u, ok := byN[n]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("union %d: not part of %q; dropped", n, tag))
			continue
		}
		switch op {
		case machine.OpARM:
			if !u.ArmAvailable() {
				warnings = append(warnings, fmt.Sprintf("union %d: ARM already registered; dropped", n))
				continue
			}
		case machine.OpSOLD:
			if !u.SolAvailable() {
				if !u.ArmDone() {
					warnings = append(warnings, fmt.Sprintf("union %d: not assembled yet; dropped", n))
				} else {
					warnings = append(warnings, fmt.Sprintf("union %d: SOLD already registered; dropped", n))
				}
				continue
			}
		}
		survivors = append(survivors, u)
	}
	return survivors, warnings
}

func availableCount(unions []*spool.Union, op machine.Operation) int {
	n := 0
	for _, u := range unions {
		if op == machine.OpARM && u.ArmAvailable() {
			n++
		}
		if op == machine.OpSOLD && u.SolAvailable() {
			n++
		}
	}
	return n
}

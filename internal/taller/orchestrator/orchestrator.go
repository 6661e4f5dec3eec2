// Package orchestrator drives the full transition flow for every
// inbound action: read the row once, validate, hydrate the state
// machine, acquire or verify occupation, fire the transition, commit
// one batched row write, journal exactly one event. State-machine
// instances are request-scoped; nothing survives between requests
// except the stores.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/fabriaustral/tallerflow/internal/taller/cycle"
	"github.com/fabriaustral/tallerflow/internal/taller/errdefs"
	"github.com/fabriaustral/tallerflow/internal/taller/eventlog"
	"github.com/fabriaustral/tallerflow/internal/taller/machine"
	"github.com/fabriaustral/tallerflow/internal/taller/metrics"
	"github.com/fabriaustral/tallerflow/internal/taller/occupation"
	"github.com/fabriaustral/tallerflow/internal/taller/rowstore"
	"github.com/fabriaustral/tallerflow/internal/taller/spool"
	"github.com/fabriaustral/tallerflow/internal/taller/validate"
)

// AccionFinalizar is the union-level batch action. It is not a machine
// transition: the orchestrator derives the spool-level action from the
// selection size.
const AccionFinalizar = machine.Action("finalizar")

// Request is one inbound operation against a spool.
type Request struct {
	Tag       string            `validate:"required"`
	Operacion machine.Operation `validate:"required,oneof=ARM SOLD METROLOGIA REPARACION"`
	Accion    machine.Action    `validate:"required,oneof=tomar pausar completar cancelar aprobar rechazar finalizar"`
	Worker    spool.WorkerRef   `validate:"-"`

	// Token is the ownership token returned by TOMAR; required by the
	// releasing actions.
	Token string

	// Uniones selects union numbers for finalizar.
	Uniones []int
}

// Result is the outcome of a successful request.
type Result struct {
	// Estado is the composite display written in the same transaction.
	Estado string
	// Token is the ownership token; set on TOMAR, empty otherwise.
	Token string
	// Warnings carries non-fatal per-item notes (dropped unions,
	// skipped duplicates, journal lag).
	Warnings []string
	// Pulgadas is the summed diameter inches of the registered unions
	// after the write; set by finalizar, zero otherwise.
	Pulgadas float64
}

// Orchestrator coordinates the stores and machines per request.
type Orchestrator struct {
	rows   rowstore.Store
	events eventlog.Log
	occ    *occupation.Coordinator
	kernel *validate.Kernel
	clk    clock.Clock
	log    logr.Logger
	met    *metrics.Metrics
	val    *validator.Validate
}

// New wires an Orchestrator.
func New(rows rowstore.Store, events eventlog.Log, occ *occupation.Coordinator, kernel *validate.Kernel, clk clock.Clock, log logr.Logger, met *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		rows:   rows,
		events: events,
		occ:    occ,
		kernel: kernel,
		clk:    clk,
		log:    log,
		met:    met,
		val:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Do executes one request. A version conflict is retried once with a
// fresh read; every other failure surfaces as-is.
func (o *Orchestrator) Do(ctx context.Context, req Request) (*Result, error) {
	if err := o.checkRequest(&req); err != nil {
		o.met.Failures.WithLabelValues(errdefs.Kind(err)).Inc()
		return nil, err
	}

	res, err := o.dispatch(ctx, req)
	if errors.Is(err, errdefs.ErrVersionConflict) {
		o.met.VersionConflicts.Inc()
		o.log.V(1).Info("version conflict, retrying with fresh read", "tag", req.Tag)
		res, err = o.dispatch(ctx, req)
	}
	if err != nil {
		if errors.Is(err, errdefs.ErrSpoolOccupied) {
			o.met.LockContention.Inc()
		}
		o.met.Failures.WithLabelValues(errdefs.Kind(err)).Inc()
		return nil, err
	}

	o.met.Transitions.WithLabelValues(string(req.Operacion), string(req.Accion)).Inc()
	return res, nil
}

func (o *Orchestrator) checkRequest(req *Request) error {
	if err := o.val.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrValidationFailed, err)
	}
	if req.Worker.ID <= 0 || strings.TrimSpace(req.Worker.Initials) == "" {
		return fmt.Errorf("%w: incomplete worker identity", errdefs.ErrValidationFailed)
	}
	switch req.Accion {
	case machine.ActionAprobar, machine.ActionRechazar:
		if req.Operacion != machine.OpMetrologia {
			return fmt.Errorf("%w: %s applies to METROLOGIA only", errdefs.ErrValidationFailed, req.Accion)
		}
	case AccionFinalizar:
		if req.Operacion != machine.OpARM && req.Operacion != machine.OpSOLD {
			return fmt.Errorf("%w: finalizar applies to ARM or SOLD", errdefs.ErrValidationFailed)
		}
	default:
		if req.Operacion == machine.OpMetrologia {
			return fmt.Errorf("%w: METROLOGIA admits aprobar or rechazar only", errdefs.ErrValidationFailed)
		}
	}
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, req Request) (*Result, error) {
	s, err := o.readSpool(ctx, req.Tag)
	if err != nil {
		return nil, err
	}

	switch req.Accion {
	case machine.ActionTomar:
		return o.tomar(ctx, req, s)
	case machine.ActionPausar:
		return o.release(ctx, req, s, occupation.ReleasePause)
	case machine.ActionCompletar:
		return o.release(ctx, req, s, occupation.ReleaseComplete)
	case machine.ActionCancelar:
		return o.release(ctx, req, s, occupation.ReleaseCancel)
	case machine.ActionAprobar, machine.ActionRechazar:
		return o.metrologia(ctx, req, s)
	case AccionFinalizar:
		return o.finalizar(ctx, req, s)
	}
	return nil, fmt.Errorf("%w: unknown accion %q", errdefs.ErrValidationFailed, req.Accion)
}

// readSpool locates and binds the spool row. This is the transaction's
// first observation; ownership-mutating paths re-read under the lock.
func (o *Orchestrator) readSpool(ctx context.Context, tag string) (*spool.Spool, error) {
	row, err := o.rows.FindRowByColumn(ctx, spool.TableOperaciones, spool.ColTag, tag)
	if err != nil {
		return nil, err
	}
	cells, err := o.rows.ReadRow(ctx, spool.TableOperaciones, row)
	if err != nil {
		return nil, err
	}
	s, err := spool.FromRow(row, cells)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrValidationFailed, err)
	}
	o.detectOverride(ctx, s)
	return s, nil
}

func (o *Orchestrator) tomar(ctx context.Context, req Request, s *spool.Spool) (*Result, error) {
	if err := o.kernel.CanTomar(s, req.Worker, req.Operacion); err != nil {
		return nil, err
	}

	grant, err := o.occ.Acquire(ctx, req.Tag, s.Row, req.Worker)
	if err != nil {
		return nil, err
	}
	s = grant.Spool

	if err := o.kernel.CanTomar(s, req.Worker, req.Operacion); err != nil {
		o.occ.ReleaseLock(ctx, req.Tag, req.Worker)
		return nil, err
	}

	m := machine.Hydrate(req.Operacion, s)

	// A duplicated TOMAR by the current holder is a no-op: skipped with
	// a warning, no write, no event.
	if s.OccupiedBy(req.Worker.Canonical()) &&
		(m.State() == machine.StateEnProgreso || m.State() == machine.StateEnReparacion) {
		return &Result{
			Estado:   s.EstadoDetalle,
			Token:    grant.Token,
			Warnings: []string{fmt.Sprintf("%s already in progress on %q; request skipped", req.Operacion, s.Tag)},
		}, nil
	}

	now := o.clk.Now()
	in := machine.TransitionContext{Worker: req.Worker, Now: now, Cycle: cycle.Extract(s.EstadoDetalle)}
	eff := machine.NewEffects()
	if err := m.Fire(machine.ActionTomar, s, in, eff); err != nil {
		o.occ.ReleaseLock(ctx, req.Tag, req.Worker)
		return nil, err
	}
	o.occ.StageOccupy(eff, req.Worker, now)
	if !eff.Has(spool.ColEstadoDetalle) {
		eff.Set(spool.ColEstadoDetalle, Render(applyEffects(s, eff)))
	}

	if _, err := o.occ.Commit(ctx, s.Row, s.Version, eff); err != nil {
		o.occ.ReleaseLock(ctx, req.Tag, req.Worker)
		return nil, err
	}

	estado, _ := eff.Get(spool.ColEstadoDetalle)
	warnings := o.emit(ctx, o.event(kindFor(req.Operacion, machine.ActionTomar), req, s.Tag, now, estado, nil))
	return &Result{Estado: estado, Token: grant.Token, Warnings: warnings}, nil
}

// release handles pausar, completar and cancelar. PAUSAR on ARM and
// SOLD is occupation-only: the in-progress witnesses stay and the
// paused state is re-derived from them on the next hydration.
// REPARACION pauses through a real transition, and completar and
// cancelar always fire one.
func (o *Orchestrator) release(ctx context.Context, req Request, s *spool.Spool, mode occupation.ReleaseMode) (*Result, error) {
	// A duplicated COMPLETAR arriving after the first one landed finds
	// the spool released and the stage done. Mirror the duplicate-TOMAR
	// path: skipped with a warning, no write, no event.
	if req.Accion == machine.ActionCompletar && !s.Occupied() {
		st := machine.Hydrate(req.Operacion, s).State()
		if st == machine.StateCompletado ||
			(req.Operacion == machine.OpReparacion && st == machine.StatePendienteMetrologia) {
			return &Result{
				Estado:   s.EstadoDetalle,
				Warnings: []string{fmt.Sprintf("%s already completed on %q; request skipped", req.Operacion, s.Tag)},
			}, nil
		}
	}

	var err error
	if req.Accion == machine.ActionCancelar {
		err = o.kernel.CanCancelar(s, req.Worker, req.Operacion)
	} else {
		err = o.kernel.CanPausarOrCompletar(s, req.Worker)
	}
	if err != nil {
		return nil, err
	}

	if err := o.occ.Verify(ctx, req.Tag, req.Worker, req.Token, s); err != nil {
		return nil, err
	}

	now := o.clk.Now()
	in := machine.TransitionContext{Worker: req.Worker, Now: now, Cycle: cycle.Extract(s.EstadoDetalle)}
	eff := machine.NewEffects()
	m := machine.Hydrate(req.Operacion, s)

	if req.Operacion == machine.OpReparacion || req.Accion != machine.ActionPausar {
		if err := m.Fire(req.Accion, s, in, eff); err != nil {
			return nil, err
		}
	} else if m.State() != machine.StateEnProgreso {
		return nil, fmt.Errorf("%w: %s on %q is %s, nothing to pause", errdefs.ErrValidationFailed, req.Operacion, s.Tag, m.State())
	}

	o.occ.StageRelease(eff, mode)
	if !eff.Has(spool.ColEstadoDetalle) {
		eff.Set(spool.ColEstadoDetalle, Render(applyEffects(s, eff)))
	}

	if _, err := o.occ.Commit(ctx, s.Row, s.Version, eff); err != nil {
		return nil, err
	}
	o.occ.ReleaseLock(ctx, req.Tag, req.Worker)

	estado, _ := eff.Get(spool.ColEstadoDetalle)
	warnings := o.emit(ctx, o.event(kindFor(req.Operacion, req.Accion), req, s.Tag, now, estado, nil))
	return &Result{Estado: estado, Warnings: warnings}, nil
}

// metrologia records an inspection verdict. Inspection never occupies
// the spool; the version precondition alone guards the write.
func (o *Orchestrator) metrologia(ctx context.Context, req Request, s *spool.Spool) (*Result, error) {
	if err := o.kernel.CanMetrologia(s, req.Worker); err != nil {
		return nil, err
	}

	now := o.clk.Now()
	in := machine.TransitionContext{Worker: req.Worker, Now: now, Cycle: cycle.Extract(s.EstadoDetalle)}
	eff := machine.NewEffects()
	m := machine.Hydrate(machine.OpMetrologia, s)
	if err := m.Fire(req.Accion, s, in, eff); err != nil {
		return nil, err
	}

	if _, err := o.occ.Commit(ctx, s.Row, s.Version, eff); err != nil {
		return nil, err
	}

	estado, _ := eff.Get(spool.ColEstadoDetalle)
	warnings := o.emit(ctx, o.event(eventlog.KindCompletarMetrologia, req, s.Tag, now, estado, nil))
	return &Result{Estado: estado, Warnings: warnings}, nil
}

// kindFor maps (operation, action) to the journal kind. Requests reach
// this only after checkRequest, so the zero kind is unreachable.
func kindFor(op machine.Operation, a machine.Action) eventlog.Kind {
	if op == machine.OpReparacion {
		switch a {
		case machine.ActionTomar:
			return eventlog.KindTomarReparacion
		case machine.ActionPausar:
			return eventlog.KindPausarReparacion
		case machine.ActionCompletar:
			return eventlog.KindCompletarReparacion
		case machine.ActionCancelar:
			return eventlog.KindCancelarReparacion
		}
	}
	switch a {
	case machine.ActionTomar:
		return eventlog.KindTomarSpool
	case machine.ActionPausar:
		return eventlog.KindPausarSpool
	case machine.ActionCompletar:
		if op == machine.OpSOLD {
			return eventlog.KindCompletarSOLD
		}
		return eventlog.KindCompletarARM
	case machine.ActionCancelar:
		return eventlog.KindSpoolCancelado
	case machine.ActionAprobar, machine.ActionRechazar:
		return eventlog.KindCompletarMetrologia
	}
	return ""
}

// event builds one journal entry for the request. The written display
// rides in metadata so override detection can compare the last journaled
// estado against the current row.
func (o *Orchestrator) event(kind eventlog.Kind, req Request, tag string, now time.Time, estado string, nUnion *int) eventlog.Event {
	meta, _ := json.Marshal(map[string]string{"estado": estado})
	return eventlog.Event{
		ID:             uuid.NewString(),
		Timestamp:      now,
		Kind:           kind,
		Tag:            tag,
		WorkerID:       req.Worker.ID,
		WorkerName:     req.Worker.Name,
		Operacion:      string(req.Operacion),
		Accion:         string(req.Accion),
		FechaOperacion: spool.FormatDate(now),
		MetadataJSON:   string(meta),
		NUnion:         nUnion,
	}
}

// emit journals events with a short bounded retry. The row write has
// already landed; a journal failure is reported as a warning and never
// reverses the transition.
func (o *Orchestrator) emit(ctx context.Context, events ...eventlog.Event) []string {
	const attempts = 3

	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = o.events.Append(ctx, events)
		if lastErr == nil {
			return nil
		}
		if i == attempts-1 || ctx.Err() != nil {
			break
		}
		o.met.EventRetries.Inc()
		select {
		case <-o.clk.After(time.Duration(i+1) * 200 * time.Millisecond):
		case <-ctx.Done():
		}
	}
	o.log.Error(lastErr, "event emission failed after row write", "events", len(events))
	return []string{"event journal append failed; audit trail may lag"}
}

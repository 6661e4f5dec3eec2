package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/juju/clock"

	"github.com/fabriaustral/tallerflow/internal/taller/errdefs"
	"github.com/fabriaustral/tallerflow/internal/taller/eventlog"
	"github.com/fabriaustral/tallerflow/internal/taller/lock"
	"github.com/fabriaustral/tallerflow/internal/taller/machine"
	"github.com/fabriaustral/tallerflow/internal/taller/metrics"
	"github.com/fabriaustral/tallerflow/internal/taller/occupation"
	"github.com/fabriaustral/tallerflow/internal/taller/rowstore"
	"github.com/fabriaustral/tallerflow/internal/taller/spool"
	"github.com/fabriaustral/tallerflow/internal/taller/validate"
)

var (
	mr = spool.WorkerRef{ID: 93, Name: "María Rojas", Initials: "MR"}
	jp = spool.WorkerRef{ID: 7, Name: "Juan Pérez", Initials: "JP"}
	qc = spool.WorkerRef{ID: 5, Name: "Inspector QC", Initials: "QC",
		Roles: map[string]bool{spool.RoleMetrologia: true}}
)

type harness struct {
	orc    *Orchestrator
	rows   *rowstore.Memory
	events *eventlog.Store
	locks  *lock.Memory
	row    int
}

// newHarness wires the full pipeline over in-memory backends with one
// seeded spool.
func newHarness(t *testing.T, seed []string) *harness {
	t.Helper()
	mem := rowstore.NewMemory()
	mem.CreateTable(spool.TableOperaciones, spool.RequiredColumns)
	mem.CreateTable(spool.TableUniones, spool.RequiredUnionColumns)
	mem.CreateTable(eventlog.Table, eventlog.Columns)
	row, err := mem.AddRow(spool.TableOperaciones, seed)
	if err != nil {
		t.Fatalf("AddRow: %v", err)
	}

	locks := lock.NewMemory(clock.WallClock)
	events := eventlog.New(mem, logr.Discard())
	occ := occupation.New(locks, mem, clock.WallClock, logr.Discard(), time.Hour)
	kernel := validate.New(validate.Policy{})
	orc := New(mem, events, occ, kernel, clock.WallClock, logr.Discard(), metrics.NewNop())

	return &harness{orc: orc, rows: mem, events: events, locks: locks, row: row}
}

func freeSpool(tag string) []string {
	// Tag, OT, Total_Uniones, Ocupado_Por, Fecha_Ocupacion, Version,
	// Estado_Detalle, Armador, Fecha_Armado, Soldador, Fecha_Soldadura,
	// Fecha_QC_Metrologia
	return []string{tag, "OT-100", "0", "", "", "v0", "PENDIENTE", "", "", "", "", ""}
}

func weldedSpool(tag string) []string {
	return []string{tag, "OT-100", "0", "", "", "v0", "PENDIENTE_METROLOGIA",
		"MR(93)", "01-08-2026", "JP(7)", "02-08-2026", ""}
}

func (h *harness) do(t *testing.T, req Request) *Result {
	t.Helper()
	res, err := h.orc.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do(%s %s on %s): %v", req.Accion, req.Operacion, req.Tag, err)
	}
	return res
}

func (h *harness) eventKinds(t *testing.T, tag string) []eventlog.Kind {
	t.Helper()
	events, err := h.events.ByTag(context.Background(), tag)
	if err != nil {
		t.Fatalf("ByTag: %v", err)
	}
	kinds := make([]eventlog.Kind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (h *harness) estado(t *testing.T) string {
	t.Helper()
	cells, err := h.rows.ReadRow(context.Background(), spool.TableOperaciones, h.row)
	if err != nil {
		t.Fatalf("ReadRow: %v", err)
	}
	return cells[spool.ColEstadoDetalle]
}

func TestARMLifecycle(t *testing.T) {
	h := newHarness(t, freeSpool("SP-001"))

	res := h.do(t, Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: mr})
	if res.Estado != "ARM_EN_PROGRESO - Ocupado: MR(93)" {
		t.Errorf("tomar estado = %q", res.Estado)
	}
	if res.Token == "" {
		t.Fatal("tomar must return an ownership token")
	}
	if h.estado(t) != res.Estado {
		t.Errorf("row estado = %q, want the returned display", h.estado(t))
	}

	res = h.do(t, Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionPausar, Worker: mr, Token: res.Token})
	if res.Estado != "ARM_PAUSADO" {
		t.Errorf("pausar estado = %q", res.Estado)
	}

	// Another worker resumes; ownership of the work follows the resume.
	res = h.do(t, Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: jp})
	if res.Estado != "ARM_EN_PROGRESO - Ocupado: JP(7)" {
		t.Errorf("resume estado = %q", res.Estado)
	}

	res = h.do(t, Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionCompletar, Worker: jp, Token: res.Token})
	if res.Estado != "ARM_COMPLETADO" {
		t.Errorf("completar estado = %q", res.Estado)
	}

	cells, _ := h.rows.ReadRow(context.Background(), spool.TableOperaciones, h.row)
	if cells[spool.ColArmador] != "JP(7)" {
		t.Errorf("armador = %q, want the resuming worker", cells[spool.ColArmador])
	}
	if cells[spool.ColFechaArmado] == "" {
		t.Error("fecha armado not recorded")
	}
	if cells[spool.ColOcupadoPor] != "" {
		t.Error("spool still occupied after completar")
	}

	want := []eventlog.Kind{
		eventlog.KindTomarSpool, eventlog.KindPausarSpool,
		eventlog.KindTomarSpool, eventlog.KindCompletarARM,
	}
	got := h.eventKinds(t, "SP-001")
	if len(got) != len(want) {
		t.Fatalf("event kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDuplicateTomarIsNoOp(t *testing.T) {
	h := newHarness(t, freeSpool("SP-001"))

	first := h.do(t, Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: mr})
	second := h.do(t, Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: mr})

	if second.Estado != first.Estado {
		t.Errorf("duplicate estado = %q, want %q", second.Estado, first.Estado)
	}
	if second.Token == "" {
		t.Error("duplicate must still return a usable token")
	}
	if len(second.Warnings) != 1 {
		t.Errorf("warnings = %v, want the skip notice", second.Warnings)
	}
	if kinds := h.eventKinds(t, "SP-001"); len(kinds) != 1 {
		t.Errorf("events = %v, duplicate must not journal", kinds)
	}
}

func TestDuplicateCompletarIsNoOp(t *testing.T) {
	h := newHarness(t, freeSpool("SP-001"))

	res := h.do(t, Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: mr})
	first := h.do(t, Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionCompletar, Worker: mr, Token: res.Token})
	if first.Estado != "ARM_COMPLETADO" {
		t.Fatalf("completar estado = %q", first.Estado)
	}

	// A network retry replays the same COMPLETAR after the lock is gone.
	second := h.do(t, Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionCompletar, Worker: mr, Token: res.Token})
	if second.Estado != "ARM_COMPLETADO" {
		t.Errorf("duplicate estado = %q, want the completed display", second.Estado)
	}
	if len(second.Warnings) != 1 {
		t.Errorf("warnings = %v, want the skip notice", second.Warnings)
	}
	if kinds := h.eventKinds(t, "SP-001"); len(kinds) != 2 {
		t.Errorf("events = %v, duplicate must not journal", kinds)
	}
	if h.estado(t) != "ARM_COMPLETADO" {
		t.Errorf("row estado = %q, duplicate must not write", h.estado(t))
	}
}

func TestSOLDDependencyRejectedWithoutWrite(t *testing.T) {
	h := newHarness(t, freeSpool("SP-001"))

	_, err := h.orc.Do(context.Background(), Request{
		Tag: "SP-001", Operacion: machine.OpSOLD, Accion: machine.ActionTomar, Worker: jp,
	})
	if !errors.Is(err, errdefs.ErrDependenciesNotSatisfied) {
		t.Fatalf("err = %v, want DependenciesNotSatisfied", err)
	}
	if h.estado(t) != "PENDIENTE" {
		t.Errorf("estado = %q, rejected request must not write", h.estado(t))
	}
	if kinds := h.eventKinds(t, "SP-001"); len(kinds) != 0 {
		t.Errorf("events = %v, rejected request must not journal", kinds)
	}
	if _, held, _ := h.locks.Inspect(context.Background(), "SP-001"); held {
		t.Error("lock left behind by rejected request")
	}
}

func TestTomarOccupiedByOther(t *testing.T) {
	h := newHarness(t, freeSpool("SP-001"))
	h.do(t, Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: mr})

	_, err := h.orc.Do(context.Background(), Request{
		Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: jp,
	})
	if !errors.Is(err, errdefs.ErrSpoolOccupied) {
		t.Fatalf("err = %v, want SpoolOccupied", err)
	}
	var occ *errdefs.OccupiedError
	if !errors.As(err, &occ) || occ.Holder != "MR(93)" {
		t.Errorf("holder not reported: %v", err)
	}
}

func TestReleaseRequiresHolderAndToken(t *testing.T) {
	h := newHarness(t, freeSpool("SP-001"))
	res := h.do(t, Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: mr})

	_, err := h.orc.Do(context.Background(), Request{
		Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionPausar, Worker: jp, Token: res.Token,
	})
	if !errors.Is(err, errdefs.ErrForbidden) {
		t.Fatalf("non-holder err = %v, want Forbidden", err)
	}

	_, err = h.orc.Do(context.Background(), Request{
		Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionPausar, Worker: mr, Token: "stale-token",
	})
	if !errors.Is(err, errdefs.ErrGone) {
		t.Fatalf("stale token err = %v, want Gone", err)
	}
}

func TestMetrologiaAprobar(t *testing.T) {
	h := newHarness(t, weldedSpool("SP-001"))

	res := h.do(t, Request{Tag: "SP-001", Operacion: machine.OpMetrologia, Accion: machine.ActionAprobar, Worker: qc})
	if res.Estado != "METROLOGIA_APROBADO ✓" {
		t.Errorf("estado = %q", res.Estado)
	}

	cells, _ := h.rows.ReadRow(context.Background(), spool.TableOperaciones, h.row)
	if cells[spool.ColFechaQCMetrologia] == "" {
		t.Error("inspection date not recorded")
	}
	if kinds := h.eventKinds(t, "SP-001"); len(kinds) != 1 || kinds[0] != eventlog.KindCompletarMetrologia {
		t.Errorf("events = %v", kinds)
	}
}

// Three rejections with repairs in between exhaust the rework budget
// and block the spool.
func TestReworkLoopBlocksAfterThreeRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, weldedSpool("SP-001"))

	rechazar := Request{Tag: "SP-001", Operacion: machine.OpMetrologia, Accion: machine.ActionRechazar, Worker: qc}

	res := h.do(t, rechazar)
	if res.Estado != "RECHAZADO (Ciclo 1/3) - Pendiente reparación" {
		t.Fatalf("first rejection estado = %q", res.Estado)
	}

	for c := 1; c <= 2; c++ {
		res = h.do(t, Request{Tag: "SP-001", Operacion: machine.OpReparacion, Accion: machine.ActionTomar, Worker: jp})
		want := fmt.Sprintf("EN_REPARACION (Ciclo %d/3) - Ocupado: JP(7)", c)
		if res.Estado != want {
			t.Fatalf("repair tomar estado = %q, want %q", res.Estado, want)
		}
		res = h.do(t, Request{Tag: "SP-001", Operacion: machine.OpReparacion, Accion: machine.ActionCompletar, Worker: jp, Token: res.Token})
		want = fmt.Sprintf("PENDIENTE_METROLOGIA (Ciclo %d/3)", c)
		if res.Estado != want {
			t.Fatalf("repair completar estado = %q, want %q", res.Estado, want)
		}

		res = h.do(t, rechazar)
	}

	if res.Estado != "BLOQUEADO - Contactar supervisor" {
		t.Fatalf("third rejection estado = %q, want BLOQUEADO", res.Estado)
	}

	_, err := h.orc.Do(ctx, Request{Tag: "SP-001", Operacion: machine.OpReparacion, Accion: machine.ActionTomar, Worker: jp})
	if !errors.Is(err, errdefs.ErrSpoolBloqueado) {
		t.Fatalf("tomar on blocked spool err = %v, want SpoolBloqueado", err)
	}
}

// A supervisor editing a BLOQUEADO display out of band is detected on
// the next read and journaled exactly once.
func TestSupervisorOverrideDetection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, weldedSpool("SP-001"))

	rechazar := Request{Tag: "SP-001", Operacion: machine.OpMetrologia, Accion: machine.ActionRechazar, Worker: qc}
	h.do(t, rechazar)
	for i := 0; i < 2; i++ {
		res := h.do(t, Request{Tag: "SP-001", Operacion: machine.OpReparacion, Accion: machine.ActionTomar, Worker: jp})
		h.do(t, Request{Tag: "SP-001", Operacion: machine.OpReparacion, Accion: machine.ActionCompletar, Worker: jp, Token: res.Token})
		h.do(t, rechazar)
	}
	if h.estado(t) != "BLOQUEADO - Contactar supervisor" {
		t.Fatalf("estado = %q, want BLOQUEADO", h.estado(t))
	}

	// Out-of-band supervisor edit: grant one more repair cycle.
	if err := h.rows.UpdateCell(ctx, spool.TableOperaciones, h.row, spool.ColEstadoDetalle,
		"RECHAZADO (Ciclo 2/3) - Pendiente reparación"); err != nil {
		t.Fatalf("UpdateCell: %v", err)
	}

	res := h.do(t, Request{Tag: "SP-001", Operacion: machine.OpReparacion, Accion: machine.ActionTomar, Worker: jp})
	if res.Estado != "EN_REPARACION (Ciclo 2/3) - Ocupado: JP(7)" {
		t.Errorf("tomar after override estado = %q", res.Estado)
	}

	overrides := 0
	events, _ := h.events.ByTag(ctx, "SP-001")
	for _, e := range events {
		if e.Kind == eventlog.KindSupervisorOverride {
			overrides++
			if e.WorkerID != 0 || e.WorkerName != "SYSTEM" {
				t.Errorf("override attribution = %d/%q, want 0/SYSTEM", e.WorkerID, e.WorkerName)
			}
		}
	}
	if overrides != 1 {
		t.Fatalf("override events = %d, want exactly 1", overrides)
	}

	// Further reads must not re-trigger detection.
	h.do(t, Request{Tag: "SP-001", Operacion: machine.OpReparacion, Accion: machine.ActionPausar, Worker: jp, Token: res.Token})
	overrides = 0
	events, _ = h.events.ByTag(ctx, "SP-001")
	for _, e := range events {
		if e.Kind == eventlog.KindSupervisorOverride {
			overrides++
		}
	}
	if overrides != 1 {
		t.Errorf("override events after second request = %d, want still 1", overrides)
	}
}

// conflictingStore injects version conflicts into the first n batch
// writes.
type conflictingStore struct {
	rowstore.Store
	remaining int
	calls     int
}

func (c *conflictingStore) BatchUpdate(ctx context.Context, cells []rowstore.Cell, pre *rowstore.Precondition) error {
	c.calls++
	if c.remaining > 0 {
		c.remaining--
		return errdefs.ErrVersionConflict
	}
	return c.Store.BatchUpdate(ctx, cells, pre)
}

func TestVersionConflictRetriedOnce(t *testing.T) {
	mem := rowstore.NewMemory()
	mem.CreateTable(spool.TableOperaciones, spool.RequiredColumns)
	mem.CreateTable(spool.TableUniones, spool.RequiredUnionColumns)
	mem.CreateTable(eventlog.Table, eventlog.Columns)
	if _, err := mem.AddRow(spool.TableOperaciones, freeSpool("SP-001")); err != nil {
		t.Fatalf("AddRow: %v", err)
	}

	store := &conflictingStore{Store: mem, remaining: 1}
	locks := lock.NewMemory(clock.WallClock)
	events := eventlog.New(store, logr.Discard())
	occ := occupation.New(locks, store, clock.WallClock, logr.Discard(), time.Hour)
	orc := New(store, events, occ, validate.New(validate.Policy{}), clock.WallClock, logr.Discard(), metrics.NewNop())

	res, err := orc.Do(context.Background(), Request{
		Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: mr,
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Estado != "ARM_EN_PROGRESO - Ocupado: MR(93)" {
		t.Errorf("estado = %q", res.Estado)
	}
	if store.calls != 2 {
		t.Errorf("batch calls = %d, want 2 (conflict then retry)", store.calls)
	}

	store.remaining = 2
	_, err = orc.Do(context.Background(), Request{
		Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionPausar, Worker: mr, Token: res.Token,
	})
	if !errors.Is(err, errdefs.ErrVersionConflict) {
		t.Fatalf("err = %v, a second consecutive conflict must surface", err)
	}
}

// failingLog always fails to append.
type failingLog struct{}

func (failingLog) Append(context.Context, []eventlog.Event) error {
	return errors.New("journal unavailable")
}
func (failingLog) ByTag(context.Context, string) ([]eventlog.Event, error) { return nil, nil }
func (failingLog) LastByTag(context.Context, string) (eventlog.Event, bool, error) {
	return eventlog.Event{}, false, nil
}

func TestJournalFailureWarnsWithoutReversingWrite(t *testing.T) {
	mem := rowstore.NewMemory()
	mem.CreateTable(spool.TableOperaciones, spool.RequiredColumns)
	row, _ := mem.AddRow(spool.TableOperaciones, freeSpool("SP-001"))

	locks := lock.NewMemory(clock.WallClock)
	occ := occupation.New(locks, mem, clock.WallClock, logr.Discard(), time.Hour)
	orc := New(mem, failingLog{}, occ, validate.New(validate.Policy{}), clock.WallClock, logr.Discard(), metrics.NewNop())

	res, err := orc.Do(context.Background(), Request{
		Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: mr,
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %v, want the journal lag notice", res.Warnings)
	}

	cells, _ := mem.ReadRow(context.Background(), spool.TableOperaciones, row)
	if cells[spool.ColOcupadoPor] != "MR(93)" {
		t.Error("row write reversed by journal failure")
	}
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t, freeSpool("SP-001"))
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"missing tag", Request{Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: mr}},
		{"unknown operacion", Request{Tag: "SP-001", Operacion: "PINTURA", Accion: machine.ActionTomar, Worker: mr}},
		{"aprobar on arm", Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionAprobar, Worker: qc}},
		{"tomar on metrologia", Request{Tag: "SP-001", Operacion: machine.OpMetrologia, Accion: machine.ActionTomar, Worker: qc}},
		{"finalizar on metrologia", Request{Tag: "SP-001", Operacion: machine.OpMetrologia, Accion: AccionFinalizar, Worker: mr}},
		{"anonymous worker", Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionTomar}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.orc.Do(ctx, tt.req); !errors.Is(err, errdefs.ErrValidationFailed) {
				t.Errorf("err = %v, want ValidationFailed", err)
			}
		})
	}

	if _, err := h.orc.Do(ctx, Request{Tag: "SP-404", Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: mr}); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("unknown tag err = %v, want NotFound", err)
	}
}

func TestRenderPrecedence(t *testing.T) {
	tests := []struct {
		name string
		s    spool.Spool
		want string
	}{
		{"approved wins", spool.Spool{EstadoDetalle: "METROLOGIA_APROBADO ✓", FechaQCMetrologia: "03-08-2026",
			Armador: "MR(93)", FechaArmado: "01-08-2026"}, "METROLOGIA_APROBADO ✓"},
		{"both complete pending inspection", spool.Spool{Armador: "MR(93)", FechaArmado: "01-08-2026",
			Soldador: "JP(7)", FechaSoldadura: "02-08-2026"}, "PENDIENTE_METROLOGIA"},
		{"sold in progress occupied", spool.Spool{OcupadoPor: "JP(7)", Armador: "MR(93)", FechaArmado: "01-08-2026",
			Soldador: "JP(7)"}, "SOLD_EN_PROGRESO - Ocupado: JP(7)"},
		{"arm in progress occupied", spool.Spool{OcupadoPor: "MR(93)", Armador: "MR(93)"},
			"ARM_EN_PROGRESO - Ocupado: MR(93)"},
		{"sold paused", spool.Spool{Armador: "MR(93)", FechaArmado: "01-08-2026", Soldador: "JP(7)"}, "SOLD_PAUSADO"},
		{"arm paused", spool.Spool{Armador: "MR(93)"}, "ARM_PAUSADO"},
		{"arm completado", spool.Spool{Armador: "MR(93)", FechaArmado: "01-08-2026"}, "ARM_COMPLETADO"},
		{"pendiente", spool.Spool{}, "PENDIENTE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(&tt.s); got != tt.want {
				t.Errorf("Render = %q, want %q", got, tt.want)
			}
		})
	}
}

// seedUnions adds n union rows for OT-100. assembled marks ARM done on
// all of them.
func seedUnions(t *testing.T, mem *rowstore.Memory, n int, assembled bool) {
	t.Helper()
	for i := 1; i <= n; i++ {
		armFin, armWorker := "", ""
		if assembled {
			armFin, armWorker = "01-08-2026 10:00:00", "MR(93)"
		}
		_, err := mem.AddRow(spool.TableUniones, []string{
			spool.UnionID("OT-100", i), "OT-100", strconv.Itoa(i), "1", "BW",
			"", armFin, armWorker, "", "", "", "", "", "",
		})
		if err != nil {
			t.Fatalf("AddRow union %d: %v", i, err)
		}
	}
}

func unionSpool(tag, total string) []string {
	return []string{tag, "OT-100", total, "", "", "v0", "PENDIENTE", "", "", "", "", ""}
}

func TestFinalizarPartialPauses(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, unionSpool("SP-001", "8"))
	seedUnions(t, h.rows, 8, false)

	res := h.do(t, Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: mr})

	res = h.do(t, Request{
		Tag: "SP-001", Operacion: machine.OpARM, Accion: AccionFinalizar, Worker: mr, Token: res.Token,
		Uniones: []int{3, 1, 2, 99, 1},
	})
	if res.Estado != "ARM_PAUSADO (3/8 uniones)" {
		t.Errorf("estado = %q", res.Estado)
	}
	// 99 is not part of the spool; the duplicate 1 counts once.
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %v, want one dropped-union notice", res.Warnings)
	}
	if res.Pulgadas != 3.0 {
		t.Errorf("pulgadas = %v, want 3 summed inches for the registered unions", res.Pulgadas)
	}

	for _, n := range []int{1, 2, 3} {
		row, err := h.rows.FindRowByColumn(ctx, spool.TableUniones, spool.ColNUnion, strconv.Itoa(n))
		if err != nil {
			t.Fatalf("find union %d: %v", n, err)
		}
		cells, _ := h.rows.ReadRow(ctx, spool.TableUniones, row)
		if cells[spool.ColArmFin] == "" || cells[spool.ColArmWorker] != "MR(93)" {
			t.Errorf("union %d not registered: %v", n, cells)
		}
	}

	kinds := h.eventKinds(t, "SP-001")
	want := []eventlog.Kind{
		eventlog.KindTomarSpool,
		eventlog.KindUnionARMRegistrada, eventlog.KindUnionARMRegistrada, eventlog.KindUnionARMRegistrada,
		eventlog.KindPausarSpool,
	}
	if len(kinds) != len(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestFinalizarEmptySelectionCancels(t *testing.T) {
	h := newHarness(t, unionSpool("SP-001", "4"))
	seedUnions(t, h.rows, 4, false)

	res := h.do(t, Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: mr})
	res = h.do(t, Request{
		Tag: "SP-001", Operacion: machine.OpARM, Accion: AccionFinalizar, Worker: mr, Token: res.Token,
	})
	if res.Estado != "PENDIENTE" {
		t.Errorf("estado = %q, want PENDIENTE after cancel", res.Estado)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %v, want the cancellation notice", res.Warnings)
	}

	kinds := h.eventKinds(t, "SP-001")
	if len(kinds) != 2 || kinds[1] != eventlog.KindSpoolCancelado {
		t.Errorf("event kinds = %v, want [TOMAR_SPOOL SPOOL_CANCELADO]", kinds)
	}
}

func TestFinalizarAllCompletesARM(t *testing.T) {
	h := newHarness(t, unionSpool("SP-001", "4"))
	seedUnions(t, h.rows, 4, false)

	res := h.do(t, Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: mr})
	res = h.do(t, Request{
		Tag: "SP-001", Operacion: machine.OpARM, Accion: AccionFinalizar, Worker: mr, Token: res.Token,
		Uniones: []int{1, 2, 3, 4},
	})
	if res.Estado != "ARM_COMPLETADO (4/4 uniones)" {
		t.Errorf("estado = %q", res.Estado)
	}
	if res.Pulgadas != 4.0 {
		t.Errorf("pulgadas = %v, want 4 summed inches across the spool", res.Pulgadas)
	}

	cells, _ := h.rows.ReadRow(context.Background(), spool.TableOperaciones, h.row)
	if cells[spool.ColFechaArmado] == "" {
		t.Error("spool-level fecha armado not recorded")
	}
}

func TestFinalizarLastWeldGoesToInspection(t *testing.T) {
	seed := unionSpool("SP-001", "4")
	seed[7], seed[8] = "MR(93)", "01-08-2026" // Armador, Fecha_Armado
	h := newHarness(t, seed)
	seedUnions(t, h.rows, 4, true)

	res := h.do(t, Request{Tag: "SP-001", Operacion: machine.OpSOLD, Accion: machine.ActionTomar, Worker: jp})
	res = h.do(t, Request{
		Tag: "SP-001", Operacion: machine.OpSOLD, Accion: AccionFinalizar, Worker: jp, Token: res.Token,
		Uniones: []int{1, 2, 3, 4},
	})
	if res.Estado != "PENDIENTE_METROLOGIA" {
		t.Errorf("estado = %q, want PENDIENTE_METROLOGIA when every union is welded", res.Estado)
	}

	kinds := h.eventKinds(t, "SP-001")
	if len(kinds) != 6 || kinds[5] != eventlog.KindCompletarSOLD {
		t.Errorf("event kinds = %v, want four union events then COMPLETAR_SOLD", kinds)
	}
	for _, k := range kinds[1:5] {
		if k != eventlog.KindUnionSOLDRegistrada {
			t.Errorf("union event = %s, want UNION_SOLD_REGISTRADA", k)
		}
	}
}

func TestFinalizarRejectsSpoolLevel(t *testing.T) {
	h := newHarness(t, freeSpool("SP-001"))
	res := h.do(t, Request{Tag: "SP-001", Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: mr})

	_, err := h.orc.Do(context.Background(), Request{
		Tag: "SP-001", Operacion: machine.OpARM, Accion: AccionFinalizar, Worker: mr, Token: res.Token,
		Uniones: []int{1},
	})
	if !errors.Is(err, errdefs.ErrValidationFailed) {
		t.Fatalf("err = %v, want ValidationFailed for a spool-level spool", err)
	}
}

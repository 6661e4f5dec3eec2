// Package eventlog appends and reads the append-only event journal.
// Every state-changing action in the engine produces exactly one event
// before returning success; emission is at-least-once and duplicates
// are tolerated downstream because events carry UUIDs.
package eventlog

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/fabriaustral/tallerflow/internal/taller/spool"
)

// Kind labels one journal entry. Derived from (operation, action).
type Kind string

// Event kinds emitted by the engine.
const (
	KindTomarSpool          Kind = "TOMAR_SPOOL"
	KindPausarSpool         Kind = "PAUSAR_SPOOL"
	KindCompletarARM        Kind = "COMPLETAR_ARM"
	KindCompletarSOLD       Kind = "COMPLETAR_SOLD"
	KindCompletarMetrologia Kind = "COMPLETAR_METROLOGIA"
	KindTomarReparacion     Kind = "TOMAR_REPARACION"
	KindPausarReparacion    Kind = "PAUSAR_REPARACION"
	KindCompletarReparacion Kind = "COMPLETAR_REPARACION"
	KindCancelarReparacion  Kind = "CANCELAR_REPARACION"
	KindUnionARMRegistrada  Kind = "UNION_ARM_REGISTRADA"
	KindUnionSOLDRegistrada Kind = "UNION_SOLD_REGISTRADA"
	KindSpoolCancelado      Kind = "SPOOL_CANCELADO"
	KindSupervisorOverride  Kind = "SUPERVISOR_OVERRIDE"
)

// Table is the journal's table name in the row store.
const Table = "EventLog"

// Columns is the stable column order of the journal. Ten-column rows
// written before N_Union existed remain readable.
var Columns = []string{
	"ID", "Timestamp", "Kind", "Tag", "Worker_ID", "Worker_Name",
	"Operacion", "Accion", "Fecha_Operacion", "Metadata_JSON", "N_Union",
}

// Event is one journal entry.
type Event struct {
	ID             string
	Timestamp      time.Time
	Kind           Kind
	Tag            string
	WorkerID       int
	WorkerName     string
	Operacion      string
	Accion         string
	FechaOperacion string
	MetadataJSON   string
	// NUnion is nil for spool-level events.
	NUnion *int
}

// Row encodes the event in the stable column order.
func (e Event) Row() []string {
	nUnion := ""
	if e.NUnion != nil {
		nUnion = strconv.Itoa(*e.NUnion)
	}
	return []string{
		e.ID,
		spool.FormatTimestamp(e.Timestamp),
		string(e.Kind),
		e.Tag,
		strconv.Itoa(e.WorkerID),
		e.WorkerName,
		e.Operacion,
		e.Accion,
		e.FechaOperacion,
		e.MetadataJSON,
		nUnion,
	}
}

// FromRow decodes a journal row. Rows with ten columns (written before
// the N_Union column existed) decode with NUnion nil.
func FromRow(values []string) (Event, bool) {
	if len(values) < 10 {
		return Event{}, false
	}
	get := func(i int) string {
		if i < len(values) {
			return strings.TrimSpace(values[i])
		}
		return ""
	}

	ts, err := spool.ParseTimestamp(get(1))
	if err != nil {
		return Event{}, false
	}
	workerID, _ := strconv.Atoi(get(4))

	e := Event{
		ID:             get(0),
		Timestamp:      ts,
		Kind:           Kind(get(2)),
		Tag:            get(3),
		WorkerID:       workerID,
		WorkerName:     get(5),
		Operacion:      get(6),
		Accion:         get(7),
		FechaOperacion: get(8),
		MetadataJSON:   get(9),
	}
	if raw := get(10); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			e.NUnion = &n
		}
	}
	return e, true
}

// Log is the journal contract consumed by the engine.
type Log interface {
	// Append journals events, auto-chunking large batches.
	Append(ctx context.Context, events []Event) error

	// ByTag returns all events for a spool tag in append order.
	ByTag(ctx context.Context, tag string) ([]Event, error)

	// LastByTag returns the most recent event for a tag, or false.
	LastByTag(ctx context.Context, tag string) (Event, bool, error)
}

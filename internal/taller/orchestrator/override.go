package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/fabriaustral/tallerflow/internal/taller/cycle"
	"github.com/fabriaustral/tallerflow/internal/taller/eventlog"
	"github.com/fabriaustral/tallerflow/internal/taller/spool"
)

// detectOverride compares the display journaled with the last event
// against the current row. When the journal says BLOQUEADO and the row
// no longer does, someone edited the store out of band; a single
// SUPERVISOR_OVERRIDE event records the previous/current pair. Runs on
// every row read; failures are logged and never block the request.
func (o *Orchestrator) detectOverride(ctx context.Context, s *spool.Spool) {
	last, ok, err := o.events.LastByTag(ctx, s.Tag)
	if err != nil {
		o.log.V(1).Info("override detection read failed", "tag", s.Tag, "error", err.Error())
		return
	}
	if !ok {
		return
	}
	prev := estadoFromMeta(last.MetadataJSON)
	if !cycle.IsBloqueado(prev) || cycle.IsBloqueado(s.EstadoDetalle) {
		return
	}

	now := o.clk.Now()
	meta, _ := json.Marshal(map[string]string{
		"previous":    prev,
		"current":     s.EstadoDetalle,
		"detected_at": spool.FormatTimestamp(now),
	})
	e := eventlog.Event{
		ID:             uuid.NewString(),
		Timestamp:      now,
		Kind:           eventlog.KindSupervisorOverride,
		Tag:            s.Tag,
		WorkerID:       0,
		WorkerName:     "SYSTEM",
		Operacion:      "REPARACION",
		Accion:         "override",
		FechaOperacion: spool.FormatDate(now),
		MetadataJSON:   string(meta),
	}
	if err := o.events.Append(ctx, []eventlog.Event{e}); err != nil {
		o.log.Info("supervisor override detected but journaling failed", "tag", s.Tag, "error", err.Error())
		return
	}
	o.met.Overrides.Inc()
	o.log.Info("supervisor override detected", "tag", s.Tag, "previous", prev, "current", s.EstadoDetalle)
}

// estadoFromMeta pulls the journaled display out of an event's
// metadata. Events without one (including SUPERVISOR_OVERRIDE itself)
// yield the empty string, which never re-triggers detection.
func estadoFromMeta(metaJSON string) string {
	var m struct {
		Estado string `json:"estado"`
	}
	if err := json.Unmarshal([]byte(metaJSON), &m); err != nil {
		return ""
	}
	return m.Estado
}

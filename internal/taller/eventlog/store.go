package eventlog

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/fabriaustral/tallerflow/internal/taller/colmap"
	"github.com/fabriaustral/tallerflow/internal/taller/rowstore"
)

// ChunkSize bounds one append call. Larger batches are split and each
// chunk is appended (and retried) independently.
const ChunkSize = 900

// Store journals events into a row store table. Both the Sheets and
// the in-memory backends satisfy it.
type Store struct {
	rows rowstore.Store
	log  logr.Logger
}

// New creates a journal over the given row store.
func New(rows rowstore.Store, log logr.Logger) *Store {
	return &Store{rows: rows, log: log}
}

// Append implements Log. Batches above ChunkSize are chunked; each
// chunk is one append call against the backend.
func (s *Store) Append(ctx context.Context, events []Event) error {
	for start := 0; start < len(events); start += ChunkSize {
		end := start + ChunkSize
		if end > len(events) {
			end = len(events)
		}
		chunk := make([][]string, 0, end-start)
		for _, e := range events[start:end] {
			chunk = append(chunk, e.Row())
		}
		if err := s.rows.AppendRows(ctx, Table, chunk); err != nil {
			return fmt.Errorf("append chunk of %d events: %w", len(chunk), err)
		}
	}
	return nil
}

// ByTag implements Log. Events come back in timestamp order; rows that
// fail to decode are skipped with a warning rather than failing the
// read.
func (s *Store) ByTag(ctx context.Context, tag string) ([]Event, error) {
	rows, err := s.rows.ReadAll(ctx, Table)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, row := range rows {
		values := make([]string, len(Columns))
		for i, name := range Columns {
			values[i] = cellByName(row.Cells, name)
		}
		e, ok := FromRow(values)
		if !ok {
			s.log.V(1).Info("skipping undecodable event row", "row", row.Num)
			continue
		}
		if e.Tag == tag {
			events = append(events, e)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// LastByTag implements Log.
func (s *Store) LastByTag(ctx context.Context, tag string) (Event, bool, error) {
	events, err := s.ByTag(ctx, tag)
	if err != nil {
		return Event{}, false, err
	}
	if len(events) == 0 {
		return Event{}, false, nil
	}
	return events[len(events)-1], true, nil
}

func cellByName(cells map[string]string, name string) string {
	if v, ok := cells[name]; ok {
		return v
	}
	// Backends may return headers with different casing/spacing.
	want := colmap.Normalize(name)
	for k, v := range cells {
		if colmap.Normalize(k) == want {
			return v
		}
	}
	return ""
}

// Package colmap resolves logical field names to physical column
// positions per table. All column access in the engine goes through
// this map; nothing hard-codes a column index. The mapping is built
// from the header row of each table, cached, and invalidated whenever
// the schema may have changed.
package colmap

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/fabriaustral/tallerflow/internal/taller/errdefs"
)

// HeaderReader reads the first row of a table. Implemented by the row
// store backends.
type HeaderReader interface {
	ReadHeader(ctx context.Context, table string) ([]string, error)
}

// Normalize canonicalizes a column name: lowercase, whitespace
// stripped, underscores stripped. "Fecha_Ocupacion", "fecha ocupacion"
// and "fechaocupacion" all resolve to the same key.
func Normalize(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\t", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

// Map caches normalized-name -> zero-based column index per table.
// Safe for concurrent use; concurrent cache fills for the same table
// are coalesced.
type Map struct {
	headers HeaderReader

	mu     sync.RWMutex
	tables map[string]map[string]int

	group singleflight.Group
}

// New creates a Map backed by the given header reader.
func New(headers HeaderReader) *Map {
	return &Map{
		headers: headers,
		tables:  make(map[string]map[string]int),
	}
}

// Columns returns the normalized-name -> index mapping for a table,
// reading the header row on first use.
func (m *Map) Columns(ctx context.Context, table string) (map[string]int, error) {
	m.mu.RLock()
	cols, ok := m.tables[table]
	m.mu.RUnlock()
	if ok {
		return cols, nil
	}

	v, err, _ := m.group.Do(table, func() (interface{}, error) {
		header, err := m.headers.ReadHeader(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("read header of %q: %w", table, err)
		}
		built := make(map[string]int, len(header))
		for i, name := range header {
			key := Normalize(name)
			if key == "" {
				continue
			}
			// First occurrence wins on duplicate headers.
			if _, exists := built[key]; !exists {
				built[key] = i
			}
		}
		m.mu.Lock()
		m.tables[table] = built
		m.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]int), nil
}

// Index resolves one logical name to a column index.
func (m *Map) Index(ctx context.Context, table, name string) (int, error) {
	cols, err := m.Columns(ctx, table)
	if err != nil {
		return 0, err
	}
	idx, ok := cols[Normalize(name)]
	if !ok {
		return 0, fmt.Errorf("%w: column %q in table %q", errdefs.ErrNotFound, name, table)
	}
	return idx, nil
}

// Invalidate drops the cached mapping for a table. Must be called
// after any write that could change the column layout.
func (m *Map) Invalidate(table string) {
	m.mu.Lock()
	delete(m.tables, table)
	m.mu.Unlock()
}

// ValidateRequired checks that every named column resolves in the
// table. Returns ok and the list of missing logical names.
func (m *Map) ValidateRequired(ctx context.Context, table string, names []string) (bool, []string, error) {
	cols, err := m.Columns(ctx, table)
	if err != nil {
		return false, nil, err
	}
	var missing []string
	for _, name := range names {
		if _, ok := cols[Normalize(name)]; !ok {
			missing = append(missing, name)
		}
	}
	return len(missing) == 0, missing, nil
}

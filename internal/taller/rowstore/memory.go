package rowstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fabriaustral/tallerflow/internal/taller/colmap"
	"github.com/fabriaustral/tallerflow/internal/taller/errdefs"
)

// Memory is a thread-safe in-memory Store used by tests and by the
// daemon's demo mode. It honors the same row addressing and
// precondition semantics as the Sheets backend.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*memTable

	// failWrites injects transient failures into the next N write
	// calls; used to exercise the retry wrapper.
	failWrites int
}

type memTable struct {
	header []string
	// rows maps absolute row number (>= 2) to cell values aligned
	// with the header.
	rows    map[int][]string
	nextRow int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*memTable)}
}

// CreateTable registers a table with its header row.
func (m *Memory) CreateTable(table string, header []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = &memTable{
		header:  append([]string(nil), header...),
		rows:    make(map[int][]string),
		nextRow: 2,
	}
}

// AddRow appends one row and returns its absolute row number.
func (m *Memory) AddRow(table string, values []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: table %q", errdefs.ErrNotFound, table)
	}
	row := t.nextRow
	t.nextRow++
	padded := make([]string, len(t.header))
	copy(padded, values)
	t.rows[row] = padded
	return row, nil
}

// FailNextWrites makes the next n write calls fail with a transient
// backend error.
func (m *Memory) FailNextWrites(n int) {
	m.mu.Lock()
	m.failWrites = n
	m.mu.Unlock()
}

func (m *Memory) takeFailure() bool {
	if m.failWrites > 0 {
		m.failWrites--
		return true
	}
	return false
}

func (m *Memory) table(table string) (*memTable, error) {
	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: table %q", errdefs.ErrNotFound, table)
	}
	return t, nil
}

// ReadHeader implements Store.
func (m *Memory) ReadHeader(_ context.Context, table string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.header...), nil
}

// ReadRow implements Store.
func (m *Memory) ReadRow(_ context.Context, table string, row int) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	values, ok := t.rows[row]
	if !ok {
		return nil, fmt.Errorf("%w: row %d in table %q", errdefs.ErrNotFound, row, table)
	}
	cells := make(map[string]string, len(t.header))
	for i, name := range t.header {
		if i < len(values) {
			cells[name] = values[i]
		} else {
			cells[name] = ""
		}
	}
	return cells, nil
}

// ReadAll implements Store.
func (m *Memory) ReadAll(_ context.Context, table string) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(t.rows))
	for num := 2; num < t.nextRow; num++ {
		values, ok := t.rows[num]
		if !ok {
			continue
		}
		cells := make(map[string]string, len(t.header))
		for i, name := range t.header {
			if i < len(values) {
				cells[name] = values[i]
			} else {
				cells[name] = ""
			}
		}
		rows = append(rows, Row{Num: num, Cells: cells})
	}
	return rows, nil
}

// FindRowByColumn implements Store.
func (m *Memory) FindRowByColumn(_ context.Context, table, name, value string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.table(table)
	if err != nil {
		return 0, err
	}
	idx, err := m.columnIndex(t, table, name)
	if err != nil {
		return 0, err
	}
	for num := 2; num < t.nextRow; num++ {
		values, ok := t.rows[num]
		if !ok || idx >= len(values) {
			continue
		}
		if strings.TrimSpace(values[idx]) == strings.TrimSpace(value) {
			return num, nil
		}
	}
	return 0, fmt.Errorf("%w: %s=%q in table %q", errdefs.ErrNotFound, name, value, table)
}

// UpdateCell implements Store.
func (m *Memory) UpdateCell(ctx context.Context, table string, row int, name, value string) error {
	return m.BatchUpdate(ctx, []Cell{{Table: table, Row: row, Name: name, Value: value}}, nil)
}

// BatchUpdate implements Store. All cells are applied atomically under
// the store mutex; a failed precondition mutates nothing.
func (m *Memory) BatchUpdate(_ context.Context, cells []Cell, pre *Precondition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.takeFailure() {
		return fmt.Errorf("%w: injected write failure", errdefs.ErrTransientBackend)
	}

	if pre != nil {
		t, err := m.table(pre.Table)
		if err != nil {
			return err
		}
		idx, err := m.columnIndex(t, pre.Table, pre.Name)
		if err != nil {
			return err
		}
		values, ok := t.rows[pre.Row]
		if !ok {
			return fmt.Errorf("%w: row %d in table %q", errdefs.ErrNotFound, pre.Row, pre.Table)
		}
		current := ""
		if idx < len(values) {
			current = values[idx]
		}
		if strings.TrimSpace(current) != strings.TrimSpace(pre.Expect) {
			return fmt.Errorf("%w: %s is %q, expected %q", errdefs.ErrVersionConflict, pre.Name, current, pre.Expect)
		}
	}

	for _, c := range cells {
		t, err := m.table(c.Table)
		if err != nil {
			return err
		}
		idx, err := m.columnIndex(t, c.Table, c.Name)
		if err != nil {
			return err
		}
		values, ok := t.rows[c.Row]
		if !ok {
			return fmt.Errorf("%w: row %d in table %q", errdefs.ErrNotFound, c.Row, c.Table)
		}
		for idx >= len(values) {
			values = append(values, "")
		}
		values[idx] = c.Value
		t.rows[c.Row] = values
	}
	return nil
}

// AppendRows implements Store.
func (m *Memory) AppendRows(_ context.Context, table string, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.takeFailure() {
		return fmt.Errorf("%w: injected write failure", errdefs.ErrTransientBackend)
	}

	t, err := m.table(table)
	if err != nil {
		return err
	}
	for _, values := range rows {
		padded := make([]string, len(t.header))
		copy(padded, values)
		t.rows[t.nextRow] = padded
		t.nextRow++
	}
	return nil
}

func (m *Memory) columnIndex(t *memTable, table, name string) (int, error) {
	want := colmap.Normalize(name)
	for i, header := range t.header {
		if colmap.Normalize(header) == want {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: column %q in table %q", errdefs.ErrNotFound, name, table)
}

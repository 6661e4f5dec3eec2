package rowstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/api/sheets/v4"

	"github.com/fabriaustral/tallerflow/internal/taller/colmap"
	"github.com/fabriaustral/tallerflow/internal/taller/errdefs"
)

// Sheets is the production Store backed by a Google Sheets
// spreadsheet. Each table is one sheet (tab); row 1 is the header.
//
// worksheet batch_update and append_rows are the ultimate primitives:
// BatchUpdate sends one ValueRange per cell inside a single
// BatchUpdateValues call, AppendRows sends a single Append call.
type Sheets struct {
	svc           *sheets.Service
	spreadsheetID string

	// cols caches header-row name resolution per table; every column
	// access goes through it so one header read serves a whole session
	// of writes.
	cols *colmap.Map

	// read_all cache, invalidated on any write to the same table.
	mu    sync.Mutex
	cache map[string][]Row
}

// NewSheets wraps an authenticated Sheets service for one spreadsheet.
func NewSheets(svc *sheets.Service, spreadsheetID string) *Sheets {
	s := &Sheets{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		cache:         make(map[string][]Row),
	}
	s.cols = colmap.New(s)
	return s
}

// ReadHeader implements Store.
func (s *Sheets) ReadHeader(ctx context.Context, table string) ([]string, error) {
	resp, err := s.svc.Spreadsheets.Values.
		Get(s.spreadsheetID, fmt.Sprintf("'%s'!1:1", table)).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: read header of %q: %v", errdefs.ErrTransientBackend, table, err)
	}
	if len(resp.Values) == 0 {
		return nil, fmt.Errorf("%w: table %q has no header row", errdefs.ErrNotFound, table)
	}
	return toStrings(resp.Values[0]), nil
}

// ReadRow implements Store. Cell keys are normalized column names,
// resolved through the cached column map.
func (s *Sheets) ReadRow(ctx context.Context, table string, row int) (map[string]string, error) {
	cols, err := s.cols.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	resp, err := s.svc.Spreadsheets.Values.
		Get(s.spreadsheetID, fmt.Sprintf("'%s'!%d:%d", table, row, row)).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: read row %d of %q: %v", errdefs.ErrTransientBackend, row, table, err)
	}
	if len(resp.Values) == 0 {
		return nil, fmt.Errorf("%w: row %d in table %q", errdefs.ErrNotFound, row, table)
	}
	values := toStrings(resp.Values[0])
	return cellsFromValues(cols, values), nil
}

// ReadAll implements Store. Results are cached until the next write to
// the same table.
func (s *Sheets) ReadAll(ctx context.Context, table string) ([]Row, error) {
	s.mu.Lock()
	cached, ok := s.cache[table]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	cols, err := s.cols.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	resp, err := s.svc.Spreadsheets.Values.
		Get(s.spreadsheetID, fmt.Sprintf("'%s'!A2:ZZ", table)).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: read all of %q: %v", errdefs.ErrTransientBackend, table, err)
	}

	rows := make([]Row, 0, len(resp.Values))
	for i, raw := range resp.Values {
		rows = append(rows, Row{Num: i + 2, Cells: cellsFromValues(cols, toStrings(raw))})
	}

	s.mu.Lock()
	s.cache[table] = rows
	s.mu.Unlock()
	return rows, nil
}

// FindRowByColumn implements Store.
func (s *Sheets) FindRowByColumn(ctx context.Context, table, name, value string) (int, error) {
	rows, err := s.ReadAll(ctx, table)
	if err != nil {
		return 0, err
	}
	want := strings.TrimSpace(value)
	key := colmap.Normalize(name)
	for _, row := range rows {
		for cellName, cellValue := range row.Cells {
			if colmap.Normalize(cellName) == key && strings.TrimSpace(cellValue) == want {
				return row.Num, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %s=%q in table %q", errdefs.ErrNotFound, name, value, table)
}

// UpdateCell implements Store.
func (s *Sheets) UpdateCell(ctx context.Context, table string, row int, name, value string) error {
	idx, err := s.columnIndex(ctx, table, name)
	if err != nil {
		return err
	}
	rangeRef := fmt.Sprintf("'%s'!%s%d", table, columnLetter(idx), row)
	_, err = s.svc.Spreadsheets.Values.
		Update(s.spreadsheetID, rangeRef, &sheets.ValueRange{Values: [][]interface{}{{value}}}).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: update %s: %v", errdefs.ErrTransientBackend, rangeRef, err)
	}
	s.invalidate(table)
	return nil
}

// BatchUpdate implements Store. The precondition is checked with a
// fresh read immediately before the write; the advisory lock held by
// the coordinator makes the check-then-write window safe, the version
// token catches anything that bypassed the lock.
func (s *Sheets) BatchUpdate(ctx context.Context, cells []Cell, pre *Precondition) error {
	if pre != nil {
		current, err := s.readCell(ctx, pre.Table, pre.Row, pre.Name)
		if err != nil {
			return err
		}
		if strings.TrimSpace(current) != strings.TrimSpace(pre.Expect) {
			return fmt.Errorf("%w: %s is %q, expected %q", errdefs.ErrVersionConflict, pre.Name, current, pre.Expect)
		}
	}

	tables := make(map[string]bool, 1)
	data := make([]*sheets.ValueRange, 0, len(cells))
	for _, c := range cells {
		idx, err := s.columnIndex(ctx, c.Table, c.Name)
		if err != nil {
			return err
		}
		tables[c.Table] = true
		data = append(data, &sheets.ValueRange{
			Range:  fmt.Sprintf("'%s'!%s%d", c.Table, columnLetter(idx), c.Row),
			Values: [][]interface{}{{c.Value}},
		})
	}

	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}
	if _, err := s.svc.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("%w: batch update: %v", errdefs.ErrTransientBackend, err)
	}
	for table := range tables {
		s.invalidate(table)
	}
	return nil
}

// AppendRows implements Store.
func (s *Sheets) AppendRows(ctx context.Context, table string, rows [][]string) error {
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		values[i] = cells
	}
	_, err := s.svc.Spreadsheets.Values.
		Append(s.spreadsheetID, fmt.Sprintf("'%s'!A1", table), &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: append to %q: %v", errdefs.ErrTransientBackend, table, err)
	}
	s.invalidate(table)
	return nil
}

func (s *Sheets) readCell(ctx context.Context, table string, row int, name string) (string, error) {
	cells, err := s.ReadRow(ctx, table, row)
	if err != nil {
		return "", err
	}
	key := colmap.Normalize(name)
	for cellName, cellValue := range cells {
		if colmap.Normalize(cellName) == key {
			return cellValue, nil
		}
	}
	return "", fmt.Errorf("%w: column %q in table %q", errdefs.ErrNotFound, name, table)
}

func (s *Sheets) columnIndex(ctx context.Context, table, name string) (int, error) {
	return s.cols.Index(ctx, table, name)
}

func (s *Sheets) invalidate(table string) {
	s.cols.Invalidate(table)
	s.mu.Lock()
	delete(s.cache, table)
	s.mu.Unlock()
}

// cellsFromValues binds one raw row to normalized-name cells.
func cellsFromValues(cols map[string]int, values []string) map[string]string {
	cells := make(map[string]string, len(cols))
	for name, idx := range cols {
		if idx < len(values) {
			cells[name] = values[idx]
		} else {
			cells[name] = ""
		}
	}
	return cells
}

// columnLetter converts a zero-based column index to A1 notation.
func columnLetter(idx int) string {
	letter := ""
	for idx >= 0 {
		letter = string(rune('A'+idx%26)) + letter
		idx = idx/26 - 1
	}
	return letter
}

func toStrings(raw []interface{}) []string {
	out := make([]string, len(raw))
	for i, v := range raw {
		out[i] = fmt.Sprintf("%v", v)
	}
	return out
}

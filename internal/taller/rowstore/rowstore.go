// Package rowstore defines the contract with the row-oriented durable
// store that is the source of truth for spool state, plus its
// implementations: the Google Sheets backend used in production, an
// in-memory store for tests and demos, and a resilience wrapper that
// retries transient write failures.
//
// Rows are addressed by their absolute row number in the table; row 1
// is the header, data starts at row 2. Cells are addressed by logical
// column name, resolved through colmap. The engine never calls
// cell-per-cell writes for multi-cell operations: every multi-cell
// mutation goes through BatchUpdate as a single external call.
package rowstore

import (
	"context"
)

// Cell is one name-addressed cell mutation. Cells in a single batch
// may target different tables; the batch is still one external call.
type Cell struct {
	Table string
	Row   int
	Name  string
	Value string
}

// Precondition guards a batch write with an optimistic check: the
// named cell must still hold Expect at write time, otherwise the write
// fails with errdefs.ErrVersionConflict and nothing is mutated.
type Precondition struct {
	Table  string
	Row    int
	Name   string
	Expect string
}

// Row is one data row with its absolute row number.
type Row struct {
	Num   int
	Cells map[string]string
}

// Store is the row-store contract consumed by the engine.
type Store interface {
	// ReadHeader returns the header row of a table.
	ReadHeader(ctx context.Context, table string) ([]string, error)

	// ReadRow returns one row as a column-name -> value map.
	ReadRow(ctx context.Context, table string, row int) (map[string]string, error)

	// ReadAll returns every data row of a table.
	ReadAll(ctx context.Context, table string) ([]Row, error)

	// FindRowByColumn returns the row number of the first row whose
	// named column equals value, or errdefs.ErrNotFound.
	FindRowByColumn(ctx context.Context, table, name, value string) (int, error)

	// UpdateCell writes a single cell by column name.
	UpdateCell(ctx context.Context, table string, row int, name, value string) error

	// BatchUpdate applies all cells in one external call, optionally
	// guarded by a precondition.
	BatchUpdate(ctx context.Context, cells []Cell, pre *Precondition) error

	// AppendRows appends whole rows to the end of a table in one
	// external call.
	AppendRows(ctx context.Context, table string, rows [][]string) error
}

// Package ingest holds the small capability surface batch loading needs,
// so adapters for wider statement APIs only have to translate onto these
// four operations.
package ingest

import "context"

// Binder collects one pending row, literal by literal.
type Binder interface {
	// BindValue sets the literal for the zero-based placeholder index of the
	// pending row.
	BindValue(index int, literal string) error
	// AddRow seals the pending row into the batch and resets the bindings.
	AddRow() error
	// ClearBatch drops all buffered rows and the pending bindings.
	ClearBatch()
}

// Loader flushes the accumulated batch through the stage pipeline.
type Loader interface {
	// ExecuteBatch stages the buffered rows, executes the attached INSERT
	// and returns one update count per row.
	ExecuteBatch(ctx context.Context) ([]int64, error)
}

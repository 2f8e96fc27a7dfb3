// Package store defines the tabular store contract the retrieval stage
// reads from: column listing and projection-limited row reads.
package store

import (
	"context"
	"errors"
	"strings"
)

// ErrUnknownColumn is returned when a projection names a column that is
// not part of the live table schema. Callers are expected to pass only
// names previously returned by ListColumns, so hitting this error means
// the schema changed underneath the semantic index.
var ErrUnknownColumn = errors.New("store: unknown column")

// RowSet is a bounded sample of rows projected onto Columns. Each row
// is index-aligned with Columns.
type RowSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// TabularStore is implemented by the duckdb and postgres backends.
//
// Retrieve returns at most rowLimit rows in the store's natural order.
// Rows are not ranked for relevance, so data beyond the first rowLimit
// physical rows never reaches the generation stage.
type TabularStore interface {
	ListColumns(ctx context.Context, table string) ([]string, error)
	Retrieve(ctx context.Context, table string, columns []string, rowLimit int) (RowSet, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// QuoteIdent quotes a SQL identifier with double quotes.
func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

// NormalizeValues converts driver-specific scan results into plain
// values, mapping byte slices to strings.
func NormalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

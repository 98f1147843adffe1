package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"regenbot/internal/block"
)

// ErrNoQuery is returned when a block specification names no query.
var ErrNoQuery = errors.New("block specification has no query")

// Table is a query result: column names and rows of cell values. Every row
// has len(Columns) cells; unbound cells are empty.
type Table struct {
	Columns []string
	Rows    [][]string
}

func (t Table) Len() int { return len(t.Rows) }

// Column returns the index of the named column, or -1.
func (t Table) Column(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// Evaluator evaluates the query described by a block specification.
type Evaluator interface {
	Evaluate(ctx context.Context, spec block.Specification) (Table, error)
}

// StatusError is an unexpected HTTP status from the query endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("query endpoint returned %d", e.Code)
	}
	return fmt.Sprintf("query endpoint returned %d: %s", e.Code, e.Body)
}

// Temporary reports whether retrying later may succeed.
func (e *StatusError) Temporary() bool { return e.Code == 429 || e.Code/100 == 5 }

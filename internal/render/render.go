// Package render formats query results as block output.
package render

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"regenbot/internal/block"
	"regenbot/internal/query"
)

var ErrUnknownColumn = errors.New("unknown column")

// Renderer produces the output for one block from its query result.
type Renderer interface {
	Render(b *block.Block, t query.Table) (string, error)
}

// Dispatch sends paired blocks to Paired and self-closing blocks to
// SelfClosing.
type Dispatch struct {
	Paired      Renderer
	SelfClosing Renderer
}

func (d Dispatch) Render(b *block.Block, t query.Table) (string, error) {
	r := d.Paired
	if b.SelfClosing {
		r = d.SelfClosing
	}
	if r == nil {
		return "", fmt.Errorf("no renderer for block %q", b.Spec.Name)
	}
	return r.Render(b, t)
}

// column is one output column: a query variable and its header label.
type column struct {
	Var   string
	Label string
	idx   int
}

// selectColumns parses "var[:Label], ..." against the table. An empty
// parameter selects every column under its own name.
func selectColumns(param string, t query.Table) ([]column, error) {
	param = strings.TrimSpace(param)
	if param == "" {
		out := make([]column, len(t.Columns))
		for i, c := range t.Columns {
			out[i] = column{Var: c, Label: c, idx: i}
		}
		return out, nil
	}
	var out []column
	for _, part := range strings.Split(param, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c := column{Var: part, Label: part}
		if v, label, ok := strings.Cut(part, ":"); ok {
			c.Var, c.Label = strings.TrimSpace(v), strings.TrimSpace(label)
		}
		c.Var = strings.TrimPrefix(c.Var, "?")
		c.idx = t.Column(c.Var)
		if c.idx < 0 {
			return nil, fmt.Errorf("%w %q", ErrUnknownColumn, c.Var)
		}
		out = append(out, c)
	}
	return out, nil
}

// sortedRows returns the table rows ordered by the "sort" column. "order=desc"
// reverses. Without a sort parameter the query order is kept.
func sortedRows(spec block.Specification, t query.Table) ([][]string, error) {
	rows := t.Rows
	key, ok := spec.Param("sort")
	key = strings.TrimPrefix(strings.TrimSpace(key), "?")
	if !ok || key == "" {
		return rows, nil
	}
	idx := t.Column(key)
	if idx < 0 {
		return nil, fmt.Errorf("sort: %w %q", ErrUnknownColumn, key)
	}
	desc := false
	if o, _ := spec.Param("order"); strings.EqualFold(strings.TrimSpace(o), "desc") {
		desc = true
	}
	rows = append([][]string(nil), rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		if desc {
			return rows[i][idx] > rows[j][idx]
		}
		return rows[i][idx] < rows[j][idx]
	})
	return rows, nil
}

var entityID = regexp.MustCompile(`^[QPL][1-9][0-9]*$`)

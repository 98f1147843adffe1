package render

import (
	"encoding/json"
	"strings"

	"regenbot/internal/block"
	"regenbot/internal/query"
)

// TabularData renders Commons tabular data (Data:*.tab pages). Every field
// is typed as string.
type TabularData struct {
	License string // default CC0-1.0
}

type tabField struct {
	Name  string            `json:"name"`
	Type  string            `json:"type"`
	Title map[string]string `json:"title"`
}

type tabPage struct {
	License     string            `json:"license"`
	Description map[string]string `json:"description"`
	Schema      struct {
		Fields []tabField `json:"fields"`
	} `json:"schema"`
	Data [][]string `json:"data"`
}

func (r TabularData) Render(b *block.Block, t query.Table) (string, error) {
	spec := b.Spec
	colParam, _ := spec.Param("columns")
	cols, err := selectColumns(colParam, t)
	if err != nil {
		return "", err
	}
	rows, err := sortedRows(spec, t)
	if err != nil {
		return "", err
	}

	p := tabPage{License: r.License, Data: make([][]string, 0, len(rows))}
	if p.License == "" {
		p.License = "CC0-1.0"
	}
	desc, _ := spec.Param("description")
	if desc = strings.TrimSpace(desc); desc == "" {
		desc = "Generated from " + spec.Name
	}
	p.Description = map[string]string{"en": desc}
	p.Schema.Fields = make([]tabField, len(cols))
	for i, c := range cols {
		p.Schema.Fields[i] = tabField{Name: c.Var, Type: "string", Title: map[string]string{"en": c.Label}}
	}
	for _, row := range rows {
		out := make([]string, len(cols))
		for i, c := range cols {
			out[i] = row[c.idx]
		}
		p.Data = append(p.Data, out)
	}

	buf, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

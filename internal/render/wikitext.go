package render

import (
	"strconv"
	"strings"

	"regenbot/internal/block"
	"regenbot/internal/query"
)

const DefaultLinkPrefix = ":d:"

// Wikitext renders a sortable wikitable, or one template call per row when
// the block names a row_template.
//
// Recognised parameters: columns, sort, order, row_template,
// header_template, summary.
type Wikitext struct {
	// LinkPrefix is prepended to entity ids in links ("[[:d:Q42|Q42]]").
	// Empty links to the local wiki.
	LinkPrefix string
}

func NewWikitext(linkPrefix string) *Wikitext { return &Wikitext{LinkPrefix: linkPrefix} }

func (w *Wikitext) Render(b *block.Block, t query.Table) (string, error) {
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

	var sb strings.Builder
	if tpl, ok := spec.Param("row_template"); ok && strings.TrimSpace(tpl) != "" {
		w.writeTemplateRows(&sb, spec, strings.TrimSpace(tpl), cols, rows)
	} else {
		w.writeTable(&sb, cols, rows)
	}

	if s, ok := spec.Param("summary"); ok && strings.TrimSpace(s) != "" {
		sb.WriteString("\n----\n&sum; ")
		sb.WriteString(strconv.Itoa(len(rows)))
		if len(rows) == 1 {
			sb.WriteString(" item.")
		} else {
			sb.WriteString(" items.")
		}
	}
	return sb.String(), nil
}

func (w *Wikitext) writeTable(sb *strings.Builder, cols []column, rows [][]string) {
	sb.WriteString(`{| class="wikitable sortable"`)
	sb.WriteString("\n!")
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(" !!")
		}
		sb.WriteString(" ")
		sb.WriteString(escapeCell(c.Label))
	}
	for _, row := range rows {
		sb.WriteString("\n|-\n|")
		for i, c := range cols {
			if i > 0 {
				sb.WriteString(" ||")
			}
			sb.WriteString(" ")
			sb.WriteString(w.cell(row[c.idx]))
		}
	}
	sb.WriteString("\n|}")
}

func (w *Wikitext) writeTemplateRows(sb *strings.Builder, spec block.Specification, tpl string, cols []column, rows [][]string) {
	first := true
	if h, ok := spec.Param("header_template"); ok && strings.TrimSpace(h) != "" {
		sb.WriteString("{{")
		sb.WriteString(strings.TrimSpace(h))
		sb.WriteString("}}")
		first = false
	}
	for _, row := range rows {
		if !first {
			sb.WriteByte('\n')
		}
		first = false
		sb.WriteString("{{")
		sb.WriteString(tpl)
		for _, c := range cols {
			sb.WriteString("|")
			sb.WriteString(c.Label)
			sb.WriteString("=")
			sb.WriteString(w.cell(row[c.idx]))
		}
		sb.WriteString("}}")
	}
}

func (w *Wikitext) cell(v string) string {
	if entityID.MatchString(v) {
		return "[[" + w.LinkPrefix + v + "|" + v + "]]"
	}
	return escapeCell(v)
}

// escapeCell keeps a value from breaking table or template syntax.
func escapeCell(v string) string {
	v = strings.ReplaceAll(v, "\n", " ")
	return strings.ReplaceAll(v, "|", "{{!}}")
}

package analysis

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Markdown renders the table as a GitHub-flavoured pipe table.
func (t *Table) Markdown() string {
	var b strings.Builder
	if t.Len() == 0 {
		b.WriteString("_(no rows)_\n")
		return b.String()
	}
	writeMarkdownRow(&b, t.Columns)
	sep := make([]string, len(t.Columns))
	for i := range sep {
		sep[i] = "---"
	}
	writeMarkdownRow(&b, sep)
	for _, r := range t.Rows {
		cells := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			v, _ := r.Get(c)
			cells[i] = v.Text()
		}
		writeMarkdownRow(&b, cells)
	}
	return b.String()
}

// Markdown renders the metric-by-cohort pivot, or the cohort layout with a
// note when the comparison fell back.
func (c *Comparison) Markdown() string {
	var b strings.Builder
	if c.Fallback {
		b.WriteString(fmt.Sprintf("> No comparison: %s\n\n", c.Reason))
		if c.Control != "" {
			b.WriteString(fmt.Sprintf("Control: `%s`\n\n", c.Control))
		}
		b.WriteString(c.CohortTable().Markdown())
		return b.String()
	}
	b.WriteString(fmt.Sprintf("Control: `%s`\n\n", c.Control))
	if len(c.Rows) == 0 {
		b.WriteString("_(no comparable metrics)_\n")
		return b.String()
	}
	h := c.header()
	writeMarkdownRow(&b, h)
	sep := make([]string, len(h))
	for i := range sep {
		sep[i] = "---"
	}
	writeMarkdownRow(&b, sep)
	for _, r := range c.Rows {
		rec := r.Record()
		cells := make([]string, len(rec))
		for i, f := range rec {
			cells[i] = f.Value.Text()
		}
		writeMarkdownRow(&b, cells)
	}
	return b.String()
}

func (c *Comparison) header() []string {
	if len(c.Rows) == 0 {
		return nil
	}
	rec := c.Rows[0].Record()
	out := make([]string, len(rec))
	for i, f := range rec {
		out[i] = f.Name
	}
	return out
}

func writeMarkdownRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		b.WriteString(" ")
		b.WriteString(escapeCell(c))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

// WriteCSV writes the table with a header row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	for _, r := range t.Rows {
		rec := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			v, _ := r.Get(c)
			rec[i] = v.Text()
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSV writes the pivot, or the cohort layout on fallback.
func (c *Comparison) WriteCSV(w io.Writer) error {
	if c.Fallback {
		return c.CohortTable().WriteCSV(w)
	}
	cw := csv.NewWriter(w)
	if h := c.header(); h != nil {
		if err := cw.Write(h); err != nil {
			return err
		}
	}
	for _, r := range c.Rows {
		rec := r.Record()
		line := make([]string, len(rec))
		for i, f := range rec {
			line[i] = f.Value.Text()
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

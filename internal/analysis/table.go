package analysis

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Row is an ordered mapping of column name to cell value.
type Row struct {
	cols []string
	vals map[string]Value
}

// NewRow returns an empty row.
func NewRow() Row {
	return Row{vals: make(map[string]Value)}
}

// Set stores a value. A new column is appended; an existing one keeps its
// position and takes the new value.
func (r *Row) Set(col string, v Value) {
	if r.vals == nil {
		r.vals = make(map[string]Value)
	}
	if _, ok := r.vals[col]; !ok {
		r.cols = append(r.cols, col)
	}
	r.vals[col] = v
}

// Get returns the cell for col; ok is false when the row has no such column.
func (r Row) Get(col string) (Value, bool) {
	v, ok := r.vals[col]
	return v, ok
}

// Has reports whether the row carries col.
func (r Row) Has(col string) bool {
	_, ok := r.vals[col]
	return ok
}

// Columns returns the row's columns in insertion order.
func (r Row) Columns() []string {
	out := make([]string, len(r.cols))
	copy(out, r.cols)
	return out
}

// Len is the number of columns in the row.
func (r Row) Len() int { return len(r.cols) }

// Delete removes col from the row.
func (r *Row) Delete(col string) {
	if _, ok := r.vals[col]; !ok {
		return
	}
	delete(r.vals, col)
	for i, c := range r.cols {
		if c == col {
			r.cols = append(r.cols[:i:i], r.cols[i+1:]...)
			break
		}
	}
}

// Clone returns an independent copy.
func (r Row) Clone() Row {
	out := Row{cols: make([]string, len(r.cols)), vals: make(map[string]Value, len(r.vals))}
	copy(out.cols, r.cols)
	for k, v := range r.vals {
		out.vals[k] = v
	}
	return out
}

// MarshalJSON writes the row as an object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, c := range r.cols {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		v, err := r.vals[c].MarshalJSON()
		if err != nil {
			return nil, err
		}
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// Table is an ordered sequence of rows. Columns is the union of row keys in
// first-appearance order.
type Table struct {
	Columns []string
	Rows    []Row
}

// NewTable builds a table from rows, computing the column union.
func NewTable(rows []Row) *Table {
	t := &Table{Rows: rows}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	seen := make(map[string]struct{})
	t.Columns = t.Columns[:0]
	for _, r := range t.Rows {
		for _, c := range r.cols {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			t.Columns = append(t.Columns, c)
		}
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether any row carries col.
func (t *Table) HasColumn(col string) bool {
	if t == nil {
		return false
	}
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Clone deep-copies the table.
func (t *Table) Clone() *Table {
	out := &Table{Columns: make([]string, len(t.Columns)), Rows: make([]Row, len(t.Rows))}
	copy(out.Columns, t.Columns)
	for i, r := range t.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// Column returns every cell of col, absent where a row lacks it.
func (t *Table) Column(col string) []Value {
	out := make([]Value, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.vals[col]
	}
	return out
}

// FillAbsent replaces every missing or absent cell with numeric zero so that
// each row carries the full column set.
func (t *Table) FillAbsent() {
	for i := range t.Rows {
		r := &t.Rows[i]
		for _, c := range t.Columns {
			if v, ok := r.vals[c]; !ok || v.IsAbsent() {
				r.Set(c, Number(0))
			}
		}
		// keep row order aligned with the table's column order
		r.cols = append(r.cols[:0], t.Columns...)
	}
}

// TrimColumnNames strips surrounding whitespace from column names. When two
// names collapse onto one, the later cell wins.
func (t *Table) TrimColumnNames() {
	changed := false
	for _, c := range t.Columns {
		if strings.TrimSpace(c) != c {
			changed = true
			break
		}
	}
	if !changed {
		return
	}
	for i, r := range t.Rows {
		nr := NewRow()
		for _, c := range r.cols {
			nr.Set(strings.TrimSpace(c), r.vals[c])
		}
		t.Rows[i] = nr
	}
	t.reindex()
}

// DropColumns removes the named columns from every row.
func (t *Table) DropColumns(cols ...string) []string {
	var dropped []string
	for _, c := range cols {
		if !t.HasColumn(c) {
			continue
		}
		for i := range t.Rows {
			t.Rows[i].Delete(c)
		}
		dropped = append(dropped, c)
	}
	if len(dropped) > 0 {
		t.reindex()
	}
	return dropped
}

// Records returns the rows; JSON-encoding the result yields an ordered
// sequence of field maps.
func (t *Table) Records() []Row {
	if t == nil {
		return nil
	}
	return t.Rows
}

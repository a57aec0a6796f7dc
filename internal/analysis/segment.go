package analysis

import (
	"fmt"
	"strings"
)

// Segment is the subset of rows sharing one combination of dimension values.
type Segment struct {
	Dimensions []string
	Values     []Value
	Table      *Table
}

// Name renders the segment key as "dim = value, dim2 = value2".
func (s Segment) Name() string {
	parts := make([]string, len(s.Dimensions))
	for i, d := range s.Dimensions {
		var v string
		if i < len(s.Values) {
			v = s.Values[i].Text()
		}
		parts[i] = fmt.Sprintf("%s = %s", d, v)
	}
	return strings.Join(parts, ", ")
}

// Key returns the segment's dimension values keyed by dimension name.
func (s Segment) Key() map[string]string {
	out := make(map[string]string, len(s.Dimensions))
	for i, d := range s.Dimensions {
		if i < len(s.Values) {
			out[d] = s.Values[i].Text()
		}
	}
	return out
}

// SegmentTable partitions t by the distinct value tuples of dimensions, in
// order of first appearance. Rows keep their relative order within each
// segment; every row lands in exactly one segment.
func SegmentTable(t *Table, dimensions []string) ([]Segment, error) {
	if len(dimensions) == 0 {
		return nil, &NoDimensionsError{}
	}
	var missing []string
	for _, d := range dimensions {
		if !t.HasColumn(d) {
			missing = append(missing, d)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnError{Columns: missing}
	}

	index := make(map[string]int)
	var segs []Segment
	var rows [][]Row
	for _, r := range t.Rows {
		vals := make([]Value, len(dimensions))
		var key strings.Builder
		for i, d := range dimensions {
			v, _ := r.Get(d)
			vals[i] = v
			k := v.key()
			// length prefix keeps tuples unambiguous whatever the values contain
			fmt.Fprintf(&key, "%d:%s|", len(k), k)
		}
		i, ok := index[key.String()]
		if !ok {
			i = len(segs)
			index[key.String()] = i
			segs = append(segs, Segment{Dimensions: append([]string(nil), dimensions...), Values: vals})
			rows = append(rows, nil)
		}
		rows[i] = append(rows[i], r.Clone())
	}
	for i := range segs {
		segs[i].Table = NewTable(rows[i])
	}
	return segs, nil
}

// SegmentComparison is the comparison built for one segment.
type SegmentComparison struct {
	Segment    Segment
	Comparison *Comparison
}

// Name is the segment's display name.
func (sc SegmentComparison) Name() string { return sc.Segment.Name() }

// CompareSegments segments t and builds an independent comparison for each
// segment, preserving discovery order. A segment without a usable control
// falls back on its own without affecting the others.
func CompareSegments(t *Table, dimensions []string, cohortColumn string, metrics []MetricDefinition) ([]SegmentComparison, error) {
	segs, err := SegmentTable(t, dimensions)
	if err != nil {
		return nil, err
	}
	out := make([]SegmentComparison, len(segs))
	for i, s := range segs {
		out[i] = SegmentComparison{Segment: s, Comparison: BuildComparison(s.Table, cohortColumn, metrics)}
	}
	return out, nil
}

package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// Format selects how a metric value is rendered.
type Format string

const (
	FormatRaw      Format = "raw"
	FormatCurrency Format = "currency"
	FormatDecimal2 Format = "decimal2"
)

// ParseFormat maps config spellings onto a Format; unknown values are raw.
func ParseFormat(s string) Format {
	f, _ := LookupFormat(s)
	return f
}

// LookupFormat is ParseFormat that also reports whether s is a known
// spelling. Case and surrounding space are ignored.
func LookupFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "currency", "dollar", "dollars", "$", "usd":
		return FormatCurrency, true
	case "decimal2", "2dec", "fixed2", "fixed-2", "2f", "decimal":
		return FormatDecimal2, true
	case "raw":
		return FormatRaw, true
	default:
		return FormatRaw, false
	}
}

// UnmarshalText lets config documents spell the format loosely.
func (f *Format) UnmarshalText(b []byte) error {
	*f = ParseFormat(string(b))
	return nil
}

// Unavailable renders a percent change that cannot be computed.
const Unavailable = "-"

// MetricDefinition names a tracked metric column and its presentation.
type MetricDefinition struct {
	Name       string `json:"name" yaml:"name"`
	Definition string `json:"definition,omitempty" yaml:"definition,omitempty"`
	Format     Format `json:"format,omitempty" yaml:"format,omitempty"`
}

// DefaultMetrics is the built-in metric list used when no metric config is
// available, most important first.
func DefaultMetrics() []MetricDefinition {
	return []MetricDefinition{
		{Name: "Bid Price (HB Rendered Ad)", Format: FormatCurrency},
		{Name: "Bidder Win Rate (1K)", Format: FormatDecimal2},
		{Name: "Bidder Rev Rate (10M)", Format: FormatDecimal2},
		{Name: "MNET Rev Rate (10M)", Format: FormatDecimal2},
		{Name: "Profit (HB Rendered Ad)", Format: FormatCurrency},
		{Name: NetProfitColumn, Format: FormatCurrency},
		{Name: CostColumn, Format: FormatDecimal2},
	}
}

// OrderMetrics puts the important metric names first, in their given order,
// followed by the remaining definitions. Important names without a definition
// are tracked in raw format.
func OrderMetrics(defs []MetricDefinition, important []string) []MetricDefinition {
	byName := make(map[string]MetricDefinition, len(defs))
	for _, d := range defs {
		if _, ok := byName[d.Name]; !ok {
			byName[d.Name] = d
		}
	}
	used := make(map[string]struct{})
	out := make([]MetricDefinition, 0, len(defs)+len(important))
	for _, name := range important {
		if _, ok := used[name]; ok || name == "" {
			continue
		}
		used[name] = struct{}{}
		d, ok := byName[name]
		if !ok {
			d = MetricDefinition{Name: name, Format: FormatRaw}
		}
		out = append(out, d)
	}
	for _, d := range defs {
		if _, ok := used[d.Name]; ok {
			continue
		}
		used[d.Name] = struct{}{}
		out = append(out, d)
	}
	return out
}

// Field is one named value of a Record.
type Field struct {
	Name  string
	Value Value
}

// Record is an ordered field map.
type Record []Field

// Get returns the first field called name.
func (r Record) Get(name string) (Value, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// MarshalJSON writes the record as an object with keys in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		v, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// Record converts a row into an ordered field map.
func (r Row) Record() Record {
	out := make(Record, 0, len(r.cols))
	for _, c := range r.cols {
		out = append(out, Field{Name: c, Value: r.vals[c]})
	}
	return out
}

// CohortCell is one cohort's entry in a comparison row.
type CohortCell struct {
	Cohort string
	Raw    Value
	Value  string
	// Change is the signed percent change against the control, or
	// Unavailable. Empty on the control cell.
	Change    string
	ChangePct float64
	HasChange bool
}

// ComparisonRow compares one metric across cohorts.
type ComparisonRow struct {
	Metric   string
	Format   Format
	Baseline float64
	Control  CohortCell
	Variants []CohortCell
}

// ChangeField names the percent change field of a variant.
func ChangeField(cohort string) string { return cohort + " % Change" }

// Record returns the row as fields: Metric, the control's value, then each
// variant's value and percent change keyed by cohort name.
func (r ComparisonRow) Record() Record {
	out := make(Record, 0, 2+2*len(r.Variants))
	out = append(out, Field{Name: "Metric", Value: String(r.Metric)})
	out = append(out, Field{Name: r.Control.Cohort, Value: String(r.Control.Value)})
	for _, v := range r.Variants {
		out = append(out,
			Field{Name: v.Cohort, Value: String(v.Value)},
			Field{Name: ChangeField(v.Cohort), Value: String(v.Change)},
		)
	}
	return out
}

// MarshalJSON encodes the row as its ordered record.
func (r ComparisonRow) MarshalJSON() ([]byte, error) { return r.Record().MarshalJSON() }

// Comparison is the control-relative view of one table. When no control can
// be identified, only one cohort is present, or a cohort spans several rows,
// Fallback is set, Rows is nil and Records returns the cohort layout. In the
// last case Control is still set and the layout keeps per-row changes
// against the control row; otherwise it is the source table unchanged.
type Comparison struct {
	CohortColumn string
	Control      string
	Cohorts      []string
	Rows         []ComparisonRow
	Fallback     bool
	Reason       string
	Source       *Table

	// baselines backs CohortTable when the pivot was withheld.
	baselines []ComparisonRow
}

// Records returns the comparison rows, or the cohort layout on fallback.
func (c *Comparison) Records() []Record {
	if c.Fallback {
		out := make([]Record, 0, c.Source.Len())
		for _, r := range c.CohortTable().Records() {
			out = append(out, r.Record())
		}
		return out
	}
	out := make([]Record, 0, len(c.Rows))
	for _, r := range c.Rows {
		out = append(out, r.Record())
	}
	return out
}

// BuildComparison compares each metric across the cohorts in t against the
// control cohort. Metrics whose column is missing, or whose control value is
// not numeric, are skipped. Rows follow the order of metrics.
func BuildComparison(t *Table, cohortColumn string, metrics []MetricDefinition) *Comparison {
	if cohortColumn == "" {
		cohortColumn = DefaultCohortColumn
	}
	c := &Comparison{CohortColumn: cohortColumn, Source: t}
	control, err := IdentifyControl(t, cohortColumn)
	if err != nil {
		c.Fallback = true
		c.Reason = err.Error()
		slog.Debug("comparison fallback", "reason", c.Reason)
		return c
	}
	cohorts, reps, counts := representatives(t, cohortColumn)
	if len(cohorts) < 2 {
		c.Fallback = true
		c.Reason = fmt.Sprintf("only one cohort (%s) present", control)
		slog.Debug("comparison fallback", "reason", c.Reason)
		return c
	}
	c.Control = control
	c.Cohorts = cohorts
	ctrl := reps[control]

	for _, m := range metrics {
		if !t.HasColumn(m.Name) {
			slog.Debug("metric not in table, skipped", "metric", m.Name)
			continue
		}
		cv, _ := ctrl.Get(m.Name)
		base, ok := cv.Float()
		if !ok {
			slog.Debug("control value not numeric, metric skipped", "metric", m.Name, "value", cv.Text())
			continue
		}
		row := ComparisonRow{
			Metric:   m.Name,
			Format:   m.Format,
			Baseline: base,
			Control:  CohortCell{Cohort: control, Raw: cv, Value: FormatValue(cv, m.Format)},
		}
		for _, label := range cohorts {
			if label == control {
				continue
			}
			v, _ := reps[label].Get(m.Name)
			row.Variants = append(row.Variants, variantCell(label, v, base, m.Format))
		}
		c.Rows = append(c.Rows, row)
	}

	// A pivot needs one row per cohort; several rows mean the table still
	// carries a segmenting dimension and the first row would stand for all.
	for _, label := range cohorts {
		if n := counts[label]; n > 1 {
			c.Fallback = true
			c.Reason = fmt.Sprintf("multiple rows per cohort (%s has %d); compare per segment", label, n)
			c.baselines, c.Rows = c.Rows, nil
			slog.Debug("comparison fallback", "reason", c.Reason)
			break
		}
	}
	return c
}

func variantCell(label string, v Value, base float64, f Format) CohortCell {
	cell := CohortCell{Cohort: label, Raw: v, Value: FormatValue(v, f), Change: Unavailable}
	if pct, ok := PercentChange(v, base); ok {
		cell.ChangePct = pct
		cell.HasChange = true
		cell.Change = FormatPercent(pct)
	}
	return cell
}

// representatives returns cohort labels in first-seen order, the first row
// carrying each label and the number of rows per label.
func representatives(t *Table, column string) ([]string, map[string]Row, map[string]int) {
	reps := make(map[string]Row)
	counts := make(map[string]int)
	var order []string
	for _, r := range t.Rows {
		v, ok := r.Get(column)
		if !ok {
			continue
		}
		l := v.Text()
		counts[l]++
		if _, dup := reps[l]; dup {
			continue
		}
		reps[l] = r
		order = append(order, l)
	}
	return order, reps, counts
}

// PercentChange returns 100*(v-base)/|base|. It reports false when base is
// zero or v is not numeric.
func PercentChange(v Value, base float64) (float64, bool) {
	if base == 0 || math.IsNaN(base) {
		return 0, false
	}
	x, ok := v.Float()
	if !ok {
		return 0, false
	}
	return 100 * (x - base) / math.Abs(base), true
}

// FormatPercent renders a percent change with an explicit sign.
func FormatPercent(p float64) string {
	return fmt.Sprintf("%+.2f%%", p)
}

// FormatValue renders a metric value. Values that are not numeric are shown
// unchanged whatever the format.
func FormatValue(v Value, f Format) string {
	switch f {
	case FormatCurrency:
		x, ok := v.Float()
		if !ok || math.IsInf(x, 0) || math.IsNaN(x) {
			return v.Text()
		}
		return "$" + groupThousands(x)
	case FormatDecimal2:
		x, ok := v.Float()
		if !ok {
			return v.Text()
		}
		return fmt.Sprintf("%.2f", x)
	default:
		return v.Text()
	}
}

// groupThousands truncates x toward zero and groups its digits by three.
func groupThousands(x float64) string {
	t := math.Trunc(x)
	neg := t < 0
	s := strconv.FormatFloat(math.Abs(t), 'f', 0, 64)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(s) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(s[:lead])
	for i := lead; i < len(s); i += 3 {
		b.WriteByte(',')
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// PrimaryChangeColumn carries the percent change of the first compared
// metric in the cohort layout.
const PrimaryChangeColumn = "%Change"

// ChangeColumn names the per-metric percent change column of the cohort
// layout.
func ChangeColumn(metric string) string { return "% Change in " + metric }

// CohortTable renders the comparison in row-per-cohort layout: the source
// table with compared metrics formatted, a "% Change in <metric>" column per
// metric and a "%Change" column for the first metric. Every row is compared
// with the control row, so cohorts spanning several rows keep their changes.
// Without a control it returns an unmodified copy of the source.
func (c *Comparison) CohortTable() *Table {
	out := c.Source.Clone()
	metrics := c.Rows
	if c.Fallback {
		metrics = c.baselines
	}
	if len(metrics) == 0 {
		return out
	}
	for _, cr := range metrics {
		for i := range out.Rows {
			r := &out.Rows[i]
			v, _ := r.Get(cr.Metric)
			change := Unavailable
			if pct, ok := PercentChange(v, cr.Baseline); ok {
				change = FormatPercent(pct)
			}
			r.Set(cr.Metric, String(FormatValue(v, cr.Format)))
			r.Set(ChangeColumn(cr.Metric), String(change))
		}
	}
	primary := ChangeColumn(metrics[0].Metric)
	for i := range out.Rows {
		v, _ := out.Rows[i].Get(primary)
		out.Rows[i].Set(PrimaryChangeColumn, v)
	}
	out.reindex()
	return out
}

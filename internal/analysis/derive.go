package analysis

import "log/slog"

// Derived column names.
const (
	CostColumn      = "Cost"
	NetProfitColumn = "Net Profit"
)

// DeriveOptions controls the Metric Deriver.
type DeriveOptions struct {
	// RequestsColumn holds raw request counts; Cost is derived from it.
	RequestsColumn string
	// ProfitColumn holds gross profit; Net Profit is derived from it.
	ProfitColumn string
	// CostPerMillion is the price of one million requests.
	CostPerMillion float64
	// Drop lists helper/debug columns removed from the output.
	Drop []string
	// Labels are never coerced to numbers, e.g. the cohort column and
	// segmentation dimensions whose values may look numeric ("0", "1").
	Labels []string
}

// DefaultDeriveOptions returns the standard cost model.
func DefaultDeriveOptions() DeriveOptions {
	return DeriveOptions{
		RequestsColumn: "Total Requests Sent",
		ProfitColumn:   "Profit",
		CostPerMillion: 0.025,
		Drop:           []string{"Helper1", "Helper2", "Temp", "Debug"},
	}
}

// Derive returns a new table with numeric columns coerced, Cost and Net
// Profit computed, numbers rounded to two decimals and helper columns
// dropped. The input is not modified. Every step is best-effort: a cell that
// cannot be read as a number contributes zero.
func Derive(t *Table, opt DeriveOptions) *Table {
	if t == nil {
		return nil
	}
	def := DefaultDeriveOptions()
	if opt.RequestsColumn == "" {
		opt.RequestsColumn = def.RequestsColumn
	}
	if opt.ProfitColumn == "" {
		opt.ProfitColumn = def.ProfitColumn
	}
	if opt.CostPerMillion == 0 {
		opt.CostPerMillion = def.CostPerMillion
	}
	if opt.Drop == nil {
		opt.Drop = def.Drop
	}

	out := t.Clone()
	out.FillAbsent()

	labels := make(map[string]struct{}, len(opt.Labels))
	for _, c := range opt.Labels {
		labels[c] = struct{}{}
	}
	for _, c := range out.Columns {
		if _, skip := labels[c]; skip {
			continue
		}
		if numericLike(out.Column(c)) {
			coerceColumn(out, c)
		}
	}

	// Cost first: Net Profit reads it.
	cost := make([]float64, len(out.Rows))
	if out.HasColumn(opt.RequestsColumn) {
		bad := 0
		for i, r := range out.Rows {
			v, _ := r.Get(opt.RequestsColumn)
			n, ok := v.Float()
			if !ok {
				bad++
				continue
			}
			cost[i] = n * opt.CostPerMillion / 1_000_000
		}
		if bad > 0 {
			slog.Debug("non-numeric request counts costed at zero", "column", opt.RequestsColumn, "cells", bad)
		}
	} else {
		slog.Debug("requests column not found, cost set to 0", "column", opt.RequestsColumn)
	}

	hasProfit := out.HasColumn(opt.ProfitColumn)
	for i := range out.Rows {
		r := &out.Rows[i]
		r.Set(CostColumn, Number(cost[i]))
		net := -cost[i]
		if hasProfit {
			v, _ := r.Get(opt.ProfitColumn)
			if p, ok := v.Float(); ok {
				net = p - cost[i]
			}
		}
		r.Set(NetProfitColumn, Number(net))
	}
	out.reindex()

	for i := range out.Rows {
		r := &out.Rows[i]
		for _, c := range r.cols {
			if v := r.vals[c]; v.IsNumber() {
				r.vals[c] = Number(round2(v.num))
			}
		}
	}

	if dropped := out.DropColumns(opt.Drop...); len(dropped) > 0 {
		slog.Debug("dropped helper columns", "columns", dropped)
	}
	return out
}

// numericLike reports whether a column reads as numbers: at least one cell is
// numeric and every other cell is numeric or blank.
func numericLike(vals []Value) bool {
	numeric := 0
	for _, v := range vals {
		if _, ok := v.Float(); ok {
			numeric++
			continue
		}
		if !isBlank(v) {
			return false
		}
	}
	return numeric > 0
}

func coerceColumn(t *Table, col string) {
	for i := range t.Rows {
		r := &t.Rows[i]
		v, ok := r.Get(col)
		if !ok || v.IsNumber() {
			continue
		}
		n, _ := v.Float()
		r.Set(col, Number(n))
	}
}

package query

import (
	"strconv"

	"github.com/KaramelBytes/abverdict/internal/analysis"
)

// DefaultThreshold is the per-dimension row threshold for deep-dive requests.
const DefaultThreshold = 10

// WithDimensions returns a copy of req that additionally groups by dims. Each
// dimension missing from "rows" is inserted before the cohort row (or
// appended when there is none) and each dimension missing from
// "dimensionObjectList" is appended there. "group_by" is removed. The input is
// not modified.
func WithDimensions(req Request, dims []string, threshold int) (Request, error) {
	out, err := req.Clone()
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	delete(out, "group_by")

	rows := objectList(out["rows"])
	objs := objectList(out["dimensionObjectList"])

	for _, dim := range dims {
		entry := func() map[string]any {
			return map[string]any{
				"dimension":  dim,
				"outputName": dim,
				"threshold":  strconv.Itoa(threshold),
			}
		}
		if !hasDimension(rows, dim) {
			at := len(rows)
			for i, r := range rows {
				if m, ok := r.(map[string]any); ok && m["dimension"] == analysis.DefaultCohortColumn {
					at = i
					break
				}
			}
			rows = append(rows, nil)
			copy(rows[at+1:], rows[at:])
			rows[at] = entry()
		}
		if !hasDimension(objs, dim) {
			objs = append(objs, entry())
		}
	}
	out["rows"] = rows
	out["dimensionObjectList"] = objs
	return out, nil
}

func objectList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return []any{}
}

func hasDimension(list []any, dim string) bool {
	for _, e := range list {
		if m, ok := e.(map[string]any); ok && m["dimension"] == dim {
			return true
		}
	}
	return false
}

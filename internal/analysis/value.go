package analysis

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind tags the content of a Value.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindNumber
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "absent"
	}
}

// Value is a single table cell: absent, a number, or a string.
type Value struct {
	kind Kind
	num  float64
	str  string
}

// Absent returns the empty cell.
func Absent() Value { return Value{} }

// Number wraps a float64.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

func (v Value) IsNumber() bool { return v.kind == KindNumber }

// Equal compares kind and content exactly.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	}
	return true
}

// Float reports the numeric reading of the cell. Strings are parsed after
// trimming; absent cells and unparsable strings report false.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) {
			return 0, false
		}
		return v.num, true
	case KindString:
		return parseNumeric(v.str)
	}
	return 0, false
}

// Text renders the cell the way it is shown to users and used as a label.
func (v Value) Text() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return v.str
	}
	return ""
}

func (v Value) String() string { return v.Text() }

// MarshalJSON keeps numbers numeric and absent cells null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	}
	return []byte("null"), nil
}

// key is a kind-tagged identity used for grouping.
func (v Value) key() string {
	switch v.kind {
	case KindNumber:
		return "n:" + strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindString:
		return "s:" + v.str
	}
	return "a:"
}

// parseNumeric accepts plain decimal or scientific notation with optional
// surrounding whitespace. Thousands separators are not numeric here: "1,234"
// is a label, not a number.
func parseNumeric(s string) (float64, bool) {
	raw := strings.TrimSpace(strings.ReplaceAll(s, " ", " "))
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isBlank(v Value) bool {
	return v.kind == KindAbsent || (v.kind == KindString && strings.TrimSpace(v.str) == "")
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

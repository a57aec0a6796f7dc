package commentary

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Significance values accepted in metric rows.
const (
	SignificancePositive = "positive"
	SignificanceNegative = "negative"
	SignificanceNeutral  = "neutral"
)

// MetricRow is one metric line of an LLM-written analysis.
type MetricRow struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Baseline     float64 `json:"baseline"`
	Change       float64 `json:"change"`
	Significance string  `json:"significance"`
}

// UnmarshalJSON tolerates the shapes models actually return: numbers as
// strings ("12.5%", "+3.1"), nulls, and free-case significance labels.
func (m *MetricRow) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name         string    `json:"name"`
		Value        flexFloat `json:"value"`
		Baseline     flexFloat `json:"baseline"`
		Change       flexFloat `json:"change"`
		Significance string    `json:"significance"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = MetricRow{
		Name:         raw.Name,
		Value:        float64(raw.Value),
		Baseline:     float64(raw.Baseline),
		Change:       float64(raw.Change),
		Significance: normalizeSignificance(raw.Significance),
	}
	return nil
}

func normalizeSignificance(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case SignificancePositive:
		return SignificancePositive
	case SignificanceNegative:
		return SignificanceNegative
	default:
		return SignificanceNeutral
	}
}

// flexFloat decodes a JSON number, a numeric string with optional sign and
// percent suffix, or null. Anything else decodes as 0.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*f = 0
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		*f = flexFloat(ParseChange(s))
		return nil
	}
	if v, err := strconv.ParseFloat(string(data), 64); err == nil {
		*f = flexFloat(v)
	}
	return nil
}

// ParseChange converts a change value such as "12.5%", "+3.10 %" or "-7"
// into a float. Unparsable input yields 0.
func ParseChange(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, "%", ""))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// Verdict values.
const (
	VerdictScale = "Scale"
	VerdictHold  = "Hold"
	VerdictAvoid = "Avoid"
)

// ScalabilityVerdict is the recommendation on rolling the variant out.
type ScalabilityVerdict struct {
	Verdict string   `json:"verdict"`
	Reasons []string `json:"reasons"`
}

// UnmarshalJSON accepts the object form and also a bare string such as
// "Scale - • +4% profit • stable win rate", which is split into a verdict and
// bullet reasons.
func (v *ScalabilityVerdict) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*v = ScalabilityVerdict{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = VerdictFromText(s)
		return nil
	}
	var raw struct {
		Verdict string          `json:"verdict"`
		Reasons json.RawMessage `json:"reasons"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Verdict = strings.TrimSpace(raw.Verdict)
	v.Reasons = decodeStrings(raw.Reasons)
	return nil
}

// VerdictFromText normalizes a free-text verdict. The verdict is the text
// before the first '-' and reasons are the '•'-separated parts.
func VerdictFromText(s string) ScalabilityVerdict {
	verdict := strings.TrimSpace(s)
	if i := strings.Index(s, "-"); i >= 0 {
		verdict = strings.TrimSpace(s[:i])
	}
	var reasons []string
	for _, r := range strings.Split(s, "•") {
		if r = strings.TrimSpace(r); r != "" {
			reasons = append(reasons, r)
		}
	}
	if len(reasons) == 0 {
		reasons = []string{s}
	}
	return ScalabilityVerdict{Verdict: verdict, Reasons: reasons}
}

// decodeStrings reads a JSON array of strings, a single string, or null.
// Non-string array items are rendered with their JSON text.
func decodeStrings(data json.RawMessage) []string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return []string{}
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s = strings.TrimSpace(s); s == "" {
			return []string{}
		}
		return []string{s}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		var str string
		if err := json.Unmarshal(it, &str); err == nil {
			out = append(out, str)
			continue
		}
		out = append(out, string(bytes.TrimSpace(it)))
	}
	return out
}

// OverallAnalysis is the commentary for a whole experiment.
type OverallAnalysis struct {
	MetricsTable       []MetricRow        `json:"metrics_table"`
	KeyInsights        []string           `json:"key_insights"`
	FinalVerdict       string             `json:"final_verdict"`
	ScalabilityVerdict ScalabilityVerdict `json:"scalability_verdict"`
}

func (o *OverallAnalysis) UnmarshalJSON(data []byte) error {
	var raw struct {
		MetricsTable       []MetricRow        `json:"metrics_table"`
		KeyInsights        json.RawMessage    `json:"key_insights"`
		FinalVerdict       string             `json:"final_verdict"`
		ScalabilityVerdict ScalabilityVerdict `json:"scalability_verdict"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = OverallAnalysis{
		MetricsTable:       raw.MetricsTable,
		KeyInsights:        decodeStrings(raw.KeyInsights),
		FinalVerdict:       strings.TrimSpace(raw.FinalVerdict),
		ScalabilityVerdict: raw.ScalabilityVerdict,
	}
	o.normalize()
	return nil
}

func (o *OverallAnalysis) normalize() {
	if o.MetricsTable == nil {
		o.MetricsTable = []MetricRow{}
	}
	if o.KeyInsights == nil {
		o.KeyInsights = []string{}
	}
	if o.ScalabilityVerdict.Reasons == nil {
		o.ScalabilityVerdict.Reasons = []string{}
	}
}

// DeepDiveSegment is the commentary for one segment.
type DeepDiveSegment struct {
	Segment            string             `json:"segment"`
	Metrics            []MetricRow        `json:"metrics"`
	KeyInsights        []string           `json:"key_insights"`
	FinalVerdict       string             `json:"final_verdict"`
	ScalabilityVerdict ScalabilityVerdict `json:"scalability_verdict"`
	Insight            string             `json:"insight"`
	// Failed marks a placeholder produced when the model call failed.
	Failed bool `json:"-"`
}

// segmentReply is the model's answer for one segment. Older prompts used
// "summary" where newer ones use "insight".
type segmentReply struct {
	Metrics            []MetricRow        `json:"metrics"`
	KeyInsights        json.RawMessage    `json:"key_insights"`
	FinalVerdict       string             `json:"final_verdict"`
	ScalabilityVerdict ScalabilityVerdict `json:"scalability_verdict"`
	Insight            string             `json:"insight"`
	Summary            string             `json:"summary"`
}

func (r segmentReply) segment(name string) DeepDiveSegment {
	s := DeepDiveSegment{
		Segment:            name,
		Metrics:            r.Metrics,
		KeyInsights:        decodeStrings(r.KeyInsights),
		FinalVerdict:       strings.TrimSpace(r.FinalVerdict),
		ScalabilityVerdict: r.ScalabilityVerdict,
		Insight:            r.Insight,
	}
	if s.Insight == "" {
		s.Insight = r.Summary
	}
	s.normalize()
	return s
}

func (s *DeepDiveSegment) normalize() {
	if s.Metrics == nil {
		s.Metrics = []MetricRow{}
	}
	if s.KeyInsights == nil {
		s.KeyInsights = []string{}
	}
	if s.ScalabilityVerdict.Reasons == nil {
		s.ScalabilityVerdict.Reasons = []string{}
	}
}

// DeepDiveResult is the commentary for a segmented experiment.
type DeepDiveResult struct {
	Segments          []DeepDiveSegment `json:"segments"`
	OverallCommentary []string          `json:"overall_commentary"`
}

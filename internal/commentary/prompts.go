package commentary

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/KaramelBytes/abverdict/internal/analysis"
	"github.com/KaramelBytes/abverdict/internal/config"
	"github.com/KaramelBytes/abverdict/internal/utils"
)

const systemMessage = "You are a strategic analyst reviewing online advertising experiments. Answer with JSON only: no markdown, no prose outside the JSON."

const verdictInstructions = `Instructions for scalability_verdict:
- The 'scalability_verdict' field MUST be a JSON object with exactly two fields: 'verdict' (string: Scale, Hold, or Avoid) and 'reasons' (array of 1-2 concise, number-driven bullet points).
- Do NOT return a string, markdown, or prose. Only return a valid JSON object as specified.
- If you do not know, return: {"verdict": "", "reasons": []}
- The 'reasons' array should contain 1-2 bullets only.
`

const metricRowSchema = `    {
      "name": "Metric name",
      "value": float (do not use null, always provide a number, use 0 if unknown),
      "baseline": float (do not use null, always provide a number, use 0 if unknown),
      "change": float (percent change against the control, use 0 if unknown),
      "significance": "positive" | "negative" | "neutral"
    }`

// tableJSON encodes rows for a prompt, capped at limit tokens.
func tableJSON(rows []analysis.Row, limit int) (string, bool, error) {
	if rows == nil {
		rows = []analysis.Row{}
	}
	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", false, fmt.Errorf("encode metric table: %w", err)
	}
	s, cut := utils.FitToTokens(string(b), limit)
	return s, cut, nil
}

func documentJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func writeDocuments(sb *strings.Builder, docs *config.Documents, deepDive bool) {
	if docs == nil {
		return
	}
	if len(docs.SystemDefinition) > 0 {
		sb.WriteString("System Definition: ")
		sb.WriteString(documentJSON(docs.SystemDefinition))
		sb.WriteString("\n")
	}
	if deepDive && len(docs.DeepDive) > 0 {
		sb.WriteString("Deep Dive Config: ")
		sb.WriteString(documentJSON(docs.DeepDive))
		sb.WriteString("\n")
	}
	if len(docs.System.ImportantMetrics) > 0 {
		sb.WriteString("Important Metrics: ")
		sb.WriteString(strings.Join(docs.System.ImportantMetrics, ", "))
		sb.WriteString("\n")
	}
}

func writeDefinitions(sb *strings.Builder, docs *config.Documents) {
	if docs == nil || len(docs.Metrics.Metrics) == 0 {
		return
	}
	sb.WriteString("Metric Definitions: ")
	sb.WriteString(documentJSON(docs.Metrics.DefinitionText()))
	sb.WriteString("\n")
}

// BuildOverallPrompt assembles the whole-experiment prompt and returns it with
// its token estimate.
func BuildOverallPrompt(system string, docs *config.Documents, cmp *analysis.Comparison, maxTableTokens int) (string, int, error) {
	if cmp == nil {
		return "", 0, fmt.Errorf("comparison is nil")
	}
	table, cut, err := tableJSON(cmp.CohortTable().Records(), maxTableTokens)
	if err != nil {
		return "", 0, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a strategic analyst reviewing an overall %s experiment across cohorts.\n\n", system)
	fmt.Fprintf(&sb, "System: %s\n", system)
	writeDocuments(&sb, docs, false)
	switch {
	case cmp.Fallback && cmp.Control == "":
		fmt.Fprintf(&sb, "Note: no control cohort could be identified (%s); the table is shown as reported.\n", cmp.Reason)
	case cmp.Fallback:
		fmt.Fprintf(&sb, "Control cohort: %s\n", cmp.Control)
		fmt.Fprintf(&sb, "Note: %s. Each row's change is against the first %s row.\n", cmp.Reason, cmp.Control)
	default:
		fmt.Fprintf(&sb, "Control cohort: %s\n", cmp.Control)
	}
	sb.WriteString("\nMetrics:\n")
	sb.WriteString(table)
	sb.WriteString("\n")
	if cut {
		sb.WriteString("(metric table truncated)\n")
	}
	writeDefinitions(&sb, docs)

	sb.WriteString("\nReturn only a valid JSON object with these fields:\n\n")
	sb.WriteString("{\n")
	sb.WriteString(`  "key_insights": ["string", ...],` + "\n")
	sb.WriteString(`  "final_verdict": "string (format: 'Final Verdict: <cohort name> is best overall')",` + "\n")
	sb.WriteString(`  "scalability_verdict": {"verdict": "Scale" | "Hold" | "Avoid", "reasons": ["string (concise, number-driven)", ...]},` + "\n")
	sb.WriteString(`  "metrics_table": [` + "\n")
	sb.WriteString(metricRowSchema)
	sb.WriteString("\n  ]\n}\n\n")
	sb.WriteString(verdictInstructions)
	sb.WriteString("\nOnly output a single valid JSON object. No explanations, no markdown, no extra text.\n")

	prompt := sb.String()
	return prompt, utils.CountTokens(prompt), nil
}

// BuildSegmentPrompt assembles the prompt for one deep-dive segment.
func BuildSegmentPrompt(system string, docs *config.Documents, seg analysis.SegmentComparison, maxTableTokens int) (string, int, error) {
	if seg.Comparison == nil {
		return "", 0, fmt.Errorf("segment %q has no comparison", seg.Name())
	}
	table, cut, err := tableJSON(seg.Comparison.CohortTable().Records(), maxTableTokens)
	if err != nil {
		return "", 0, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "System: %s\n", system)
	writeDocuments(&sb, docs, true)
	fmt.Fprintf(&sb, "Segment: %s\n", seg.Name())
	if seg.Comparison.Control != "" {
		fmt.Fprintf(&sb, "Control cohort: %s\n", seg.Comparison.Control)
	}
	sb.WriteString("Metric Table:\n")
	sb.WriteString(table)
	sb.WriteString("\n")
	if cut {
		sb.WriteString("(metric table truncated)\n")
	}
	writeDefinitions(&sb, docs)

	sb.WriteString("\nInstructions:\nAnalyze this segment and return a JSON with:\n")
	sb.WriteString("{\n")
	sb.WriteString(`  "metrics": [` + "\n")
	sb.WriteString(metricRowSchema)
	sb.WriteString("\n  ],\n")
	sb.WriteString(`  "key_insights": ["string", ...],` + "\n")
	sb.WriteString(`  "final_verdict": "string (format: 'Final Verdict: <cohort name> is best overall')",` + "\n")
	sb.WriteString(`  "scalability_verdict": {"verdict": "Scale" | "Hold" | "Avoid", "reasons": ["string (concise, number-driven)", ...]},` + "\n")
	sb.WriteString(`  "insight": "one-paragraph summary of the segment"` + "\n")
	sb.WriteString("}\n\n")
	sb.WriteString(verdictInstructions)
	sb.WriteString("\nBe concise, analytical, and number-driven. Write in complete sentences.\n")

	prompt := sb.String()
	return prompt, utils.CountTokens(prompt), nil
}

// BuildSummaryPrompt assembles the cross-segment summary prompt.
func BuildSummaryPrompt(system string, docs *config.Documents, segments []DeepDiveSegment, maxTableTokens int) (string, int, error) {
	b, err := json.MarshalIndent(segments, "", "  ")
	if err != nil {
		return "", 0, fmt.Errorf("encode segments: %w", err)
	}
	body, _ := utils.FitToTokens(string(b), maxTableTokens)

	var sb strings.Builder
	fmt.Fprintf(&sb, "System: %s\n", system)
	writeDocuments(&sb, docs, true)
	sb.WriteString("Segments: ")
	sb.WriteString(body)
	sb.WriteString("\n\nInstructions:\n")
	sb.WriteString("Summarize the key patterns and insights across all segments in 2-4 concise, analytical, and number-driven bullet points.\n")
	sb.WriteString("- Each bullet should be a single, crisp sentence.\n")
	sb.WriteString("- Focus on the most important findings and avoid repetition.\n")
	sb.WriteString(`- Do NOT return a paragraph or prose, only a JSON array of strings, e.g. ["...", "..."]` + "\n")
	sb.WriteString("- Be specific with numbers and metrics.\n")
	sb.WriteString("Return only the JSON array of bullet points, nothing else.\n")

	prompt := sb.String()
	return prompt, utils.CountTokens(prompt), nil
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/KaramelBytes/abverdict/internal/analysis"
	"github.com/KaramelBytes/abverdict/internal/commentary"
	"github.com/KaramelBytes/abverdict/internal/pipeline"
	"github.com/KaramelBytes/abverdict/internal/utils"
	"github.com/spf13/cobra"
)

var (
	anRequest    string
	anFormat     string
	anLayout     string
	anCommentary bool
	anSystem     string
	anDimensions []string
	anProvider   string
	anModel      string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [response.json]",
	Short: "Compare experiment cohorts against the control",
	Long: `Analyze flattens a query service result, derives cost and net profit,
identifies the control cohort and prints each tracked metric per cohort with
its change against the control.

The result is read from a saved response file or fetched live with --request.
With --dimension the comparison is repeated per segment. With --commentary an
LLM writes an overall verdict for the comparison.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := ensureConfig()
		if err != nil {
			return err
		}
		respPath, err := inputArgs(args, anRequest)
		if err != nil {
			return err
		}
		format, err := outputFormat(anFormat)
		if err != nil {
			return err
		}
		layout := strings.ToLower(strings.TrimSpace(anLayout))
		if layout != "pivot" && layout != "cohort" {
			return fmt.Errorf("invalid --layout %q (use pivot or cohort)", anLayout)
		}
		if anCommentary && len(anDimensions) > 0 {
			return fmt.Errorf("--commentary writes an overall verdict; use deep-dive for per-segment commentary")
		}

		var gen *commentary.Generator
		if anCommentary {
			if strings.TrimSpace(anSystem) == "" {
				return fmt.Errorf("--system is required with --commentary")
			}
			rt, provider, model, err := buildRuntime(c, runtimeOptions{ProviderFlag: anProvider, ModelFlag: anModel})
			if err != nil {
				return err
			}
			slog.Default().Debug("llm runtime", "provider", provider, "model", model)
			gen = newGenerator(c, rt, model)
		}
		p, _ := buildPipeline(c, gen)
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		out := cmd.OutOrStdout()

		if anCommentary {
			var res *pipeline.Analysis
			if respPath != "" {
				t, err := readTable(respPath)
				if err != nil {
					return err
				}
				res, err = p.AnalyzeTable(ctx, t, anSystem)
				if err != nil {
					return err
				}
			} else {
				req, err := readRequest(anRequest)
				if err != nil {
					return err
				}
				res, err = p.Analyze(ctx, req, anSystem)
				if err != nil {
					return err
				}
			}
			return writeAnalysis(out, res, format, layout)
		}

		var res *pipeline.Result
		if respPath != "" {
			t, err := readTable(respPath)
			if err != nil {
				return err
			}
			res, err = p.CompareTable(t, anDimensions)
			if err != nil {
				return err
			}
		} else {
			req, err := readRequest(anRequest)
			if err != nil {
				return err
			}
			res, err = p.Compare(ctx, req, anDimensions)
			if err != nil {
				return err
			}
		}
		return writeResult(out, res, format, layout)
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&anRequest, "request", "", "query service request JSON to fetch instead of reading a response file")
	analyzeCmd.Flags().StringVar(&anFormat, "format", "markdown", "output format: markdown|json|csv")
	analyzeCmd.Flags().StringVar(&anLayout, "layout", "pivot", "table layout: pivot (metric rows) or cohort (cohort rows)")
	analyzeCmd.Flags().BoolVar(&anCommentary, "commentary", false, "ask the LLM for an overall verdict")
	analyzeCmd.Flags().StringVar(&anSystem, "system", "", "system under test, used in the LLM prompt")
	analyzeCmd.Flags().StringSliceVar(&anDimensions, "dimension", nil, "segment by this column (repeatable)")
	analyzeCmd.Flags().StringVar(&anProvider, "provider", "", "LLM provider: openai|openrouter (overrides config)")
	analyzeCmd.Flags().StringVar(&anModel, "model", "", "LLM model (overrides config)")
}

func outputFormat(s string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(s))
	switch f {
	case "", "md", "markdown":
		return "markdown", nil
	case "json", "csv":
		return f, nil
	}
	return "", fmt.Errorf("invalid --format %q (use markdown, json or csv)", s)
}

// comparisonRecords returns the rows of cmp in the requested layout.
func comparisonRecords(cmp *analysis.Comparison, layout string) any {
	if layout == "cohort" {
		return cmp.CohortTable().Records()
	}
	return cmp.Records()
}

func writeComparison(w io.Writer, cmp *analysis.Comparison, format, layout string) error {
	switch format {
	case "csv":
		if layout == "cohort" {
			return cmp.CohortTable().WriteCSV(w)
		}
		return cmp.WriteCSV(w)
	case "json":
		return writeJSON(w, comparisonRecords(cmp, layout))
	}
	if layout == "cohort" {
		if cmp.Fallback {
			if _, err := fmt.Fprintf(w, "> No comparison: %s\n\n", cmp.Reason); err != nil {
				return err
			}
			if cmp.Control == "" {
				_, err := io.WriteString(w, cmp.Source.Markdown())
				return err
			}
		}
		_, err := fmt.Fprintf(w, "Control: `%s`\n\n%s", cmp.Control, cmp.CohortTable().Markdown())
		return err
	}
	_, err := io.WriteString(w, cmp.Markdown())
	return err
}

type segmentOutput struct {
	Segment string `json:"segment"`
	Control string `json:"control,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Rows    any    `json:"rows"`
}

type resultOutput struct {
	Control    string          `json:"control,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Rows       any             `json:"rows"`
	Dimensions []string        `json:"dimensions,omitempty"`
	Segments   []segmentOutput `json:"segments,omitempty"`
}

func writeResult(w io.Writer, res *pipeline.Result, format, layout string) error {
	if format == "json" {
		o := resultOutput{
			Control:    res.Comparison.Control,
			Reason:     res.Comparison.Reason,
			Rows:       comparisonRecords(res.Comparison, layout),
			Dimensions: res.Dimensions,
		}
		for _, s := range res.Segments {
			o.Segments = append(o.Segments, segmentOutput{
				Segment: s.Name(),
				Control: s.Comparison.Control,
				Reason:  s.Comparison.Reason,
				Rows:    comparisonRecords(s.Comparison, layout),
			})
		}
		return writeJSON(w, o)
	}
	if format == "csv" && len(res.Segments) > 0 {
		return fmt.Errorf("csv output holds one table; drop --dimension or use markdown/json")
	}
	if err := writeComparison(w, res.Comparison, format, layout); err != nil {
		return err
	}
	for _, s := range res.Segments {
		if _, err := fmt.Fprintf(w, "\n## %s\n\n", s.Name()); err != nil {
			return err
		}
		if err := writeComparison(w, s.Comparison, format, layout); err != nil {
			return err
		}
	}
	return nil
}

func writeAnalysis(w io.Writer, res *pipeline.Analysis, format, layout string) error {
	switch format {
	case "json":
		return writeJSON(w, struct {
			*commentary.OverallAnalysis
			Comparison any `json:"comparison"`
		}{res.Commentary, comparisonRecords(res.Result.Comparison, layout)})
	case "csv":
		return fmt.Errorf("csv output is not available with --commentary")
	}
	if err := writeComparison(w, res.Result.Comparison, format, layout); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n"+commentaryMarkdown(res.Commentary.KeyInsights, res.Commentary.FinalVerdict, res.Commentary.ScalabilityVerdict))
	return err
}

func commentaryMarkdown(insights []string, final string, sv commentary.ScalabilityVerdict) string {
	var b strings.Builder
	if len(insights) > 0 {
		b.WriteString("### Key insights\n\n")
		for _, s := range insights {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}
	if final != "" {
		fmt.Fprintf(&b, "**Verdict:** %s\n\n", final)
	}
	if sv.Verdict != "" {
		fmt.Fprintf(&b, "**Scalability:** %s\n", sv.Verdict)
		for _, r := range sv.Reasons {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}

func writeJSON(w io.Writer, v any) error {
	b, err := utils.PrettyJSON(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/KaramelBytes/abverdict/internal/analysis"
	"github.com/KaramelBytes/abverdict/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	ddRequest    string
	ddDimensions []string
	ddSystem     string
	ddFormat     string
	ddProvider   string
	ddModel      string
)

var deepDiveCmd = &cobra.Command{
	Use:   "deep-dive [response.json]",
	Short: "Compare cohorts per segment and write commentary for each",
	Long: `Deep-dive groups the result by one or more dimensions, compares the
cohorts inside every segment and asks the LLM for a verdict per segment plus a
short cross-segment summary. Segments whose commentary fails are reported with
a neutral placeholder.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := ensureConfig()
		if err != nil {
			return err
		}
		respPath, err := inputArgs(args, ddRequest)
		if err != nil {
			return err
		}
		if len(ddDimensions) == 0 {
			return &analysis.NoDimensionsError{}
		}
		if strings.TrimSpace(ddSystem) == "" {
			return fmt.Errorf("--system is required")
		}
		format, err := outputFormat(ddFormat)
		if err != nil {
			return err
		}
		if format == "csv" {
			return fmt.Errorf("csv output is not available for deep-dive")
		}
		rt, provider, model, err := buildRuntime(c, runtimeOptions{ProviderFlag: ddProvider, ModelFlag: ddModel})
		if err != nil {
			return err
		}
		slog.Default().Debug("llm runtime", "provider", provider, "model", model)
		p, _ := buildPipeline(c, newGenerator(c, rt, model))
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		var res *pipeline.DeepDive
		if respPath != "" {
			t, err := readTable(respPath)
			if err != nil {
				return err
			}
			res, err = p.DeepDiveTable(ctx, t, ddSystem, ddDimensions)
			if err != nil {
				return err
			}
		} else {
			req, err := readRequest(ddRequest)
			if err != nil {
				return err
			}
			res, err = p.DeepDive(ctx, req, ddSystem, ddDimensions)
			if err != nil {
				return err
			}
		}
		return writeDeepDive(cmd.OutOrStdout(), res, format)
	},
}

func init() {
	rootCmd.AddCommand(deepDiveCmd)
	deepDiveCmd.Flags().StringVar(&ddRequest, "request", "", "query service request JSON to fetch instead of reading a response file")
	deepDiveCmd.Flags().StringSliceVar(&ddDimensions, "dimension", nil, "segment by this column (repeatable, required)")
	deepDiveCmd.Flags().StringVar(&ddSystem, "system", "", "system under test, used in the LLM prompt")
	deepDiveCmd.Flags().StringVar(&ddFormat, "format", "markdown", "output format: markdown|json")
	deepDiveCmd.Flags().StringVar(&ddProvider, "provider", "", "LLM provider: openai|openrouter (overrides config)")
	deepDiveCmd.Flags().StringVar(&ddModel, "model", "", "LLM model (overrides config)")
}

func writeDeepDive(w io.Writer, res *pipeline.DeepDive, format string) error {
	if format == "json" {
		return writeJSON(w, res.Commentary)
	}
	var b strings.Builder
	for i, seg := range res.Commentary.Segments {
		fmt.Fprintf(&b, "## %s\n\n", seg.Segment)
		if i < len(res.Result.Segments) {
			b.WriteString(res.Result.Segments[i].Comparison.Markdown())
			b.WriteString("\n")
		}
		if seg.Failed {
			b.WriteString("_(commentary unavailable for this segment)_\n\n")
			continue
		}
		if seg.Insight != "" {
			fmt.Fprintf(&b, "%s\n\n", seg.Insight)
		}
		b.WriteString(commentaryMarkdown(seg.KeyInsights, seg.FinalVerdict, seg.ScalabilityVerdict))
		b.WriteString("\n")
	}
	if len(res.Commentary.OverallCommentary) > 0 {
		b.WriteString("## Across segments\n\n")
		for _, s := range res.Commentary.OverallCommentary {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

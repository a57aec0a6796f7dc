package commentary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/KaramelBytes/abverdict/internal/ai"
	"github.com/KaramelBytes/abverdict/internal/analysis"
	"github.com/KaramelBytes/abverdict/internal/config"
	"github.com/KaramelBytes/abverdict/internal/utils"
	"golang.org/x/sync/errgroup"
)

// Call kinds reported to OnCall.
const (
	KindOverall = "overall"
	KindSegment = "segment"
	KindSummary = "summary"
)

const (
	DefaultMaxParallel    = 4
	DefaultMaxTableTokens = 6000
)

// Error wraps a failed commentary step.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("LLM %s analysis failed: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Generator turns comparison tables into model-written commentary.
type Generator struct {
	Runtime     ai.Runtime
	Model       string
	MaxTokens   int
	Temperature float64
	// MaxParallel bounds concurrent segment calls.
	MaxParallel int
	// MaxTableTokens caps the metric table JSON embedded in a prompt.
	MaxTableTokens int
	Logger         *slog.Logger
	// OnCall, when set, observes every model call.
	OnCall func(kind string, elapsed time.Duration, err error)
}

func (g *Generator) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func (g *Generator) tableTokens() int {
	if g.MaxTableTokens > 0 {
		return g.MaxTableTokens
	}
	return DefaultMaxTableTokens
}

// call sends one prompt and returns the reply text.
func (g *Generator) call(ctx context.Context, kind, prompt string, jsonMode bool) (string, error) {
	if g.Runtime == nil {
		return "", fmt.Errorf("no LLM runtime configured")
	}
	start := time.Now()
	resp, err := g.Runtime.Generate(ctx, ai.GenerateRequest{
		Model: g.Model,
		Messages: []ai.Message{
			{Role: "system", Content: systemMessage},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   g.MaxTokens,
		Temperature: g.Temperature,
		JSONMode:    jsonMode,
	})
	elapsed := time.Since(start)
	if err == nil && resp.Text() == "" {
		err = fmt.Errorf("empty response from model %s", g.Model)
	}
	if g.OnCall != nil {
		g.OnCall(kind, elapsed, err)
	}
	if err != nil {
		return "", err
	}
	attrs := []any{
		"kind", kind,
		"model", g.Model,
		"elapsed", elapsed,
		"total_tokens", resp.Usage.TotalTokens,
		"est_prompt_tokens", utils.TokenBreakdown(map[string]string{"system": systemMessage, "user": prompt}),
	}
	if cost, ok := ai.EstimateCostUSD(g.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens); ok {
		attrs = append(attrs, "est_cost_usd", fmt.Sprintf("%.4f", cost))
	}
	g.logger().Debug("llm call", attrs...)
	return resp.Text(), nil
}

// Overall asks the model for a verdict on the whole experiment.
func (g *Generator) Overall(ctx context.Context, system string, docs *config.Documents, cmp *analysis.Comparison) (*OverallAnalysis, error) {
	prompt, tokens, err := BuildOverallPrompt(system, docs, cmp, g.tableTokens())
	if err != nil {
		return nil, &Error{Op: KindOverall, Err: err}
	}
	g.logger().Debug("overall prompt", "system", system, "tokens", tokens)

	text, err := g.call(ctx, KindOverall, prompt, true)
	if err != nil {
		return nil, &Error{Op: KindOverall, Err: err}
	}
	var out OverallAnalysis
	if err := ParseLLMJSON(text, &out); err != nil {
		return nil, &Error{Op: KindOverall, Err: err}
	}
	out.normalize()
	return &out, nil
}

// DeepDive writes commentary for every segment, then a cross-segment
// summary. Segment calls run concurrently; results keep segment order. A
// failed segment call yields a placeholder and a failed summary call yields a
// single explanatory bullet, so only context cancellation returns an error.
func (g *Generator) DeepDive(ctx context.Context, system string, docs *config.Documents, segments []analysis.SegmentComparison) (*DeepDiveResult, error) {
	out := &DeepDiveResult{Segments: make([]DeepDiveSegment, len(segments))}

	limit := g.MaxParallel
	if limit <= 0 {
		limit = DefaultMaxParallel
	}
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, seg := range segments {
		i, seg := i, seg
		eg.Go(func() error {
			s, err := g.segment(egctx, system, docs, seg)
			if err != nil {
				if egctx.Err() != nil {
					return egctx.Err()
				}
				g.logger().Warn("segment commentary failed", "segment", seg.Name(), "error", err)
				s = placeholderSegment(seg)
			}
			out.Segments[i] = s
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out.OverallCommentary = g.summary(ctx, system, docs, out.Segments)
	return out, nil
}

func (g *Generator) segment(ctx context.Context, system string, docs *config.Documents, seg analysis.SegmentComparison) (DeepDiveSegment, error) {
	prompt, _, err := BuildSegmentPrompt(system, docs, seg, g.tableTokens())
	if err != nil {
		return DeepDiveSegment{}, err
	}
	text, err := g.call(ctx, KindSegment, prompt, true)
	if err != nil {
		return DeepDiveSegment{}, err
	}
	var reply segmentReply
	if err := ParseLLMJSON(text, &reply); err != nil {
		return DeepDiveSegment{}, err
	}
	return reply.segment(seg.Name()), nil
}

func (g *Generator) summary(ctx context.Context, system string, docs *config.Documents, segments []DeepDiveSegment) []string {
	prompt, _, err := BuildSummaryPrompt(system, docs, segments, g.tableTokens())
	if err != nil {
		return []string{fmt.Sprintf("LLM summary failed: %v", err)}
	}
	// a JSON array is wanted here, which json_object mode would forbid
	text, err := g.call(ctx, KindSummary, prompt, false)
	if err != nil {
		g.logger().Warn("summary commentary failed", "error", err)
		return []string{fmt.Sprintf("LLM summary failed: %v", err)}
	}
	return parseBullets(text)
}

// placeholderSegment reports the segment's first row as neutral metrics.
func placeholderSegment(seg analysis.SegmentComparison) DeepDiveSegment {
	s := DeepDiveSegment{Segment: seg.Name(), Failed: true}
	var src *analysis.Table
	if seg.Comparison != nil {
		src = seg.Comparison.Source
	} else {
		src = seg.Segment.Table
	}
	if src.Len() > 0 {
		for _, f := range src.Rows[0].Record() {
			v, ok := f.Value.Float()
			if !ok || !f.Value.IsNumber() {
				continue
			}
			s.Metrics = append(s.Metrics, MetricRow{
				Name:         f.Name,
				Value:        v,
				Baseline:     v,
				Significance: SignificanceNeutral,
			})
		}
	}
	s.normalize()
	return s
}

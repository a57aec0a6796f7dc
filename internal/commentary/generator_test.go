package commentary

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KaramelBytes/abverdict/internal/ai"
	"github.com/KaramelBytes/abverdict/internal/analysis"
	"github.com/KaramelBytes/abverdict/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	mu       sync.Mutex
	requests []ai.GenerateRequest
	reply    func(req ai.GenerateRequest) (string, error)
}

func (f *fakeRuntime) Generate(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	text, err := f.reply(req)
	if err != nil {
		return nil, err
	}
	return &ai.GenerateResponse{
		Choices: []ai.Choice{{Message: ai.Message{Role: "assistant", Content: text}}},
		Usage:   ai.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}, nil
}

func prompt(req ai.GenerateRequest) string { return req.Messages[len(req.Messages)-1].Content }

func cohortRow(kv ...any) analysis.Row {
	r := analysis.NewRow()
	for i := 0; i+1 < len(kv); i += 2 {
		switch v := kv[i+1].(type) {
		case string:
			r.Set(kv[i].(string), analysis.String(v))
		case int:
			r.Set(kv[i].(string), analysis.Number(float64(v)))
		case float64:
			r.Set(kv[i].(string), analysis.Number(v))
		}
	}
	return r
}

func regionTable() *analysis.Table {
	return analysis.NewTable([]analysis.Row{
		cohortRow("Region", "US", analysis.DefaultCohortColumn, "control", "Profit", 100),
		cohortRow("Region", "US", analysis.DefaultCohortColumn, "variantA", "Profit", 120),
		cohortRow("Region", "EU", analysis.DefaultCohortColumn, "control", "Profit", 80),
		cohortRow("Region", "EU", analysis.DefaultCohortColumn, "variantA", "Profit", 60),
		cohortRow("Region", "APAC", analysis.DefaultCohortColumn, "control", "Profit", 10),
		cohortRow("Region", "APAC", analysis.DefaultCohortColumn, "variantA", "Profit", 11),
	})
}

var profitOnly = []analysis.MetricDefinition{{Name: "Profit", Format: analysis.FormatCurrency}}

func testDocs() *config.Documents {
	return &config.Documents{
		Metrics:          config.MetricConfig{Metrics: []config.MetricEntry{{Name: "Profit", Definition: "revenue minus payout"}}},
		System:           config.SystemConfig{ImportantMetrics: []string{"Profit"}},
		SystemDefinition: map[string]any{"goal": "maximize profit"},
		DeepDive:         map[string]any{"focus": "regions"},
	}
}

func TestOverall(t *testing.T) {
	rt := &fakeRuntime{reply: func(ai.GenerateRequest) (string, error) {
		return `{
		  "key_insights": ["variantA lifts profit by 20%"],
		  "final_verdict": "Final Verdict: variantA is best overall",
		  "scalability_verdict": "Scale - • profit +20%",
		  "metrics_table": [{"name": "Profit", "value": 120, "baseline": 100, "change": "20%", "significance": "positive"}]
		}`, nil
	}}
	var calls int32
	g := &Generator{Runtime: rt, Model: "o3-mini", OnCall: func(kind string, _ time.Duration, err error) {
		assert.Equal(t, KindOverall, kind)
		assert.NoError(t, err)
		atomic.AddInt32(&calls, 1)
	}}
	seg, err := analysis.SegmentTable(regionTable(), []string{"Region"})
	require.NoError(t, err)
	cmp := analysis.BuildComparison(seg[0].Table, "", profitOnly)

	out, err := g.Overall(context.Background(), "Bidder", testDocs(), cmp)
	require.NoError(t, err)
	assert.Equal(t, "Final Verdict: variantA is best overall", out.FinalVerdict)
	assert.Equal(t, "Scale", out.ScalabilityVerdict.Verdict)
	assert.Equal(t, []string{"Scale -", "profit +20%"}, out.ScalabilityVerdict.Reasons)
	require.Len(t, out.MetricsTable, 1)
	assert.Equal(t, 20.0, out.MetricsTable[0].Change)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	require.Len(t, rt.requests, 1)
	req := rt.requests[0]
	assert.True(t, req.JSONMode)
	assert.Equal(t, "o3-mini", req.Model)
	p := prompt(req)
	assert.Contains(t, p, "overall Bidder experiment")
	assert.Contains(t, p, "Control cohort: control")
	assert.Contains(t, p, `"% Change in Profit": "+20.00%"`)
	assert.Contains(t, p, "revenue minus payout")
	assert.Contains(t, p, "maximize profit")
	assert.NotContains(t, p, "Deep Dive Config")
}

func TestOverallErrors(t *testing.T) {
	cmp := analysis.BuildComparison(regionTable(), "", profitOnly)

	failing := &Generator{Runtime: &fakeRuntime{reply: func(ai.GenerateRequest) (string, error) {
		return "", errors.New("boom")
	}}}
	_, err := failing.Overall(context.Background(), "Bidder", nil, cmp)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindOverall, ce.Op)
	assert.Contains(t, err.Error(), "boom")

	garbled := &Generator{Runtime: &fakeRuntime{reply: func(ai.GenerateRequest) (string, error) {
		return "I think variantA wins", nil
	}}}
	_, err = garbled.Overall(context.Background(), "Bidder", nil, cmp)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)

	_, err = (&Generator{}).Overall(context.Background(), "Bidder", nil, cmp)
	require.Error(t, err)
}

func TestDeepDive(t *testing.T) {
	rt := &fakeRuntime{reply: func(req ai.GenerateRequest) (string, error) {
		p := prompt(req)
		switch {
		case strings.Contains(p, "Segment: Region = EU"):
			return "", errors.New("rate limited")
		case strings.Contains(p, "Segment: Region = "):
			return `{"metrics": [{"name": "Profit", "value": 1, "baseline": 1, "change": "0%", "significance": "neutral"}],
			  "key_insights": ["ok"], "final_verdict": "v", "scalability_verdict": {"verdict": "Hold", "reasons": ["r"]},
			  "summary": "segment summary"}`, nil
		default:
			assert.False(t, req.JSONMode)
			return `["US gains", "EU loses"]`, nil
		}
	}}
	segs, err := analysis.CompareSegments(regionTable(), []string{"Region"}, "", profitOnly)
	require.NoError(t, err)

	g := &Generator{Runtime: rt, Model: "o3-mini", MaxParallel: 2}
	out, err := g.DeepDive(context.Background(), "Bidder", testDocs(), segs)
	require.NoError(t, err)

	require.Len(t, out.Segments, 3)
	assert.Equal(t, "Region = US", out.Segments[0].Segment)
	assert.Equal(t, "Region = EU", out.Segments[1].Segment)
	assert.Equal(t, "Region = APAC", out.Segments[2].Segment)

	us := out.Segments[0]
	assert.False(t, us.Failed)
	assert.Equal(t, "segment summary", us.Insight)
	assert.Equal(t, "Hold", us.ScalabilityVerdict.Verdict)

	eu := out.Segments[1]
	assert.True(t, eu.Failed)
	assert.Empty(t, eu.KeyInsights)
	assert.Equal(t, []MetricRow{{Name: "Profit", Value: 80, Baseline: 80, Significance: SignificanceNeutral}}, eu.Metrics)

	assert.Equal(t, []string{"US gains", "EU loses"}, out.OverallCommentary)
	assert.Len(t, rt.requests, 4)
	for _, req := range rt.requests {
		if strings.Contains(prompt(req), "Segment: ") && !strings.Contains(prompt(req), "Segments: ") {
			assert.Contains(t, prompt(req), "Deep Dive Config")
		}
	}
}

func TestDeepDiveSummaryFailure(t *testing.T) {
	rt := &fakeRuntime{reply: func(req ai.GenerateRequest) (string, error) {
		if strings.Contains(prompt(req), "Segments: ") {
			return "", errors.New("timeout")
		}
		return `{"key_insights": [], "final_verdict": "", "scalability_verdict": {"verdict": "", "reasons": []}, "metrics": []}`, nil
	}}
	segs, err := analysis.CompareSegments(regionTable(), []string{"Region"}, "", profitOnly)
	require.NoError(t, err)

	out, err := (&Generator{Runtime: rt}).DeepDive(context.Background(), "Bidder", nil, segs)
	require.NoError(t, err)
	assert.Equal(t, []string{"LLM summary failed: timeout"}, out.OverallCommentary)
}

func TestDeepDiveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rt := &fakeRuntime{reply: func(ai.GenerateRequest) (string, error) {
		cancel()
		return "", context.Canceled
	}}
	segs, err := analysis.CompareSegments(regionTable(), []string{"Region"}, "", profitOnly)
	require.NoError(t, err)

	_, err = (&Generator{Runtime: rt, MaxParallel: 1}).DeepDive(ctx, "Bidder", nil, segs)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBuildOverallPromptTruncatesTable(t *testing.T) {
	cmp := analysis.BuildComparison(regionTable(), "", profitOnly)
	p, tokens, err := BuildOverallPrompt("Bidder", nil, cmp, 10)
	require.NoError(t, err)
	assert.Contains(t, p, "(metric table truncated)")
	assert.Greater(t, tokens, 0)

	p, _, err = BuildOverallPrompt("Bidder", nil, cmp, 0)
	require.NoError(t, err)
	assert.Contains(t, p, "Control cohort: control")
	assert.Contains(t, p, "multiple rows per cohort")
	assert.Contains(t, p, `"% Change in Profit": "-40.00%"`)

	fallback := analysis.BuildComparison(analysis.NewTable([]analysis.Row{cohortRow("Profit", 1)}), "", profitOnly)
	p, _, err = BuildOverallPrompt("Bidder", nil, fallback, 0)
	require.NoError(t, err)
	assert.Contains(t, p, "no control cohort could be identified")
}

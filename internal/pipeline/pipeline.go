// Package pipeline wires the query client, the analysis engine and the
// commentary generator into the operations exposed by the CLI and server.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/KaramelBytes/abverdict/internal/analysis"
	"github.com/KaramelBytes/abverdict/internal/commentary"
	"github.com/KaramelBytes/abverdict/internal/config"
	"github.com/KaramelBytes/abverdict/internal/query"
)

// ErrNoCommentary is returned by commentary operations when no generator is
// configured.
var ErrNoCommentary = errors.New("commentary generator not configured")

// Fetcher retrieves a flattened result table for a query request.
type Fetcher interface {
	FetchTable(ctx context.Context, req query.Request) (*analysis.Table, error)
}

// DocumentSource provides the current configuration documents.
type DocumentSource interface {
	Load() (*config.Documents, error)
}

// FetchError wraps a failed query service call.
type FetchError struct{ Err error }

func (e *FetchError) Error() string { return fmt.Sprintf("query fetch failed: %v", e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }

// Options tunes the analysis steps.
type Options struct {
	CohortColumn string
	Derive       analysis.DeriveOptions
	// Threshold is the per-dimension row threshold of deep-dive requests.
	Threshold int
}

// Pipeline runs comparisons and commentary end to end.
type Pipeline struct {
	fetcher Fetcher
	docs    DocumentSource
	gen     *commentary.Generator
	opt     Options
	logger  *slog.Logger
}

// New builds a pipeline. fetcher is only needed for request-based
// operations and gen only for commentary.
func New(fetcher Fetcher, docs DocumentSource, gen *commentary.Generator, opt Options, logger *slog.Logger) *Pipeline {
	if opt.CohortColumn == "" {
		opt.CohortColumn = analysis.DefaultCohortColumn
	}
	if opt.Threshold <= 0 {
		opt.Threshold = query.DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	if gen != nil && gen.OnCall == nil {
		gen.OnCall = observeLLMCall
	}
	return &Pipeline{fetcher: fetcher, docs: docs, gen: gen, opt: opt, logger: logger}
}

// CohortColumn is the column holding cohort labels.
func (p *Pipeline) CohortColumn() string { return p.opt.CohortColumn }

// Result is a comparison of a whole table and, when dimensions were given,
// of each of its segments.
type Result struct {
	Table      *analysis.Table
	Comparison *analysis.Comparison
	Dimensions []string
	Segments   []analysis.SegmentComparison
}

// Documents loads the configuration documents, falling back to empty ones
// when no source is configured.
func (p *Pipeline) Documents() (*config.Documents, error) {
	if p.docs == nil {
		return &config.Documents{}, nil
	}
	return p.docs.Load()
}

// Prepare derives metrics on a raw table. Cohort and dimension columns keep
// their labels as text.
func (p *Pipeline) Prepare(t *analysis.Table, dims []string) *analysis.Table {
	opt := p.opt.Derive
	opt.Labels = append(append([]string{p.opt.CohortColumn}, opt.Labels...), dims...)
	return analysis.Derive(t, opt)
}

func (p *Pipeline) fetch(ctx context.Context, req query.Request, dims []string) (*analysis.Table, error) {
	if p.fetcher == nil {
		return nil, &FetchError{Err: errors.New("no query client configured")}
	}
	if len(dims) > 0 {
		var err error
		if req, err = query.WithDimensions(req, dims, p.opt.Threshold); err != nil {
			return nil, err
		}
	}
	t, err := p.fetcher.FetchTable(ctx, req)
	if err != nil {
		var mte *analysis.MalformedTreeError
		if errors.As(err, &mte) {
			return nil, err
		}
		fetchErrors.Inc()
		return nil, &FetchError{Err: err}
	}
	return t, nil
}

// CompareTable compares a raw table overall and, when dims is non-empty,
// per segment.
func (p *Pipeline) CompareTable(t *analysis.Table, dims []string) (*Result, error) {
	docs, err := p.Documents()
	if err != nil {
		return nil, err
	}
	metrics := docs.TrackedMetrics()
	prepared := p.Prepare(t, dims)

	res := &Result{
		Table:      prepared,
		Comparison: analysis.BuildComparison(prepared, p.opt.CohortColumn, metrics),
		Dimensions: dims,
	}
	if res.Comparison.Fallback {
		controlFallbacks.WithLabelValues("overall").Inc()
		p.logger.Info("comparison fallback", "reason", res.Comparison.Reason)
	}
	if len(dims) == 0 {
		return res, nil
	}
	segs, err := analysis.CompareSegments(prepared, dims, p.opt.CohortColumn, metrics)
	if err != nil {
		return nil, err
	}
	for _, s := range segs {
		if s.Comparison.Fallback {
			controlFallbacks.WithLabelValues("segment").Inc()
		}
	}
	res.Segments = segs
	return res, nil
}

// Compare fetches req, grouped by dims when given, and compares the result.
func (p *Pipeline) Compare(ctx context.Context, req query.Request, dims []string) (*Result, error) {
	t, err := p.fetch(ctx, req, dims)
	if err != nil {
		return nil, err
	}
	return p.CompareTable(t, dims)
}

// Analysis is an overall comparison with its commentary.
type Analysis struct {
	Result     *Result
	Commentary *commentary.OverallAnalysis
}

// AnalyzeTable compares t and asks for an overall verdict.
func (p *Pipeline) AnalyzeTable(ctx context.Context, t *analysis.Table, system string) (*Analysis, error) {
	if p.gen == nil {
		return nil, ErrNoCommentary
	}
	res, err := p.CompareTable(t, nil)
	if err != nil {
		return nil, err
	}
	docs, err := p.Documents()
	if err != nil {
		return nil, err
	}
	out, err := p.gen.Overall(ctx, system, docs, res.Comparison)
	if err != nil {
		return nil, err
	}
	return &Analysis{Result: res, Commentary: out}, nil
}

// Analyze fetches req and asks for an overall verdict.
func (p *Pipeline) Analyze(ctx context.Context, req query.Request, system string) (*Analysis, error) {
	if p.gen == nil {
		return nil, ErrNoCommentary
	}
	t, err := p.fetch(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	return p.AnalyzeTable(ctx, t, system)
}

// DeepDive is a segmented comparison with per-segment commentary.
type DeepDive struct {
	Result     *Result
	Commentary *commentary.DeepDiveResult
}

// DeepDiveTable segments t by dims and writes commentary per segment.
func (p *Pipeline) DeepDiveTable(ctx context.Context, t *analysis.Table, system string, dims []string) (*DeepDive, error) {
	if len(dims) == 0 {
		return nil, &analysis.NoDimensionsError{}
	}
	if p.gen == nil {
		return nil, ErrNoCommentary
	}
	res, err := p.CompareTable(t, dims)
	if err != nil {
		return nil, err
	}
	segmentsPerDeepDive.Observe(float64(len(res.Segments)))
	p.logger.Info("deep dive", "dimensions", dims, "segments", len(res.Segments))

	docs, err := p.Documents()
	if err != nil {
		return nil, err
	}
	out, err := p.gen.DeepDive(ctx, system, docs, res.Segments)
	if err != nil {
		return nil, err
	}
	return &DeepDive{Result: res, Commentary: out}, nil
}

// DeepDive fetches req grouped by dims and writes per-segment commentary.
func (p *Pipeline) DeepDive(ctx context.Context, req query.Request, system string, dims []string) (*DeepDive, error) {
	if len(dims) == 0 {
		return nil, &analysis.NoDimensionsError{}
	}
	if p.gen == nil {
		return nil, ErrNoCommentary
	}
	t, err := p.fetch(ctx, req, dims)
	if err != nil {
		return nil, err
	}
	return p.DeepDiveTable(ctx, t, system, dims)
}

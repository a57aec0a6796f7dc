package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/KaramelBytes/abverdict/internal/ai"
	"github.com/KaramelBytes/abverdict/internal/analysis"
	"github.com/KaramelBytes/abverdict/internal/commentary"
	cfgpkg "github.com/KaramelBytes/abverdict/internal/config"
	"github.com/KaramelBytes/abverdict/internal/pipeline"
	"github.com/KaramelBytes/abverdict/internal/query"
)

type runtimeOptions struct {
	ProviderFlag string
	ModelFlag    string
}

// buildRuntime selects the LLM runtime from flags and config. It returns the
// runtime, the normalized provider name and the model to use.
func buildRuntime(cfg *cfgpkg.Global, opts runtimeOptions) (ai.Runtime, string, string, error) {
	httpTimeout := 60 * time.Second
	retryMax := 3
	baseDelay := 500 * time.Millisecond
	maxDelay := 4 * time.Second
	if cfg != nil {
		if cfg.HTTPTimeoutSec > 0 {
			httpTimeout = time.Duration(cfg.HTTPTimeoutSec) * time.Second
		}
		if cfg.RetryMaxAttempts > 0 {
			retryMax = cfg.RetryMaxAttempts
		}
		if cfg.RetryBaseDelayMs > 0 {
			baseDelay = time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
		}
		if cfg.RetryMaxDelayMs > 0 {
			maxDelay = time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond
		}
	}

	providerName := strings.ToLower(strings.TrimSpace(opts.ProviderFlag))
	if providerName == "" && cfg != nil && cfg.LLMProvider != "" {
		providerName = strings.ToLower(cfg.LLMProvider)
	}
	if providerName == "" {
		providerName = ai.ProviderOpenAI
	}
	switch providerName {
	case "open-router", "or":
		providerName = ai.ProviderOpenRouter
	case "oai", "chatgpt":
		providerName = ai.ProviderOpenAI
	}

	var apiKey string
	if cfg != nil {
		apiKey = cfg.APIKey
		if providerName == ai.ProviderOpenAI {
			apiKey = cfg.OpenAIAPIKey
		}
	}
	if apiKey == "" {
		return nil, "", "", fmt.Errorf("no API key for provider %q (set %s)", providerName, keyHint(providerName))
	}

	model := strings.TrimSpace(opts.ModelFlag)
	if model == "" && cfg != nil {
		model = cfg.LLMModel
	}
	if model == "" {
		model = "o3-mini"
	}

	rt, ok := ai.GetRuntime(providerName, ai.RuntimeConfig{
		HTTPTimeout: httpTimeout,
		RetryMax:    retryMax,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		APIKey:      apiKey,
	})
	if !ok {
		return nil, "", "", fmt.Errorf("unknown provider %q (use %s)", providerName, strings.Join(ai.Providers(), " or "))
	}
	return rt, providerName, model, nil
}

func keyHint(provider string) string {
	if provider == ai.ProviderOpenAI {
		return "OPENAI_API_KEY or openai_api_key"
	}
	return "OPENROUTER_API_KEY or api_key"
}

// newGenerator builds a commentary generator from config.
func newGenerator(cfg *cfgpkg.Global, rt ai.Runtime, model string) *commentary.Generator {
	g := &commentary.Generator{Runtime: rt, Model: model, Logger: slog.Default()}
	if cfg != nil {
		g.MaxTokens = cfg.MaxTokens
		g.Temperature = cfg.Temperature
		g.MaxParallel = cfg.CommentaryMaxParallel
		g.MaxTableTokens = cfg.CommentaryMaxTableTokens
	}
	return g
}

func pipelineOptions(cfg *cfgpkg.Global) pipeline.Options {
	opt := pipeline.Options{Derive: analysis.DefaultDeriveOptions()}
	if cfg == nil {
		return opt
	}
	opt.CohortColumn = cfg.CohortColumn
	opt.Threshold = cfg.DeepDiveThreshold
	if cfg.DeriveRequestsColumn != "" {
		opt.Derive.RequestsColumn = cfg.DeriveRequestsColumn
	}
	if cfg.DeriveProfitColumn != "" {
		opt.Derive.ProfitColumn = cfg.DeriveProfitColumn
	}
	if cfg.DeriveRate > 0 {
		opt.Derive.CostPerMillion = cfg.DeriveRate
	}
	return opt
}

func queryClient(cfg *cfgpkg.Global) *query.Client {
	if cfg == nil {
		return query.New(query.Options{})
	}
	return query.New(query.Options{
		BaseURL:     cfg.QueryBaseURL,
		User:        cfg.QueryUser,
		Token:       cfg.QueryToken,
		Group:       cfg.QueryGroup,
		ContentType: cfg.QueryContentType,
		Timeout:     time.Duration(cfg.QueryTimeoutSec) * time.Second,
	})
}

func docStore(cfg *cfgpkg.Global) *cfgpkg.DocStore {
	if cfg == nil || cfg.ConfigDir == "" {
		return nil
	}
	return cfgpkg.NewDocStore(cfg.ConfigDir, slog.Default())
}

// buildPipeline wires a pipeline from config. gen may be nil when no
// commentary is wanted.
func buildPipeline(cfg *cfgpkg.Global, gen *commentary.Generator) (*pipeline.Pipeline, *cfgpkg.DocStore) {
	store := docStore(cfg)
	var docs pipeline.DocumentSource
	if store != nil {
		docs = store
	}
	return pipeline.New(queryClient(cfg), docs, gen, pipelineOptions(cfg), slog.Default()), store
}

// readTable loads a saved query service response and flattens it.
func readTable(path string) (*analysis.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open response: %w", err)
	}
	defer f.Close()
	t, err := analysis.ParseResponse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return t, nil
}

// readRequest loads a query service request body.
func readRequest(path string) (query.Request, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	req, err := query.ParseRequest(b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return req, nil
}

// inputArgs validates the positional response file against --request.
func inputArgs(args []string, requestPath string) (string, error) {
	switch {
	case len(args) == 1 && requestPath != "":
		return "", fmt.Errorf("pass either a response file or --request, not both")
	case len(args) == 1:
		return args[0], nil
	case requestPath != "":
		return "", nil
	}
	return "", fmt.Errorf("a response file or --request is required")
}

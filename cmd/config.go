package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/KaramelBytes/abverdict/internal/ai"
	cfgpkg "github.com/KaramelBytes/abverdict/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set abverdict configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := ensureConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "query_base_url: %s\n", c.QueryBaseURL)
		if c.QueryUser != "" {
			fmt.Fprintf(out, "query_user: %s\n", c.QueryUser)
		}
		fmt.Fprintf(out, "query_token: %s\n", mask(c.QueryToken))
		if c.QueryGroup != "" {
			fmt.Fprintf(out, "query_group: %s\n", c.QueryGroup)
		}
		fmt.Fprintf(out, "query_content_type: %s\n", c.QueryContentType)
		fmt.Fprintf(out, "query_timeout_sec: %d\n", c.QueryTimeoutSec)
		fmt.Fprintf(out, "llm_provider: %s\n", c.LLMProvider)
		fmt.Fprintf(out, "llm_model: %s\n", c.LLMModel)
		fmt.Fprintf(out, "api_key: %s\n", mask(c.APIKey))
		fmt.Fprintf(out, "openai_api_key: %s\n", mask(c.OpenAIAPIKey))
		fmt.Fprintf(out, "max_tokens: %d\n", c.MaxTokens)
		fmt.Fprintf(out, "temperature: %.3f\n", c.Temperature)
		fmt.Fprintf(out, "http_timeout_sec: %d\n", c.HTTPTimeoutSec)
		fmt.Fprintf(out, "retry_max_attempts: %d\n", c.RetryMaxAttempts)
		fmt.Fprintf(out, "retry_base_delay_ms: %d\n", c.RetryBaseDelayMs)
		fmt.Fprintf(out, "retry_max_delay_ms: %d\n", c.RetryMaxDelayMs)
		fmt.Fprintf(out, "config_dir: %s\n", c.ConfigDir)
		fmt.Fprintf(out, "server_addr: %s\n", c.ServerAddr)
		fmt.Fprintf(out, "log_level: %s\n", c.LogLevel)
		fmt.Fprintf(out, "log_format: %s\n", c.LogFormat)
		fmt.Fprintf(out, "cohort_column: %s\n", c.CohortColumn)
		fmt.Fprintf(out, "derive_requests_column: %s\n", c.DeriveRequestsColumn)
		fmt.Fprintf(out, "derive_profit_column: %s\n", c.DeriveProfitColumn)
		fmt.Fprintf(out, "derive_rate: %g\n", c.DeriveRate)
		fmt.Fprintf(out, "deep_dive_threshold: %d\n", c.DeepDiveThreshold)
		fmt.Fprintf(out, "commentary_max_parallel: %d\n", c.CommentaryMaxParallel)
		fmt.Fprintf(out, "commentary_max_table_tokens: %d\n", c.CommentaryMaxTableTokens)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		c, err := ensureConfig()
		if err != nil {
			return err
		}
		if err := setKey(c, key, val); err != nil {
			return err
		}
		if err := cfgpkg.Save(c, cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Saved config")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func setKey(c *cfgpkg.Global, key, val string) error {
	switch key {
	case "query_base_url":
		c.QueryBaseURL = val
	case "query_user":
		c.QueryUser = val
	case "query_token":
		c.QueryToken = val
	case "query_group":
		c.QueryGroup = val
	case "query_content_type":
		c.QueryContentType = val
	case "llm_provider":
		switch strings.ToLower(val) {
		case ai.ProviderOpenAI, "oai":
			c.LLMProvider = ai.ProviderOpenAI
		case ai.ProviderOpenRouter, "open-router":
			c.LLMProvider = ai.ProviderOpenRouter
		default:
			return fmt.Errorf("invalid llm_provider: %s (use openai or openrouter)", val)
		}
	case "llm_model":
		c.LLMModel = val
	case "api_key":
		c.APIKey = val
	case "openai_api_key":
		c.OpenAIAPIKey = val
	case "temperature":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid float for temperature: %w", err)
		}
		c.Temperature = f
	case "derive_rate":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("invalid float for derive_rate: %v", val)
		}
		c.DeriveRate = f
	case "config_dir":
		c.ConfigDir = val
	case "server_addr":
		c.ServerAddr = val
	case "log_level":
		c.LogLevel = val
	case "log_format":
		switch val {
		case "text", "json":
			c.LogFormat = val
		default:
			return fmt.Errorf("invalid log_format: %s (use text or json)", val)
		}
	case "cohort_column":
		c.CohortColumn = val
	case "derive_requests_column":
		c.DeriveRequestsColumn = val
	case "derive_profit_column":
		c.DeriveProfitColumn = val
	default:
		dst, ok := intKeys(c)[key]
		if !ok {
			return fmt.Errorf("unknown key: %s", key)
		}
		i, err := strconv.Atoi(val)
		if err != nil || i < 0 {
			return fmt.Errorf("invalid int for %s: %v", key, val)
		}
		*dst = i
	}
	return nil
}

func intKeys(c *cfgpkg.Global) map[string]*int {
	return map[string]*int{
		"query_timeout_sec":           &c.QueryTimeoutSec,
		"max_tokens":                  &c.MaxTokens,
		"http_timeout_sec":            &c.HTTPTimeoutSec,
		"retry_max_attempts":          &c.RetryMaxAttempts,
		"retry_base_delay_ms":         &c.RetryBaseDelayMs,
		"retry_max_delay_ms":          &c.RetryMaxDelayMs,
		"deep_dive_threshold":         &c.DeepDiveThreshold,
		"commentary_max_parallel":     &c.CommentaryMaxParallel,
		"commentary_max_table_tokens": &c.CommentaryMaxTableTokens,
	}
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/KaramelBytes/abverdict/internal/utils"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Global configuration structure.
type Global struct {
	// Query service
	QueryBaseURL     string `mapstructure:"query_base_url" yaml:"query_base_url"`
	QueryUser        string `mapstructure:"query_user" yaml:"query_user"`
	QueryToken       string `mapstructure:"query_token" yaml:"query_token"`
	QueryGroup       string `mapstructure:"query_group" yaml:"query_group"`
	QueryContentType string `mapstructure:"query_content_type" yaml:"query_content_type"`
	QueryTimeoutSec  int    `mapstructure:"query_timeout_sec" yaml:"query_timeout_sec"`

	// LLM
	LLMProvider  string  `mapstructure:"llm_provider" yaml:"llm_provider"`
	LLMModel     string  `mapstructure:"llm_model" yaml:"llm_model"`
	APIKey       string  `mapstructure:"api_key" yaml:"api_key"`
	OpenAIAPIKey string  `mapstructure:"openai_api_key" yaml:"openai_api_key"`
	MaxTokens    int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature  float64 `mapstructure:"temperature" yaml:"temperature"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	// Configuration documents and server
	ConfigDir  string `mapstructure:"config_dir" yaml:"config_dir"`
	ServerAddr string `mapstructure:"server_addr" yaml:"server_addr"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat  string `mapstructure:"log_format" yaml:"log_format"`

	// Analysis
	CohortColumn         string  `mapstructure:"cohort_column" yaml:"cohort_column"`
	DeriveRequestsColumn string  `mapstructure:"derive_requests_column" yaml:"derive_requests_column"`
	DeriveProfitColumn   string  `mapstructure:"derive_profit_column" yaml:"derive_profit_column"`
	DeriveRate           float64 `mapstructure:"derive_rate" yaml:"derive_rate"`
	DeepDiveThreshold    int     `mapstructure:"deep_dive_threshold" yaml:"deep_dive_threshold"`

	// Commentary
	CommentaryMaxParallel    int `mapstructure:"commentary_max_parallel" yaml:"commentary_max_parallel"`
	CommentaryMaxTableTokens int `mapstructure:"commentary_max_table_tokens" yaml:"commentary_max_table_tokens"`
}

// legacyEnv lists environment variables honoured without the ABVERDICT_
// prefix, matching the names deployments already export.
var legacyEnv = map[string][]string{
	"query_base_url":     {"QUERY_API_BASE"},
	"query_user":         {"QUERY_API_USER"},
	"query_token":        {"QUERY_API_TOKEN"},
	"query_group":        {"QUERY_API_GROUP"},
	"query_content_type": {"QUERY_CONTENT_TYPE"},
	"api_key":            {"OPENROUTER_API_KEY"},
	"openai_api_key":     {"OPENAI_API_KEY"},
}

func defaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".abverdict"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.abverdict/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	var path string
	if cfgFile != "" {
		path = cfgFile
	} else {
		dir, err := defaultDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := utils.SafeWriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults. ABVERDICT_* variables win over
// the unprefixed legacy names.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("ABVERDICT")
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		args := append([]string{key, "ABVERDICT_" + strings.ToUpper(key)}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	// Defaults. Empty defaults register the key so AutomaticEnv reaches it
	// during Unmarshal.
	v.SetDefault("query_base_url", "")
	v.SetDefault("query_user", "")
	v.SetDefault("query_token", "")
	v.SetDefault("query_group", "")
	v.SetDefault("api_key", "")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("config_dir", "")
	v.SetDefault("query_content_type", "application/json")
	v.SetDefault("query_timeout_sec", 120)
	v.SetDefault("llm_provider", "openai")
	v.SetDefault("llm_model", "o3-mini")
	v.SetDefault("max_tokens", 2048)
	v.SetDefault("temperature", 0.2)
	// HTTP/retry defaults
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)
	v.SetDefault("server_addr", ":8000")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	// Analysis defaults
	v.SetDefault("cohort_column", "Experiment Tokens")
	v.SetDefault("derive_requests_column", "Total Requests Sent")
	v.SetDefault("derive_profit_column", "Profit")
	v.SetDefault("derive_rate", 0.025)
	v.SetDefault("deep_dive_threshold", 10)
	v.SetDefault("commentary_max_parallel", 4)
	v.SetDefault("commentary_max_table_tokens", 6000)

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := defaultDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// Resolve config_dir default: ~/.abverdict/documents
	if c.ConfigDir == "" {
		dir, err := defaultDir()
		if err != nil {
			return nil, err
		}
		c.ConfigDir = filepath.Join(dir, "documents")
	}
	c.ConfigDir = utils.ExpandHome(c.ConfigDir)
	return &c, nil
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/KaramelBytes/abverdict/internal/analysis"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// any spelling analysis.ParseFormat understands
	_ = v.RegisterValidation("metricformat", func(fl validator.FieldLevel) bool {
		_, ok := analysis.LookupFormat(fl.Field().String())
		return ok
	})
	return v
}

// DocumentName identifies one of the YAML configuration documents.
type DocumentName string

const (
	DocMetricConfig     DocumentName = "metric_config"
	DocSystemConfig     DocumentName = "system_config"
	DocSystemDefinition DocumentName = "system_definition"
	DocDeepDiveConfig   DocumentName = "deep_dive_config"
)

// DocumentNames lists every document in upload order.
var DocumentNames = []DocumentName{DocMetricConfig, DocSystemConfig, DocSystemDefinition, DocDeepDiveConfig}

// FileName is the document's file name inside the config directory.
func (n DocumentName) FileName() string { return string(n) + ".yaml" }

// Known reports whether n is one of DocumentNames.
func (n DocumentName) Known() bool {
	for _, d := range DocumentNames {
		if d == n {
			return true
		}
	}
	return false
}

// DocumentError reports an unreadable or invalid configuration document.
type DocumentError struct {
	Name DocumentName
	Err  error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("config document %s: %v", e.Name.FileName(), e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// MetricEntry is one metric of metric_config.yaml.
type MetricEntry struct {
	Name       string `yaml:"name" json:"name" validate:"required"`
	Definition string `yaml:"definition,omitempty" json:"definition,omitempty"`
	Format     string `yaml:"format,omitempty" json:"format,omitempty" validate:"omitempty,metricformat"`
}

// MetricConfig is metric_config.yaml.
type MetricConfig struct {
	Metrics []MetricEntry `yaml:"metrics" json:"metrics" validate:"dive"`
}

// Definitions converts the entries into analysis metric definitions.
func (m MetricConfig) Definitions() []analysis.MetricDefinition {
	out := make([]analysis.MetricDefinition, 0, len(m.Metrics))
	for _, e := range m.Metrics {
		out = append(out, analysis.MetricDefinition{
			Name:       e.Name,
			Definition: e.Definition,
			Format:     analysis.ParseFormat(e.Format),
		})
	}
	return out
}

// DefinitionText maps metric names to their free-text definitions.
func (m MetricConfig) DefinitionText() map[string]string {
	out := make(map[string]string, len(m.Metrics))
	for _, e := range m.Metrics {
		out[e.Name] = e.Definition
	}
	return out
}

// SystemConfig is system_config.yaml.
type SystemConfig struct {
	ImportantMetrics []string `yaml:"important_metrics" json:"important_metrics" validate:"dive,required"`
}

// Documents is the full set of configuration documents. Missing documents
// are left at their zero value.
type Documents struct {
	Metrics          MetricConfig
	System           SystemConfig
	SystemDefinition map[string]any
	DeepDive         map[string]any
}

// TrackedMetrics returns the metrics to compare, important ones first. With no
// metric config it falls back to the built-in list. The derived Cost and Net
// Profit columns are always tracked.
func (d *Documents) TrackedMetrics() []analysis.MetricDefinition {
	defs := d.Metrics.Definitions()
	if len(defs) == 0 {
		defs = analysis.DefaultMetrics()
	}
	have := make(map[string]bool, len(defs))
	for _, m := range defs {
		have[m.Name] = true
	}
	for _, name := range []string{analysis.NetProfitColumn, analysis.CostColumn} {
		if !have[name] {
			defs = append(defs, analysis.MetricDefinition{Name: name, Format: analysis.FormatDecimal2})
		}
	}
	return analysis.OrderMetrics(defs, d.System.ImportantMetrics)
}

// ParseDocument decodes and validates one document. Empty input yields the
// zero document.
func ParseDocument(name DocumentName, data []byte) (any, error) {
	var out any
	switch name {
	case DocMetricConfig:
		var m MetricConfig
		if err := decodeStrict(data, &m); err != nil {
			return nil, &DocumentError{Name: name, Err: err}
		}
		if err := validate.Struct(m); err != nil {
			return nil, &DocumentError{Name: name, Err: err}
		}
		out = m
	case DocSystemConfig:
		var s SystemConfig
		if err := decodeStrict(data, &s); err != nil {
			return nil, &DocumentError{Name: name, Err: err}
		}
		if err := validate.Struct(s); err != nil {
			return nil, &DocumentError{Name: name, Err: err}
		}
		out = s
	case DocSystemDefinition, DocDeepDiveConfig:
		m := map[string]any{}
		if err := decodeStrict(data, &m); err != nil {
			return nil, &DocumentError{Name: name, Err: err}
		}
		out = m
	default:
		return nil, &DocumentError{Name: name, Err: errors.New("unknown document")}
	}
	return out, nil
}

// decodeStrict requires a YAML mapping at the top level.
func decodeStrict(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("invalid yaml: %w", err)
	}
	if len(node.Content) == 0 {
		return nil
	}
	if node.Content[0].Kind != yaml.MappingNode {
		return errors.New("does not contain a mapping")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func (d *Documents) set(name DocumentName, v any) {
	switch name {
	case DocMetricConfig:
		d.Metrics = v.(MetricConfig)
	case DocSystemConfig:
		d.System = v.(SystemConfig)
	case DocSystemDefinition:
		d.SystemDefinition = v.(map[string]any)
	case DocDeepDiveConfig:
		d.DeepDive = v.(map[string]any)
	}
}

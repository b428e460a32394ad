package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dcshock/mlpipe/step"
	"gopkg.in/yaml.v3"
)

// ConfigurationError reports an invalid pipeline configuration or a name that
// cannot be resolved in a module.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// Top-level and per-step keys of a pipeline configuration.
const (
	KeyName  = "name"
	KeySteps = "steps"

	KeySource        = "source"
	KeyParameters    = "parameters"
	KeyMaterializers = "materializers"
	KeyRetry         = "retry"
	KeyTimeout       = "timeout"
	KeyInitial       = "initial"
	KeyMultiplier    = "multiplier"
	KeyCap           = "cap"
	KeyMaxAttempts   = "max_attempts"
)

var (
	pipelineKeys         = []string{KeyName, KeySteps}
	pipelineRequiredKeys = []string{KeyName, KeySteps}
	stepKeys             = []string{KeySource, KeyParameters, KeyMaterializers, KeyRetry, KeyTimeout, KeyInitial, KeyMultiplier, KeyCap, KeyMaxAttempts}
	stepRequiredKeys     = []string{KeySource}
)

// PipelineConfig is a parsed pipeline configuration file:
//
//	name: mnist_pipeline
//	steps:
//	  importer:
//	    source: importer
//	    materializers: json
//	  trainer:
//	    source: trainer
//	    parameters:
//	      epochs: 3
//	    retry: exponential
//	    initial: 5s
//	    max_attempts: 5
type PipelineConfig struct {
	Name  string
	Steps []StepConfig // in file order
}

// Parameters returns the configured parameters per step name.
func (c *PipelineConfig) Parameters() map[string]step.Params {
	out := make(map[string]step.Params, len(c.Steps))
	for _, s := range c.Steps {
		if s.Parameters != nil {
			out[s.Name] = s.Parameters
		}
	}
	return out
}

// StepConfig configures one step slot of the pipeline.
type StepConfig struct {
	Name          string // pipeline slot, the key under "steps"
	Source        string
	Parameters    step.Params
	Materializers *MaterializerRef

	// Retry: "exponential" | "fixed" | "" (no retry)
	Retry string

	// Timeout applied around the step (e.g. "60s").
	Timeout Duration

	// For retry: initial backoff ("exponential") or fixed delay ("fixed")
	Initial Duration

	// For exponential retry: multiplier (default 2), cap (e.g. "5m"), max attempts
	Multiplier  float64
	Cap         Duration
	MaxAttempts int
}

// MaterializerRef names the materializers of a step: either one for all
// outputs (All) or one per output name (ByOutput).
type MaterializerRef struct {
	All      string
	ByOutput map[string]string
}

// Duration is a time.Duration that unmarshals from YAML strings (e.g. "60s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the standard time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Load reads and parses the configuration file at path.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline config: %w", err)
	}
	return Parse(data)
}

// Parse parses a pipeline configuration. Missing required keys, unknown keys
// and malformed values are reported as *ConfigurationError.
func Parse(data []byte) (*PipelineConfig, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, configErrorf("invalid pipeline configuration: %v", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, configErrorf("pipeline configuration is empty")
	}
	root := doc.Content[0]
	if err := keyCheck(root, "pipeline configuration", pipelineKeys, pipelineRequiredKeys); err != nil {
		return nil, err
	}

	cfg := &PipelineConfig{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i].Value, root.Content[i+1]
		switch key {
		case KeyName:
			if err := value.Decode(&cfg.Name); err != nil || cfg.Name == "" {
				return nil, configErrorf("'%s' of the pipeline configuration must be a non-empty string", KeyName)
			}
		case KeySteps:
			steps, err := parseSteps(value)
			if err != nil {
				return nil, err
			}
			cfg.Steps = steps
		}
	}
	return cfg, nil
}

func parseSteps(node *yaml.Node) ([]StepConfig, error) {
	if node.Kind != yaml.MappingNode {
		return nil, configErrorf("'%s' of the pipeline configuration must be a mapping of step name to step configuration", KeySteps)
	}
	steps := make([]StepConfig, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		sc, err := parseStep(name, node.Content[i+1])
		if err != nil {
			return nil, err
		}
		steps = append(steps, sc)
	}
	return steps, nil
}

func parseStep(name string, node *yaml.Node) (StepConfig, error) {
	what := fmt.Sprintf("configuration of step '%s'", name)
	if err := keyCheck(node, what, stepKeys, stepRequiredKeys); err != nil {
		return StepConfig{}, err
	}
	sc := StepConfig{Name: name}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		var err error
		switch key {
		case KeySource:
			err = value.Decode(&sc.Source)
		case KeyParameters:
			if !isNull(value) {
				var params map[string]any
				if err = value.Decode(&params); err == nil {
					sc.Parameters = step.Params(params)
				}
			}
		case KeyMaterializers:
			sc.Materializers, err = parseMaterializers(value)
			if err != nil {
				return StepConfig{}, err
			}
		case KeyRetry:
			err = value.Decode(&sc.Retry)
		case KeyTimeout:
			err = value.Decode(&sc.Timeout)
		case KeyInitial:
			err = value.Decode(&sc.Initial)
		case KeyMultiplier:
			err = value.Decode(&sc.Multiplier)
		case KeyCap:
			err = value.Decode(&sc.Cap)
		case KeyMaxAttempts:
			err = value.Decode(&sc.MaxAttempts)
		}
		if err != nil {
			return StepConfig{}, configErrorf("invalid '%s' in %s: %v", key, what, err)
		}
	}
	if sc.Source == "" {
		return StepConfig{}, configErrorf("'%s' in %s must be a non-empty string", KeySource, what)
	}
	return sc, nil
}

// parseMaterializers accepts a string or a mapping of output name to string.
// Empty values (null, "", {}, [], 0, false) mean no materializers.
func parseMaterializers(node *yaml.Node) (*MaterializerRef, error) {
	if isEmpty(node) {
		return nil, nil
	}
	switch {
	case node.Kind == yaml.ScalarNode && node.Tag == "!!str":
		return &MaterializerRef{All: node.Value}, nil
	case node.Kind == yaml.MappingNode:
		ref := &MaterializerRef{ByOutput: make(map[string]string, len(node.Content)/2)}
		for i := 0; i+1 < len(node.Content); i += 2 {
			out, source := node.Content[i].Value, node.Content[i+1]
			if source.Kind != yaml.ScalarNode || source.Tag != "!!str" {
				return nil, configErrorf("materializer for output '%s' must be a string, got `%s` (type: `%s`)", out, render(source), typeName(source))
			}
			ref.ByOutput[out] = source.Value
		}
		return ref, nil
	default:
		return nil, configErrorf("Only `str` and `dict` values are allowed for "+
			"'materializers' attribute of a step configuration. You "+
			"tried to pass in `%s` (type: `%s`).", render(node), typeName(node))
	}
}

func keyCheck(node *yaml.Node, what string, allowed, required []string) error {
	if node.Kind != yaml.MappingNode {
		return configErrorf("%s must be a mapping, got `%s`", what, typeName(node))
	}
	present := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if !contains(allowed, key) {
			return configErrorf("unknown key '%s' in %s (allowed: %s)", key, what, strings.Join(allowed, ", "))
		}
		present[key] = true
	}
	for _, key := range required {
		if !present[key] {
			return configErrorf("missing key '%s' in %s", key, what)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func isEmpty(n *yaml.Node) bool {
	switch n.Kind {
	case yaml.MappingNode, yaml.SequenceNode:
		return len(n.Content) == 0
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!null":
			return true
		case "!!str":
			return n.Value == ""
		case "!!bool":
			var b bool
			return n.Decode(&b) == nil && !b
		case "!!int", "!!float":
			var f float64
			return n.Decode(&f) == nil && f == 0
		}
	}
	return false
}

// typeName names the YAML value kind the way configuration errors report it.
func typeName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "dict"
	case yaml.SequenceNode:
		return "list"
	case yaml.AliasNode:
		return typeName(n.Alias)
	}
	switch n.Tag {
	case "!!str":
		return "str"
	case "!!int":
		return "int"
	case "!!float":
		return "float"
	case "!!bool":
		return "bool"
	case "!!null":
		return "NoneType"
	}
	return strings.TrimPrefix(n.Tag, "!!")
}

func render(n *yaml.Node) string {
	var v any
	if err := n.Decode(&v); err != nil {
		return n.Value
	}
	return fmt.Sprint(v)
}

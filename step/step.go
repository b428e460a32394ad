// Package step defines the unit of work of an mlpipe pipeline: a function created
// from a registered source, carrying parameters and optional materializers that
// persist its outputs as artifacts.
package step

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dcshock/mlpipe/artifact"
	"github.com/dcshock/mlpipe/materializer"
	"github.com/dcshock/mlpipe/pipeline"
)

// DefaultOutput is the output name of a step that returns a single value.
const DefaultOutput = "output"

// Outputs is returned by steps with several named outputs. The whole map is
// passed on to the next step; each entry is materialized separately.
type Outputs map[string]any

// Func is the body of a step. params is a private copy of the step's parameters.
type Func func(ctx context.Context, params Params, input any) (any, error)

// Factory creates a fresh Step. It is what a module registers under a source name.
type Factory func() *Step

// Step is a configured unit of work. Build one with New, then attach
// materializers and parameters before binding it into a pipeline.
type Step struct {
	source    string
	fn        Func
	params    Params
	all       materializer.Materializer
	perOutput map[string]materializer.Materializer
	wrappers  []Wrapper
}

// Wrapper decorates the bound step function, e.g. with pipeline.Retry or
// pipeline.WithTimeout.
type Wrapper func(pipeline.StepFunc) pipeline.StepFunc

// New returns a step for source running fn with the given default parameters.
func New(source string, fn Func, defaults Params) *Step {
	return &Step{source: source, fn: fn, params: defaults.Clone()}
}

// Source is the registered name the step was created from.
func (s *Step) Source() string { return s.source }

// Params returns a copy of the step's current parameters.
func (s *Step) Params() Params { return s.params.Clone() }

// WithParameters merges params into the step. With overwrite false, parameters
// already set on the step win.
func (s *Step) WithParameters(params Params, overwrite bool) *Step {
	s.params.Merge(params, overwrite)
	return s
}

// WithReturnMaterializer uses m for every output of the step.
func (s *Step) WithReturnMaterializer(m materializer.Materializer) *Step {
	s.all = m
	s.perOutput = nil
	return s
}

// WithReturnMaterializers maps output names to materializers. Outputs not in the
// map are not persisted.
func (s *Step) WithReturnMaterializers(byOutput map[string]materializer.Materializer) *Step {
	s.all = nil
	s.perOutput = make(map[string]materializer.Materializer, len(byOutput))
	for k, v := range byOutput {
		s.perOutput[k] = v
	}
	return s
}

// Wrap adds w around the bound step. Wrappers apply in order, so the last one
// added is the outermost.
func (s *Step) Wrap(w Wrapper) *Step {
	s.wrappers = append(s.wrappers, w)
	return s
}

// Materializer returns the materializer for the named output, if any.
func (s *Step) Materializer(output string) (materializer.Materializer, bool) {
	if s.all != nil {
		return s.all, true
	}
	m, ok := s.perOutput[output]
	return m, ok
}

// Execute runs the step body without materializing anything.
func (s *Step) Execute(ctx context.Context, input any) (any, error) {
	if s.fn == nil {
		return nil, fmt.Errorf("step %q: no function", s.source)
	}
	return s.fn(ctx, s.params.Clone(), input)
}

// Bind returns the engine step for this step under the pipeline slot name. When
// artifacts is non-nil and the pipeline runs with RunOptions, outputs with a
// materializer are written to the artifact store and reported to the
// ArtifactRecorder in the context (see WithRecorder).
func (s *Step) Bind(name string, artifacts *artifact.Store) pipeline.Step {
	run := func(ctx context.Context, input any) (any, error) {
		out, err := s.Execute(ctx, input)
		if err != nil {
			return nil, err
		}
		if artifacts == nil {
			return out, nil
		}
		if err := s.materialize(ctx, artifacts, out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var fn pipeline.StepFunc = run
	for _, w := range s.wrappers {
		fn = w(fn)
	}
	return pipeline.Step{Name: name, Run: fn}
}

func (s *Step) materialize(ctx context.Context, artifacts *artifact.Store, out any) error {
	run, info, ok := pipeline.CurrentStep(ctx)
	if !ok {
		return nil
	}
	outputs, isMulti := out.(Outputs)
	if !isMulti {
		outputs = Outputs{DefaultOutput: out}
	}
	names := make([]string, 0, len(outputs))
	for n := range outputs {
		names = append(names, n)
	}
	sort.Strings(names)
	if err := s.checkOutputs(info.Name, outputs); err != nil {
		return err
	}
	rec := recorderFromContext(ctx)
	for _, name := range names {
		m, ok := s.Materializer(name)
		if !ok {
			continue
		}
		key := artifact.Key{Pipeline: run.Pipeline, Run: run.Name, Step: info.Name, Output: name}
		v := outputs[name]
		uri, err := artifacts.Write(key, m.Name(), func(w io.Writer) error { return m.Save(w, v) })
		if err != nil {
			return fmt.Errorf("materialize %s.%s: %w", info.Name, name, err)
		}
		if rec != nil {
			art := Artifact{Output: name, Materializer: m.Name(), URI: uri}
			if err := rec.RecordArtifact(ctx, run, info, art); err != nil {
				return fmt.Errorf("record artifact %s.%s: %w", info.Name, name, err)
			}
		}
	}
	return nil
}

// checkOutputs rejects per-output materializers for outputs the step did not return.
func (s *Step) checkOutputs(slot string, outputs Outputs) error {
	var unknown []string
	for name := range s.perOutput {
		if _, ok := outputs[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	have := make([]string, 0, len(outputs))
	for name := range outputs {
		have = append(have, name)
	}
	sort.Strings(have)
	return fmt.Errorf("step %s: materializers set for unknown outputs %s (outputs: %s)",
		slot, strings.Join(unknown, ", "), strings.Join(have, ", "))
}

// As converts a step input to T. Values of type T pass through; anything else
// (typically the generic JSON value of a resumed run) is converted through JSON.
func As[T any](in any) (T, error) {
	if v, ok := in.(T); ok {
		return v, nil
	}
	var out T
	b, err := json.Marshal(in)
	if err != nil {
		return out, fmt.Errorf("convert %T to %T: %w", in, out, err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("convert %T to %T: %w", in, out, err)
	}
	return out, nil
}

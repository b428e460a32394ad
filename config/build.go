package config

import (
	"fmt"
	"time"

	"github.com/dcshock/mlpipe/flow"
	"github.com/dcshock/mlpipe/logging"
	"github.com/dcshock/mlpipe/materializer"
	"github.com/dcshock/mlpipe/pipeline"
	"github.com/dcshock/mlpipe/step"
	"go.uber.org/zap"
)

// BuildOptions configures how a pipeline is built from config.
type BuildOptions struct {
	// RetryPersist is used when a step has retry (exponential or fixed). Required if any step uses retry.
	RetryPersist pipeline.ParkPersistWithTime

	// RetryAttemptStore is used for exponential backoff. If nil a new MemoryAttemptStore is used (single process only).
	RetryAttemptStore pipeline.AttemptStore

	// Logger defaults to logging.L().
	Logger *zap.Logger
}

// BuildPipeline builds a pipeline instance from a module and a configuration.
// The definition named cfg.Name is looked up in mod, every configured step is
// created from its source with its materializers, retry and timeout attached,
// and the configured parameters overwrite the step defaults.
func BuildPipeline(mod *Module, cfg *PipelineConfig, opts *BuildOptions) (*flow.Instance, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if opts == nil {
		opts = &BuildOptions{}
	}
	log := opts.Logger
	if log == nil {
		log = logging.L()
	}

	def, err := mod.Pipeline(cfg.Name)
	if err != nil {
		return nil, err
	}
	steps := make(map[string]*step.Step, len(cfg.Steps))
	for _, sc := range cfg.Steps {
		factory, err := mod.Step(sc.Source)
		if err != nil {
			return nil, err
		}
		st := factory()
		if st == nil {
			return nil, fmt.Errorf("step %q: source %q returned no step", sc.Name, sc.Source)
		}
		if err := attachMaterializers(mod, st, sc.Materializers); err != nil {
			return nil, err
		}
		if err := wrapStep(st, sc, opts); err != nil {
			return nil, fmt.Errorf("step %q: %w", sc.Name, err)
		}
		steps[sc.Name] = st
	}

	inst, err := def.Instantiate(steps)
	if err != nil {
		return nil, &ConfigurationError{Msg: err.Error()}
	}
	if _, err := inst.WithConfig(cfg.Parameters(), true); err != nil {
		return nil, err
	}
	log.Debug("Finished setting up pipeline", zap.String("pipeline", cfg.Name))
	return inst, nil
}

func attachMaterializers(mod *Module, st *step.Step, ref *MaterializerRef) error {
	if ref == nil {
		return nil
	}
	if ref.All != "" {
		mat, err := mod.Materializer(ref.All)
		if err != nil {
			return err
		}
		st.WithReturnMaterializer(mat)
		return nil
	}
	byOutput := make(map[string]materializer.Materializer, len(ref.ByOutput))
	for output, name := range ref.ByOutput {
		mat, err := mod.Materializer(name)
		if err != nil {
			return err
		}
		byOutput[output] = mat
	}
	st.WithReturnMaterializers(byOutput)
	return nil
}

func wrapStep(st *step.Step, sc StepConfig, opts *BuildOptions) error {
	if sc.Timeout > 0 {
		timeout := sc.Timeout.Duration()
		st.Wrap(func(next pipeline.StepFunc) pipeline.StepFunc { return pipeline.WithTimeout(next, timeout) })
	}
	if sc.Retry == "" {
		return nil
	}
	if opts.RetryPersist == nil {
		return fmt.Errorf("retry requires BuildOptions.RetryPersist")
	}
	initial := sc.Initial.Duration()
	if initial <= 0 {
		initial = time.Second
	}
	switch sc.Retry {
	case "fixed":
		policy := pipeline.RetryPolicy{
			Backoff:     initial,
			ShouldRetry: pipeline.IsRetryable,
		}
		st.Wrap(func(next pipeline.StepFunc) pipeline.StepFunc {
			return pipeline.Retry(next, policy, opts.RetryPersist)
		})
	case "exponential":
		attempts := opts.RetryAttemptStore
		if attempts == nil {
			attempts = pipeline.NewMemoryAttemptStore()
		}
		policy := pipeline.ExponentialBackoffPolicy{
			Initial:     initial,
			Multiplier:  2,
			Cap:         sc.Cap.Duration(),
			MaxAttempts: sc.MaxAttempts,
			ShouldRetry: pipeline.IsRetryable,
		}
		if sc.Multiplier > 0 {
			policy.Multiplier = sc.Multiplier
		}
		persist := pipeline.ExponentialBackoffPersist(policy, attempts, opts.RetryPersist)
		st.Wrap(func(next pipeline.StepFunc) pipeline.StepFunc {
			return pipeline.Retry(next, pipeline.RetryPolicyFromExponential(policy), persist)
		})
	default:
		return fmt.Errorf("retry %q not supported (use \"fixed\" or \"exponential\")", sc.Retry)
	}
	return nil
}

package httpsteps

import (
	"context"
	"fmt"

	"github.com/dcshock/mlpipe/pipeline"
)

// Expect returns a step that fails with the predicate's error, or passes its
// input through unchanged.
func Expect(predicate func(any) error) pipeline.StepFunc {
	if predicate == nil {
		panic("httpsteps.Expect: predicate must not be nil")
	}
	return func(ctx context.Context, input any) (any, error) {
		if err := predicate(input); err != nil {
			return nil, fmt.Errorf("expect: %w", err)
		}
		return input, nil
	}
}

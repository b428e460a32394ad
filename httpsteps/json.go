package httpsteps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dcshock/mlpipe/pipeline"
)

func rawInput(input any) ([]byte, error) {
	switch v := input.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("input must be []byte or string, got %T", input)
	}
}

// ParseJSON returns a step decoding a JSON body into a generic value
// (map[string]any for objects).
func ParseJSON() pipeline.StepFunc {
	return func(ctx context.Context, input any) (any, error) {
		raw, err := rawInput(input)
		if err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return out, nil
	}
}

// ParseJSONTo returns a step decoding a JSON body into a T. The output is a T,
// not a pointer.
func ParseJSONTo[T any]() pipeline.StepFunc {
	return func(ctx context.Context, input any) (any, error) {
		raw, err := rawInput(input)
		if err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("parse json into %T: %w", out, err)
		}
		return out, nil
	}
}

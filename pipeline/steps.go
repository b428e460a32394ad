package pipeline

import (
	"context"
	"fmt"
	"time"
)

// ConvertFunc converts value of type A to type B. Used by Transform to build a step.
type ConvertFunc[A, B any] func(ctx context.Context, a A) (B, error)

// Transform returns a step that converts the previous step's output (type A) to type B.
func Transform[A, B any](convert ConvertFunc[A, B]) StepFunc {
	return func(ctx context.Context, input any) (any, error) {
		a, ok := input.(A)
		if !ok {
			var zero A
			return nil, fmt.Errorf("transform: expected %T, got %T", zero, input)
		}
		return convert(ctx, a)
	}
}

// Identity returns a step that passes the input through unchanged.
func Identity() StepFunc {
	return func(ctx context.Context, input any) (any, error) {
		return input, nil
	}
}

// Tap returns a step that calls fn(ctx, input) then passes input through unchanged.
// Use for logging or side effects without changing the value.
func Tap(fn func(context.Context, any)) StepFunc {
	return func(ctx context.Context, input any) (any, error) {
		fn(ctx, input)
		return input, nil
	}
}

// Validate returns a step that passes input through only if predicate(v) is true.
// Otherwise it returns errMsg ("validation failed" when empty).
func Validate[T any](predicate func(T) bool, errMsg string) StepFunc {
	if errMsg == "" {
		errMsg = "validation failed"
	}
	return func(ctx context.Context, input any) (any, error) {
		v, ok := input.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("validate: expected %T, got %T", zero, input)
		}
		if !predicate(v) {
			return nil, fmt.Errorf("%s", errMsg)
		}
		return input, nil
	}
}

// Constant returns a step that ignores input and always outputs value.
func Constant(value any) StepFunc {
	return func(ctx context.Context, _ any) (any, error) {
		return value, nil
	}
}

// WithTimeout wraps inner so it runs with a context deadline of now+timeout.
func WithTimeout(inner StepFunc, timeout time.Duration) StepFunc {
	return func(ctx context.Context, input any) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return inner(ctx, input)
	}
}

// MapSlice returns a step that converts []T to []U using convert for each element.
func MapSlice[T, U any](convert ConvertFunc[T, U]) StepFunc {
	return func(ctx context.Context, input any) (any, error) {
		slice, ok := input.([]T)
		if !ok {
			var zero []T
			return nil, fmt.Errorf("mapslice: expected %T, got %T", zero, input)
		}
		out := make([]U, 0, len(slice))
		for i, v := range slice {
			u, err := convert(ctx, v)
			if err != nil {
				return nil, fmt.Errorf("mapslice[%d]: %w", i, err)
			}
			out = append(out, u)
		}
		return out, nil
	}
}

// FilterSlice returns a step that keeps only elements of []T for which keep(v) is true.
func FilterSlice[T any](keep func(T) bool) StepFunc {
	return func(ctx context.Context, input any) (any, error) {
		slice, ok := input.([]T)
		if !ok {
			var zero []T
			return nil, fmt.Errorf("filterslice: expected %T, got %T", zero, input)
		}
		out := make([]T, 0, len(slice))
		for _, v := range slice {
			if keep(v) {
				out = append(out, v)
			}
		}
		return out, nil
	}
}

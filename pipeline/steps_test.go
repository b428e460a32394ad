package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func TestIdentity(t *testing.T) {
	ctx := context.Background()
	s := Identity()
	for _, in := range []any{nil, 42, "hello"} {
		out, err := s(ctx, in)
		if err != nil || out != in {
			t.Errorf("Identity(%v): got %v, %v", in, out, err)
		}
	}
	slice := []int{1, 2, 3}
	out, _ := s(ctx, slice)
	if !reflect.DeepEqual(out, slice) {
		t.Errorf("Identity(slice): got %v", out)
	}
}

func TestTap(t *testing.T) {
	ctx := context.Background()
	var seen any
	s := Tap(func(c context.Context, v any) { seen = v })
	out, err := s(ctx, "tapped")
	if err != nil {
		t.Fatal(err)
	}
	if seen != "tapped" || out != "tapped" {
		t.Errorf("Tap: seen=%v out=%v", seen, out)
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	s := Validate[int](func(n int) bool { return n > 0 }, "must be positive")

	if out, err := s(ctx, 42); err != nil || out != 42 {
		t.Errorf("Validate(42): %v, %v", out, err)
	}
	if _, err := s(ctx, 0); err == nil || err.Error() != "must be positive" {
		t.Errorf("Validate(0): %v", err)
	}
	if _, err := s(ctx, "not an int"); err == nil {
		t.Error("Validate(string): expected error")
	}
	def := Validate[int](func(n int) bool { return false }, "")
	if _, err := def(ctx, 1); err == nil || err.Error() != "validation failed" {
		t.Errorf("default message: %v", err)
	}
}

func TestConstant(t *testing.T) {
	s := Constant("fixed")
	for _, in := range []any{nil, 0, "ignored"} {
		if out, err := s(context.Background(), in); err != nil || out != "fixed" {
			t.Errorf("Constant(%v): %v, %v", in, out, err)
		}
	}
}

func TestWithTimeout(t *testing.T) {
	ctx := context.Background()
	fast := WithTimeout(Transform(func(ctx context.Context, n int) (int, error) { return n * 2, nil }), time.Second)
	if out, err := fast(ctx, 21); err != nil || out != 42 {
		t.Errorf("WithTimeout completes: %v, %v", out, err)
	}

	slow := WithTimeout(func(ctx context.Context, input any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 10*time.Millisecond)
	if _, err := slow(ctx, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WithTimeout exceeded: %v", err)
	}
}

func TestMapSlice(t *testing.T) {
	ctx := context.Background()
	s := MapSlice(func(ctx context.Context, n int) (string, error) { return fmt.Sprintf("%d", n), nil })
	out, err := s(ctx, []int{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, []string{"1", "2", "3"}) {
		t.Errorf("MapSlice: got %v", out)
	}
	if _, err := s(ctx, "not a slice"); err == nil {
		t.Error("MapSlice(string): expected error")
	}

	convertErr := errors.New("convert failed")
	failing := MapSlice(func(ctx context.Context, n int) (string, error) {
		if n == 2 {
			return "", convertErr
		}
		return "", nil
	})
	if _, err := failing(ctx, []int{1, 2, 3}); !errors.Is(err, convertErr) {
		t.Errorf("MapSlice convert error: %v", err)
	}
}

func TestFilterSlice(t *testing.T) {
	ctx := context.Background()
	s := FilterSlice[int](func(n int) bool { return n%2 == 0 })
	out, err := s(ctx, []int{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, []int{2, 4}) {
		t.Errorf("FilterSlice: got %v", out)
	}
	if _, err := s(ctx, []string{"a"}); err == nil {
		t.Error("FilterSlice([]string): expected error")
	}
}

func TestTransform_WrongType(t *testing.T) {
	s := Transform(func(ctx context.Context, n int) (int, error) { return n, nil })
	if _, err := s(context.Background(), "x"); err == nil {
		t.Error("expected type error")
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// --- Pipeline: RunWithInput, Run, observer, errors ---

func step(name string, fn StepFunc) Step { return Step{Name: name, Run: fn} }

func TestPipeline_RunWithInput_NoOptions(t *testing.T) {
	ctx := context.Background()
	p := &Pipeline{
		Name: "simple",
		Steps: []Step{
			step("double", Transform(func(ctx context.Context, n int) (int, error) { return n * 2, nil })),
			step("inc", Transform(func(ctx context.Context, n int) (int, error) { return n + 1, nil })),
		},
	}
	out, err := p.RunWithInput(ctx, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != 11 {
		t.Errorf("expected 11, got %v", out)
	}
}

func TestPipeline_RunWithInput_WithObserver(t *testing.T) {
	ctx := context.Background()
	var runSeen RunInfo
	var order []string
	obs := &hookObserver{
		beforePipeline: func(ctx context.Context, run RunInfo, payload any) error {
			runSeen = run
			order = append(order, "BeforePipeline:"+run.Pipeline)
			return nil
		},
		afterPipeline: func(ctx context.Context, run RunInfo, result any, err error) error {
			order = append(order, "AfterPipeline")
			return nil
		},
		beforeStep: func(ctx context.Context, run RunInfo, s StepInfo, input any) error {
			order = append(order, fmt.Sprintf("BeforeStep:%d:%s", s.Index, s.Name))
			return nil
		},
		afterStep: func(ctx context.Context, run RunInfo, s StepInfo, input, output any, stepErr error, d time.Duration) error {
			order = append(order, fmt.Sprintf("AfterStep:%d", s.Index))
			return nil
		},
	}

	p := &Pipeline{
		Name:  "observed",
		Steps: []Step{step("a", Identity()), step("b", Identity())},
	}
	_, err := p.RunWithInput(ctx, 42, &RunOptions{Observer: obs})
	if err != nil {
		t.Fatal(err)
	}
	if runSeen.ID == "" {
		t.Error("expected run ID to be generated")
	}
	if runSeen.Name != runSeen.ID {
		t.Errorf("run name should default to ID, got %q", runSeen.Name)
	}
	want := []string{"BeforePipeline:observed", "BeforeStep:0:a", "AfterStep:0", "BeforeStep:1:b", "AfterStep:1", "AfterPipeline"}
	if len(order) != len(want) {
		t.Fatalf("order: got %d hooks, want %d: %v", len(order), len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d]: got %q, want %q", i, order[i], want[i])
		}
	}
}

func TestPipeline_RunWithInput_WithRunIDAndName(t *testing.T) {
	ctx := context.Background()
	var runSeen RunInfo
	obs := &hookObserver{
		beforePipeline: func(ctx context.Context, run RunInfo, payload any) error {
			runSeen = run
			return nil
		},
	}
	p := &Pipeline{Name: "x", Steps: []Step{step("id", Identity())}}
	opts := &RunOptions{Observer: obs, RunID: "my-run-123", RunName: "x-run"}
	if _, err := p.RunWithInput(ctx, nil, opts); err != nil {
		t.Fatal(err)
	}
	if runSeen.ID != "my-run-123" || runSeen.Name != "x-run" {
		t.Errorf("run: got %+v", runSeen)
	}
}

func TestPipeline_CurrentStep(t *testing.T) {
	ctx := context.Background()
	var gotRun RunInfo
	var gotStep StepInfo
	var ok bool
	probe := func(ctx context.Context, in any) (any, error) {
		gotRun, gotStep, ok = CurrentStep(ctx)
		return in, nil
	}
	p := &Pipeline{Name: "probe", Steps: []Step{step("first", Identity()), step("second", probe)}}

	if _, err := p.RunWithInput(ctx, 1, nil); err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("CurrentStep should report false without RunOptions")
	}

	if _, err := p.RunWithInput(ctx, 1, &RunOptions{RunID: "r1"}); err != nil {
		t.Fatal(err)
	}
	if !ok || gotRun.ID != "r1" || gotRun.Pipeline != "probe" {
		t.Errorf("run: ok=%v %+v", ok, gotRun)
	}
	if gotStep.Index != 1 || gotStep.Name != "second" {
		t.Errorf("step: %+v", gotStep)
	}
}

func TestPipeline_Run_WithSource(t *testing.T) {
	ctx := context.Background()
	called := false
	p := &Pipeline{
		Name: "with-source",
		Source: func(ctx context.Context) (any, error) {
			called = true
			return 100, nil
		},
		Steps: []Step{
			step("inc", Transform(func(ctx context.Context, n int) (int, error) { return n + 1, nil })),
		},
	}
	out, err := p.Run(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("Source was not called")
	}
	if out != 101 {
		t.Errorf("expected 101, got %v", out)
	}
}

func TestPipeline_StepError(t *testing.T) {
	ctx := context.Background()
	errFail := errors.New("step failed")
	p := &Pipeline{
		Name: "fail",
		Steps: []Step{
			step("ok", Identity()),
			step("boom", func(ctx context.Context, input any) (any, error) {
				return nil, errFail
			}),
			step("never", Identity()),
		},
	}
	_, err := p.RunWithInput(ctx, nil, nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("expected wrapped step error, got %v", err)
	}
	if !strings.Contains(err.Error(), "step 1 (boom)") {
		t.Errorf("error should name the step: %v", err)
	}
}

func TestPipeline_NilStepFunc(t *testing.T) {
	p := &Pipeline{Name: "nil", Steps: []Step{{Name: "empty"}}}
	if _, err := p.RunWithInput(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for step without function")
	}
}

func TestPipeline_AfterPipelineErrorDoesNotMaskStepError(t *testing.T) {
	errStep := errors.New("step")
	obs := &hookObserver{
		afterPipeline: func(ctx context.Context, run RunInfo, result any, err error) error {
			return errors.New("observer")
		},
	}
	p := &Pipeline{Name: "x", Steps: []Step{step("s", func(ctx context.Context, in any) (any, error) { return nil, errStep })}}
	_, err := p.RunWithInput(context.Background(), nil, &RunOptions{Observer: obs})
	if !errors.Is(err, errStep) {
		t.Errorf("expected step error, got %v", err)
	}
}

func TestPipeline_EmptySteps(t *testing.T) {
	ctx := context.Background()
	p := &Pipeline{Name: "empty"}
	out, err := p.RunWithInput(ctx, 7, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != 7 {
		t.Errorf("expected 7, got %v", out)
	}
}

func TestPipeline_StepOffset(t *testing.T) {
	ctx := context.Background()
	var indices []int
	obs := &hookObserver{
		beforeStep: func(ctx context.Context, run RunInfo, s StepInfo, input any) error {
			indices = append(indices, s.Index)
			return nil
		},
	}
	p := &Pipeline{
		Name:  "offset",
		Steps: []Step{step("a", Identity()), step("b", Identity())},
	}
	_, err := p.RunWithInput(ctx, nil, &RunOptions{Observer: obs, StepOffset: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(indices) != 2 || indices[0] != 10 || indices[1] != 11 {
		t.Errorf("step indices with offset: got %v, want [10 11]", indices)
	}
}

func TestMultiObserver_CallsAllAndJoinsErrors(t *testing.T) {
	var calls []string
	errA := errors.New("a failed")
	a := &hookObserver{beforePipeline: func(ctx context.Context, run RunInfo, payload any) error {
		calls = append(calls, "a")
		return errA
	}}
	b := &hookObserver{beforePipeline: func(ctx context.Context, run RunInfo, payload any) error {
		calls = append(calls, "b")
		return nil
	}}
	obs := MultiObserver(a, nil, b)
	err := obs.BeforePipeline(context.Background(), RunInfo{ID: "r"}, nil)
	if !errors.Is(err, errA) {
		t.Errorf("expected joined error, got %v", err)
	}
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Errorf("calls: %v", calls)
	}
}

// --- Park ---

func TestParkStep_RequiresRunOptions(t *testing.T) {
	ctx := context.Background()
	persist := func(ctx context.Context, state RunState) error { return nil }
	p := &Pipeline{
		Name:  "park",
		Steps: []Step{step("park", ParkStep(persist))},
	}
	_, err := p.RunWithInput(ctx, 1, nil)
	if err == nil || IsParked(err) {
		t.Fatalf("expected error when parking without run options, got %v", err)
	}
}

func TestParkStep_PersistsNextStep(t *testing.T) {
	var saved RunState
	persist := func(ctx context.Context, state RunState) error {
		saved = state
		return nil
	}
	p := &Pipeline{
		Name:  "park",
		Steps: []Step{step("a", Identity()), step("park", ParkStep(persist)), step("c", Identity())},
	}
	_, err := p.RunWithInput(context.Background(), "in", &RunOptions{RunID: "r", RunName: "park-run"})
	if !IsParked(err) {
		t.Fatalf("expected ErrParked, got %v", err)
	}
	if saved.RunID != "r" || saved.RunName != "park-run" || saved.PipelineName != "park" {
		t.Errorf("state: %+v", saved)
	}
	if saved.NextStepIndex != 2 || saved.InputForNextStep != "in" {
		t.Errorf("state: %+v", saved)
	}
}

func TestParkStepAfter_SetsResumeAt(t *testing.T) {
	ctx := context.Background()
	var saved ParkedRun
	persist := func(ctx context.Context, parked ParkedRun) error {
		saved = parked
		return nil
	}
	p := &Pipeline{
		Name:  "park-after",
		Steps: []Step{step("wait", ParkStepAfter(5*time.Second, persist))},
	}
	_, err := p.RunWithInput(ctx, "input", &RunOptions{Observer: &hookObserver{}})
	if err == nil || !IsParked(err) {
		t.Fatalf("expected ErrParked, got %v", err)
	}
	delay := time.Until(saved.ResumeAt)
	if delay < 4*time.Second || delay > 6*time.Second {
		t.Errorf("ResumeAt delay: got %v", delay)
	}
	if saved.NextStepIndex != 1 {
		t.Errorf("NextStepIndex: got %d, want 1", saved.NextStepIndex)
	}
	if saved.InputForNextStep != "input" {
		t.Errorf("InputForNextStep: got %v", saved.InputForNextStep)
	}
}

// --- Resume (remaining steps with StepOffset) ---

func TestResume_RemainingSteps(t *testing.T) {
	ctx := context.Background()
	var runOrder []int
	mkStep := func(id int) Step {
		return step(fmt.Sprintf("s%d", id), func(ctx context.Context, in any) (any, error) {
			runOrder = append(runOrder, id)
			return in, nil
		})
	}
	full := &Pipeline{
		Name:  "full",
		Steps: []Step{mkStep(0), mkStep(1), mkStep(2), mkStep(3)},
	}
	remaining := &Pipeline{Name: full.Name, Steps: full.Steps[2:]}
	opts := &RunOptions{Observer: &hookObserver{}, RunID: "resume-1", StepOffset: 2}
	out, err := remaining.RunWithInput(ctx, 100, opts)
	if err != nil {
		t.Fatal(err)
	}
	if out != 100 {
		t.Errorf("output: got %v", out)
	}
	if len(runOrder) != 2 || runOrder[0] != 2 || runOrder[1] != 3 {
		t.Errorf("runOrder: got %v, want [2, 3]", runOrder)
	}
}

func TestResume_ParkRecordsGlobalIndex(t *testing.T) {
	var saved ParkedRun
	persist := func(ctx context.Context, p ParkedRun) error { saved = p; return nil }
	full := &Pipeline{
		Name: "full",
		Steps: []Step{
			step("s0", Identity()),
			step("s1", Identity()),
			step("s2", Identity()),
			step("park", ParkStepAfter(time.Minute, persist)),
			step("s4", Identity()),
		},
	}
	remaining := &Pipeline{Name: full.Name, Steps: full.Steps[2:]}
	_, err := remaining.RunWithInput(context.Background(), "x", &RunOptions{RunID: "resume-2", StepOffset: 2})
	if !IsParked(err) {
		t.Fatalf("want ErrParked, got %v", err)
	}
	if saved.NextStepIndex != 4 {
		t.Errorf("NextStepIndex: got %d, want 4", saved.NextStepIndex)
	}
}

// --- Observer helpers ---

type hookObserver struct {
	beforePipeline func(context.Context, RunInfo, any) error
	afterPipeline  func(context.Context, RunInfo, any, error) error
	beforeStep     func(context.Context, RunInfo, StepInfo, any) error
	afterStep      func(context.Context, RunInfo, StepInfo, any, any, error, time.Duration) error
}

func (h *hookObserver) BeforePipeline(ctx context.Context, run RunInfo, payload any) error {
	if h.beforePipeline != nil {
		return h.beforePipeline(ctx, run, payload)
	}
	return nil
}

func (h *hookObserver) AfterPipeline(ctx context.Context, run RunInfo, result any, err error) error {
	if h.afterPipeline != nil {
		return h.afterPipeline(ctx, run, result, err)
	}
	return nil
}

func (h *hookObserver) BeforeStep(ctx context.Context, run RunInfo, s StepInfo, input any) error {
	if h.beforeStep != nil {
		return h.beforeStep(ctx, run, s, input)
	}
	return nil
}

func (h *hookObserver) AfterStep(ctx context.Context, run RunInfo, s StepInfo, input, output any, stepErr error, d time.Duration) error {
	if h.afterStep != nil {
		return h.afterStep(ctx, run, s, input, output, stepErr, d)
	}
	return nil
}

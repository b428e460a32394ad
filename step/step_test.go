package step

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/dcshock/mlpipe/artifact"
	"github.com/dcshock/mlpipe/materializer"
	"github.com/dcshock/mlpipe/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	run  pipeline.RunInfo
	step pipeline.StepInfo
	art  Artifact
}

type sliceRecorder struct{ items []recorded }

func (r *sliceRecorder) RecordArtifact(ctx context.Context, run pipeline.RunInfo, s pipeline.StepInfo, art Artifact) error {
	r.items = append(r.items, recorded{run: run, step: s, art: art})
	return nil
}

func scale(ctx context.Context, params Params, input any) (any, error) {
	return input.(int) * params.Int("factor", 1), nil
}

func TestStep_ParametersOverwrite(t *testing.T) {
	s := New("scaler", scale, Params{"factor": 2, "keep": true})
	s.WithParameters(Params{"factor": 5}, false)
	assert.Equal(t, 2, s.Params().Int("factor", 0), "existing value wins without overwrite")

	s.WithParameters(Params{"factor": 5, "extra": "x"}, true)
	assert.Equal(t, 5, s.Params().Int("factor", 0))
	assert.Equal(t, "x", s.Params().String("extra", ""))
	assert.True(t, s.Params().Bool("keep", false))

	out, err := s.Execute(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 15, out)
}

func TestStep_ParamsAreCopied(t *testing.T) {
	defaults := Params{"factor": 2}
	s := New("scaler", func(ctx context.Context, p Params, in any) (any, error) {
		p["factor"] = 100
		return nil, nil
	}, defaults)
	defaults["factor"] = 3
	_, err := s.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Params().Int("factor", 0))
}

func TestStep_Materializers(t *testing.T) {
	s := New("x", scale, nil)
	_, ok := s.Materializer(DefaultOutput)
	assert.False(t, ok)

	s.WithReturnMaterializer(materializer.JSON())
	m, ok := s.Materializer("anything")
	require.True(t, ok)
	assert.Equal(t, "json", m.Name())

	s.WithReturnMaterializers(map[string]materializer.Materializer{"model": materializer.YAML()})
	_, ok = s.Materializer("anything")
	assert.False(t, ok)
	m, ok = s.Materializer("model")
	require.True(t, ok)
	assert.Equal(t, "yaml", m.Name())
}

func TestStep_BindMaterializesSingleOutput(t *testing.T) {
	store := artifact.NewLocalStore(t.TempDir())
	rec := &sliceRecorder{}
	s := New("scaler", scale, Params{"factor": 2}).WithReturnMaterializer(materializer.JSON())

	p := &pipeline.Pipeline{Name: "p", Steps: []pipeline.Step{s.Bind("double", store)}}
	ctx := WithRecorder(context.Background(), rec)
	out, err := p.RunWithInput(ctx, 4, &pipeline.RunOptions{RunID: "id-1", RunName: "p-run"})
	require.NoError(t, err)
	assert.Equal(t, 8, out)

	require.Len(t, rec.items, 1)
	got := rec.items[0]
	assert.Equal(t, "p-run", got.run.Name)
	assert.Equal(t, "double", got.step.Name)
	assert.Equal(t, DefaultOutput, got.art.Output)
	assert.Equal(t, "json", got.art.Materializer)

	b, err := os.ReadFile(strings.TrimPrefix(got.art.URI, "file://"))
	require.NoError(t, err)
	assert.Equal(t, "8", strings.TrimSpace(string(b)))
}

func TestStep_BindMaterializesNamedOutputs(t *testing.T) {
	store := artifact.NewLocalStore(t.TempDir())
	rec := &sliceRecorder{}
	split := New("split", func(ctx context.Context, p Params, in any) (any, error) {
		return Outputs{"train": []int{1, 2}, "test": []int{3}, "meta": "ignored"}, nil
	}, nil).WithReturnMaterializers(map[string]materializer.Materializer{
		"train": materializer.JSON(),
		"test":  materializer.YAML(),
	})

	p := &pipeline.Pipeline{Name: "p", Steps: []pipeline.Step{split.Bind("importer", store)}}
	_, err := p.RunWithInput(WithRecorder(context.Background(), rec), nil, &pipeline.RunOptions{})
	require.NoError(t, err)

	require.Len(t, rec.items, 2)
	assert.Equal(t, "test", rec.items[0].art.Output)
	assert.Equal(t, "yaml", rec.items[0].art.Materializer)
	assert.Equal(t, "train", rec.items[1].art.Output)
}

func TestStep_BindRejectsUnknownOutputMaterializer(t *testing.T) {
	store := artifact.NewLocalStore(t.TempDir())
	rec := &sliceRecorder{}
	split := New("split", func(ctx context.Context, p Params, in any) (any, error) {
		return Outputs{"train": []int{1}, "test": []int{2}}, nil
	}, nil).WithReturnMaterializers(map[string]materializer.Materializer{
		"train":  materializer.JSON(),
		"labels": materializer.JSON(),
	})

	p := &pipeline.Pipeline{Name: "p", Steps: []pipeline.Step{split.Bind("importer", store)}}
	_, err := p.RunWithInput(WithRecorder(context.Background(), rec), nil, &pipeline.RunOptions{})
	assert.ErrorContains(t, err, "materializers set for unknown outputs labels (outputs: test, train)")
	assert.Empty(t, rec.items)
}

func TestStep_BindWithoutRunOptionsSkipsArtifacts(t *testing.T) {
	dir := t.TempDir()
	s := New("scaler", scale, nil).WithReturnMaterializer(materializer.JSON())
	p := &pipeline.Pipeline{Name: "p", Steps: []pipeline.Step{s.Bind("s", artifact.NewLocalStore(dir))}}
	_, err := p.RunWithInput(context.Background(), 1, nil)
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStep_BindPropagatesError(t *testing.T) {
	errBoom := errors.New("boom")
	s := New("bad", func(ctx context.Context, p Params, in any) (any, error) { return nil, errBoom }, nil)
	p := &pipeline.Pipeline{Name: "p", Steps: []pipeline.Step{s.Bind("bad", nil)}}
	_, err := p.RunWithInput(context.Background(), nil, nil)
	assert.ErrorIs(t, err, errBoom)
}

func TestParams_Getters(t *testing.T) {
	p := Params{"i": 3.0, "f": 2, "s": 7, "b": "true", "n": "12"}
	assert.Equal(t, 3, p.Int("i", 0))
	assert.Equal(t, 12, p.Int("n", 0))
	assert.Equal(t, 9, p.Int("missing", 9))
	assert.Equal(t, 2.0, p.Float("f", 0))
	assert.Equal(t, "7", p.String("s", ""))
	assert.True(t, p.Bool("b", false))
}

func TestStep_WrapAppliesInOrder(t *testing.T) {
	var order []string
	tag := func(name string) Wrapper {
		return func(next pipeline.StepFunc) pipeline.StepFunc {
			return func(ctx context.Context, in any) (any, error) {
				order = append(order, name)
				return next(ctx, in)
			}
		}
	}
	s := New("scaler", scale, Params{"factor": 2}).Wrap(tag("inner")).Wrap(tag("outer"))
	p := &pipeline.Pipeline{Name: "p", Steps: []pipeline.Step{s.Bind("s", nil)}}
	out, err := p.RunWithInput(context.Background(), 4, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, out)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestAs(t *testing.T) {
	type sample struct {
		Label int       `json:"label"`
		Pixel []float64 `json:"pixel"`
	}
	direct, err := As[sample](sample{Label: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, direct.Label)

	// generic JSON value, as restored for a resumed run
	generic := map[string]any{"label": 7.0, "pixel": []any{0.5, 1.0}}
	converted, err := As[sample](generic)
	require.NoError(t, err)
	assert.Equal(t, sample{Label: 7, Pixel: []float64{0.5, 1}}, converted)

	_, err = As[int]("not a number")
	assert.True(t, err != nil && strings.Contains(err.Error(), "convert string to int"))
}

package step

import (
	"context"

	"github.com/dcshock/mlpipe/pipeline"
)

// Artifact describes one materialized output.
type Artifact struct {
	Output       string
	Materializer string
	URI          string
}

// ArtifactRecorder receives every artifact written by a bound step.
type ArtifactRecorder interface {
	RecordArtifact(ctx context.Context, run pipeline.RunInfo, step pipeline.StepInfo, art Artifact) error
}

type recorderKey struct{}

// WithRecorder returns a context whose bound steps report artifacts to rec.
func WithRecorder(ctx context.Context, rec ArtifactRecorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, rec)
}

func recorderFromContext(ctx context.Context) ArtifactRecorder {
	rec, _ := ctx.Value(recorderKey{}).(ArtifactRecorder)
	return rec
}

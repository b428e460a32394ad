package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dcshock/mlpipe/store"
	"github.com/dcshock/mlpipe/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestStore_ConcurrentRuns(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, err := s.EnsurePipeline(ctx, "mnist_pipeline", "local", "default")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			assert.NoError(t, s.StartRun(ctx, store.Run{ID: id, Name: id, PipelineID: p.ID, StartedAt: time.Now()}))
			assert.NoError(t, s.FinishRun(ctx, id, store.StatusSuccess, "", time.Now()))
		}(i)
	}
	wg.Wait()

	runs, err := s.ListRuns(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 20)
}

package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentroute/internal/domain"
)

func TestPoolRunsTasks(t *testing.T) {
	var calls atomic.Int32
	pool := NewPool(executorFunc(func(_ context.Context, task domain.AgentTask) (*domain.PhaseResult, error) {
		calls.Add(1)
		return &domain.PhaseResult{QualityScore: 0.9, Output: []byte(`"` + task.Title + `"`)}, nil
	}), 3, 8, nil)
	defer pool.Close()

	ctx := context.Background()
	futures := make([]*Future, 0, 10)
	for i := 0; i < 10; i++ {
		f, err := pool.Submit(ctx, domain.AgentTask{Title: "t"})
		require.NoError(t, err)
		futures = append(futures, f)
	}
	for _, f := range futures {
		res, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0.9, res.QualityScore)
	}
	assert.Equal(t, int32(10), calls.Load())
}

func TestPoolRecoversPanic(t *testing.T) {
	pool := NewPool(executorFunc(func(context.Context, domain.AgentTask) (*domain.PhaseResult, error) {
		panic("kaboom")
	}), 1, 1, nil)
	defer pool.Close()

	f, err := pool.Submit(context.Background(), domain.AgentTask{AgentName: "a"})
	require.NoError(t, err)
	_, err = f.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	// The worker survives the panic.
	f, err = pool.Submit(context.Background(), domain.AgentTask{})
	require.NoError(t, err)
	_, err = f.Wait(context.Background())
	assert.Contains(t, err.Error(), "kaboom")
}

func TestPoolNilResultIsError(t *testing.T) {
	pool := NewPool(executorFunc(func(context.Context, domain.AgentTask) (*domain.PhaseResult, error) {
		return nil, nil
	}), 1, 0, nil)
	defer pool.Close()

	f, err := pool.Submit(context.Background(), domain.AgentTask{})
	require.NoError(t, err)
	_, err = f.Wait(context.Background())
	assert.EqualError(t, err, "executor returned no result")
}

func TestPoolSubmitAfterClose(t *testing.T) {
	pool := NewPool(scoreExecutor(1), 1, 1, nil)
	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())

	_, err := pool.Submit(context.Background(), domain.AgentTask{})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolSubmitBlocksUntilContextDone(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(executorFunc(func(context.Context, domain.AgentTask) (*domain.PhaseResult, error) {
		<-release
		return &domain.PhaseResult{}, nil
	}), 1, 0, nil)
	defer func() {
		close(release)
		pool.Close()
	}()

	// Occupy the only worker.
	_, err := pool.Submit(context.Background(), domain.AgentTask{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Submit(ctx, domain.AgentTask{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolSkipsExpiredJobs(t *testing.T) {
	var calls atomic.Int32
	pool := NewPool(executorFunc(func(context.Context, domain.AgentTask) (*domain.PhaseResult, error) {
		calls.Add(1)
		return &domain.PhaseResult{}, nil
	}), 1, 4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Submit races between the send and ctx.Done; either outcome is a cancellation.
	f, err := pool.Submit(ctx, domain.AgentTask{})
	if err == nil {
		_, err = f.Wait(context.Background())
	}
	assert.True(t, errors.Is(err, context.Canceled))
	require.NoError(t, pool.Close())
	assert.Equal(t, int32(0), calls.Load())
}

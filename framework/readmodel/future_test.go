package readmodel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akriventsev/readmodel/framework/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_ReturnsValue(t *testing.T) {
	ctx := context.Background()
	future := Go(ctx, NewExecutor(1), func(ctx context.Context) (int, error) {
		return 42, nil
	})

	value, err := future.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, value)

	result, done := future.Result()
	require.True(t, done)
	assert.True(t, result.IsOk())
}

func TestGo_ReturnsError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	future := Go(ctx, nil, func(ctx context.Context) (string, error) {
		return "", boom
	})

	_, err := future.Await(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestGo_RecoversPanic(t *testing.T) {
	ctx := context.Background()
	future := Go(ctx, NewExecutor(0), func(ctx context.Context) (int, error) {
		panic("kaboom")
	})

	_, err := future.Await(ctx)
	require.Error(t, err)
	assert.True(t, core.HasCode(err, ErrAsyncPanic))
	assert.Contains(t, err.Error(), "kaboom")
}

func TestFuture_ResultBeforeCompletion(t *testing.T) {
	release := make(chan struct{})
	future := Go(context.Background(), nil, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	_, done := future.Result()
	assert.False(t, done)

	close(release)
	<-future.Done()
	result, done := future.Result()
	assert.True(t, done)
	assert.Equal(t, 1, result.Value)
}

func TestFuture_AwaitCanceled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	future := Go(context.Background(), nil, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := future.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutor_BoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(2)

	var (
		running atomic.Int32
		peak    atomic.Int32
	)
	futures := make([]*Future[struct{}], 0, 8)
	for i := 0; i < 8; i++ {
		futures = append(futures, Go(ctx, exec, func(ctx context.Context) (struct{}, error) {
			current := running.Add(1)
			for {
				old := peak.Load()
				if current <= old || peak.CompareAndSwap(old, current) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return struct{}{}, nil
		}))
	}

	for _, f := range futures {
		_, err := f.Await(ctx)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestExecutor_CanceledWhileWaitingForSlot(t *testing.T) {
	exec := NewExecutor(1)
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	busy := Go(context.Background(), exec, func(ctx context.Context) (int, error) {
		wg.Done()
		<-release
		return 0, nil
	})
	wg.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	var called atomic.Bool
	waiting := Go(ctx, exec, func(ctx context.Context) (int, error) {
		called.Store(true)
		return 0, nil
	})
	cancel()

	_, err := waiting.Await(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called.Load())

	close(release)
	_, err = busy.Await(context.Background())
	assert.NoError(t, err)
}

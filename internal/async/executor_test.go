package async

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBatchedPreservesOrder(t *testing.T) {
	items := []int{5, 3, 8, 1, 9, 2}

	results := RunBatched(context.Background(), items, 3, 2, func(_ context.Context, n int) (string, error) {
		// Vary completion time to shake out ordering bugs.
		time.Sleep(time.Duration(n) * time.Millisecond)
		return strconv.Itoa(n), nil
	})

	require.Len(t, results, len(items))
	for i, n := range items {
		require.NoError(t, results[i].Err)
		assert.Equal(t, strconv.Itoa(n), results[i].Value)
	}
}

func TestRunBatchedCapturesErrorsPerItem(t *testing.T) {
	boom := errors.New("boom")
	items := []int{1, 2, 3}

	results := RunBatched(context.Background(), items, 2, 2, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n * 10, nil
	})

	require.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, boom)
	require.NoError(t, results[2].Err)
	assert.Equal(t, 30, results[2].Value)
}

func TestRunBatchedCapturesPanics(t *testing.T) {
	results := RunBatched(context.Background(), []int{1, 2}, 1, 2, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			panic("bad item")
		}
		return n, nil
	})

	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	assert.Contains(t, results[1].Err.Error(), "bad item")
}

func TestRunBatchedBoundsConcurrency(t *testing.T) {
	var inflight, peak atomic.Int32

	items := make([]int, 20)
	RunBatched(context.Background(), items, 4, 10, func(_ context.Context, _ int) (struct{}, error) {
		cur := inflight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
		return struct{}{}, nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestRunBatchedCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := RunBatched(ctx, []int{1, 2, 3}, 1, 1, func(context.Context, int) (int, error) {
		return 0, nil
	})

	require.Len(t, results, 3)
	assert.ErrorIs(t, results[2].Err, context.Canceled)
}

func TestRunBatchedEmptyInput(t *testing.T) {
	results := RunBatched(context.Background(), nil, 2, 2, func(context.Context, int) (int, error) {
		t.Fatal("must not run")
		return 0, nil
	})
	assert.Empty(t, results)
}

package pool_test

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/habedi/fcrollback/pkg/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_ProcessesEveryItem(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	var count atomic.Int64

	results := pool.Map(context.Background(), items, 3, func(ctx context.Context, item int) (int, error) {
		count.Add(1)
		time.Sleep(10 * time.Millisecond)
		return item * 2, nil
	})

	require.Len(t, results, len(items))
	assert.Equal(t, int64(len(items)), count.Load())
	for i, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, items[i]*2, r.Value)
	}
}

func TestMap_KeepsErrorsPerItem(t *testing.T) {
	expectedErr := errors.New("worker failed")

	results := pool.Map(context.Background(), []int{1, 2, 3, 4}, 2, func(ctx context.Context, item int) (int, error) {
		if item%2 == 0 {
			return 0, expectedErr
		}
		return item, nil
	})

	require.Len(t, results, 4)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, expectedErr)
	assert.NoError(t, results[2].Err)
	assert.ErrorIs(t, results[3].Err, expectedErr)
}

func TestMap_ContextCancellation(t *testing.T) {
	items := make([]int, 1000)
	for i := range items {
		items[i] = i
	}
	var processed atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())

	results := pool.Map(ctx, items, runtime.NumCPU(), func(ctx context.Context, item int) (int, error) {
		processed.Add(1)
		if item == 0 {
			cancel()
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
		return item, nil
	})

	assert.Less(t, processed.Load(), int64(len(items)), "no new items after cancel")
	assert.Len(t, results, int(processed.Load()))
}

// Later items finish first, so results arrive out of order.
func TestMap_KeepsItemOrder(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7}

	results := pool.Map(context.Background(), items, len(items), func(ctx context.Context, i int) (int, error) {
		time.Sleep(time.Duration(len(items)-i) * 5 * time.Millisecond)
		return i * 10, nil
	})

	require.Len(t, results, len(items))
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, i*10, r.Value)
	}
}

func TestMap_PanicBecomesError(t *testing.T) {
	results := pool.Map(context.Background(), []int{1, 2, 3}, 2, func(ctx context.Context, i int) (int, error) {
		if i == 2 {
			panic("boom")
		}
		return i, nil
	})

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	assert.Contains(t, results[1].Err.Error(), "boom")
	assert.NoError(t, results[2].Err)
}

package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMap_EmptyItems(t *testing.T) {
	called := false
	results := Map(context.Background(), []int{}, 5, func(ctx context.Context, item int) (int, error) {
		called = true
		return item, nil
	})

	if len(results) != 0 {
		t.Errorf("Expected no results, got %d", len(results))
	}
	if called {
		t.Error("Worker should not be called with empty items")
	}
}

func TestMap_ZeroWorkersFallsBackToOne(t *testing.T) {
	var calls int32
	results := Map(context.Background(), []int{1, 2, 3}, 0, func(ctx context.Context, item int) (int, error) {
		atomic.AddInt32(&calls, 1)
		return item, nil
	})

	if len(results) != 3 {
		t.Errorf("Expected 3 results, got %d", len(results))
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestMap_SlowWorkersRunInParallel(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	start := time.Now()

	Map(context.Background(), items, 5, func(ctx context.Context, item int) (int, error) {
		time.Sleep(100 * time.Millisecond)
		return item, nil
	})

	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("Took too long: %v (expected ~100ms with parallel workers)", elapsed)
	}
}

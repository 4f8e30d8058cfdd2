package pool

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultWorkers is the size of the bounded pool used for auxiliary fetches.
const DefaultWorkers = 12

// MapFunc produces a result for one item.
type MapFunc[T, R any] func(ctx context.Context, item T) (R, error)

// Result pairs a mapped value with the index of the item it came from.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Map runs fn over items with at most numWorkers goroutines and returns one
// Result per processed item, ordered by item index. Items never handed to a
// worker because ctx was cancelled are omitted.
func Map[T, R any](ctx context.Context, items []T, numWorkers int, fn MapFunc[T, R]) []Result[R] {
	if numWorkers < 1 {
		numWorkers = 1
	}

	type job struct {
		index int
		item  T
	}

	var wg sync.WaitGroup
	taskChan := make(chan job, numWorkers)
	resChan := make(chan Result[R], len(items))

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range taskChan {
				select {
				case <-ctx.Done():
					return
				default:
					resChan <- call(ctx, j.index, j.item, fn)
				}
			}
		}()
	}

OUT:
	for i, item := range items {
		select {
		case taskChan <- job{index: i, item: item}:
		case <-ctx.Done():
			// Stop feeding tasks if the context is cancelled
			break OUT
		}
	}
	close(taskChan)

	wg.Wait()
	close(resChan)

	collected := make([]Result[R], 0, len(items))
	for r := range resChan {
		collected = append(collected, r)
	}
	slices.SortFunc(collected, func(a, b Result[R]) int { return cmp.Compare(a.Index, b.Index) })
	return collected
}

func call[T, R any](ctx context.Context, index int, item T, fn MapFunc[T, R]) (res Result[R]) {
	res.Index = index
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Int("item", index).Msg("Worker panicked")
			res.Err = fmt.Errorf("worker panicked on item %d: %v", index, p)
		}
	}()
	res.Value, res.Err = fn(ctx, item)
	return res
}

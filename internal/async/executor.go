package async

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Result holds the per-item outcome of a batched run. Exactly one of
// Value and Err is meaningful; Err is never propagated out of the run.
type Result[T any] struct {
	Value T
	Err   error
}

// RunBatched applies fn to every item with at most maxConcurrent
// invocations in flight, submitting items in batches of batchSize.
// The returned slice has the same length and order as items.
// Panics inside fn are captured as per-item errors so a single bad
// item cannot take down the pipeline.
func RunBatched[In, Out any](ctx context.Context, items []In, maxConcurrent, batchSize int, fn func(context.Context, In) (Out, error)) []Result[Out] {
	results := make([]Result[Out], len(items))
	if len(items) == 0 {
		return results
	}

	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if batchSize < 1 {
		batchSize = len(items)
	}

	sem := semaphore.NewWeighted(int64(maxConcurrent))
	var wg sync.WaitGroup

	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}

		for i := start; i < end; i++ {
			if err := sem.Acquire(ctx, 1); err != nil {
				// Context cancelled: record the error for every
				// remaining item and stop submitting.
				for j := i; j < len(items); j++ {
					results[j].Err = err
				}
				wg.Wait()
				return results
			}

			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				defer sem.Release(1)
				results[idx] = runOne(ctx, items[idx], fn)
			}(i)
		}
	}

	wg.Wait()
	return results
}

// runOne invokes fn with panic capture.
func runOne[In, Out any](ctx context.Context, item In, fn func(context.Context, In) (Out, error)) (res Result[Out]) {
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic in batched task: %v", r)
		}
	}()

	res.Value, res.Err = fn(ctx, item)
	return
}

// Package pool provides a bounded worker pool that drains a lazy producer.
//
// A single dispatcher goroutine admits work items, never keeping more than
// the configured limit in flight. Results are funneled through a channel to
// the sink, which only ever runs on the goroutine that called Run, so state
// mutated by the sink needs no locking.
package pool

import (
	"context"
	"errors"
	"sync"
)

// ErrInvalidLimit is returned when the concurrency limit is less than 1.
var ErrInvalidLimit = errors.New("concurrency limit must be at least 1")

// Producer returns the next work item. ok is false once the producer is exhausted.
// A non-nil error stops admission of further items.
type Producer[T any] func() (item T, ok bool, err error)

// Worker processes a single item. It must not panic and should encode
// failures in its result, since the pool has no error channel for items.
type Worker[T, R any] func(ctx context.Context, item T) R

// Sink receives every result, one at a time, on the calling goroutine.
type Sink[R any] func(result R)

// Run pulls items from next and processes them with work, keeping at most limit
// workers busy at once. The next item is only pulled once a slot is free,
// so with limit 1 items are processed strictly in the order they are produced.
//
// Run returns after every admitted item's result has been delivered to sink.
// It reports the number of admitted items and the producer error, if any.
func Run[T, R any](ctx context.Context, limit int, next Producer[T], work Worker[T, R], sink Sink[R]) (int, error) {
	if limit < 1 {
		return 0, ErrInvalidLimit
	}

	results := make(chan R, limit)
	var (
		admitted   int
		produceErr error
	)

	go func() {
		semaphore := make(chan struct{}, limit)
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(results)
		}()

		for {
			semaphore <- struct{}{}

			item, ok, err := next()
			if err != nil || !ok {
				produceErr = err
				<-semaphore
				return
			}
			admitted++

			wg.Add(1)
			go func(item T) {
				defer wg.Done()
				r := work(ctx, item)
				results <- r
				<-semaphore
			}(item)
		}
	}()

	for r := range results {
		sink(r)
	}

	// results is closed by the dispatcher after its last write to admitted and produceErr
	return admitted, produceErr
}

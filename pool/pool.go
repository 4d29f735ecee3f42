// Package pool runs independent work items on a fixed number of workers.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Run calls fn for every item using workers goroutines. A failing item does
// not stop the others; all failures are joined into the returned error.
// Cancelling ctx stops dispatching new items. workers <= 1 runs serially.
func Run[T any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, item T) error) error {
	if len(items) == 0 {
		return nil
	}
	if workers <= 1 {
		return runSerial(ctx, items, fn)
	}
	if workers > len(items) {
		workers = len(items)
	}

	tasks := make(chan T)
	results := make(chan error, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range tasks {
				if err := fn(ctx, item); err != nil {
					results <- err
				}
			}
		}()
	}

	// Collect concurrently so workers never block on a full results channel.
	var errs []error
	collected := make(chan struct{})
	go func() {
		for err := range results {
			errs = append(errs, err)
		}
		close(collected)
	}()

	var dispatchErr error
dispatch:
	for _, item := range items {
		select {
		case tasks <- item:
		case <-ctx.Done():
			dispatchErr = ctx.Err()
			break dispatch
		}
	}
	close(tasks)

	wg.Wait()
	close(results)
	<-collected

	if dispatchErr != nil {
		errs = append([]error{dispatchErr}, errs...)
	}
	return joinErrors(errs)
}

func runSerial[T any](ctx context.Context, items []T, fn func(ctx context.Context, item T) error) error {
	var errs []error
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			errs = append([]error{err}, errs...)
			break
		}
		if err := fn(ctx, item); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return fmt.Errorf("%d items failed: %w", len(errs), errors.Join(errs...))
}

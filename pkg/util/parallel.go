package util

import (
	"context"
	"errors"
	"sync"
)

// Parallel runs fn over inputs with at most workerLimit goroutines.
// Unlike a fail-fast group it runs every input and joins all errors,
// so one failing item never prevents the others from being attempted.
func Parallel[T any](ctx context.Context, inputs []T, workerLimit int, fn func(context.Context, T) error) error {
	if len(inputs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if workerLimit <= 0 {
		workerLimit = 1
	}

	tasks := make(chan T)
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)

	for i := 0; i < min(workerLimit, len(inputs)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range tasks {
				if err := fn(ctx, item); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
		}()
	}

	for _, item := range inputs {
		select {
		case <-ctx.Done():
			close(tasks)
			wg.Wait()
			return errors.Join(append(errs, ctx.Err())...)
		case tasks <- item:
		}
	}
	close(tasks)
	wg.Wait()

	return errors.Join(errs...)
}

// Package workerpool implements the bounded-concurrency executor used by
// ValidationDelegator and RewriteDelegator: a counting semaphore serializes
// task start, each task gets its own per-task deadline, and progress is
// reported at completion to preserve "completed N of M" ordering
// (spec.md §4.5).
//
// Grounded on pkg/agent/orchestrator/runner.go's SubAgentRunner: a
// reservation held across the concurrency check prevents the TOCTOU race
// where two Run callers both pass the check before either registers.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Result is the outcome of one task. Exactly one of Value/Err is
// meaningful, distinguished by Err == nil.
type Result[R any] struct {
	Value R
	Err   error
}

// ProgressFunc is invoked once per completed task, never at task start,
// so "N of total" always means "N completed."
type ProgressFunc func(completed, total int, workerID int, message string)

// ErrTimeout is returned in a Result when a task exceeds its per-task
// deadline. Partial work from the task is discarded; sibling tasks are
// unaffected.
var ErrTimeout = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "timeout" }

// Run executes fn over tasks with at most maxConcurrent in flight at
// once, enforcing perTaskTimeout per call and invoking progress at each
// completion. The returned slice is indexed by input position regardless
// of completion order (spec.md §5: "unordered completion; the result
// array is indexed by input position").
func Run[T, R any](
	ctx context.Context,
	tasks []T,
	fn func(ctx context.Context, task T) (R, error),
	maxConcurrent int,
	perTaskTimeout time.Duration,
	progress ProgressFunc,
) []Result[R] {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	total := len(tasks)
	results := make([]Result[R], total)
	if total == 0 {
		return results
	}

	sem := make(chan struct{}, maxConcurrent)
	var completed int32
	var wg sync.WaitGroup
	var workerSeq int32

	for i, task := range tasks {
		sem <- struct{}{} // acquire permit; blocks if at maxConcurrent

		wg.Add(1)
		go func(i int, task T) {
			defer wg.Done()
			defer func() { <-sem }() // release permit on every exit path

			workerID := int(atomic.AddInt32(&workerSeq, 1))

			taskCtx := ctx
			var cancel context.CancelFunc
			if perTaskTimeout > 0 {
				taskCtx, cancel = context.WithTimeout(ctx, perTaskTimeout)
				defer cancel()
			}

			value, err := runOne(taskCtx, task, fn)
			results[i] = Result[R]{Value: value, Err: err}

			n := int(atomic.AddInt32(&completed, 1))
			if progress != nil {
				progress(n, total, workerID, progressMessage(err))
			}
		}(i, task)
	}

	wg.Wait()
	return results
}

func runOne[T, R any](ctx context.Context, task T, fn func(context.Context, T) (R, error)) (R, error) {
	value, err := fn(ctx, task)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		var zero R
		return zero, ErrTimeout
	}
	return value, err
}

func progressMessage(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

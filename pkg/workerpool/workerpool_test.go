package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_resultsIndexedByInputPosition(t *testing.T) {
	tasks := []int{10, 20, 30, 40, 50}
	results := Run(context.Background(), tasks, func(ctx context.Context, task int) (int, error) {
		return task * 2, nil
	}, 2, time.Second, nil)

	require.Len(t, results, 5)
	for i, task := range tasks {
		assert.NoError(t, results[i].Err)
		assert.Equal(t, task*2, results[i].Value)
	}
}

func TestRun_neverExceedsMaxConcurrent(t *testing.T) {
	var active int32
	var maxSeen int32
	tasks := make([]int, 20)

	Run(context.Background(), tasks, func(ctx context.Context, task int) (int, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return 0, nil
	}, 5, time.Second, nil)

	assert.LessOrEqual(t, int(maxSeen), 5)
}

func TestRun_taskTimeoutYieldsErrorResultWithoutAffectingSiblings(t *testing.T) {
	tasks := []int{1, 2, 3}
	results := Run(context.Background(), tasks, func(ctx context.Context, task int) (int, error) {
		if task == 2 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return task, nil
	}, 3, 20*time.Millisecond, nil)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, 1, results[0].Value)
	assert.ErrorIs(t, results[1].Err, ErrTimeout)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, 3, results[2].Value)
}

func TestRun_progressInvokedAtCompletionNotStart(t *testing.T) {
	tasks := []int{1, 2, 3, 4}
	var mu sync.Mutex
	var calls []int

	Run(context.Background(), tasks, func(ctx context.Context, task int) (int, error) {
		return task, nil
	}, 2, time.Second, func(completed, total, workerID int, message string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, completed)
		assert.Equal(t, 4, total)
	})

	require.Len(t, calls, 4)
	assert.Equal(t, 4, calls[len(calls)-1])
}

func TestRun_finalCallIsTotalTotalExactlyOnce(t *testing.T) {
	tasks := make([]int, 10)
	var finalCount int32

	Run(context.Background(), tasks, func(ctx context.Context, task int) (int, error) {
		return 0, nil
	}, 4, time.Second, func(completed, total, workerID int, message string) {
		if completed == total {
			atomic.AddInt32(&finalCount, 1)
		}
	})

	assert.Equal(t, int32(1), finalCount)
}

func TestRun_errorOnOneTaskDoesNotAbortOthers(t *testing.T) {
	tasks := []int{1, 2, 3}
	results := Run(context.Background(), tasks, func(ctx context.Context, task int) (int, error) {
		if task == 2 {
			return 0, errors.New("boom")
		}
		return task, nil
	}, 1, time.Second, nil)

	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
}

func TestRun_emptyTasksReturnsEmptyResults(t *testing.T) {
	results := Run[int, int](context.Background(), nil, func(ctx context.Context, task int) (int, error) {
		return task, nil
	}, 5, time.Second, nil)
	assert.Empty(t, results)
}

package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)
	done := make(chan struct{}, 2)

	q := NewQueue("test", func(ctx context.Context, job Job) error {
		mu.Lock()
		seen[job.ID]++
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "a"}))
	require.NoError(t, q.Enqueue(Job{ID: "b"}))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed in time")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, seen["a"])
	require.Equal(t, 1, seen["b"])
}

func TestQueueRetriesFailedJob(t *testing.T) {
	attempts := make(chan int, 4)

	q := NewQueue("test", func(ctx context.Context, job Job) error {
		attempts <- job.Attempt
		if job.Attempt == 0 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "a"}))

	var got []int
	for i := 0; i < 2; i++ {
		select {
		case a := <-attempts:
			got = append(got, a)
		case <-time.After(2 * time.Second):
			t.Fatal("expected retry")
		}
	}
	require.Equal(t, []int{0, 1}, got)
}

func TestQueueRecoversFromPanic(t *testing.T) {
	calls := make(chan struct{}, 4)

	q := NewQueue("test", func(ctx context.Context, job Job) error {
		calls <- struct{}{}
		if job.Attempt == 0 {
			panic("boom")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 1, RetryDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "a"}))

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not survive panic")
		}
	}
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	require.Error(t, q.Enqueue(Job{ID: "a"}))
}

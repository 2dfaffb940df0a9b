package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"table-service/internal/logger"
)

func TestQueue_RunsJobsOneAtATime(t *testing.T) {
	q := New("test", 8, logger.NewNop())
	defer q.Close()

	var running, maxRunning int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Do(context.Background(), "inc", func(ctx context.Context) error {
				n := atomic.AddInt32(&running, 1)
				if n > atomic.LoadInt32(&maxRunning) {
					atomic.StoreInt32(&maxRunning, n)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxRunning)
}

func TestQueue_PreservesSubmissionOrder(t *testing.T) {
	q := New("test", 16, logger.NewNop())
	defer q.Close()

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, q.Do(context.Background(), "append", func(ctx context.Context) error {
			order = append(order, i)
			return nil
		}))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestQueue_ErrorIsolatedToCaller(t *testing.T) {
	q := New("test", 0, logger.NewNop())
	defer q.Close()

	boom := errors.New("boom")
	err := q.Do(context.Background(), "fail", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = q.Do(context.Background(), "ok", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestQueue_PanicIsRecovered(t *testing.T) {
	q := New("test", 0, logger.NewNop())
	defer q.Close()

	err := q.Do(context.Background(), "explode", func(ctx context.Context) error {
		panic("kaboom")
	})

	var perr *PanicError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "explode", perr.Op)
	assert.Equal(t, "kaboom", perr.Value)

	assert.NoError(t, q.Do(context.Background(), "after", func(ctx context.Context) error { return nil }))
}

func TestQueue_SkipsJobsCancelledBeforeStart(t *testing.T) {
	q := New("test", 4, logger.NewNop())
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), "block", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran int32
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Do(ctx, "skipped", func(ctx context.Context) error {
			atomic.StoreInt32(&ran, 1)
			return nil
		})
	}()

	// give the second job time to be enqueued behind the blocker
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	close(release)

	require.NoError(t, q.Do(context.Background(), "barrier", func(ctx context.Context) error { return nil }))
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}

func TestQueue_StartedJobRunsToCompletion(t *testing.T) {
	q := New("test", 0, logger.NewNop())
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	finished := errors.New("finished")
	var sawCancel int32
	err := q.Do(ctx, "commit", func(jobCtx context.Context) error {
		cancel()
		time.Sleep(5 * time.Millisecond)
		if jobCtx.Err() != nil {
			atomic.StoreInt32(&sawCancel, 1)
		}
		return finished
	})

	assert.ErrorIs(t, err, finished)
	assert.Equal(t, int32(0), atomic.LoadInt32(&sawCancel))
}

func TestQueue_CloseDrainsAndRejects(t *testing.T) {
	q := New("test", 4, logger.NewNop())

	var done int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), "work", func(ctx context.Context) error {
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&done, 1)
				return nil
			})
		}()
	}
	wg.Wait()
	q.Close()
	q.Close()

	assert.Equal(t, int32(4), done)
	err := q.Do(context.Background(), "late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
}

package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type job struct {
	key string
	seq int
}

func TestKeyed_SerializesPerKey(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string][]int{}
		done = make(chan struct{}, 20)
	)
	k, err := NewKeyed(context.Background(), 4, 4, func(_ context.Context, j job) {
		mu.Lock()
		seen[j.key] = append(seen[j.key], j.seq)
		mu.Unlock()
		done <- struct{}{}
	})
	require.NoError(t, err)
	defer k.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, k.Enqueue(context.Background(), "alice", job{key: "alice", seq: i}))
		require.NoError(t, k.Enqueue(context.Background(), "bob", job{key: "bob", seq: i}))
	}
	for i := 0; i < 20; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen["alice"])
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen["bob"])
	require.Equal(t, 2, k.Len())
}

func TestKeyed_SameKeyNeverRunsConcurrently(t *testing.T) {
	var (
		mu      sync.Mutex
		running int
		maxSeen int
		wg      sync.WaitGroup
	)
	k, err := NewKeyed(context.Background(), 4, 8, func(_ context.Context, _ job) {
		defer wg.Done()
		mu.Lock()
		running++
		if running > maxSeen {
			maxSeen = running
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
	})
	require.NoError(t, err)
	defer k.Close()

	wg.Add(5)
	for i := 0; i < 5; i++ {
		require.NoError(t, k.Enqueue(context.Background(), "alice", job{key: "alice", seq: i}))
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
}

func TestKeyed_EnqueueAfterClose(t *testing.T) {
	k, err := NewKeyed(context.Background(), 1, 1, func(context.Context, job) {})
	require.NoError(t, err)
	k.Close()
	require.ErrorIs(t, k.Enqueue(context.Background(), "alice", job{}), ErrClosed)
}

func TestKeyed_EnqueueRespectsCallerContext(t *testing.T) {
	block := make(chan struct{})
	k, err := NewKeyed(context.Background(), 1, 1, func(context.Context, job) { <-block })
	require.NoError(t, err)
	defer k.Close()
	defer close(block)

	// First job occupies the worker, second fills the buffer.
	require.NoError(t, k.Enqueue(context.Background(), "alice", job{seq: 1}))
	require.NoError(t, k.Enqueue(context.Background(), "alice", job{seq: 2}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = k.Enqueue(ctx, "alice", job{seq: 3})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewKeyed_NilHandle(t *testing.T) {
	_, err := NewKeyed[job](context.Background(), 1, 1, nil)
	require.Error(t, err)
}

package future

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_ResolveOnce(t *testing.T) {
	f := New[string]()

	assert.True(t, f.Resolve("first"))
	assert.False(t, f.Resolve("second"))
	assert.False(t, f.Reject(errors.New("late")))

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestFuture_Reject(t *testing.T) {
	boom := errors.New("boom")
	f := Failed[int](boom)

	v, err := f.Await(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, v)
}

func TestFuture_ResultBeforeCompletion(t *testing.T) {
	f := New[int]()

	_, _, ok := f.Result()
	assert.False(t, ok)

	f.Resolve(7)
	v, err, ok := f.Result()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestFuture_AwaitHonoursContext(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The future can still complete afterwards.
	f.Resolve(1)
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFuture_ManyWaiters(t *testing.T) {
	f := New[string]()
	const waiters = 20

	var wg sync.WaitGroup
	results := make([]string, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _ := f.Await(context.Background())
			results[i] = v
		}(i)
	}

	f.Resolve("shared")
	wg.Wait()

	for i, v := range results {
		assert.Equal(t, "shared", v, "waiter %d", i)
	}
	select {
	case <-f.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
}

func TestFuture_Resolved(t *testing.T) {
	v, err := Resolved(struct{}{}).Await(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, struct{}{}, v)
}

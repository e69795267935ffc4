package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockUntilCancelled(started chan<- struct{}) Op[string] {
	return func(ctx context.Context) (string, error) {
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return "cancelled", ctx.Err()
	}
}

func next[K comparable, T any](t *testing.T, r *Registry[K, T]) Completion[K, T] {
	t.Helper()
	select {
	case c := <-r.Completions():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
		return Completion[K, T]{}
	}
}

func assertNoCompletion[K comparable, T any](t *testing.T, r *Registry[K, T], wait time.Duration) {
	t.Helper()
	select {
	case c := <-r.Completions():
		t.Fatalf("unexpected completion for %v", c.Key)
	case <-time.After(wait):
	}
}

func TestRegistry_AtMostOnePerKey(t *testing.T) {
	r := NewRegistry[string, string](Options{})
	defer r.Close()

	e, err := r.TryInsert("0xabc")
	require.NoError(t, err)
	require.NoError(t, e.Spawn(blockUntilCancelled(nil)))

	_, err = r.TryInsert("0xabc")
	require.ErrorIs(t, err, ErrRejected)

	var rejected *RejectedError[string]
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "0xabc", rejected.Key)

	assert.True(t, r.Contains("0xabc"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DroppedEntryCreatesNoBookkeeping(t *testing.T) {
	r := NewRegistry[string, int](Options{})
	defer r.Close()

	_, err := r.TryInsert("k")
	require.NoError(t, err)

	assert.Equal(t, 0, r.Len())
	_, err = r.TryInsert("k")
	assert.NoError(t, err)
}

func TestRegistry_SpawnAfterConcurrentClaimFails(t *testing.T) {
	r := NewRegistry[string, int](Options{})
	defer r.Close()

	e1, err := r.TryInsert("k")
	require.NoError(t, err)
	e2, err := r.TryInsert("k")
	require.NoError(t, err)

	require.NoError(t, e1.Spawn(func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}))
	assert.ErrorIs(t, e2.Spawn(func(ctx context.Context) (int, error) { return 1, nil }), ErrRejected)
}

func TestRegistry_AbortRemovesAndStops(t *testing.T) {
	r := NewRegistry[string, string](Options{})
	defer r.Close()

	started := make(chan struct{})
	require.NoError(t, r.Spawn("k", blockUntilCancelled(started)))
	<-started

	key, ok := r.Abort("k")
	require.True(t, ok)
	assert.Equal(t, "k", key)

	// The key is free again immediately.
	e, err := r.TryInsert("k")
	require.NoError(t, err)
	assert.Equal(t, "k", e.Key())

	// The aborted unit's completion is never observed.
	assertNoCompletion(t, r, 50*time.Millisecond)

	_, ok = r.Abort("k")
	assert.False(t, ok)
}

func TestRegistry_AbortDoesNotAffectReplacement(t *testing.T) {
	r := NewRegistry[string, string](Options{})
	defer r.Close()

	oldStarted := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, r.Spawn("k", func(ctx context.Context) (string, error) {
		close(oldStarted)
		<-release // ignores cancellation until released
		return "old", nil
	}))
	<-oldStarted

	_, ok := r.Abort("k")
	require.True(t, ok)

	require.NoError(t, r.Spawn("k", func(ctx context.Context) (string, error) {
		return "new", nil
	}))

	c := next(t, r)
	assert.Equal(t, "new", c.Value)

	close(release)
	assertNoCompletion(t, r, 50*time.Millisecond)
}

func TestRegistry_CompletionOrderNotSpawnOrder(t *testing.T) {
	r := NewRegistry[string, string](Options{})
	defer r.Close()

	require.NoError(t, r.Spawn("A", func(ctx context.Context) (string, error) {
		time.Sleep(100 * time.Millisecond)
		return "slow", nil
	}))
	require.NoError(t, r.Spawn("B", func(ctx context.Context) (string, error) {
		return "fast", nil
	}))

	first := next(t, r)
	second := next(t, r)

	assert.Equal(t, "B", first.Key)
	assert.Equal(t, "fast", first.Value)
	assert.Equal(t, "A", second.Key)
	assert.Equal(t, "slow", second.Value)
	assert.GreaterOrEqual(t, second.Elapsed, 100*time.Millisecond)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_OperationErrorIsDelivered(t *testing.T) {
	r := NewRegistry[string, int](Options{})
	defer r.Close()

	boom := errors.New("rpc down")
	require.NoError(t, r.Spawn("k", func(ctx context.Context) (int, error) {
		return 0, boom
	}))

	c := next(t, r)
	assert.ErrorIs(t, c.Err, boom)
	assert.False(t, c.Failed())
}

func TestRegistry_PanicBecomesJoinFailure(t *testing.T) {
	r := NewRegistry[string, int](Options{})
	defer r.Close()

	require.NoError(t, r.Spawn("bad", func(ctx context.Context) (int, error) {
		panic("index out of range")
	}))

	c := next(t, r)
	assert.True(t, c.Failed())

	var je *JoinError[string]
	require.ErrorAs(t, c.Err, &je)
	assert.Equal(t, "bad", je.Key)
	assert.Equal(t, "index out of range", je.Panic)
	assert.NotEmpty(t, je.Stack)

	// The key is released after a failure.
	assert.False(t, r.Contains("bad"))
}

func TestRegistry_AbortAll(t *testing.T) {
	r := NewRegistry[int, string](Options{})
	defer r.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Spawn(i, blockUntilCancelled(nil)))
	}

	assert.Equal(t, 5, r.AbortAll())
	assert.Equal(t, 0, r.Len())
	assertNoCompletion(t, r, 50*time.Millisecond)
}

func TestRegistry_CloseCancelsEverything(t *testing.T) {
	r := NewRegistry[int, string](Options{Buffer: 1})

	var stopped atomic.Int32
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Spawn(i, func(ctx context.Context) (string, error) {
			<-ctx.Done()
			stopped.Add(1)
			return "", ctx.Err()
		}))
	}

	r.Close()
	assert.Equal(t, int32(3), stopped.Load())

	_, err := r.TryInsert(99)
	assert.ErrorIs(t, err, ErrClosed)

	// Close is idempotent.
	r.Close()
}

func TestRegistry_CloseDoesNotBlockOnUndrainedCompletions(t *testing.T) {
	r := NewRegistry[int, int](Options{Buffer: 1})

	for i := 0; i < 4; i++ {
		v := i
		require.NoError(t, r.Spawn(i, func(ctx context.Context) (int, error) { return v, nil }))
	}
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on undrained completions")
	}
}

func TestRegistry_Keys(t *testing.T) {
	r := NewRegistry[string, string](Options{})
	defer r.Close()

	require.NoError(t, r.Spawn("a", blockUntilCancelled(nil)))
	require.NoError(t, r.Spawn("b", blockUntilCancelled(nil)))

	assert.ElementsMatch(t, []string{"a", "b"}, r.Keys())
}

package cancel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken_NotFiredBlocks(t *testing.T) {
	tok, _ := New()

	assert.False(t, tok.Fired())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tok.Wait(ctx), context.DeadlineExceeded)
}

func TestTrigger_FireBroadcastsToAllReaders(t *testing.T) {
	tok, trig := New()

	const readers = 16
	var wg sync.WaitGroup
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			<-tok.Done()
		}()
	}

	trig.Fire()
	trig.Fire() // second fire is a no-op

	waitOrFail(t, &wg)
	assert.True(t, tok.Fired())
	require.NoError(t, tok.Wait(context.Background()))

	// Readers arriving after the fire observe it immediately.
	select {
	case <-tok.Done():
	default:
		t.Fatal("late reader did not observe fired token")
	}
}

func TestToken_Context(t *testing.T) {
	tok, trig := New()

	ctx, stop := tok.Context(context.Background())
	defer stop()

	assert.NoError(t, ctx.Err())
	trig.Fire()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("derived context not cancelled")
	}
	assert.ErrorIs(t, context.Cause(ctx), ErrCancelled)
}

func TestRace_OperationWins(t *testing.T) {
	tok, _ := New()

	v, err := Race(context.Background(), tok, func(ctx context.Context) (int, error) {
		return 5, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestRace_ForwardsOperationError(t *testing.T) {
	tok, _ := New()
	boom := errors.New("boom")

	_, err := Race(context.Background(), tok, func(ctx context.Context) (int, error) {
		return 0, boom
	})

	assert.ErrorIs(t, err, boom)
}

func TestRace_TokenWins(t *testing.T) {
	tok, trig := New()
	started := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		<-started
		trig.Fire()
	}()

	_, err := Race(context.Background(), tok, func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		close(stopped)
		return "late", nil
	})

	assert.ErrorIs(t, err, ErrCancelled)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("abandoned operation context was not cancelled")
	}
}

func TestRace_TriggerBeforeCompletionAlwaysCancels(t *testing.T) {
	for i := 0; i < 200; i++ {
		tok, trig := New()

		_, err := Race(context.Background(), tok, func(ctx context.Context) (int, error) {
			trig.Fire()
			return i, nil
		})

		require.ErrorIs(t, err, ErrCancelled, "trial %d", i)
	}
}

func TestRace_AlreadyFired(t *testing.T) {
	tok, trig := New()
	trig.Fire()

	called := false
	_, err := Race(context.Background(), tok, func(ctx context.Context) (int, error) {
		called = true
		return 1, nil
	})

	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, called)
}

func TestRace_PanicReraisedOnCaller(t *testing.T) {
	tok, _ := New()
	assert.PanicsWithValue(t, "monitor bug", func() {
		_, _ = Race(context.Background(), tok, func(ctx context.Context) (int, error) {
			panic("monitor bug")
		})
	})
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for readers")
	}
}

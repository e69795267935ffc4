package timed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances by step on every read.
func fakeClock(t *testing.T, step time.Duration) {
	t.Helper()
	base := time.Unix(1700000000, 0)
	calls := 0
	orig := now
	now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * step)
	}
	t.Cleanup(func() { now = orig })
}

func TestWrap_MeasuresFromInvocation(t *testing.T) {
	fakeClock(t, 10*time.Millisecond)

	op := Wrap(func(ctx context.Context) int { return 42 })

	v, elapsed := op(context.Background())
	assert.Equal(t, 42, v)
	assert.Equal(t, 10*time.Millisecond, elapsed)
}

func TestWrap_RealClockCountsWork(t *testing.T) {
	op := Wrap(func(ctx context.Context) string {
		time.Sleep(20 * time.Millisecond)
		return "done"
	})

	// Idle time before the first run must not be counted.
	time.Sleep(30 * time.Millisecond)

	v, elapsed := op(context.Background())
	assert.Equal(t, "done", v)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	assert.Less(t, elapsed, 50*time.Millisecond)
}

func TestWrapResult_Success(t *testing.T) {
	fakeClock(t, 5*time.Millisecond)

	res, err := WrapResult(func(ctx context.Context) (string, error) {
		return "ok", nil
	})(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 5*time.Millisecond, res.Elapsed)
}

func TestWrapResult_ErrorUntouched(t *testing.T) {
	boom := errors.New("boom")

	res, err := Run(context.Background(), func(ctx context.Context) (int, error) {
		return 7, boom
	})

	assert.Same(t, boom, err)
	assert.Zero(t, res.Elapsed)
	assert.Zero(t, res.Value)
}

func TestStream_PreservesOrderAndClose(t *testing.T) {
	in := make(chan int, 3)
	in <- 1
	in <- 2
	in <- 3
	close(in)

	var got []int
	var last time.Time
	for s := range Stream(context.Background(), in) {
		got = append(got, s.Item)
		assert.False(t, s.At.Before(last), "timestamps must be monotonic")
		last = s.At
	}

	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestStream_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan int)

	out := Stream(ctx, in)
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream did not close after cancel")
	}
}

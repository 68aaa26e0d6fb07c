package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/dagflow/internal/clock"
)

var errBoom = errors.New("boom")

func failing(context.Context) error { return errBoom }
func succeeding(context.Context) error { return nil }

func newTestBreaker(clk clock.Clock) *CircuitBreaker {
	return NewCircuitBreaker("dispatch:exec-1", BreakerConfig{FailureThreshold: 3, Cooldown: 30 * time.Second}, clk, nil)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clk := clock.NewMock(time.Unix(0, 0))
	b := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Execute(ctx, failing), errBoom)
		assert.Equal(t, StateClosed, b.State())
	}

	assert.ErrorIs(t, b.Execute(ctx, failing), errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 3, b.Failures())
}

func TestCircuitBreaker_FailsFastWhileOpen(t *testing.T) {
	clk := clock.NewMock(time.Unix(0, 0))
	b := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failing)
	}
	require.Equal(t, StateOpen, b.State())

	clk.Advance(29 * time.Second)

	var calls int32
	err := b.Execute(ctx, func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, atomic.LoadInt32(&calls), "wrapped operation must not run while open")
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clk := clock.NewMock(time.Unix(0, 0))
	b := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failing)
	}
	clk.Advance(30 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(ctx, succeeding))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := clock.NewMock(time.Unix(0, 0))
	b := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failing)
	}
	clk.Advance(31 * time.Second)

	assert.ErrorIs(t, b.Execute(ctx, failing), errBoom)
	assert.Equal(t, StateOpen, b.State())

	clk.Advance(20 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, succeeding), ErrCircuitOpen, "cooldown restarts after a failed trial")

	clk.Advance(10 * time.Second)
	assert.NoError(t, b.Execute(ctx, succeeding))
	assert.Equal(t, StateClosed, b.State())
}

func TestCircuitBreaker_SingleTrialInHalfOpen(t *testing.T) {
	clk := clock.NewMock(time.Unix(0, 0))
	b := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failing)
	}
	clk.Advance(30 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Execute(ctx, succeeding)
	assert.ErrorIs(t, err, ErrCircuitOpen, "second caller must be rejected while trial is in flight")

	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
}

func TestCircuitBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	b := newTestBreaker(clock.NewMock(time.Unix(0, 0)))
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)
	require.NoError(t, b.Execute(ctx, succeeding))
	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)

	assert.Equal(t, StateClosed, b.State())
}

func TestCircuitBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b := newTestBreaker(clock.NewMock(time.Unix(0, 0)))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := b.Execute(ctx, func(context.Context) error { return Permanent(errBoom) })
		assert.True(t, IsPermanent(err))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clk := clock.NewMock(time.Unix(0, 0))
	changes := make(chan [2]State, 4)
	b := NewCircuitBreaker("probe:x", BreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(name string, from, to State) {
			changes <- [2]State{from, to}
		},
	}, clk, nil)

	_ = b.Execute(context.Background(), failing)

	select {
	case change := <-changes:
		assert.Equal(t, [2]State{StateClosed, StateOpen}, change)
	case <-time.After(time.Second):
		t.Fatal("state change callback not invoked")
	}
}

func TestBreakers_GetReturnsSameInstance(t *testing.T) {
	p := NewBreakers(BreakerConfig{}, nil, nil)

	a := p.Get("dispatch:a")
	assert.Same(t, a, p.Get("dispatch:a"))
	assert.NotSame(t, a, p.Get("dispatch:b"))
	assert.Equal(t, []string{"dispatch:a", "dispatch:b"}, p.Names())

	p.Remove("dispatch:a")
	assert.Equal(t, []string{"dispatch:b"}, p.Names())
}

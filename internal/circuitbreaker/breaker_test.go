package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNode = errors.New("node unavailable")

func succeed(context.Context) error { return nil }
func failNode(context.Context) error { return errNode }

// tripped returns a breaker opened by a single failure.
func tripped(t *testing.T, cfg Config) (*Breaker, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	cfg.Clock = mock
	cfg.FailureThreshold = 1
	b := New(cfg)
	require.ErrorIs(t, b.Do(context.Background(), failNode), errNode)
	require.Equal(t, StateOpen, b.GetState())
	return b, mock
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, StateClosed, b.GetState())
	assert.Equal(t, 5, b.cfg.FailureThreshold)
	assert.Equal(t, 2, b.cfg.SuccessThreshold)
	assert.Equal(t, 1, b.cfg.HalfOpenProbes)
	assert.Equal(t, 30*time.Second, b.cfg.OpenTimeout)
	assert.True(t, b.cfg.IsFailure(errNode))
}

func TestDo_OpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	b := New(Config{FailureThreshold: 3, Clock: clock.NewMock()})

	require.ErrorIs(t, b.Do(ctx, failNode), errNode)
	require.ErrorIs(t, b.Do(ctx, failNode), errNode)
	require.NoError(t, b.Do(ctx, succeed), "a success resets the streak")
	require.ErrorIs(t, b.Do(ctx, failNode), errNode)
	require.ErrorIs(t, b.Do(ctx, failNode), errNode)
	assert.Equal(t, StateClosed, b.GetState())

	require.ErrorIs(t, b.Do(ctx, failNode), errNode)
	assert.Equal(t, StateOpen, b.GetState())

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestDo_IgnoredErrors(t *testing.T) {
	ctx := context.Background()
	revert := errors.New("contract reverted")
	b := New(Config{
		FailureThreshold: 1,
		Clock:            clock.NewMock(),
		IsFailure:        func(err error) bool { return !errors.Is(err, revert) },
	})

	assert.ErrorIs(t, b.Do(ctx, func(context.Context) error { return revert }), revert)
	assert.ErrorIs(t, b.Do(ctx, func(context.Context) error { return context.Canceled }), context.Canceled)
	assert.ErrorIs(t, b.Do(ctx, func(context.Context) error { return context.DeadlineExceeded }), context.DeadlineExceeded)
	assert.Equal(t, StateClosed, b.GetState())
}

func TestOpenTimeout_MovesToHalfOpen(t *testing.T) {
	b, mock := tripped(t, Config{OpenTimeout: 10 * time.Second})

	mock.Add(9 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	mock.Add(time.Second)
	assert.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.GetState())
}

func TestHalfOpen_ClosesAfterSuccessThreshold(t *testing.T) {
	ctx := context.Background()
	b, mock := tripped(t, Config{SuccessThreshold: 2, OpenTimeout: time.Second})
	mock.Add(time.Second)

	require.NoError(t, b.Do(ctx, succeed))
	assert.Equal(t, StateHalfOpen, b.GetState())
	require.NoError(t, b.Do(ctx, succeed))
	assert.Equal(t, StateClosed, b.GetState())
	assert.Zero(t, b.Snapshot().Failures)
}

func TestHalfOpen_FailureRestartsOpenWindow(t *testing.T) {
	b, mock := tripped(t, Config{OpenTimeout: time.Second})
	mock.Add(time.Second)

	require.ErrorIs(t, b.Do(context.Background(), failNode), errNode)
	snap := b.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, mock.Now(), snap.OpenedAt)

	mock.Add(500 * time.Millisecond)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestHalfOpen_ProbeBudget(t *testing.T) {
	b, mock := tripped(t, Config{HalfOpenProbes: 2, SuccessThreshold: 5, OpenTimeout: time.Second})
	mock.Add(time.Second)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	probe := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Do(context.Background(), probe))
		}()
	}
	<-started
	<-started

	assert.ErrorIs(t, b.Do(context.Background(), succeed), ErrCircuitOpen, "budget spent while probes are in flight")
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	close(release)
	wg.Wait()
	assert.NoError(t, b.Allow(), "finished probes return their slots")
	assert.Equal(t, StateHalfOpen, b.GetState())
}

func TestHalfOpen_CanceledProbeReleasesSlot(t *testing.T) {
	ctx := context.Background()
	b, mock := tripped(t, Config{OpenTimeout: time.Second})
	mock.Add(time.Second)

	require.ErrorIs(t, b.Do(ctx, func(context.Context) error { return context.Canceled }), context.Canceled)
	assert.Equal(t, StateHalfOpen, b.GetState())
	assert.NoError(t, b.Do(ctx, succeed))
}

func TestOnStateChange_Sequence(t *testing.T) {
	type change struct{ from, to State }
	var got []change
	mock := clock.NewMock()
	b := New(Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      time.Second,
		Clock:            mock,
		OnStateChange:    func(from, to State) { got = append(got, change{from, to}) },
	})
	ctx := context.Background()

	_ = b.Do(ctx, failNode)
	assert.Empty(t, got)
	_ = b.Do(ctx, failNode)
	mock.Add(time.Second)
	require.NoError(t, b.Do(ctx, succeed))

	assert.Equal(t, []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, got)
}

func TestState_String(t *testing.T) {
	for state, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		assert.Equal(t, want, state.String())
	}
}

func TestDo_Concurrent(t *testing.T) {
	b := New(Config{FailureThreshold: 10, SuccessThreshold: 3, HalfOpenProbes: 4, OpenTimeout: time.Millisecond})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 300; j++ {
				if (id+j)%3 == 0 {
					_ = b.Do(ctx, failNode)
				} else {
					_ = b.Do(ctx, succeed)
				}
				_ = b.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Zero(t, b.probes, "every admitted probe is released")
}

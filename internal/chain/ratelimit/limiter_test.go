package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/emperorhan/treasury-sync/internal/circuitbreaker"
)

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(10.0, 5, "sepolia")

	require.NotNil(t, l)
	assert.Equal(t, "sepolia", l.network)
	assert.InDelta(t, 10.0, float64(l.limiter.Limit()), 0.001)
	assert.Equal(t, 5, l.limiter.Burst())
}

func TestNewLimiter_NonPositiveDisables(t *testing.T) {
	l := NewLimiter(0, 0, "devnet")
	assert.Equal(t, rate.Inf, l.limiter.Limit())
	assert.Equal(t, 1, l.limiter.Burst())

	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
}

func TestLimiter_AllowWithinBurst(t *testing.T) {
	const burst = 5
	l := NewLimiter(100, burst, "sepolia")

	for i := 0; i < burst; i++ {
		start := time.Now()
		require.NoError(t, l.Wait(context.Background()), "request %d", i)
		assert.Less(t, time.Since(start), 50*time.Millisecond, "request %d should not wait", i)
	}
}

func TestLimiter_WaitWhenExhausted(t *testing.T) {
	l := NewLimiter(10, 1, "mainnet")
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))

	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_ContextCancellation(t *testing.T) {
	l := NewLimiter(1, 1, "sepolia")
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
}

func TestClassifyRPCError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{circuitbreaker.ErrCircuitOpen, "circuit_open"},
		{fmt.Errorf("call: %w", circuitbreaker.ErrCircuitOpen), "circuit_open"},
		{context.Canceled, "canceled"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("429 Too Many Requests"), "rate_limited"},
		{errors.New("502 bad gateway"), "server_error"},
		{errors.New("dial tcp: connection refused"), "network_error"},
		{errors.New("Contract not found"), "client_error"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ClassifyRPCError(tc.err), "err=%v", tc.err)
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("i/o timeout")))
	assert.True(t, IsTransient(errors.New("unexpected EOF")))
	assert.False(t, IsTransient(errors.New("Contract not found")))
	assert.False(t, IsTransient(nil))
}

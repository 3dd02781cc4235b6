// Package circuitbreaker stops calls to a failing node and probes it again
// after a cool-off.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureThreshold int           // consecutive failures that open the circuit (default 5)
	SuccessThreshold int           // half-open successes that close it again (default 2)
	HalfOpenProbes   int           // concurrent calls admitted while half-open (default 1)
	OpenTimeout      time.Duration // time spent open before probing (default 30s)
	OnStateChange    func(from, to State)

	// IsFailure decides whether an error returned to Do counts against the
	// breaker. Context cancellation never does. Defaults to every other error.
	IsFailure func(error) bool

	Clock clock.Clock
}

// Snapshot is a point-in-time view for health reporting.
type Snapshot struct {
	State    State
	Failures int
	OpenedAt time.Time
}

// Breaker guards calls to one RPC endpoint.
type Breaker struct {
	cfg   Config
	clock clock.Clock

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	gen       uint64 // bumped on every transition
	openedAt  time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(error) bool { return true }
	}
	return &Breaker{cfg: cfg, clock: cfg.Clock, state: StateClosed}
}

// Allow reports whether a call would be admitted now. It reserves nothing;
// callers use it to fail fast before spending other resources on a call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.admissible()
}

// Do runs fn if the breaker admits it and records the outcome. While
// half-open only HalfOpenProbes calls run at a time; the rest fail fast
// with ErrCircuitOpen.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	gen, probe, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe && gen == b.gen {
		b.probes--
	}
	switch {
	case err == nil:
		b.onSuccess()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
	case b.cfg.IsFailure(err):
		b.onFailure()
	default:
		b.onSuccess()
	}
	return err
}

// acquire reserves a probe slot when half-open. The slot belongs to the
// current generation and is void once the breaker transitions.
func (b *Breaker) acquire() (gen uint64, probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	if err := b.admissible(); err != nil {
		return 0, false, err
	}
	if b.state == StateHalfOpen {
		b.probes++
		return b.gen, true, nil
	}
	return b.gen, false, nil
}

// admissible must be called with b.mu held.
func (b *Breaker) admissible() error {
	switch b.state {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenProbes {
			return ErrCircuitOpen
		}
	}
	return nil
}

func (b *Breaker) onSuccess() {
	b.failures = 0
	if b.state != StateHalfOpen {
		return
	}
	b.successes++
	if b.successes >= b.cfg.SuccessThreshold {
		b.transition(StateClosed)
	}
}

func (b *Breaker) onFailure() {
	b.failures++
	b.successes = 0
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.cfg.FailureThreshold) {
		b.openedAt = b.clock.Now()
		b.transition(StateOpen)
	}
}

func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return Snapshot{State: b.state, Failures: b.failures, OpenedAt: b.openedAt}
}

func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.clock.Since(b.openedAt) >= b.cfg.OpenTimeout {
		b.transition(StateHalfOpen)
	}
}

// transition runs OnStateChange with b.mu held; the callback must not call
// back into the breaker.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.gen++
	b.successes = 0
	b.probes = 0
	if to == StateClosed {
		b.failures = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

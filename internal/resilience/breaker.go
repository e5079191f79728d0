// Package resilience keeps a dead upstream service from stalling the tutor.
//
// [Breaker] is a three-state circuit breaker (closed → open → half-open).
// After enough consecutive failures it rejects calls immediately with
// [ErrOpen] until a cooldown has passed, then lets a few probe calls through
// to decide whether the service recovered. [Failover] chains several
// instances of the same provider, each behind its own breaker, and
// [SynthesizerChain] applies that to speech synthesis.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is rejecting calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the cooldown elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. A failed
	// probe re-opens the breaker; enough successful ones close it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// BreakerConfig holds the tuning knobs of a [Breaker]. Zero fields take
// defaults.
type BreakerConfig struct {
	// Name labels log lines and state change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing.
	// Default: 20s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close the
	// breaker again. At most this many probes run concurrently. Default: 1.
	Probes int

	// OnStateChange, if set, is called after every transition. It runs with
	// no locks held.
	OnStateChange func(name string, from, to State)

	// Clock replaces time.Now. Tests use it to skip the cooldown.
	Clock func() time.Time
}

// Breaker implements the circuit breaker pattern around arbitrary calls.
type Breaker struct {
	cfg BreakerConfig

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	inFlight   int
	successes  int
	transition []func()
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 20 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Name returns the configured label.
func (b *Breaker) Name() string { return b.cfg.Name }

// Do runs fn unless the breaker is open. A non-nil error from fn counts as a
// failure, except when ctx itself ended: a caller giving up says nothing
// about the health of the service.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	b.mu.Lock()
	if probe {
		b.inFlight--
	}
	switch {
	case err == nil:
		b.onSuccess(probe)
	case ctx.Err() != nil:
		// Neither outcome: the probe slot is simply released.
	default:
		b.onFailure(probe)
	}
	pending := b.takeTransitions()
	b.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
	return err
}

// admit decides whether a call may proceed and reports whether it is a
// half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer func() {
		pending := b.takeTransitions()
		b.mu.Unlock()
		for _, fn := range pending {
			fn()
		}
	}()

	if b.state == StateOpen {
		if b.cfg.Clock().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrOpen
		}
		b.setState(StateHalfOpen)
		b.successes = 0
	}
	if b.state == StateHalfOpen {
		if b.inFlight >= b.cfg.Probes {
			return false, ErrOpen
		}
		b.inFlight++
		return true, nil
	}
	return false, nil
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probe bool) {
	if probe {
		b.trip()
		return
	}
	if b.state != StateClosed {
		return
	}
	b.failures++
	if b.failures >= b.cfg.MaxFailures {
		b.trip()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probe bool) {
	if !probe {
		if b.state == StateClosed {
			b.failures = 0
		}
		return
	}
	if b.state != StateHalfOpen {
		return
	}
	b.successes++
	if b.successes >= b.cfg.Probes {
		b.failures = 0
		b.setState(StateClosed)
	}
}

// trip must be called with b.mu held.
func (b *Breaker) trip() {
	b.openedAt = b.cfg.Clock()
	b.failures = 0
	b.successes = 0
	b.setState(StateOpen)
}

// setState must be called with b.mu held. The log line and callback are
// queued and run once the lock is released.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	name, cb := b.cfg.Name, b.cfg.OnStateChange
	b.transition = append(b.transition, func() {
		if to == StateOpen {
			slog.Warn("resilience: circuit opened", "name", name, "from", from.String())
		} else {
			slog.Info("resilience: circuit state changed", "name", name, "from", from.String(), "to", to.String())
		}
		if cb != nil {
			cb(name, from, to)
		}
	})
}

func (b *Breaker) takeTransitions() []func() {
	pending := b.transition
	b.transition = nil
	return pending
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Clock().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.successes = 0
	b.setState(StateClosed)
	pending := b.takeTransitions()
	b.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

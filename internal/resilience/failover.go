package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [Failover] failed or had an
// open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

type failoverEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Failover holds a primary provider and optional fallbacks of the same type,
// each behind its own [Breaker]. Entries are tried in registration order.
type Failover[T any] struct {
	cfg     BreakerConfig
	entries []failoverEntry[T]
}

// NewFailover creates a [Failover] with primary as its first entry. cfg is
// copied for every entry's breaker with Name set to the entry name.
func NewFailover[T any](name string, primary T, cfg BreakerConfig) *Failover[T] {
	f := &Failover[T]{cfg: cfg}
	f.Add(name, primary)
	return f
}

// Add appends a fallback. Call it before the Failover is shared.
func (f *Failover[T]) Add(name string, value T) {
	cfg := f.cfg
	cfg.Name = name
	f.entries = append(f.entries, failoverEntry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg),
	})
}

// Names returns the entry names in try order.
func (f *Failover[T]) Names() []string {
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.name
	}
	return out
}

// Available reports whether at least one entry's breaker admits calls.
func (f *Failover[T]) Available() bool {
	for i := range f.entries {
		if f.entries[i].breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Call runs fn against each entry until one succeeds. Entries with an open
// breaker are skipped. If ctx ends, Call stops and returns ctx's error
// instead of moving on. When every entry fails the result wraps
// [ErrAllFailed] and the last error.
func Call[T, R any](ctx context.Context, f *Failover[T], fn func(ctx context.Context, v T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range f.entries {
		e := &f.entries[i]
		var result R
		err := e.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			result, err = fn(ctx, e.value)
			return err
		})
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("resilience: skipping provider", "provider", e.name, "reason", "circuit open")
			continue
		}
		slog.Warn("resilience: provider failed", "provider", e.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

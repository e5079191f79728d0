// Package playback schedules decoded audio onto an output device so that
// consecutive chunks play back to back without gaps or overlap, and lets the
// caller cut everything off at once.
//
// An [Output] wraps one [Device] and owns exactly one [Scheduler]. The output
// must be opened before anything can be scheduled and is closed when the
// owning classroom goes away.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/misssmart/pkg/audio"
)

var (
	// ErrOutputClosed is returned when scheduling on an output that is not
	// open.
	ErrOutputClosed = errors.New("playback: output closed")

	// ErrStale is returned by [Scheduler.ScheduleIn] when StopAll ran after
	// the caller captured its generation. The audio is discarded.
	ErrStale = errors.New("playback: stale generation")

	// ErrEmptyBuffer is returned when asked to schedule a buffer with no
	// samples.
	ErrEmptyBuffer = errors.New("playback: empty buffer")
)

// Voice is one chunk submitted to a device.
type Voice interface {
	// Stop silences the chunk. Stopping a chunk that already finished may
	// return an error; callers ignore it.
	Stop() error

	// Done is closed when the chunk finishes playing or is stopped.
	Done() <-chan struct{}
}

// Device is an audio sink with its own monotonically increasing clock.
type Device interface {
	// Now returns the device clock. It must never go backwards.
	Now() time.Duration

	// Play submits buf to start at device time at. The scheduler computes at
	// as max(previous end, Now()), so devices keep it as given; one that
	// is already slightly in the past plays its remainder.
	Play(buf audio.Buffer, at time.Duration) (Voice, error)
}

// Opener is implemented by devices that need to acquire resources before
// playback. [Output.Open] calls it.
type Opener interface {
	Open(ctx context.Context) error
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures an [Output] during construction.
type Option func(*Output)

// WithOnSpeaking registers fn to be told whenever the scheduler goes from
// silent to speaking or back. See [Scheduler.OnSpeakingChange].
func WithOnSpeaking(fn func(speaking bool)) Option {
	return func(o *Output) { o.sched.onSpeaking = fn }
}

// WithOnScheduled registers fn to be called for every chunk accepted by the
// scheduler, after it has been handed to the device.
func WithOnScheduled(fn func(h *Handle)) Option {
	return func(o *Output) { o.sched.onScheduled = fn }
}

// ── Output ─────────────────────────────────────────────────────────────────────

type outputState int

const (
	outputNew outputState = iota
	outputOpen
	outputClosed
)

// Output is the audio output context: one device, its clock, and the single
// scheduler that feeds it.
//
// All exported methods are safe for concurrent use.
type Output struct {
	dev   Device
	sched *Scheduler

	mu    sync.Mutex
	state outputState
}

// NewOutput creates a closed Output around dev. Call [Output.Open] before
// scheduling.
func NewOutput(dev Device, opts ...Option) *Output {
	o := &Output{dev: dev}
	o.sched = newScheduler(o)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open prepares the device. Opening an already open output is a no-op; an
// output cannot be reopened after Close.
func (o *Output) Open(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case outputOpen:
		return nil
	case outputClosed:
		return ErrOutputClosed
	}
	if op, ok := o.dev.(Opener); ok {
		if err := op.Open(ctx); err != nil {
			return fmt.Errorf("playback: open device: %w", err)
		}
	}
	o.state = outputOpen
	return nil
}

// Close stops everything that is playing and releases the device. Close is
// idempotent.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.state == outputClosed {
		o.mu.Unlock()
		return nil
	}
	wasOpen := o.state == outputOpen
	o.state = outputClosed
	o.mu.Unlock()

	o.sched.StopAll()

	if c, ok := o.dev.(io.Closer); ok && wasOpen {
		if err := c.Close(); err != nil {
			return fmt.Errorf("playback: close device: %w", err)
		}
	}
	return nil
}

// IsOpen reports whether the output currently accepts audio.
func (o *Output) IsOpen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == outputOpen
}

// Now returns the device clock.
func (o *Output) Now() time.Duration {
	return o.dev.Now()
}

// Scheduler returns the output's scheduler.
func (o *Output) Scheduler() *Scheduler {
	return o.sched
}

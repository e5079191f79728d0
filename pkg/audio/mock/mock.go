// Package mock provides in-memory mock implementations of [playback.Device]
// and [capture.Microphone] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on what was played and when, and they expose exported fields
// that the test can set to control return values.
//
// The Device has a manual clock: nothing finishes until the test advances it.
//
//	dev := &mock.Device{}
//	out := playback.NewOutput(dev)
//	_ = out.Open(ctx)
//	h, _ := out.Scheduler().Schedule(buf)
//	dev.Advance(buf.Duration()) // h.Done() is now closed
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/misssmart/pkg/audio"
	"github.com/MrWong99/misssmart/pkg/audio/capture"
	"github.com/MrWong99/misssmart/pkg/audio/playback"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Play records a single call to [Device.Play].
type Play struct {
	At     time.Duration
	Buffer audio.Buffer
	Voice  *Voice
}

// Device is a mock implementation of [playback.Device] with a manual clock.
type Device struct {
	mu  sync.Mutex
	now time.Duration

	// PlayErr, if non-nil, is returned by every Play call.
	PlayErr error

	// StopErr, if non-nil, is returned by every Voice.Stop call. The voice is
	// still stopped.
	StopErr error

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// Plays records every successful Play call in order.
	Plays []Play

	// CallCountOpen and CallCountClose record lifecycle calls.
	CallCountOpen  int
	CallCountClose int
}

var (
	_ playback.Device = (*Device)(nil)
	_ playback.Opener = (*Device)(nil)
)

// Open implements [playback.Opener].
func (d *Device) Open(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	return d.OpenErr
}

// Close records the call.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	return nil
}

// Now returns the manual clock.
func (d *Device) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// Play records the call and returns a Voice that ends when the clock passes
// max(at, now) + buf.Duration().
func (d *Device) Play(buf audio.Buffer, at time.Duration) (playback.Voice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.PlayErr != nil {
		return nil, d.PlayErr
	}
	v := &Voice{
		end:     at + buf.Duration(),
		done:    make(chan struct{}),
		stopErr: d.StopErr,
	}
	d.Plays = append(d.Plays, Play{At: at, Buffer: buf, Voice: v})
	return v, nil
}

// Advance moves the clock forward by dt and finishes every voice whose end
// time has been reached.
func (d *Device) Advance(dt time.Duration) {
	d.mu.Lock()
	d.now += dt
	now := d.now
	plays := make([]Play, len(d.Plays))
	copy(plays, d.Plays)
	d.mu.Unlock()

	for _, p := range plays {
		if p.Voice.end <= now {
			p.Voice.finish()
		}
	}
}

// SetNow sets the clock without finishing anything.
func (d *Device) SetNow(t time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = t
}

// Calls returns a copy of the recorded Play calls.
func (d *Device) Calls() []Play {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Play, len(d.Plays))
	copy(out, d.Plays)
	return out
}

// Voice is the [playback.Voice] returned by [Device.Play].
type Voice struct {
	end     time.Duration
	done    chan struct{}
	once    sync.Once
	stopErr error

	mu      sync.Mutex
	stopped bool
}

var errAlreadyDone = errors.New("mock: voice already finished")

func (v *Voice) finish() {
	v.once.Do(func() { close(v.done) })
}

// Done implements [playback.Voice].
func (v *Voice) Done() <-chan struct{} { return v.done }

// Stop implements [playback.Voice].
func (v *Voice) Stop() error {
	select {
	case <-v.done:
		return errAlreadyDone
	default:
	}
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
	v.finish()
	return v.stopErr
}

// Stopped reports whether Stop silenced the voice before it ended.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [capture.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// Rate is reported by opened streams. Defaults to 16000.
	Rate int

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	streams []*Stream
}

var _ capture.Microphone = (*Microphone)(nil)

// Open implements [capture.Microphone].
func (m *Microphone) Open(_ context.Context) (capture.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountOpen++
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	rate := m.Rate
	if rate == 0 {
		rate = audio.InputRate
	}
	s := &Stream{rate: rate, samples: make(chan []float32, 64)}
	m.streams = append(m.streams, s)
	return s, nil
}

// Last returns the most recently opened stream, or nil.
func (m *Microphone) Last() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// Stream is the [capture.Stream] returned by [Microphone.Open].
type Stream struct {
	rate    int
	samples chan []float32

	mu             sync.Mutex
	closed         bool
	CallCountClose int
}

// Feed delivers samples to the consumer. It is a no-op after Close.
func (s *Stream) Feed(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.samples <- samples
}

// Samples implements [capture.Stream].
func (s *Stream) Samples() <-chan []float32 { return s.samples }

// SampleRate implements [capture.Stream].
func (s *Stream) SampleRate() int { return s.rate }

// Close implements [capture.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.samples)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultPipeBuffer = 32

// Pipe is a [Microphone] whose samples are pushed in with [Pipe.Write].
//
// The producer first announces the device with [Pipe.Attach] (for a browser:
// after the user granted permission) and may withdraw it with
// [Pipe.Detach]. At most one stream is open at a time.
type Pipe struct {
	mu       sync.Mutex
	rate     int
	attached bool
	reason   string
	stream   *pipeStream
	bufSize  int
	dropped  atomic.Uint64
}

var _ Microphone = (*Pipe)(nil)

// NewPipe creates a detached Pipe. bufSize bounds the number of sample
// batches held for a slow consumer; non-positive selects a default.
func NewPipe(bufSize int) *Pipe {
	if bufSize <= 0 {
		bufSize = defaultPipeBuffer
	}
	return &Pipe{bufSize: bufSize, reason: "no microphone attached"}
}

// Attach marks the microphone as present, delivering samples at rate Hz.
func (p *Pipe) Attach(rate int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = rate
	p.attached = true
	p.reason = ""
}

// Detach marks the microphone as gone and ends any open stream.
func (p *Pipe) Detach(reason string) {
	p.mu.Lock()
	p.attached = false
	p.reason = reason
	s := p.stream
	p.stream = nil
	p.mu.Unlock()

	if s != nil {
		s.end()
	}
}

// Open implements [Microphone].
func (p *Pipe) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.attached {
		return nil, fmt.Errorf("%w: %s", ErrMicrophoneUnavailable, p.reason)
	}
	if p.stream != nil {
		return nil, fmt.Errorf("%w: already in use", ErrMicrophoneUnavailable)
	}
	s := &pipeStream{
		owner:   p,
		rate:    p.rate,
		samples: make(chan []float32, p.bufSize),
	}
	p.stream = s
	return s, nil
}

// Write hands samples to the open stream, if any. It never blocks: when no
// stream is open, or the consumer has fallen behind, the batch is dropped
// and Write returns false.
func (p *Pipe) Write(samples []float32) bool {
	p.mu.Lock()
	s := p.stream
	p.mu.Unlock()
	if s == nil {
		return false
	}
	if !s.offer(samples) {
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("capture: consumer too slow, dropping samples", "dropped_batches", n)
		}
		return false
	}
	return true
}

// Dropped returns the number of batches dropped because the consumer was
// behind.
func (p *Pipe) Dropped() uint64 {
	return p.dropped.Load()
}

// Active reports whether a stream is currently open.
func (p *Pipe) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

func (p *Pipe) release(s *pipeStream) {
	p.mu.Lock()
	if p.stream == s {
		p.stream = nil
	}
	p.mu.Unlock()
}

type pipeStream struct {
	owner   *Pipe
	rate    int
	samples chan []float32

	mu     sync.Mutex
	closed bool
}

func (s *pipeStream) Samples() <-chan []float32 { return s.samples }

func (s *pipeStream) SampleRate() int { return s.rate }

func (s *pipeStream) offer(samples []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	cp := make([]float32, len(samples))
	copy(cp, samples)
	select {
	case s.samples <- cp:
		return true
	default:
		return false
	}
}

func (s *pipeStream) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.samples)
}

// Close implements [Stream].
func (s *pipeStream) Close() error {
	s.end()
	s.owner.release(s)
	return nil
}

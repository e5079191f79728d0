package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/misssmart/pkg/audio"
)

// Handle identifies one scheduled chunk. It stays in the scheduler's live set
// from the moment it is scheduled until it ends naturally or is stopped.
type Handle struct {
	// ID is unique per scheduler.
	ID uint64

	// Start is the device time the chunk begins playing.
	Start time.Duration

	// Duration is the chunk length.
	Duration time.Duration

	// Generation is the scheduler generation the chunk was accepted in.
	Generation uint64

	voice    Voice
	done     chan struct{}
	doneOnce sync.Once
	stopped  atomic.Bool
}

// End returns the device time at which the chunk finishes.
func (h *Handle) End() time.Duration {
	return h.Start + h.Duration
}

// Done is closed when the chunk has finished playing or was stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stopped reports whether the chunk was cut off by StopAll rather than
// playing to the end. Only meaningful after Done is closed.
func (h *Handle) Stopped() bool {
	return h.stopped.Load()
}

// Wait blocks until the chunk is done or ctx expires.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) finish() {
	h.doneOnce.Do(func() { close(h.done) })
}

// Scheduler places chunks on the device timeline back to back. Each chunk
// starts at max(end of the previous chunk, now), so a late chunk starts
// immediately and an early one queues behind what is already playing.
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	out *Output

	mu   sync.Mutex
	next time.Duration
	gen  uint64
	seq  uint64
	live map[uint64]*Handle

	// notifyMu serialises speaking callbacks so they are observed in the same
	// order as the state changes that produced them.
	notifyMu    sync.Mutex
	onSpeaking  func(bool)
	onScheduled func(*Handle)
}

func newScheduler(out *Output) *Scheduler {
	return &Scheduler{
		out:  out,
		live: make(map[uint64]*Handle),
	}
}

// OnSpeakingChange replaces the callback invoked on every silent/speaking
// edge. The callback runs synchronously on the goroutine that caused the
// edge and must not call back into the Scheduler.
func (s *Scheduler) OnSpeakingChange(fn func(speaking bool)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.onSpeaking = fn
}

// Schedule queues buf after everything already scheduled.
func (s *Scheduler) Schedule(buf audio.Buffer) (*Handle, error) {
	return s.schedule(buf, 0, false)
}

// ScheduleIn queues buf only if no StopAll happened since gen was read from
// [Scheduler.Generation]. Otherwise it returns [ErrStale] and nothing plays.
func (s *Scheduler) ScheduleIn(gen uint64, buf audio.Buffer) (*Handle, error) {
	return s.schedule(buf, gen, true)
}

func (s *Scheduler) schedule(buf audio.Buffer, gen uint64, checkGen bool) (*Handle, error) {
	if buf.Len() == 0 || buf.SampleRate <= 0 {
		return nil, ErrEmptyBuffer
	}

	s.mu.Lock()
	if !s.out.IsOpen() {
		s.mu.Unlock()
		return nil, ErrOutputClosed
	}
	if checkGen && gen != s.gen {
		s.mu.Unlock()
		return nil, ErrStale
	}

	start := max(s.next, s.out.Now())
	voice, err := s.out.dev.Play(buf, start)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("playback: schedule: %w", err)
	}

	s.seq++
	h := &Handle{
		ID:         s.seq,
		Start:      start,
		Duration:   buf.Duration(),
		Generation: s.gen,
		voice:      voice,
		done:       make(chan struct{}),
	}
	s.next = h.End()
	s.live[h.ID] = h
	becameSpeaking := len(s.live) == 1

	s.notifyMu.Lock()
	s.mu.Unlock()
	if becameSpeaking && s.onSpeaking != nil {
		s.onSpeaking(true)
	}
	if s.onScheduled != nil {
		s.onScheduled(h)
	}
	s.notifyMu.Unlock()

	go s.watch(h)
	return h, nil
}

// watch removes h from the live set once the device reports it finished.
func (s *Scheduler) watch(h *Handle) {
	select {
	case <-h.voice.Done():
	case <-h.done:
		return // removed by StopAll
	}

	s.mu.Lock()
	if _, ok := s.live[h.ID]; !ok {
		s.mu.Unlock()
		h.finish()
		return
	}
	delete(s.live, h.ID)
	becameSilent := len(s.live) == 0

	s.notifyMu.Lock()
	s.mu.Unlock()
	h.finish()
	if becameSilent && s.onSpeaking != nil {
		s.onSpeaking(false)
	}
	s.notifyMu.Unlock()
}

// StopAll silences every live chunk, empties the live set, resets the
// timeline to zero and starts a new generation. Errors from stopping chunks
// that already ended are ignored. Calling StopAll with nothing playing is
// harmless.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.live))
	for _, h := range s.live {
		handles = append(handles, h)
	}
	clear(s.live)
	s.next = 0
	s.gen++
	wasSpeaking := len(handles) > 0

	s.notifyMu.Lock()
	s.mu.Unlock()

	for _, h := range handles {
		h.stopped.Store(true)
		if err := h.voice.Stop(); err != nil {
			slog.Debug("playback: stop chunk", "id", h.ID, "err", err)
		}
		h.finish()
	}
	if wasSpeaking && s.onSpeaking != nil {
		s.onSpeaking(false)
	}
	s.notifyMu.Unlock()
}

// Speaking reports whether any chunk is live.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live) > 0
}

// Live returns the number of chunks currently in the live set.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Next returns the timeline position where the next chunk would be placed if
// the device clock were behind it.
func (s *Scheduler) Next() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Generation returns the current generation. It increases on every StopAll.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

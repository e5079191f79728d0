// Package live runs the realtime voice conversation between a child and the
// teacher.
//
// A [Session] owns the microphone while it is connected. Once the remote
// side acknowledges the setup it runs two independent flows: microphone
// samples are cut into fixed windows, encoded and sent without waiting for
// any acknowledgement, and remote audio is decoded and queued on the
// playback timeline in the order it arrives. A barge-in signal from the
// remote drops all queued teacher audio without ending the session.
//
// Lifecycle changes, barge-ins, transcripts and failures are published on
// a single ordered channel ([Session.Events]). A remote failure tears the
// session down and is reported there; it is never retried automatically.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/misssmart/internal/observe"
	"github.com/MrWong99/misssmart/pkg/audio"
	"github.com/MrWong99/misssmart/pkg/audio/capture"
	"github.com/MrWong99/misssmart/pkg/audio/playback"
	"github.com/MrWong99/misssmart/pkg/provider/s2s"
)

const defaultEventBuffer = 64

// errHangup ends the data flows when the remote closed the session cleanly.
var errHangup = errors.New("live: remote hung up")

// Option configures a [Session].
type Option func(*Session)

// WithEventBuffer sets the capacity of the Events channel. Default 64.
func WithEventBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.eventBuf = n
		}
	}
}

// WithWindowSize sets the number of microphone samples per outbound frame.
// Default [audio.WindowSize].
func WithWindowSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.window = n
		}
	}
}

// WithMetrics records frame counts, connect latency and barge-ins on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithProviderName sets the provider label used in logs and metrics.
func WithProviderName(name string) Option {
	return func(s *Session) { s.provider = name }
}

// Session is the realtime voice session state machine
// (Idle → Connecting → Active → Closing → Idle).
//
// All methods are safe for concurrent use.
type Session struct {
	mic    capture.Microphone
	remote s2s.Provider
	sched  *playback.Scheduler

	window   int
	eventBuf int
	metrics  *observe.Metrics
	provider string

	mu      sync.Mutex
	state   State
	gen     uint64
	id      string
	cancel  context.CancelFunc // aborts the in-flight connect
	pending *attempt
	current *run
	aborted chan struct{} // closed once an aborted connect let go of the microphone

	evMu    sync.Mutex
	events  chan Event
	closed  bool
	dropped atomic.Uint64
}

// New creates an idle Session that captures from mic, talks to remote and
// plays through sched.
func New(mic capture.Microphone, remote s2s.Provider, sched *playback.Scheduler, opts ...Option) *Session {
	s := &Session{
		mic:      mic,
		remote:   remote,
		sched:    sched,
		window:   audio.WindowSize,
		eventBuf: defaultEventBuffer,
		provider: "s2s",
	}
	for _, o := range opts {
		o(s)
	}
	s.events = make(chan Event, s.eventBuf)
	return s
}

// run holds everything one connected session acquired.
type run struct {
	id       string
	stream   capture.Stream
	handle   s2s.SessionHandle
	cancel   context.CancelFunc
	group    *errgroup.Group
	gctx     context.Context
	stopping atomic.Bool
	closeErr error
	done     chan struct{}
}

// attempt tracks what an in-flight Start has acquired. The stream belongs to
// whoever takes it first: Start on success or failure, Stop on abort.
type attempt struct {
	opened chan struct{}
	stream capture.Stream
}

// take removes and returns the attempt's stream. s.mu must be held.
func (a *attempt) take() capture.Stream {
	st := a.stream
	a.stream = nil
	return st
}

// Start connects a new session. It returns once the remote acknowledged the
// configuration and both data flows are running. Queued playback is stopped
// as soon as the session leaves Idle.
//
// Start fails with [ErrAlreadyActive] unless the session is idle, with an
// error wrapping [capture.ErrMicrophoneUnavailable] when the microphone
// cannot be opened, with [ErrSession] when the remote cannot be reached,
// and with [ErrStartupRace] when Stop was called before it finished. In
// every failure case the session is idle again and the microphone released.
func (s *Session) Start(ctx context.Context, cfg s2s.SessionConfig) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.gen++
	gen := s.gen
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	att := &attempt{opened: make(chan struct{})}
	s.pending = att
	s.id = uuid.NewString()
	id := s.id
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	// Narration that passed its Idle check before this point holds an older
	// generation and is dropped.
	s.sched.StopAll()

	log := slog.With("session_id", id, "provider", s.provider)

	stream, err := s.mic.Open(cctx)
	if err == nil {
		s.mu.Lock()
		att.stream = stream
		s.mu.Unlock()
	}
	close(att.opened)
	if err != nil {
		if s.abandon(gen, att) {
			return ErrStartupRace
		}
		return fmt.Errorf("live: start: %w", err)
	}

	started := time.Now()
	handle, err := s.remote.Connect(cctx, cfg)
	s.recordConnect(ctx, time.Since(started), err)
	if err != nil {
		if s.abandon(gen, att) {
			return ErrStartupRace
		}
		return fmt.Errorf("%w: connect: %w", ErrSession, err)
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateConnecting {
		// Stop already released the microphone.
		s.mu.Unlock()
		_ = handle.Close()
		log.Info("live: discarded late connection")
		return ErrStartupRace
	}
	r := s.newRun(id, att.take(), handle)
	s.current = r
	s.cancel = nil
	s.pending = nil
	s.setStateLocked(StateActive)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	log.Info("live: session active", "mic_rate", stream.SampleRate())

	r.group.Go(func() error { return s.outbound(r) })
	r.group.Go(func() error { return s.inbound(r) })
	go s.supervise(r)
	return nil
}

// abandon releases what a failed start acquired and returns to Idle. It
// reports true when a Stop or a newer Start already moved on, in which case
// the state is left as is and the microphone is Stop's to release.
func (s *Session) abandon(gen uint64, att *attempt) (superseded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != StateConnecting {
		return true
	}
	if st := att.take(); st != nil {
		_ = st.Close()
	}
	s.cancel = nil
	s.pending = nil
	s.setStateLocked(StateIdle)
	s.id = ""
	return false
}

func (s *Session) newRun(id string, stream capture.Stream, handle s2s.SessionHandle) *run {
	rctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(rctx)
	return &run{
		id:     id,
		stream: stream,
		handle: handle,
		cancel: cancel,
		group:  g,
		gctx:   gctx,
		done:   make(chan struct{}),
	}
}

// Stop ends the session: the remote session is closed, the microphone
// released and all queued teacher audio dropped. Stop waits for both data
// flows to exit. It is a no-op on an idle session. During Connecting it
// aborts the connect, releases the microphone before returning and the
// pending Start returns [ErrStartupRace]; a connect that completes late is
// closed unused.
func (s *Session) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return nil

	case StateConnecting:
		s.gen++
		att, cancel := s.pending, s.cancel
		s.pending, s.cancel = nil, nil
		aborted := make(chan struct{})
		s.aborted = aborted
		s.setStateLocked(StateClosing)
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		<-att.opened
		s.mu.Lock()
		stream := att.take()
		s.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}

		s.mu.Lock()
		if s.aborted == aborted {
			s.aborted = nil
			s.setStateLocked(StateIdle)
			s.id = ""
		}
		s.mu.Unlock()
		close(aborted)
		return nil

	case StateActive:
		r := s.current
		s.setStateLocked(StateClosing)
		s.mu.Unlock()
		r.stopping.Store(true)
		r.cancel()
		_ = r.handle.Close()
		<-r.done
		return r.closeErr

	default: // StateClosing
		r, aborted := s.current, s.aborted
		s.mu.Unlock()
		if r != nil {
			<-r.done
		}
		if aborted != nil {
			<-aborted
		}
		return nil
	}
}

// supervise waits for the data flows to end and tears the run down.
func (s *Session) supervise(r *run) {
	err := r.group.Wait()
	stopping := r.stopping.Load()

	s.mu.Lock()
	if s.current == r && s.state == StateActive {
		s.setStateLocked(StateClosing)
	}
	s.mu.Unlock()

	r.cancel()
	r.closeErr = errors.Join(r.handle.Close(), r.stream.Close())
	s.sched.StopAll()
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(context.Background(), -1)
	}

	s.mu.Lock()
	if s.current == r {
		s.current = nil
		s.setStateLocked(StateIdle)
		s.id = ""
	}
	s.mu.Unlock()

	log := slog.With("session_id", r.id, "provider", s.provider)
	switch {
	case stopping:
		log.Info("live: session stopped")
	case errors.Is(err, errHangup):
		log.Info("live: remote closed the session")
	case err != nil:
		log.Warn("live: session failed", "err", err)
		if s.metrics != nil {
			s.metrics.RecordProviderError(context.Background(), s.provider, "s2s")
		}
		s.emit(Event{Kind: EventError, SessionID: r.id, Err: err})
	}
	close(r.done)
}

// outbound streams microphone windows to the remote in capture order.
func (s *Session) outbound(r *run) error {
	rate := r.stream.SampleRate()
	target := audio.InputRate
	if caps := s.remote.Capabilities(); caps.InputRate > 0 {
		target = caps.InputRate
	}
	win := audio.NewWindower(s.window)
	samples := r.stream.Samples()

	for {
		select {
		case <-r.gctx.Done():
			return nil
		case batch, ok := <-samples:
			if !ok {
				if r.stopping.Load() {
					return nil
				}
				return fmt.Errorf("live: %w: capture ended", capture.ErrMicrophoneUnavailable)
			}
			for _, w := range win.Push(audio.ResampleMono(batch, rate, target)) {
				err := r.handle.SendAudio(audio.EncodeFrame(w, target))
				if errors.Is(err, s2s.ErrSessionClosed) {
					// The inbound flow reports why.
					return nil
				}
				if err != nil {
					slog.Debug("live: send audio", "session_id", r.id, "err", err)
					continue
				}
				if s.metrics != nil {
					s.metrics.FramesSent.Add(r.gctx, 1)
				}
			}
		}
	}
}

// inbound plays remote audio and forwards control events in receipt order.
func (s *Session) inbound(r *run) error {
	events := r.handle.Events()
	for {
		select {
		case <-r.gctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if r.stopping.Load() {
					return nil
				}
				if err := r.handle.Err(); err != nil {
					return fmt.Errorf("%w: %w", ErrSession, err)
				}
				return errHangup
			}
			s.handle(r, ev)
		}
	}
}

func (s *Session) handle(r *run, ev s2s.Event) {
	switch ev.Kind {
	case s2s.EventAudio:
		if s.metrics != nil {
			s.metrics.FramesReceived.Add(r.gctx, 1)
		}
		buf, err := audio.DecodeFrame(ev.Audio, 1)
		if err != nil {
			slog.Warn("live: dropping undecodable frame", "session_id", r.id, "err", err)
			return
		}
		if buf.Len() == 0 {
			return
		}
		if _, err := s.sched.Schedule(buf); err != nil {
			slog.Warn("live: schedule remote audio", "session_id", r.id, "err", err)
			return
		}
		if s.metrics != nil {
			s.metrics.RecordChunk(r.gctx, "live")
		}

	case s2s.EventInterrupted:
		s.sched.StopAll()
		if s.metrics != nil {
			s.metrics.PlaybackInterruptions.Add(r.gctx, 1)
		}
		s.emit(Event{Kind: EventInterrupted, SessionID: r.id})

	case s2s.EventTurnComplete:
		s.emit(Event{Kind: EventTurnComplete, SessionID: r.id})

	case s2s.EventTranscript:
		s.emit(Event{Kind: EventTranscript, SessionID: r.id, Transcript: ev.Transcript})
	}
}

// SendText injects a text turn into the active session, for example to ask
// the teacher to open the conversation.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	r := s.current
	active := s.state == StateActive
	s.mu.Unlock()
	if !active || r == nil {
		return fmt.Errorf("live: send text: %w", s2s.ErrSessionClosed)
	}
	return r.handle.SendText(text)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the identifier of the current connection, or "" when idle.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Events returns the ordered event stream. It is closed by [Session.Close].
func (s *Session) Events() <-chan Event {
	return s.events
}

// Dropped returns how many events were discarded because the consumer fell
// behind.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops the session and closes the Events channel. The Session must
// not be started again.
func (s *Session) Close() error {
	err := s.Stop()
	s.evMu.Lock()
	defer s.evMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return err
}

// setStateLocked must be called with s.mu held.
func (s *Session) setStateLocked(to State) {
	if s.state == to {
		return
	}
	s.state = to
	s.emit(Event{Kind: EventStateChanged, SessionID: s.id, State: to})
}

// emit publishes ev without blocking. A full buffer drops the event.
func (s *Session) emit(ev Event) {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
		slog.Warn("live: event dropped, consumer too slow", "kind", ev.Kind.String(), "session_id", ev.SessionID)
	}
}

func (s *Session) recordConnect(ctx context.Context, took time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.S2SConnectDuration.Record(ctx, took.Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordProviderRequest(ctx, s.provider, "s2s", status)
}

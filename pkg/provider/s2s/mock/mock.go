// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to script the remote event stream and inspect which frames the
// caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Push(s2s.Event{Kind: s2s.EventInterrupted})
//	sess.Hangup(errors.New("network down"))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/misssmart/pkg/audio"
	"github.com/MrWong99/misssmart/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a fresh Session from NewSession.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, if non-nil, makes Connect block until Gate is closed or ctx is
	// done, simulating a slow handshake.
	Gate chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// IgnoreCancel makes a gated Connect succeed even when ctx is cancelled
	// while waiting, so a stale completion can be exercised.
	IgnoreCancel bool
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Cfg: cfg})
	gate, ignore := p.Gate, p.IgnoreCancel
	p.mu.Unlock()

	if gate != nil {
		if ignore {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle backed by a buffered
// event channel the test drives with Push and Hangup.
type Session struct {
	mu sync.Mutex

	events    chan s2s.Event
	closeOnce sync.Once
	closed    bool
	err       error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendAudioCalls records every frame passed to SendAudio in order.
	SendAudioCalls []audio.Frame

	// SendTextCalls records every text passed to SendText in order.
	SendTextCalls []string

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	sent chan struct{}
}

// NewSession returns a Session with a 64-event buffer.
func NewSession() *Session {
	return &Session{
		events: make(chan s2s.Event, 64),
		sent:   make(chan struct{}, 1),
	}
}

// Push queues an event for the consumer. It is a no-op once the session has
// ended.
func (s *Session) Push(ev s2s.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// Hangup simulates the remote ending the session with err.
func (s *Session) Hangup(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.end()
}

func (s *Session) end() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

// SendAudio records the frame and returns SendAudioErr.
func (s *Session) SendAudio(frame audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s2s.ErrSessionClosed
	}
	s.SendAudioCalls = append(s.SendAudioCalls, frame)
	select {
	case s.sent <- struct{}{}:
	default:
	}
	return s.SendAudioErr
}

// SendText records the text.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s2s.ErrSessionClosed
	}
	s.SendTextCalls = append(s.SendTextCalls, text)
	return nil
}

// Sent is signalled (non-blocking, capacity one) after each SendAudio.
func (s *Session) Sent() <-chan struct{} { return s.sent }

// Frames returns a copy of the frames sent so far.
func (s *Session) Frames() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Frame, len(s.SendAudioCalls))
	copy(out, s.SendAudioCalls)
	return out
}

// Events returns the scripted event channel.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Err returns the error passed to Hangup, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session and increments CloseCallCount.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.end()
	return nil
}

// Closes returns CloseCallCount.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)

// Package mock provides a test double for the tts.Synthesizer interface.
//
// Example:
//
//	s := &mock.Synthesizer{Result: audio.EncodeFrame(samples, 24000)}
//	frame, _ := s.Synthesize(ctx, "Hello!", tts.VoiceProfile{ID: "Kore"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/misssmart/pkg/audio"
	"github.com/MrWong99/misssmart/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice tts.VoiceProfile
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Result is returned by Synthesize when Err is nil.
	Result audio.Frame

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Gate, if non-nil, blocks Synthesize until it is closed or receives a
	// value, or until ctx is done. Use it to hold a request in flight.
	Gate chan struct{}

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	started chan struct{}
}

// Started returns a channel that receives once per Synthesize call, right
// after the call is recorded.
func (s *Synthesizer) Started() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started == nil {
		s.started = make(chan struct{}, 64)
	}
	return s.started
}

// Synthesize records the call and returns Result, Err.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Frame, error) {
	s.mu.Lock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	if s.started == nil {
		s.started = make(chan struct{}, 64)
	}
	started, gate := s.started, s.Gate
	s.mu.Unlock()

	select {
	case started <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return audio.Frame{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return audio.Frame{}, s.Err
	}
	return s.Result, nil
}

// Calls returns a snapshot of the recorded calls.
func (s *Synthesizer) Calls() []SynthesizeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SynthesizeCall(nil), s.SynthesizeCalls...)
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)

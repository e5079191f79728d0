// Package s2s defines the Provider interface for realtime speech-to-speech
// backends.
//
// An S2S provider wraps a live voice model that accepts microphone audio and
// answers with synthesised speech over a single stateful connection. The
// tutor uses it for the open conversation mode: the child talks, the model
// talks back, and the child can barge in at any time.
//
// The central abstraction is SessionHandle. Everything the remote side sends
// (audio chunks, interruption signals, turn boundaries, transcripts) arrives
// on one ordered event channel, so consumers observe them in exactly the
// order the remote produced them.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/misssmart/pkg/audio"
)

// ErrSessionClosed is returned by SessionHandle methods after Close or after
// the remote end has gone away.
var ErrSessionClosed = errors.New("s2s: session closed")

// SessionConfig is the initial configuration for a new session.
type SessionConfig struct {
	// Voice is the provider-specific name of the prebuilt voice the model
	// speaks with. Empty selects the provider default.
	Voice string

	// Instructions is the system prompt that defines the teacher persona.
	Instructions string
}

// EventKind discriminates the variants of [Event].
type EventKind int

const (
	// EventAudio carries one chunk of model speech in Event.Audio.
	EventAudio EventKind = iota

	// EventInterrupted means the remote detected the user talking over the
	// model. Any audio already queued for playback is obsolete.
	EventInterrupted

	// EventTurnComplete marks the end of one model turn.
	EventTurnComplete

	// EventTranscript carries recognised or generated text in
	// Event.Transcript.
	EventTranscript
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventTranscript:
		return "transcript"
	default:
		return "unknown"
	}
}

// Speaker roles used in [Transcript].
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Transcript is a piece of text attributed to one side of the conversation.
type Transcript struct {
	Role      string
	Text      string
	Timestamp time.Time
}

// Event is one message received from the remote session.
type Event struct {
	Kind       EventKind
	Audio      audio.Frame
	Transcript Transcript
}

// Capabilities describes static properties of an S2S provider.
type Capabilities struct {
	// MaxSessionDuration is the hard upper bound on session lifetime imposed
	// by the provider. Zero means no documented limit.
	MaxSessionDuration time.Duration

	// InputRate is the sample rate the provider expects for SendAudio.
	InputRate int

	// OutputRate is the sample rate of EventAudio frames.
	OutputRate int

	// Voices lists the prebuilt voice names the provider accepts.
	Voices []string

	// DefaultVoice is used when SessionConfig.Voice is empty.
	DefaultVoice string
}

// HasVoice reports whether name is one of the advertised voices.
func (c Capabilities) HasVoice(name string) bool {
	for _, v := range c.Voices {
		if v == name {
			return true
		}
	}
	return false
}

// SessionHandle represents an open, fully set-up session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one microphone frame. Delivery is fire-and-forget:
	// there is no acknowledgement, and frames are sent in call order.
	// Returns ErrSessionClosed once the session has ended.
	SendAudio(frame audio.Frame) error

	// SendText injects a user text turn, for example a prompt asking the
	// model to open the conversation.
	SendText(text string) error

	// Events returns the ordered stream of remote events. The channel is
	// closed when the session ends for any reason. After it closes, Err
	// reports why.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil if it ended
	// because Close was called.
	Err() error

	// Close terminates the session and closes the Events channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect opens a new session. It returns only once the remote side has
	// acknowledged the configuration, so the handle is ready for audio.
	// Cancelling ctx aborts an in-flight connect.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}

package live

import (
	"errors"

	"github.com/MrWong99/misssmart/pkg/provider/s2s"
)

var (
	// ErrAlreadyActive is returned by Start when a session is already
	// connecting, active or closing. The existing session is left alone.
	ErrAlreadyActive = errors.New("live: session already started")

	// ErrSession means the realtime session failed to open, dropped
	// unexpectedly, or reported an error. It wraps the cause.
	ErrSession = errors.New("live: session error")

	// ErrStartupRace is returned by Start when Stop (or a newer Start) won
	// while the connection was still being set up. Whatever the late
	// completion acquired has been released.
	ErrStartupRace = errors.New("live: stopped during startup")
)

// State is the lifecycle position of a [Session].
type State int

const (
	// StateIdle holds no microphone and no remote session.
	StateIdle State = iota

	// StateConnecting is acquiring the microphone and dialling the remote.
	StateConnecting

	// StateActive streams audio in both directions.
	StateActive

	// StateClosing is tearing the session down.
	StateClosing
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// EventKind discriminates the variants of [Event].
type EventKind int

const (
	// EventStateChanged reports a lifecycle transition in Event.State.
	EventStateChanged EventKind = iota

	// EventInterrupted reports a barge-in; queued teacher audio was dropped.
	EventInterrupted

	// EventTurnComplete marks the end of one teacher turn.
	EventTurnComplete

	// EventTranscript carries recognised child speech or teacher text.
	EventTranscript

	// EventError reports a failure that ended the session, in Event.Err.
	EventError
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventTranscript:
		return "transcript"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one observable change of a [Session].
type Event struct {
	Kind EventKind

	// SessionID identifies the connection the event belongs to. Empty for
	// state changes that happen before a connection exists.
	SessionID string

	// State is set for EventStateChanged.
	State State

	// Transcript is set for EventTranscript.
	Transcript s2s.Transcript

	// Err is set for EventError.
	Err error
}

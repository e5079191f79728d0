package tutor

import (
	"github.com/MrWong99/misssmart/internal/live"
	"github.com/MrWong99/misssmart/internal/practice"
	"github.com/MrWong99/misssmart/pkg/memory"
)

// EventKind discriminates the variants of [Event].
type EventKind int

const (
	// EventSpeaking reports a silent/speaking edge of the teacher's audio.
	EventSpeaking EventKind = iota

	// EventLiveState reports a live session lifecycle transition.
	EventLiveState

	// EventInterrupted reports that the child barged in during a live reply.
	EventInterrupted

	// EventTurnComplete marks the end of one live teacher reply.
	EventTurnComplete

	// EventTranscript carries one line of the conversation.
	EventTranscript

	// EventPractice reports vocabulary the child just said.
	EventPractice

	// EventError reports a failure that ended the live session.
	EventError
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventSpeaking:
		return "speaking"
	case EventLiveState:
		return "live_state"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventTranscript:
		return "transcript"
	case EventPractice:
		return "practice"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one observable change of a [Classroom].
type Event struct {
	Kind EventKind

	// Speaking is set for EventSpeaking.
	Speaking bool

	// LiveState is set for EventLiveState.
	LiveState live.State

	// Transcript is set for EventTranscript. Role is memory.RoleChild or
	// memory.RoleTeacher.
	Transcript memory.TranscriptEntry

	// Hits is set for EventPractice.
	Hits []practice.Hit

	// Err is set for EventError.
	Err error
}

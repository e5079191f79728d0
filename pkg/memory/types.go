package memory

import "time"

// Speaker roles recorded in a transcript.
const (
	RoleChild   = "child"
	RoleTeacher = "teacher"
)

// TranscriptEntry is one recognised utterance from a live session.
type TranscriptEntry struct {
	// Role is RoleChild or RoleTeacher.
	Role string

	// Text is the recognised text.
	Text string

	// Timestamp is when the entry was recorded.
	Timestamp time.Time
}

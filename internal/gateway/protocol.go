package gateway

import (
	"errors"

	"github.com/MrWong99/misssmart/internal/lesson"
	"github.com/MrWong99/misssmart/internal/live"
	"github.com/MrWong99/misssmart/internal/narration"
	"github.com/MrWong99/misssmart/internal/practice"
	"github.com/MrWong99/misssmart/internal/tutor"
	"github.com/MrWong99/misssmart/pkg/audio/capture"
	"github.com/MrWong99/misssmart/pkg/audio/playback"
)

// Client → server message types.
const (
	cmdMic        = "mic"
	cmdSelectUnit = "select_unit"
	cmdSpeakStage = "speak_stage"
	cmdSpeak      = "speak"
	cmdNextStage  = "next_stage"
	cmdGreet      = "greet"
	cmdStartLive  = "start_live"
	cmdStopLive   = "stop_live"
	cmdStopAudio  = "stop_audio"
	cmdSendText   = "send_text"
	cmdProgress   = "progress"
)

// Server → client message types.
const (
	msgHello        = "hello"
	msgAudio        = "audio"
	msgStop         = "stop"
	msgSpeaking     = "speaking"
	msgState        = "state"
	msgInterrupted  = "interrupted"
	msgTurnComplete = "turn_complete"
	msgTranscript   = "transcript"
	msgPractice     = "practice"
	msgScript       = "script"
	msgStage        = "stage"
	msgProgress     = "progress"
	msgError        = "error"
)

// command is a JSON text frame sent by the browser. Only the fields the
// type needs are set.
type command struct {
	Type    string `json:"type"`
	Grade   string `json:"grade,omitempty"`
	UnitID  int    `json:"unit_id,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Text    string `json:"text,omitempty"`
	Rate    int    `json:"rate,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// message is a JSON text frame sent to the browser.
type message struct {
	Type string `json:"type"`

	ClassroomID string `json:"classroom_id,omitempty"`

	// audio / stop
	ID   uint64 `json:"id,omitempty"`
	AtMS int64  `json:"at_ms,omitempty"`
	Rate int    `json:"rate,omitempty"`
	Data string `json:"data,omitempty"`

	// speaking
	Speaking *bool `json:"speaking,omitempty"`

	// state
	State string `json:"state,omitempty"`

	// transcript
	Role string `json:"role,omitempty"`
	Text string `json:"text,omitempty"`

	// practice
	Hits []practice.Hit `json:"hits,omitempty"`

	// script / stage / progress
	Script   *lesson.Script  `json:"script,omitempty"`
	Stage    *stageInfo      `json:"stage,omitempty"`
	Progress *tutor.Progress `json:"progress,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type stageInfo struct {
	Index    int    `json:"index"`
	Key      string `json:"key"`
	Label    string `json:"label"`
	Finished bool   `json:"finished"`
}

func newStageInfo(s lesson.Stage, finished bool) *stageInfo {
	return &stageInfo{Index: int(s), Key: s.Key(), Label: s.Label(), Finished: finished}
}

// errBadRequest marks malformed client input.
var errBadRequest = errors.New("gateway: bad request")

// errorCode maps a failure to the stable code the browser switches on.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errBadRequest):
		return "bad_request"
	case errors.Is(err, errBusy):
		return "busy"
	case errors.Is(err, tutor.ErrLiveSessionActive):
		return "live_session_active"
	case errors.Is(err, tutor.ErrNoLesson):
		return "no_lesson"
	case errors.Is(err, tutor.ErrClosed):
		return "closed"
	case errors.Is(err, narration.ErrSynthesisUnavailable):
		return "synthesis_unavailable"
	case errors.Is(err, narration.ErrEmptyText):
		return "empty_text"
	case errors.Is(err, playback.ErrStale):
		return "stopped"
	case errors.Is(err, capture.ErrMicrophoneUnavailable):
		return "microphone_unavailable"
	case errors.Is(err, live.ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, live.ErrStartupRace):
		return "startup_cancelled"
	case errors.Is(err, live.ErrSession):
		return "session_error"
	case errors.Is(err, lesson.ErrUnknownUnit):
		return "unknown_unit"
	case errors.Is(err, lesson.ErrGenerationFailed):
		return "generation_failed"
	default:
		return "internal"
	}
}

func errorMessage(err error) message {
	return message{Type: msgError, Code: errorCode(err), Message: err.Error()}
}

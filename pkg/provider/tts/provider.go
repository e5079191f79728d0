// Package tts defines the Synthesizer interface for one-shot text-to-speech
// backends.
//
// A synthesizer turns a complete utterance into a single PCM frame. The
// narration pipeline decodes that frame and places it on the playback
// timeline; there is no streaming between the two.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/misssmart/pkg/audio"
)

// ErrNoAudio is returned when the backend answered successfully but the
// response carried no audio payload.
var ErrNoAudio = errors.New("tts: response contained no audio")

// Synthesizer is the abstraction over any one-shot TTS backend.
type Synthesizer interface {
	// Synthesize renders text with the given voice and returns the result as
	// a PCM frame. The frame's MIME tag carries the output sample rate.
	//
	// It returns [ErrNoAudio] when the backend produced nothing to play, and
	// returns promptly with ctx's error when ctx is cancelled.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (audio.Frame, error)
}

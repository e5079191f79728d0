// Package capture defines the microphone abstraction used by realtime voice
// sessions, plus a [Pipe] implementation that is fed samples from elsewhere
// in the process (for example a browser streaming its microphone over a
// WebSocket).
package capture

import (
	"context"
	"errors"
)

// ErrMicrophoneUnavailable is returned by [Microphone.Open] when no
// microphone can be acquired: none attached, permission denied, or already
// in use.
var ErrMicrophoneUnavailable = errors.New("capture: microphone unavailable")

// Stream is an open microphone.
type Stream interface {
	// Samples delivers mono float samples in capture order. Batch sizes are
	// whatever the hardware hands over. The channel is closed when the
	// stream is closed or the device goes away.
	Samples() <-chan []float32

	// SampleRate is the rate of the delivered samples.
	SampleRate() int

	// Close releases the microphone. Calling Close more than once is safe.
	Close() error
}

// Microphone hands out capture streams.
type Microphone interface {
	// Open acquires the microphone. It fails with an error wrapping
	// ErrMicrophoneUnavailable when that is not possible.
	Open(ctx context.Context) (Stream, error)
}

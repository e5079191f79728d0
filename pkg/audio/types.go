// Package audio defines the wire representation of PCM audio used by the
// tutor and the codec that converts it to and from normalized float samples.
//
// Two representations exist. A [Frame] is what travels over the realtime
// endpoint and out of the speech synthesizer: mono 16-bit little-endian PCM,
// base64 encoded, tagged with a MIME type of the form "audio/pcm;rate=16000".
// A [Buffer] is what the playback layer consumes: per-channel float32 samples
// in [-1, 1] plus the sample rate.
package audio

import "time"

// Standard sample rates used by the tutor.
const (
	// InputRate is the rate of microphone audio sent to the realtime endpoint.
	InputRate = 16000

	// OutputRate is the rate of audio returned by the realtime endpoint and
	// by speech synthesis.
	OutputRate = 24000

	// WindowSize is the number of capture samples packed into one outbound
	// frame.
	WindowSize = 4096
)

// Frame is an immutable chunk of mono 16-bit little-endian PCM in transit.
type Frame struct {
	// Data is the base64 (standard alphabet, padded) encoding of the PCM bytes.
	Data string

	// MIMEType identifies the encoding and rate, e.g. "audio/pcm;rate=24000".
	MIMEType string
}

// Rate returns the sample rate carried by the frame's MIME tag.
func (f Frame) Rate() (int, error) {
	return ParseMIMEType(f.MIMEType)
}

// Empty reports whether the frame carries no audio.
func (f Frame) Empty() bool {
	return f.Data == ""
}

// Buffer holds decoded, normalized audio ready for playback.
type Buffer struct {
	// Samples has one slice per channel, all of equal length. Values lie in
	// [-1, 1).
	Samples [][]float32

	// SampleRate in Hz.
	SampleRate int
}

// NewMonoBuffer wraps a single channel of samples.
func NewMonoBuffer(samples []float32, sampleRate int) Buffer {
	return Buffer{Samples: [][]float32{samples}, SampleRate: sampleRate}
}

// Channels returns the number of channels in the buffer.
func (b Buffer) Channels() int {
	return len(b.Samples)
}

// Len returns the number of sample frames (samples per channel).
func (b Buffer) Len() int {
	if len(b.Samples) == 0 {
		return 0
	}
	return len(b.Samples[0])
}

// Duration is Len divided by SampleRate. A buffer with no rate has zero
// duration.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(b.Len()) * int64(time.Second) / int64(b.SampleRate))
}

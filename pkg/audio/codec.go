package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedFrame is returned when a frame cannot be decoded: invalid
// base64, a byte count that does not divide into whole samples, or a MIME
// tag without a usable rate.
var ErrMalformedFrame = errors.New("audio: malformed frame")

const (
	pcmMIMEPrefix = "audio/pcm"
	l16MIMEPrefix = "audio/l16"

	// pcmScale maps normalized float samples onto the int16 range.
	pcmScale = 32768
)

// PCMMIMEType returns the MIME tag for raw 16-bit PCM at rate Hz.
func PCMMIMEType(rate int) string {
	return pcmMIMEPrefix + ";rate=" + strconv.Itoa(rate)
}

// ParseMIMEType extracts the sample rate from a tag like
// "audio/pcm;rate=24000". Parameter order and surrounding whitespace are
// ignored. "audio/L16" is accepted as a synonym, since speech services
// label the same little-endian payload that way.
func ParseMIMEType(tag string) (int, error) {
	parts := strings.Split(tag, ";")
	if base := strings.TrimSpace(strings.ToLower(parts[0])); base != pcmMIMEPrefix && base != l16MIMEPrefix {
		return 0, fmt.Errorf("%w: unsupported mime type %q", ErrMalformedFrame, tag)
	}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || strings.ToLower(strings.TrimSpace(k)) != "rate" {
			continue
		}
		rate, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || rate <= 0 {
			return 0, fmt.Errorf("%w: invalid rate in %q", ErrMalformedFrame, tag)
		}
		return rate, nil
	}
	return 0, fmt.Errorf("%w: no rate in %q", ErrMalformedFrame, tag)
}

// EncodeFrame converts normalized float samples to a wire frame.
//
// Each sample is multiplied by 32768 and truncated toward zero. Values that
// fall outside the int16 range are clamped, so 1.0 encodes as 32767 and -1.0
// as -32768; they never wrap around to the opposite sign. NaN encodes as 0.
func EncodeFrame(samples []float32, sampleRate int) Frame {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(floatToInt16(s)))
	}
	return Frame{
		Data:     base64.StdEncoding.EncodeToString(pcm),
		MIMEType: PCMMIMEType(sampleRate),
	}
}

// EncodePCM wraps raw little-endian int16 bytes in a frame. It fails with
// [ErrMalformedFrame] when pcm has an odd length.
func EncodePCM(pcm []byte, sampleRate int) (Frame, error) {
	if len(pcm)%2 != 0 {
		return Frame{}, fmt.Errorf("%w: odd byte count %d", ErrMalformedFrame, len(pcm))
	}
	return Frame{
		Data:     base64.StdEncoding.EncodeToString(pcm),
		MIMEType: PCMMIMEType(sampleRate),
	}, nil
}

// DecodeFrame converts a wire frame into a playable buffer. Interleaved
// samples are split across channels; each sample is divided by 32768.
func DecodeFrame(f Frame, channels int) (Buffer, error) {
	if channels < 1 {
		return Buffer{}, fmt.Errorf("%w: channel count %d", ErrMalformedFrame, channels)
	}
	rate, err := f.Rate()
	if err != nil {
		return Buffer{}, err
	}
	pcm, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return Buffer{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if len(pcm)%(2*channels) != 0 {
		return Buffer{}, fmt.Errorf("%w: %d bytes is not a whole number of %d-channel samples",
			ErrMalformedFrame, len(pcm), channels)
	}

	frames := len(pcm) / (2 * channels)
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, frames)
	}
	for i := range frames {
		for c := range channels {
			off := (i*channels + c) * 2
			out[c][i] = float32(int16(binary.LittleEndian.Uint16(pcm[off:]))) / pcmScale
		}
	}
	return Buffer{Samples: out, SampleRate: rate}, nil
}

func floatToInt16(s float32) int16 {
	v := float64(s) * pcmScale
	switch {
	case v != v: // NaN
		return 0
	case v >= 32767:
		return 32767
	case v <= -32768:
		return -32768
	}
	return int16(v)
}

package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ResampleMono resamples float samples from srcRate to dstRate using linear
// interpolation. If the rates match, or either is not positive, the input is
// returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// Downmix averages the channels of b into a single mono slice.
func Downmix(b Buffer) []float32 {
	switch b.Channels() {
	case 0:
		return nil
	case 1:
		return b.Samples[0]
	}
	out := make([]float32, b.Len())
	scale := 1 / float32(b.Channels())
	for _, ch := range b.Samples {
		for i, s := range ch {
			out[i] += s * scale
		}
	}
	return out
}

// Float32FromBytes reinterprets little-endian IEEE-754 float32 bytes, the
// format browsers deliver from an AudioWorklet. The byte count must be a
// multiple of four.
func Float32FromBytes(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of float32 samples", ErrMalformedFrame, len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// Windower re-slices a stream of arbitrarily sized sample batches into
// fixed-size windows. It is not safe for concurrent use; create one per
// stream.
type Windower struct {
	size    int
	pending []float32
}

// NewWindower returns a Windower emitting windows of size samples. A
// non-positive size selects [WindowSize].
func NewWindower(size int) *Windower {
	if size <= 0 {
		size = WindowSize
	}
	return &Windower{size: size, pending: make([]float32, 0, size)}
}

// Push appends samples and returns every complete window now available, in
// order. Each returned slice is freshly allocated.
func (w *Windower) Push(samples []float32) [][]float32 {
	var out [][]float32
	for len(samples) > 0 {
		n := min(w.size-len(w.pending), len(samples))
		w.pending = append(w.pending, samples[:n]...)
		samples = samples[n:]
		if len(w.pending) == w.size {
			win := make([]float32, w.size)
			copy(win, w.pending)
			out = append(out, win)
			w.pending = w.pending[:0]
		}
	}
	return out
}

// Flush returns any buffered partial window and resets the Windower.
func (w *Windower) Flush() []float32 {
	if len(w.pending) == 0 {
		return nil
	}
	out := make([]float32, len(w.pending))
	copy(out, w.pending)
	w.pending = w.pending[:0]
	return out
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "24000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}

// String describes the buffer's shape, e.g. "24000Hz mono, 4096 samples".
func (b Buffer) String() string {
	return fmt.Sprintf("%s, %d samples", formatString(b.SampleRate, b.Channels()), b.Len())
}

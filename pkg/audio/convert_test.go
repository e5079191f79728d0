package audio_test

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/misssmart/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func frameSamples(t *testing.T, f audio.Frame) []int16 {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		t.Fatalf("frame data is not base64: %v", err)
	}
	return bytesToSamples(raw)
}

func TestEncodeFrame(t *testing.T) {
	t.Parallel()

	f := audio.EncodeFrame([]float32{0, 0.5, -0.5, 0.25}, 16000)
	if f.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q; want %q", f.MIMEType, "audio/pcm;rate=16000")
	}
	got := frameSamples(t, f)
	want := []int16{0, 16384, -16384, 8192}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEncodeFrame_ClampsOutOfRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"full scale positive", 1.0, 32767},
		{"full scale negative", -1.0, -32768},
		{"above range", 2.0, 32767},
		{"below range", -3.5, -32768},
		{"nan", float32(math.NaN()), 0},
		{"positive infinity", float32(math.Inf(1)), 32767},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := frameSamples(t, audio.EncodeFrame([]float32{tt.in}, 16000))
			if got[0] != tt.want {
				t.Errorf("encode(%v) = %d; want %d", tt.in, got[0], tt.want)
			}
		})
	}
}

func TestEncodeFrame_Empty(t *testing.T) {
	t.Parallel()

	f := audio.EncodeFrame(nil, 16000)
	if !f.Empty() {
		t.Errorf("Data = %q; want empty", f.Data)
	}
}

func TestDecodeFrame(t *testing.T) {
	t.Parallel()

	f := audio.Frame{
		Data:     base64.StdEncoding.EncodeToString(samplesToBytes([]int16{0, 16384, -32768, 32767})),
		MIMEType: "audio/pcm;rate=24000",
	}
	buf, err := audio.DecodeFrame(f, 1)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if buf.SampleRate != 24000 {
		t.Errorf("SampleRate = %d; want 24000", buf.SampleRate)
	}
	want := []float32{0, 0.5, -1, 32767.0 / 32768}
	if buf.Len() != len(want) {
		t.Fatalf("Len = %d; want %d", buf.Len(), len(want))
	}
	for i, w := range want {
		if buf.Samples[0][i] != w {
			t.Errorf("sample %d: got %v, want %v", i, buf.Samples[0][i], w)
		}
	}
}

func TestDecodeFrame_Stereo(t *testing.T) {
	t.Parallel()

	f := audio.Frame{
		Data:     base64.StdEncoding.EncodeToString(samplesToBytes([]int16{100, -100, 200, -200})),
		MIMEType: audio.PCMMIMEType(24000),
	}
	buf, err := audio.DecodeFrame(f, 2)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if buf.Channels() != 2 || buf.Len() != 2 {
		t.Fatalf("shape = %s; want 2 channels of 2 samples", buf)
	}
	if buf.Samples[0][1] != 200.0/32768 || buf.Samples[1][1] != -200.0/32768 {
		t.Errorf("de-interleave mismatch: L=%v R=%v", buf.Samples[0], buf.Samples[1])
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		frame    audio.Frame
		channels int
	}{
		{"invalid base64", audio.Frame{Data: "!!not base64!!", MIMEType: "audio/pcm;rate=24000"}, 1},
		{"odd byte count", audio.Frame{Data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), MIMEType: "audio/pcm;rate=24000"}, 1},
		{"partial stereo frame", audio.Frame{Data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4, 5, 6}), MIMEType: "audio/pcm;rate=24000"}, 2},
		{"missing rate", audio.Frame{Data: "AAA=", MIMEType: "audio/pcm"}, 1},
		{"wrong mime type", audio.Frame{Data: "AAA=", MIMEType: "audio/wav;rate=24000"}, 1},
		{"zero channels", audio.Frame{Data: "AAA=", MIMEType: "audio/pcm;rate=24000"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.DecodeFrame(tt.frame, tt.channels)
			if !errors.Is(err, audio.ErrMalformedFrame) {
				t.Errorf("err = %v; want ErrMalformedFrame", err)
			}
		})
	}
}

func TestEncodeDecode_RoundTripWithinOneStep(t *testing.T) {
	t.Parallel()

	in := []float32{-1, -0.75, -0.1, 0, 0.1, 0.333, 0.9999}
	buf, err := audio.DecodeFrame(audio.EncodeFrame(in, 16000), 1)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	for i, s := range in {
		if d := math.Abs(float64(buf.Samples[0][i] - s)); d > 1.0/32768 {
			t.Errorf("sample %d: got %v, want %v (diff %v)", i, buf.Samples[0][i], s, d)
		}
	}
}

func TestParseMIMEType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag     string
		want    int
		wantErr bool
	}{
		{"audio/pcm;rate=16000", 16000, false},
		{"audio/pcm; rate=24000", 24000, false},
		{"AUDIO/PCM;channels=1;rate=8000", 8000, false},
		{"audio/L16;codec=pcm;rate=24000", 24000, false},
		{"audio/pcm;rate=abc", 0, true},
		{"audio/pcm;rate=-5", 0, true},
		{"audio/pcm", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := audio.ParseMIMEType(tt.tag)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMIMEType(%q) err = %v; wantErr %v", tt.tag, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMIMEType(%q) = %d; want %d", tt.tag, got, tt.want)
		}
	}
}

func TestEncodePCM_OddLength(t *testing.T) {
	t.Parallel()

	if _, err := audio.EncodePCM([]byte{1, 2, 3}, 24000); !errors.Is(err, audio.ErrMalformedFrame) {
		t.Errorf("err = %v; want ErrMalformedFrame", err)
	}
	f, err := audio.EncodePCM(samplesToBytes([]int16{7}), 24000)
	if err != nil {
		t.Fatalf("EncodePCM: %v", err)
	}
	if got := frameSamples(t, f); got[0] != 7 {
		t.Errorf("sample = %d; want 7", got[0])
	}
}

func TestBuffer_Duration(t *testing.T) {
	t.Parallel()

	buf := audio.NewMonoBuffer(make([]float32, 12000), 24000)
	if got := buf.Duration(); got != 500*time.Millisecond {
		t.Errorf("Duration = %v; want 500ms", got)
	}
	if got := (audio.Buffer{}).Duration(); got != 0 {
		t.Errorf("empty Duration = %v; want 0", got)
	}
}

func TestResampleMono_SameRate(t *testing.T) {
	t.Parallel()

	in := []float32{0.1, 0.2, 0.3}
	out := audio.ResampleMono(in, 16000, 16000)
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
}

func TestResampleMono_Downsample(t *testing.T) {
	t.Parallel()

	in := make([]float32, 4800)
	for i := range in {
		in[i] = 0.25
	}
	out := audio.ResampleMono(in, 48000, 16000)
	if len(out) != 1600 {
		t.Fatalf("length = %d; want 1600", len(out))
	}
	for i, s := range out {
		if s != 0.25 {
			t.Fatalf("sample %d = %v; want 0.25", i, s)
		}
	}
}

func TestResampleMono_Interpolates(t *testing.T) {
	t.Parallel()

	out := audio.ResampleMono([]float32{0, 1}, 1, 2)
	want := []float32{0, 0.5, 1, 1}
	if len(out) != len(want) {
		t.Fatalf("length = %d; want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, out[i], want[i])
		}
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()

	buf := audio.Buffer{Samples: [][]float32{{1, 0.5}, {0, -0.5}}, SampleRate: 24000}
	got := audio.Downmix(buf)
	want := []float32{0.5, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFloat32FromBytes(t *testing.T) {
	t.Parallel()

	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b, math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(-0.25))
	got, err := audio.Float32FromBytes(b)
	if err != nil {
		t.Fatalf("Float32FromBytes: %v", err)
	}
	if got[0] != 0.5 || got[1] != -0.25 {
		t.Errorf("got %v; want [0.5 -0.25]", got)
	}
	if _, err := audio.Float32FromBytes(b[:5]); !errors.Is(err, audio.ErrMalformedFrame) {
		t.Errorf("err = %v; want ErrMalformedFrame", err)
	}
}

func TestWindower(t *testing.T) {
	t.Parallel()

	w := audio.NewWindower(4)
	if got := w.Push([]float32{1, 2, 3}); len(got) != 0 {
		t.Fatalf("got %d windows after 3 samples; want 0", len(got))
	}
	got := w.Push([]float32{4, 5, 6, 7, 8, 9})
	if len(got) != 2 {
		t.Fatalf("got %d windows; want 2", len(got))
	}
	if got[0][0] != 1 || got[0][3] != 4 || got[1][0] != 5 || got[1][3] != 8 {
		t.Errorf("windows out of order: %v", got)
	}
	rest := w.Flush()
	if len(rest) != 1 || rest[0] != 9 {
		t.Errorf("Flush = %v; want [9]", rest)
	}
	if w.Flush() != nil {
		t.Error("second Flush should be empty")
	}
}

func TestNewWindower_DefaultSize(t *testing.T) {
	t.Parallel()

	w := audio.NewWindower(0)
	if got := w.Push(make([]float32, audio.WindowSize)); len(got) != 1 {
		t.Errorf("got %d windows; want 1", len(got))
	}
}

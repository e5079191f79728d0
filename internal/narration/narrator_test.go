package narration_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/misssmart/internal/narration"
	"github.com/MrWong99/misssmart/internal/observe"
	"github.com/MrWong99/misssmart/internal/resilience"
	"github.com/MrWong99/misssmart/pkg/audio"
	audiomock "github.com/MrWong99/misssmart/pkg/audio/mock"
	"github.com/MrWong99/misssmart/pkg/audio/playback"
	"github.com/MrWong99/misssmart/pkg/provider/tts"
	ttsmock "github.com/MrWong99/misssmart/pkg/provider/tts/mock"
)

// speech returns a 24 kHz frame lasting d.
func speech(d time.Duration) audio.Frame {
	return audio.EncodeFrame(make([]float32, int(d*24000/time.Second)), audio.OutputRate)
}

func setup(t *testing.T, synth tts.Synthesizer, opts ...narration.Option) (*narration.Narrator, *playback.Scheduler, *audiomock.Device) {
	t.Helper()
	dev := &audiomock.Device{}
	out := playback.NewOutput(dev)
	if err := out.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { out.Close() })
	return narration.New(synth, out.Scheduler(), opts...), out.Scheduler(), dev
}

func TestSpeak_SchedulesOneChunk(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{Result: speech(500 * time.Millisecond)}
	n, sched, dev := setup(t, synth)

	voice := tts.VoiceProfile{ID: "Kore", Instructions: "Speak slowly."}
	h, err := n.Speak(context.Background(), "Good morning, friends!", voice)
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if h.Duration != 500*time.Millisecond {
		t.Errorf("Duration = %v; want 500ms", h.Duration)
	}

	calls := synth.Calls()
	if len(calls) != 1 {
		t.Fatalf("synthesize calls = %d; want 1", len(calls))
	}
	if calls[0].Text != "Good morning, friends!" || calls[0].Voice != voice {
		t.Errorf("call = %+v; want text and voice passed through", calls[0])
	}

	plays := dev.Calls()
	if len(plays) != 1 {
		t.Fatalf("device plays = %d; want 1", len(plays))
	}
	if plays[0].Buffer.SampleRate != 24000 || plays[0].Buffer.Len() != 12000 {
		t.Errorf("buffer = %s; want 12000 samples at 24 kHz", plays[0].Buffer)
	}
	if !sched.Speaking() {
		t.Error("scheduler not speaking after Speak")
	}

	dev.Advance(500 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("utterance never completed: %v", err)
	}
	if h.Stopped() {
		t.Error("utterance reported stopped after playing to the end")
	}
}

func TestSpeak_QueuesBackToBack(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{Result: speech(300 * time.Millisecond)}
	n, _, _ := setup(t, synth)

	h1, err := n.Speak(context.Background(), "One", tts.VoiceProfile{})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := n.Speak(context.Background(), "Two", tts.VoiceProfile{})
	if err != nil {
		t.Fatal(err)
	}
	if h2.Start != h1.End() {
		t.Errorf("second utterance starts at %v; want %v", h2.Start, h1.End())
	}
}

func TestSpeak_SynthesisUnavailable(t *testing.T) {
	t.Parallel()

	errDown := errors.New("503 service unavailable")
	tests := []struct {
		name  string
		synth *ttsmock.Synthesizer
		cause error
	}{
		{"service error", &ttsmock.Synthesizer{Err: errDown}, errDown},
		{"no audio", &ttsmock.Synthesizer{}, tts.ErrNoAudio},
		{"odd byte count", &ttsmock.Synthesizer{Result: audio.Frame{Data: "AQID", MIMEType: "audio/pcm;rate=24000"}}, audio.ErrMalformedFrame},
		{"missing rate", &ttsmock.Synthesizer{Result: audio.Frame{Data: "AAA=", MIMEType: "audio/pcm"}}, audio.ErrMalformedFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			n, sched, dev := setup(t, tt.synth)
			h, err := n.Speak(context.Background(), "Hello", tts.VoiceProfile{})
			if !errors.Is(err, narration.ErrSynthesisUnavailable) {
				t.Fatalf("err = %v; want ErrSynthesisUnavailable", err)
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("err = %v; want cause %v", err, tt.cause)
			}
			if h != nil {
				t.Error("handle returned on failure")
			}
			if len(dev.Calls()) != 0 || sched.Speaking() {
				t.Error("audio played although synthesis failed")
			}
			if n := len(tt.synth.Calls()); n != 1 {
				t.Errorf("synthesize calls = %d; want 1 (no retry)", n)
			}
		})
	}
}

func TestSpeak_OpenBreaker(t *testing.T) {
	t.Parallel()

	inner := &ttsmock.Synthesizer{Err: errors.New("connection refused")}
	chain := resilience.NewSynthesizerChain("gemini", inner, resilience.BreakerConfig{MaxFailures: 1, Cooldown: time.Hour})
	n, _, _ := setup(t, chain)

	if _, err := n.Speak(context.Background(), "Hello", tts.VoiceProfile{}); !errors.Is(err, narration.ErrSynthesisUnavailable) {
		t.Fatalf("first err = %v; want ErrSynthesisUnavailable", err)
	}
	_, err := n.Speak(context.Background(), "Hello", tts.VoiceProfile{})
	if !errors.Is(err, narration.ErrSynthesisUnavailable) || !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("err = %v; want ErrSynthesisUnavailable wrapping ErrOpen", err)
	}
	if got := len(inner.Calls()); got != 1 {
		t.Errorf("service called %d times; want 1", got)
	}
}

func TestSpeak_StopAllDuringSynthesisDropsResult(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	synth := &ttsmock.Synthesizer{Result: speech(time.Second), Gate: gate}
	n, sched, dev := setup(t, synth)

	errc := make(chan error, 1)
	go func() {
		_, err := n.Speak(context.Background(), "Let's count to ten!", tts.VoiceProfile{})
		errc <- err
	}()

	<-synth.Started()
	sched.StopAll()
	close(gate)

	if err := <-errc; !errors.Is(err, playback.ErrStale) {
		t.Fatalf("err = %v; want ErrStale", err)
	}
	if len(dev.Calls()) != 0 {
		t.Error("stale utterance reached the device")
	}
}

func TestSpeakIn_OlderGenerationIsDropped(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{Result: speech(time.Second)}
	n, sched, dev := setup(t, synth)

	gen := sched.Generation()
	sched.StopAll()

	_, err := n.SpeakIn(context.Background(), gen, "Good morning!", tts.VoiceProfile{})
	if !errors.Is(err, playback.ErrStale) {
		t.Fatalf("err = %v; want ErrStale", err)
	}
	if len(dev.Calls()) != 0 {
		t.Error("utterance from an older generation reached the device")
	}

	if _, err := n.SpeakIn(context.Background(), sched.Generation(), "Good morning!", tts.VoiceProfile{}); err != nil {
		t.Errorf("SpeakIn with current generation: %v", err)
	}
}

func TestSpeak_CancelledContext(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	synth := &ttsmock.Synthesizer{Result: speech(time.Second), Gate: gate}
	n, _, dev := setup(t, synth)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := n.Speak(ctx, "Hello", tts.VoiceProfile{})
		errc <- err
	}()
	<-synth.Started()
	cancel()

	err := <-errc
	if !errors.Is(err, playback.ErrStale) || !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v; want ErrStale wrapping context.Canceled", err)
	}
	if len(dev.Calls()) != 0 {
		t.Error("cancelled utterance reached the device")
	}
}

func TestSpeak_EmptyText(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{Result: speech(time.Second)}
	n, _, _ := setup(t, synth)

	if _, err := n.Speak(context.Background(), "  \n", tts.VoiceProfile{}); !errors.Is(err, narration.ErrEmptyText) {
		t.Errorf("err = %v; want ErrEmptyText", err)
	}
	if len(synth.Calls()) != 0 {
		t.Error("synthesizer called for empty text")
	}
}

func TestSpeak_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	synth := &ttsmock.Synthesizer{Result: speech(100 * time.Millisecond)}
	n, _, _ := setup(t, synth, narration.WithMetrics(m), narration.WithProviderName("gemini"))
	if _, err := n.Speak(context.Background(), "Hi", tts.VoiceProfile{}); err != nil {
		t.Fatal(err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			found[met.Name] = true
		}
	}
	for _, name := range []string{"misssmart.tts.duration", "misssmart.provider.requests", "misssmart.chunks.scheduled"} {
		if !found[name] {
			t.Errorf("metric %q not recorded", name)
		}
	}
	if found["misssmart.provider.errors"] {
		t.Error("provider error recorded for a successful call")
	}
}

func TestSpeak_RecordsSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	synth := &ttsmock.Synthesizer{Result: speech(300 * time.Millisecond)}
	n, _, _ := setup(t, synth)

	ctx := observe.WithClassroom(context.Background(), "room-span")
	if _, err := n.Speak(ctx, "Point to the window.", tts.VoiceProfile{ID: "Kore"}); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "narration.speak" {
		t.Fatalf("spans = %v; want one narration.speak", spans)
	}
	want := map[attribute.Key]attribute.Value{
		observe.ClassroomKey: attribute.StringValue("room-span"),
		observe.VoiceKey:     attribute.StringValue("Kore"),
		"text.length":        attribute.IntValue(len("Point to the window.")),
		"chunk.duration_ms":  attribute.Int64Value(300),
	}
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes {
		got[kv.Key] = kv.Value
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v; want %v", k, got[k].Emit(), v.Emit())
		}
	}
}

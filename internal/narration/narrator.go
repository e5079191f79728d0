// Package narration plays scripted lesson text as one continuous utterance.
//
// A [Narrator] makes a single synthesis round trip for the whole text,
// decodes the returned frame and places it on the playback timeline as one
// chunk. There is no streaming and no automatic retry: a failed synthesis is
// reported to the caller and nothing plays.
//
// The Narrator does not know about live conversations. Keeping narration and
// the live session from talking over each other is the job of whoever owns
// both (see package tutor).
package narration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/misssmart/internal/observe"
	"github.com/MrWong99/misssmart/pkg/audio"
	"github.com/MrWong99/misssmart/pkg/audio/playback"
	"github.com/MrWong99/misssmart/pkg/provider/tts"
)

var (
	// ErrSynthesisUnavailable is returned when the speech service failed,
	// returned no audio, returned audio that cannot be decoded, or is being
	// skipped by an open circuit breaker. It wraps the underlying cause.
	ErrSynthesisUnavailable = errors.New("narration: synthesis unavailable")

	// ErrEmptyText is returned when there is nothing to say.
	ErrEmptyText = errors.New("narration: empty text")
)

// Option configures a [Narrator].
type Option func(*Narrator)

// WithMetrics records synthesis latency, outcomes and scheduled chunks on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(n *Narrator) { n.metrics = m }
}

// WithProviderName sets the provider label used in metrics. Default "tts".
func WithProviderName(name string) Option {
	return func(n *Narrator) { n.provider = name }
}

// Narrator turns text into one scheduled playback chunk.
//
// Narrator is safe for concurrent use. Concurrent Speak calls each get their
// own chunk, queued back to back in the order their synthesis finished.
type Narrator struct {
	synth    tts.Synthesizer
	sched    *playback.Scheduler
	metrics  *observe.Metrics
	provider string
}

// New returns a Narrator that synthesizes with synth and plays through
// sched.
func New(synth tts.Synthesizer, sched *playback.Scheduler, opts ...Option) *Narrator {
	n := &Narrator{
		synth:    synth,
		sched:    sched,
		provider: "tts",
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Speak synthesizes text with voice and schedules the result. The returned
// handle's Done channel closes when the utterance finished or was stopped.
//
// The scheduler generation is read before the synthesis request goes out.
// If StopAll runs, or ctx ends, while the request is in flight, the late
// result is dropped and Speak returns an error wrapping [playback.ErrStale].
func (n *Narrator) Speak(ctx context.Context, text string, voice tts.VoiceProfile) (*playback.Handle, error) {
	return n.SpeakIn(ctx, n.sched.Generation(), text, voice)
}

// SpeakIn is Speak for a generation the caller read earlier, typically
// before checking that narration is allowed at all. A StopAll after that
// read drops the utterance.
func (n *Narrator) SpeakIn(ctx context.Context, gen uint64, text string, voice tts.VoiceProfile) (*playback.Handle, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	ctx, span := observe.StartSpan(ctx, "narration.speak",
		observe.VoiceKey.String(voice.ID),
		attribute.Int("text.length", len(text)),
	)
	defer span.End()

	start := time.Now()
	frame, err := n.synth.Synthesize(ctx, text, voice)
	n.record(ctx, time.Since(start), err)

	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "cancelled")
		return nil, fmt.Errorf("narration: speak: %w: %w", playback.ErrStale, ctx.Err())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return nil, fmt.Errorf("%w: %w", ErrSynthesisUnavailable, err)
	}
	if frame.Empty() {
		span.SetStatus(codes.Error, "no audio")
		return nil, fmt.Errorf("%w: %w", ErrSynthesisUnavailable, tts.ErrNoAudio)
	}

	buf, err := audio.DecodeFrame(frame, 1)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "undecodable audio")
		return nil, fmt.Errorf("%w: %w", ErrSynthesisUnavailable, err)
	}

	h, err := n.sched.ScheduleIn(gen, buf)
	if err != nil {
		if errors.Is(err, playback.ErrStale) {
			observe.Logger(ctx).Debug("narration: dropped stale utterance", "chars", len(text))
		}
		return nil, fmt.Errorf("narration: speak: %w", err)
	}
	if n.metrics != nil {
		n.metrics.RecordChunk(ctx, "narration")
	}
	span.SetAttributes(attribute.Int64("chunk.duration_ms", h.Duration.Milliseconds()))
	return h, nil
}

func (n *Narrator) record(ctx context.Context, took time.Duration, err error) {
	if n.metrics == nil {
		return
	}
	n.metrics.TTSDuration.Record(ctx, took.Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		n.metrics.RecordProviderError(ctx, n.provider, "tts")
	}
	n.metrics.RecordProviderRequest(ctx, n.provider, "tts", status)
}

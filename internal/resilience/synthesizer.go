package resilience

import (
	"context"

	"github.com/MrWong99/misssmart/pkg/audio"
	"github.com/MrWong99/misssmart/pkg/provider/tts"
)

// SynthesizerChain is a [tts.Synthesizer] that fronts one or more speech
// services with circuit breakers. A service that keeps failing is skipped
// without waiting on it until its cooldown passes.
type SynthesizerChain struct {
	group *Failover[tts.Synthesizer]
}

var _ tts.Synthesizer = (*SynthesizerChain)(nil)

// NewSynthesizerChain creates a chain with primary as the preferred service.
func NewSynthesizerChain(name string, primary tts.Synthesizer, cfg BreakerConfig) *SynthesizerChain {
	return &SynthesizerChain{group: NewFailover(name, primary, cfg)}
}

// AddFallback registers another service, tried after those already added.
func (c *SynthesizerChain) AddFallback(name string, s tts.Synthesizer) {
	c.group.Add(name, s)
}

// Names returns the services in try order.
func (c *SynthesizerChain) Names() []string {
	return c.group.Names()
}

// Available reports whether any service is outside its cooldown.
func (c *SynthesizerChain) Available() bool {
	return c.group.Available()
}

// Synthesize implements [tts.Synthesizer]. An empty result counts as a
// failure so the next service gets a chance.
func (c *SynthesizerChain) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Frame, error) {
	return Call(ctx, c.group, func(ctx context.Context, s tts.Synthesizer) (audio.Frame, error) {
		f, err := s.Synthesize(ctx, text, voice)
		if err != nil {
			return audio.Frame{}, err
		}
		if f.Empty() {
			return audio.Frame{}, tts.ErrNoAudio
		}
		return f, nil
	})
}

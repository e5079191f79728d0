// Package openai provides a tts.Synthesizer backed by the OpenAI speech
// endpoint, using github.com/openai/openai-go.
//
// Audio is requested in the "pcm" response format: raw 16-bit little-endian
// mono at 24 kHz, which maps directly onto an audio.Frame.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/misssmart/pkg/audio"
	"github.com/MrWong99/misssmart/pkg/provider/tts"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "coral"

	// pcmRate is fixed by the "pcm" response format.
	pcmRate = 24000
)

// Option is a functional option for configuring the Synthesizer.
type Option func(*config)

type config struct {
	model   string
	voice   string
	baseURL string
	timeout time.Duration
}

// WithModel overrides the speech model. Default: "gpt-4o-mini-tts".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithVoice sets the voice used when a request names none. Default: "coral".
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithBaseURL overrides the API endpoint. Useful for testing and for
// OpenAI-compatible gateways.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout bounds each synthesis request. Zero means no client-side limit.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Synthesizer implements tts.Synthesizer against the OpenAI API.
type Synthesizer struct {
	client oai.Client
	cfg    config
}

// New creates a Synthesizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	cfg := config{model: defaultModel, voice: defaultVoice}
	for _, o := range opts {
		o(&cfg)
	}

	// Narration never retries; a failed utterance is reported and skipped.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Synthesizer{client: oai.NewClient(reqOpts...), cfg: cfg}, nil
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Frame, error) {
	voice = voice.WithDefault(s.cfg.voice)

	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(s.cfg.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice.ID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.Instructions != "" {
		params.Instructions = oai.String(voice.Instructions)
	}
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1 {
		params.Speed = oai.Float(voice.SpeedFactor)
	}

	resp, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("openai tts: read body: %w", err)
	}
	if len(pcm) == 0 {
		return audio.Frame{}, tts.ErrNoAudio
	}

	f, err := audio.EncodePCM(pcm, pcmRate)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("openai tts: %w", err)
	}
	return f, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Package gemini provides a tts.Synthesizer backed by the Gemini speech
// generation models, using google.golang.org/genai.
//
// The model answers a GenerateContent call with a single inline audio part:
// raw 16-bit little-endian PCM at 24 kHz, tagged "audio/L16;codec=pcm;rate=24000".
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/MrWong99/misssmart/pkg/audio"
	"github.com/MrWong99/misssmart/pkg/provider/tts"
)

const (
	defaultModel = "gemini-2.5-flash-preview-tts"
	defaultVoice = "Kore"
)

// Option is a functional option for configuring the Synthesizer.
type Option func(*config)

type config struct {
	model   string
	voice   string
	baseURL string
	timeout time.Duration
}

// WithModel overrides the speech model. Default: "gemini-2.5-flash-preview-tts".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithVoice sets the prebuilt voice used when a request names none. Default: "Kore".
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithBaseURL overrides the API endpoint. Useful for testing.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout bounds each synthesis request. Zero means no client-side limit.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Synthesizer implements tts.Synthesizer against the Gemini API.
type Synthesizer struct {
	client *genai.Client
	cfg    config
}

// New creates a Synthesizer. apiKey must be non-empty.
func New(ctx context.Context, apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini tts: apiKey must not be empty")
	}
	cfg := config{model: defaultModel, voice: defaultVoice}
	for _, o := range opts {
		o(&cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	if cfg.timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.timeout}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini tts: create client: %w", err)
	}
	return &Synthesizer{client: client, cfg: cfg}, nil
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Frame, error) {
	voice = voice.WithDefault(s.cfg.voice)

	prompt := text
	if voice.Instructions != "" {
		prompt = voice.Instructions + ": " + text
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.cfg.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice.ID},
			},
		},
	})
	if err != nil {
		return audio.Frame{}, fmt.Errorf("gemini tts: generate: %w", err)
	}
	return frameFromResponse(resp)
}

// frameFromResponse concatenates every inline audio part of the first
// candidate into one frame.
func frameFromResponse(resp *genai.GenerateContentResponse) (audio.Frame, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return audio.Frame{}, tts.ErrNoAudio
	}

	var (
		pcm  []byte
		rate = audio.OutputRate
	)
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || !strings.HasPrefix(strings.ToLower(part.InlineData.MIMEType), "audio/") {
			continue
		}
		if r, err := audio.ParseMIMEType(part.InlineData.MIMEType); err == nil {
			rate = r
		}
		pcm = append(pcm, part.InlineData.Data...)
	}
	if len(pcm) == 0 {
		return audio.Frame{}, tts.ErrNoAudio
	}

	f, err := audio.EncodePCM(pcm, rate)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("gemini tts: %w", err)
	}
	return f, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

package lesson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/misssmart/pkg/provider/llm"
)

// ErrGenerationFailed is returned when a lesson script could not be
// produced. The underlying cause is wrapped.
var ErrGenerationFailed = errors.New("lesson: script generation failed")

// Generator produces a lesson script for one unit.
type Generator interface {
	Generate(ctx context.Context, grade Grade, unit Unit, mode Mode) (*Script, error)
}

// LLMGenerator asks a text model to write the script.
type LLMGenerator struct {
	provider    llm.Provider
	persona     Persona
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// GeneratorOption configures an [LLMGenerator].
type GeneratorOption func(*LLMGenerator)

// WithPersona sets the persona that writes the prompt.
func WithPersona(p Persona) GeneratorOption {
	return func(g *LLMGenerator) { g.persona = p }
}

// WithTemperature overrides the sampling temperature. Default: 0.8.
func WithTemperature(t float64) GeneratorOption {
	return func(g *LLMGenerator) { g.temperature = t }
}

// WithMaxTokens caps the reply length. Default: 4096.
func WithMaxTokens(n int) GeneratorOption {
	return func(g *LLMGenerator) { g.maxTokens = n }
}

// WithTimeout bounds each generation call. Zero means no extra limit.
func WithTimeout(d time.Duration) GeneratorOption {
	return func(g *LLMGenerator) { g.timeout = d }
}

// NewLLMGenerator returns a generator backed by provider.
func NewLLMGenerator(provider llm.Provider, opts ...GeneratorOption) *LLMGenerator {
	g := &LLMGenerator{
		provider:    provider,
		temperature: 0.8,
		maxTokens:   4096,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate implements [Generator].
func (g *LLMGenerator) Generate(ctx context.Context, grade Grade, unit Unit, mode Mode) (*Script, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: g.persona.ScriptPrompt(grade, unit, mode)},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	script, err := ParseScript(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	slog.Debug("lesson script generated",
		"grade", grade,
		"unit", unit.ID,
		"mode", mode,
		"tokens", resp.Usage.TotalTokens,
		"elapsed", time.Since(start),
	)
	return script, nil
}

// ParseScript decodes a model reply into a validated [Script]. Markdown code
// fences and any prose around the outermost JSON object are ignored.
func ParseScript(reply string) (*Script, error) {
	body := extractJSON(reply)
	if body == "" {
		return nil, errors.New("reply contains no JSON object")
	}
	var s Script
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	return &s, nil
}

func extractJSON(reply string) string {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return ""
	}
	return reply[start : end+1]
}

var _ Generator = (*LLMGenerator)(nil)

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultInputRate         = 48000
	DefaultOutputRate        = 24000
	DefaultCaptureWindow     = 4096
	DefaultGenerationTimeout = 60 * time.Second
	DefaultMaxFailures       = 3
	DefaultResetTimeout      = 20 * time.Second
	DefaultMode              = "bilingual"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"gemini", "openai"},
	"s2s": {"gemini-live", "openai-realtime"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued settings in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Teacher.Mode == "" {
		cfg.Teacher.Mode = DefaultMode
	}
	if cfg.Audio.InputRate == 0 {
		cfg.Audio.InputRate = DefaultInputRate
	}
	if cfg.Audio.OutputRate == 0 {
		cfg.Audio.OutputRate = DefaultOutputRate
	}
	if cfg.Audio.CaptureWindow == 0 {
		cfg.Audio.CaptureWindow = DefaultCaptureWindow
	}
	if cfg.Lessons.GenerationTimeout == 0 {
		cfg.Lessons.GenerationTimeout = DefaultGenerationTimeout
	}
	if cfg.Resilience.MaxFailures == 0 {
		cfg.Resilience.MaxFailures = DefaultMaxFailures
	}
	if cfg.Resilience.ResetTimeout == 0 {
		cfg.Resilience.ResetTimeout = DefaultResetTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("tts", fb.Name)
	}
	if len(cfg.Providers.TTSFallbacks) > 0 && cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts_fallbacks is set but providers.tts is not configured"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; lesson scripts cannot be generated")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; narration is unavailable")
	}
	if cfg.Providers.S2S.Name == "" {
		slog.Warn("providers.s2s is not configured; live conversations are unavailable")
	}

	// Teacher
	if m := cfg.Teacher.Mode; m != "" && m != "bilingual" && m != "immersion" {
		errs = append(errs, fmt.Errorf("teacher.mode %q is invalid; valid values: bilingual, immersion", m))
	}
	if sf := cfg.Teacher.SpeedFactor; sf != 0 && (sf < 0.5 || sf > 2.0) {
		errs = append(errs, fmt.Errorf("teacher.speed_factor %.2f is out of range [0.5, 2.0]", sf))
	}

	// Audio
	if cfg.Audio.InputRate < 0 || cfg.Audio.OutputRate < 0 {
		errs = append(errs, errors.New("audio sample rates must be positive"))
	}
	if cfg.Audio.CaptureWindow < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_window %d must be positive", cfg.Audio.CaptureWindow))
	}

	// Lessons
	if cfg.Lessons.GenerationTimeout < 0 {
		errs = append(errs, fmt.Errorf("lessons.generation_timeout %s must not be negative", cfg.Lessons.GenerationTimeout))
	}
	if cfg.Lessons.PostgresDSN == "" {
		slog.Info("lessons.postgres_dsn is empty; scripts and transcripts are kept in memory")
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d must not be negative", cfg.Resilience.MaxFailures))
	}
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.reset_timeout %s must not be negative", cfg.Resilience.ResetTimeout))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the misssmart tutor server.
package config

import "time"

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Teacher    TeacherConfig    `yaml:"teacher"`
	Audio      AudioConfig      `yaml:"audio"`
	Lessons    LessonsConfig    `yaml:"lessons"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists browser origins accepted on the classroom
	// websocket. Empty accepts same-origin requests only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig selects the implementation for each model-backed service.
// Each entry names a provider registered in the [Registry].
type ProvidersConfig struct {
	// LLM writes lesson scripts.
	LLM ProviderEntry `yaml:"llm"`

	// TTS narrates scripted text.
	TTS ProviderEntry `yaml:"tts"`

	// TTSFallbacks are tried in order while TTS fails or its circuit is open.
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`

	// S2S runs live conversations.
	S2S ProviderEntry `yaml:"s2s"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// TeacherConfig describes the persona children talk to.
type TeacherConfig struct {
	// Name is how the teacher refers to herself. Defaults to "Miss Smart".
	Name string `yaml:"name"`

	// Voice is the narration voice ID.
	Voice string `yaml:"voice"`

	// LiveVoice is the voice requested for live conversations.
	LiveVoice string `yaml:"live_voice"`

	// SpeedFactor adjusts narration rate in [0.5, 2.0]. 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`

	// Mode is the teaching mode used before a unit is picked:
	// "bilingual" or "immersion".
	Mode string `yaml:"mode"`
}

// AudioConfig describes the browser audio format.
type AudioConfig struct {
	// InputRate is the sample rate of microphone frames sent by clients.
	InputRate int `yaml:"input_rate"`

	// OutputRate is the sample rate clients play back at.
	OutputRate int `yaml:"output_rate"`

	// CaptureWindow is the number of 16 kHz samples per outbound live frame.
	CaptureWindow int `yaml:"capture_window"`
}

// LessonsConfig holds script generation and persistence settings.
type LessonsConfig struct {
	// CurriculumFile replaces the built-in curriculum when set.
	CurriculumFile string `yaml:"curriculum_file"`

	// PostgresDSN enables the PostgreSQL script cache and transcript journal.
	// Empty keeps both in process memory.
	PostgresDSN string `yaml:"postgres_dsn"`

	// GenerationTimeout bounds one script generation call.
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
}

// ResilienceConfig tunes the circuit breakers around provider calls.
type ResilienceConfig struct {
	// MaxFailures is the number of consecutive failures that open a circuit.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open circuit waits before probing again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

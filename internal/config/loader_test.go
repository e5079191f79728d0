package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/misssmart/internal/config"
)

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":1234", LogLevel: config.LogError},
		Audio:  config.AudioConfig{InputRate: 16000},
	}
	config.ApplyDefaults(cfg)

	if cfg.Server.ListenAddr != ":1234" || cfg.Server.LogLevel != config.LogError {
		t.Errorf("server overwritten: %+v", cfg.Server)
	}
	if cfg.Audio.InputRate != 16000 {
		t.Errorf("input_rate: got %d, want 16000", cfg.Audio.InputRate)
	}
	if cfg.Audio.OutputRate != config.DefaultOutputRate {
		t.Errorf("output_rate: got %d, want default", cfg.Audio.OutputRate)
	}
}

func TestValidate_UnknownProviderIsOnlyAWarning(t *testing.T) {
	t.Parallel()

	yaml := `
providers:
  llm:
    name: my-private-llm
  tts:
    name: my-private-tts
  s2s:
    name: my-private-s2s
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names should only warn, got: %v", err)
	}
}

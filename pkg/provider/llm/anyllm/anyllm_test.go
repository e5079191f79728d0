package anyllm

import (
	"testing"

	"github.com/MrWong99/misssmart/pkg/provider/llm"
)

// ── convertMessage ────────────────────────────────────────────────────────────

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role    string
		content string
	}{
		{llm.RoleSystem, "You are Miss Smart."},
		{llm.RoleUser, "Write the lesson."},
		{llm.RoleAssistant, `{"warmUp":"Hello!"}`},
	}
	for _, tt := range tests {
		got := convertMessage(llm.Message{Role: tt.role, Content: tt.content})
		if got.Role != tt.role {
			t.Errorf("role = %q; want %q", got.Role, tt.role)
		}
		if got.ContentString() != tt.content {
			t.Errorf("content = %q; want %q", got.ContentString(), tt.content)
		}
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_SystemPromptFirst(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gemini-3-flash-preview"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "sys",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if params.Model != "gemini-3-flash-preview" {
		t.Errorf("model = %q; want gemini-3-flash-preview", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("got %d messages; want 2", len(params.Messages))
	}
	if params.Messages[0].Role != "system" || params.Messages[0].ContentString() != "sys" {
		t.Errorf("first message = %+v; want system prompt", params.Messages[0])
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero temperature and max tokens should be left unset")
	}
}

func TestBuildParams_Limits(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   2048,
	})
	if len(params.Messages) != 1 {
		t.Errorf("got %d messages; want 1 without a system prompt", len(params.Messages))
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v; want 0.7", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 2048 {
		t.Errorf("max tokens = %v; want 2048", params.MaxTokens)
	}
}

// ── New ───────────────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "m"); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("gemini", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("not-a-backend", "m"); err == nil {
		t.Error("expected error for unknown backend")
	}
}

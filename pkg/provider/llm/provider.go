// Package llm defines the Provider interface for the text model that writes
// lesson scripts.
//
// A provider wraps a remote or local model API and returns the full reply in
// one call. Lesson generation never streams, so the interface stays small.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages as a "system" role message.
	SystemPrompt string

	// Messages is the ordered conversation. The last entry is usually the
	// "user" turn that drives the reply.
	Messages []Message

	// Temperature controls randomness. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any text model backend.
type Provider interface {
	// Complete sends req and waits for the full reply. It returns promptly
	// when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

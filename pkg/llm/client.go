// Package llm provides the chat-completion client used by agent runners and
// planners. The HTTP implementation speaks the OpenAI-compatible chat API,
// which covers OpenAI, OpenRouter, Groq, Ollama, vLLM, and similar backends.
package llm

import (
	"context"

	"github.com/taskwave/taskwave/pkg/models"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one chat-completion call.
type Request struct {
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// Response is the model's reply plus accounting.
type Response struct {
	Content      string
	FinishReason string
	Usage        models.TokenUsage
}

// Client is the seam the rest of the system depends on.
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}

// Package ai dispatches chat requests to LLM providers and normalizes their
// streamed output into plain text fragments.
package ai

import (
	"context"

	"daa-assistant/backend/pkg/chat"
)

// ProviderKind names a provider variant.
type ProviderKind string

const (
	KindGemini    ProviderKind = "gemini"
	KindOpenAI    ProviderKind = "openai"
	KindAnthropic ProviderKind = "anthropic"
	KindOllama    ProviderKind = "ollama"
)

// DisplayName is the human-facing provider name used in error fragments.
func (k ProviderKind) DisplayName() string {
	switch k {
	case KindGemini:
		return "Gemini"
	case KindOpenAI:
		return "OpenAI"
	case KindAnthropic:
		return "Claude"
	case KindOllama:
		return "Ollama"
	default:
		return string(k)
	}
}

// Capabilities describes what a provider variant accepts.
type Capabilities struct {
	AcceptsImage bool `json:"accepts_image"`
	AcceptsTools bool `json:"accepts_tools"`
	Streams      bool `json:"streams"`
}

// Request is the provider-neutral prompt built for a single turn.
type Request struct {
	SystemInstruction string
	History           []chat.Message
	NewUserMessage    string
	// Image is base64 data attached to NewUserMessage.
	Image string
	Tools []ToolDeclaration
}

// ModelDescriptor is one entry of the model catalog.
type ModelDescriptor struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"name"`
	Provider    ProviderKind `json:"provider"`
}

// Adapter talks to one provider.
//
// Invoke returns a channel of text fragments that is closed when the response
// is complete. Failures are delivered as a single text fragment, never as a
// panic or a missing close. Cancelling ctx stops production and closes the
// channel; callers that stop reading must cancel ctx.
type Adapter interface {
	Kind() ProviderKind
	Capabilities() Capabilities
	Invoke(ctx context.Context, model string, req Request) <-chan string
	ListModels(ctx context.Context) ([]ModelDescriptor, error)
}

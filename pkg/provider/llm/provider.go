// Package llm defines the Provider interface for the text models that grade
// a finished interview.
//
// A provider wraps a remote or local model API (Gemini, OpenAI, Anthropic, a
// local Ollama instance) behind a single non-streaming Complete call. Report
// generation needs the whole answer before it can be parsed, so streaming is
// not part of the contract.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role identifies the author of a [Message].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// JSONInstruction is appended to the system prompt by providers that have
// no native JSON mode.
const JSONInstruction = "Respond with a single JSON object and nothing else. Do not wrap it in markdown."

// SystemPromptFor returns the system prompt a provider should send for r.
// When the request asks for JSON and native is false, [JSONInstruction] is
// appended.
func (r CompletionRequest) SystemPromptFor(native bool) string {
	if !r.JSON || native {
		return r.SystemPrompt
	}
	if r.SystemPrompt == "" {
		return JSONInstruction
	}
	return r.SystemPrompt + "\n\n" + JSONInstruction
}

// ErrNoMessages is returned by [CompletionRequest.Validate] for a request
// with nothing to answer.
var ErrNoMessages = errors.New("llm: request has no messages")

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role    Role
	Content string
}

// UserMessage is shorthand for a single user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
type CompletionRequest struct {
	// Messages is the ordered conversation. For grading it is a single user
	// turn holding the rendered transcript prompt.
	Messages []Message

	// SystemPrompt is an optional instruction injected before Messages.
	SystemPrompt string

	// Temperature in [0.0, 2.0]. Zero leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// JSON asks the model to answer with a single JSON object. Providers
	// without a native JSON mode fall back to an instruction in the system
	// prompt; callers must still tolerate fenced output.
	JSON bool
}

// Validate reports malformed requests before they reach a backend.
func (r CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("llm: message %d: unknown role %q", i, m.Role)
		}
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("llm: temperature %v out of range [0, 2]", r.Temperature)
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("llm: negative max tokens %d", r.MaxTokens)
	}
	return nil
}

// Clamp lowers MaxTokens to what caps allows.
func (r CompletionRequest) Clamp(caps ModelCapabilities) CompletionRequest {
	if caps.MaxOutputTokens > 0 && r.MaxTokens > caps.MaxOutputTokens {
		r.MaxTokens = caps.MaxOutputTokens
	}
	return r
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the model's reply.
	Content string
	Usage   Usage
}

// ModelCapabilities describes the limits of a grading model.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	MaxOutputTokens int

	// SupportsJSONMode indicates the backend honours [CompletionRequest.JSON]
	// natively rather than through the prompt.
	SupportsJSONMode bool
}

// Provider is the abstraction over any text model backend.
//
// Complete must return promptly once ctx is cancelled.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() ModelCapabilities
}

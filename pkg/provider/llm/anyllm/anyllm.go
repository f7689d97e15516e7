// Package anyllm provides a multi-vendor LLM provider backed by
// github.com/mozilla-ai/any-llm-go. It is the default grading backend: the
// same Gemini API key that drives the live interview also drives analysis.
//
// Usage:
//
//	p, err := anyllm.NewGemini("gemini-3-flash-preview", anyllmlib.WithAPIKey(key))
//	p, err := anyllm.New("ollama", "llama3")
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/Sangini-spec/InterVue-X/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	vendor  string
	model   string
	caps    llm.ModelCapabilities
}

// New creates a Provider for the named vendor: "gemini", "openai",
// "anthropic", "mistral" or "ollama".
//
// opts are any-llm-go options (anyllmlib.WithAPIKey, anyllmlib.WithBaseURL).
// Without an API key option the vendor's environment variable is used
// (GEMINI_API_KEY, OPENAI_API_KEY, ...).
func New(vendor, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if vendor == "" {
		return nil, fmt.Errorf("anyllm: vendor must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	vendor = strings.ToLower(vendor)
	backend, err := createBackend(vendor, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", vendor, err)
	}

	return &Provider{
		backend: backend,
		vendor:  vendor,
		model:   model,
		caps:    modelCapabilities(model),
	}, nil
}

// NewGemini creates a Provider backed by Google Gemini.
func NewGemini(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("gemini", model, opts...)
}

// NewOllama creates a Provider backed by a local Ollama server.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

func createBackend(vendor string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch vendor {
	case "gemini":
		return gemini.New(opts...)
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	}
	return nil, fmt.Errorf("unsupported vendor %q; supported: gemini, openai, anthropic, mistral, ollama", vendor)
}

// Complete sends one grading request. JSON output is requested through the
// system prompt, since any-llm-go has no portable JSON mode.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("anyllm: %w", err)
	}
	resp, err := p.backend.Completion(ctx, p.buildParams(req.Clamp(p.caps)))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.vendor, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s response has no choices", p.vendor)
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// Capabilities returns the limits of the configured model.
func (p *Provider) Capabilities() llm.ModelCapabilities { return p.caps }

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if sys := req.SystemPromptFor(p.caps.SupportsJSONMode); sys != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: sys})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{Role: string(m.Role), Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: messages}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

// modelCapabilities returns limits for the model families used for grading.
// Unknown models receive conservative defaults.
func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		ContextWindow:   128_000,
		MaxOutputTokens: 4_096,
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gemini-3"), strings.HasPrefix(lower, "gemini-2.5"):
		caps.ContextWindow = 1_048_576
		caps.MaxOutputTokens = 65_536
	case strings.HasPrefix(lower, "gemini-2.0"):
		caps.ContextWindow = 1_048_576
		caps.MaxOutputTokens = 8_192
	case strings.HasPrefix(lower, "gemini"):
		caps.MaxOutputTokens = 8_192
	case strings.HasPrefix(lower, "gpt-4o"):
		caps.MaxOutputTokens = 16_384
	case strings.HasPrefix(lower, "claude"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 8_192
	}
	return caps
}

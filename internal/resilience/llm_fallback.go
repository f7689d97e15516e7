package resilience

import (
	"context"
	"errors"
	"strings"

	"github.com/Sangini-spec/InterVue-X/pkg/provider/llm"
)

// ErrEmptyCompletion is the failure recorded against a backend that answers
// with no text. An empty grading answer is worthless, so the next backend is
// tried and the breaker counts it like any other error.
var ErrEmptyCompletion = errors.New("resilience: empty completion")

// LLMFallback is an [llm.Provider] that fails over across grading backends,
// each behind its own circuit breaker.
type LLMFallback struct {
	group    *FallbackGroup[llm.Provider]
	backends []llm.Provider
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group:    NewFallbackGroup(primary, primaryName, cfg),
		backends: []llm.Provider{primary},
	}
}

// AddFallback registers another backend. Call it during setup only.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
	f.backends = append(f.backends, provider)
}

// Complete returns the first non-empty response in registration order.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return nil, ErrEmptyCompletion
		}
		return resp, nil
	})
}

// Capabilities reports the primary's limits. JSON mode is advertised only
// when every backend supports it, since any of them may end up answering.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	caps := f.group.Primary().Capabilities()
	for _, b := range f.backends[1:] {
		if !b.Capabilities().SupportsJSONMode {
			caps.SupportsJSONMode = false
			break
		}
	}
	return caps
}

// Package mock provides a scripted grading model for tests.
//
//	p := &mock.Provider{
//	    Answers: []string{"", `{"score": 80}`},
//	}
//
// The first Complete returns an empty answer, the second a report, and every
// later call falls back to CompleteResponse.
package mock

import (
	"context"
	"sync"

	"github.com/Sangini-spec/InterVue-X/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock [llm.Provider]. The zero value answers (nil, nil).
type Provider struct {
	mu sync.Mutex

	// Answers are returned as response content, one per call, before
	// CompleteResponse is used.
	Answers []string

	// CompleteResponse is returned once Answers is exhausted. May be nil.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned by every call and takes precedence
	// over Answers.
	CompleteErr error

	// Block, if non-nil, makes Complete wait until it is closed or ctx is done.
	Block chan struct{}

	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the next scripted answer.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	block := p.Block
	resp, err := p.CompleteResponse, p.CompleteErr
	if err == nil && len(p.Answers) > 0 {
		resp = &llm.CompletionResponse{Content: p.Answers[0]}
		p.Answers = p.Answers[1:]
	}
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns a copy of the recorded Complete calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CompleteCall(nil), p.CompleteCalls...)
}

// Prompts returns the content of the last message of every recorded call,
// which for grading requests is the rendered transcript prompt.
func (p *Provider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.CompleteCalls))
	for _, c := range p.CompleteCalls {
		if n := len(c.Req.Messages); n > 0 {
			out = append(out, c.Req.Messages[n-1].Content)
		}
	}
	return out
}

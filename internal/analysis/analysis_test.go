package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Sangini-spec/InterVue-X/pkg/provider/llm"
	llmmock "github.com/Sangini-spec/InterVue-X/pkg/provider/llm/mock"
)

func TestPrompt_Defaults(t *testing.T) {
	t.Parallel()

	got := Prompt(Request{Transcript: "No transcript available."})
	if !strings.HasPrefix(got, "Analyze this interview transcript for a Software Engineer role.\nRound: Technical\n") {
		t.Errorf("prompt prefix = %q", got)
	}
	if !strings.Contains(got, "Transcript: No transcript available.\n\nOutput JSON:\n") {
		t.Errorf("prompt missing transcript section: %q", got)
	}
	if !strings.Contains(got, `"communicationStyle": "string"`) {
		t.Errorf("prompt missing schema: %q", got)
	}
}

func TestPrompt_UsesRoleAndRound(t *testing.T) {
	t.Parallel()

	got := Prompt(Request{Role: "Backend Engineer", Round: "System Design", Transcript: "Candidate: hi"})
	if !strings.Contains(got, "for a Backend Engineer role.") || !strings.Contains(got, "Round: System Design") {
		t.Errorf("prompt = %q", got)
	}
}

func TestParseReport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		wantScore int
		wantErr   bool
	}{
		{"plain", `{"score": 78, "feedback": "good", "strengths": ["clear"], "improvements": [], "technicalAccuracy": "high", "communicationStyle": "calm"}`, 78, false},
		{"fenced", "```json\n{\"score\": 64, \"feedback\": \"ok\"}\n```", 64, false},
		{"fractional", `{"score": 71.6}`, 72, false},
		{"clamped high", `{"score": 140}`, 100, false},
		{"clamped low", `{"score": -3}`, 0, false},
		{"empty", "   ", 0, true},
		{"garbage", "I cannot grade this.", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseReport(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if r.Score != tt.wantScore {
				t.Errorf("Score = %d, want %d", r.Score, tt.wantScore)
			}
			if r.Strengths == nil || r.Improvements == nil {
				t.Error("nil slices in parsed report")
			}
		})
	}
}

func TestParseReport_Fields(t *testing.T) {
	t.Parallel()

	r, err := ParseReport(`{"score": 90, "feedback": "Strong.", "strengths": ["a", "b"], "improvements": ["c"], "technicalAccuracy": "High", "communicationStyle": "Concise"}`)
	if err != nil {
		t.Fatalf("ParseReport: %v", err)
	}
	if r.Feedback != "Strong." || len(r.Strengths) != 2 || len(r.Improvements) != 1 ||
		r.TechnicalAccuracy != "High" || r.CommunicationStyle != "Concise" {
		t.Errorf("report = %+v", r)
	}
}

func TestFallbackReport(t *testing.T) {
	t.Parallel()

	r := FallbackReport()
	if r.Score != 0 || r.Feedback != "Analysis failed." || r.TechnicalAccuracy != "N/A" || r.CommunicationStyle != "N/A" {
		t.Errorf("FallbackReport() = %+v", r)
	}
}

func TestLLMAnalyzer_Analyze(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{"score": 81, "feedback": "Solid."}`}}
	a := NewLLMAnalyzer(p)

	r, err := a.Analyze(context.Background(), Request{Role: "SRE", Transcript: "Candidate: I use Go."})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if r.Score != 81 || r.Feedback != "Solid." {
		t.Errorf("report = %+v", r)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("Complete calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if !req.JSON {
		t.Error("request not in JSON mode")
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser {
		t.Errorf("messages = %+v, want one user turn", req.Messages)
	}
	if prompts := p.Prompts(); len(prompts) != 1 || !strings.Contains(prompts[0], "Candidate: I use Go.") {
		t.Errorf("prompts = %q, want the transcript", prompts)
	}
}

func TestLLMAnalyzer_ProviderError(t *testing.T) {
	t.Parallel()

	boom := errors.New("quota")
	a := NewLLMAnalyzer(&llmmock.Provider{CompleteErr: boom})
	if _, err := a.Analyze(context.Background(), Request{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped quota error", err)
	}
}

func TestLLMAnalyzer_Timeout(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Block: make(chan struct{})}
	a := NewLLMAnalyzer(p, WithTimeout(20*time.Millisecond))
	if _, err := a.Analyze(context.Background(), Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

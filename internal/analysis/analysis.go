// Package analysis grades a finished interview from its transcript.
//
// The transcript is rendered as plain text and sent to a text model with a
// fixed prompt asking for a JSON report. A failed or unparsable answer is
// not an error for the caller's session: [FallbackReport] stands in for it.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Sangini-spec/InterVue-X/internal/observe"
	"github.com/Sangini-spec/InterVue-X/pkg/provider/llm"
)

const (
	// DefaultRole is used when the session config has no role.
	DefaultRole = "Software Engineer"

	// DefaultRound is used when the session config has no round.
	DefaultRound = "Technical"

	// DefaultTimeout bounds a single grading call.
	DefaultTimeout = 60 * time.Second
)

// Report is the graded outcome of one interview.
type Report struct {
	Score              int      `json:"score"`
	Feedback           string   `json:"feedback"`
	Strengths          []string `json:"strengths"`
	Improvements       []string `json:"improvements"`
	TechnicalAccuracy  string   `json:"technicalAccuracy"`
	CommunicationStyle string   `json:"communicationStyle"`
}

// FallbackReport is the report used when grading fails.
func FallbackReport() Report {
	return Report{
		Score:              0,
		Feedback:           "Analysis failed.",
		Strengths:          []string{},
		Improvements:       []string{},
		TechnicalAccuracy:  "N/A",
		CommunicationStyle: "N/A",
	}
}

// Request is the input to an [Analyzer].
type Request struct {
	SessionID string
	Role      string
	Round     string

	// Transcript is the plain-text rendering of the session's turns.
	Transcript string
}

// Analyzer grades interviews.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Report, error)
}

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("analysis: empty model response")

// ── LLMAnalyzer ───────────────────────────────────────────────────────────────

// Option configures an [LLMAnalyzer].
type Option func(*LLMAnalyzer)

// WithTimeout overrides [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(a *LLMAnalyzer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMetrics records grading latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *LLMAnalyzer) { a.metrics = m }
}

// LLMAnalyzer grades with a text model.
type LLMAnalyzer struct {
	provider llm.Provider
	timeout  time.Duration
	metrics  *observe.Metrics
}

var _ Analyzer = (*LLMAnalyzer)(nil)

// NewLLMAnalyzer returns an analyzer backed by provider.
func NewLLMAnalyzer(provider llm.Provider, opts ...Option) *LLMAnalyzer {
	a := &LLMAnalyzer{provider: provider, timeout: DefaultTimeout}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze sends the grading prompt and parses the model's JSON answer.
func (a *LLMAnalyzer) Analyze(ctx context.Context, req Request) (Report, error) {
	ctx, span := observe.StartSpan(ctx, "analysis.analyze")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{llm.UserMessage(Prompt(req))},
		Temperature: 0.2,
		JSON:        true,
	})
	if a.metrics != nil {
		a.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		return Report{}, fmt.Errorf("analysis: complete: %w", err)
	}

	report, err := ParseReport(resp.Content)
	if err != nil {
		span.RecordError(err)
		return Report{}, err
	}
	return report, nil
}

// Prompt renders the grading prompt for req.
func Prompt(req Request) string {
	role := orDefault(req.Role, DefaultRole)
	round := orDefault(req.Round, DefaultRound)

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this interview transcript for a %s role.\n", role)
	fmt.Fprintf(&b, "Round: %s\n", round)
	fmt.Fprintf(&b, "Transcript: %s\n\n", req.Transcript)
	b.WriteString("Output JSON:\n")
	b.WriteString(`{ "score": number, "feedback": "string", "strengths": ["string"], "improvements": ["string"], "technicalAccuracy": "string", "communicationStyle": "string" }`)
	return b.String()
}

// ParseReport decodes a model answer. Markdown code fences around the JSON
// object are tolerated. Scores are clamped to [0, 100].
func ParseReport(text string) (Report, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		return Report{}, ErrEmptyResponse
	}
	if i, j := strings.Index(body, "{"), strings.LastIndex(body, "}"); i >= 0 && j > i {
		body = body[i : j+1]
	}

	// Models sometimes answer with a fractional score.
	var w struct {
		Report
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return Report{}, fmt.Errorf("analysis: decode report: %w", err)
	}
	r := w.Report
	r.Score = min(max(int(math.Round(w.Score)), 0), 100)
	if r.Strengths == nil {
		r.Strengths = []string{}
	}
	if r.Improvements == nil {
		r.Improvements = []string{}
	}
	return r, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

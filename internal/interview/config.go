package interview

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sangini-spec/InterVue-X/internal/analysis"
)

// Round labels with special handling. Any other non-empty label is a
// free-form technical round.
const (
	RoundCoding       = "Coding"
	RoundSystemDesign = "System Design"
	RoundSalary       = "Salary Negotiation"

	// RoundTechnical is used when no round is given.
	RoundTechnical = analysis.DefaultRound
)

// DefaultDuration is the session length when the caller gives none.
const DefaultDuration = 15 * time.Minute

// Persona is an interviewer identity: who the agent claims to be and which
// provider voice speaks for it.
type Persona struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Voice string `json:"voice" yaml:"voice"`
}

// DefaultPersonas returns the built-in interviewers.
func DefaultPersonas() []Persona {
	return []Persona{
		{ID: "emma", Name: "Dr. Emma", Voice: "Kore"},
		{ID: "john", Name: "Dr. John", Voice: "Fenrir"},
	}
}

// DefaultPersonaID is the persona used when the caller names none.
const DefaultPersonaID = "emma"

// LookupPersona returns the persona with the given id. An empty id selects
// [DefaultPersonaID]. An unknown id is a [*ConfigError].
func LookupPersona(personas []Persona, id string) (Persona, error) {
	if id == "" {
		id = DefaultPersonaID
	}
	for _, p := range personas {
		if strings.EqualFold(p.ID, id) {
			return p, nil
		}
	}
	return Persona{}, &ConfigError{Err: fmt.Errorf("unknown persona %q", id)}
}

// SalaryContext carries the offer under negotiation in a salary round.
// Amounts are kept as entered.
type SalaryContext struct {
	Current  string `json:"current"`
	Offered  string `json:"offered"`
	Desired  string `json:"desired"`
	Currency string `json:"currency"`
}

// Config is the immutable input of one session. It is copied at start and
// never mutated while the session runs.
type Config struct {
	Role       string
	Difficulty string
	Round      string
	Duration   time.Duration
	Persona    Persona

	// Optional context handed to the interviewer.
	ResumeText     string
	Company        string
	JobDescription string

	// FirstQuestion is the title of the opening problem in a coding round.
	FirstQuestion string

	// Salary is required when Round is [RoundSalary].
	Salary *SalaryContext
}

// ConfigError rejects a session before it starts connecting.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "interview: invalid config: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// Validate checks that cfg can start a session. All problems are reported
// together in a single [*ConfigError].
func (cfg Config) Validate() error {
	var errs []error
	if cfg.Duration <= 0 {
		errs = append(errs, errors.New("duration must be positive"))
	}
	if cfg.Persona.Name == "" {
		errs = append(errs, errors.New("persona name must not be empty"))
	}
	if cfg.Persona.Voice == "" {
		errs = append(errs, errors.New("persona voice must not be empty"))
	}
	if cfg.Round == RoundSalary {
		switch {
		case cfg.Salary == nil:
			errs = append(errs, errors.New("salary round requires salary context"))
		case cfg.Salary.Offered == "" || cfg.Salary.Desired == "":
			errs = append(errs, errors.New("salary context requires offered and desired amounts"))
		}
	}
	if len(errs) > 0 {
		return &ConfigError{Err: errors.Join(errs...)}
	}
	return nil
}

func (cfg Config) role() string {
	if cfg.Role == "" {
		return analysis.DefaultRole
	}
	return cfg.Role
}

func (cfg Config) round() string {
	if cfg.Round == "" {
		return RoundTechnical
	}
	return cfg.Round
}

// Instructions builds the system instruction sent in the handshake.
func (cfg Config) Instructions() string {
	name := cfg.Persona.Name

	if cfg.Round == RoundSalary && cfg.Salary != nil {
		s := cfg.Salary
		cur := s.Currency
		return fmt.Sprintf(
			"You are %s, a Hiring Manager. OFFER DETAILS: Role: %s, Offered: %s%s, Current: %s%s, Desired: %s%s. Goal: Negotiate budget limit %s%s.",
			name, cfg.role(), cur, s.Offered, cur, s.Current, cur, s.Desired, cur, s.Desired,
		)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a technical interviewer. Role: %s. Round: %s.", name, cfg.role(), cfg.round())
	if cfg.Difficulty != "" {
		fmt.Fprintf(&b, " Difficulty: %s.", cfg.Difficulty)
	}
	if cfg.Round == RoundCoding && cfg.FirstQuestion != "" {
		fmt.Fprintf(&b, " Conduct %d min coding interview. Q1: %q.", int(cfg.Duration/time.Minute), cfg.FirstQuestion)
	}
	if cfg.ResumeText != "" {
		fmt.Fprintf(&b, "\n\nCANDIDATE RESUME:\n%s\nAsk specific intro questions.", cfg.ResumeText)
	}
	if cfg.Company != "" && cfg.JobDescription != "" {
		fmt.Fprintf(&b, "\n\nCONTEXT:\nCompany: %s\nJob: %s\n", cfg.Company, cfg.JobDescription)
	}
	return b.String()
}

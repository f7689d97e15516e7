// Package transcript keeps the ordered log of what was said during an
// interview session.
//
// The [Accumulator] is append-only. Fragments arrive from the transport as a
// stream of partial updates and are stored exactly as handed over; ordering
// is by arrival, recorded in [Turn.Seq], never by timestamp.
package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Speaker identifies which side of the interview produced a turn.
type Speaker int

const (
	// Candidate is the user being interviewed.
	Candidate Speaker = iota + 1

	// Agent is the remote interviewer persona.
	Agent
)

// String returns the speaker kind in lower case.
func (s Speaker) String() string {
	switch s {
	case Candidate:
		return "candidate"
	case Agent:
		return "agent"
	default:
		return "unknown"
	}
}

// MarshalText encodes the speaker as its [Speaker.String] form.
func (s Speaker) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses the form written by [Speaker.MarshalText].
func (s *Speaker) UnmarshalText(b []byte) error {
	switch string(b) {
	case "candidate":
		*s = Candidate
	case "agent":
		*s = Agent
	default:
		return fmt.Errorf("transcript: unknown speaker %q", b)
	}
	return nil
}

// CandidateLabel is the display label used for candidate turns.
const CandidateLabel = "Candidate"

// EmptyText is what [Accumulator.Text] renders for a session with no turns.
const EmptyText = "No transcript available."

// Turn is one transcript fragment.
type Turn struct {
	// Seq is the 1-based arrival order within the session.
	Seq uint64 `json:"seq"`

	Speaker Speaker `json:"speaker"`

	// Label is the display name: [CandidateLabel] or the interviewer's name.
	Label string `json:"label"`

	Text string `json:"text"`

	// At is the session-relative time the fragment was appended.
	At time.Duration `json:"at"`
}

// Accumulator is the append-only transcript for one session. It is safe for
// concurrent use.
type Accumulator struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append records a fragment and returns it with its sequence number assigned.
func (a *Accumulator) Append(speaker Speaker, label, text string, at time.Duration) Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := Turn{
		Seq:     uint64(len(a.turns)) + 1,
		Speaker: speaker,
		Label:   label,
		Text:    text,
		At:      at,
	}
	a.turns = append(a.turns, t)
	return t
}

// Turns returns a copy of every turn in arrival order.
func (a *Accumulator) Turns() []Turn {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Turn, len(a.turns))
	copy(out, a.turns)
	return out
}

// Len returns the number of turns.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.turns)
}

// Text renders the transcript as "label: text" lines in arrival order, or
// [EmptyText] when nothing was recorded.
func (a *Accumulator) Text() string {
	return Render(a.Turns())
}

// Render formats turns the way [Accumulator.Text] does.
func Render(turns []Turn) string {
	if len(turns) == 0 {
		return EmptyText
	}
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.Label)
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}

// Reset discards every turn. Sequence numbers restart at 1.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turns = nil
}

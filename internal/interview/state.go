package interview

import "fmt"

// State is a session lifecycle state.
type State int

const (
	Idle State = iota
	Connecting
	Active
	Ending
	Finished
	Failed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Ending:
		return "ending"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state as its [State.String] form.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether s is Finished or Failed.
func (s State) Terminal() bool { return s == Finished || s == Failed }

// UnmarshalText parses a state name produced by [State.MarshalText].
func (s *State) UnmarshalText(b []byte) error {
	for st := Idle; st <= Failed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("interview: unknown state %q", b)
}

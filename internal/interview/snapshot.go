package interview

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Sangini-spec/InterVue-X/internal/analysis"
)

// FinalMinute is how long before the duration budget the snapshot raises
// FinalMinute.
const FinalMinute = time.Minute

// Snapshot is a read-only view of the current session for observers.
type Snapshot struct {
	ID      string `json:"id,omitempty"`
	State   State  `json:"state"`
	Persona string `json:"persona,omitempty"`

	Elapsed         time.Duration `json:"-"`
	ElapsedSeconds  int           `json:"elapsed_seconds"`
	Duration        time.Duration `json:"-"`
	DurationSeconds int           `json:"duration_seconds"`

	// Speaking is SpeakingCount > 0: agent audio is audible right now.
	Speaking      bool `json:"speaking"`
	SpeakingCount int  `json:"speaking_count"`

	Muted       bool `json:"muted"`
	FinalMinute bool `json:"final_minute"`

	// ReportReady is set once post-session analysis has completed.
	ReportReady bool `json:"report_ready"`

	// EndReason says why a finished session ended: "stopped",
	// "duration reached", "remote closed: ..." or "stream ended".
	EndReason string `json:"end_reason,omitempty"`

	// Error describes why the session failed.
	Error string `json:"error,omitempty"`
}

// board holds the latest snapshot and report and fans snapshots out to
// subscribers. Each subscriber channel holds at most one snapshot; a slow
// reader only ever sees the most recent one.
type board struct {
	mu     sync.RWMutex
	snap   Snapshot
	report *analysis.Report
	subs   []chan Snapshot
}

func (b *board) publish(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s == b.snap {
		return
	}
	b.snap = s
	for _, ch := range b.subs {
		offer(ch, s)
	}
}

func offer(ch chan Snapshot, s Snapshot) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

func (b *board) current() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}

func (b *board) setReport(r *analysis.Report) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report = r
}

func (b *board) getReport() (analysis.Report, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.report == nil {
		return analysis.Report{}, false
	}
	return *b.report, true
}

func (b *board) subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	ch <- b.snap
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs = slices.DeleteFunc(b.subs, func(c chan Snapshot) bool { return c == ch })
			close(ch)
		})
	}
}

// Subscribe returns a channel that receives the current snapshot and then
// every change. Intermediate snapshots may be skipped when the reader is
// slow. Call cancel to unsubscribe; it closes the channel.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	return e.board.subscribe()
}

// Snapshot returns the latest published snapshot.
func (e *Engine) Snapshot() Snapshot {
	return e.board.current()
}

// Report returns the analysis report of the last finished session.
func (e *Engine) Report() (analysis.Report, bool) {
	return e.board.getReport()
}

// WaitFor blocks until the published state is one of states or ctx is done.
func (e *Engine) WaitFor(ctx context.Context, states ...State) (Snapshot, error) {
	ch, cancel := e.Subscribe()
	defer cancel()
	for {
		select {
		case s := <-ch:
			if slices.Contains(states, s.State) {
				return s, nil
			}
		case <-ctx.Done():
			return e.Snapshot(), ctx.Err()
		}
	}
}

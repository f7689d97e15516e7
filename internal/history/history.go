// Package history stores a summary of every finished interview so past
// sessions can be listed and reviewed.
package history

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sangini-spec/InterVue-X/internal/analysis"
	"github.com/Sangini-spec/InterVue-X/internal/transcript"
)

// ErrNotFound is returned by [Store.Get] for an unknown record id.
var ErrNotFound = errors.New("history: record not found")

// Record is the persisted summary of one session.
type Record struct {
	ID              string            `json:"id"`
	Date            time.Time         `json:"date"`
	Role            string            `json:"role"`
	Round           string            `json:"round"`
	Persona         string            `json:"persona"`
	DurationSeconds int               `json:"duration_seconds"`
	State           string            `json:"state"`
	Score           int               `json:"score"`
	Feedback        string            `json:"feedback"`
	Report          *analysis.Report  `json:"report,omitempty"`
	Turns           []transcript.Turn `json:"turns,omitempty"`
}

// Store persists records. Implementations must be safe for concurrent use.
type Store interface {
	// Save inserts rec, replacing any record with the same id. An empty id
	// is assigned a new UUID and a zero Date is set to the current time.
	Save(ctx context.Context, rec *Record) error

	// List returns records newest first. A limit <= 0 returns all of them.
	List(ctx context.Context, limit int) ([]Record, error)

	// Get returns the record with the given id or [ErrNotFound].
	Get(ctx context.Context, id string) (Record, error)
}

// Prepare fills the id and date of rec when they are unset.
func Prepare(rec *Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Date.IsZero() {
		rec.Date = time.Now().UTC()
	}
}

// ── MemoryStore ───────────────────────────────────────────────────────────────

// MemoryStore is an in-process [Store]. Records are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save implements [Store].
func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	Prepare(rec)
	cp := *rec
	cp.Turns = slices.Clone(rec.Turns)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = slices.DeleteFunc(s.records, func(r Record) bool { return r.ID == cp.ID })
	s.records = append(s.records, cp)
	return nil
}

// List implements [Store]. Records saved with the same date are returned in
// reverse insertion order.
func (s *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	out := slices.Clone(s.records)
	s.mu.RUnlock()

	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b Record) int {
		return cmp.Compare(b.Date.UnixNano(), a.Date.UnixNano())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			r.Turns = slices.Clone(r.Turns)
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}

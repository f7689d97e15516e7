package history_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sangini-spec/InterVue-X/internal/analysis"
	"github.com/Sangini-spec/InterVue-X/internal/history"
	"github.com/Sangini-spec/InterVue-X/internal/transcript"
)

func TestFileStore_PersistsAcrossOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.jsonl")

	s, err := history.OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	old := &history.Record{ID: "a", Date: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), Role: "SRE", Score: 60}
	report := analysis.Report{Score: 81, Feedback: "Clear answers."}
	newer := &history.Record{
		ID:     "b",
		Date:   time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC),
		Role:   "Backend Engineer",
		Score:  81,
		Report: &report,
		Turns:  []transcript.Turn{{Seq: 1, Speaker: transcript.Agent, Label: "Dr. Emma", Text: "Welcome."}},
	}
	for _, rec := range []*history.Record{old, newer} {
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save(%s): %v", rec.ID, err)
		}
	}

	reopened, err := history.OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("List() = %+v, want b then a", got)
	}
	if got[0].Report == nil || got[0].Report.Feedback != "Clear answers." {
		t.Errorf("report = %+v, want it restored", got[0].Report)
	}
	if len(got[0].Turns) != 1 || got[0].Turns[0].Text != "Welcome." {
		t.Errorf("turns = %+v, want one restored turn", got[0].Turns)
	}
}

func TestFileStore_LaterLineReplaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.jsonl")

	s, err := history.OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	if err := s.Save(ctx, &history.Record{ID: "a", Score: 10}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, &history.Record{ID: "a", Score: 90}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := history.OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rec, err := reopened.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Score != 90 {
		t.Errorf("score = %d, want 90", rec.Score)
	}
	if all, _ := reopened.List(ctx, 0); len(all) != 1 {
		t.Errorf("len(List()) = %d, want 1", len(all))
	}
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	s, err := history.OpenFileStore(filepath.Join(t.TempDir(), "none.jsonl"))
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	if _, err := s.Get(context.Background(), "x"); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestFileStore_CorruptLine(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	if err := os.WriteFile(path, []byte("{\"id\":\"a\"}\nnot json\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := history.OpenFileStore(path)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("OpenFileStore() error = %v, want line 2 error", err)
	}
}

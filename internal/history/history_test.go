package history

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndList(t *testing.T) {
	j := openTestJournal(t)

	entries := []*Entry{
		{PID: 100, Kind: "connection_issue", Recovery: "connection", Attempt: 1, Message: "Recovering (connection, attempt 1)"},
		{PID: 100, Kind: "general_error", Recovery: "stuck", Attempt: 2},
		{PID: 200, Kind: "connection_issue", Recovery: "connection", Attempt: 1},
	}
	for _, e := range entries {
		if err := j.Record(e); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if e.ID == 0 {
			t.Error("Record did not set entry ID")
		}
		if e.RecordedAt.IsZero() {
			t.Error("Record did not stamp RecordedAt")
		}
	}

	all, err := j.ListRecent(0, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	// Newest first.
	if all[0].PID != 200 {
		t.Errorf("newest entry pid = %d, want 200", all[0].PID)
	}

	forPid, err := j.ListRecent(100, 10)
	if err != nil {
		t.Fatalf("ListRecent(100): %v", err)
	}
	if len(forPid) != 2 {
		t.Errorf("len(forPid) = %d, want 2", len(forPid))
	}
	for _, e := range forPid {
		if e.PID != 100 {
			t.Errorf("filtered list contains pid %d", e.PID)
		}
	}
}

func TestListRecentLimit(t *testing.T) {
	j := openTestJournal(t)
	for i := 0; i < 5; i++ {
		if err := j.Record(&Entry{PID: 1, Kind: "general_error", Attempt: i + 1}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := j.ListRecent(0, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
	if got[0].Attempt != 5 {
		t.Errorf("newest attempt = %d, want 5", got[0].Attempt)
	}
}

func TestListRecentEmptyJournal(t *testing.T) {
	j := openTestJournal(t)
	got, err := j.ListRecent(0, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestPrune(t *testing.T) {
	j := openTestJournal(t)

	old := &Entry{PID: 1, Kind: "connection_issue", RecordedAt: time.Now().UTC().Add(-48 * time.Hour)}
	recent := &Entry{PID: 1, Kind: "connection_issue"}
	if err := j.Record(old); err != nil {
		t.Fatalf("Record old: %v", err)
	}
	if err := j.Record(recent); err != nil {
		t.Fatalf("Record recent: %v", err)
	}

	n, err := j.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d entries, want 1", n)
	}

	remaining, err := j.ListRecent(0, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != recent.ID {
		t.Errorf("remaining = %+v, want only the recent entry", remaining)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("Open accepted empty path")
	}
}

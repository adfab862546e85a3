package report

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenAt(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("OpenAt: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	first, err := s.Record(Entry{
		FlowID:          "aaaa1111",
		Scenario:        "token-install",
		StartedAt:       base,
		Duration:        42 * time.Second,
		OAuthCompleted:  true,
		StateProvenance: "redirected-query",
		TokenInstalled:  true,
		SawSuccess:      true,
		ExitCode:        0,
		Passed:          true,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if first.ID == 0 {
		t.Error("Record() assigned ID = 0")
	}

	if _, err := s.Record(Entry{
		FlowID:     "bbbb2222",
		Scenario:   "login",
		StartedAt:  base.Add(time.Minute),
		TimedOut:   true,
		ExitCode:   -1,
		OutputTail: "deadline exceeded",
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent() returned %d entries, want 2", len(entries))
	}
	if entries[0].FlowID != "bbbb2222" {
		t.Errorf("Recent()[0].FlowID = %q, want newest first", entries[0].FlowID)
	}

	got := entries[1]
	if got.Scenario != "token-install" || !got.OAuthCompleted || !got.Passed {
		t.Errorf("round-tripped entry = %+v", got)
	}
	if got.StateProvenance != "redirected-query" {
		t.Errorf("StateProvenance = %q, want redirected-query", got.StateProvenance)
	}
	if !got.StartedAt.Equal(base) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, base)
	}
	if got.Duration != 42*time.Second {
		t.Errorf("Duration = %v, want 42s", got.Duration)
	}
}

func TestStore_RecordValidation(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Record(Entry{Scenario: "login"}); err == nil {
		t.Error("Record() without flow id = nil error")
	}
	if _, err := s.Record(Entry{FlowID: "aaaa1111"}); err == nil {
		t.Error("Record() without scenario = nil error")
	}
}

func TestStore_PassRate(t *testing.T) {
	s := openTestStore(t)

	add := func(scenario string, passed bool) {
		t.Helper()
		if _, err := s.Record(Entry{FlowID: "f", Scenario: scenario, Passed: passed}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	add("login", true)
	add("login", false)
	add("token-install", true)

	passed, total, err := s.PassRate("login")
	if err != nil {
		t.Fatalf("PassRate: %v", err)
	}
	if passed != 1 || total != 2 {
		t.Errorf("PassRate(login) = (%d, %d), want (1, 2)", passed, total)
	}

	passed, total, err = s.PassRate("")
	if err != nil {
		t.Fatalf("PassRate: %v", err)
	}
	if passed != 2 || total != 3 {
		t.Errorf("PassRate() = (%d, %d), want (2, 3)", passed, total)
	}
}

func TestStore_NotOpen(t *testing.T) {
	var s *Store
	if _, err := s.Record(Entry{FlowID: "f", Scenario: "login"}); err == nil {
		t.Error("Record() on nil store = nil error")
	}
	if _, err := s.Recent(5); err == nil {
		t.Error("Recent() on nil store = nil error")
	}
}

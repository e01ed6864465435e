package audit

import (
	"testing"
	"time"

	"github.com/ehrlich-b/jail/internal/jail"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndRunsForSession(t *testing.T) {
	l := openTestLog(t)
	now := time.Now().UTC().Truncate(time.Second)

	e := Entry{
		ID:         "run-1",
		SessionID:  "sess-abc",
		Command:    "python",
		Result:     jail.Result{Status: 0, Stdout: []byte("hi"), TimeLimitExceeded: false},
		Limits:     jail.Profile{CPU: 1, Time: 5, Memory: 30_000_000},
		StartedAt:  now,
		FinishedAt: now.Add(2 * time.Second),
	}
	if err := l.Record(e); err != nil {
		t.Fatalf("Record: %v", err)
	}

	runs, err := l.RunsForSession("sess-abc")
	if err != nil {
		t.Fatalf("RunsForSession: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].ID != "run-1" || runs[0].Command != "python" {
		t.Errorf("unexpected run: %+v", runs[0])
	}
}

func TestRunsForUnknownSessionIsEmpty(t *testing.T) {
	l := openTestLog(t)
	runs, err := l.RunsForSession("nope")
	if err != nil {
		t.Fatalf("RunsForSession: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
}

func TestRecordCapturesTimeLimitExceeded(t *testing.T) {
	l := openTestLog(t)
	now := time.Now().UTC()
	e := Entry{
		ID:         "run-tle",
		SessionID:  "sess-xyz",
		Command:    "sh",
		Result:     jail.Result{Status: jail.KilledBySignalStatus, TimeLimitExceeded: true},
		Limits:     jail.Profile{Time: 1},
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
	}
	if err := l.Record(e); err != nil {
		t.Fatalf("Record: %v", err)
	}
	runs, err := l.RunsForSession("sess-xyz")
	if err != nil || len(runs) != 1 {
		t.Fatalf("RunsForSession: runs=%v err=%v", runs, err)
	}
	if !runs[0].Result.TimeLimitExceeded {
		t.Error("expected TimeLimitExceeded to round-trip through the database")
	}
}

package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bryanwahyu/vscanbot/internal/domain/scanlog"
)

func newTestRepo(t *testing.T) *ScanLogRepository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	r, err := NewScanLogRepository(t.Context(), db)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	return r
}

func TestSaveAndLatest(t *testing.T) {
	r := newTestRepo(t)
	ctx := t.Context()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []*scanlog.Entry{
		{RequestID: "r1", Kind: "url", Subject: "https://a.example", Outcome: scanlog.OutcomeVerdicted, Severity: "safe", TotalEngines: 70, CreatedAt: base},
		{RequestID: "r2", Kind: "file", Subject: "x.pdf", Outcome: scanlog.OutcomeFailed, ErrorKind: "rate_limited", ErrorMessage: "quota", CreatedAt: base.Add(time.Minute)},
		{RequestID: "r3", Kind: "url", Subject: "https://b.example", Outcome: scanlog.OutcomeVerdicted, Severity: "malicious", Malicious: 5, TotalEngines: 70, ReportLink: "https://www.virustotal.com/gui/url/ab", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := r.Save(ctx, e); err != nil {
			t.Fatalf("Save %s: %v", e.RequestID, err)
		}
		if e.ID == 0 {
			t.Errorf("Save %s did not set ID", e.RequestID)
		}
	}

	got, err := r.Latest(ctx, 2)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	want := []*scanlog.Entry{entries[2], entries[1]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Latest mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveIgnoresDuplicateRequest(t *testing.T) {
	r := newTestRepo(t)
	ctx := t.Context()
	e := &scanlog.Entry{RequestID: "dup", Kind: "url", Subject: "https://a.example", Outcome: scanlog.OutcomeVerdicted, Severity: "safe", CreatedAt: time.Now()}
	if err := r.Save(ctx, e); err != nil {
		t.Fatal(err)
	}
	again := *e
	again.ID = 0
	again.Severity = "malicious"
	if err := r.Save(ctx, &again); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	got, err := r.Latest(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Severity != "safe" {
		t.Errorf("got %+v, want the first row only", got)
	}
}

func TestSummary(t *testing.T) {
	r := newTestRepo(t)
	ctx := t.Context()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	rows := []struct {
		id       string
		outcome  scanlog.Outcome
		severity string
		age      time.Duration
	}{
		{"a", scanlog.OutcomeVerdicted, "safe", time.Hour},
		{"b", scanlog.OutcomeVerdicted, "safe", 2 * time.Hour},
		{"c", scanlog.OutcomeVerdicted, "suspicious", 3 * time.Hour},
		{"d", scanlog.OutcomeVerdicted, "malicious", 4 * time.Hour},
		{"e", scanlog.OutcomeFailed, "", 5 * time.Hour},
		{"old", scanlog.OutcomeVerdicted, "malicious", 30 * 24 * time.Hour},
	}
	for _, row := range rows {
		e := &scanlog.Entry{RequestID: row.id, Kind: "url", Subject: "https://x.example", Outcome: row.outcome, Severity: row.severity, CreatedAt: now.Add(-row.age)}
		if err := r.Save(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := r.Summary(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	want := scanlog.Summary{Total: 5, Safe: 2, Suspicious: 1, Malicious: 1, Failed: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Summary mismatch (-want +got):\n%s", diff)
	}

	empty, err := r.Summary(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if empty != (scanlog.Summary{}) {
		t.Errorf("empty window = %+v", empty)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	r := newTestRepo(t)
	if _, err := NewScanLogRepository(t.Context(), r.db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var v int
	if err := r.db.QueryRow(`SELECT version FROM schema_version`).Scan(&v); err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Errorf("schema version = %d, want 2", v)
	}
}

package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskherd/taskherd/internal/types"
)

func TestLogFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	logger := NewLogger(dir, "sess-a").WithClock(func() time.Time { return now })

	if err := logger.Log(types.AuditRecord{Tool: "select_next_issue"}); err != nil {
		t.Fatal(err)
	}

	records, err := logger.ReadDay(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("read %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.SessionID != "sess-a" {
		t.Errorf("sessionID = %q", rec.SessionID)
	}
	if rec.Level != types.LevelInfo || rec.Event != types.EventTool || rec.Outcome != types.OutcomeSuccess {
		t.Errorf("defaults not filled: %+v", rec)
	}
	if !rec.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp, now)
	}
}

func TestLogAppendsToDailyFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	logger := NewLogger(dir, "sess-a").WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if err := logger.Log(types.AuditRecord{Tool: "list_backlog"}); err != nil {
			t.Fatal(err)
		}
	}

	records, err := logger.ReadDay(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Errorf("read %d records, want 3", len(records))
	}

	if _, err := os.Stat(filepath.Join(dir, "audit-2026-03-10.jsonl")); err != nil {
		t.Errorf("daily file missing: %v", err)
	}
}

func TestReadDaySkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	logger := NewLogger(dir, "sess-a").WithClock(func() time.Time { return now })

	if err := logger.Log(types.AuditRecord{Tool: "create_issue"}); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash-truncated append.
	path := filepath.Join(dir, "audit-2026-03-10.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"timestamp":"2026-03-10T1`); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if err := logger.Log(types.AuditRecord{Tool: "list_backlog"}); err != nil {
		t.Fatal(err)
	}

	records, err := logger.ReadDay(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("read %d records, want 2 (malformed line skipped)", len(records))
	}
}

func TestReadDayAbsentFile(t *testing.T) {
	logger := NewLogger(t.TempDir(), "sess-a")
	records, err := logger.ReadDay(time.Now())
	if err != nil || records != nil {
		t.Fatalf("absent day = %v, %v, want nil/nil", records, err)
	}
}

func TestSweepRetention(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	writeDay := func(day time.Time, rec types.AuditRecord) {
		t.Helper()
		l := NewLogger(dir, "sess-a").WithClock(func() time.Time { return day })
		if err := l.Log(rec); err != nil {
			t.Fatal(err)
		}
	}

	fresh := now.Add(-10 * 24 * time.Hour)
	oldTool := now.Add(-45 * 24 * time.Hour)
	oldLock := now.Add(-45 * 24 * time.Hour).Add(-24 * time.Hour)
	ancient := now.Add(-120 * 24 * time.Hour)

	writeDay(fresh, types.AuditRecord{Tool: "list_backlog"})
	writeDay(oldTool, types.AuditRecord{Tool: "list_backlog"})
	writeDay(oldLock, types.AuditRecord{Event: types.EventLock, Tool: "lock_acquire"})
	writeDay(ancient, types.AuditRecord{Event: types.EventLock, Tool: "lock_acquire"})

	logger := NewLogger(dir, "sess-a").WithClock(func() time.Time { return now })
	if err := logger.Sweep(); err != nil {
		t.Fatal(err)
	}

	assertExists := func(day time.Time, want bool) {
		t.Helper()
		path := filepath.Join(dir, filePrefix+day.UTC().Format(dateLayout)+fileSuffix)
		_, err := os.Stat(path)
		if want && err != nil {
			t.Errorf("%s should exist: %v", path, err)
		}
		if !want && err == nil {
			t.Errorf("%s should be deleted", path)
		}
	}

	assertExists(fresh, true)    // within 30 days
	assertExists(oldTool, false) // past 30 days, no lock events
	assertExists(oldLock, true)  // past 30 days but lock events within 90
	assertExists(ancient, false) // past 90 days even with lock events
}

func TestSweepMissingDirectory(t *testing.T) {
	logger := NewLogger(filepath.Join(t.TempDir(), "missing"), "sess-a")
	if err := logger.Sweep(); err != nil {
		t.Errorf("sweep on missing dir: %v", err)
	}
}

// Package audit implements the append-only structured audit log: one JSON
// object per line, one file per UTC day, with a time-window retention
// sweep. Readers tolerate partial lines left by crashes.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/taskherd/taskherd/internal/types"
)

// File naming: audit-YYYY-MM-DD.jsonl.
const (
	filePrefix = "audit-"
	fileSuffix = ".jsonl"
	dateLayout = "2006-01-02"
)

// Default retention windows in days.
const (
	DefaultRetentionDays  = 30
	DefaultLockRetainDays = 90
)

// fileNamePattern extracts the date from a daily log file name.
var fileNamePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})\.jsonl$`)

// Logger appends audit records to the daily file. Safe for use from one
// process; concurrent processes each append whole lines, which the
// filesystem keeps intact for line-sized writes.
type Logger struct {
	dir        string
	sessionID  string
	retainDays int
	lockDays   int
	now        func() time.Time

	mu sync.Mutex
}

// NewLogger creates a Logger writing under dir for the given session.
func NewLogger(dir, sessionID string) *Logger {
	return &Logger{
		dir:        dir,
		sessionID:  sessionID,
		retainDays: DefaultRetentionDays,
		lockDays:   DefaultLockRetainDays,
		now:        time.Now,
	}
}

// WithRetention overrides the retention windows (days).
func (l *Logger) WithRetention(general, lockEvents int) *Logger {
	l.retainDays = general
	l.lockDays = lockEvents
	return l
}

// WithClock replaces the wall clock (tests).
func (l *Logger) WithClock(now func() time.Time) *Logger {
	l.now = now
	return l
}

// pathFor returns the daily file for a timestamp.
func (l *Logger) pathFor(t time.Time) string {
	return filepath.Join(l.dir, filePrefix+t.UTC().Format(dateLayout)+fileSuffix)
}

// Log appends one record. The timestamp and session ID are filled in when
// absent; defaults for level, event, and outcome keep records queryable.
func (l *Logger) Log(rec types.AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	if rec.SessionID == "" {
		rec.SessionID = l.sessionID
	}
	if rec.Level == "" {
		rec.Level = types.LevelInfo
	}
	if rec.Event == "" {
		rec.Event = types.EventTool
	}
	if rec.Outcome == "" {
		rec.Outcome = types.OutcomeSuccess
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(l.pathFor(rec.Timestamp), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}
	return nil
}

// ReadDay returns the parseable records of one UTC day. Malformed lines
// (crash-truncated or otherwise) are skipped, not fatal.
func (l *Logger) ReadDay(day time.Time) ([]types.AuditRecord, error) {
	f, err := os.Open(l.pathFor(day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	var records []types.AuditRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.AuditRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("reading audit log: %w", err)
	}
	return records, nil
}

// Sweep deletes daily files past retention. General records are kept for
// the 30-day floor; a day's file survives up to the 90-day lock-event
// window when it contains any lock event, so the longer retention of lock
// records is honored at file granularity.
func (l *Logger) Sweep() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading log directory: %w", err)
	}

	now := l.now().UTC()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := fileNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		day, err := time.Parse(dateLayout, m[1])
		if err != nil {
			continue
		}

		ageDays := int(now.Sub(day).Hours() / 24)
		if ageDays <= l.retainDays {
			continue
		}
		if ageDays <= l.lockDays && l.dayHasLockEvents(day) {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing expired log %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// dayHasLockEvents reports whether any record of the day is a lock event.
func (l *Logger) dayHasLockEvents(day time.Time) bool {
	records, err := l.ReadDay(day)
	if err != nil {
		// Unreadable files are kept; deletion needs positive evidence.
		return true
	}
	for _, rec := range records {
		if rec.Event == types.EventLock {
			return true
		}
	}
	return false
}

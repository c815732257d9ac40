// Package lockstore implements the per-issue claim files that give
// same-host mutual exclusion. A claim is a single JSON file created with
// exclusive-create semantics; its presence IS the claim. Staleness (old
// age or a dead holder process) allows displacement by any other session.
package lockstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/taskherd/taskherd/internal/types"
)

// FileSuffix is the lock file extension.
const FileSuffix = ".lockdata"

// Sentinel errors surfaced by the store.
var (
	// ErrLockHeld means a live claim by another session already exists.
	ErrLockHeld = errors.New("lock held by another session")

	// ErrNotOwner means the caller's session does not hold the lock.
	ErrNotOwner = errors.New("lock held by a different session")
)

// ProcessProbe tests whether a process is alive on this host. Abstracted
// so tests can drive staleness deterministically and so the OS-specific
// probe stays behind one seam.
type ProcessProbe interface {
	Alive(pid int) bool
}

// Store manages the lock directory.
type Store struct {
	dir        string
	staleAfter time.Duration
	probe      ProcessProbe
	pid        int
	now        func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithProbe replaces the OS process probe (tests).
func WithProbe(p ProcessProbe) Option {
	return func(s *Store) { s.probe = p }
}

// WithClock replaces the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPID overrides the recorded holder PID (tests).
func WithPID(pid int) Option {
	return func(s *Store) { s.pid = pid }
}

// New creates a Store over dir. staleAfter is the claim age beyond which
// any session may displace the holder.
func New(dir string, staleAfter time.Duration, opts ...Option) *Store {
	s := &Store{
		dir:        dir,
		staleAfter: staleAfter,
		probe:      osProbe{},
		pid:        os.Getpid(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// fileNamePattern parses "<owner>_<repo>_<n>.lockdata". The repo segment
// may itself contain underscores; the owner segment may not (slashes in
// names are already illegal on GitHub).
var fileNamePattern = regexp.MustCompile(`^(.+)_(\d+)\.lockdata$`)

// Path returns the lock file path for an issue.
func (s *Store) Path(repo string, number int) string {
	flat := strings.ReplaceAll(repo, "/", "_")
	return filepath.Join(s.dir, fmt.Sprintf("%s_%d%s", flat, number, FileSuffix))
}

// IsStale reports whether a claim may be displaced: older than the
// staleness deadline, or held by a process that is no longer alive.
func (s *Store) IsStale(rec *types.LockRecord) bool {
	if s.now().Sub(rec.AcquiredAt) > s.staleAfter {
		return true
	}
	return !s.probe.Alive(rec.PID)
}

// Get reads the claim for an issue. Returns (nil, false, nil) when no
// claim exists.
func (s *Store) Get(repo string, number int) (*types.LockRecord, bool, error) {
	rec, err := readRecord(s.Path(repo, number))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return rec, s.IsStale(rec), nil
}

// Acquire claims an issue for the session.
//
// Protocol: read any existing claim; a live one fails with ErrLockHeld; a
// stale one is deleted. Then exclusive-create the new claim file, so two
// concurrent acquirers cannot both observe success: the loser's create
// fails with "already exists" and maps to ErrLockHeld.
func (s *Store) Acquire(repo string, number int, sessionID string) (*types.LockRecord, error) {
	path := s.Path(repo, number)

	if existing, err := readRecord(path); err == nil {
		if !s.IsStale(existing) {
			return nil, fmt.Errorf("issue #%d: %w", number, ErrLockHeld)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale lock: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	now := s.now().UTC()
	rec := &types.LockRecord{
		IssueNumber: number,
		Repo:        repo,
		PID:         s.pid,
		SessionID:   sessionID,
		AcquiredAt:  now,
		UpdatedAt:   now,
	}

	if err := writeExclusive(path, rec); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("issue #%d: %w", number, ErrLockHeld)
		}
		return nil, fmt.Errorf("creating lock file: %w", err)
	}

	return rec, nil
}

// Refresh bumps the claim's last-updated timestamp. Only the holding
// session may refresh.
func (s *Store) Refresh(repo string, number int, sessionID string) error {
	path := s.Path(repo, number)
	rec, err := readRecord(path)
	if err != nil {
		return err
	}
	if rec.SessionID != sessionID {
		return ErrNotOwner
	}
	rec.UpdatedAt = s.now().UTC()
	return writeReplace(path, rec)
}

// Release deletes the session's claim. Releasing an absent claim is a
// no-op success; releasing another session's claim is refused.
func (s *Store) Release(repo string, number int, sessionID string) error {
	path := s.Path(repo, number)
	rec, err := readRecord(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if rec.SessionID != sessionID {
		return ErrNotOwner
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// ForceClaim overwrites any existing claim with a new one for the session.
// The previous record, if any, is returned for audit surfacing. This is an
// explicit logged takeover, not a race win.
func (s *Store) ForceClaim(repo string, number int, sessionID string) (prev, rec *types.LockRecord, err error) {
	path := s.Path(repo, number)

	prev, err = readRecord(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, nil, err
	}
	err = nil

	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		return nil, nil, fmt.Errorf("removing existing lock: %w", rmErr)
	}

	now := s.now().UTC()
	rec = &types.LockRecord{
		IssueNumber: number,
		Repo:        repo,
		PID:         s.pid,
		SessionID:   sessionID,
		AcquiredAt:  now,
		UpdatedAt:   now,
	}
	if err := writeReplace(path, rec); err != nil {
		return nil, nil, fmt.Errorf("writing lock file: %w", err)
	}

	return prev, rec, nil
}

// Info is one listed claim plus its staleness flag.
type Info struct {
	Record *types.LockRecord `json:"record"`
	Stale  bool              `json:"stale"`
}

// List scans the lock directory and reports every parseable claim, sorted
// by repo then issue number.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lock directory: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !fileNamePattern.MatchString(entry.Name()) {
			continue
		}
		rec, err := readRecord(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			// Unreadable or truncated lock files are skipped, not fatal.
			continue
		}
		infos = append(infos, Info{Record: rec, Stale: s.IsStale(rec)})
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Record.Repo != infos[j].Record.Repo {
			return infos[i].Record.Repo < infos[j].Record.Repo
		}
		return infos[i].Record.IssueNumber < infos[j].Record.IssueNumber
	})

	return infos, nil
}

// HeldBy returns every claim held by the given session.
func (s *Store) HeldBy(sessionID string) ([]Info, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var mine []Info
	for _, info := range all {
		if info.Record.SessionID == sessionID {
			mine = append(mine, info)
		}
	}
	return mine, nil
}

// ParseFileName extracts the issue number from a lock file name. The
// leading segments are the flattened "owner_repo".
func ParseFileName(name string) (issueNumber int, ok bool) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	return n, true
}

func readRecord(path string) (*types.LockRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec types.LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing lock file %s: %w", path, err)
	}
	return &rec, nil
}

// writeExclusive creates the file with O_EXCL so a concurrent creator
// loses cleanly.
func writeExclusive(path string, rec *types.LockRecord) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func writeReplace(path string, rec *types.LockRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Package batch persists batch orchestration state: one JSON file per
// batch, every mutation serialized by a cooperative flock on a sidecar
// lock file. The flock coordinates this engine's processes on one host; it
// is not a cross-machine guarantee.
package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskherd/taskherd/internal/types"
)

// Lock acquisition retry bounds. A busy advisory lock is retried a small
// bounded number of times before surfacing an error.
const (
	lockAttempts   = 5
	lockRetryDelay = 100 * time.Millisecond
)

// Sentinel errors.
var (
	// ErrNotFound means no batch exists with the given ID.
	ErrNotFound = errors.New("batch not found")

	// ErrLockBusy means the advisory file lock stayed held through every
	// retry.
	ErrLockBusy = errors.New("batch file lock busy")

	// ErrNoCurrent means the operation requires an in-flight issue (and,
	// for completion, its PR) that the batch does not have.
	ErrNoCurrent = errors.New("batch has no current issue/PR")
)

// Store manages batch state files under one directory.
type Store struct {
	dir string
	now func() time.Time

	// startTimes tracks when the current issue of each batch was started.
	// Deliberately in-process only: start time is not part of the
	// persisted schema.
	mu         sync.Mutex
	startTimes map[string]time.Time
}

// NewStore creates a Store over dir.
func NewStore(dir string) *Store {
	return &Store{
		dir:        dir,
		now:        time.Now,
		startTimes: make(map[string]time.Time),
	}
}

// WithClock replaces the wall clock (tests).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Path returns the state file path for a batch.
func (s *Store) Path(batchID string) string {
	return filepath.Join(s.dir, batchID+".json")
}

// lockPath is the sidecar flock target. The state file itself is replaced
// by rename on save, which would silently detach an flock held on it.
func (s *Store) lockPath(batchID string) string {
	return filepath.Join(s.dir, batchID+".lock")
}

// Create initializes a new batch over the given issue queue and persists
// it. The batch ID is a fresh UUID.
func (s *Store) Create(repository string, queue []int) (*types.BatchState, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating batch directory: %w", err)
	}

	state := &types.BatchState{
		ID:         uuid.NewString(),
		Repository: repository,
		TotalCount: len(queue),
		Queue:      append([]int(nil), queue...),
		Completed:  []types.CompletedIssue{},
		StartedAt:  s.now().UTC(),
		Status:     types.BatchInProgress,
	}
	if err := s.save(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Get reads a batch without locking.
func (s *Store) Get(batchID string) (*types.BatchState, error) {
	data, err := os.ReadFile(s.Path(batchID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
		}
		return nil, fmt.Errorf("reading batch state: %w", err)
	}
	var state types.BatchState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing batch state: %w", err)
	}
	return &state, nil
}

// StartNext pops the queue head and makes it the current issue. Returns
// nil when the queue is empty.
func (s *Store) StartNext(batchID string) (*int, error) {
	var started *int
	err := s.mutate(batchID, func(state *types.BatchState) error {
		if len(state.Queue) == 0 {
			return nil
		}
		next := state.Queue[0]
		state.Queue = state.Queue[1:]
		state.CurrentIssue = &next
		started = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if started != nil {
		s.mu.Lock()
		s.startTimes[batchID] = s.now().UTC()
		s.mu.Unlock()
	}
	return started, nil
}

// SetPR records the PR number opened for the current issue.
func (s *Store) SetPR(batchID string, prNumber int) error {
	return s.mutate(batchID, func(state *types.BatchState) error {
		state.CurrentPR = &prNumber
		return nil
	})
}

// CompleteCurrent moves the in-flight issue to the completed list. When
// the queue is empty afterwards the batch is marked completed.
func (s *Store) CompleteCurrent(batchID string) (*types.BatchState, error) {
	var result *types.BatchState
	err := s.mutate(batchID, func(state *types.BatchState) error {
		if state.CurrentIssue == nil || state.CurrentPR == nil {
			return ErrNoCurrent
		}

		s.mu.Lock()
		startedAt, ok := s.startTimes[batchID]
		delete(s.startTimes, batchID)
		s.mu.Unlock()
		if !ok {
			startedAt = state.StartedAt
		}

		state.Completed = append(state.Completed, types.CompletedIssue{
			Issue:     *state.CurrentIssue,
			PR:        *state.CurrentPR,
			StartedAt: startedAt,
			MergedAt:  s.now().UTC(),
		})
		state.CompletedCount++
		state.CurrentIssue = nil
		state.CurrentPR = nil
		if len(state.Queue) == 0 {
			state.Status = types.BatchCompleted
		}
		result = state
		return nil
	})
	return result, err
}

// Abandon marks the batch abandoned.
func (s *Store) Abandon(batchID string) error {
	return s.setStatus(batchID, types.BatchAbandoned)
}

// Timeout marks the batch timed out. The batch remains resumable: a later
// batch_continue flips it back to in_progress.
func (s *Store) Timeout(batchID string) error {
	return s.setStatus(batchID, types.BatchTimeout)
}

// Resume flips a timed-out batch back to in_progress.
func (s *Store) Resume(batchID string) error {
	return s.mutate(batchID, func(state *types.BatchState) error {
		if state.Status == types.BatchTimeout {
			state.Status = types.BatchInProgress
		}
		return nil
	})
}

func (s *Store) setStatus(batchID string, status types.BatchStatus) error {
	return s.mutate(batchID, func(state *types.BatchState) error {
		state.Status = status
		return nil
	})
}

// mutate runs a read-modify-write under the advisory file lock. The lock
// is held only for the duration of the mutation, never across polling
// sleeps.
func (s *Store) mutate(batchID string, fn func(*types.BatchState) error) error {
	unlock, err := s.flock(batchID)
	if err != nil {
		return err
	}
	defer unlock()

	state, err := s.Get(batchID)
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	return s.save(state)
}

// flock acquires the sidecar advisory lock with bounded retries.
func (s *Store) flock(batchID string) (func(), error) {
	f, err := os.OpenFile(s.lockPath(batchID), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening batch lock file: %w", err)
	}

	for attempt := 0; attempt < lockAttempts; attempt++ {
		err = flockExclusiveNonBlock(f)
		if err == nil {
			return func() {
				_ = flockUnlock(f)
				_ = f.Close()
			}, nil
		}
		if !errors.Is(err, ErrLockBusy) {
			f.Close()
			return nil, fmt.Errorf("locking batch file: %w", err)
		}
		time.Sleep(lockRetryDelay)
	}

	f.Close()
	return nil, fmt.Errorf("batch %s: %w", batchID, ErrLockBusy)
}

// save re-checks the accounting invariant and writes atomically.
func (s *Store) save(state *types.BatchState) error {
	if err := state.CheckInvariant(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling batch state: %w", err)
	}

	path := s.Path(state.ID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing batch state: %w", err)
	}
	return nil
}

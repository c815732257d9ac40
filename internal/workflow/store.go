package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/taskherd/taskherd/internal/types"
)

// Store persists one WorkflowState file per claimed issue. Every mutation
// is a whole-file replace via temp file + rename, so a crash between write
// and rename leaves the previous state intact.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates a Store over dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// WithClock replaces the wall clock (tests).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Path returns the state file path for an issue.
func (s *Store) Path(repo string, number int) string {
	flat := strings.ReplaceAll(repo, "/", "_")
	return filepath.Join(s.dir, fmt.Sprintf("%s_%d.json", flat, number))
}

// Get reads the workflow state for an issue. Returns (nil, nil) when no
// state exists.
func (s *Store) Get(repo string, number int) (*types.WorkflowState, error) {
	data, err := os.ReadFile(s.Path(repo, number))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading workflow state: %w", err)
	}

	var state types.WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing workflow state: %w", err)
	}
	return &state, nil
}

// Create initializes a new state at the selection phase and persists it.
func (s *Store) Create(repo string, number int) (*types.WorkflowState, error) {
	now := s.now().UTC()
	state := &types.WorkflowState{
		IssueNumber:  number,
		Repo:         repo,
		Phase:        types.PhaseSelection,
		PhaseHistory: []types.Transition{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Save(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Save writes the state atomically (temp file + rename).
func (s *Store) Save(state *types.WorkflowState) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating workflow directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling workflow state: %w", err)
	}

	path := s.Path(state.Repo, state.IssueNumber)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing workflow state: %w", err)
	}
	return nil
}

// Delete removes the state file. Deleting absent state is a no-op.
func (s *Store) Delete(repo string, number int) error {
	if err := os.Remove(s.Path(repo, number)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting workflow state: %w", err)
	}
	return nil
}

package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ralph-tui/ralph-tui/internal/core"
	"github.com/ralph-tui/ralph-tui/internal/fsatomic"
	"github.com/ralph-tui/ralph-tui/internal/progress"
)

const parallelSessionFile = "parallel-session.json"

// Manager composes the Journal, Locker, and Progress log into the single
// core.StateManager port the engine and parallel executor depend on.
type Manager struct {
	dir string
	journal *Journal
	locker *Locker
	log *progress.Log
}

var _ core.StateManager = (*Manager)(nil)

// NewManager returns a Manager rooted at cwd's.ralph-tui directory.
func NewManager(cwd string) *Manager {
	dir := filepath.Join(cwd, DirName)
	return &Manager{
		dir: dir,
		journal: NewJournal(cwd),
		locker: NewLocker(cwd),
		log: progress.NewLog(filepath.Join(dir, progressFile)),
	}
}

// Save persists session state atomically under session.json.
func (m *Manager) Save(ctx context.Context, s *core.SessionState) error {
	return m.journal.Save(ctx, s)
}

// Load reads session.json. Returns nil, nil if it doesn't exist.
func (m *Manager) Load(ctx context.Context) (*core.SessionState, error) {
	return m.journal.Load(ctx)
}

func (m *Manager) parallelPath() string {
	return filepath.Join(m.dir, parallelSessionFile)
}

// SaveParallel persists the ParallelSessionState sidecar atomically.
func (m *Manager) SaveParallel(ctx context.Context, s *core.ParallelSessionState) error {
	if err := os.MkdirAll(m.dir, 0o750); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", " ")
	if err != nil {
		return fmt.Errorf("marshaling parallel session state: %w", err)
	}
	return fsatomic.WriteAtomic(m.parallelPath(), data, 0o600)
}

// LoadParallel reads parallel-session.json. Returns nil, nil if it
// doesn't exist.
func (m *Manager) LoadParallel(ctx context.Context) (*core.ParallelSessionState, error) {
	data, err := os.ReadFile(m.parallelPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading parallel session file: %w", err)
	}
	var s core.ParallelSessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, core.ErrCorruption(core.CodeSessionCorrupted, fmt.Sprintf("parallel-session.json is not valid JSON: %v", err))
	}
	return &s, nil
}

// AcquireLock takes the exclusive session.lock, reclaiming it if the
// recorded holder process is no longer alive.
func (m *Manager) AcquireLock(ctx context.Context) error {
	return m.locker.Acquire(ctx)
}

// ReleaseLock releases session.lock. A no-op if not held.
func (m *Manager) ReleaseLock(ctx context.Context) error {
	return m.locker.Release(ctx)
}

// Exists reports whether session.json is present.
func (m *Manager) Exists() bool {
	return m.journal.HasSession()
}

// LockHolderPID reports the PID recorded in session.lock, if any, and
// whether that process is still live.
func (m *Manager) LockHolderPID() (pid int, live bool, ok bool, err error) {
	return m.locker.HolderPID()
}

// AppendProgress appends one entry to progress.md, truncating the
// oldest entries once the file would exceed its size cap.
func (m *Manager) AppendProgress(ctx context.Context, entry string) error {
	return m.log.Append(entry)
}

// Reset quarantines a corrupt session.json.
func (m *Manager) Reset() error {
	return m.journal.Reset()
}

// ProgressPath returns the path to progress.md.
func (m *Manager) ProgressPath() string {
	return m.journal.ProgressPath()
}

package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/core"
	"github.com/ralph-tui/ralph-tui/internal/fsatomic"
)

// envelopeVersion is the schema version of the on-disk session.json
// envelope.
const envelopeVersion = 1

// envelope wraps Session State with a version and checksum so a reader
// can tell a well-formed file from one truncated mid-write.
type envelope struct {
	Version int `json:"version"`
	Checksum string `json:"checksum"`
	UpdatedAt time.Time `json:"updatedAt"`
	State *core.SessionState `json:"state"`
}

// Journal persists Session State under <cwd>/.ralph-tui/session.json.
type Journal struct {
	dir string
}

// NewJournal returns a Journal rooted at cwd's.ralph-tui directory.
func NewJournal(cwd string) *Journal {
	return &Journal{dir: filepath.Join(cwd, DirName)}
}

func (j *Journal) path() string {
	return filepath.Join(j.dir, sessionFile)
}

func (j *Journal) backupPath() string {
	return j.path() + ".bak"
}

func (j *Journal) progressPath() string {
	return filepath.Join(j.dir, progressFile)
}

// HasSession reports whether session.json exists.
func (j *Journal) HasSession() bool {
	_, err := os.Stat(j.path())
	return err == nil
}

// Save persists state atomically, backing up the previous file first.
func (j *Journal) Save(ctx context.Context, s *core.SessionState) error {
	if err := os.MkdirAll(j.dir, 0o750); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	if data, err := os.ReadFile(j.path()); err == nil {
		_ = fsatomic.WriteAtomic(j.backupPath(), data, 0o600)
	}

	s.UpdatedAt = time.Now().UTC()

	stateBytes, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling session state: %w", err)
	}
	sum := sha256.Sum256(stateBytes)

	env := envelope{
		Version: envelopeVersion,
		Checksum: hex.EncodeToString(sum[:]),
		UpdatedAt: s.UpdatedAt,
		State: s,
	}
	data, err := json.MarshalIndent(env, "", " ")
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	return fsatomic.WriteAtomic(j.path(), data, 0o600)
}

// Load reads session.json. Returns nil, nil if it doesn't exist.
func (j *Journal) Load(ctx context.Context) (*core.SessionState, error) {
	return j.loadFromPath(j.path())
}

func (j *Journal) loadFromPath(path string) (*core.SessionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, core.ErrCorruption(core.CodeSessionCorrupted, fmt.Sprintf("session.json is not valid JSON: %v", err))
	}
	if env.State == nil {
		return nil, core.ErrCorruption(core.CodeSessionCorrupted, "session.json envelope has no state")
	}

	stateBytes, err := json.Marshal(env.State)
	if err != nil {
		return nil, fmt.Errorf("marshaling state for checksum: %w", err)
	}
	sum := sha256.Sum256(stateBytes)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, core.ErrCorruption(core.CodeSessionCorrupted, "checksum mismatch")
	}

	return env.State, nil
}

// Reset quarantines a corrupt or unwanted session.json by renaming it
// aside with a timestamp suffix, so a fresh session can start clean.
func (j *Journal) Reset() error {
	if !j.HasSession() {
		return nil
	}
	quarantined := fmt.Sprintf("%s.corrupt.%d", j.path(), time.Now().UTC().Unix())
	return os.Rename(j.path(), quarantined)
}

// Summary is a compact view of a session for status reporting.
type Summary struct {
	SessionID string
	Status core.SessionStatus
	CurrentIteration int
	MaxIterations int
	TasksCompleted int
	TasksSkipped int
	StartedAt time.Time
	UpdatedAt time.Time
}

// summarize reduces a loaded SessionState to its Summary view.
func summarize(s *core.SessionState) Summary {
	completed := 0
	for _, it := range s.Iterations {
		if it.TaskCompleted {
			completed++
		}
	}
	return Summary{
		SessionID: s.SessionID,
		Status: s.Status,
		CurrentIteration: s.CurrentIteration,
		MaxIterations: s.MaxIterations,
		TasksCompleted: completed,
		TasksSkipped: len(s.SkippedTaskIDs),
		StartedAt: s.StartedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Summary loads the current session and reduces it to a Summary. Returns
// the zero Summary and false if no session exists.
func (j *Journal) Summary(ctx context.Context) (Summary, bool, error) {
	s, err := j.Load(ctx)
	if err != nil {
		return Summary{}, false, err
	}
	if s == nil {
		return Summary{}, false, nil
	}
	return summarize(s), true, nil
}

// IsResumable reports whether s can be resumed: paused or interrupted,
// and either an open task remains or the iteration budget isn't spent.
func IsResumable(s *core.SessionState, hasOpenTask bool) bool {
	return s.IsResumable(hasOpenTask)
}

// ProgressPath returns the path to progress.md, for callers constructing
// an internal/progress.Log against the same session directory.
func (j *Journal) ProgressPath() string {
	return j.progressPath()
}

// Package state implements the Session Lock and Session Journal: the
// on-disk session.json / session.lock pair under <cwd>/.ralph-tui/, with
// crash-safe atomic writes and a pid+hostname liveness probe for lock
// staleness.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/core"
)

// DirName is the on-disk directory name under the working directory.
const DirName = ".ralph-tui"

const (
	sessionFile = "session.json"
	lockFile = "session.lock"
	progressFile = "progress.md"
)

// lockRecord is the JSON shape of session.lock.
type lockRecord struct {
	PID int `json:"pid"`
	Hostname string `json:"hostname"`
	BootID string `json:"bootId,omitempty"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Locker manages the exclusive session.lock file for one working
// directory.
type Locker struct {
	dir string
}

// NewLocker returns a Locker rooted at cwd's.ralph-tui directory.
func NewLocker(cwd string) *Locker {
	return &Locker{dir: filepath.Join(cwd, DirName)}
}

func (l *Locker) path() string {
	return filepath.Join(l.dir, lockFile)
}

// Check reports whether the lock is currently held, whether the
// recorded holder is stale (dead or on a different boot), and the
// record itself if one exists.
func (l *Locker) Check() (isLocked bool, isStale bool, record *lockRecord, err error) {
	data, readErr := os.ReadFile(l.path())
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return false, false, nil, nil
		}
		return false, false, nil, readErr
	}

	var rec lockRecord
	if jsonErr := json.Unmarshal(data, &rec); jsonErr != nil {
		return true, true, nil, core.ErrCorruption(core.CodeLockfileCorrupted, fmt.Sprintf("session.lock is not valid JSON: %v", jsonErr))
	}

	if isRecordLive(rec) {
		return true, false, &rec, nil
	}
	return true, true, &rec, nil
}

// Acquire takes the lock, reclaiming it if the existing record is
// stale. Fails with a permanent error if a live process holds it.
func (l *Locker) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	isLocked, isStale, record, err := l.Check()
	if err != nil && core.GetCategory(err) != core.ErrCatCorruption {
		return err
	}
	if isLocked && !isStale && record != nil {
		return core.ErrPermanent(core.CodeLockHeldByLive,
			fmt.Sprintf("lock held by pid %d on %s since %s", record.PID, record.Hostname, record.AcquiredAt.Format(time.RFC3339)))
	}
	if isLocked {
		if rmErr := os.Remove(l.path()); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("removing stale lock: %w", rmErr)
		}
	}

	hostname, _ := os.Hostname()
	rec := lockRecord{
		PID: os.Getpid(),
		Hostname: hostname,
		BootID: readBootID(),
		AcquiredAt: time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling lock record: %w", err)
	}

	f, err := os.OpenFile(l.path(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return core.ErrPermanent(core.CodeLockHeldByLive, "lock file created by another process")
		}
		return fmt.Errorf("creating lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(l.path())
		return fmt.Errorf("writing lock file: %w", err)
	}
	return nil
}

// Release removes the lock, verifying this process owns it. A no-op
// (idempotent) if the lock is already gone.
func (l *Locker) Release(ctx context.Context) error {
	data, err := os.ReadFile(l.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading lock file: %w", err)
	}

	var rec lockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// Corrupt lock file; remove it so future acquires aren't blocked.
		return os.Remove(l.path())
	}
	if rec.PID != os.Getpid() {
		return core.ErrPermanent(core.CodeLockHeldByLive, "lock owned by a different process")
	}
	if err := os.Remove(l.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// HolderPID returns the PID recorded in session.lock and whether that
// holder is currently live, for tools that need to signal the owning
// process (e.g. a cross-process `cancel` command). ok is false if no
// lock file exists.
func (l *Locker) HolderPID() (pid int, live bool, ok bool, err error) {
	isLocked, isStale, record, err := l.Check()
	if err != nil && core.GetCategory(err) != core.ErrCatCorruption {
		return 0, false, false, err
	}
	if !isLocked || record == nil {
		return 0, false, false, nil
	}
	return record.PID, !isStale, true, nil
}

func isRecordLive(rec lockRecord) bool {
	hostname, _ := os.Hostname()
	if rec.Hostname != "" && rec.Hostname != hostname {
		// Different host: we cannot probe its process table. Treat the
		// lock as live to avoid a false reclaim across machines sharing
		// a network filesystem.
		return true
	}
	if rec.BootID != "" {
		if current := readBootID(); current != "" && current != rec.BootID {
			return false
		}
	}
	return processAlive(rec.PID)
}

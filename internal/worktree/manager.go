// Package worktree implements the Worktree Manager: a pool
// of one git worktree per in-flight parallel worker, each on its own
// branch cut from a base ref, torn down once the worker's task merges or
// the worker is released.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/ralph-tui/ralph-tui/internal/core"
	"github.com/ralph-tui/ralph-tui/internal/logging"
)

var _ core.WorktreeManager = (*Manager)(nil)

const (
	branchPrefix = "ralph-parallel/"
	dirNamePrefix = "worker-"
)

// Manager provisions and tears down per-worker git worktrees.
type Manager struct {
	mu sync.Mutex
	git core.GitClient
	baseDir string
	log *logging.Logger

	byWorker map[string]*core.WorktreeInfo
}

// New creates a Manager rooted at baseDir (created on first use).
func New(git core.GitClient, baseDir string, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	return &Manager{
		git: git,
		baseDir: baseDir,
		log: log,
		byWorker: make(map[string]*core.WorktreeInfo),
	}
}

// Create provisions a worktree for workerID on a fresh branch cut from
// base, refusing if free disk space is below the configured floor.
func (m *Manager) Create(ctx context.Context, workerID string, taskID core.TaskID, base string) (*core.WorktreeInfo, error) {
	if err := validateWorkerID(workerID); err != nil {
		return nil, err
	}

	free, err := m.FreeDiskBytes(ctx)
	if err == nil && free < minFreeDiskBytes {
		return nil, core.ErrPermanent(core.CodeInvalidConfig,
			fmt.Sprintf("insufficient disk space for new worktree: %d bytes free", free))
	}

	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating worktree pool directory: %w", err)
	}

	dirName := dirNamePrefix + sanitizeName(workerID)
	path := filepath.Join(m.baseDir, dirName)
	branch := branchPrefix + sanitizeName(string(taskID))

	if _, err := os.Stat(path); err == nil {
		return nil, core.ErrPermanent(core.CodeInvalidConfig, fmt.Sprintf("worktree already exists for worker %s", workerID))
	}

	if err := m.git.AddWorktree(ctx, path, branch, base); err != nil {
		return nil, fmt.Errorf("provisioning worktree: %w", err)
	}

	info := &core.WorktreeInfo{
		ID: dirName,
		Path: path,
		Branch: branch,
		WorkerID: workerID,
		TaskID: taskID,
		Active: true,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.byWorker[workerID] = info
	m.mu.Unlock()

	m.log.Info("worktree created", "worker_id", workerID, "task_id", taskID, "branch", branch, "path", path)
	return info, nil
}

// Get retrieves worktree info for a worker, or nil if none exists. It
// refreshes the Dirty flag against the live working tree.
func (m *Manager) Get(ctx context.Context, workerID string) (*core.WorktreeInfo, error) {
	m.mu.Lock()
	info, ok := m.byWorker[workerID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}

	clean, err := m.git.IsClean(ctx, info.Path)
	if err == nil {
		info.Dirty = !clean
	}
	return info, nil
}

// Remove tears down a worker's worktree, deleting its branch if
// deleteBranch is true (e.g. after a successful merge).
func (m *Manager) Remove(ctx context.Context, workerID string, deleteBranch bool) error {
	m.mu.Lock()
	info, ok := m.byWorker[workerID]
	if ok {
		delete(m.byWorker, workerID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := m.git.RemoveWorktree(ctx, info.Path, true); err != nil {
		m.log.Warn("worktree remove failed, attempting disk cleanup", "worker_id", workerID, "error", err)
		if rmErr := os.RemoveAll(info.Path); rmErr != nil {
			return fmt.Errorf("removing worktree directory after git failure: %w", rmErr)
		}
		_ = m.git.PruneWorktrees(ctx)
	}

	if deleteBranch {
		if err := m.git.DeleteBranch(ctx, info.Branch, true); err != nil {
			m.log.Warn("deleting worker branch after worktree removal failed", "branch", info.Branch, "error", err)
		}
	}

	m.log.Info("worktree removed", "worker_id", workerID, "path", info.Path)
	return nil
}

// CleanupStale removes worktree directories left behind by a crashed
// session: entries git still tracks whose recorded path is gone, plus
// any directory matching our naming convention inside baseDir that git
// no longer lists (orphaned by an interrupted Remove).
func (m *Manager) CleanupStale(ctx context.Context) (int, error) {
	if err := m.git.PruneWorktrees(ctx); err != nil {
		m.log.Warn("git worktree prune failed", "error", err)
	}

	tracked, err := m.git.ListWorktrees(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing worktrees: %w", err)
	}
	trackedPaths := make(map[string]bool, len(tracked))
	for _, wt := range tracked {
		trackedPaths[filepath.Clean(wt.Path)] = true
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading worktree pool: %w", err)
	}

	cleaned := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), dirNamePrefix) {
			continue
		}
		path := filepath.Clean(filepath.Join(m.baseDir, entry.Name()))
		if trackedPaths[path] {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			m.log.Warn("removing orphaned worktree directory", "path", path, "error", err)
			continue
		}
		cleaned++
	}

	m.mu.Lock()
	for workerID, info := range m.byWorker {
		if !trackedPaths[filepath.Clean(info.Path)] {
			delete(m.byWorker, workerID)
		}
	}
	m.mu.Unlock()

	return cleaned, nil
}

// List returns all worktrees currently tracked by this manager.
func (m *Manager) List(ctx context.Context) ([]*core.WorktreeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.WorktreeInfo, 0, len(m.byWorker))
	for _, info := range m.byWorker {
		out = append(out, info)
	}
	return out, nil
}

// minFreeDiskBytes is the floor below which Create refuses to
// provision another worktree (roughly one shallow clone's worth of
// headroom for a typical source tree).
const minFreeDiskBytes = 512 * 1024 * 1024

// FreeDiskBytes reports available space on the worktree pool's
// filesystem. gopsutil reports zero free bytes on some restricted
// container filesystems (overlay/bind mounts with an unreadable
// mountinfo); in that case it falls back to shelling out to df, which
// reads the same figure the kernel would give statfs(2) directly.
func (m *Manager) FreeDiskBytes(ctx context.Context) (uint64, error) {
	path := m.baseDir
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = filepath.Dir(path)
	}
	usage, err := disk.Usage(path)
	if err == nil && usage.Free > 0 {
		return usage.Free, nil
	}
	if err != nil {
		free, dfErr := freeDiskBytesViaDf(ctx, path)
		if dfErr != nil {
			return 0, fmt.Errorf("reading disk usage: %w", err)
		}
		return free, nil
	}
	if free, dfErr := freeDiskBytesViaDf(ctx, path); dfErr == nil {
		return free, nil
	}
	return usage.Free, nil
}

// freeDiskBytesViaDf parses `df -Pk <path>`'s second data line (POSIX
// output format is locale-stable: header, then one line of
// whitespace-separated columns with the available-KB figure fourth).
func freeDiskBytesViaDf(ctx context.Context, path string) (uint64, error) {
	out, err := exec.CommandContext(ctx, "df", "-Pk", path).Output()
	if err != nil {
		return 0, fmt.Errorf("running df: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("unexpected df output")
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 4 {
		return 0, fmt.Errorf("unexpected df output: %q", lines[len(lines)-1])
	}
	availKB, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing df available column: %w", err)
	}
	return availKB * 1024, nil
}

func validateWorkerID(workerID string) error {
	if strings.TrimSpace(workerID) == "" {
		return core.ErrInvalidRef("worker_id", "must not be empty")
	}
	return nil
}

func sanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

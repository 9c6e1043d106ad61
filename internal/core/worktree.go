package core

import "time"

// WorktreeInfo describes one managed git worktree.
type WorktreeInfo struct {
	ID string
	Path string
	Branch string
	WorkerID string
	TaskID TaskID
	Active bool
	Dirty bool
	CreatedAt time.Time
}

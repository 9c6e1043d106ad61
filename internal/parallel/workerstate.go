package parallel

import (
	"context"
	"sync"

	"github.com/ralph-tui/ralph-tui/internal/core"
)

// workerState is the core.StateManager given to each worker's Sequential
// Engine. A worker's own session.json is scratch: the ParallelSessionState
// sidecar the executor writes after every merge is the durable record, so
// Save/Load here just keep the engine's in-loop invariants happy. Progress
// entries are captured so the executor can reconcile them onto the shared
// progress.md in merge-queue order once the worker's branch lands.
type workerState struct {
	mu       sync.Mutex
	session  *core.SessionState
	progress []string
}

func newWorkerState() *workerState {
	return &workerState{}
}

func (w *workerState) Save(ctx context.Context, state *core.SessionState) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.session = state
	return nil
}

func (w *workerState) Load(ctx context.Context) (*core.SessionState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session, nil
}

func (w *workerState) SaveParallel(ctx context.Context, state *core.ParallelSessionState) error {
	return nil
}

func (w *workerState) LoadParallel(ctx context.Context) (*core.ParallelSessionState, error) {
	return nil, nil
}

func (w *workerState) AcquireLock(ctx context.Context) error { return nil }
func (w *workerState) ReleaseLock(ctx context.Context) error { return nil }

func (w *workerState) Exists() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session != nil
}

func (w *workerState) AppendProgress(ctx context.Context, entry string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.progress = append(w.progress, entry)
	return nil
}

// drainProgress returns and clears the entries accumulated since the last
// call, for the executor to fold into the shared progress.md.
func (w *workerState) drainProgress() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.progress
	w.progress = nil
	return out
}

// emptyProgressReader is handed to workers that have no useful shared
// progress.md to read from (e.g. a fresh session branch with nothing
// merged yet).
type emptyProgressReader struct{}

func (emptyProgressReader) Read() (string, error) { return "", nil }

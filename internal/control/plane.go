// Package control is the operator-facing control plane: the layer between
// a process-level signal handler (cmd/ralph) and the Sequential Engine's
// own Pause/Resume/Stop surface. It owns the single cancellation token
// and the double-cancel-within-1s force-quit rule.
package control

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/core"
)

// forceQuitWindow is how soon a second cancel must follow the first to be
// treated as a force-quit.
const forceQuitWindow = time.Second

// Pausable is a run loop that honors an externally requested pause at its
// own iteration boundaries. Engine and parallel.Executor both satisfy it.
type Pausable interface {
	Pause()
	Resume()
}

// ControlPlane mediates pause/resume/cancel between an operator (CLI
// signal handler, TUI keybinding) and the engine run loop it supervises.
type ControlPlane struct {
	mu sync.RWMutex
	paused atomic.Bool
	cancelled atomic.Bool
	forceQuit atomic.Bool
	pauseCh chan struct{}
	resumeCh chan struct{}
	target Pausable

	firstCancelAt time.Time

	inputMu sync.RWMutex
	inputRequestCh chan InputRequest
	pendingInputs map[string]chan InputResponse
}

// InputRequest is a question the running session needs an operator to
// answer before it can proceed (e.g. a TUI confirmation prompt for an
// agent-proposed destructive action).
type InputRequest struct {
	ID string
	Prompt string
	Context string
	Options []string
	Timeout time.Duration
}

// InputResponse is the operator's answer to an InputRequest.
type InputResponse struct {
	RequestID string
	Input string
	Cancelled bool
}

// New creates a new ControlPlane.
func New() *ControlPlane {
	return &ControlPlane{
		pauseCh: make(chan struct{}),
		resumeCh: make(chan struct{}),
		inputRequestCh: make(chan InputRequest, 10),
		pendingInputs: make(map[string]chan InputResponse),
	}
}

// Bind attaches the run loop this control plane supervises. A subsequent
// Pause/Resume is forwarded to it in addition to updating cp's own
// point-in-time status. Call once, before Run starts.
func (cp *ControlPlane) Bind(p Pausable) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.target = p
}

// Pause pauses the workflow execution. The in-flight agent run is never
// torn down by a pause; only the next iteration boundary honors it.
func (cp *ControlPlane) Pause() {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if !cp.paused.Load() {
		cp.paused.Store(true)
		close(cp.pauseCh)
		cp.pauseCh = make(chan struct{})
		if cp.target != nil {
			cp.target.Pause()
		}
	}
}

// Resume resumes a paused workflow.
func (cp *ControlPlane) Resume() {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.paused.Load() {
		cp.paused.Store(false)
		close(cp.resumeCh)
		cp.resumeCh = make(chan struct{})
		if cp.target != nil {
			cp.target.Resume()
		}
	}
}

// Cancel requests cancellation (stop scheduling, interrupt the in-flight
// agent, release activated tasks, persist interrupted, release the
// lock). It reports whether this call is a force-quit: a second Cancel
// within forceQuitWindow of the first skips tracker reset and
// best-effort persistence entirely.
func (cp *ControlPlane) Cancel() bool {
	now := time.Now()

	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.cancelled.Load() && now.Sub(cp.firstCancelAt) <= forceQuitWindow {
		cp.forceQuit.Store(true)
		return true
	}

	cp.cancelled.Store(true)
	cp.firstCancelAt = now

	// A cancel while paused must still unblock WaitIfPaused.
	if cp.paused.Load() {
		cp.paused.Store(false)
		close(cp.resumeCh)
		cp.resumeCh = make(chan struct{})
	}
	return false
}

// IsPaused returns true if the workflow is paused.
func (cp *ControlPlane) IsPaused() bool {
	return cp.paused.Load()
}

// IsCancelled returns true if cancellation has been requested.
func (cp *ControlPlane) IsCancelled() bool {
	return cp.cancelled.Load()
}

// IsForceQuit returns true once a second Cancel landed within the
// force-quit window.
func (cp *ControlPlane) IsForceQuit() bool {
	return cp.forceQuit.Load()
}

// WaitIfPaused blocks until the workflow is resumed or cancelled.
// Returns immediately if not paused.
func (cp *ControlPlane) WaitIfPaused(ctx context.Context) error {
	if !cp.paused.Load() {
		return nil
	}

	cp.mu.RLock()
	resumeCh := cp.resumeCh
	cp.mu.RUnlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-resumeCh:
		if cp.cancelled.Load() {
			return core.ErrCancellation("workflow cancelled while paused")
		}
		return nil
	}
}

// CheckCancelled returns an error if cancellation has been requested.
func (cp *ControlPlane) CheckCancelled() error {
	if cp.cancelled.Load() {
		return core.ErrCancellation("workflow cancelled by operator")
	}
	return nil
}

// PausedCh returns a channel that's closed when paused. Useful for select
// statements alongside a run context's Done channel.
func (cp *ControlPlane) PausedCh() <-chan struct{} {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	if cp.paused.Load() {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return cp.pauseCh
}

// Status is a point-in-time snapshot of the control plane's state,
// surfaced by `ralph status`.
type Status struct {
	Paused bool
	Cancelled bool
	ForceQuit bool
}

// Status returns the current control status.
func (cp *ControlPlane) Status() Status {
	return Status{
		Paused: cp.paused.Load(),
		Cancelled: cp.cancelled.Load(),
		ForceQuit: cp.forceQuit.Load(),
	}
}

// InputRequests returns the channel a subscriber (the out-of-scope TUI)
// reads pending InputRequests from. The engine never reads this itself;
// RequestUserInput blocks only while nothing drains it within 5s.
func (cp *ControlPlane) InputRequests() <-chan InputRequest {
	return cp.inputRequestCh
}

// RequestUserInput blocks until a subscriber delivers a response via
// ProvideUserInput, req.Timeout elapses, or ctx is cancelled. The engine
// itself never calls this; it's a hook point for agent adapters or
// future prompt steps that need to ask the operator something mid-run.
func (cp *ControlPlane) RequestUserInput(ctx context.Context, req InputRequest) (InputResponse, error) {
	responseCh := make(chan InputResponse, 1)

	cp.inputMu.Lock()
	cp.pendingInputs[req.ID] = responseCh
	cp.inputMu.Unlock()

	defer func() {
		cp.inputMu.Lock()
		delete(cp.pendingInputs, req.ID)
		cp.inputMu.Unlock()
	}()

	select {
	case cp.inputRequestCh <- req:
	case <-ctx.Done():
		return InputResponse{}, ctx.Err()
	case <-time.After(5 * time.Second):
		return InputResponse{}, fmt.Errorf("no subscriber accepted input request %q within 5s", req.ID)
	}

	var timeoutCh <-chan time.Time
	if req.Timeout > 0 {
		timeoutCh = time.After(req.Timeout)
	}

	select {
	case <-ctx.Done():
		return InputResponse{RequestID: req.ID, Cancelled: true}, ctx.Err()
	case <-timeoutCh:
		return InputResponse{RequestID: req.ID, Cancelled: true}, fmt.Errorf("input request %q timed out", req.ID)
	case resp := <-responseCh:
		return resp, nil
	}
}

// ProvideUserInput delivers input as the response to a pending
// RequestUserInput call matching requestID.
func (cp *ControlPlane) ProvideUserInput(requestID, input string) error {
	cp.inputMu.RLock()
	responseCh, ok := cp.pendingInputs[requestID]
	cp.inputMu.RUnlock()
	if !ok {
		return fmt.Errorf("no pending input request with id %q", requestID)
	}

	select {
	case responseCh <- InputResponse{RequestID: requestID, Input: input}:
		return nil
	default:
		return fmt.Errorf("input request %q already answered", requestID)
	}
}

// CancelUserInput cancels a pending RequestUserInput call matching
// requestID, unblocking it with Cancelled set instead of an answer.
func (cp *ControlPlane) CancelUserInput(requestID string) error {
	cp.inputMu.RLock()
	responseCh, ok := cp.pendingInputs[requestID]
	cp.inputMu.RUnlock()
	if !ok {
		return fmt.Errorf("no pending input request with id %q", requestID)
	}

	select {
	case responseCh <- InputResponse{RequestID: requestID, Cancelled: true}:
		return nil
	default:
		return fmt.Errorf("input request %q already answered", requestID)
	}
}

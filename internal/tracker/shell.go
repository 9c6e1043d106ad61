// Package tracker implements the generic external-process Tracker
// adapter: any task store is wired in by pointing at a CLI
// that speaks a one-request-per-line JSON protocol on stdin/stdout.
// Concrete backends (GitHub Issues, Linear, a markdown checklist,...)
// are the operator's CLI, not Go code in this module.
package tracker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/core"
)

// rpcRequest is one line written to the tracker CLI's stdin.
type rpcRequest struct {
	Method string `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// rpcResponse is one line read back from the tracker CLI's stdout.
type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code string `json:"code"`
	Message string `json:"message"`
}

// ShellTracker drives an external tracker CLI: one request object per
// line on stdin, one response object per line on stdout. The process is
// started once (Initialize) and kept alive for the session's lifetime,
// same long-lived-subprocess shape as agent.ShellAdapter's single
// execution, except here one process serves many calls.
type ShellTracker struct {
	command string
	timeout time.Duration

	mu sync.Mutex
	cmd *exec.Cmd
	stdin *bufio.Writer
	stdout *bufio.Reader
}

// NewShellTracker constructs a ShellTracker that launches command
// (a space-separated executable plus fixed args) on Initialize.
// timeout bounds every individual RPC; <= 0 defaults to 30s.
func NewShellTracker(command string, timeout time.Duration) *ShellTracker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShellTracker{command: command, timeout: timeout}
}

var _ core.Tracker = (*ShellTracker)(nil)

// Initialize starts the tracker subprocess and sends it an "initialize"
// call carrying config.
func (t *ShellTracker) Initialize(ctx context.Context, config map[string]interface{}) error {
	fields := strings.Fields(t.command)
	if len(fields) == 0 {
		return core.ErrPermanent(core.CodeMissingTrackerCLI, "tracker command is empty")
	}
	resolved, err := exec.LookPath(fields[0])
	if err != nil {
		return core.ErrPermanent(core.CodeMissingTrackerCLI, fmt.Sprintf("locating tracker CLI %q: %v", fields[0], err))
	}

	cmd := exec.Command(resolved, fields[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening tracker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return fmt.Errorf("opening tracker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return core.ErrPermanent(core.CodeMissingTrackerCLI, fmt.Sprintf("starting tracker CLI %q: %v", t.command, err))
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = bufio.NewWriter(stdin)
	t.stdout = bufio.NewReader(stdout)
	t.mu.Unlock()

	params, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encoding tracker config: %w", err)
	}
	_, err = t.call(ctx, "initialize", params)
	return err
}

// Close terminates the tracker subprocess, if running.
func (t *ShellTracker) Close() error {
	t.mu.Lock()
	cmd := t.cmd
	t.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// call sends req on stdin and blocks for one matching response line,
// serialized under t.mu so concurrent callers don't interleave frames.
func (t *ShellTracker) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil {
		return nil, core.ErrPermanent(core.CodeMissingTrackerCLI, "tracker not initialized")
	}

	line, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encoding tracker request: %w", err)
	}
	if _, err := t.stdin.Write(append(line, '\n')); err != nil {
		return nil, core.ErrTransient(core.CodeMissingTrackerCLI, fmt.Sprintf("writing to tracker CLI: %v", err))
	}
	if err := t.stdin.Flush(); err != nil {
		return nil, core.ErrTransient(core.CodeMissingTrackerCLI, fmt.Sprintf("flushing tracker CLI stdin: %v", err))
	}

	timeout := t.timeout
	deadline, ok := ctx.Deadline()
	if ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	type result struct {
		data []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		data, err := t.stdout.ReadBytes('\n')
		done <- result{data: data, err: err}
	}()

	select {
	case <-time.After(timeout):
		return nil, core.ErrTransient(core.CodeMissingTrackerCLI, fmt.Sprintf("tracker RPC %q timed out after %s", method, timeout))
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, core.ErrTransient(core.CodeMissingTrackerCLI, fmt.Sprintf("reading tracker CLI response: %v", r.err))
		}
		var resp rpcResponse
		if err := json.Unmarshal(bytes.TrimSpace(r.data), &resp); err != nil {
			return nil, core.ErrCorruption(core.CodeInvalidConfig, fmt.Sprintf("decoding tracker CLI response: %v", err))
		}
		if resp.Error != nil {
			return nil, core.ErrPermanent(resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (t *ShellTracker) GetTasks(ctx context.Context, filter *core.TaskFilter) ([]*core.Task, error) {
	params, err := json.Marshal(filter)
	if err != nil {
		return nil, err
	}
	raw, err := t.call(ctx, "getTasks", params)
	if err != nil {
		return nil, err
	}
	var tasks []*core.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, core.ErrCorruption(core.CodeInvalidConfig, fmt.Sprintf("decoding getTasks result: %v", err))
	}
	return tasks, nil
}

func (t *ShellTracker) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	params, _ := json.Marshal(map[string]core.TaskID{"id": id})
	raw, err := t.call(ctx, "getTask", params)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var task core.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, core.ErrCorruption(core.CodeInvalidConfig, fmt.Sprintf("decoding getTask result: %v", err))
	}
	return &task, nil
}

func (t *ShellTracker) GetNextTask(ctx context.Context, filter *core.TaskFilter) (*core.Task, error) {
	params, err := json.Marshal(filter)
	if err != nil {
		return nil, err
	}
	raw, err := t.call(ctx, "getNextTask", params)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var task core.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, core.ErrCorruption(core.CodeInvalidConfig, fmt.Sprintf("decoding getNextTask result: %v", err))
	}
	return &task, nil
}

func (t *ShellTracker) UpdateTaskStatus(ctx context.Context, id core.TaskID, status core.TaskStatus) (*core.Task, error) {
	params, _ := json.Marshal(map[string]string{"id": string(id), "status": string(status)})
	raw, err := t.call(ctx, "updateTaskStatus", params)
	if err != nil {
		return nil, err
	}
	var task core.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, core.ErrCorruption(core.CodeInvalidConfig, fmt.Sprintf("decoding updateTaskStatus result: %v", err))
	}
	return &task, nil
}

func (t *ShellTracker) CompleteTask(ctx context.Context, id core.TaskID, reason string) (*core.CompleteTaskResult, error) {
	params, _ := json.Marshal(map[string]string{"id": string(id), "reason": reason})
	raw, err := t.call(ctx, "completeTask", params)
	if err != nil {
		return nil, err
	}
	var res core.CompleteTaskResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, core.ErrCorruption(core.CodeInvalidConfig, fmt.Sprintf("decoding completeTask result: %v", err))
	}
	return &res, nil
}

func (t *ShellTracker) IsComplete(ctx context.Context, filter *core.TaskFilter) (bool, error) {
	params, err := json.Marshal(filter)
	if err != nil {
		return false, err
	}
	raw, err := t.call(ctx, "isComplete", params)
	if err != nil {
		return false, err
	}
	var complete bool
	if err := json.Unmarshal(raw, &complete); err != nil {
		return false, core.ErrCorruption(core.CodeInvalidConfig, fmt.Sprintf("decoding isComplete result: %v", err))
	}
	return complete, nil
}

func (t *ShellTracker) GetEpics(ctx context.Context) ([]*core.Task, error) {
	raw, err := t.call(ctx, "getEpics", nil)
	if err != nil {
		return nil, err
	}
	var epics []*core.Task
	if err := json.Unmarshal(raw, &epics); err != nil {
		return nil, core.ErrCorruption(core.CodeInvalidConfig, fmt.Sprintf("decoding getEpics result: %v", err))
	}
	return epics, nil
}

func (t *ShellTracker) GetPrdContext(ctx context.Context) (*core.PrdContext, error) {
	raw, err := t.call(ctx, "getPrdContext", nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var prd core.PrdContext
	if err := json.Unmarshal(raw, &prd); err != nil {
		return nil, core.ErrCorruption(core.CodeInvalidConfig, fmt.Sprintf("decoding getPrdContext result: %v", err))
	}
	return &prd, nil
}

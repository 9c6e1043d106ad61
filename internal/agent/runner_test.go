package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ralph-tui/ralph-tui/internal/core"
)

// writeFakeCLI writes an executable shell script to dir/name and returns its
// path. body is executed as the script's body.
func writeFakeCLI(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestMeta(format core.StructuredOutputFormat) core.AgentMeta {
	return core.AgentMeta{
		ID:                     "test-agent",
		Name:                   "test-agent",
		SupportsStreaming:      true,
		SupportsInterrupt:      true,
		StructuredOutputFormat: format,
	}
}

func TestShellAdapter_ExecuteCompletesOnMarker(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeCLI(t, dir, "fake-agent", `
cat >/dev/null
echo "working..."
echo "<promise>COMPLETE</promise>"
exit 0
`)

	a := NewShellAdapter(newTestMeta(core.StructuredOutputNone), path, "", "", nil, core.SandboxRequirements{})
	handle, err := a.Execute(context.Background(), "do the thing", core.ExecuteOptions{})
	require.NoError(t, err)

	for range handle.Events() {
	}

	res, err := handle.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStatusCompleted, res.Status)
	require.Equal(t, 0, res.ExitCode)
	require.Contains(t, res.Stdout, "working...")
	require.True(t, DetectPromiseComplete(res.Stdout, res.Stderr))
}

func TestShellAdapter_ExecuteCompletesWithoutMarkerLeavesPromiseIncomplete(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeCLI(t, dir, "fake-agent", `
cat >/dev/null
echo "did some stuff but never finished"
exit 0
`)

	a := NewShellAdapter(newTestMeta(core.StructuredOutputNone), path, "", "", nil, core.SandboxRequirements{})
	handle, err := a.Execute(context.Background(), "do the thing", core.ExecuteOptions{})
	require.NoError(t, err)
	for range handle.Events() {
	}

	res, err := handle.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStatusCompleted, res.Status)
	require.False(t, DetectPromiseComplete(res.Stdout, res.Stderr))
}

func TestShellAdapter_ExecuteNonZeroExitIsFailed(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeCLI(t, dir, "fake-agent", `
cat >/dev/null
echo "boom" 1>&2
exit 1
`)

	a := NewShellAdapter(newTestMeta(core.StructuredOutputNone), path, "", "", nil, core.SandboxRequirements{})
	handle, err := a.Execute(context.Background(), "do the thing", core.ExecuteOptions{})
	require.NoError(t, err)
	for range handle.Events() {
	}

	res, err := handle.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStatusFailed, res.Status)
	require.Equal(t, 1, res.ExitCode)
}

func TestShellAdapter_ExecuteDetectsRateLimit(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeCLI(t, dir, "fake-agent", `
cat >/dev/null
echo "429 Too Many Requests" 1>&2
exit 1
`)

	a := NewShellAdapter(newTestMeta(core.StructuredOutputNone), path, "", "", nil, core.SandboxRequirements{})
	handle, err := a.Execute(context.Background(), "do the thing", core.ExecuteOptions{})
	require.NoError(t, err)
	for range handle.Events() {
	}

	res, err := handle.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStatusRateLimited, res.Status)
}

func TestShellAdapter_ExecuteParsesRetryAfterHeaderEcho(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeCLI(t, dir, "fake-agent", `
cat >/dev/null
echo "429 Too Many Requests, Retry-After: 30" 1>&2
exit 1
`)

	a := NewShellAdapter(newTestMeta(core.StructuredOutputNone), path, "", "", nil, core.SandboxRequirements{})
	handle, err := a.Execute(context.Background(), "do the thing", core.ExecuteOptions{})
	require.NoError(t, err)
	for range handle.Events() {
	}

	res, err := handle.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStatusRateLimited, res.Status)
	require.Equal(t, int64(30000), res.RetryAfterMs)
}

func TestShellAdapter_ExecuteParsesJSONLUsage(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeCLI(t, dir, "fake-agent", `
cat >/dev/null
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"working"}]}}'
echo '{"type":"result","subtype":"success","result":"<promise>complete</promise>","input_tokens":100,"output_tokens":50}'
exit 0
`)

	a := NewShellAdapter(newTestMeta(core.StructuredOutputJSONL), path, "", "", nil, core.SandboxRequirements{})
	handle, err := a.Execute(context.Background(), "do the thing", core.ExecuteOptions{})
	require.NoError(t, err)

	var sawText bool
	for ev := range handle.Events() {
		if ev.Type == core.DisplayEventText && ev.Content == "working" {
			sawText = true
		}
	}
	require.True(t, sawText)

	res, err := handle.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStatusCompleted, res.Status)
	require.NotNil(t, res.TokenUsage)
}

func TestShellAdapter_ExecuteTimeout(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeCLI(t, dir, "fake-agent", `
cat >/dev/null
sleep 5
echo "<promise>complete</promise>"
`)

	a := NewShellAdapter(newTestMeta(core.StructuredOutputNone), path, "", "", nil, core.SandboxRequirements{})
	handle, err := a.Execute(context.Background(), "do the thing", core.ExecuteOptions{TimeoutMs: 200})
	require.NoError(t, err)
	for range handle.Events() {
	}

	res, err := handle.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStatusTimeout, res.Status)
}

func TestShellAdapter_Interrupt(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeCLI(t, dir, "fake-agent", `
cat >/dev/null
trap 'echo "interrupted"; exit 130' INT
sleep 5
`)

	a := NewShellAdapter(newTestMeta(core.StructuredOutputNone), path, "", "", nil, core.SandboxRequirements{})
	handle, err := a.Execute(context.Background(), "do the thing", core.ExecuteOptions{InterruptGraceMs: 500})
	require.NoError(t, err)

	go func() {
		for range handle.Events() {
		}
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, handle.Interrupt(context.Background()))

	res, err := handle.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, res.Interrupted)
	require.Equal(t, core.ExecutionStatusInterrupted, res.Status)
}

func TestShellAdapter_Detect(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeCLI(t, dir, "fake-agent", `echo "fake-agent v1.2.3"`)

	a := NewShellAdapter(newTestMeta(core.StructuredOutputNone), path, "", "", nil, core.SandboxRequirements{})
	res, err := a.Detect(context.Background())
	require.NoError(t, err)
	require.True(t, res.Available)
	require.Equal(t, "v1.2.3", res.Version)
}

func TestShellAdapter_DetectMissingBinary(t *testing.T) {
	a := NewShellAdapter(newTestMeta(core.StructuredOutputNone), "/nonexistent/definitely-not-a-real-cli", "", "", nil, core.SandboxRequirements{})
	res, err := a.Detect(context.Background())
	require.NoError(t, err)
	require.False(t, res.Available)
}

func TestShellAdapter_ValidateModel(t *testing.T) {
	a := NewShellAdapter(newTestMeta(core.StructuredOutputNone), "fake", "fixed-model", "", nil, core.SandboxRequirements{})
	require.NoError(t, a.ValidateModel(""))
	require.NoError(t, a.ValidateModel("fixed-model"))
	require.Error(t, a.ValidateModel("other-model"))
}

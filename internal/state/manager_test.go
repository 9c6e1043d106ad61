package state

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ralph-tui/ralph-tui/internal/core"
)

func TestManager_SaveLoadSessionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	ctx := context.Background()

	require.False(t, m.Exists())

	s := core.NewSessionState("sess-1", dir, "linear", "claude", 10)
	s.Activate("T1")
	require.NoError(t, m.Save(ctx, s))

	require.True(t, m.Exists())

	loaded, err := m.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, "sess-1", loaded.SessionID)
}

func TestManager_LoadMissingSessionReturnsNilNil(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	loaded, err := m.Load(context.Background())
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestManager_SaveLoadParallelRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	ctx := context.Background()

	ps := &core.ParallelSessionState{
		SessionID: "sess-1",
		Workers: []core.WorkerDisplayState{
			{ID: "w1", Status: core.WorkerStatusRunning},
		},
	}
	require.NoError(t, m.SaveParallel(ctx, ps))

	loaded, err := m.LoadParallel(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, "sess-1", loaded.SessionID)
	require.Len(t, loaded.Workers, 1)
	require.Equal(t, "w1", loaded.Workers[0].ID)
}

func TestManager_LoadParallelMissingReturnsNilNil(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	loaded, err := m.LoadParallel(context.Background())
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestManager_LoadParallelCorruptReturnsCorruptionError(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	require.NoError(t, m.SaveParallel(context.Background(), &core.ParallelSessionState{SessionID: "sess-1"}))

	// Overwrite with invalid JSON to simulate a torn/corrupt write.
	require.NoError(t, os.WriteFile(m.parallelPath(), []byte("{not json"), 0o600))

	_, err := m.LoadParallel(context.Background())
	require.Error(t, err)
	require.True(t, core.IsCategory(err, core.ErrCatCorruption))
}

func TestManager_AcquireReleaseLock(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	ctx := context.Background()

	require.NoError(t, m.AcquireLock(ctx))
	require.Error(t, m.AcquireLock(ctx))
	require.NoError(t, m.ReleaseLock(ctx))
	require.NoError(t, m.AcquireLock(ctx))
}

func TestManager_AppendProgress(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	ctx := context.Background()

	require.NoError(t, m.AppendProgress(ctx, "iteration 1 completed"))
	require.NoError(t, m.AppendProgress(ctx, "iteration 2 completed"))

	content, err := m.log.Read()
	require.NoError(t, err)
	require.Contains(t, content, "iteration 1 completed")
	require.Contains(t, content, "iteration 2 completed")
}

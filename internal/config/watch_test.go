package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path, err := EnsureConfigFile(dir)
	require.NoError(t, err)

	loader := NewLoader().WithProjectDir(dir)
	initial, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, "info", initial.Log.Level)

	w, err := NewWatcher(loader, initial)
	require.NoError(t, err)
	defer w.Close()

	changed := make(chan *Config, 1)
	w.OnChange(func(c *Config) { changed <- c })
	go w.Run()

	updated := `
[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case cfg := <-changed:
		require.Equal(t, "debug", cfg.Log.Level)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	require.Equal(t, "debug", w.Current().Log.Level)
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := EnsureConfigFile(dir)
	require.NoError(t, err)

	loader := NewLoader().WithProjectDir(dir)
	initial, err := loader.Load()
	require.NoError(t, err)

	w, err := NewWatcher(loader, initial)
	require.NoError(t, err)
	defer w.Close()

	changed := make(chan *Config, 1)
	w.OnChange(func(c *Config) { changed <- c })
	go w.Run()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigDirName, "unrelated.txt"), []byte("noop"), 0o600))

	select {
	case <-changed:
		t.Fatal("unexpected reload triggered by unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}

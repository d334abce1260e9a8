package watcher_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/tmscope/internal/watcher"
)

func isYAML(name string) bool { return strings.HasSuffix(name, ".yaml") }

func startWatcher(t *testing.T, dirs ...string) <-chan []watcher.Change {
	t.Helper()
	w, err := watcher.New(watcher.Config{
		Dirs:        dirs,
		Match:       isYAML,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	t.Cleanup(func() { _ = w.Stop() })

	onChange, err := w.Start()
	require.NoError(t, err, "failed to start watcher")
	return onChange
}

func TestWatcher_DebounceMultipleWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lang.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scopeName: a"), 0o644))

	onChange := startWatcher(t, dir)

	// Rapid writes should coalesce into single notification
	for i := range 10 {
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("scopeName: a%d", i)), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case batch := <-onChange:
		require.Equal(t, []watcher.Change{{Path: path}}, batch)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected notification but got timeout")
	}

	select {
	case batch := <-onChange:
		t.Fatalf("unexpected second notification: %v", batch)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_IgnoresIrrelevantFiles(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("initial"), 0o644))

	onChange := startWatcher(t, dir)
	require.NoError(t, os.WriteFile(other, []byte("other content"), 0o644))

	select {
	case batch := <-onChange:
		t.Fatalf("should not notify for unrelated files: %v", batch)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_ReportsRemovals(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "a.yaml")
	gone := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(gone, []byte("scopeName: b"), 0o644))

	onChange := startWatcher(t, dir)
	require.NoError(t, os.WriteFile(keep, []byte("scopeName: a"), 0o644))
	require.NoError(t, os.Remove(gone))

	select {
	case batch := <-onChange:
		require.Equal(t, []watcher.Change{
			{Path: keep},
			{Path: gone, Removed: true},
		}, batch)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected notification for create and remove")
	}
}

func TestWatcher_MultipleDirs(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	onChange := startWatcher(t, first, second)

	path := filepath.Join(second, "lang.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scopeName: x"), 0o644))

	select {
	case batch := <-onChange:
		require.Equal(t, []watcher.Change{{Path: path}}, batch)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected notification from second directory")
	}
}

func TestWatcher_MissingDir(t *testing.T) {
	w, err := watcher.New(watcher.DefaultConfig(filepath.Join(t.TempDir(), "missing")))
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	_, err = w.Start()
	require.Error(t, err)
}

func TestWatcher_Stop(t *testing.T) {
	w, err := watcher.New(watcher.DefaultConfig(t.TempDir()))
	require.NoError(t, err, "failed to create watcher")

	_, err = w.Start()
	require.NoError(t, err, "failed to start watcher")

	done := make(chan struct{})
	go func() {
		assert.NoError(t, w.Stop(), "Stop returned error")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Stop() timed out - possible deadlock")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := watcher.DefaultConfig("/grammars", "/more")

	assert.Equal(t, []string{"/grammars", "/more"}, cfg.Dirs)
	assert.Equal(t, 200*time.Millisecond, cfg.DebounceDur)
	assert.Nil(t, cfg.Match)
}

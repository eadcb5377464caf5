package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/hdbgraph/internal/testutil"
)

// startWatcher runs a watcher on dir and returns the channel its batches
// are delivered on.
func startWatcher(t *testing.T, dir string, filter func(string) bool) <-chan []string {
	t.Helper()

	w, err := New(Config{
		Dir:      dir,
		Debounce: 50 * time.Millisecond,
		Filter:   filter,
		Logger:   testutil.NewTestLogger(t),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan []string, 10)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, paths []string) {
			batches <- paths
		})
	}()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return batches
}

func waitBatch(t *testing.T, batches <-chan []string) []string {
	t.Helper()
	select {
	case paths := <-batches:
		return paths
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
		return nil
	}
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{"views/V.hdbview": "VIEW V AS SELECT 1 FROM T"})
	batches := startWatcher(t, dir, nil)

	path := filepath.Join(dir, "views", "V.hdbview")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("VIEW V AS SELECT 2 FROM T"), 0o600))
	}

	assert.Equal(t, []string{path}, waitBatch(t, batches))
}

func TestWatcher_Filter(t *testing.T) {
	dir := t.TempDir()
	batches := startWatcher(t, dir, func(p string) bool {
		return strings.HasSuffix(p, ".sql")
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "P.sql"), []byte("x"), 0o600))

	for _, p := range waitBatch(t, batches) {
		assert.True(t, strings.HasSuffix(p, "P.sql"), p)
	}
}

func TestWatcher_NewDirectory(t *testing.T) {
	dir := t.TempDir()
	batches := startWatcher(t, dir, func(p string) bool {
		return strings.HasSuffix(p, ".sql")
	})

	sub := filepath.Join(dir, "procs")
	require.NoError(t, os.Mkdir(sub, 0o750))
	// Give the watch loop a moment to register the new directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "P.sql"), []byte("x"), 0o600))

	assert.Contains(t, waitBatch(t, batches), filepath.Join(sub, "P.sql"))
}

func TestNew_MissingDir(t *testing.T) {
	_, err := New(Config{Dir: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

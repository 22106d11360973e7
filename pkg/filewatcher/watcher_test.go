package filewatcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWatcher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	tempDir := t.TempDir()
	watched := filepath.Join(tempDir, "mcserver.yaml")

	fw, err := New(
		WithLogger(logger),
		WithFiles(watched),
		WithDebounce(100*time.Millisecond),
	)
	require.NoError(t, err, "Failed to create file watcher")

	changeCh := make(chan string, 10)
	fw.AddCallback(func(file string) {
		changeCh <- file
	})

	require.NoError(t, fw.Start(), "Failed to start file watcher")
	defer fw.Stop()

	// Create the watched file
	require.NoError(t, os.WriteFile(watched, []byte("listen: \":2345\"\n"), 0644))

	select {
	case changedFile := <-changeCh:
		assert.Equal(t, watched, changedFile, "Changed file should match")
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for file change notification")
	}

	// A sibling file is ignored
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "other.yaml"), []byte("x"), 0644))

	select {
	case changedFile := <-changeCh:
		t.Fatalf("Received unexpected change notification for %s", changedFile)
	case <-time.After(400 * time.Millisecond):
	}

	// Atomic save: write a temp file and rename it over the watched one
	tmp := filepath.Join(tempDir, ".mcserver.yaml.swp")
	require.NoError(t, os.WriteFile(tmp, []byte("listen: \":2346\"\n"), 0644))
	require.NoError(t, os.Rename(tmp, watched))

	select {
	case changedFile := <-changeCh:
		assert.Equal(t, watched, changedFile, "Changed file should match")
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for file change notification after rename")
	}
}

func TestFileWatcherDebouncesBursts(t *testing.T) {
	tempDir := t.TempDir()
	watched := filepath.Join(tempDir, "mcserver.toml")

	fw, err := New(WithFiles(watched), WithDebounce(200*time.Millisecond))
	require.NoError(t, err)

	changeCh := make(chan string, 10)
	fw.AddCallback(func(file string) { changeCh <- file })
	require.NoError(t, fw.Start())
	defer fw.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(watched, []byte("x"), 0644))
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-changeCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for file change notification")
	}
	select {
	case <-changeCh:
		t.Fatal("burst produced more than one notification")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWithFilesRequiresPaths(t *testing.T) {
	_, err := New(WithFiles())
	assert.Error(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	fw, err := New(WithFiles(filepath.Join(t.TempDir(), "a.yaml")))
	require.NoError(t, err)
	require.NoError(t, fw.Start())
	require.NoError(t, fw.Stop())
	assert.NoError(t, fw.Stop())
}

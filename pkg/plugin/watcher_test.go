package plugin

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriftWatcherNotifiesOnManifestChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calendar.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	var mu sync.Mutex
	var drifted []string
	watcher, err := NewDriftWatcher(DriftWatcherConfig{
		ManifestDir: dir,
		Logger:      zerolog.Nop(),
		Debounce:    20 * time.Millisecond,
		OnDrift: func(p string) {
			mu.Lock()
			drifted = append(drifted, p)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"id":"calendar"}`), 0644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(drifted) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, path, drifted[0])
}

func TestDriftWatcherIgnoresNonManifestFiles(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var count int
	watcher, err := NewDriftWatcher(DriftWatcherConfig{
		ManifestDir: dir,
		Logger:      zerolog.Nop(),
		Debounce:    20 * time.Millisecond,
		OnDrift: func(string) {
			mu.Lock()
			count++
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)
}

func TestDriftWatcherRequiresManifestDir(t *testing.T) {
	_, err := NewDriftWatcher(DriftWatcherConfig{Logger: zerolog.Nop()})
	assert.Error(t, err)
}

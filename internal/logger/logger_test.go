package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atrium.log")

	l, err := New(Config{Level: "debug", File: path})
	require.NoError(t, err)

	zl := l.Zerolog()
	zl.Info().Str("plugin_id", "calendar").Msg("mounted")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "mounted", entry["message"])
	assert.Equal(t, "calendar", entry["plugin_id"])
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atrium.log")

	l, err := New(Config{Level: "chatty", File: path})
	require.NoError(t, err)
	defer l.Close()

	zl := l.Zerolog()
	zl.Debug().Msg("hidden")
	zl.Info().Msg("visible")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "visible")
}

func TestRedactionEnabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atrium.log")

	l, err := New(Config{Level: "info", File: path, Redaction: true})
	require.NoError(t, err)

	zl := l.Zerolog()
	zl.Info().Msg("header Bearer abc.def.ghi sent")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "abc.def.ghi")
	assert.Contains(t, string(data), "[REDACTED]")
}

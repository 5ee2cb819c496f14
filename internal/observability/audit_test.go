package observability

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	audit, err := NewAuditLogger(Config{Path: path})
	require.NoError(t, err)
	defer audit.Close()

	audit.RecordPluginEvent(context.Background(), "calendar", "route.mounted", 0,
		Resource{Type: "route", ID: "/api/v1/apps/calendar"},
		map[string]interface{}{"route_count": 3})

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))

	assert.Equal(t, "route.mounted", entry["type"])
	assert.Equal(t, "plugin", entry["actor_type"])
	assert.Equal(t, "calendar", entry["actor_id"])
	assert.Equal(t, "route", entry["resource_type"])
	assert.NotEmpty(t, entry["id"])
}

func TestRecordNotifiesObserver(t *testing.T) {
	var seen []AuditEvent
	audit, err := NewAuditLogger(Config{
		Path: filepath.Join(t.TempDir(), "audit.log"),
		Observer: func(event AuditEvent) {
			seen = append(seen, event)
		},
	})
	require.NoError(t, err)
	defer audit.Close()

	audit.RecordSystemEvent(context.Background(), "plugin.quarantined",
		Resource{Type: "plugin", ID: "calendar"}, nil)

	require.Len(t, seen, 1)
	assert.Equal(t, "plugin.quarantined", seen[0].Type)
	assert.Equal(t, "system", seen[0].Actor.Type)
	assert.NotEmpty(t, seen[0].ID)
	assert.False(t, seen[0].Timestamp.IsZero())
}

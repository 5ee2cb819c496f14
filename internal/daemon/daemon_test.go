package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atriumhq/atrium/internal/config"
	"github.com/atriumhq/atrium/internal/logger"
	"github.com/atriumhq/atrium/pkg/capability"
	"github.com/atriumhq/atrium/pkg/mount"
	"github.com/atriumhq/atrium/pkg/plugin"
)

func writeManifest(t *testing.T, dir, id string, manifest map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), data, 0644))
}

func newDaemonFixture(t *testing.T, opts Options) *Daemon {
	t.Helper()

	dataDir := t.TempDir()
	manifestDir := filepath.Join(dataDir, "plugins")
	require.NoError(t, os.MkdirAll(manifestDir, 0755))

	writeManifest(t, manifestDir, "calendar", map[string]interface{}{
		"id":           "calendar",
		"packageName":  "@atrium/calendar",
		"version":      "2.1.0",
		"tier":         "C",
		"capabilities": []string{"app:routes", "core:service:users:read"},
		"features": map[string]interface{}{
			"booking": map[string]interface{}{"defaultEnabled": true},
		},
	})
	// Tier A plugin asking for a tier B capability: must be skipped.
	writeManifest(t, manifestDir, "overreach", map[string]interface{}{
		"id":           "overreach",
		"packageName":  "@atrium/overreach",
		"version":      "1.0.0",
		"tier":         "A",
		"capabilities": []string{"app:storage"},
	})
	writeManifest(t, manifestDir, "navbar", map[string]interface{}{
		"id":           "navbar",
		"packageName":  "@atrium/navbar",
		"version":      "1.0.0",
		"tier":         "A",
		"capabilities": []string{"ui:filter:navigation"},
	})

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.Server.Port = 18080
	cfg.Server.AdminSecret = "sekrit"
	cfg.Plugins.ManifestDir = manifestDir
	cfg.Plugins.WatchManifests = false
	cfg.Plugins.CoreGrants = map[string][]string{
		"calendar": {capability.CapCoreUsersRead},
	}
	cfg.Maintenance.Enabled = false
	require.NoError(t, cfg.Validate())

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	d, err := New(cfg, log, opts)
	require.NoError(t, err)
	t.Cleanup(func() { d.teardown() })

	return d
}

func TestNewLoadsValidPluginsAndSkipsOverreach(t *testing.T) {
	d := newDaemonFixture(t, Options{})

	entry, ok := d.Registry().Get("calendar")
	require.True(t, ok)
	assert.Equal(t, plugin.StatusActive, entry.Status)
	assert.ElementsMatch(t,
		[]string{capability.CapAppRoutes, capability.CapCoreUsersRead},
		entry.GrantedCapabilities)

	_, ok = d.Registry().Get("overreach")
	assert.False(t, ok, "plugin exceeding its tier must not register")

	_, ok = d.Registry().Get("navbar")
	assert.True(t, ok)
}

func TestPrivilegedGrantNarrowedWithoutCoreGrant(t *testing.T) {
	d := newDaemonFixture(t, Options{})

	// Fixture grants calendar core:service:users:read; drop it and reload.
	d.config.Plugins.CoreGrants = map[string][]string{}
	d.registry = plugin.NewRegistry()
	require.NoError(t, d.loadPlugins())

	entry, ok := d.Registry().Get("calendar")
	require.True(t, ok)
	assert.Equal(t, []string{capability.CapAppRoutes}, entry.GrantedCapabilities)
}

func TestMountAllMountsRegisteredModules(t *testing.T) {
	d := newDaemonFixture(t, Options{
		Modules: map[string]mount.ModuleFactory{
			"calendar": func() (mount.Module, error) {
				return mount.RegisterFunc(func(ctx context.Context, pctx *mount.Context) error {
					return pctx.Routes.HandleFunc(http.MethodGet, "/slots",
						func(w http.ResponseWriter, r *http.Request) {
							w.WriteHeader(http.StatusOK)
						}, mount.AsPublic())
				}), nil
			},
		},
	})

	results := d.Mounter().MountAll(context.Background(), d.Registry())

	byID := make(map[string]mount.Result, len(results))
	for _, result := range results {
		byID[result.PluginID] = result
	}

	require.True(t, byID["calendar"].OK)
	assert.Equal(t, 1, byID["calendar"].RouteCount)
	// navbar holds no app:routes capability, so MountAll never attempts it.
	_, attempted := byID["navbar"]
	assert.False(t, attempted)
}

func TestQuarantineStripsHooksAndTokens(t *testing.T) {
	d := newDaemonFixture(t, Options{})

	require.NoError(t, d.Hooks().AddAction("booking.created", "calendar",
		func(ctx context.Context, payload interface{}) error { return nil }))
	_, err := d.tokens.Create("calendar", 1, "ci")
	require.NoError(t, err)

	require.NoError(t, d.Quarantine(context.Background(), "calendar"))

	entry, ok := d.Registry().Get("calendar")
	require.True(t, ok)
	assert.Equal(t, plugin.StatusQuarantined, entry.Status)
	assert.Equal(t, 0, d.Hooks().ActionCount("booking.created"))
	assert.Empty(t, d.tokens.ListForPlugin("calendar"))
}

func TestQuarantineUnknownPlugin(t *testing.T) {
	d := newDaemonFixture(t, Options{})
	assert.Error(t, d.Quarantine(context.Background(), "ghost"))
}

func TestAdminQuarantineEndToEnd(t *testing.T) {
	d := newDaemonFixture(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/internal/plugins/calendar/quarantine", nil)
	req.Header.Set("X-Atrium-Admin-Secret", "sekrit")
	rec := httptest.NewRecorder()
	d.Server().Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	entry, _ := d.Registry().Get("calendar")
	assert.Equal(t, plugin.StatusQuarantined, entry.Status)
}

func TestStatusBeforeStart(t *testing.T) {
	d := newDaemonFixture(t, Options{})

	status := d.Status()
	assert.False(t, status.Running)
	assert.Equal(t, 2, status.Plugins)
	assert.Equal(t, 0, status.Mounted)
}

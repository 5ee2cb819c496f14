package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/atriumhq/atrium/internal/tracing"
	"github.com/atriumhq/atrium/pkg/capability"
	"github.com/atriumhq/atrium/pkg/feature"
	"github.com/atriumhq/atrium/pkg/mount"
	"github.com/atriumhq/atrium/pkg/plugin"
	"github.com/atriumhq/atrium/pkg/state"
	"github.com/atriumhq/atrium/pkg/tokens"
)

type enforcerFixture struct {
	registry *plugin.Registry
	store    *state.Store
	tokens   *tokens.Manager
	enforcer *Enforcer
}

func newEnforcerFixture(t *testing.T) *enforcerFixture {
	t.Helper()

	registry := plugin.NewRegistry()
	store, err := state.NewStore(state.Config{
		Path:   filepath.Join(t.TempDir(), "state.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	manager, err := tokens.NewManager(tokens.ManagerOptions{
		StorePath: filepath.Join(t.TempDir(), "tokens.json"),
	})
	require.NoError(t, err)

	return &enforcerFixture{
		registry: registry,
		store:    store,
		tokens:   manager,
		enforcer: NewEnforcer(EnforcerConfig{
			Registry: registry,
			Store:    store,
			Policy:   feature.NewPolicy(),
			Tenants:  NewTenantResolver(manager),
			Logger:   zerolog.Nop(),
		}),
	}
}

func (f *enforcerFixture) registerPlugin(t *testing.T, manifest *plugin.Manifest, status plugin.Status) {
	t.Helper()
	_, err := f.registry.Register(manifest, []string{capability.CapAppRoutes}, nil)
	require.NoError(t, err)
	if status != plugin.StatusActive {
		require.NoError(t, f.registry.SetStatus(manifest.ID, status))
	}
}

func calendarTestManifest() *plugin.Manifest {
	return &plugin.Manifest{
		ID:      "calendar",
		Tier:    capability.TierC,
		Version: "1.0.0",
		Features: map[string]plugin.FeatureSpec{
			"booking": {DefaultEnabled: true},
		},
	}
}

// serve runs one request through the wrapped route and reports whether the
// downstream handler ran.
func (f *enforcerFixture) serve(route mount.Route, req *http.Request) (*httptest.ResponseRecorder, *bool) {
	reached := false
	handler := f.enforcer.Wrap(route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, &reached
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestEnforceMissingBinding(t *testing.T) {
	f := newEnforcerFixture(t)

	rec, reached := f.serve(mount.Route{}, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, *reached)
}

func TestEnforceUnknownPlugin(t *testing.T) {
	f := newEnforcerFixture(t)

	route := mount.Route{PluginID: "ghost", Method: http.MethodGet, FullPath: "/api/v1/apps/ghost"}
	rec, reached := f.serve(route, httptest.NewRequest(http.MethodGet, "/api/v1/apps/ghost", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodePluginNotFound, decodeError(t, rec))
	assert.False(t, *reached)
}

func TestEnforceQuarantinedPlugin(t *testing.T) {
	f := newEnforcerFixture(t)
	f.registerPlugin(t, calendarTestManifest(), plugin.StatusQuarantined)

	route := mount.Route{PluginID: "calendar", Method: http.MethodGet, FullPath: "/api/v1/apps/calendar"}
	rec, reached := f.serve(route, httptest.NewRequest(http.MethodGet, "/api/v1/apps/calendar", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodePluginQuarantined, decodeError(t, rec))
	assert.False(t, *reached)
}

func TestEnforceInactivePlugin(t *testing.T) {
	f := newEnforcerFixture(t)
	f.registerPlugin(t, calendarTestManifest(), plugin.StatusInactive)

	route := mount.Route{PluginID: "calendar", Method: http.MethodGet, FullPath: "/api/v1/apps/calendar"}
	rec, _ := f.serve(route, httptest.NewRequest(http.MethodGet, "/api/v1/apps/calendar", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodePluginNotActive, decodeError(t, rec))
}

func TestEnforceRequiredFeaturesWithoutTenant(t *testing.T) {
	f := newEnforcerFixture(t)
	f.registerPlugin(t, calendarTestManifest(), plugin.StatusActive)

	route := mount.Route{
		PluginID:         "calendar",
		Method:           http.MethodGet,
		FullPath:         "/api/v1/apps/calendar/book",
		RequiredFeatures: []string{"booking"},
		Public:           true,
	}
	// Public route, but no tenant hint at all.
	rec, reached := f.serve(route, httptest.NewRequest(http.MethodGet, "/api/v1/apps/calendar/book", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeTenantRequired, decodeError(t, rec))
	assert.False(t, *reached)
}

func TestEnforceDisabledForTenant(t *testing.T) {
	f := newEnforcerFixture(t)
	f.registerPlugin(t, calendarTestManifest(), plugin.StatusActive)

	route := mount.Route{PluginID: "calendar", Method: http.MethodGet, FullPath: "/api/v1/apps/calendar", Public: true}

	// No state row at all.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/apps/calendar", nil)
	req.Header.Set(TenantHintHeader, "1")
	rec, reached := f.serve(route, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodePluginDisabled, decodeError(t, rec))
	assert.False(t, *reached)

	// Explicitly disabled row.
	require.NoError(t, f.store.Upsert(context.Background(), state.PluginState{
		TenantID: 1, PluginID: "calendar", Enabled: false,
	}))
	rec, reached = f.serve(route, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, *reached)
}

func TestEnforceFeatureDisabled(t *testing.T) {
	f := newEnforcerFixture(t)
	f.registerPlugin(t, calendarTestManifest(), plugin.StatusActive)

	require.NoError(t, f.store.Upsert(context.Background(), state.PluginState{
		TenantID: 1, PluginID: "calendar", Enabled: true,
		Config: map[string]interface{}{
			"features": map[string]interface{}{"booking": false},
		},
	}))

	route := mount.Route{
		PluginID:         "calendar",
		Method:           http.MethodGet,
		FullPath:         "/api/v1/apps/calendar/book",
		RequiredFeatures: []string{"booking"},
		Public:           true,
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/apps/calendar/book", nil)
	req.Header.Set(TenantHintHeader, "1")

	rec, reached := f.serve(route, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeFeatureDisabled, decodeError(t, rec))
	assert.False(t, *reached)
}

func TestEnforceUnknownRequiredFeatureFailsClosed(t *testing.T) {
	f := newEnforcerFixture(t)
	f.registerPlugin(t, calendarTestManifest(), plugin.StatusActive)

	require.NoError(t, f.store.Upsert(context.Background(), state.PluginState{
		TenantID: 1, PluginID: "calendar", Enabled: true,
	}))

	route := mount.Route{
		PluginID:         "calendar",
		Method:           http.MethodGet,
		FullPath:         "/api/v1/apps/calendar/x",
		RequiredFeatures: []string{"not-in-manifest"},
		Public:           true,
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/apps/calendar/x", nil)
	req.Header.Set(TenantHintHeader, "1")

	rec, _ := f.serve(route, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeFeatureDisabled, decodeError(t, rec))
}

func TestEnforceAllowedAttachesPluginRequest(t *testing.T) {
	f := newEnforcerFixture(t)
	f.registerPlugin(t, calendarTestManifest(), plugin.StatusActive)

	require.NoError(t, f.store.Upsert(context.Background(), state.PluginState{
		TenantID: 1, PluginID: "calendar", Enabled: true,
	}))

	route := mount.Route{
		PluginID:         "calendar",
		Method:           http.MethodGet,
		FullPath:         "/api/v1/apps/calendar/book",
		RequiredFeatures: []string{"booking"},
		Public:           true,
	}

	var attached *PluginRequest
	handler := f.enforcer.Wrap(route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attached, _ = PluginRequestFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/apps/calendar/book", nil)
	req.Header.Set(TenantHintHeader, "1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, attached)
	assert.Equal(t, "calendar", attached.ID)
	assert.Equal(t, []string{capability.CapAppRoutes}, attached.GrantedCapabilities)
	require.NotNil(t, attached.State)
	assert.True(t, attached.State.Enabled)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestEnforcePrivateRouteUsesVerifiedToken(t *testing.T) {
	f := newEnforcerFixture(t)
	f.registerPlugin(t, calendarTestManifest(), plugin.StatusActive)

	require.NoError(t, f.store.Upsert(context.Background(), state.PluginState{
		TenantID: 7, PluginID: "calendar", Enabled: true,
	}))

	token, err := f.tokens.Create("calendar", 7, "")
	require.NoError(t, err)

	route := mount.Route{
		PluginID:         "calendar",
		Method:           http.MethodGet,
		FullPath:         "/api/v1/apps/calendar/book",
		RequiredFeatures: []string{"booking"},
	}

	// Private route ignores the hint header without a valid token.
	hinted := httptest.NewRequest(http.MethodGet, "/api/v1/apps/calendar/book", nil)
	hinted.Header.Set(TenantHintHeader, "7")
	rec, _ := f.serve(route, hinted)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeTenantRequired, decodeError(t, rec))

	// With the plugin's token the tenant resolves verified.
	authed := httptest.NewRequest(http.MethodGet, "/api/v1/apps/calendar/book", nil)
	authed.Header.Set("Authorization", "Bearer "+token.Secret)
	rec, reached := f.serve(route, authed)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *reached)
}

func TestEnforceRejectsForeignPluginToken(t *testing.T) {
	f := newEnforcerFixture(t)
	f.registerPlugin(t, calendarTestManifest(), plugin.StatusActive)

	token, err := f.tokens.Create("notes", 7, "")
	require.NoError(t, err)

	route := mount.Route{
		PluginID:         "calendar",
		Method:           http.MethodGet,
		FullPath:         "/api/v1/apps/calendar/book",
		RequiredFeatures: []string{"booking"},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/apps/calendar/book", nil)
	req.Header.Set("Authorization", "Bearer "+token.Secret)

	rec, _ := f.serve(route, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeTenantRequired, decodeError(t, rec))
}

func TestEnforceNoTenantNoFeaturesProceedsWithoutState(t *testing.T) {
	f := newEnforcerFixture(t)
	f.registerPlugin(t, calendarTestManifest(), plugin.StatusActive)

	route := mount.Route{PluginID: "calendar", Method: http.MethodGet, FullPath: "/api/v1/apps/calendar", Public: true}

	var attached *PluginRequest
	handler := f.enforcer.Wrap(route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attached, _ = PluginRequestFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/apps/calendar", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, attached)
	assert.Nil(t, attached.State)
}

func TestEnforceAttachesRequestSpan(t *testing.T) {
	require.NoError(t, tracing.InitOpenTelemetry("atrium-test"))

	f := newEnforcerFixture(t)
	f.registerPlugin(t, calendarTestManifest(), plugin.StatusActive)

	route := mount.Route{PluginID: "calendar", Method: http.MethodGet, FullPath: "/api/v1/apps/calendar", Public: true}

	var spanValid bool
	handler := f.enforcer.Wrap(route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		spanValid = trace.SpanFromContext(r.Context()).SpanContext().IsValid()
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/apps/calendar", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, spanValid)
}

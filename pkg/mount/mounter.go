package mount

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/atriumhq/atrium/internal/observability"
	"github.com/atriumhq/atrium/pkg/capability"
	"github.com/atriumhq/atrium/pkg/hooks"
	"github.com/atriumhq/atrium/pkg/plugin"
	"github.com/atriumhq/atrium/pkg/tokens"
)

const (
	// RoutePrefixBase is the enforced namespace root for plugin routes.
	RoutePrefixBase = "/api/v1/apps"

	// MainAppPrefix is the reserved namespace of the first-party main app.
	MainAppPrefix = "/api/v1/main"
)

// Mount failure reasons, machine-readable.
const (
	ReasonCapabilityMissing = "capability_missing"
	ReasonNoModule          = "no_module"
	ReasonLoadFailed        = "load_failed"
	ReasonRegisterFailed    = "register_failed"
)

// Result reports one plugin's mount outcome. Failures are data, not errors:
// a failed mount excludes the plugin and boot continues.
type Result struct {
	PluginID   string `json:"plugin_id"`
	OK         bool   `json:"ok"`
	RouteCount int    `json:"route_count"`
	Reason     string `json:"reason,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Config configures a mounter.
type Config struct {
	Router Router
	Hooks  *hooks.Registry
	Audit  *observability.AuditLogger
	Tokens *tokens.Manager
	Core   CoreServices
	Logger zerolog.Logger

	// OnMountFailure, when set, observes each per-plugin mount failure.
	OnMountFailure func(pluginID, reason string)
}

// Mounter loads plugin server modules and binds their routes under each
// plugin's enforced namespace. All mounting happens at boot, before the
// host accepts traffic; MountPlugin is idempotent per plugin.
type Mounter struct {
	router    Router
	hooks     *hooks.Registry
	audit     *observability.AuditLogger
	tokens    *tokens.Manager
	core      CoreServices
	logger    zerolog.Logger
	onFailure func(pluginID, reason string)

	mu         sync.Mutex
	modules    map[string]ModuleFactory
	mounted    map[string]bool
	registrars map[string]*Registrar
}

// NewMounter creates a mounter bound to the host router.
func NewMounter(cfg Config) (*Mounter, error) {
	if cfg.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if cfg.Hooks == nil {
		return nil, fmt.Errorf("hook registry is required")
	}

	return &Mounter{
		router:     cfg.Router,
		hooks:      cfg.Hooks,
		audit:      cfg.Audit,
		tokens:     cfg.Tokens,
		core:       cfg.Core,
		logger:     cfg.Logger.With().Str("component", "mounter").Logger(),
		onFailure:  cfg.OnMountFailure,
		modules:    make(map[string]ModuleFactory),
		mounted:    make(map[string]bool),
		registrars: make(map[string]*Registrar),
	}, nil
}

// RegisterModule adds a plugin's server-module factory to the static
// registration table. Must happen before MountPlugin.
func (m *Mounter) RegisterModule(pluginID string, factory ModuleFactory) error {
	if factory == nil {
		return fmt.Errorf("module factory for %s cannot be nil", pluginID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.modules[pluginID]; exists {
		return fmt.Errorf("module for %s already registered", pluginID)
	}
	m.modules[pluginID] = factory
	return nil
}

// MountPlugin mounts one plugin's routes. Calling it again for an already
// mounted plugin succeeds with RouteCount 0 and binds nothing new.
func (m *Mounter) MountPlugin(ctx context.Context, entry *plugin.Entry) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	pluginID := entry.ID
	if m.mounted[pluginID] {
		return Result{PluginID: pluginID, OK: true, RouteCount: 0}
	}

	if !entry.HasCapability(capability.CapAppRoutes) {
		return m.failLocked(pluginID, ReasonCapabilityMissing,
			fmt.Sprintf("capability %s not granted", capability.CapAppRoutes))
	}

	factory, ok := m.modules[pluginID]
	if !ok {
		return m.failLocked(pluginID, ReasonNoModule, "no server module registered")
	}

	module, err := loadModule(factory)
	if err != nil {
		return m.failLocked(pluginID, ReasonLoadFailed, err.Error())
	}

	prefix := m.resolvePrefix(entry.Manifest)
	registrar := NewRegistrar(pluginID, prefix, m.router)
	pctx := m.buildContext(entry, registrar)

	if registerer, ok := module.(Registerer); ok {
		if err := runRegister(ctx, registerer, pctx); err != nil {
			return m.failLocked(pluginID, ReasonRegisterFailed, err.Error())
		}
	}

	// Routes reach the router only on a clean registration, so a module
	// that binds some routes and then fails serves nothing.
	if err := registrar.Commit(); err != nil {
		return m.failLocked(pluginID, ReasonRegisterFailed, err.Error())
	}

	m.mounted[pluginID] = true
	m.registrars[pluginID] = registrar

	routeCount := registrar.RouteCount()
	m.logger.Info().
		Str("plugin_id", pluginID).
		Str("prefix", prefix).
		Int("route_count", routeCount).
		Msg("Plugin mounted")

	if m.audit != nil {
		m.audit.RecordSystemEvent(ctx, "plugin.mounted",
			observability.Resource{Type: "plugin", ID: pluginID},
			map[string]interface{}{"route_count": routeCount, "prefix": prefix})
	}

	return Result{PluginID: pluginID, OK: true, RouteCount: routeCount}
}

// MountAll mounts every active plugin whose tier permits routes. One
// plugin's failure never blocks another's mount.
func (m *Mounter) MountAll(ctx context.Context, registry *plugin.Registry) []Result {
	var results []Result
	for _, entry := range registry.ByStatus(plugin.StatusActive) {
		if !capability.CanMountRoutes(entry.Manifest.Tier) {
			continue
		}
		results = append(results, m.MountPlugin(ctx, entry))
	}
	return results
}

// resolvePrefix computes the enforced route prefix for a manifest. A
// declared prefix is honored only when it equals the plugin's base
// namespace or nests under it; anything else is replaced with the base and
// warned about, so no plugin can claim another namespace. The main app may
// also declare its reserved namespace.
func (m *Mounter) resolvePrefix(manifest *plugin.Manifest) string {
	base := RoutePrefixBase + "/" + manifest.ID
	declared := manifest.RoutePrefix

	if declared == "" || declared == base {
		return firstNonEmpty(declared, base)
	}
	if strings.HasPrefix(declared, base+"/") {
		return declared
	}
	if manifest.Tier == capability.TierMainApp &&
		(declared == MainAppPrefix || strings.HasPrefix(declared, MainAppPrefix+"/")) {
		return declared
	}

	m.logger.Warn().
		Str("plugin_id", manifest.ID).
		Str("declared", declared).
		Str("enforced", base).
		Msg("Route prefix outside plugin namespace; overriding")
	return base
}

func (m *Mounter) buildContext(entry *plugin.Entry, registrar *Registrar) *Context {
	entitlements := NewEntitlements(entry)

	pctx := &Context{
		PluginID:     entry.ID,
		Manifest:     entry.Manifest,
		Routes:       registrar,
		Hooks:        NewHookScope(entry.ID, m.hooks),
		Entitlements: entitlements,
		Logger:       m.logger.With().Str("plugin_id", entry.ID).Logger(),
	}

	if m.audit != nil {
		pctx.Audit = NewAuditScope(entry.ID, m.audit, entitlements)
	}
	if m.tokens != nil && entitlements.Has(capability.CapAppTokens) {
		pctx.Tokens = NewTokenScope(entry.ID, m.tokens)
	}

	privileged := entry.Manifest.Tier == capability.TierC || entry.Manifest.Tier == capability.TierMainApp
	if privileged && len(entry.CoreGrants) > 0 {
		pctx.Core = NewCoreFacade(entitlements, m.core)
	}

	return pctx
}

// failLocked records and reports a per-plugin mount failure.
func (m *Mounter) failLocked(pluginID, reason, detail string) Result {
	m.logger.Warn().
		Str("plugin_id", pluginID).
		Str("reason", reason).
		Str("detail", detail).
		Msg("Plugin mount failed")

	if m.onFailure != nil {
		m.onFailure(pluginID, reason)
	}

	return Result{PluginID: pluginID, OK: false, Reason: reason, Detail: detail}
}

// loadModule runs a module factory, converting panics into errors.
func loadModule(factory ModuleFactory) (module Module, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("module factory panicked: %v", rec)
		}
	}()
	return factory()
}

// runRegister invokes a module's Register, converting panics into errors.
func runRegister(ctx context.Context, registerer Registerer, pctx *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("register panicked: %v", rec)
		}
	}()
	return registerer.Register(ctx, pctx)
}

// IsMounted reports whether the plugin's routes are mounted.
func (m *Mounter) IsMounted(pluginID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted[pluginID]
}

// MountedPlugins returns the IDs of mounted plugins, sorted.
func (m *Mounter) MountedPlugins() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.mounted))
	for pluginID := range m.mounted {
		out = append(out, pluginID)
	}
	sort.Strings(out)
	return out
}

// AllRoutes returns every mounted route across all plugins.
func (m *Mounter) AllRoutes() []Route {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Route
	for _, registrar := range m.registrars {
		out = append(out, registrar.Routes()...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullPath != out[j].FullPath {
			return out[i].FullPath < out[j].FullPath
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Clear resets mount state. Testing support; never called while serving.
func (m *Mounter) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted = make(map[string]bool)
	m.registrars = make(map[string]*Registrar)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

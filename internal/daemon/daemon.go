package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/atriumhq/atrium/internal/config"
	"github.com/atriumhq/atrium/internal/logger"
	"github.com/atriumhq/atrium/internal/maintenance"
	"github.com/atriumhq/atrium/internal/metrics"
	"github.com/atriumhq/atrium/internal/observability"
	"github.com/atriumhq/atrium/internal/tracing"
	"github.com/atriumhq/atrium/pkg/capability"
	"github.com/atriumhq/atrium/pkg/feature"
	"github.com/atriumhq/atrium/pkg/gateway"
	"github.com/atriumhq/atrium/pkg/hooks"
	"github.com/atriumhq/atrium/pkg/mount"
	"github.com/atriumhq/atrium/pkg/plugin"
	"github.com/atriumhq/atrium/pkg/state"
	"github.com/atriumhq/atrium/pkg/tokens"
)

// Daemon is the Atrium host process: it loads plugin manifests, computes
// capability grants, mounts plugin routes behind enforcement, and serves
// the gateway until stopped.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	metrics   *metrics.Metrics
	audit     *observability.AuditLogger
	store     *state.Store
	tokens    *tokens.Manager
	registry  *plugin.Registry
	hooks     *hooks.Registry
	validator *capability.Validator

	// Services
	mounter   *mount.Mounter
	enforcer  *gateway.Enforcer
	server    *gateway.Server
	scheduler *maintenance.Scheduler
	watcher   *plugin.DriftWatcher

	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status describes the daemon's run state.
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Plugins   int
	Mounted   int
}

// Options tune daemon construction beyond the config file.
type Options struct {
	// Modules maps plugin IDs to their server module factories. A plugin
	// with app:routes but no entry here fails its mount with no_module.
	Modules map[string]mount.ModuleFactory

	// Core gives tier C and main-app plugins their host service facade.
	Core mount.CoreServices
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName); err != nil {
			zlog := log.Zerolog()
			zlog.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
		} else {
			d.tracingEnabled = true
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.teardown()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(opts); err != nil {
		d.teardown()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules initializes storage, observability, and the plugin
// registries in dependency order.
func (d *Daemon) initializeCoreModules() error {
	zlog := d.logger.Zerolog()

	d.metrics = metrics.NewMetrics()

	audit, err := observability.NewAuditLogger(observability.Config{
		Path: filepath.Join(d.config.DataDir, "audit.log"),
	})
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}
	d.audit = audit
	zlog.Info().Msg("Audit logger initialized")

	store, err := state.NewStore(state.Config{
		Path:   filepath.Join(d.config.DataDir, "state.db"),
		Logger: zlog,
	})
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	d.store = store
	zlog.Info().Msg("State store initialized")

	manager, err := tokens.NewManager(tokens.ManagerOptions{
		StorePath: filepath.Join(d.config.DataDir, "tokens.json"),
	})
	if err != nil {
		return fmt.Errorf("failed to create token manager: %w", err)
	}
	d.tokens = manager

	d.registry = plugin.NewRegistry()
	d.validator = capability.NewValidator(capability.NewCatalog())
	d.hooks = hooks.NewRegistry(hooks.Config{
		Logger: zlog,
		OnHandlerError: func(hook, pluginID string) {
			d.metrics.HookHandlerErrorsTotal.WithLabelValues(hook, pluginID).Inc()
		},
		OnDispatch: func(hook, kind string) {
			d.metrics.HookDispatchTotal.WithLabelValues(hook, kind).Inc()
		},
	})
	zlog.Info().Msg("Hook registry initialized")

	if err := d.loadPlugins(); err != nil {
		return err
	}

	return nil
}

// loadPlugins scans the manifest directory, validates each manifest's
// capability requests against its tier, and registers the survivors. A
// plugin asking for capabilities outside its tier is skipped, not failed:
// one bad manifest never takes the host down.
func (d *Daemon) loadPlugins() error {
	zlog := d.logger.Zerolog()

	loader := plugin.NewManifestLoader(zlog)
	manifests, err := loader.LoadDir(d.config.Plugins.ManifestDir)
	if err != nil {
		return fmt.Errorf("failed to load manifests: %w", err)
	}

	for _, manifest := range manifests {
		result := d.validator.ValidateForTier(manifest.Tier, manifest.Capabilities)
		if !result.Valid {
			zlog.Warn().
				Str("plugin_id", manifest.ID).
				Str("tier", string(manifest.Tier)).
				Strs("invalid_capabilities", result.Invalid).
				Msg("Skipping plugin: capabilities exceed tier")
			continue
		}

		coreGrants := d.config.Plugins.CoreGrants[manifest.ID]
		granted := d.validator.Grant(manifest.Tier, manifest.Capabilities, coreGrants)

		if _, err := d.registry.Register(manifest, granted, coreGrants); err != nil {
			zlog.Warn().Err(err).Str("plugin_id", manifest.ID).Msg("Skipping plugin: registration failed")
			continue
		}

		zlog.Info().
			Str("plugin_id", manifest.ID).
			Str("tier", string(manifest.Tier)).
			Strs("granted", granted).
			Msg("Plugin registered")
	}

	zlog.Info().Int("count", len(d.registry.All())).Msg("Plugin registry loaded")
	return nil
}

// initializeServices wires the gateway, mounter, drift watcher, and
// maintenance scheduler.
func (d *Daemon) initializeServices(opts Options) error {
	zlog := d.logger.Zerolog()

	enforcer := gateway.NewEnforcer(gateway.EnforcerConfig{
		Registry: d.registry,
		Store:    d.store,
		Policy:   feature.NewPolicy(),
		Tenants:  gateway.NewTenantResolver(d.tokens),
		Metrics:  d.metrics,
		Logger:   zlog,
	})
	d.enforcer = enforcer

	server, err := gateway.NewServer(gateway.Config{
		Port:        d.config.Server.Port,
		AdminSecret: d.config.Server.AdminSecret,
		Registry:    d.registry,
		Enforcer:    enforcer,
		Quarantine:  d.Quarantine,
		Metrics:     d.metrics,
		Logger:      zlog,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.server = server

	mounter, err := mount.NewMounter(mount.Config{
		Router: server,
		Hooks:  d.hooks,
		Audit:  d.audit,
		Tokens: d.tokens,
		Core:   opts.Core,
		Logger: zlog,
		OnMountFailure: func(pluginID, reason string) {
			d.metrics.MountFailures.WithLabelValues(pluginID, reason).Inc()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create mounter: %w", err)
	}
	d.mounter = mounter

	for pluginID, factory := range opts.Modules {
		if err := mounter.RegisterModule(pluginID, factory); err != nil {
			return fmt.Errorf("failed to register module for %s: %w", pluginID, err)
		}
	}

	if d.config.Plugins.WatchManifests {
		watcher, err := plugin.NewDriftWatcher(plugin.DriftWatcherConfig{
			ManifestDir: d.config.Plugins.ManifestDir,
			Logger:      zlog,
			OnDrift: func(path string) {
				d.metrics.ManifestDriftTotal.Inc()
				d.audit.RecordSystemEvent(d.ctx, "plugin.manifest_drift",
					observability.Resource{Type: "manifest", ID: filepath.Base(path)},
					map[string]interface{}{"path": path})
			},
		})
		if err != nil {
			zlog.Warn().Err(err).Msg("Manifest drift watcher unavailable")
		} else {
			d.watcher = watcher
		}
	}

	if d.config.Maintenance.Enabled {
		scheduler, err := maintenance.NewScheduler(maintenance.Config{
			TokenPurgeSchedule: d.config.Maintenance.TokenPurgeSchedule,
			CheckpointSchedule: d.config.Maintenance.CheckpointSchedule,
			Tokens:             d.tokens,
			Store:              d.store,
			Mounter:            mounter,
			Metrics:            d.metrics,
			Logger:             zlog,
		})
		if err != nil {
			return fmt.Errorf("failed to create maintenance scheduler: %w", err)
		}
		d.scheduler = scheduler
	}

	return nil
}

// Start mounts every eligible plugin and begins serving. Mount strictly
// precedes listen: once traffic flows the route table is immutable.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	zlog := d.logger.Zerolog()

	if err := d.lifecycle.Start(); err != nil {
		return err
	}

	results := d.mounter.MountAll(d.ctx, d.registry)
	mounted := 0
	for _, result := range results {
		if result.OK {
			mounted++
			continue
		}
		zlog.Warn().
			Str("plugin_id", result.PluginID).
			Str("reason", result.Reason).
			Str("detail", result.Detail).
			Msg("Plugin mount failed")
	}
	zlog.Info().Int("mounted", mounted).Int("attempted", len(results)).Msg("Plugin mounting complete")

	// Live-tail mounted plugins' audit events on the admin websocket.
	d.audit.SetObserver(d.server.Broadcaster().Broadcast)

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			zlog.Warn().Err(err).Msg("Failed to start manifest drift watcher")
		}
	}
	if d.scheduler != nil {
		d.scheduler.Start()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Start(); err != nil {
			zlog.Error().Err(err).Msg("Gateway server exited")
			d.cancel()
		}
	}()

	d.audit.RecordSystemEvent(d.ctx, "daemon.started",
		observability.Resource{Type: "daemon", ID: "atrium"},
		map[string]interface{}{"plugins": len(d.registry.All()), "mounted": mounted})

	return nil
}

// Quarantine transitions a plugin out of service: its hooks are stripped,
// its tokens revoked, and every subsequent request answers 503 until an
// operator intervenes.
func (d *Daemon) Quarantine(ctx context.Context, pluginID string) error {
	if err := d.registry.SetStatus(pluginID, plugin.StatusQuarantined); err != nil {
		return err
	}

	d.hooks.RemoveAllPluginHooks(pluginID)

	zlog := d.logger.Zerolog()
	revoked, err := d.tokens.RevokeAllForPlugin(pluginID)
	if err != nil {
		zlog.Error().Err(err).Str("plugin_id", pluginID).Msg("Token revocation failed during quarantine")
	}

	d.metrics.QuarantinesTotal.Inc()
	d.audit.RecordSystemEvent(ctx, "plugin.quarantined",
		observability.Resource{Type: "plugin", ID: pluginID},
		map[string]interface{}{"tokens_revoked": revoked})

	zlog.Warn().
		Str("plugin_id", pluginID).
		Int("tokens_revoked", revoked).
		Msg("Plugin quarantined")

	return nil
}

// Stop shuts the daemon down gracefully.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	zlog := d.logger.Zerolog()
	zlog.Info().Msg("Daemon stopping")

	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Gateway shutdown failed")
	}

	d.audit.RecordSystemEvent(context.Background(), "daemon.stopped",
		observability.Resource{Type: "daemon", ID: "atrium"}, nil)

	d.cancel()
	d.wg.Wait()

	if err := d.lifecycle.Stop(); err != nil {
		zlog.Error().Err(err).Msg("Lifecycle cleanup failed")
	}

	d.teardown()
	zlog.Info().Msg("Daemon stopped")
	return nil
}

// teardown releases resources owned by the daemon. Safe to call on a
// partially constructed instance.
func (d *Daemon) teardown() {
	d.cancel()
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.audit != nil {
		_ = d.audit.Close()
	}
	if d.tracingEnabled {
		_ = tracing.Shutdown(context.Background())
		d.tracingEnabled = false
	}
}

// Wait blocks until the daemon receives SIGINT or SIGTERM, then stops it.
func (d *Daemon) Wait() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		zlog := d.logger.Zerolog()
		zlog.Info().Str("signal", s.String()).Msg("Shutdown signal received")
	case <-d.ctx.Done():
	}

	_ = d.Stop()
}

// Status returns the daemon's run state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:   d.running,
		StartTime: d.startTime,
		Plugins:   len(d.registry.All()),
		Mounted:   len(d.mounter.MountedPlugins()),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
	}
	return status
}

// Registry exposes the plugin registry, for the admin surface and tests.
func (d *Daemon) Registry() *plugin.Registry {
	return d.registry
}

// Hooks exposes the hook registry so host code can register its own
// baseline handlers before plugins mount.
func (d *Daemon) Hooks() *hooks.Registry {
	return d.hooks
}

// Server exposes the gateway server.
func (d *Daemon) Server() *gateway.Server {
	return d.server
}

// Mounter exposes the route mounter.
func (d *Daemon) Mounter() *mount.Mounter {
	return d.mounter
}

package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atriumhq/atrium/internal/metrics"
	"github.com/atriumhq/atrium/internal/tracing"
	"github.com/atriumhq/atrium/pkg/feature"
	"github.com/atriumhq/atrium/pkg/mount"
	"github.com/atriumhq/atrium/pkg/plugin"
	"github.com/atriumhq/atrium/pkg/state"
)

// Enforcement outcomes recorded on metrics.
const (
	outcomeAllowed         = "allowed"
	outcomeNoBinding       = "no_binding"
	outcomeNotFound        = "not_found"
	outcomeQuarantined     = "quarantined"
	outcomeInactive        = "inactive"
	outcomeTenantRequired  = "tenant_required"
	outcomeDisabled        = "disabled"
	outcomeFeatureDisabled = "feature_disabled"
	outcomeStoreError      = "store_error"
)

// Enforcer gates every plugin route: plugin status, tenant enablement, and
// required features are all checked before a request reaches the mounted
// handler.
type Enforcer struct {
	registry *plugin.Registry
	store    *state.Store
	policy   *feature.Policy
	tenants  *TenantResolver
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// EnforcerConfig configures an enforcer.
type EnforcerConfig struct {
	Registry *plugin.Registry
	Store    *state.Store
	Policy   *feature.Policy
	Tenants  *TenantResolver
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// NewEnforcer creates the per-request enforcement middleware.
func NewEnforcer(cfg EnforcerConfig) *Enforcer {
	return &Enforcer{
		registry: cfg.Registry,
		store:    cfg.Store,
		policy:   cfg.Policy,
		tenants:  cfg.Tenants,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With().Str("component", "enforcement").Logger(),
		tracer:   tracing.Tracer("atrium/gateway"),
	}
}

// Wrap builds the enforcement handler for one mounted route. The plugin
// identity comes from the route binding itself, never from request input.
func (e *Enforcer) Wrap(route mount.Route, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := e.tracer.Start(r.Context(), "plugin.request", trace.WithAttributes(
			attribute.String("plugin.id", route.PluginID),
			attribute.String("http.method", route.Method),
			attribute.String("http.route", route.FullPath),
		))
		r = r.WithContext(ctx)

		started := time.Now()
		outcome := e.enforce(route, next, w, r)

		span.SetAttributes(attribute.String("enforcement.outcome", outcome))
		span.End()

		if e.metrics != nil {
			pluginLabel := route.PluginID
			if pluginLabel == "" {
				pluginLabel = "unknown"
			}
			e.metrics.EnforcementDecisionsTotal.WithLabelValues(pluginLabel, outcome).Inc()
			e.metrics.EnforcementDuration.WithLabelValues(pluginLabel).Observe(time.Since(started).Seconds())
		}
	})
}

// enforce runs the state machine and returns the outcome label. It writes
// the response itself on every denial; next runs only on the allowed path.
func (e *Enforcer) enforce(route mount.Route, next http.Handler, w http.ResponseWriter, r *http.Request) string {
	ctx := r.Context()
	requestID := tracing.NewRequestID()
	ctx = tracing.WithRequestID(ctx, requestID)
	w.Header().Set("X-Request-ID", requestID)

	if route.PluginID == "" {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "route has no plugin binding")
		return outcomeNoBinding
	}
	ctx = tracing.WithPluginID(ctx, route.PluginID)
	logger := tracing.LoggerFromContext(ctx, e.logger)

	entry, ok := e.registry.Get(route.PluginID)
	if !ok {
		writeError(w, http.StatusNotFound, CodePluginNotFound, "unknown plugin")
		return outcomeNotFound
	}

	switch entry.Status {
	case plugin.StatusQuarantined:
		writeError(w, http.StatusServiceUnavailable, CodePluginQuarantined, "plugin is quarantined")
		return outcomeQuarantined
	case plugin.StatusActive:
	default:
		writeError(w, http.StatusServiceUnavailable, CodePluginNotActive, "plugin is not active")
		return outcomeInactive
	}

	tenantID, resolved, _ := e.tenants.Resolve(r, route.PluginID, route.Public)

	if len(route.RequiredFeatures) > 0 && !resolved {
		writeError(w, http.StatusBadRequest, CodeTenantRequired, "feature checks require a tenant")
		return outcomeTenantRequired
	}

	pr := &PluginRequest{
		ID:                  entry.ID,
		Manifest:            entry.Manifest,
		GrantedCapabilities: entry.GrantedCapabilities,
	}

	if resolved {
		ctx = tracing.WithTenantID(ctx, tenantID)

		lookupStarted := time.Now()
		st, err := e.store.Get(ctx, tenantID, route.PluginID)
		if e.metrics != nil {
			e.metrics.StateLookupDuration.WithLabelValues(route.PluginID).Observe(time.Since(lookupStarted).Seconds())
		}
		switch {
		case errors.Is(err, state.ErrNotFound), errors.Is(err, state.ErrNoTable):
			// Never enabled for this tenant, or the tenant database predates
			// the runtime migration. Both mean disabled.
			writeError(w, http.StatusForbidden, CodePluginDisabled, "plugin is not enabled for this tenant")
			return outcomeDisabled
		case err != nil:
			if e.metrics != nil {
				e.metrics.StateLookupErrors.Inc()
			}
			logger.Error().Err(err).Msg("Plugin state lookup failed")
			writeError(w, http.StatusInternalServerError, CodeInternalError, "enforcement check failed")
			return outcomeStoreError
		}
		if !st.Enabled {
			writeError(w, http.StatusForbidden, CodePluginDisabled, "plugin is not enabled for this tenant")
			return outcomeDisabled
		}
		pr.State = st
	}

	for _, featureID := range route.RequiredFeatures {
		if !e.policy.Has(featureID, entry.Manifest, pr.State) {
			writeError(w, http.StatusForbidden, CodeFeatureDisabled, "required feature is disabled")
			return outcomeFeatureDisabled
		}
	}

	next.ServeHTTP(w, r.WithContext(WithPluginRequest(ctx, pr)))
	return outcomeAllowed
}

package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns baseLogger enriched with whatever request
// identifiers the context carries.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	if requestID := GetRequestID(ctx); requestID != "" {
		baseLogger = baseLogger.With().Str("request_id", requestID).Logger()
	}
	if pluginID := GetPluginID(ctx); pluginID != "" {
		baseLogger = baseLogger.With().Str("plugin_id", pluginID).Logger()
	}
	if tenantID, ok := GetTenantID(ctx); ok {
		baseLogger = baseLogger.With().Int64("tenant_id", tenantID).Logger()
	}
	return baseLogger
}

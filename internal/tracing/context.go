package tracing

import (
	"context"
	"strconv"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// RequestIDKey is the context key for the per-request ID.
	RequestIDKey ContextKey = "request_id"
	// TenantIDKey is the context key for the resolved tenant ID.
	TenantIDKey ContextKey = "tenant_id"
	// PluginIDKey is the context key for the plugin serving the request.
	PluginIDKey ContextKey = "plugin_id"
)

const requestIDLength = 12

// NewRequestID generates a short unique request identifier.
func NewRequestID() string {
	id, err := gonanoid.New(requestIDLength)
	if err != nil {
		// nanoid only fails when the system entropy source does.
		return "req-unknown"
	}
	return id
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithTenantID adds a resolved tenant ID to the context.
func WithTenantID(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// WithPluginID adds the serving plugin's ID to the context.
func WithPluginID(ctx context.Context, pluginID string) context.Context {
	return context.WithValue(ctx, PluginIDKey, pluginID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetTenantID retrieves the tenant ID from the context. The second return
// is false when no tenant has been resolved.
func GetTenantID(ctx context.Context) (int64, bool) {
	tenantID, ok := ctx.Value(TenantIDKey).(int64)
	return tenantID, ok
}

// GetPluginID retrieves the plugin ID from the context.
func GetPluginID(ctx context.Context) string {
	if pluginID, ok := ctx.Value(PluginIDKey).(string); ok {
		return pluginID
	}
	return ""
}

// TenantIDString formats the tenant for log fields; empty when unresolved.
func TenantIDString(ctx context.Context) string {
	if tenantID, ok := GetTenantID(ctx); ok {
		return strconv.FormatInt(tenantID, 10)
	}
	return ""
}

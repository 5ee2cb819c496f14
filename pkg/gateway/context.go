package gateway

import (
	"context"

	"github.com/atriumhq/atrium/pkg/plugin"
	"github.com/atriumhq/atrium/pkg/state"
)

type contextKey string

const pluginRequestKey contextKey = "plugin_request"

// PluginRequest is what the enforcement middleware attaches for downstream
// handlers once a request clears every gate.
type PluginRequest struct {
	ID                  string
	Manifest            *plugin.Manifest
	State               *state.PluginState
	GrantedCapabilities []string
}

// WithPluginRequest attaches the cleared plugin request to the context.
func WithPluginRequest(ctx context.Context, pr *PluginRequest) context.Context {
	return context.WithValue(ctx, pluginRequestKey, pr)
}

// PluginRequestFromContext retrieves the cleared plugin request, if any.
func PluginRequestFromContext(ctx context.Context) (*PluginRequest, bool) {
	pr, ok := ctx.Value(pluginRequestKey).(*PluginRequest)
	return pr, ok
}

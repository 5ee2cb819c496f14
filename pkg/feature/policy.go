// Package feature resolves feature-flag state for plugins. Resolution is a
// pure function of the plugin's manifest and the tenant's persisted state:
// a tenant override wins, the manifest default is the fallback, and unknown
// features are disabled (fail-closed).
package feature

import (
	"github.com/atriumhq/atrium/pkg/plugin"
	"github.com/atriumhq/atrium/pkg/state"
)

// Policy resolves feature flags from manifest defaults and tenant overrides.
type Policy struct{}

// NewPolicy creates a feature policy resolver.
func NewPolicy() *Policy {
	return &Policy{}
}

// Has reports whether featureID is enabled for the tenant whose persisted
// state is given. A nil state means no tenant override exists.
func (p *Policy) Has(featureID string, manifest *plugin.Manifest, st *state.PluginState) bool {
	if override, ok := st.FeatureOverride(featureID); ok {
		return override
	}
	if manifest != nil {
		if spec, ok := manifest.Features[featureID]; ok {
			return spec.DefaultEnabled
		}
	}
	return false
}

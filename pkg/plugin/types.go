package plugin

import (
	"time"

	"github.com/atriumhq/atrium/pkg/capability"
)

// Status represents the registry status of a plugin.
type Status string

const (
	// StatusActive plugins serve traffic.
	StatusActive Status = "active"
	// StatusQuarantined plugins are disabled network-wide without removing
	// their manifest.
	StatusQuarantined Status = "quarantined"
	// StatusInactive plugins are registered but not serving.
	StatusInactive Status = "inactive"
)

// FeatureSpec declares one feature a plugin ships, with its default state.
type FeatureSpec struct {
	DefaultEnabled bool `json:"defaultEnabled"`
}

// Manifest is the static declaration of a plugin's identity, tier,
// requested capabilities, route prefix, and feature set. Immutable after
// boot.
type Manifest struct {
	ID           string                 `json:"id"`
	PackageName  string                 `json:"packageName"`
	Version      string                 `json:"version"`
	Tier         capability.Tier        `json:"tier"`
	Capabilities []string               `json:"capabilities"`
	RoutePrefix  string                 `json:"routePrefix,omitempty"`
	Features     map[string]FeatureSpec `json:"features,omitempty"`
}

// Entry is a plugin's registry record: its manifest plus the state computed
// at boot. Created at boot; mutated only by boot and quarantine transitions.
type Entry struct {
	ID       string    `json:"id"`
	Manifest *Manifest `json:"manifest"`
	Status   Status    `json:"status"`

	// GrantedCapabilities is the subset of requested capabilities the tier
	// (and, for privileged capabilities, the deployment) allows.
	GrantedCapabilities []string `json:"granted_capabilities"`

	// CoreGrants holds the deployment-level grants for tier C / main-app
	// capabilities. Empty for tier A/B plugins.
	CoreGrants []string `json:"core_grants,omitempty"`

	RegisteredAt time.Time `json:"registered_at"`
}

// HasCapability reports whether the entry was granted the capability.
func (e *Entry) HasCapability(id string) bool {
	for _, granted := range e.GrantedCapabilities {
		if granted == id {
			return true
		}
	}
	return false
}

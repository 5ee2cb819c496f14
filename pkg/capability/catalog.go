package capability

// Tier classifies how much of the platform a plugin may touch.
type Tier string

const (
	// TierA plugins may only attach UI filter hooks.
	TierA Tier = "A"
	// TierB plugins may additionally mount routes and use scoped storage.
	TierB Tier = "B"
	// TierC plugins may additionally call privileged core-platform services.
	TierC Tier = "C"
	// TierMainApp is reserved for the first-party main application.
	TierMainApp Tier = "main-app"
)

// Capability identifiers, partitioned by tier.
const (
	// Tier A: UI filter hooks.
	CapUIFilterNav       = "ui:filter:nav"
	CapUIFilterDashboard = "ui:filter:dashboard"
	CapUIFilterSettings  = "ui:filter:settings"

	// Tier B: app routing, storage, and scoped platform adapters.
	CapAppRoutes  = "app:routes"
	CapAppStorage = "app:storage"
	CapAppTokens  = "app:tokens"
	CapAppAudit   = "app:audit"

	// Tier C: privileged core-platform services.
	CapCoreUsersRead = "core:service:users:read"
	CapCoreTeamsRead = "core:service:teams:read"
	CapCoreAuditRead = "core:service:audit:read"

	// Main-app only: global design and navigation baseline.
	CapUIDesignGlobal = "ui:design:global"
	CapUINavBaseline  = "ui:nav:baseline"
)

var (
	tierACapabilities = []string{
		CapUIFilterNav,
		CapUIFilterDashboard,
		CapUIFilterSettings,
	}

	tierBCapabilities = []string{
		CapAppRoutes,
		CapAppStorage,
		CapAppTokens,
		CapAppAudit,
	}

	tierCCapabilities = []string{
		CapCoreUsersRead,
		CapCoreTeamsRead,
		CapCoreAuditRead,
	}

	mainAppCapabilities = []string{
		CapUIDesignGlobal,
		CapUINavBaseline,
	}
)

// Catalog is the static partition of capability identifiers into tiers.
type Catalog struct {
	byTier map[Tier]map[string]struct{}
	all    map[string]struct{}
}

// NewCatalog builds the platform capability catalog.
func NewCatalog() *Catalog {
	c := &Catalog{
		byTier: make(map[Tier]map[string]struct{}),
		all:    make(map[string]struct{}),
	}

	c.addTier(TierA, tierACapabilities)
	c.addTier(TierB, tierBCapabilities)
	c.addTier(TierC, tierCCapabilities)
	c.addTier(TierMainApp, mainAppCapabilities)

	return c
}

func (c *Catalog) addTier(tier Tier, ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
		c.all[id] = struct{}{}
	}
	c.byTier[tier] = set
}

// IsValid reports whether id is a known capability, regardless of tier.
func (c *Catalog) IsValid(id string) bool {
	_, ok := c.all[id]
	return ok
}

// Allowed returns the cumulative allowed set for a tier. Allowed sets nest:
// tier A gets the UI filter hooks, tier B adds app routing and storage,
// tier C swaps the UI hooks for privileged core services, and main-app
// gets everything except tier C core services plus the reserved
// design/navigation capabilities.
func (c *Catalog) Allowed(tier Tier) map[string]struct{} {
	var groups [][]string

	switch tier {
	case TierA:
		groups = [][]string{tierACapabilities}
	case TierB:
		groups = [][]string{tierACapabilities, tierBCapabilities}
	case TierC:
		groups = [][]string{tierBCapabilities, tierCCapabilities}
	case TierMainApp:
		groups = [][]string{tierACapabilities, tierBCapabilities, mainAppCapabilities}
	default:
		return map[string]struct{}{}
	}

	allowed := make(map[string]struct{})
	for _, group := range groups {
		for _, id := range group {
			allowed[id] = struct{}{}
		}
	}
	return allowed
}

// IsKnownTier reports whether tier is one of the defined tiers.
func IsKnownTier(tier Tier) bool {
	switch tier {
	case TierA, TierB, TierC, TierMainApp:
		return true
	}
	return false
}

// RouteTiers lists the tiers whose plugins may mount HTTP routes.
func RouteTiers() []Tier {
	return []Tier{TierB, TierC, TierMainApp}
}

// CanMountRoutes reports whether a tier permits route mounting.
func CanMountRoutes(tier Tier) bool {
	for _, t := range RouteTiers() {
		if t == tier {
			return true
		}
	}
	return false
}

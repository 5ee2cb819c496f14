package capability

import "sort"

// ValidationResult reports the outcome of checking a requested capability set
// against a tier's allowed set.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Invalid []string `json:"invalid_capabilities,omitempty"`
}

// Validator checks requested capability sets against the catalog.
type Validator struct {
	catalog *Catalog
}

// NewValidator creates a validator backed by the given catalog.
func NewValidator(catalog *Catalog) *Validator {
	return &Validator{catalog: catalog}
}

// ValidateForTier returns the requested capabilities that fall outside the
// tier's allowed set. The request is valid iff that set is empty. An unknown
// tier allows nothing, so every requested capability comes back invalid.
func (v *Validator) ValidateForTier(tier Tier, requested []string) ValidationResult {
	allowed := v.catalog.Allowed(tier)

	var invalid []string
	seen := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := allowed[id]; !ok {
			invalid = append(invalid, id)
		}
	}
	sort.Strings(invalid)

	return ValidationResult{
		Valid:   len(invalid) == 0,
		Invalid: invalid,
	}
}

// Grant computes the granted capability set for a plugin: the requested
// capabilities that the tier allows. Tier C and main-app capabilities listed
// in coreGrants are additionally restricted to the intersection of the
// manifest request and the deployment-level grant.
func (v *Validator) Grant(tier Tier, requested []string, coreGrants []string) []string {
	allowed := v.catalog.Allowed(tier)

	coreSet := make(map[string]struct{}, len(coreGrants))
	for _, id := range coreGrants {
		coreSet[id] = struct{}{}
	}

	var granted []string
	seen := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if _, ok := allowed[id]; !ok {
			continue
		}
		if v.isPrivileged(id) {
			if _, ok := coreSet[id]; !ok {
				continue
			}
		}
		granted = append(granted, id)
	}
	sort.Strings(granted)
	return granted
}

// isPrivileged reports whether id belongs to tier C or the main-app reserved
// set, both of which require an explicit deployment grant.
func (v *Validator) isPrivileged(id string) bool {
	if _, ok := v.catalog.byTier[TierC][id]; ok {
		return true
	}
	_, ok := v.catalog.byTier[TierMainApp][id]
	return ok
}

package plugin

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry tracks registered plugins and their status. Entries are created
// at boot; after the startup barrier only status transitions mutate them.
type Registry struct {
	plugins map[string]*Entry
	mu      sync.RWMutex
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]*Entry),
	}
}

// Register adds a plugin entry computed at boot.
func (r *Registry) Register(manifest *Manifest, granted, coreGrants []string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[manifest.ID]; exists {
		return nil, fmt.Errorf("plugin %s already registered", manifest.ID)
	}

	entry := &Entry{
		ID:                  manifest.ID,
		Manifest:            manifest,
		Status:              StatusActive,
		GrantedCapabilities: granted,
		CoreGrants:          coreGrants,
		RegisteredAt:        time.Now(),
	}
	r.plugins[manifest.ID] = entry

	return entry, nil
}

// Get retrieves a snapshot of a plugin entry by ID. The returned entry is a
// copy: status transitions after the call are not reflected in it, and
// readers never alias the record SetStatus mutates.
func (r *Registry) Get(pluginID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, exists := r.plugins[pluginID]
	if !exists {
		return nil, false
	}
	snapshot := *entry
	return &snapshot, true
}

// All returns a snapshot of every registered entry, sorted by plugin ID.
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*Entry, 0, len(r.plugins))
	for _, entry := range r.plugins {
		snapshot := *entry
		entries = append(entries, &snapshot)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})

	return entries
}

// ByStatus returns all plugins with the given status, sorted by plugin ID.
func (r *Registry) ByStatus(status Status) []*Entry {
	var entries []*Entry
	for _, entry := range r.All() {
		if entry.Status == status {
			entries = append(entries, entry)
		}
	}
	return entries
}

// SetStatus transitions a plugin's status.
func (r *Registry) SetStatus(pluginID string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.plugins[pluginID]
	if !exists {
		return fmt.Errorf("plugin %s not found", pluginID)
	}

	entry.Status = status
	return nil
}

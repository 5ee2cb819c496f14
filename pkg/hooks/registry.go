package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Handler priorities. Lower values fire earlier; ties preserve registration
// order.
const (
	PriorityHighest = 10
	PriorityNormal  = 50
	PriorityLowest  = 100
)

// ActionHandler runs for side effects when an action hook fires.
type ActionHandler func(ctx context.Context, payload interface{}) error

// FilterHandler transforms a value as it moves through a filter chain.
type FilterHandler func(ctx context.Context, value interface{}) (interface{}, error)

type hookKind string

const (
	kindAction hookKind = "action"
	kindFilter hookKind = "filter"
)

// registration is one handler bound to a hook name, owned by a plugin.
type registration struct {
	pluginID string
	priority int
	seq      uint64
	action   ActionHandler
	filter   FilterHandler
}

// Option adjusts a hook registration.
type Option func(*registration)

// WithPriority overrides the default PriorityNormal ordering.
func WithPriority(priority int) Option {
	return func(r *registration) {
		r.priority = priority
	}
}

// Config configures a hook registry.
type Config struct {
	Logger zerolog.Logger

	// OnHandlerError, when set, observes each isolated handler failure.
	// Used by the host to count failures per plugin.
	OnHandlerError func(hook, pluginID string)

	// OnDispatch, when set, observes each DoAction/ApplyFilters call.
	OnDispatch func(hook, kind string)
}

// Registry is the ordered, multi-handler action/filter dispatch table.
// Registration happens at boot and on quarantine transitions; dispatch is
// called concurrently from in-flight requests, so dispatch takes a snapshot
// of the chain under a read lock and runs handlers outside it.
type Registry struct {
	logger     zerolog.Logger
	onError    func(hook, pluginID string)
	onDispatch func(hook, kind string)

	mu      sync.RWMutex
	actions map[string][]registration
	filters map[string][]registration
	nextSeq uint64
}

// NewRegistry creates an empty hook registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		logger:     cfg.Logger.With().Str("component", "hooks").Logger(),
		onError:    cfg.OnHandlerError,
		onDispatch: cfg.OnDispatch,
		actions:    make(map[string][]registration),
		filters:    make(map[string][]registration),
	}
}

// AddAction registers an action handler owned by pluginID.
func (r *Registry) AddAction(hook, pluginID string, handler ActionHandler, opts ...Option) error {
	if handler == nil {
		return fmt.Errorf("action handler for %q cannot be nil", hook)
	}
	reg := registration{pluginID: pluginID, priority: PriorityNormal, action: handler}
	for _, opt := range opts {
		opt(&reg)
	}
	r.insert(r.actions, hook, reg)
	return nil
}

// AddFilter registers a filter handler owned by pluginID.
func (r *Registry) AddFilter(hook, pluginID string, handler FilterHandler, opts ...Option) error {
	if handler == nil {
		return fmt.Errorf("filter handler for %q cannot be nil", hook)
	}
	reg := registration{pluginID: pluginID, priority: PriorityNormal, filter: handler}
	for _, opt := range opts {
		opt(&reg)
	}
	r.insert(r.filters, hook, reg)
	return nil
}

func (r *Registry) insert(table map[string][]registration, hook string, reg registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	reg.seq = r.nextSeq

	chain := append(table[hook], reg)
	sort.SliceStable(chain, func(i, j int) bool {
		if chain[i].priority != chain[j].priority {
			return chain[i].priority < chain[j].priority
		}
		return chain[i].seq < chain[j].seq
	})
	table[hook] = chain
}

// DoAction invokes every handler registered for hook, in priority order.
// A failing or panicking handler is logged and does not stop the remaining
// handlers or the caller.
func (r *Registry) DoAction(ctx context.Context, hook string, payload interface{}) {
	if r.onDispatch != nil {
		r.onDispatch(hook, string(kindAction))
	}
	for _, reg := range r.snapshot(r.actions, hook) {
		r.runAction(ctx, hook, reg, payload)
	}
}

func (r *Registry) runAction(ctx context.Context, hook string, reg registration, payload interface{}) {
	defer func() {
		if rec := recover(); rec != nil {
			r.handlerFailed(hook, reg.pluginID, kindAction, fmt.Errorf("panic: %v", rec))
		}
	}()

	if err := reg.action(ctx, payload); err != nil {
		r.handlerFailed(hook, reg.pluginID, kindAction, err)
	}
}

// ApplyFilters pipes initial through every filter registered for hook in
// priority order, each handler's return feeding the next. A failing or
// panicking filter is skipped and logged; the chain continues with the value
// it had before that handler ran.
func (r *Registry) ApplyFilters(ctx context.Context, hook string, initial interface{}) interface{} {
	if r.onDispatch != nil {
		r.onDispatch(hook, string(kindFilter))
	}
	value := initial
	for _, reg := range r.snapshot(r.filters, hook) {
		value = r.runFilter(ctx, hook, reg, value)
	}
	return value
}

func (r *Registry) runFilter(ctx context.Context, hook string, reg registration, value interface{}) (out interface{}) {
	out = value
	defer func() {
		if rec := recover(); rec != nil {
			r.handlerFailed(hook, reg.pluginID, kindFilter, fmt.Errorf("panic: %v", rec))
			out = value
		}
	}()

	next, err := reg.filter(ctx, value)
	if err != nil {
		r.handlerFailed(hook, reg.pluginID, kindFilter, err)
		return value
	}
	return next
}

func (r *Registry) snapshot(table map[string][]registration, hook string) []registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := table[hook]
	if len(chain) == 0 {
		return nil
	}
	out := make([]registration, len(chain))
	copy(out, chain)
	return out
}

func (r *Registry) handlerFailed(hook, pluginID string, kind hookKind, err error) {
	r.logger.Error().
		Err(err).
		Str("hook", hook).
		Str("plugin_id", pluginID).
		Str("kind", string(kind)).
		Msg("Hook handler failed")

	if r.onError != nil {
		r.onError(hook, pluginID)
	}
}

// RemoveAllPluginHooks deletes every registration owned by pluginID across
// all hook names. Called on quarantine and disable so no stale handler ever
// fires again.
func (r *Registry) RemoveAllPluginHooks(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removeOwned(r.actions, pluginID)
	removeOwned(r.filters, pluginID)
}

func removeOwned(table map[string][]registration, pluginID string) {
	for hook, chain := range table {
		kept := chain[:0]
		for _, reg := range chain {
			if reg.pluginID != pluginID {
				kept = append(kept, reg)
			}
		}
		if len(kept) == 0 {
			delete(table, hook)
			continue
		}
		table[hook] = kept
	}
}

// ActionCount returns the number of action handlers registered for hook.
func (r *Registry) ActionCount(hook string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions[hook])
}

// FilterCount returns the number of filter handlers registered for hook.
func (r *Registry) FilterCount(hook string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.filters[hook])
}

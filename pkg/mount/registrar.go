package mount

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Route describes one mounted route and the enforcement metadata attached
// at registration time.
type Route struct {
	PluginID string `json:"plugin_id"`
	Method   string `json:"method"`
	FullPath string `json:"full_path"`

	// RequiredFeatures must all resolve enabled for the tenant before the
	// handler runs.
	RequiredFeatures []string `json:"required_features,omitempty"`

	// Public routes resolve the tenant from a best-effort hint instead of
	// verified credentials.
	Public bool `json:"public,omitempty"`
}

// Router is the host router primitive the registrar binds routes to.
type Router interface {
	Handle(route Route, handler http.Handler) error
}

// RouteOption adjusts a route registration.
type RouteOption func(*Route)

// WithRequiredFeatures gates the route on tenant-resolved feature flags.
func WithRequiredFeatures(featureIDs ...string) RouteOption {
	return func(r *Route) {
		r.RequiredFeatures = append(r.RequiredFeatures, featureIDs...)
	}
}

// AsPublic marks the route as public: no verified tenant credential is
// required and the tenant, when needed, comes from a request hint.
func AsPublic() RouteOption {
	return func(r *Route) {
		r.Public = true
	}
}

// Registrar collects a plugin's routes under the plugin's enforced prefix.
// Bindings are buffered until Commit pushes them to the host router, so a
// module whose registration fails midway leaves no live routes behind.
type Registrar struct {
	pluginID string
	prefix   string
	router   Router

	mu      sync.Mutex
	pending []binding
	routes  []Route
}

// binding pairs a recorded route with the handler awaiting commit.
type binding struct {
	route   Route
	handler http.Handler
}

// NewRegistrar creates a registrar bound to router with the resolved prefix.
func NewRegistrar(pluginID, prefix string, router Router) *Registrar {
	return &Registrar{
		pluginID: pluginID,
		prefix:   prefix,
		router:   router,
	}
}

// Handle registers a handler at prefix+path. The path must start with "/";
// "/" itself mounts the prefix root.
func (r *Registrar) Handle(method, path string, handler http.Handler, opts ...RouteOption) error {
	if handler == nil {
		return fmt.Errorf("handler for %s %s cannot be nil", method, path)
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("route path %q must start with /", path)
	}

	fullPath := r.prefix
	if path != "/" {
		fullPath += path
	}

	route := Route{
		PluginID: r.pluginID,
		Method:   method,
		FullPath: fullPath,
	}
	for _, opt := range opts {
		opt(&route)
	}

	r.mu.Lock()
	r.pending = append(r.pending, binding{route: route, handler: handler})
	r.routes = append(r.routes, route)
	r.mu.Unlock()

	return nil
}

// Commit flushes the buffered bindings to the host router. The mounter calls
// it only after the module's Register returns cleanly.
func (r *Registrar) Commit() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.pending {
		if err := r.router.Handle(b.route, b.handler); err != nil {
			return fmt.Errorf("failed to bind %s %s: %w", b.route.Method, b.route.FullPath, err)
		}
	}
	r.pending = nil
	return nil
}

// HandleFunc registers a handler function at prefix+path.
func (r *Registrar) HandleFunc(method, path string, handler http.HandlerFunc, opts ...RouteOption) error {
	return r.Handle(method, path, handler, opts...)
}

// Prefix returns the enforced route prefix.
func (r *Registrar) Prefix() string {
	return r.prefix
}

// Routes returns the routes mounted through this registrar, sorted by path
// then method.
func (r *Registrar) Routes() []Route {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullPath != out[j].FullPath {
			return out[i].FullPath < out[j].FullPath
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// RouteCount returns the number of routes mounted through this registrar.
func (r *Registrar) RouteCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routes)
}

package mount

import "context"

// Module is a plugin's server-side module. Concrete modules are compiled
// into the host and registered on the mounter at startup; there is no
// runtime code loading.
type Module interface{}

// Registerer is implemented by modules that register routes, hooks, or both
// when mounted. A module without it mounts successfully with zero routes.
type Registerer interface {
	Register(ctx context.Context, pctx *Context) error
}

// ModuleFactory constructs a plugin's server module. Factories run once per
// mount; a factory error is contained to that plugin.
type ModuleFactory func() (Module, error)

// RegisterFunc adapts a plain function into a Registerer module.
type RegisterFunc func(ctx context.Context, pctx *Context) error

// Register implements Registerer.
func (f RegisterFunc) Register(ctx context.Context, pctx *Context) error {
	return f(ctx, pctx)
}

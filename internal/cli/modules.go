package cli

import (
	"github.com/atriumhq/atrium/pkg/mount"
)

// hostModules is the static server-module table for this build. Plugins
// ship their backend modules compiled into the host binary; a plugin with
// app:routes but no entry here fails its mount with no_module.
func hostModules() map[string]mount.ModuleFactory {
	return map[string]mount.ModuleFactory{}
}

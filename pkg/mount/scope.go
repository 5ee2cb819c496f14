package mount

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/atriumhq/atrium/internal/observability"
	"github.com/atriumhq/atrium/pkg/capability"
	"github.com/atriumhq/atrium/pkg/hooks"
	"github.com/atriumhq/atrium/pkg/plugin"
	"github.com/atriumhq/atrium/pkg/tokens"
)

// ErrNotEntitled means a plugin called an adapter gated on a capability it
// was not granted.
var ErrNotEntitled = errors.New("capability not granted")

// Context is the scoped registration context handed to a module's Register.
// Every adapter on it is bound to the owning plugin and its granted
// capability set; a plugin cannot reach the host services directly.
type Context struct {
	PluginID     string
	Manifest     *plugin.Manifest
	Routes       *Registrar
	Hooks        *HookScope
	Entitlements *Entitlements
	Audit        *AuditScope

	// Tokens is nil unless the plugin was granted app:tokens.
	Tokens *TokenScope

	// Core is nil unless the plugin is tier C or main-app with non-empty
	// deployment core grants.
	Core *CoreFacade

	Logger zerolog.Logger
}

// Entitlements answers capability checks against a plugin's granted set.
type Entitlements struct {
	pluginID string
	granted  map[string]struct{}
}

// NewEntitlements builds the entitlement checker for a registry entry.
func NewEntitlements(entry *plugin.Entry) *Entitlements {
	granted := make(map[string]struct{}, len(entry.GrantedCapabilities))
	for _, id := range entry.GrantedCapabilities {
		granted[id] = struct{}{}
	}
	return &Entitlements{pluginID: entry.ID, granted: granted}
}

// Has reports whether the plugin was granted the capability.
func (e *Entitlements) Has(capabilityID string) bool {
	_, ok := e.granted[capabilityID]
	return ok
}

// Require returns ErrNotEntitled (wrapped with the capability) when the
// plugin lacks the capability.
func (e *Entitlements) Require(capabilityID string) error {
	if !e.Has(capabilityID) {
		return fmt.Errorf("plugin %s: %s: %w", e.pluginID, capabilityID, ErrNotEntitled)
	}
	return nil
}

// HookScope exposes the hook registry with the plugin's identity attached
// to every registration, so quarantine can strip them all.
type HookScope struct {
	pluginID string
	registry *hooks.Registry
}

// NewHookScope binds a hook registry to a plugin.
func NewHookScope(pluginID string, registry *hooks.Registry) *HookScope {
	return &HookScope{pluginID: pluginID, registry: registry}
}

// AddAction registers an action handler owned by this plugin.
func (h *HookScope) AddAction(hook string, handler hooks.ActionHandler, opts ...hooks.Option) error {
	return h.registry.AddAction(hook, h.pluginID, handler, opts...)
}

// AddFilter registers a filter handler owned by this plugin.
func (h *HookScope) AddFilter(hook string, handler hooks.FilterHandler, opts ...hooks.Option) error {
	return h.registry.AddFilter(hook, h.pluginID, handler, opts...)
}

// AuditScope emits audit events with the plugin as actor.
type AuditScope struct {
	pluginID     string
	audit        *observability.AuditLogger
	entitlements *Entitlements
}

// NewAuditScope binds the audit logger to a plugin.
func NewAuditScope(pluginID string, audit *observability.AuditLogger, entitlements *Entitlements) *AuditScope {
	return &AuditScope{pluginID: pluginID, audit: audit, entitlements: entitlements}
}

// Record emits an actor=plugin audit event. Requires app:audit.
func (a *AuditScope) Record(ctx context.Context, eventType string, tenantID int64, resource observability.Resource, meta map[string]interface{}) error {
	if err := a.entitlements.Require(capability.CapAppAudit); err != nil {
		return err
	}
	a.audit.RecordPluginEvent(ctx, a.pluginID, eventType, tenantID, resource, meta)
	return nil
}

// TokenScope exposes token CRUD limited to the plugin's own tokens.
type TokenScope struct {
	pluginID string
	manager  *tokens.Manager
}

// NewTokenScope binds the token manager to a plugin.
func NewTokenScope(pluginID string, manager *tokens.Manager) *TokenScope {
	return &TokenScope{pluginID: pluginID, manager: manager}
}

// Create issues a token binding this plugin to a tenant.
func (t *TokenScope) Create(tenantID int64, label string) (tokens.Token, error) {
	return t.manager.Create(t.pluginID, tenantID, label)
}

// List returns this plugin's tokens with secrets blanked.
func (t *TokenScope) List() []tokens.Token {
	return t.manager.ListForPlugin(t.pluginID)
}

// Revoke deletes one of this plugin's tokens.
func (t *TokenScope) Revoke(id string) error {
	listed := t.manager.ListForPlugin(t.pluginID)
	for _, token := range listed {
		if token.ID == id {
			return t.manager.Revoke(id)
		}
	}
	return tokens.ErrTokenNotFound
}

// UserDirectory is the narrow read interface over the core user service.
// The real implementation lives outside the plugin runtime.
type UserDirectory interface {
	GetUser(ctx context.Context, tenantID int64, userID string) (map[string]interface{}, error)
}

// TeamDirectory is the narrow read interface over the core team service.
type TeamDirectory interface {
	GetTeam(ctx context.Context, tenantID int64, teamID string) (map[string]interface{}, error)
}

// CoreServices collects the privileged platform services a deployment may
// expose to tier C and main-app plugins.
type CoreServices struct {
	Users UserDirectory
	Teams TeamDirectory
}

// CoreFacade gates privileged core services behind per-capability checks.
// Built only for tier C/main-app plugins with non-empty deployment grants.
type CoreFacade struct {
	entitlements *Entitlements
	services     CoreServices
}

// NewCoreFacade builds the privileged facade for an entitled plugin.
func NewCoreFacade(entitlements *Entitlements, services CoreServices) *CoreFacade {
	return &CoreFacade{entitlements: entitlements, services: services}
}

// GetUser reads a user record. Requires core:service:users:read.
func (c *CoreFacade) GetUser(ctx context.Context, tenantID int64, userID string) (map[string]interface{}, error) {
	if err := c.entitlements.Require(capability.CapCoreUsersRead); err != nil {
		return nil, err
	}
	if c.services.Users == nil {
		return nil, fmt.Errorf("user directory not configured")
	}
	return c.services.Users.GetUser(ctx, tenantID, userID)
}

// GetTeam reads a team record. Requires core:service:teams:read.
func (c *CoreFacade) GetTeam(ctx context.Context, tenantID int64, teamID string) (map[string]interface{}, error) {
	if err := c.entitlements.Require(capability.CapCoreTeamsRead); err != nil {
		return nil, err
	}
	if c.services.Teams == nil {
		return nil, fmt.Errorf("team directory not configured")
	}
	return c.services.Teams.GetTeam(ctx, tenantID, teamID)
}

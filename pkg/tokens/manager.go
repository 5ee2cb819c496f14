// Package tokens manages plugin-scoped auth tokens. A token binds a plugin
// to a tenant; presenting it on a private plugin route is the verified form
// of tenant resolution. Records persist as JSON in the host data directory.
package tokens

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// DefaultTTL is applied when a token is created without an explicit TTL.
	DefaultTTL = 90 * 24 * time.Hour

	secretLength = 32
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
)

// Token is one issued plugin auth token.
type Token struct {
	ID        string    `json:"id"`
	PluginID  string    `json:"plugin_id"`
	TenantID  int64     `json:"tenant_id"`
	Secret    string    `json:"secret"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ManagerOptions configures a token manager.
type ManagerOptions struct {
	// StorePath is the JSON file tokens persist to.
	StorePath string
	// TTL applies to newly created tokens. Defaults to DefaultTTL.
	TTL time.Duration
	// Now is overridable for tests.
	Now func() time.Time
}

// Manager issues, verifies, and revokes plugin auth tokens.
type Manager struct {
	mu sync.Mutex

	storePath string
	ttl       time.Duration
	now       func() time.Time

	byID     map[string]Token
	bySecret map[string]string
}

// NewManager creates a token manager, loading any persisted tokens.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.StorePath == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{
		storePath: opts.StorePath,
		ttl:       opts.TTL,
		now:       opts.Now,
		byID:      make(map[string]Token),
		bySecret:  make(map[string]string),
	}

	if err := m.load(); err != nil {
		return nil, err
	}

	return m, nil
}

// Create issues a token binding pluginID to tenantID.
func (m *Manager) Create(pluginID string, tenantID int64, label string) (Token, error) {
	if pluginID == "" {
		return Token{}, fmt.Errorf("plugin id is required")
	}

	secret, err := gonanoid.New(secretLength)
	if err != nil {
		return Token{}, fmt.Errorf("failed to generate token secret: %w", err)
	}

	now := m.now()
	token := Token{
		ID:        uuid.New().String(),
		PluginID:  pluginID,
		TenantID:  tenantID,
		Secret:    secret,
		Label:     label,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID[token.ID] = token
	m.bySecret[token.Secret] = token.ID

	if err := m.persistLocked(); err != nil {
		delete(m.byID, token.ID)
		delete(m.bySecret, token.Secret)
		return Token{}, err
	}

	return token, nil
}

// Verify resolves a presented secret to its token. Expired tokens verify as
// ErrTokenExpired, unknown secrets as ErrTokenNotFound.
func (m *Manager) Verify(secret string) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.bySecret[secret]
	if !ok {
		return Token{}, ErrTokenNotFound
	}

	token := m.byID[id]
	if m.now().After(token.ExpiresAt) {
		return Token{}, ErrTokenExpired
	}

	return token, nil
}

// Revoke deletes a token by ID.
func (m *Manager) Revoke(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.byID[id]
	if !ok {
		return ErrTokenNotFound
	}

	delete(m.byID, id)
	delete(m.bySecret, token.Secret)

	return m.persistLocked()
}

// ListForPlugin returns the plugin's tokens with secrets blanked, sorted by
// creation time.
func (m *Manager) ListForPlugin(pluginID string) []Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Token
	for _, token := range m.byID {
		if token.PluginID != pluginID {
			continue
		}
		token.Secret = ""
		out = append(out, token)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// RevokeAllForPlugin deletes every token owned by pluginID. Called on
// quarantine so a disabled plugin cannot keep resolving tenants.
func (m *Manager) RevokeAllForPlugin(pluginID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, token := range m.byID {
		if token.PluginID != pluginID {
			continue
		}
		delete(m.byID, id)
		delete(m.bySecret, token.Secret)
		removed++
	}

	if removed == 0 {
		return 0, nil
	}
	return removed, m.persistLocked()
}

// PurgeExpired removes expired tokens. Run by the maintenance scheduler.
func (m *Manager) PurgeExpired() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, token := range m.byID {
		if now.After(token.ExpiresAt) {
			delete(m.byID, id)
			delete(m.bySecret, token.Secret)
			removed++
		}
	}

	if removed == 0 {
		return 0, nil
	}
	return removed, m.persistLocked()
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.storePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read token store: %w", err)
	}

	var tokens []Token
	if err := json.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("failed to parse token store: %w", err)
	}

	for _, token := range tokens {
		m.byID[token.ID] = token
		m.bySecret[token.Secret] = token.ID
	}
	return nil
}

func (m *Manager) persistLocked() error {
	tokens := make([]Token, 0, len(m.byID))
	for _, token := range m.byID {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})

	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.storePath), 0755); err != nil {
		return fmt.Errorf("failed to create token store directory: %w", err)
	}

	tmp := m.storePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write token store: %w", err)
	}
	if err := os.Rename(tmp, m.storePath); err != nil {
		return fmt.Errorf("failed to replace token store: %w", err)
	}
	return nil
}

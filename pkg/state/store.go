package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound means no row exists for the (tenant, plugin) pair.
	ErrNotFound = errors.New("plugin state not found")

	// ErrNoTable means the backing table is absent, e.g. a tenant database
	// that predates the plugin runtime migration. Callers treat this as
	// "disabled", not as a hard failure.
	ErrNoTable = errors.New("plugin state table absent")
)

// PluginState is the persisted, tenant-scoped enablement record for a plugin.
type PluginState struct {
	TenantID  int64                  `json:"tenant_id"`
	PluginID  string                 `json:"plugin_id"`
	Enabled   bool                   `json:"enabled"`
	Config    map[string]interface{} `json:"config,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// FeatureOverride looks up a per-tenant feature override in the state's
// config blob. The second return is false when no override exists.
func (s *PluginState) FeatureOverride(featureID string) (bool, bool) {
	if s == nil || s.Config == nil {
		return false, false
	}
	features, ok := s.Config["features"].(map[string]interface{})
	if !ok {
		return false, false
	}
	value, ok := features[featureID].(bool)
	return value, ok
}

// Config configures a plugin state store.
type Config struct {
	// Path is the sqlite database file path.
	Path string
	// LookupTimeout bounds request-path reads. Defaults to 2s.
	LookupTimeout time.Duration
	Logger        zerolog.Logger
}

// Store persists tenant-scoped plugin state in sqlite. Reads sit on the
// request critical path, so the store keeps a pooled database/sql handle
// with WAL journaling and bounds every lookup with a deadline.
type Store struct {
	db            *sql.DB
	lookupTimeout time.Duration
	logger        zerolog.Logger
}

// NewStore opens (and if needed creates) the plugin state database.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 2 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	s := &Store{
		db:            db,
		lookupTimeout: cfg.LookupTimeout,
		logger:        cfg.Logger.With().Str("component", "state-store").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plugin_state (
		tenant_id INTEGER NOT NULL,
		plugin_id TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 0,
		config TEXT,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(tenant_id, plugin_id)
	);
	CREATE INDEX IF NOT EXISTS idx_plugin_state_plugin ON plugin_state(plugin_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize state schema: %w", err)
	}
	return nil
}

// Get returns the state row for (tenantID, pluginID). Returns ErrNotFound
// when no row exists and ErrNoTable when the backing table is absent.
func (s *Store) Get(ctx context.Context, tenantID int64, pluginID string) (*PluginState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, plugin_id, enabled, config, updated_at
		 FROM plugin_state WHERE tenant_id = ? AND plugin_id = ?`,
		tenantID, pluginID)

	var (
		st        PluginState
		enabled   int
		configRaw sql.NullString
	)
	err := row.Scan(&st.TenantID, &st.PluginID, &enabled, &configRaw, &st.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		if isMissingTable(err) {
			return nil, ErrNoTable
		}
		return nil, fmt.Errorf("failed to query plugin state: %w", err)
	}

	st.Enabled = enabled != 0
	if configRaw.Valid && configRaw.String != "" {
		if err := json.Unmarshal([]byte(configRaw.String), &st.Config); err != nil {
			s.logger.Warn().
				Err(err).
				Int64("tenant_id", tenantID).
				Str("plugin_id", pluginID).
				Msg("Ignoring malformed plugin state config")
			st.Config = nil
		}
	}

	return &st, nil
}

// Upsert writes the state row for (state.TenantID, state.PluginID).
func (s *Store) Upsert(ctx context.Context, st PluginState) error {
	var configRaw interface{}
	if st.Config != nil {
		data, err := json.Marshal(st.Config)
		if err != nil {
			return fmt.Errorf("failed to encode plugin state config: %w", err)
		}
		configRaw = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plugin_state (tenant_id, plugin_id, enabled, config, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(tenant_id, plugin_id) DO UPDATE SET
			enabled = excluded.enabled,
			config = excluded.config,
			updated_at = CURRENT_TIMESTAMP`,
		st.TenantID, st.PluginID, boolToInt(st.Enabled), configRaw)
	if err != nil {
		return fmt.Errorf("failed to upsert plugin state: %w", err)
	}
	return nil
}

// Checkpoint forces a WAL checkpoint. Called by the maintenance scheduler.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("failed to checkpoint state database: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

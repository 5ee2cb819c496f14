package config

import (
	"encoding/json"
	"fmt"

	"github.com/atriumhq/atrium/pkg/capability"
)

// Config represents the main Atrium configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Plugins configuration
	Plugins PluginsConfig `json:"plugins" mapstructure:"plugins"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Maintenance schedules
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds gateway server configuration
type ServerConfig struct {
	Port        int    `json:"port" mapstructure:"port"`
	Host        string `json:"host" mapstructure:"host"`
	AdminSecret string `json:"admin_secret" mapstructure:"admin_secret"`
}

// PluginsConfig holds plugin loading configuration
type PluginsConfig struct {
	// ManifestDir is scanned for *.json plugin manifests at boot.
	ManifestDir string `json:"manifest_dir" mapstructure:"manifest_dir"`

	// CoreGrants maps plugin IDs to the privileged core capabilities this
	// deployment grants them. A privileged request absent from here is
	// silently narrowed out of the plugin's grant.
	CoreGrants map[string][]string `json:"core_grants" mapstructure:"core_grants"`

	// WatchManifests enables drift detection on the manifest directory.
	WatchManifests bool `json:"watch_manifests" mapstructure:"watch_manifests"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MaintenanceConfig holds cron schedules for background upkeep
type MaintenanceConfig struct {
	Enabled            bool   `json:"enabled" mapstructure:"enabled"`
	TokenPurgeSchedule string `json:"token_purge_schedule" mapstructure:"token_purge_schedule"`
	CheckpointSchedule string `json:"checkpoint_schedule" mapstructure:"checkpoint_schedule"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Plugins: PluginsConfig{
			CoreGrants:     map[string][]string{},
			WatchManifests: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Maintenance: MaintenanceConfig{
			Enabled:            true,
			TokenPurgeSchedule: "0 3 * * *",
			CheckpointSchedule: "*/15 * * * *",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "atrium",
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.AdminSecret == "" {
		return fmt.Errorf("server admin_secret is required")
	}

	if c.Plugins.ManifestDir == "" {
		return fmt.Errorf("plugins manifest_dir is required")
	}

	catalog := capability.NewCatalog()
	for pluginID, grants := range c.Plugins.CoreGrants {
		if pluginID == "" {
			return fmt.Errorf("core_grants: empty plugin ID")
		}
		for _, grant := range grants {
			if !catalog.IsValid(grant) {
				return fmt.Errorf("core_grants for %s: unknown capability %q", pluginID, grant)
			}
		}
	}

	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return nil
}

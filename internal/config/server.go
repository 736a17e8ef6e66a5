package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shelltether/shelltether/internal/tunnelerr"
)

// ServerConfig is the server binary's configuration: bind address,
// super-admin token, persistence DSN, and retention/reaper settings.
type ServerConfig struct {
	BindHost string `yaml:"bind_host"`
	BindPort int    `yaml:"bind_port"`

	SuperAdminToken string `yaml:"super_admin_token"`

	// JWTSigningKey enables the signed-token authentication fast path
	// when non-empty; leave unset to require every token to resolve via
	// the hash-compare lookup.
	JWTSigningKey string `yaml:"jwt_signing_key"`

	PersistenceDSN string `yaml:"persistence_dsn"`

	HistoryRetentionDays int `yaml:"history_retention_days"`
	AuditRetentionDays   int `yaml:"audit_retention_days"`

	ReapSuspendedInstances bool `yaml:"reap_suspended_instances"`
	ReapTerminalHistory    bool `yaml:"reap_terminal_history"`
	ReapAuditLogs          bool `yaml:"reap_audit_logs"`
}

// DefaultServerConfig returns the configuration used when no file is
// present.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		BindHost:               "0.0.0.0",
		BindPort:               8080,
		PersistenceDSN:         "shelltether.db",
		HistoryRetentionDays:   30,
		AuditRetentionDays:     90,
		ReapSuspendedInstances: true,
		ReapTerminalHistory:    true,
		ReapAuditLogs:          true,
	}
}

// LoadServerConfig reads path, applying defaults for any field the file
// does not set (or for every field when the file is missing). A field the
// file sets explicitly, even to a zero value, keeps the file's value.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", tunnelerr.ErrConfigError, path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", tunnelerr.ErrConfigError, path, err)
	}
	return cfg, nil
}

package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/shelltether/shelltether/internal/tunnelerr"
)

// AgentConfig is the agent binary's persisted configuration: server
// URL, identity, both tokens, and the connection-loop intervals. Secrets
// absent on first load are generated and written back rather than left
// empty.
type AgentConfig struct {
	ServerURL         string        `yaml:"server_url"`
	AgentID           string        `yaml:"agent_id"`
	DisplayName       string        `yaml:"display_name"`
	AdminToken        string        `yaml:"admin_token"`
	ShareToken        string        `yaml:"share_token"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

const (
	defaultReconnectInterval = 5 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
)

// LoadAgentConfig reads path (creating it with defaults if absent),
// fills in any missing generated fields (id, tokens), and persists the
// result back to path when anything was generated.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	cfg := &AgentConfig{}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: read %s: %v", tunnelerr.ErrConfigError, path, err)
		}
	} else if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", tunnelerr.ErrConfigError, path, err)
	}

	changed := false
	if cfg.AgentID == "" {
		cfg.AgentID = uuid.NewString()
		changed = true
	}
	if cfg.AdminToken == "" {
		tok, err := randomURLSafeToken()
		if err != nil {
			return nil, err
		}
		cfg.AdminToken = tok
		changed = true
	}
	if cfg.ShareToken == "" {
		tok, err := randomURLSafeToken()
		if err != nil {
			return nil, err
		}
		cfg.ShareToken = tok
		changed = true
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
		changed = true
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
		changed = true
	}

	if changed {
		if err := SaveAgentConfig(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// SaveAgentConfig writes cfg to path as YAML, creating parent
// directories as needed.
func SaveAgentConfig(path string, cfg *AgentConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0600)
}

// randomURLSafeToken generates a 256-bit random value, URL-safe
// base64-encoded.
func randomURLSafeToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

package config

import (
	"path/filepath"
	"testing"
)

func TestLoadAgentConfigGeneratesAndPersistsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")

	cfg, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AgentID == "" || cfg.AdminToken == "" || cfg.ShareToken == "" {
		t.Fatalf("expected generated id/tokens, got %+v", cfg)
	}
	if cfg.ReconnectInterval != defaultReconnectInterval || cfg.HeartbeatInterval != defaultHeartbeatInterval {
		t.Fatalf("expected default intervals, got %+v", cfg)
	}

	reloaded, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.AgentID != cfg.AgentID || reloaded.AdminToken != cfg.AdminToken || reloaded.ShareToken != cfg.ShareToken {
		t.Fatal("expected generated values to persist across reload")
	}
}

func TestLoadAgentConfigPreservesServerURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := SaveAgentConfig(path, &AgentConfig{ServerURL: "https://tunnel.example.com"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	cfg, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "https://tunnel.example.com" {
		t.Fatalf("expected server url preserved, got %q", cfg.ServerURL)
	}
	if cfg.AgentID == "" {
		t.Fatal("expected agent id to be generated for a partially-filled file")
	}
}

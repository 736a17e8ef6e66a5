package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/shelltether/shelltether/internal/agentconn"
	"github.com/shelltether/shelltether/internal/config"
	"github.com/shelltether/shelltether/internal/logger"
	"github.com/shelltether/shelltether/internal/pty"
)

func main() {
	var configPath string
	var serverURL string

	root := &cobra.Command{
		Use:   "agentd",
		Short: "shelltether agent: exposes local PTYs to a routing server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(configPath, serverURL)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "agent config file (default ~/.shelltether/agent.yaml)")
	root.Flags().StringVar(&serverURL, "server", "", "override the configured server URL")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAgent(configPath, serverURLOverride string) error {
	if err := logger.Init("info", ""); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if configPath == "" {
		dir, err := config.UserConfigDir()
		if err != nil {
			return fmt.Errorf("resolve config dir: %w", err)
		}
		configPath = dir + "/agent.yaml"
	}

	cfg, err := config.LoadAgentConfig(configPath)
	if err != nil {
		return fmt.Errorf("load agent config: %w", err)
	}
	if serverURLOverride != "" {
		cfg.ServerURL = serverURLOverride
	}
	if cfg.ServerURL == "" {
		return fmt.Errorf("no server URL configured; pass --server or set server_url in %s", configPath)
	}

	mgr := pty.NewManager()

	var client *agentconn.Client
	handlers := agentconn.Handlers{
		CreateInstance: func(instanceID, cwd string) {
			sink := client.Sink()
			if sink == nil {
				logger.Warn("agentd: create_instance with no live sink", "instance_id", instanceID)
				return
			}
			if _, err := mgr.Create(instanceID, cwd, sink); err != nil {
				logger.Warn("agentd: create instance failed", "instance_id", instanceID, "err", err)
				return
			}
			client.NotifyInstanceCreated(instanceID, cwd)
		},
		CloseInstance: func(instanceID string) {
			if err := mgr.Close(instanceID); err != nil {
				logger.Warn("agentd: close instance failed", "instance_id", instanceID, "err", err)
				return
			}
			client.NotifyInstanceClosed(instanceID)
		},
		Write: func(instanceID string, data []byte) {
			if err := mgr.Write(instanceID, data); err != nil {
				logger.Warn("agentd: write failed", "instance_id", instanceID, "err", err)
			}
		},
		Resize: func(instanceID string, cols, rows uint16) {
			if err := mgr.Resize(instanceID, cols, rows); err != nil {
				logger.Warn("agentd: resize failed", "instance_id", instanceID, "err", err)
			}
		},
	}

	client = agentconn.New(agentconn.Config{
		ServerURL:         cfg.ServerURL,
		AgentID:           cfg.AgentID,
		DisplayName:       cfg.DisplayName,
		AdminToken:        cfg.AdminToken,
		ShareToken:        cfg.ShareToken,
		ReconnectInterval: cfg.ReconnectInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, mgr, handlers)

	watcher, err := config.WatchAgentConfig(configPath, func(reloaded *config.AgentConfig) {
		logger.Info("agentd: config file changed, applying new credentials")
		client.UpdateCredentials(reloaded.AdminToken, reloaded.ShareToken)
	})
	if err != nil {
		logger.Warn("agentd: config watch disabled", "err", err)
	} else {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger.Info("agentd starting", "agent_id", cfg.AgentID, "server_url", cfg.ServerURL)
	client.Run(ctx)
	logger.Info("agentd shut down")
	return nil
}

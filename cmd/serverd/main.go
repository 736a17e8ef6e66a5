package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/shelltether/shelltether/internal/config"
	"github.com/shelltether/shelltether/internal/logger"
	"github.com/shelltether/shelltether/internal/ratelimit"
	"github.com/shelltether/shelltether/internal/server"
	"github.com/shelltether/shelltether/internal/store"
)

func main() {
	var configPath string
	var historyBufferKB int

	root := &cobra.Command{
		Use:   "serverd",
		Short: "shelltether routing server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath, historyBufferKB)
		},
	}
	root.Flags().StringVar(&configPath, "config", "serverd.yaml", "server config file")
	root.Flags().IntVar(&historyBufferKB, "history-buffer-kb", 1024, "per-instance terminal history ring size in KiB")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(configPath string, historyBufferKB int) error {
	if err := logger.Init("info", ""); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("load server config: %w", err)
	}

	repo, err := store.Open(cfg.PersistenceDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repo.Close()

	// 1 event/sec sustained with a burst of 10 approximates a 60-per-minute
	// auth-attempt ceiling while smoothing bursts instead of resetting hard
	// on a fixed window boundary.
	limiter := ratelimit.NewTokenBucket(1, 10)

	srv := server.New(repo, limiter, cfg.SuperAdminToken, historyBufferKB, []byte(cfg.JWTSigningKey))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go srv.RunReapers(ctx, server.ReaperConfig{
		ReapSuspendedInstances: cfg.ReapSuspendedInstances,
		ReapTerminalHistory:    cfg.ReapTerminalHistory,
		ReapAuditLogs:          cfg.ReapAuditLogs,
		HistoryRetentionDays:   cfg.HistoryRetentionDays,
		AuditRetentionDays:     cfg.AuditRetentionDays,
	})

	addr := net.JoinHostPort(cfg.BindHost, fmt.Sprintf("%d", cfg.BindPort))
	logger.Info("serverd listening", "addr", addr)
	if err := server.Serve(ctx, addr, srv.Mux()); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("serverd shut down")
	return nil
}

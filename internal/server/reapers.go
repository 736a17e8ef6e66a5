package server

import (
	"context"
	"time"

	"github.com/shelltether/shelltether/internal/logger"
)

// suspendedInstanceTimeout is the window after which a Suspended
// instance is reaped.
const suspendedInstanceTimeout = 30 * time.Minute

// ReaperConfig toggles each of the three background reapers independently.
type ReaperConfig struct {
	ReapSuspendedInstances bool
	ReapTerminalHistory    bool
	ReapAuditLogs          bool
	HistoryRetentionDays   int
	AuditRetentionDays     int
}

// RunReapers starts the three independent timer tasks and blocks until
// ctx is cancelled. Each reaper ticks on its own interval and is a
// no-op when its ReaperConfig toggle is off.
func (srv *Server) RunReapers(ctx context.Context, cfg ReaperConfig) {
	var tasks []func(context.Context)
	if cfg.ReapSuspendedInstances {
		tasks = append(tasks, func(ctx context.Context) { srv.runSuspendedReaper(ctx) })
	}
	if cfg.ReapTerminalHistory {
		tasks = append(tasks, func(ctx context.Context) { srv.runTerminalHistoryReaper(ctx, cfg.HistoryRetentionDays) })
	}
	if cfg.ReapAuditLogs {
		tasks = append(tasks, func(ctx context.Context) { srv.runAuditLogReaper(ctx, cfg.AuditRetentionDays) })
	}
	for _, task := range tasks {
		go task(ctx)
	}
	<-ctx.Done()
}

func (srv *Server) runSuspendedReaper(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := srv.State.CleanupExpiredSuspendedInstances(suspendedInstanceTimeout); n > 0 {
				logger.Info("reaper: removed expired suspended instances", "count", n)
			}
		}
	}
}

func (srv *Server) runTerminalHistoryReaper(ctx context.Context, retentionDays int) {
	if srv.Store == nil {
		return
	}
	ticker := time.NewTicker(3600 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := srv.Store.CleanupOldTerminalHistory(retentionDays)
			if err != nil {
				logger.Warn("reaper: terminal history cleanup failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("reaper: removed old terminal history rows", "count", n)
			}
		}
	}
}

func (srv *Server) runAuditLogReaper(ctx context.Context, retentionDays int) {
	if srv.Store == nil {
		return
	}
	ticker := time.NewTicker(3600 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := srv.Store.CleanupOldAuditLogs(retentionDays)
			if err != nil {
				logger.Warn("reaper: audit log cleanup failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("reaper: removed old audit log rows", "count", n)
			}
		}
	}
}

package app

import (
	"context"
	"time"

	"mirror_worker/internal/logger"
)

// heartbeatLoop 定期上报心跳并检查后端的重启请求
func (a *App) heartbeatLoop(ctx context.Context) {
	if a.heartbeatInterval <= 0 {
		return
	}

	ticker := time.NewTicker(a.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.heartbeat(ctx) {
				return
			}
		}
	}
}

// heartbeat 执行一次心跳，收到重启请求并停止时返回 true
func (a *App) heartbeat(ctx context.Context) bool {
	log := logger.WithConfig(a.configID)

	if err := a.backend.Heartbeat(ctx); err != nil {
		log.Warnf("Failed to send heartbeat: %v", err)
	}

	cfg, err := a.backend.FetchConfig(ctx)
	if err != nil {
		log.Warnf("Failed to check restart request: %v", err)
		return false
	}
	if !cfg.RestartRequested {
		return false
	}

	log.Info("Restart requested by backend, stopping worker")
	if err := a.backend.AcknowledgeRestart(ctx); err != nil {
		log.Errorf("Failed to acknowledge restart request: %v", err)
	}
	a.Stop()
	return true
}

// flushLoop 定期上报统计窗口
func (a *App) flushLoop(ctx context.Context) {
	if a.flushInterval <= 0 {
		return
	}

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.flushMetrics(ctx)
		}
	}
}

// flushMetrics 上报并清零统计窗口，窗口为空时跳过
// 上报失败时该窗口的数据丢弃
func (a *App) flushMetrics(ctx context.Context) {
	snapshot := a.stats.Snapshot(true)
	if snapshot.TotalMessages == 0 {
		return
	}

	if err := a.backend.ReportMetrics(ctx, snapshot); err != nil {
		logger.WithConfig(a.configID).Warnf("Failed to report metrics: %v", err)
		return
	}
	logger.WithConfig(a.configID).Debugf("Metrics reported: total=%d, success=%d, failed=%d",
		snapshot.TotalMessages, snapshot.SuccessfulMessages, snapshot.FailedMessages)
}

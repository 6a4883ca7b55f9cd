package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mirror_worker/internal/app"
	"mirror_worker/internal/backend"
	"mirror_worker/internal/config"
	"mirror_worker/internal/logger"
	"mirror_worker/internal/metrics"
	"mirror_worker/internal/mongo"
	"mirror_worker/internal/session"
)

func main() {
	os.Exit(run())
}

// run 返回进程退出码：0 正常停止（含中断、重启请求），1 环境变量或启动配置错误
func run() int {
	loaded := config.LoadDotEnv()

	// 初始化logger
	logger.Init()
	for _, path := range loaded {
		logger.L().Debugf("Loaded environment from %s", path)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.L().Errorf("Invalid environment: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化mongo（可选，仅用于保存会话）
	mongoClient, err := mongo.InitFromConfig(ctx, cfg)
	if err != nil {
		logger.L().Errorf("MongoDB initialization failed: %v", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Close(closeCtx); err != nil {
			logger.L().Warnf("Failed to close MongoDB: %v", err)
		}
	}()
	if mongoClient != nil {
		logger.L().Info("MongoDB initialized successfully, sessions are stored in MongoDB")
	}

	storage := session.Open(mongoClient.Database(), cfg.SessionDir, cfg.SessionName)

	client, err := backend.NewClient(cfg.APIEndpoint, cfg.ConfigID, backend.WithTimeout(cfg.BackendTimeout))
	if err != nil {
		logger.L().Errorf("Invalid backend settings: %v", err)
		return 1
	}

	recorder := metrics.NewRecorder()
	if cfg.MetricsAddr != "" {
		srv := metrics.StartServer(cfg.MetricsAddr, recorder)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Close(closeCtx); err != nil {
				logger.L().Warnf("Failed to close metrics server: %v", err)
			}
		}()
	}

	worker := app.New(cfg.ConfigID, client, app.NewMessengerFactory(cfg, storage),
		app.WithHeartbeatInterval(cfg.HeartbeatInterval),
		app.WithMetricsFlushInterval(cfg.MetricsFlushInterval),
		app.WithQueueSize(cfg.QueueSize),
		app.WithObservers(recorder),
	)

	logger.WithConfig(cfg.ConfigID).Infof("Starting mirror worker (endpoint %s)", cfg.APIEndpoint)
	if err := worker.Run(ctx); err != nil {
		if worker.State() == app.StateAborted {
			logger.L().Errorf("Mirror worker failed to start: %v", err)
			return 1
		}
		logger.L().Warnf("Mirror worker stopped: %v", err)
	}
	return 0
}

package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mirror_worker/internal/backend"
	"mirror_worker/internal/logger"
	"mirror_worker/internal/mirror"
)

// Backend 工作进程使用的后端接口（*backend.Client 实现）
type Backend interface {
	FetchConfig(ctx context.Context) (*backend.WorkerConfig, error)
	ReportLog(ctx context.Context, entry backend.LogEntry) error
	Heartbeat(ctx context.Context) error
	AcknowledgeRestart(ctx context.Context) error
	ReportMetrics(ctx context.Context, m backend.Metrics) error
}

// MessengerFactory 根据拉取到的配置创建 Telegram 传输
type MessengerFactory func(cfg backend.WorkerConfig) (mirror.Messenger, error)

// App 镜像工作进程
// 负责生命周期：拉取配置 → 建立会话 → 监听并扇出 → 停止
type App struct {
	configID     string
	backend      Backend
	newMessenger MessengerFactory

	heartbeatInterval time.Duration
	flushInterval     time.Duration
	queueSize         int
	observers         []mirror.Observer
	pacer             mirror.Pacer

	stats *mirror.Stats
	state stateMachine

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option 自定义 App
type Option func(*App)

// WithHeartbeatInterval 心跳间隔，0 表示关闭
func WithHeartbeatInterval(d time.Duration) Option {
	return func(a *App) { a.heartbeatInterval = d }
}

// WithMetricsFlushInterval 指标上报间隔，0 表示关闭
func WithMetricsFlushInterval(d time.Duration) Option {
	return func(a *App) { a.flushInterval = d }
}

// WithQueueSize 事件队列长度
func WithQueueSize(n int) Option {
	return func(a *App) {
		if n > 0 {
			a.queueSize = n
		}
	}
}

// WithObservers 追加投递观察者（例如 Prometheus）
func WithObservers(observers ...mirror.Observer) Option {
	return func(a *App) { a.observers = append(a.observers, observers...) }
}

// WithPacer 自定义等待实现（测试时使用）
func WithPacer(p mirror.Pacer) Option {
	return func(a *App) { a.pacer = p }
}

// New 创建工作进程
func New(configID string, b Backend, factory MessengerFactory, opts ...Option) *App {
	a := &App{
		configID:          configID,
		backend:           b,
		newMessenger:      factory,
		heartbeatInterval: time.Minute,
		flushInterval:     5 * time.Minute,
		queueSize:         100,
		stats:             mirror.NewStats(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State 当前状态
func (a *App) State() State { return a.state.current() }

// Run 启动工作进程并阻塞直到停止
// 配置拉取或会话建立失败时状态为 Aborted 并返回错误
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	switch s := a.State(); s {
	case StateUnconfigured:
	case StateStopped:
		return nil
	default:
		return fmt.Errorf("%w: run from %s", ErrInvalidTransition, s)
	}

	log := logger.WithConfig(a.configID)

	log.Info("Fetching worker configuration...")
	cfg, err := a.backend.FetchConfig(runCtx)
	if err != nil {
		if a.State() == StateStopped {
			return nil
		}
		a.abort()
		return fmt.Errorf("fetch worker config: %w", err)
	}
	log.Infof("Worker configuration loaded: source=%d, destinations=%d, delay=%.1fs",
		cfg.SourceChannelID, len(cfg.DestinationChannels), cfg.DelaySeconds)

	if err := a.state.transition(StateConnecting); err != nil {
		// 拉取期间已被停止
		return nil
	}

	messenger, err := a.newMessenger(*cfg)
	if err != nil {
		a.abort()
		return fmt.Errorf("create telegram client: %w", err)
	}

	observers := append([]mirror.Observer{a.stats}, a.observers...)
	svcOpts := []mirror.Option{mirror.WithObservers(observers...)}
	if a.pacer != nil {
		svcOpts = append(svcOpts, mirror.WithPacer(a.pacer))
	}
	service := mirror.NewService(a.configID, *cfg, messenger, a.backend, svcOpts...)

	dispatcher := mirror.NewDispatcher(a.queueSize, func(ctx context.Context, msg *mirror.Message) {
		service.HandleMessage(ctx, msg)
	})

	var wg sync.WaitGroup
	sub := mirror.Subscription{
		SourceChatID: cfg.SourceChannelID,
		OnReady: func(self string) {
			if err := a.state.transition(StateListening); err != nil {
				log.Warnf("Session ready after stop: %v", err)
				return
			}
			log.Infof("Mirror worker started as %s, listening on %d", self, cfg.SourceChannelID)

			wg.Add(2)
			go func() {
				defer wg.Done()
				a.heartbeatLoop(runCtx)
			}()
			go func() {
				defer wg.Done()
				a.flushLoop(runCtx)
			}()
		},
		Handle: func(_ context.Context, msg *mirror.Message) error {
			return dispatcher.Submit(runCtx, msg)
		},
	}

	runErr := messenger.Run(runCtx, sub)

	cancel()
	wg.Wait()
	dispatcher.Shutdown()
	if a.flushInterval > 0 {
		a.flushMetrics(context.WithoutCancel(ctx))
	}

	if runErr != nil && a.State() == StateConnecting && ctx.Err() == nil {
		a.abort()
		return fmt.Errorf("telegram session failed: %w", runErr)
	}

	if err := a.state.transition(StateStopped); err != nil && a.State() != StateStopped {
		log.Warnf("Failed to mark worker stopped: %v", err)
	}
	log.Info("Mirror worker stopped")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("telegram session ended: %w", runErr)
	}
	return nil
}

// Stop 停止工作进程（尽力而为，进行中的发送可能被放弃）
func (a *App) Stop() {
	if err := a.state.transition(StateStopped); err != nil {
		logger.L().Debugf("Stop ignored: %v", err)
	}

	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (a *App) abort() {
	if err := a.state.transition(StateAborted); err != nil {
		logger.L().Debugf("Abort ignored: %v", err)
	}
}

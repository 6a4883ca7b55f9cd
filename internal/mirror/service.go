package mirror

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mirror_worker/internal/backend"
	"mirror_worker/internal/logger"
)

// Reporter 投递日志上报
type Reporter interface {
	ReportLog(ctx context.Context, entry backend.LogEntry) error
}

// Observer 投递统计
type Observer interface {
	ObserveMessage(kind Kind)
	ObserveDelivery(kind Kind, status string, latency time.Duration)
}

// Result 单条消息的扇出结果
type Result struct {
	TaskID  string
	Kind    Kind
	Success int
	Failed  int
}

// Service 镜像扇出服务
type Service struct {
	configID     string
	sourceChatID int64
	destinations []string
	delay        time.Duration

	sender    Sender
	reporter  Reporter
	pacer     Pacer
	observers []Observer
	nowFunc   func() time.Time
}

// Option 自定义服务行为
type Option func(*Service)

// WithPacer 自定义等待实现（测试时使用）
func WithPacer(p Pacer) Option {
	return func(s *Service) {
		if p != nil {
			s.pacer = p
		}
	}
}

// WithObservers 追加统计观察者
func WithObservers(observers ...Observer) Option {
	return func(s *Service) {
		for _, o := range observers {
			if o != nil {
				s.observers = append(s.observers, o)
			}
		}
	}
}

// WithNowFunc 自定义时间函数（用于测试）
func WithNowFunc(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

// NewService 创建镜像服务，cfg 在服务内部只读
func NewService(configID string, cfg backend.WorkerConfig, sender Sender, reporter Reporter, opts ...Option) *Service {
	destinations := make([]string, len(cfg.DestinationChannels))
	copy(destinations, cfg.DestinationChannels)

	s := &Service{
		configID:     configID,
		sourceChatID: cfg.SourceChannelID,
		destinations: destinations,
		delay:        cfg.Delay(),
		sender:       sender,
		reporter:     reporter,
		pacer:        TimerPacer{},
		nowFunc:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleMessage 将一条源频道消息依次复制到所有目标频道
// 单个目标失败不会中断后续目标，错误只上报不返回
func (s *Service) HandleMessage(ctx context.Context, msg *Message) Result {
	if msg == nil {
		logger.L().Warn("Ignoring nil channel message")
		return Result{Kind: KindText}
	}

	kind := Classify(msg)
	result := Result{TaskID: uuid.New().String(), Kind: kind}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.nowFunc()
	}
	sourceID := msg.ChatID
	if sourceID == 0 {
		sourceID = s.sourceChatID
	}

	for _, o := range s.observers {
		o.ObserveMessage(kind)
	}

	log := logger.L().WithFields(logrus.Fields{
		"task_id":    result.TaskID,
		"message_id": msg.ID,
		"type":       kind,
	})
	log.Infof("New message detected: type=%s, destinations=%d", kind, len(s.destinations))

	for _, dest := range s.destinations {
		err := s.deliver(ctx, dest, msg)

		status := backend.StatusSuccess
		var errMsg *string
		if err == nil {
			result.Success++
			log.WithField("destination", dest).Info("Mirrored message")
		} else {
			result.Failed++
			status = backend.StatusFailed
			text := err.Error()
			errMsg = &text
			log.WithField("destination", dest).Errorf("Failed to mirror message: %v", err)
		}

		for _, o := range s.observers {
			o.ObserveDelivery(kind, status, s.nowFunc().Sub(receivedAt))
		}

		s.report(ctx, backend.LogEntry{
			ConfigID:             s.configID,
			SourceChannelID:      sourceID,
			DestinationChannelID: dest,
			MessageType:          string(kind),
			Status:               status,
			ErrorMessage:         errMsg,
		})
	}

	log.Infof("Mirror task completed: success=%d, failed=%d", result.Success, result.Failed)
	return result
}

// deliver 等待间隔后重发到单个目标
func (s *Service) deliver(ctx context.Context, dest string, msg *Message) error {
	if err := s.pacer.Pace(ctx, s.delay); err != nil {
		return fmt.Errorf("anti-flood delay interrupted: %w", err)
	}

	chatID, err := strconv.ParseInt(strings.TrimSpace(dest), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid destination channel id %q: %w", dest, err)
	}

	switch {
	case msg.Media != nil:
		return s.sender.SendMedia(ctx, chatID, msg)
	case msg.Text != "":
		return s.sender.SendText(ctx, chatID, msg)
	default:
		return ErrUnsupportedContent
	}
}

// report 上报结果；上报失败只记录本地日志
func (s *Service) report(ctx context.Context, entry backend.LogEntry) {
	if s.reporter == nil {
		return
	}
	// 即使 ctx 已取消也要尽量上报这次失败
	if err := s.reporter.ReportLog(context.WithoutCancel(ctx), entry); err != nil {
		logger.L().Errorf("Failed to report delivery log: destination=%s, err=%v", entry.DestinationChannelID, err)
		return
	}
	logger.L().Debugf("Delivery log reported: destination=%s, status=%s", entry.DestinationChannelID, entry.Status)
}

package mtproto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"

	"mirror_worker/internal/logger"
	"mirror_worker/internal/mirror"
)

// ErrNotConnected 会话尚未建立
var ErrNotConnected = errors.New("telegram session is not connected")

// Config 用户会话配置
type Config struct {
	APIID    int
	APIHash  string
	Phone    string
	Password string // 两步验证密码，为空时在终端提示输入

	Storage session.Storage // 会话持久化

	// 终端输入输出（为空时使用 os.Stdin / os.Stdout）
	Input  io.Reader
	Output io.Writer
}

// sendAPI 发送所需的 MTProto 方法
type sendAPI interface {
	MessagesSendMessage(ctx context.Context, request *tg.MessagesSendMessageRequest) (tg.UpdatesClass, error)
	MessagesSendMedia(ctx context.Context, request *tg.MessagesSendMediaRequest) (tg.UpdatesClass, error)
}

// Messenger 基于用户账号（MTProto）的频道镜像客户端
type Messenger struct {
	cfg  Config
	auth terminalAuth

	mu    sync.RWMutex
	api   sendAPI
	peers *peerCache // 生命周期内不变
}

// New 创建用户会话客户端，实际连接在 Run 中建立
func New(cfg Config) (*Messenger, error) {
	if cfg.APIID == 0 || cfg.APIHash == "" {
		return nil, fmt.Errorf("api_id and api_hash are required")
	}
	if cfg.Phone == "" {
		return nil, fmt.Errorf("phone_number is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("session storage is required")
	}

	return &Messenger{
		cfg:   cfg,
		auth:  newTerminalAuth(cfg.Phone, cfg.Password, cfg.Input, cfg.Output),
		peers: newPeerCache(nil),
	}, nil
}

// Run 连接、必要时登录，然后监听源频道新消息直到 ctx 结束或连接断开
func (m *Messenger) Run(ctx context.Context, sub mirror.Subscription) error {
	dispatcher := tg.NewUpdateDispatcher()
	gaps := updates.New(updates.Config{Handler: dispatcher})

	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		m.peers.applyEntities(e)
		m.handleNewMessage(ctx, sub, u.Message)
		return nil
	})
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		m.peers.applyEntities(e)
		m.handleNewMessage(ctx, sub, u.Message)
		return nil
	})

	client := telegram.NewClient(m.cfg.APIID, m.cfg.APIHash, telegram.Options{
		SessionStorage: m.cfg.Storage,
		UpdateHandler:  gaps,
	})

	return client.Run(ctx, func(ctx context.Context) error {
		flow := auth.NewFlow(m.auth, auth.SendCodeOptions{})
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("telegram auth failed: %w", err)
		}

		self, err := client.Self(ctx)
		if err != nil {
			return fmt.Errorf("telegram get self failed: %w", err)
		}

		api := client.API()
		m.peers.setLoader(rawDialogLoader(api))
		if err := m.peers.refresh(ctx); err != nil {
			logger.L().Warnf("Failed to preload dialogs: %v", err)
		}

		m.mu.Lock()
		m.api = api
		m.mu.Unlock()
		defer func() {
			m.mu.Lock()
			m.api = nil
			m.mu.Unlock()
		}()

		if sub.OnReady != nil {
			name := self.Username
			if name == "" {
				name = self.FirstName
			}
			sub.OnReady(name)
		}

		return gaps.Run(ctx, api, self.ID, updates.AuthOptions{
			IsBot: self.Bot,
			OnStart: func(ctx context.Context) {
				logger.L().Info("Telegram update stream started")
			},
		})
	})
}

// handleNewMessage 过滤源频道并交给订阅者
func (m *Messenger) handleNewMessage(ctx context.Context, sub mirror.Subscription, raw tg.MessageClass) {
	msg, ok := raw.(*tg.Message)
	if !ok {
		// 服务消息或空消息
		return
	}

	chatID := markedPeerID(msg.PeerID)
	if chatID != sub.SourceChatID {
		return
	}

	if err := sub.Handle(ctx, toMirrorMessage(msg)); err != nil {
		logger.L().Errorf("Failed to enqueue channel message %d: %v", msg.ID, err)
	}
}

func (m *Messenger) target(ctx context.Context, chatID int64) (sendAPI, tg.InputPeerClass, error) {
	m.mu.RLock()
	api := m.api
	m.mu.RUnlock()

	if api == nil {
		return nil, nil, ErrNotConnected
	}
	peer, err := m.peers.resolve(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	return api, peer, nil
}

func entitiesOf(msg *mirror.Message) []tg.MessageEntityClass {
	entities, _ := msg.Entities.([]tg.MessageEntityClass)
	return entities
}

// SendText 发送纯文本新消息（messages.sendMessage，不带转发来源）
func (m *Messenger) SendText(ctx context.Context, chatID int64, msg *mirror.Message) error {
	api, peer, err := m.target(ctx, chatID)
	if err != nil {
		return err
	}

	_, err = api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  msg.Text,
		Entities: entitiesOf(msg),
		RandomID: rand.Int63(),
	})
	if err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

// SendMedia 用原附件引用发送新消息，原文作为说明文字
func (m *Messenger) SendMedia(ctx context.Context, chatID int64, msg *mirror.Message) error {
	if msg.Media == nil {
		return mirror.ErrUnsupportedContent
	}
	media, ok := msg.Media.Ref.(tg.InputMediaClass)
	if !ok {
		return fmt.Errorf("invalid mtproto media reference %T", msg.Media.Ref)
	}

	api, peer, err := m.target(ctx, chatID)
	if err != nil {
		return err
	}

	_, err = api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    media,
		Message:  msg.Text,
		Entities: entitiesOf(msg),
		RandomID: rand.Int63(),
	})
	if err != nil {
		return fmt.Errorf("send %s to %d: %w", msg.Media.Kind, chatID, err)
	}
	return nil
}

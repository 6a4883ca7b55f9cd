package botapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"

	"mirror_worker/internal/logger"
	"mirror_worker/internal/mirror"
)

// Config Bot API 配置
type Config struct {
	Token     string // Bot Token
	Debug     bool   // 是否开启调试模式
	ServerURL string // 自定义 API 地址（测试或本地 Bot API 服务）
	SkipGetMe bool   // 创建时不调用 getMe（测试时使用）
}

// Messenger 基于 Bot API 的频道镜像客户端
// 机器人需要是源频道和目标频道的管理员
type Messenger struct {
	bot *bot.Bot

	mu  sync.RWMutex
	sub *mirror.Subscription
}

// New 创建 Bot 实例（默认会调用 getMe 校验 token）
func New(cfg Config) (*Messenger, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token cannot be empty")
	}

	m := &Messenger{}

	opts := []bot.Option{
		bot.WithDefaultHandler(m.handleUpdate),
		bot.WithAllowedUpdates(bot.AllowedUpdates{"channel_post"}),
		bot.WithErrorsHandler(func(err error) {
			logger.L().Warnf("Telegram polling error: %v", err)
		}),
	}
	if cfg.Debug {
		opts = append(opts, bot.WithDebug())
	}
	if cfg.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.ServerURL))
	}
	if cfg.SkipGetMe {
		opts = append(opts, bot.WithSkipGetMe())
	}

	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	m.bot = b

	return m, nil
}

// Run 开始长轮询，阻塞直到 ctx 结束
func (m *Messenger) Run(ctx context.Context, sub mirror.Subscription) error {
	me, err := m.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe failed: %w", err)
	}

	m.mu.Lock()
	m.sub = &sub
	m.mu.Unlock()

	if sub.OnReady != nil {
		sub.OnReady("@" + me.Username)
	}

	logger.L().Info("Starting Telegram bot polling...")
	m.bot.Start(ctx)
	logger.L().Info("Telegram bot polling stopped")
	return nil
}

// handleUpdate 只处理来自源频道的 channel_post
func (m *Messenger) handleUpdate(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	if update == nil || update.ChannelPost == nil {
		return
	}

	m.mu.RLock()
	sub := m.sub
	m.mu.RUnlock()
	if sub == nil {
		return
	}

	post := update.ChannelPost
	if post.Chat.ID != sub.SourceChatID {
		logger.L().Debugf("Channel message from %d, expected %d, skipping", post.Chat.ID, sub.SourceChatID)
		return
	}

	if err := sub.Handle(ctx, toMirrorMessage(post)); err != nil {
		logger.L().Errorf("Failed to enqueue channel message %d: %v", post.ID, err)
	}
}

// toMirrorMessage 转换 Bot API 消息，附件按 photo > video > voice > audio > document 取第一个
func toMirrorMessage(post *botModels.Message) *mirror.Message {
	msg := &mirror.Message{
		ID:         int64(post.ID),
		ChatID:     post.Chat.ID,
		ReceivedAt: time.Now(),
	}

	switch {
	case len(post.Photo) > 0:
		// 最后一个尺寸最大
		largest := post.Photo[len(post.Photo)-1]
		msg.Media = &mirror.Media{Kind: mirror.MediaPhoto, Ref: largest.FileID}
	case post.Video != nil:
		msg.Media = &mirror.Media{Kind: mirror.MediaVideo, Ref: post.Video.FileID}
	case post.Voice != nil:
		msg.Media = &mirror.Media{Kind: mirror.MediaVoice, Ref: post.Voice.FileID}
	case post.Audio != nil:
		msg.Media = &mirror.Media{Kind: mirror.MediaAudio, Ref: post.Audio.FileID}
	case post.Document != nil:
		msg.Media = &mirror.Media{Kind: mirror.MediaDocument, Ref: post.Document.FileID}
	}

	if msg.Media != nil {
		msg.Text = post.Caption
		if len(post.CaptionEntities) > 0 {
			msg.Entities = post.CaptionEntities
		}
	} else {
		msg.Text = post.Text
		if len(post.Entities) > 0 {
			msg.Entities = post.Entities
		}
	}
	return msg
}

func entitiesOf(msg *mirror.Message) []botModels.MessageEntity {
	entities, _ := msg.Entities.([]botModels.MessageEntity)
	return entities
}

// SendText 发送纯文本新消息
func (m *Messenger) SendText(ctx context.Context, chatID int64, msg *mirror.Message) error {
	_, err := m.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:   chatID,
		Text:     msg.Text,
		Entities: entitiesOf(msg),
	})
	if err != nil {
		return fmt.Errorf("sendMessage to %d: %w", chatID, err)
	}
	return nil
}

// SendMedia 按 file_id 重新发送附件，原文作为说明文字
func (m *Messenger) SendMedia(ctx context.Context, chatID int64, msg *mirror.Message) error {
	if msg.Media == nil {
		return mirror.ErrUnsupportedContent
	}
	fileID, ok := msg.Media.Ref.(string)
	if !ok || fileID == "" {
		return fmt.Errorf("invalid bot api media reference %T", msg.Media.Ref)
	}

	file := &botModels.InputFileString{Data: fileID}
	caption := msg.Text
	entities := entitiesOf(msg)

	var (
		method string
		err    error
	)
	switch msg.Media.Kind {
	case mirror.MediaPhoto:
		method = "sendPhoto"
		_, err = m.bot.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID: chatID, Photo: file, Caption: caption, CaptionEntities: entities,
		})
	case mirror.MediaVideo:
		method = "sendVideo"
		_, err = m.bot.SendVideo(ctx, &bot.SendVideoParams{
			ChatID: chatID, Video: file, Caption: caption, CaptionEntities: entities,
		})
	case mirror.MediaVoice:
		method = "sendVoice"
		_, err = m.bot.SendVoice(ctx, &bot.SendVoiceParams{
			ChatID: chatID, Voice: file, Caption: caption, CaptionEntities: entities,
		})
	case mirror.MediaAudio:
		method = "sendAudio"
		_, err = m.bot.SendAudio(ctx, &bot.SendAudioParams{
			ChatID: chatID, Audio: file, Caption: caption, CaptionEntities: entities,
		})
	case mirror.MediaDocument:
		method = "sendDocument"
		_, err = m.bot.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID: chatID, Document: file, Caption: caption, CaptionEntities: entities,
		})
	default:
		return fmt.Errorf("unsupported media kind %q", msg.Media.Kind)
	}

	if err != nil {
		return fmt.Errorf("%s to %d: %w", method, chatID, err)
	}
	return nil
}

package app

import (
	tdsession "github.com/gotd/td/session"

	"mirror_worker/internal/backend"
	"mirror_worker/internal/config"
	"mirror_worker/internal/logger"
	"mirror_worker/internal/mirror"
	"mirror_worker/internal/session"
	"mirror_worker/internal/telegram/botapi"
	"mirror_worker/internal/telegram/mtproto"
)

// NewMessengerFactory 选择传输方式：
// 环境变量 TELEGRAM_TOKEN 或配置中的 bot_token 存在时使用 Bot API，否则使用用户会话
// 用户会话在本地不存在时从配置中的 session_string 导入
func NewMessengerFactory(cfg *config.Config, storage tdsession.Storage) MessengerFactory {
	return func(wc backend.WorkerConfig) (mirror.Messenger, error) {
		token := cfg.TelegramToken
		if token == "" {
			token = wc.BotToken
		}

		if token != "" {
			logger.L().Info("Using Telegram Bot API transport")
			m, err := botapi.New(botapi.Config{
				Token: token,
				Debug: cfg.TelegramDebug,
				// Run 中会调用 getMe
				SkipGetMe: true,
			})
			if err != nil {
				return nil, err
			}
			return m, nil
		}

		logger.L().Infof("Using Telegram user session transport (session %q)", cfg.SessionName)
		m, err := mtproto.New(mtproto.Config{
			APIID:    wc.APIID,
			APIHash:  wc.APIHash,
			Phone:    wc.PhoneNumber,
			Password: cfg.TelegramPassword,
			Storage:  session.WithTelethonSeed(storage, wc.SessionString),
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

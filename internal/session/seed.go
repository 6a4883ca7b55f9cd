package session

import (
	"context"
	"errors"
	"fmt"

	tdsession "github.com/gotd/td/session"
)

// seededStorage 本地会话不存在时，从后端下发的 Telethon StringSession 导入
type seededStorage struct {
	tdsession.Storage
	seed string
}

// WithTelethonSeed 包装存储；seed 为空时原样返回
// 导入的会话在客户端首次保存时写入底层存储
func WithTelethonSeed(s tdsession.Storage, seed string) tdsession.Storage {
	if seed == "" {
		return s
	}
	return &seededStorage{Storage: s, seed: seed}
}

// LoadSession 优先读取底层存储
func (s *seededStorage) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := s.Storage.LoadSession(ctx)
	if !errors.Is(err, tdsession.ErrNotFound) {
		return data, err
	}

	seeded, err := tdsession.TelethonSession(s.seed)
	if err != nil {
		return nil, fmt.Errorf("failed to import session_string: %w", err)
	}

	// 借助 Loader 编码为 gotd 的会话格式
	var mem tdsession.StorageMemory
	if err := (&tdsession.Loader{Storage: &mem}).Save(ctx, seeded); err != nil {
		return nil, fmt.Errorf("failed to encode imported session: %w", err)
	}
	return mem.LoadSession(ctx)
}

package mtproto

import (
	"context"
	"fmt"
	"sync"

	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"

	"mirror_worker/internal/logger"
)

// channelIDOffset 频道的带标记 ID 为 -(1e12 + channel_id)，即 -100xxxxxxxxxx
const channelIDOffset int64 = 1_000_000_000_000

// MarkedChannelID 频道 ID 转为带标记 ID
func MarkedChannelID(channelID int64) int64 {
	return -(channelIDOffset + channelID)
}

// markedPeerID 把 PeerClass 转为与 Bot API 一致的带标记 ID
func markedPeerID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerChannel:
		return MarkedChannelID(p.ChannelID)
	case *tg.PeerChat:
		return -p.ChatID
	case *tg.PeerUser:
		return p.UserID
	default:
		return 0
	}
}

// markedInputPeerID 同上，作用于 InputPeerClass
func markedInputPeerID(peer tg.InputPeerClass) (int64, bool) {
	switch p := peer.(type) {
	case *tg.InputPeerChannel:
		return MarkedChannelID(p.ChannelID), true
	case *tg.InputPeerChat:
		return -p.ChatID, true
	case *tg.InputPeerUser:
		return p.UserID, true
	default:
		return 0, false
	}
}

// dialogLoader 遍历对话列表
type dialogLoader func(ctx context.Context, visit func(peer tg.InputPeerClass)) error

// peerCache 带标记 ID 到 InputPeer 的缓存
// 用户账号发送消息需要 access_hash，只能从对话列表或更新实体中获得
type peerCache struct {
	mu    sync.RWMutex
	peers map[int64]tg.InputPeerClass
	load  dialogLoader
}

func newPeerCache(load dialogLoader) *peerCache {
	return &peerCache{
		peers: make(map[int64]tg.InputPeerClass),
		load:  load,
	}
}

func (c *peerCache) put(peer tg.InputPeerClass) {
	id, ok := markedInputPeerID(peer)
	if !ok {
		return
	}
	c.mu.Lock()
	c.peers[id] = peer
	c.mu.Unlock()
}

func (c *peerCache) get(id int64) (tg.InputPeerClass, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	peer, ok := c.peers[id]
	return peer, ok
}

// applyEntities 记录更新中携带的频道、群组和用户
// min 实体的 access_hash 不能用于发送，跳过以免覆盖缓存中的有效记录
func (c *peerCache) applyEntities(e tg.Entities) {
	for _, ch := range e.Channels {
		if ch.Min {
			continue
		}
		c.put(&tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash})
	}
	for _, chat := range e.Chats {
		c.put(&tg.InputPeerChat{ChatID: chat.ID})
	}
	for _, u := range e.Users {
		if u.Min {
			continue
		}
		c.put(&tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash})
	}
}

func (c *peerCache) setLoader(load dialogLoader) {
	c.mu.Lock()
	c.load = load
	c.mu.Unlock()
}

// refresh 重新加载对话列表
func (c *peerCache) refresh(ctx context.Context) error {
	c.mu.RLock()
	load := c.load
	c.mu.RUnlock()
	if load == nil {
		return nil
	}
	count := 0
	err := load(ctx, func(peer tg.InputPeerClass) {
		c.put(peer)
		count++
	})
	if err != nil {
		return fmt.Errorf("load dialogs: %w", err)
	}
	logger.L().Debugf("Peer cache refreshed: %d dialogs", count)
	return nil
}

// resolve 查找目标的 InputPeer，缓存未命中时刷新一次对话列表
func (c *peerCache) resolve(ctx context.Context, id int64) (tg.InputPeerClass, error) {
	if peer, ok := c.get(id); ok {
		return peer, nil
	}
	// 普通群组不需要 access_hash
	if id < 0 && id > -channelIDOffset {
		return &tg.InputPeerChat{ChatID: -id}, nil
	}

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if peer, ok := c.get(id); ok {
		return peer, nil
	}
	return nil, fmt.Errorf("peer %d not found in dialogs (is the account a member?)", id)
}

// rawDialogLoader 通过 messages.getDialogs 分页遍历
func rawDialogLoader(api *tg.Client) dialogLoader {
	return func(ctx context.Context, visit func(peer tg.InputPeerClass)) error {
		return query.GetDialogs(api).BatchSize(100).ForEach(ctx, func(ctx context.Context, elem dialogs.Elem) error {
			visit(elem.Peer)
			return nil
		})
	}
}

package mirror

import (
	"context"
	"errors"
	"time"
)

// Kind 上报给后端的消息类型
type Kind string

// 消息类型常量（互斥且完备）
const (
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindText     Kind = "text"
)

// MediaKind 附件的原始类型
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaVoice    MediaKind = "voice"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// ErrUnsupportedContent 既没有文本也没有可重发的附件
var ErrUnsupportedContent = errors.New("message has no text and no resendable media")

// Media 消息附件
// Ref 由传输层填写并在重发时读取（file_id 或 MTProto 输入媒体）
type Media struct {
	Kind MediaKind
	Ref  interface{}
}

// Message 来自源频道的一条新消息
type Message struct {
	ID         int64
	ChatID     int64 // 带标记的聊天 ID，频道为 -100xxxxxxxxxx
	Text       string
	Media      *Media
	Entities   interface{} // 传输层的格式实体，原样带到新消息
	ReceivedAt time.Time
}

// Classify 判定消息类型，优先级 photo > video > audio > document > text
func Classify(msg *Message) Kind {
	if msg == nil || msg.Media == nil {
		return KindText
	}
	switch msg.Media.Kind {
	case MediaPhoto:
		return KindPhoto
	case MediaVideo:
		return KindVideo
	case MediaVoice, MediaAudio:
		return KindAudio
	case MediaDocument:
		return KindDocument
	default:
		return KindText
	}
}

// Sender 以新消息（非转发）的方式发送内容
type Sender interface {
	// SendText 发送纯文本 msg.Text
	SendText(ctx context.Context, chatID int64, msg *Message) error
	// SendMedia 发送 msg.Media，msg.Text 作为说明文字（为空则不带）
	SendMedia(ctx context.Context, chatID int64, msg *Message) error
}

// Subscription 描述对源频道的订阅
type Subscription struct {
	SourceChatID int64
	// OnReady 认证完成、开始监听时调用一次
	OnReady func(self string)
	// Handle 每条新消息调用一次
	Handle func(ctx context.Context, msg *Message) error
}

// Messenger 消息网络客户端
type Messenger interface {
	Sender
	// Run 建立会话并监听 sub.SourceChatID，阻塞直到 ctx 结束或连接断开
	Run(ctx context.Context, sub Subscription) error
}

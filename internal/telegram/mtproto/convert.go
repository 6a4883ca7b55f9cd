package mtproto

import (
	"time"

	"github.com/gotd/td/tg"

	"mirror_worker/internal/mirror"
)

// toMirrorMessage 转换 MTProto 消息，附件引用保存为可直接重发的 InputMedia
func toMirrorMessage(msg *tg.Message) *mirror.Message {
	out := &mirror.Message{
		ID:         int64(msg.ID),
		ChatID:     markedPeerID(msg.PeerID),
		Text:       msg.Message,
		ReceivedAt: time.Now(),
	}
	if len(msg.Entities) > 0 {
		out.Entities = msg.Entities
	}
	if media, ok := msg.GetMedia(); ok {
		out.Media = toMedia(media)
	}
	return out
}

// toMedia 只识别照片和文档，其他类型（网页预览、投票、位置等）视为无附件
func toMedia(media tg.MessageMediaClass) *mirror.Media {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		return &mirror.Media{
			Kind: mirror.MediaPhoto,
			Ref: &tg.InputMediaPhoto{
				ID: &tg.InputPhoto{
					ID:            photo.ID,
					AccessHash:    photo.AccessHash,
					FileReference: photo.FileReference,
				},
			},
		}
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil
		}
		return &mirror.Media{
			Kind: documentKind(doc),
			Ref: &tg.InputMediaDocument{
				ID: &tg.InputDocument{
					ID:            doc.ID,
					AccessHash:    doc.AccessHash,
					FileReference: doc.FileReference,
				},
			},
		}
	default:
		return nil
	}
}

// documentKind 按属性区分视频、语音、音频和普通文件
func documentKind(doc *tg.Document) mirror.MediaKind {
	var video, voice, audio bool
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeVideo:
			// 圆形视频消息同样按视频处理
			video = true
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				voice = true
			} else {
				audio = true
			}
		}
	}

	switch {
	case video:
		return mirror.MediaVideo
	case voice:
		return mirror.MediaVoice
	case audio:
		return mirror.MediaAudio
	default:
		return mirror.MediaDocument
	}
}

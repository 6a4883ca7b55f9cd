package mtproto

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirror_worker/internal/mirror"
)

func TestMarkedIDs(t *testing.T) {
	assert.Equal(t, int64(-1001234567890), MarkedChannelID(1234567890))
	assert.Equal(t, int64(-1001234567890), markedPeerID(&tg.PeerChannel{ChannelID: 1234567890}))
	assert.Equal(t, int64(-42), markedPeerID(&tg.PeerChat{ChatID: 42}))
	assert.Equal(t, int64(7), markedPeerID(&tg.PeerUser{UserID: 7}))

	id, ok := markedInputPeerID(&tg.InputPeerChannel{ChannelID: 5, AccessHash: 9})
	assert.True(t, ok)
	assert.Equal(t, int64(-1000000000005), id)

	_, ok = markedInputPeerID(&tg.InputPeerEmpty{})
	assert.False(t, ok)
}

func TestPeerCacheResolve(t *testing.T) {
	loads := 0
	cache := newPeerCache(func(ctx context.Context, visit func(peer tg.InputPeerClass)) error {
		loads++
		visit(&tg.InputPeerChannel{ChannelID: 100, AccessHash: 555})
		return nil
	})

	// 普通群组直接构造，不需要加载对话
	peer, err := cache.resolve(context.Background(), -42)
	require.NoError(t, err)
	assert.Equal(t, &tg.InputPeerChat{ChatID: 42}, peer)
	assert.Zero(t, loads)

	peer, err = cache.resolve(context.Background(), MarkedChannelID(100))
	require.NoError(t, err)
	assert.Equal(t, &tg.InputPeerChannel{ChannelID: 100, AccessHash: 555}, peer)
	assert.Equal(t, 1, loads)

	// 命中缓存
	_, err = cache.resolve(context.Background(), MarkedChannelID(100))
	require.NoError(t, err)
	assert.Equal(t, 1, loads)

	_, err = cache.resolve(context.Background(), MarkedChannelID(200))
	require.Error(t, err)
	assert.Equal(t, 2, loads)
}

func TestPeerCacheLoaderError(t *testing.T) {
	cache := newPeerCache(func(ctx context.Context, visit func(peer tg.InputPeerClass)) error {
		return errors.New("FLOOD_WAIT_10")
	})

	_, err := cache.resolve(context.Background(), MarkedChannelID(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load dialogs")
}

func TestPeerCacheApplyEntities(t *testing.T) {
	cache := newPeerCache(nil)
	cache.applyEntities(tg.Entities{
		Channels: map[int64]*tg.Channel{10: {ID: 10, AccessHash: 11}},
		Users:    map[int64]*tg.User{20: {ID: 20, AccessHash: 21}},
		Chats:    map[int64]*tg.Chat{30: {ID: 30}},
	})

	peer, ok := cache.get(MarkedChannelID(10))
	require.True(t, ok)
	assert.Equal(t, &tg.InputPeerChannel{ChannelID: 10, AccessHash: 11}, peer)

	peer, ok = cache.get(20)
	require.True(t, ok)
	assert.Equal(t, &tg.InputPeerUser{UserID: 20, AccessHash: 21}, peer)

	_, ok = cache.get(-30)
	assert.True(t, ok)
}

func TestPeerCacheIgnoresMinEntities(t *testing.T) {
	loads := 0
	cache := newPeerCache(func(ctx context.Context, visit func(peer tg.InputPeerClass)) error {
		loads++
		return nil
	})
	cache.put(&tg.InputPeerChannel{ChannelID: 42, AccessHash: 777})
	cache.put(&tg.InputPeerUser{UserID: 7, AccessHash: 70})

	// 从目标频道转发到源频道的消息会带上 min 实体
	cache.applyEntities(tg.Entities{
		Channels: map[int64]*tg.Channel{42: {ID: 42, Min: true}, 43: {ID: 43, Min: true}},
		Users:    map[int64]*tg.User{7: {ID: 7, Min: true}},
	})

	peer, err := cache.resolve(context.Background(), MarkedChannelID(42))
	require.NoError(t, err)
	assert.Equal(t, &tg.InputPeerChannel{ChannelID: 42, AccessHash: 777}, peer)

	peer, err = cache.resolve(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, &tg.InputPeerUser{UserID: 7, AccessHash: 70}, peer)
	assert.Zero(t, loads)

	// 未缓存的 min 频道不会进入缓存，解析时仍会刷新对话列表
	_, ok := cache.get(MarkedChannelID(43))
	assert.False(t, ok)
	_, err = cache.resolve(context.Background(), MarkedChannelID(43))
	require.Error(t, err)
	assert.Equal(t, 1, loads)
}

func TestDocumentKind(t *testing.T) {
	tests := []struct {
		name  string
		attrs []tg.DocumentAttributeClass
		want  mirror.MediaKind
	}{
		{name: "plain file", attrs: []tg.DocumentAttributeClass{&tg.DocumentAttributeFilename{FileName: "a.pdf"}}, want: mirror.MediaDocument},
		{name: "video", attrs: []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{Duration: 3}}, want: mirror.MediaVideo},
		{name: "round video", attrs: []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{RoundMessage: true}}, want: mirror.MediaVideo},
		{name: "voice", attrs: []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true}}, want: mirror.MediaVoice},
		{name: "audio", attrs: []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Title: "song"}}, want: mirror.MediaAudio},
		{
			name: "video wins over audio",
			attrs: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeAudio{},
				&tg.DocumentAttributeVideo{},
			},
			want: mirror.MediaVideo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, documentKind(&tg.Document{Attributes: tt.attrs}))
		})
	}
}

func TestToMirrorMessage(t *testing.T) {
	photo := &tg.Photo{ID: 1, AccessHash: 2, FileReference: []byte{3}}
	msg := &tg.Message{
		ID:      99,
		PeerID:  &tg.PeerChannel{ChannelID: 1234567890},
		Message: "caption",
	}
	msg.SetMedia(&tg.MessageMediaPhoto{Photo: photo})

	out := toMirrorMessage(msg)
	assert.Equal(t, int64(99), out.ID)
	assert.Equal(t, int64(-1001234567890), out.ChatID)
	assert.Equal(t, "caption", out.Text)
	require.NotNil(t, out.Media)
	assert.Equal(t, mirror.KindPhoto, mirror.Classify(out))
	assert.Equal(t, &tg.InputMediaPhoto{ID: &tg.InputPhoto{ID: 1, AccessHash: 2, FileReference: []byte{3}}}, out.Media.Ref)

	text := toMirrorMessage(&tg.Message{ID: 1, PeerID: &tg.PeerChannel{ChannelID: 5}, Message: "hi"})
	assert.Nil(t, text.Media)
	assert.Equal(t, mirror.KindText, mirror.Classify(text))

	webpage := &tg.Message{ID: 2, PeerID: &tg.PeerChannel{ChannelID: 5}, Message: "https://example.com"}
	webpage.SetMedia(&tg.MessageMediaWebPage{Webpage: &tg.WebPageEmpty{}})
	assert.Nil(t, toMirrorMessage(webpage).Media)
}

type fakeSendAPI struct {
	texts []*tg.MessagesSendMessageRequest
	media []*tg.MessagesSendMediaRequest
	err   error
}

func (f *fakeSendAPI) MessagesSendMessage(ctx context.Context, req *tg.MessagesSendMessageRequest) (tg.UpdatesClass, error) {
	f.texts = append(f.texts, req)
	return &tg.Updates{}, f.err
}

func (f *fakeSendAPI) MessagesSendMedia(ctx context.Context, req *tg.MessagesSendMediaRequest) (tg.UpdatesClass, error) {
	f.media = append(f.media, req)
	return &tg.Updates{}, f.err
}

func newConnectedMessenger(t *testing.T, api sendAPI) *Messenger {
	t.Helper()
	m, err := New(Config{APIID: 1, APIHash: "hash", Phone: "+1", Storage: &session.StorageMemory{}})
	require.NoError(t, err)
	m.api = api
	m.peers.put(&tg.InputPeerChannel{ChannelID: 100, AccessHash: 555})
	return m
}

func TestSendTextAndMedia(t *testing.T) {
	api := &fakeSendAPI{}
	m := newConnectedMessenger(t, api)
	dest := MarkedChannelID(100)

	entities := []tg.MessageEntityClass{&tg.MessageEntityBold{Offset: 0, Length: 2}}
	require.NoError(t, m.SendText(context.Background(), dest, &mirror.Message{Text: "hi", Entities: entities}))
	require.Len(t, api.texts, 1)
	assert.Equal(t, "hi", api.texts[0].Message)
	assert.Equal(t, entities, api.texts[0].Entities)
	assert.Equal(t, &tg.InputPeerChannel{ChannelID: 100, AccessHash: 555}, api.texts[0].Peer)

	media := &tg.InputMediaDocument{ID: &tg.InputDocument{ID: 7}}
	require.NoError(t, m.SendMedia(context.Background(), dest, &mirror.Message{
		Text:  "",
		Media: &mirror.Media{Kind: mirror.MediaDocument, Ref: media},
	}))
	require.Len(t, api.media, 1)
	assert.Same(t, media, api.media[0].Media)
	assert.Empty(t, api.media[0].Message)
}

func TestSendErrors(t *testing.T) {
	m, err := New(Config{APIID: 1, APIHash: "hash", Phone: "+1", Storage: &session.StorageMemory{}})
	require.NoError(t, err)

	err = m.SendText(context.Background(), MarkedChannelID(100), &mirror.Message{Text: "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)

	api := &fakeSendAPI{err: errors.New("CHAT_WRITE_FORBIDDEN")}
	m = newConnectedMessenger(t, api)

	err = m.SendText(context.Background(), MarkedChannelID(100), &mirror.Message{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAT_WRITE_FORBIDDEN")

	err = m.SendMedia(context.Background(), MarkedChannelID(100), &mirror.Message{Media: &mirror.Media{Kind: mirror.MediaPhoto, Ref: "file-id"}})
	require.Error(t, err)
	assert.Empty(t, api.media)

	err = m.SendMedia(context.Background(), MarkedChannelID(100), &mirror.Message{})
	assert.ErrorIs(t, err, mirror.ErrUnsupportedContent)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{APIHash: "hash", Phone: "+1", Storage: &session.StorageMemory{}})
	require.Error(t, err)
	_, err = New(Config{APIID: 1, APIHash: "hash", Storage: &session.StorageMemory{}})
	require.Error(t, err)
	_, err = New(Config{APIID: 1, APIHash: "hash", Phone: "+1"})
	require.Error(t, err)
}

func TestHandleNewMessageFiltersSource(t *testing.T) {
	m := newConnectedMessenger(t, &fakeSendAPI{})

	var got []*mirror.Message
	sub := mirror.Subscription{
		SourceChatID: MarkedChannelID(1),
		Handle: func(ctx context.Context, msg *mirror.Message) error {
			got = append(got, msg)
			return nil
		},
	}

	ctx := context.Background()
	m.handleNewMessage(ctx, sub, &tg.MessageService{ID: 1, PeerID: &tg.PeerChannel{ChannelID: 1}})
	m.handleNewMessage(ctx, sub, &tg.Message{ID: 2, PeerID: &tg.PeerChannel{ChannelID: 2}, Message: "other"})
	m.handleNewMessage(ctx, sub, &tg.Message{ID: 3, PeerID: &tg.PeerChannel{ChannelID: 1}, Message: "mine"})

	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].ID)
}

func TestTerminalAuth(t *testing.T) {
	var out bytes.Buffer
	a := newTerminalAuth("+5511", "", strings.NewReader(" 12345 \n"), &out)
	a.readPassword = func() (string, error) { return "secret\n", nil }

	phone, err := a.Phone(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "+5511", phone)

	code, err := a.Code(context.Background(), &tg.AuthSentCode{})
	require.NoError(t, err)
	assert.Equal(t, "12345", code)
	assert.Contains(t, out.String(), "+5511")

	password, err := a.Password(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret", password)

	_, err = a.SignUp(context.Background())
	require.Error(t, err)

	preset := newTerminalAuth("+1", "preset", strings.NewReader(""), &out)
	password, err = preset.Password(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "preset", password)

	_, err = preset.Code(context.Background(), &tg.AuthSentCode{})
	require.Error(t, err)
}

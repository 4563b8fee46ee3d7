// Package gogram adapts github.com/amarnathcjd/gogram to the tgadapter
// contract. Unlike the Bot-API variants this one speaks MTProto directly and
// therefore needs the api_id/api_hash application credentials from
// my.telegram.org in addition to the bot token.
package gogram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/amarnathcjd/gogram/telegram"

	"github.com/sedabot/sedabot/pkg/tgadapter"
)

func init() {
	tgadapter.Register("gogram", New)
}

// Adapter wraps a telegram.Client behind the tgadapter.Adapter interface.
type Adapter struct {
	token       string
	apiID       int32
	apiHash     string
	sessionFile string

	mu         sync.RWMutex
	client     *telegram.Client
	msgHandler tgadapter.MessageHandler
	cbHandler  tgadapter.CallbackHandler
	errHandler tgadapter.ErrorHandler

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New validates the MTProto credentials and builds the adapter. The
// connection and bot login happen in Start.
func New(cfg tgadapter.Config) (tgadapter.Adapter, error) {
	if cfg.APIID == 0 || cfg.APIHash == "" {
		return nil, errors.New("gogram: api_id and api_hash are required for the MTProto adapter")
	}
	return &Adapter{
		token:       cfg.Token,
		apiID:       int32(cfg.APIID),
		apiHash:     cfg.APIHash,
		sessionFile: cfg.SessionFile,
		stopCh:      make(chan struct{}),
	}, nil
}

func (a *Adapter) Name() string { return "gogram" }

// Start connects, logs the bot in, and blocks on the MTProto update loop
// until ctx is cancelled or Stop is called.
func (a *Adapter) Start(ctx context.Context) error {
	cfg := telegram.ClientConfig{
		AppID:   a.apiID,
		AppHash: a.apiHash,
	}
	if a.sessionFile != "" {
		cfg.Session = a.sessionFile
	} else {
		cfg.MemorySession = true
	}
	client, err := telegram.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("gogram: init client: %w", err)
	}
	if err := client.LoginBot(a.token); err != nil {
		return fmt.Errorf("gogram: bot login: %w", err)
	}
	a.mu.Lock()
	a.client = client
	a.mu.Unlock()
	if me, err := client.GetMe(); err == nil {
		slog.Info("telegram adapter connected", "adapter", "gogram", "username", me.Username)
	}

	client.On(telegram.OnMessage, func(m *telegram.NewMessage) error {
		a.mu.RLock()
		h := a.msgHandler
		a.mu.RUnlock()
		if h != nil {
			go h(ctx, convertMessage(m))
		}
		return nil
	})
	client.On(telegram.OnCallback, func(cb *telegram.CallbackQuery) error {
		// Acknowledge first so the client stops its spinner.
		if _, err := cb.Answer(""); err != nil {
			a.reportError(fmt.Errorf("gogram: answer callback: %w", err))
		}
		a.mu.RLock()
		h := a.cbHandler
		a.mu.RUnlock()
		if h != nil {
			go h(ctx, convertCallbackSource(cb), cb.DataString())
		}
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-a.stopCh:
		}
		client.Stop()
	}()
	client.Idle()
	return ctx.Err()
}

// Stop unblocks Start. Safe to call more than once.
func (a *Adapter) Stop(context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	return nil
}

func (a *Adapter) requireClient() (*telegram.Client, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil, errors.New("gogram: adapter not started")
	}
	return a.client, nil
}

func (a *Adapter) SendMessage(_ context.Context, chatID int64, text string, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	client, err := a.requireClient()
	if err != nil {
		return nil, err
	}
	so := &telegram.SendOptions{}
	if opts != nil && opts.ReplyTo != 0 {
		so.ReplyID = int32(opts.ReplyTo)
	}
	sent, err := client.SendMessage(chatID, text, so)
	if err != nil {
		return nil, fmt.Errorf("gogram: send message: %w", err)
	}
	return convertMessage(sent), nil
}

// sendMedia uploads data through a temporary file; gogram resolves media from
// a filesystem path.
func (a *Adapter) sendMedia(chatID int64, data []byte, filename string, mo *telegram.MediaOptions) (*tgadapter.InboundMessage, error) {
	client, err := a.requireClient()
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp("", "sedabot-*-"+filename)
	if err != nil {
		return nil, fmt.Errorf("gogram: stage upload: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("gogram: stage upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("gogram: stage upload: %w", err)
	}

	mo.FileName = filename
	sent, err := client.SendMedia(chatID, tmp.Name(), mo)
	if err != nil {
		return nil, fmt.Errorf("gogram: send media: %w", err)
	}
	return convertMessage(sent), nil
}

func (a *Adapter) SendVoice(_ context.Context, chatID int64, data []byte, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	mo := &telegram.MediaOptions{
		Attributes: []telegram.DocumentAttribute{
			&telegram.DocumentAttributeAudio{
				Voice:    true,
				Duration: int32(tgadapter.VoiceDuration(data, opts)),
			},
		},
	}
	if opts != nil {
		mo.Caption = opts.Caption
		if opts.ReplyTo != 0 {
			mo.ReplyID = int32(opts.ReplyTo)
		}
	}
	return a.sendMedia(chatID, data, tgadapter.UploadFilename(opts, "voice.ogg"), mo)
}

func (a *Adapter) SendAudio(_ context.Context, chatID int64, data []byte, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	mo := &telegram.MediaOptions{
		Attributes: []telegram.DocumentAttribute{
			&telegram.DocumentAttributeAudio{},
		},
	}
	if opts != nil {
		mo.Caption = opts.Caption
		if opts.ReplyTo != 0 {
			mo.ReplyID = int32(opts.ReplyTo)
		}
	}
	return a.sendMedia(chatID, data, tgadapter.UploadFilename(opts, "audio.mp3"), mo)
}

func (a *Adapter) SendDocument(_ context.Context, chatID int64, data []byte, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	mo := &telegram.MediaOptions{ForceDocument: true}
	if opts != nil {
		mo.Caption = opts.Caption
		if opts.ReplyTo != 0 {
			mo.ReplyID = int32(opts.ReplyTo)
		}
	}
	return a.sendMedia(chatID, data, tgadapter.UploadFilename(opts, "file.bin"), mo)
}

func (a *Adapter) EditMessageText(_ context.Context, chatID int64, messageID int, text string) (*tgadapter.InboundMessage, error) {
	client, err := a.requireClient()
	if err != nil {
		return nil, err
	}
	sent, err := client.EditMessage(chatID, int32(messageID), text)
	if err != nil {
		return nil, fmt.Errorf("gogram: edit message: %w", err)
	}
	return convertMessage(sent), nil
}

// DeleteMessage is best-effort; failures are reported through the error
// handler, never returned.
func (a *Adapter) DeleteMessage(_ context.Context, chatID int64, messageID int) bool {
	client, err := a.requireClient()
	if err != nil {
		return false
	}
	if _, err := client.DeleteMessages(chatID, []int32{int32(messageID)}); err != nil {
		a.reportError(fmt.Errorf("gogram: delete message %d in %d: %w", messageID, chatID, err))
		return false
	}
	return true
}

// GetChat resolves basic group metadata. MTProto distinguishes users,
// chats, and channels; private chats with users resolve to a minimal record.
func (a *Adapter) GetChat(_ context.Context, chatID int64) (*tgadapter.Chat, error) {
	client, err := a.requireClient()
	if err != nil {
		return nil, err
	}
	chat, err := client.GetChat(chatID)
	if err != nil {
		if chatID > 0 {
			return &tgadapter.Chat{ID: chatID, Type: tgadapter.ChatPrivate}, nil
		}
		return nil, fmt.Errorf("gogram: get chat: %w", err)
	}
	return &tgadapter.Chat{
		ID:    chatID,
		Type:  tgadapter.ChatGroup,
		Title: chat.Title,
	}, nil
}

func (a *Adapter) GetMe(context.Context) (*tgadapter.User, error) {
	client, err := a.requireClient()
	if err != nil {
		return nil, err
	}
	me, err := client.GetMe()
	if err != nil {
		return nil, fmt.Errorf("gogram: get me: %w", err)
	}
	return convertUser(me), nil
}

func (a *Adapter) SetMessageHandler(h tgadapter.MessageHandler) {
	a.mu.Lock()
	a.msgHandler = h
	a.mu.Unlock()
}

func (a *Adapter) SetCallbackHandler(h tgadapter.CallbackHandler) {
	a.mu.Lock()
	a.cbHandler = h
	a.mu.Unlock()
}

func (a *Adapter) SetErrorHandler(h tgadapter.ErrorHandler) {
	a.mu.Lock()
	a.errHandler = h
	a.mu.Unlock()
}

func (a *Adapter) reportError(err error) {
	a.mu.RLock()
	h := a.errHandler
	a.mu.RUnlock()
	if h != nil {
		h(err)
		return
	}
	slog.Warn("telegram adapter error", "adapter", "gogram", "error", err)
}

// convertMessage normalizes a telegram.NewMessage into the uniform event
// model. MTProto entity records are not mapped.
func convertMessage(m *telegram.NewMessage) *tgadapter.InboundMessage {
	msg := &tgadapter.InboundMessage{
		ID:     int(m.ID),
		ChatID: m.ChatID(),
		Text:   m.Text(),
		Kind:   classify(m),
		Raw:    m,
	}
	if m.Sender != nil {
		msg.User = convertUser(m.Sender)
	}
	if m.IsReply() {
		msg.ReplyTo = int(m.ReplyToMsgID())
	}
	if m.Message != nil && m.Message.Date != 0 {
		msg.SentAt = time.Unix(int64(m.Message.Date), 0)
	}
	return msg
}

// convertCallbackSource builds the originating-message record of a callback
// event.
func convertCallbackSource(cb *telegram.CallbackQuery) *tgadapter.InboundMessage {
	msg := &tgadapter.InboundMessage{
		ID:     int(cb.MessageID),
		ChatID: cb.ChatID,
		Text:   cb.DataString(),
		Kind:   tgadapter.KindText,
		Raw:    cb,
	}
	if cb.Sender != nil {
		msg.User = convertUser(cb.Sender)
	}
	return msg
}

func convertUser(u *telegram.UserObj) *tgadapter.User {
	return &tgadapter.User{
		ID:           u.ID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		LanguageCode: u.LangCode,
		IsBot:        u.Bot,
		IsPremium:    u.Premium,
	}
}

func classify(m *telegram.NewMessage) tgadapter.Kind {
	switch {
	case !m.IsMedia():
		if m.Text() != "" {
			return tgadapter.KindText
		}
		return tgadapter.KindUnknown
	case m.Voice() != nil:
		return tgadapter.KindVoice
	case m.Audio() != nil:
		return tgadapter.KindAudio
	case m.Document() != nil:
		return tgadapter.KindDocument
	case m.Photo() != nil:
		return tgadapter.KindPhoto
	case m.Video() != nil:
		return tgadapter.KindVideo
	case m.Sticker() != nil:
		return tgadapter.KindSticker
	default:
		return tgadapter.KindUnknown
	}
}

var _ tgadapter.Adapter = (*Adapter)(nil)

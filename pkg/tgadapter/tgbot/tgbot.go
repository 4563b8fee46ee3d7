// Package tgbot adapts github.com/go-telegram/bot to the tgadapter contract.
// The upstream client is context-first, so this is the thinnest of the
// Bot-API variants.
package tgbot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/sedabot/sedabot/pkg/tgadapter"
)

func init() {
	tgadapter.Register("tgbot", New)
}

// Adapter wraps a tg.Bot behind the tgadapter.Adapter interface.
type Adapter struct {
	bot *tg.Bot

	mu         sync.RWMutex
	msgHandler tgadapter.MessageHandler
	cbHandler  tgadapter.CallbackHandler
	errHandler tgadapter.ErrorHandler

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds the adapter. getMe is deferred to Start so construction stays
// offline.
func New(cfg tgadapter.Config) (tgadapter.Adapter, error) {
	a := &Adapter{stopCh: make(chan struct{})}
	b, err := tg.New(cfg.Token,
		tg.WithSkipGetMe(),
		tg.WithDefaultHandler(a.handleUpdate),
	)
	if err != nil {
		return nil, fmt.Errorf("tgbot: %w", err)
	}
	a.bot = b
	return a, nil
}

func (a *Adapter) Name() string { return "tgbot" }

// Start blocks on the upstream long-poll loop until ctx is cancelled or Stop
// is called.
func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	if me, err := a.bot.GetMe(runCtx); err == nil {
		slog.Info("telegram adapter connected", "adapter", "tgbot", "username", me.Username)
	}
	a.bot.Start(runCtx)
	return ctx.Err()
}

// Stop unblocks Start. Safe to call more than once.
func (a *Adapter) Stop(context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	return nil
}

func (a *Adapter) handleUpdate(ctx context.Context, b *tg.Bot, update *models.Update) {
	switch {
	case update.Message != nil:
		a.mu.RLock()
		h := a.msgHandler
		a.mu.RUnlock()
		if h != nil {
			go h(ctx, convertMessage(update.Message))
		}
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		// Acknowledge first so the client stops its spinner.
		if _, err := b.AnswerCallbackQuery(ctx, &tg.AnswerCallbackQueryParams{CallbackQueryID: cq.ID}); err != nil {
			a.reportError(fmt.Errorf("tgbot: answer callback: %w", err))
		}
		a.mu.RLock()
		h := a.cbHandler
		a.mu.RUnlock()
		if h != nil {
			go h(ctx, convertCallbackSource(cq), cq.Data)
		}
	}
}

func (a *Adapter) SendMessage(ctx context.Context, chatID int64, text string, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	params := &tg.SendMessageParams{ChatID: chatID, Text: text}
	if opts != nil && opts.ReplyTo != 0 {
		params.ReplyParameters = &models.ReplyParameters{MessageID: opts.ReplyTo}
	}
	sent, err := a.bot.SendMessage(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("tgbot: send message: %w", err)
	}
	return convertMessage(sent), nil
}

func (a *Adapter) SendVoice(ctx context.Context, chatID int64, data []byte, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	params := &tg.SendVoiceParams{
		ChatID: chatID,
		Voice: &models.InputFileUpload{
			Filename: tgadapter.UploadFilename(opts, "voice.ogg"),
			Data:     bytes.NewReader(data),
		},
		Duration: tgadapter.VoiceDuration(data, opts),
	}
	if opts != nil {
		params.Caption = opts.Caption
		if opts.ReplyTo != 0 {
			params.ReplyParameters = &models.ReplyParameters{MessageID: opts.ReplyTo}
		}
	}
	sent, err := a.bot.SendVoice(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("tgbot: send voice: %w", err)
	}
	return convertMessage(sent), nil
}

func (a *Adapter) SendAudio(ctx context.Context, chatID int64, data []byte, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	params := &tg.SendAudioParams{
		ChatID: chatID,
		Audio: &models.InputFileUpload{
			Filename: tgadapter.UploadFilename(opts, "audio.mp3"),
			Data:     bytes.NewReader(data),
		},
	}
	if opts != nil {
		params.Caption = opts.Caption
		params.Duration = opts.Duration
		if opts.ReplyTo != 0 {
			params.ReplyParameters = &models.ReplyParameters{MessageID: opts.ReplyTo}
		}
	}
	sent, err := a.bot.SendAudio(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("tgbot: send audio: %w", err)
	}
	return convertMessage(sent), nil
}

func (a *Adapter) SendDocument(ctx context.Context, chatID int64, data []byte, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	params := &tg.SendDocumentParams{
		ChatID: chatID,
		Document: &models.InputFileUpload{
			Filename: tgadapter.UploadFilename(opts, "file.bin"),
			Data:     bytes.NewReader(data),
		},
	}
	if opts != nil {
		params.Caption = opts.Caption
		if opts.ReplyTo != 0 {
			params.ReplyParameters = &models.ReplyParameters{MessageID: opts.ReplyTo}
		}
	}
	sent, err := a.bot.SendDocument(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("tgbot: send document: %w", err)
	}
	return convertMessage(sent), nil
}

func (a *Adapter) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) (*tgadapter.InboundMessage, error) {
	sent, err := a.bot.EditMessageText(ctx, &tg.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	})
	if err != nil {
		return nil, fmt.Errorf("tgbot: edit message: %w", err)
	}
	return convertMessage(sent), nil
}

// DeleteMessage is best-effort; failures are reported through the error
// handler, never returned.
func (a *Adapter) DeleteMessage(ctx context.Context, chatID int64, messageID int) bool {
	ok, err := a.bot.DeleteMessage(ctx, &tg.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	if err != nil {
		a.reportError(fmt.Errorf("tgbot: delete message %d in %d: %w", messageID, chatID, err))
		return false
	}
	return ok
}

func (a *Adapter) GetChat(ctx context.Context, chatID int64) (*tgadapter.Chat, error) {
	chat, err := a.bot.GetChat(ctx, &tg.GetChatParams{ChatID: chatID})
	if err != nil {
		return nil, fmt.Errorf("tgbot: get chat: %w", err)
	}
	return &tgadapter.Chat{
		ID:          chat.ID,
		Type:        tgadapter.ChatType(chat.Type),
		Title:       chat.Title,
		Username:    chat.Username,
		Description: chat.Description,
		InviteLink:  chat.InviteLink,
	}, nil
}

func (a *Adapter) GetMe(ctx context.Context) (*tgadapter.User, error) {
	me, err := a.bot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("tgbot: get me: %w", err)
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
	slog.Warn("telegram adapter error", "adapter", "tgbot", "error", err)
}

// convertMessage normalizes a models.Message into the uniform event model.
func convertMessage(m *models.Message) *tgadapter.InboundMessage {
	msg := &tgadapter.InboundMessage{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		Text:         m.Text,
		Kind:         classify(m),
		Caption:      m.Caption,
		MediaGroupID: m.MediaGroupID,
		Raw:          m,
	}
	if m.From != nil {
		msg.User = convertUser(m.From)
	}
	if m.ReplyToMessage != nil {
		msg.ReplyTo = m.ReplyToMessage.ID
	}
	if m.Date != 0 {
		msg.SentAt = time.Unix(int64(m.Date), 0)
	}
	if m.EditDate != 0 {
		msg.EditedAt = time.Unix(int64(m.EditDate), 0)
	}
	for _, e := range m.Entities {
		msg.Entities = append(msg.Entities, tgadapter.Entity{
			Type:   string(e.Type),
			Offset: e.Offset,
			Length: e.Length,
			URL:    e.URL,
		})
	}
	return msg
}

// convertCallbackSource builds the originating-message record of a callback
// event. Inaccessible source messages leave the ids zero.
func convertCallbackSource(cq *models.CallbackQuery) *tgadapter.InboundMessage {
	msg := &tgadapter.InboundMessage{Kind: tgadapter.KindText, Text: cq.Data, Raw: cq}
	if cq.Message.Message != nil {
		msg.ID = cq.Message.Message.ID
		msg.ChatID = cq.Message.Message.Chat.ID
	}
	msg.User = convertUser(&cq.From)
	return msg
}

func convertUser(u *models.User) *tgadapter.User {
	return &tgadapter.User{
		ID:           u.ID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		LanguageCode: u.LanguageCode,
		IsBot:        u.IsBot,
		IsPremium:    u.IsPremium,
	}
}

func classify(m *models.Message) tgadapter.Kind {
	switch {
	case m.Voice != nil:
		return tgadapter.KindVoice
	case m.Audio != nil:
		return tgadapter.KindAudio
	case m.Document != nil:
		return tgadapter.KindDocument
	case len(m.Photo) > 0:
		return tgadapter.KindPhoto
	case m.Video != nil:
		return tgadapter.KindVideo
	case m.Sticker != nil:
		return tgadapter.KindSticker
	case m.Location != nil:
		return tgadapter.KindLocation
	case m.Contact != nil:
		return tgadapter.KindContact
	case m.Poll != nil:
		return tgadapter.KindPoll
	case m.Text != "":
		return tgadapter.KindText
	default:
		return tgadapter.KindUnknown
	}
}

var _ tgadapter.Adapter = (*Adapter)(nil)

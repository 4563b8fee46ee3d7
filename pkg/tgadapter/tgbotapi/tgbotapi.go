// Package tgbotapi adapts go-telegram-bot-api/v5 to the tgadapter contract.
// It is the default Bot-API variant: long polling, no extra credentials
// beyond the bot token.
package tgbotapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	api "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sedabot/sedabot/pkg/tgadapter"
)

const defaultPollTimeout = 60

func init() {
	tgadapter.Register("tgbotapi", New)
}

// Adapter wraps an api.BotAPI behind the tgadapter.Adapter interface.
type Adapter struct {
	token       string
	pollTimeout int

	mu         sync.RWMutex
	bot        *api.BotAPI
	msgHandler tgadapter.MessageHandler
	cbHandler  tgadapter.CallbackHandler
	errHandler tgadapter.ErrorHandler

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds the adapter. The Telegram connection is established in Start.
func New(cfg tgadapter.Config) (tgadapter.Adapter, error) {
	timeout := cfg.PollTimeoutSeconds
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	return &Adapter{
		token:       cfg.Token,
		pollTimeout: timeout,
		stopCh:      make(chan struct{}),
	}, nil
}

func (a *Adapter) Name() string { return "tgbotapi" }

// Start connects, then consumes the long-poll update channel until ctx is
// cancelled or Stop is called.
func (a *Adapter) Start(ctx context.Context) error {
	bot, err := api.NewBotAPI(a.token)
	if err != nil {
		return fmt.Errorf("tgbotapi: connect: %w", err)
	}
	a.mu.Lock()
	a.bot = bot
	a.mu.Unlock()
	slog.Info("telegram adapter connected", "adapter", "tgbotapi", "username", bot.Self.UserName)

	u := api.NewUpdate(0)
	u.Timeout = a.pollTimeout
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return ctx.Err()
		case <-a.stopCh:
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			a.dispatch(ctx, update)
		}
	}
}

// Stop shuts the update loop down. Safe to call more than once.
func (a *Adapter) Stop(context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	return nil
}

func (a *Adapter) dispatch(ctx context.Context, update api.Update) {
	switch {
	case update.Message != nil:
		a.mu.RLock()
		h := a.msgHandler
		a.mu.RUnlock()
		if h != nil {
			msg := convertMessage(update.Message)
			go h(ctx, msg)
		}
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		// Acknowledge first so the client stops its spinner.
		if _, err := a.requireBot(); err == nil {
			if _, err := a.bot.Request(api.NewCallback(cq.ID, "")); err != nil {
				a.reportError(fmt.Errorf("tgbotapi: answer callback: %w", err))
			}
		}
		a.mu.RLock()
		h := a.cbHandler
		a.mu.RUnlock()
		if h != nil {
			go h(ctx, convertCallbackSource(cq), cq.Data)
		}
	}
}

func (a *Adapter) requireBot() (*api.BotAPI, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.bot == nil {
		return nil, errors.New("tgbotapi: adapter not started")
	}
	return a.bot, nil
}

func (a *Adapter) SendMessage(_ context.Context, chatID int64, text string, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	bot, err := a.requireBot()
	if err != nil {
		return nil, err
	}
	m := api.NewMessage(chatID, text)
	if opts != nil && opts.ReplyTo != 0 {
		m.ReplyToMessageID = opts.ReplyTo
	}
	sent, err := bot.Send(m)
	if err != nil {
		return nil, fmt.Errorf("tgbotapi: send message: %w", err)
	}
	return convertMessage(&sent), nil
}

func (a *Adapter) SendVoice(_ context.Context, chatID int64, data []byte, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	bot, err := a.requireBot()
	if err != nil {
		return nil, err
	}
	v := api.NewVoice(chatID, api.FileBytes{
		Name:  tgadapter.UploadFilename(opts, "voice.ogg"),
		Bytes: data,
	})
	v.Duration = tgadapter.VoiceDuration(data, opts)
	if opts != nil {
		v.Caption = opts.Caption
		if opts.ReplyTo != 0 {
			v.ReplyToMessageID = opts.ReplyTo
		}
	}
	sent, err := bot.Send(v)
	if err != nil {
		return nil, fmt.Errorf("tgbotapi: send voice: %w", err)
	}
	return convertMessage(&sent), nil
}

func (a *Adapter) SendAudio(_ context.Context, chatID int64, data []byte, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	bot, err := a.requireBot()
	if err != nil {
		return nil, err
	}
	au := api.NewAudio(chatID, api.FileBytes{
		Name:  tgadapter.UploadFilename(opts, "audio.mp3"),
		Bytes: data,
	})
	if opts != nil {
		au.Caption = opts.Caption
		au.Duration = opts.Duration
		if opts.ReplyTo != 0 {
			au.ReplyToMessageID = opts.ReplyTo
		}
	}
	sent, err := bot.Send(au)
	if err != nil {
		return nil, fmt.Errorf("tgbotapi: send audio: %w", err)
	}
	return convertMessage(&sent), nil
}

func (a *Adapter) SendDocument(_ context.Context, chatID int64, data []byte, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	bot, err := a.requireBot()
	if err != nil {
		return nil, err
	}
	doc := api.NewDocument(chatID, api.FileBytes{
		Name:  tgadapter.UploadFilename(opts, "file.bin"),
		Bytes: data,
	})
	if opts != nil {
		doc.Caption = opts.Caption
		if opts.ReplyTo != 0 {
			doc.ReplyToMessageID = opts.ReplyTo
		}
	}
	sent, err := bot.Send(doc)
	if err != nil {
		return nil, fmt.Errorf("tgbotapi: send document: %w", err)
	}
	return convertMessage(&sent), nil
}

func (a *Adapter) EditMessageText(_ context.Context, chatID int64, messageID int, text string) (*tgadapter.InboundMessage, error) {
	bot, err := a.requireBot()
	if err != nil {
		return nil, err
	}
	sent, err := bot.Send(api.NewEditMessageText(chatID, messageID, text))
	if err != nil {
		return nil, fmt.Errorf("tgbotapi: edit message: %w", err)
	}
	return convertMessage(&sent), nil
}

// DeleteMessage is best-effort; failures are reported through the error
// handler, never returned.
func (a *Adapter) DeleteMessage(_ context.Context, chatID int64, messageID int) bool {
	bot, err := a.requireBot()
	if err != nil {
		return false
	}
	if _, err := bot.Request(api.NewDeleteMessage(chatID, messageID)); err != nil {
		a.reportError(fmt.Errorf("tgbotapi: delete message %d in %d: %w", messageID, chatID, err))
		return false
	}
	return true
}

func (a *Adapter) GetChat(_ context.Context, chatID int64) (*tgadapter.Chat, error) {
	bot, err := a.requireBot()
	if err != nil {
		return nil, err
	}
	chat, err := bot.GetChat(api.ChatInfoConfig{ChatConfig: api.ChatConfig{ChatID: chatID}})
	if err != nil {
		return nil, fmt.Errorf("tgbotapi: get chat: %w", err)
	}
	return &tgadapter.Chat{
		ID:          chat.ID,
		Type:        tgadapter.ChatType(chat.Type),
		Title:       chat.Title,
		Username:    chat.UserName,
		Description: chat.Description,
		InviteLink:  chat.InviteLink,
	}, nil
}

func (a *Adapter) GetMe(context.Context) (*tgadapter.User, error) {
	bot, err := a.requireBot()
	if err != nil {
		return nil, err
	}
	return convertUser(&bot.Self), nil
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
	slog.Warn("telegram adapter error", "adapter", "tgbotapi", "error", err)
}

// convertMessage normalizes an api.Message into the uniform event model.
func convertMessage(m *api.Message) *tgadapter.InboundMessage {
	msg := &tgadapter.InboundMessage{
		ID:           m.MessageID,
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
		msg.ReplyTo = m.ReplyToMessage.MessageID
	}
	if m.Date != 0 {
		msg.SentAt = time.Unix(int64(m.Date), 0)
	}
	if m.EditDate != 0 {
		msg.EditedAt = time.Unix(int64(m.EditDate), 0)
	}
	for _, e := range m.Entities {
		msg.Entities = append(msg.Entities, tgadapter.Entity{
			Type:   e.Type,
			Offset: e.Offset,
			Length: e.Length,
			URL:    e.URL,
		})
	}
	return msg
}

// convertCallbackSource builds the originating-message record of a callback
// event. The payload itself travels separately.
func convertCallbackSource(cq *api.CallbackQuery) *tgadapter.InboundMessage {
	msg := &tgadapter.InboundMessage{Kind: tgadapter.KindText, Text: cq.Data, Raw: cq}
	if cq.Message != nil {
		msg.ID = cq.Message.MessageID
		msg.ChatID = cq.Message.Chat.ID
	}
	if cq.From != nil {
		msg.User = convertUser(cq.From)
	}
	return msg
}

func convertUser(u *api.User) *tgadapter.User {
	return &tgadapter.User{
		ID:           u.ID,
		Username:     u.UserName,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		LanguageCode: u.LanguageCode,
		IsBot:        u.IsBot,
		IsPremium:    u.IsPremium,
	}
}

func classify(m *api.Message) tgadapter.Kind {
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

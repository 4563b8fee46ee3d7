// Package telebot adapts gopkg.in/telebot.v3 to the tgadapter contract.
// This variant validates the bot-token shape at construction time, before
// any network traffic.
package telebot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tb "gopkg.in/telebot.v3"

	"github.com/sedabot/sedabot/pkg/tgadapter"
)

const defaultPollTimeout = 60 * time.Second

func init() {
	tgadapter.Register("telebot", New)
}

// Adapter wraps a tb.Bot behind the tgadapter.Adapter interface.
type Adapter struct {
	token       string
	pollTimeout time.Duration

	mu         sync.RWMutex
	bot        *tb.Bot
	msgHandler tgadapter.MessageHandler
	cbHandler  tgadapter.CallbackHandler
	errHandler tgadapter.ErrorHandler

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New validates the token shape and builds the adapter. The Telegram
// connection is established in Start.
func New(cfg tgadapter.Config) (tgadapter.Adapter, error) {
	if !tgadapter.ValidTokenShape(cfg.Token) {
		return nil, errors.New("telebot: token does not look like a bot token (digits:secret)")
	}
	timeout := defaultPollTimeout
	if cfg.PollTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.PollTimeoutSeconds) * time.Second
	}
	return &Adapter{
		token:       cfg.Token,
		pollTimeout: timeout,
		stopCh:      make(chan struct{}),
	}, nil
}

func (a *Adapter) Name() string { return "telebot" }

// Start connects and blocks on the long-poll loop until ctx is cancelled or
// Stop is called.
func (a *Adapter) Start(ctx context.Context) error {
	bot, err := tb.NewBot(tb.Settings{
		Token:  a.token,
		Poller: &tb.LongPoller{Timeout: a.pollTimeout},
		OnError: func(err error, _ tb.Context) {
			a.reportError(fmt.Errorf("telebot: %w", err))
		},
	})
	if err != nil {
		return fmt.Errorf("telebot: connect: %w", err)
	}
	a.mu.Lock()
	a.bot = bot
	a.mu.Unlock()
	slog.Info("telegram adapter connected", "adapter", "telebot", "username", bot.Me.Username)

	a.registerHandlers(ctx, bot)

	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Start()
	}()
	select {
	case <-ctx.Done():
		bot.Stop()
		<-done
		return ctx.Err()
	case <-a.stopCh:
		bot.Stop()
		<-done
		return nil
	case <-done:
		return nil
	}
}

// Stop unblocks Start. Safe to call more than once.
func (a *Adapter) Stop(context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	return nil
}

// registerHandlers wires every payload kind telebot distinguishes back into
// the one uniform message handler.
func (a *Adapter) registerHandlers(ctx context.Context, bot *tb.Bot) {
	deliver := func(c tb.Context) error {
		a.mu.RLock()
		h := a.msgHandler
		a.mu.RUnlock()
		if h != nil && c.Message() != nil {
			go h(ctx, convertMessage(c.Message()))
		}
		return nil
	}
	for _, endpoint := range []string{
		tb.OnText, tb.OnVoice, tb.OnAudio, tb.OnDocument, tb.OnPhoto,
		tb.OnVideo, tb.OnSticker, tb.OnLocation, tb.OnContact, tb.OnPoll,
	} {
		bot.Handle(endpoint, deliver)
	}

	bot.Handle(tb.OnCallback, func(c tb.Context) error {
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		// Acknowledge first so the client stops its spinner.
		if err := c.Respond(); err != nil {
			a.reportError(fmt.Errorf("telebot: answer callback: %w", err))
		}
		a.mu.RLock()
		h := a.cbHandler
		a.mu.RUnlock()
		if h != nil {
			go h(ctx, convertCallbackSource(cb), cb.Data)
		}
		return nil
	})
}

func (a *Adapter) requireBot() (*tb.Bot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.bot == nil {
		return nil, errors.New("telebot: adapter not started")
	}
	return a.bot, nil
}

func sendOptions(opts *tgadapter.SendOptions) *tb.SendOptions {
	so := &tb.SendOptions{}
	if opts != nil && opts.ReplyTo != 0 {
		so.ReplyTo = &tb.Message{ID: opts.ReplyTo}
	}
	return so
}

func (a *Adapter) SendMessage(_ context.Context, chatID int64, text string, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	bot, err := a.requireBot()
	if err != nil {
		return nil, err
	}
	sent, err := bot.Send(tb.ChatID(chatID), text, sendOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("telebot: send message: %w", err)
	}
	return convertMessage(sent), nil
}

func (a *Adapter) SendVoice(_ context.Context, chatID int64, data []byte, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	bot, err := a.requireBot()
	if err != nil {
		return nil, err
	}
	voice := &tb.Voice{
		File:     tb.FromReader(bytes.NewReader(data)),
		Duration: tgadapter.VoiceDuration(data, opts),
	}
	if opts != nil {
		voice.Caption = opts.Caption
	}
	sent, err := bot.Send(tb.ChatID(chatID), voice, sendOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("telebot: send voice: %w", err)
	}
	return convertMessage(sent), nil
}

func (a *Adapter) SendAudio(_ context.Context, chatID int64, data []byte, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	bot, err := a.requireBot()
	if err != nil {
		return nil, err
	}
	au := &tb.Audio{
		File:     tb.FromReader(bytes.NewReader(data)),
		FileName: tgadapter.UploadFilename(opts, "audio.mp3"),
	}
	if opts != nil {
		au.Caption = opts.Caption
		au.Duration = opts.Duration
	}
	sent, err := bot.Send(tb.ChatID(chatID), au, sendOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("telebot: send audio: %w", err)
	}
	return convertMessage(sent), nil
}

func (a *Adapter) SendDocument(_ context.Context, chatID int64, data []byte, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	bot, err := a.requireBot()
	if err != nil {
		return nil, err
	}
	doc := &tb.Document{
		File:     tb.FromReader(bytes.NewReader(data)),
		FileName: tgadapter.UploadFilename(opts, "file.bin"),
	}
	if opts != nil {
		doc.Caption = opts.Caption
	}
	sent, err := bot.Send(tb.ChatID(chatID), doc, sendOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("telebot: send document: %w", err)
	}
	return convertMessage(sent), nil
}

func (a *Adapter) EditMessageText(_ context.Context, chatID int64, messageID int, text string) (*tgadapter.InboundMessage, error) {
	bot, err := a.requireBot()
	if err != nil {
		return nil, err
	}
	sent, err := bot.Edit(tb.StoredMessage{
		MessageID: strconv.Itoa(messageID),
		ChatID:    chatID,
	}, text)
	if err != nil {
		return nil, fmt.Errorf("telebot: edit message: %w", err)
	}
	return convertMessage(sent), nil
}

// DeleteMessage is best-effort; failures are reported through the error
// handler, never returned.
func (a *Adapter) DeleteMessage(_ context.Context, chatID int64, messageID int) bool {
	bot, err := a.requireBot()
	if err != nil {
		return false
	}
	err = bot.Delete(tb.StoredMessage{
		MessageID: strconv.Itoa(messageID),
		ChatID:    chatID,
	})
	if err != nil {
		a.reportError(fmt.Errorf("telebot: delete message %d in %d: %w", messageID, chatID, err))
		return false
	}
	return true
}

func (a *Adapter) GetChat(_ context.Context, chatID int64) (*tgadapter.Chat, error) {
	bot, err := a.requireBot()
	if err != nil {
		return nil, err
	}
	chat, err := bot.ChatByID(chatID)
	if err != nil {
		return nil, fmt.Errorf("telebot: get chat: %w", err)
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

func (a *Adapter) GetMe(context.Context) (*tgadapter.User, error) {
	bot, err := a.requireBot()
	if err != nil {
		return nil, err
	}
	return convertUser(bot.Me), nil
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
	slog.Warn("telegram adapter error", "adapter", "telebot", "error", err)
}

// convertMessage normalizes a tb.Message into the uniform event model.
func convertMessage(m *tb.Message) *tgadapter.InboundMessage {
	msg := &tgadapter.InboundMessage{
		ID:           m.ID,
		Text:         m.Text,
		Kind:         classify(m),
		Caption:      m.Caption,
		MediaGroupID: m.AlbumID,
		Raw:          m,
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	if m.Sender != nil {
		msg.User = convertUser(m.Sender)
	}
	if m.ReplyTo != nil {
		msg.ReplyTo = m.ReplyTo.ID
	}
	if m.Unixtime != 0 {
		msg.SentAt = time.Unix(m.Unixtime, 0)
	}
	if m.LastEdit != 0 {
		msg.EditedAt = time.Unix(m.LastEdit, 0)
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
// event.
func convertCallbackSource(cb *tb.Callback) *tgadapter.InboundMessage {
	msg := &tgadapter.InboundMessage{Kind: tgadapter.KindText, Text: cb.Data, Raw: cb}
	if cb.Message != nil {
		msg.ID = cb.Message.ID
		if cb.Message.Chat != nil {
			msg.ChatID = cb.Message.Chat.ID
		}
	}
	if cb.Sender != nil {
		msg.User = convertUser(cb.Sender)
	}
	return msg
}

func convertUser(u *tb.User) *tgadapter.User {
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

func classify(m *tb.Message) tgadapter.Kind {
	switch {
	case m.Voice != nil:
		return tgadapter.KindVoice
	case m.Audio != nil:
		return tgadapter.KindAudio
	case m.Document != nil:
		return tgadapter.KindDocument
	case m.Photo != nil:
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

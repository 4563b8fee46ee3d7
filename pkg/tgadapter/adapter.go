// Package tgadapter defines the transport-adapter abstraction that hides the
// differences between Telegram client libraries behind one capability set.
//
// Four interchangeable variants exist, each wrapping one upstream client:
// tgbotapi (go-telegram-bot-api/v5), telebot (gopkg.in/telebot.v3), tgbot
// (go-telegram/bot), and gogram (amarnathcjd/gogram, the MTProto user-client
// style that needs an api_id/api_hash pair in addition to the bot token).
// Variants register a constructor with [Register]; [New] selects one by name.
//
// All adapters deliver inbound updates as [InboundMessage] values through the
// configured handlers, each invocation on its own goroutine. Outbound calls
// are safe to use concurrently with update delivery.
package tgadapter

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// MessageHandler receives every normalized inbound message.
type MessageHandler func(ctx context.Context, msg *InboundMessage)

// CallbackHandler receives callback-query events. The payload is the raw
// callback data string; msg carries the originating chat and user (zero ids
// if the provider supplied no source message).
type CallbackHandler func(ctx context.Context, msg *InboundMessage, payload string)

// ErrorHandler receives transport and handler errors that are not
// user-visible. Adapters never let errors propagate into the upstream
// client library.
type ErrorHandler func(err error)

// Adapter is the uniform capability set over a Telegram client library.
//
// Start blocks on the adapter's internal update loop and must be launched as
// a background goroutine. Outbound operations return the normalized form of
// what was sent so callers can chain edits and deletes.
type Adapter interface {
	// Name returns the variant name the adapter was registered under.
	Name() string

	// Start connects and runs the update loop until ctx is cancelled or
	// Stop is called. It blocks.
	Start(ctx context.Context) error

	// Stop shuts the update loop down. Safe to call more than once.
	Stop(ctx context.Context) error

	// SendMessage sends a plain text message.
	SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) (*InboundMessage, error)

	// SendVoice sends an OGG/Opus voice note. A duration attribute is always
	// set: opts.Duration when given, otherwise probed from the audio with a
	// 5-second fallback.
	SendVoice(ctx context.Context, chatID int64, data []byte, opts *SendOptions) (*InboundMessage, error)

	// SendAudio sends a generic audio upload (typically mp3).
	SendAudio(ctx context.Context, chatID int64, data []byte, opts *SendOptions) (*InboundMessage, error)

	// SendDocument sends a file attachment.
	SendDocument(ctx context.Context, chatID int64, data []byte, opts *SendOptions) (*InboundMessage, error)

	// EditMessageText replaces the text of a previously sent message.
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string) (*InboundMessage, error)

	// DeleteMessage removes a message best-effort and reports success.
	// It never returns an error.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) bool

	// GetChat fetches chat details.
	GetChat(ctx context.Context, chatID int64) (*Chat, error)

	// GetMe returns the bot's own user record.
	GetMe(ctx context.Context) (*User, error)

	// SetMessageHandler installs the inbound message handler. Must be called
	// before Start.
	SetMessageHandler(h MessageHandler)

	// SetCallbackHandler installs the callback-query handler. Must be called
	// before Start.
	SetCallbackHandler(h CallbackHandler)

	// SetErrorHandler installs the error sink. Optional; without one,
	// adapters log errors through slog.
	SetErrorHandler(h ErrorHandler)
}

// Config is the common configuration block consumed by every variant
// constructor. Variants ignore the fields they do not need.
type Config struct {
	// Token is the bot token from @BotFather. Required by every variant.
	Token string

	// APIID and APIHash are the Telegram application credentials. Required
	// by the MTProto user-client variant (gogram); ignored by the rest.
	APIID   int
	APIHash string

	// SessionFile is where the MTProto variant persists its session.
	// Empty selects an in-memory session.
	SessionFile string

	// PollTimeoutSeconds is the long-poll timeout. Zero uses the variant
	// default (60 for the Bot-API variants).
	PollTimeoutSeconds int
}

// tokenShapeRe matches the documented bot token shape:
// digits, a colon, then at least 35 base64ish characters.
var tokenShapeRe = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]{35,}$`)

// ValidTokenShape reports whether token looks like a Telegram bot token.
// Adapters treat the token opaquely otherwise.
func ValidTokenShape(token string) bool {
	return tokenShapeRe.MatchString(token)
}

// Factory constructs an adapter variant from a Config. Construction
// validates required credentials; it must not perform network I/O.
type Factory func(cfg Config) (Adapter, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes an adapter variant available to [New] under name.
// Subsequent calls with the same name overwrite the previous registration.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Variants returns the sorted names of all registered adapter variants.
func Variants() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the adapter variant registered under name.
func New(name string, cfg Config) (Adapter, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tgadapter: unknown adapter %q (registered: %v)", name, Variants())
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("tgadapter: %s: bot token is required", name)
	}
	return f(cfg)
}

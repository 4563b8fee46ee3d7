package bot

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/sedabot/sedabot/pkg/tgadapter"
)

// CommandFunc handles one slash command.
type CommandFunc func(ctx context.Context, msg *tgadapter.InboundMessage) error

// CallbackFunc handles one callback-query event. The callback payload is
// parsed into a [Callback] once, before dispatch.
type CallbackFunc func(ctx context.Context, msg *tgadapter.InboundMessage, cb Callback) error

// Dispatcher routes commands and callback queries to registered handlers.
// Commands are keyed by their lowercased first token without the leading
// slash; callbacks match exact keys first, then the longest registered
// prefix.
type Dispatcher struct {
	mu               sync.RWMutex
	commands         map[string]CommandFunc
	adminCommands    map[string]bool
	callbacks        map[string]CallbackFunc
	callbackPrefixes map[string]CallbackFunc

	isSudo  func(userID int64) bool
	log     *slog.Logger
	onError func(error)
}

// NewDispatcher creates an empty dispatcher. isSudo gates the admin subset;
// a nil isSudo denies every admin invocation.
func NewDispatcher(isSudo func(int64) bool, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if isSudo == nil {
		isSudo = func(int64) bool { return false }
	}
	return &Dispatcher{
		commands:         make(map[string]CommandFunc),
		adminCommands:    make(map[string]bool),
		callbacks:        make(map[string]CallbackFunc),
		callbackPrefixes: make(map[string]CallbackFunc),
		isSudo:           isSudo,
		log:              log,
	}
}

// OnError installs a hook invoked with every handler error, in addition to
// the dispatcher's own logging.
func (d *Dispatcher) OnError(fn func(error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onError = fn
}

// RegisterCommand registers a handler under name (without leading slash).
func (d *Dispatcher) RegisterCommand(name string, fn CommandFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands[strings.ToLower(name)] = fn
}

// RegisterAdminCommand registers a handler that only sudo users may run.
func (d *Dispatcher) RegisterAdminCommand(name string, fn CommandFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name = strings.ToLower(name)
	d.commands[name] = fn
	d.adminCommands[name] = true
}

// RegisterCallback registers a handler for an exact callback payload.
func (d *Dispatcher) RegisterCallback(key string, fn CallbackFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks[key] = fn
}

// RegisterCallbackPrefix registers a handler for every payload starting with
// prefix. The longest matching prefix wins.
func (d *Dispatcher) RegisterCallbackPrefix(prefix string, fn CallbackFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbackPrefixes[prefix] = fn
}

// CommandKey extracts the dispatch key from a message text: the lowercased
// first token, without the leading slash and without a @botname suffix.
// Empty when the text is not a command.
func CommandKey(text string) string {
	token, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	if !strings.HasPrefix(token, "/") {
		return ""
	}
	token = token[1:]
	if at := strings.IndexByte(token, '@'); at >= 0 {
		token = token[:at]
	}
	return strings.ToLower(token)
}

// DispatchCommand routes msg to its command handler and reports whether it
// was handled. Admin commands from non-sudo users and handler errors both
// count as not handled.
func (d *Dispatcher) DispatchCommand(ctx context.Context, msg *tgadapter.InboundMessage) bool {
	key := CommandKey(msg.Text)
	if key == "" {
		return false
	}
	d.mu.RLock()
	fn, ok := d.commands[key]
	admin := d.adminCommands[key]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	if admin && !d.allowed(msg) {
		d.log.Warn("admin command denied", "command", key, "user", userID(msg))
		return false
	}
	if err := fn(ctx, msg); err != nil {
		d.log.Error("command handler failed", "command", key, "error", err)
		d.reportError(err)
		return false
	}
	return true
}

// DispatchCallback parses payload and routes it: exact key first, then the
// longest registered prefix.
func (d *Dispatcher) DispatchCallback(ctx context.Context, msg *tgadapter.InboundMessage, payload string) bool {
	cb := ParseCallback(payload)

	d.mu.RLock()
	fn, ok := d.callbacks[payload]
	if !ok {
		var best string
		for prefix, h := range d.callbackPrefixes {
			if strings.HasPrefix(payload, prefix) && len(prefix) > len(best) {
				best, fn = prefix, h
			}
		}
		ok = best != ""
	}
	d.mu.RUnlock()
	if !ok {
		return false
	}
	if cb.Kind == CallbackAdmin && !d.allowed(msg) {
		d.log.Warn("admin callback denied", "payload", payload, "user", userID(msg))
		return false
	}
	if err := fn(ctx, msg, cb); err != nil {
		d.log.Error("callback handler failed", "payload", payload, "error", err)
		d.reportError(err)
		return false
	}
	return true
}

func (d *Dispatcher) reportError(err error) {
	d.mu.RLock()
	fn := d.onError
	d.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (d *Dispatcher) allowed(msg *tgadapter.InboundMessage) bool {
	return d.isSudo(userID(msg))
}

func userID(msg *tgadapter.InboundMessage) int64 {
	if msg.User == nil {
		return 0
	}
	return msg.User.ID
}

// Package mock provides an in-memory test double for the tgadapter.Adapter
// interface.
//
// Tests drive inbound traffic with [Adapter.Deliver] and
// [Adapter.DeliverCallback], and inspect outbound traffic through the
// recorded call slices.
package mock

import (
	"context"
	"sync"

	"github.com/sedabot/sedabot/pkg/tgadapter"
)

// SendCall records one outbound send of any kind.
type SendCall struct {
	// Op is the operation name: "message", "voice", "audio", "document",
	// "edit", or "delete".
	Op string

	ChatID    int64
	MessageID int // for edit/delete
	Text      string
	Data      []byte
	Opts      tgadapter.SendOptions
}

// Adapter is a mock implementation of tgadapter.Adapter.
type Adapter struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SendErr, if non-nil, is returned by every Send*/Edit operation.
	SendErr error

	// DeleteResult is returned by DeleteMessage. Defaults to false; set to
	// true for the common success case.
	DeleteResult bool

	// Me is returned by GetMe.
	Me tgadapter.User

	// Chats maps chat ids to the result of GetChat.
	Chats map[int64]*tgadapter.Chat

	// --- Call records ---

	// Sends records every outbound operation in order.
	Sends []SendCall

	// --- Handlers ---

	msgHandler tgadapter.MessageHandler
	cbHandler  tgadapter.CallbackHandler
	errHandler tgadapter.ErrorHandler

	nextID  int
	started bool
	stopCh  chan struct{}
}

// New returns a ready-to-use mock adapter.
func New() *Adapter {
	return &Adapter{DeleteResult: true, nextID: 1000, stopCh: make(chan struct{})}
}

func (a *Adapter) Name() string { return "mock" }

// Start blocks until ctx is cancelled or Stop is called.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	a.started = true
	stop := a.stopCh
	a.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return nil
	}
}

// Stop unblocks Start. Safe to call more than once.
func (a *Adapter) Stop(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.stopCh:
	default:
		close(a.stopCh)
	}
	return nil
}

// record appends the call and mints a message id for the "sent" message.
func (a *Adapter) record(call SendCall) (*tgadapter.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.SendErr != nil {
		return nil, a.SendErr
	}
	a.nextID++
	a.Sends = append(a.Sends, call)
	return &tgadapter.InboundMessage{
		ID:     a.nextID,
		ChatID: call.ChatID,
		Text:   call.Text,
		Kind:   tgadapter.KindText,
	}, nil
}

func (a *Adapter) SendMessage(_ context.Context, chatID int64, text string, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	return a.record(SendCall{Op: "message", ChatID: chatID, Text: text, Opts: deref(opts)})
}

func (a *Adapter) SendVoice(_ context.Context, chatID int64, data []byte, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	return a.record(SendCall{Op: "voice", ChatID: chatID, Data: data, Opts: deref(opts)})
}

func (a *Adapter) SendAudio(_ context.Context, chatID int64, data []byte, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	return a.record(SendCall{Op: "audio", ChatID: chatID, Data: data, Opts: deref(opts)})
}

func (a *Adapter) SendDocument(_ context.Context, chatID int64, data []byte, opts *tgadapter.SendOptions) (*tgadapter.InboundMessage, error) {
	return a.record(SendCall{Op: "document", ChatID: chatID, Data: data, Opts: deref(opts)})
}

func (a *Adapter) EditMessageText(_ context.Context, chatID int64, messageID int, text string) (*tgadapter.InboundMessage, error) {
	return a.record(SendCall{Op: "edit", ChatID: chatID, MessageID: messageID, Text: text})
}

func (a *Adapter) DeleteMessage(_ context.Context, chatID int64, messageID int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Sends = append(a.Sends, SendCall{Op: "delete", ChatID: chatID, MessageID: messageID})
	return a.DeleteResult
}

func (a *Adapter) GetChat(_ context.Context, chatID int64) (*tgadapter.Chat, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.Chats[chatID]; ok {
		return c, nil
	}
	return &tgadapter.Chat{ID: chatID, Type: tgadapter.ChatPrivate}, nil
}

func (a *Adapter) GetMe(context.Context) (*tgadapter.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	me := a.Me
	return &me, nil
}

func (a *Adapter) SetMessageHandler(h tgadapter.MessageHandler)   { a.mu.Lock(); a.msgHandler = h; a.mu.Unlock() }
func (a *Adapter) SetCallbackHandler(h tgadapter.CallbackHandler) { a.mu.Lock(); a.cbHandler = h; a.mu.Unlock() }
func (a *Adapter) SetErrorHandler(h tgadapter.ErrorHandler)       { a.mu.Lock(); a.errHandler = h; a.mu.Unlock() }

// Deliver invokes the message handler synchronously with msg.
func (a *Adapter) Deliver(ctx context.Context, msg *tgadapter.InboundMessage) {
	a.mu.Lock()
	h := a.msgHandler
	a.mu.Unlock()
	if h != nil {
		h(ctx, msg)
	}
}

// DeliverCallback invokes the callback handler synchronously.
func (a *Adapter) DeliverCallback(ctx context.Context, msg *tgadapter.InboundMessage, payload string) {
	a.mu.Lock()
	h := a.cbHandler
	a.mu.Unlock()
	if h != nil {
		h(ctx, msg, payload)
	}
}

// SendsOf returns the recorded calls with the given op, in order.
func (a *Adapter) SendsOf(op string) []SendCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []SendCall
	for _, c := range a.Sends {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears all recorded calls.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Sends = nil
}

func deref(opts *tgadapter.SendOptions) tgadapter.SendOptions {
	if opts == nil {
		return tgadapter.SendOptions{}
	}
	return *opts
}

// Ensure Adapter implements tgadapter.Adapter at compile time.
var _ tgadapter.Adapter = (*Adapter)(nil)

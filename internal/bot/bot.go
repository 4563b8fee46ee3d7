// Package bot is the orchestrator: it owns the adapter lifecycle, classifies
// inbound traffic, runs the TTS pipeline (rate limit → parse → cache →
// router → audio conversion → voice reply), and dispatches commands and
// callback queries.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sedabot/sedabot/internal/cache"
	"github.com/sedabot/sedabot/internal/observe"
	"github.com/sedabot/sedabot/internal/ratelimit"
	"github.com/sedabot/sedabot/internal/registry"
	"github.com/sedabot/sedabot/internal/router"
	"github.com/sedabot/sedabot/pkg/audio"
	"github.com/sedabot/sedabot/pkg/engine"
	"github.com/sedabot/sedabot/pkg/tgadapter"
)

// maxCaptionRunes bounds the caption echoed under a voice note.
const maxCaptionRunes = 100

// Config holds orchestrator behaviour settings.
type Config struct {
	// DefaultLang replaces the parser's built-in default when set.
	DefaultLang string

	// DefaultLanguages is the language set an engine-selection callback
	// promotes for when it names no explicit language.
	DefaultLanguages []string

	// SudoUsers may run admin commands and callbacks.
	SudoUsers []int64

	// CacheEnabled turns the audio cache on at startup. The runtime flag can
	// be flipped by a settings callback.
	CacheEnabled bool

	// AudioProcessing converts synthesized audio to OGG/Opus voice notes.
	AudioProcessing bool
}

// Bot wires the adapter, registry, router, cache, and rate limiter together.
type Bot struct {
	adapter    tgadapter.Adapter
	reg        *registry.Registry
	router     *router.Router
	audioCache *cache.Cache
	limiter    *ratelimit.Limiter
	pipeline   audio.Pipeline
	metrics    *observe.Metrics
	log        *slog.Logger

	cfg        Config
	dispatcher *Dispatcher
	stats      *Stats

	cacheOn atomic.Bool
	audioOn atomic.Bool

	running      atomic.Bool
	inflight     sync.WaitGroup
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// Option configures a Bot.
type Option func(*Bot)

// WithCache attaches the audio cache.
func WithCache(c *cache.Cache) Option {
	return func(b *Bot) { b.audioCache = c }
}

// WithRateLimiter attaches the per-user rate limiter.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(b *Bot) { b.limiter = l }
}

// WithAudioPipeline attaches the conversion pipeline.
func WithAudioPipeline(p audio.Pipeline) Option {
	return func(b *Bot) { b.pipeline = p }
}

// WithMetrics attaches the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bot) { b.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bot) { b.log = log }
}

// New builds the orchestrator and installs its handlers on the adapter.
// Call Run afterwards to start processing.
func New(adapter tgadapter.Adapter, reg *registry.Registry, rt *router.Router, cfg Config, opts ...Option) *Bot {
	b := &Bot{
		adapter:    adapter,
		reg:        reg,
		router:     rt,
		cfg:        cfg,
		log:        slog.Default(),
		stats:      NewStats(),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	sudo := make(map[int64]bool, len(cfg.SudoUsers))
	for _, id := range cfg.SudoUsers {
		sudo[id] = true
	}
	b.dispatcher = NewDispatcher(func(id int64) bool { return id != 0 && sudo[id] }, b.log)
	b.dispatcher.OnError(func(err error) {
		if b.metrics != nil {
			b.metrics.RecordAdapterError(context.Background(), "handler")
		}
	})

	b.cacheOn.Store(cfg.CacheEnabled && b.audioCache != nil)
	b.audioOn.Store(cfg.AudioProcessing)

	b.registerDefaults()

	adapter.SetMessageHandler(b.onMessage)
	adapter.SetCallbackHandler(b.onCallback)
	adapter.SetErrorHandler(func(err error) {
		b.log.Warn("adapter error", "adapter", adapter.Name(), "error", err)
		if b.metrics != nil {
			b.metrics.RecordAdapterError(context.Background(), adapter.Name())
		}
	})
	return b
}

// IsSudo reports whether userID may run admin commands.
func (b *Bot) IsSudo(userID int64) bool {
	for _, id := range b.cfg.SudoUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// Stats returns the orchestrator counters.
func (b *Bot) Stats() *Stats { return b.stats }

// Run starts the adapter and blocks until ctx is cancelled or Shutdown is
// called. In-flight requests complete before Run returns.
func (b *Bot) Run(ctx context.Context) error {
	b.running.Store(true)
	defer b.running.Store(false)

	if me, err := b.adapter.GetMe(ctx); err == nil {
		b.log.Info("bot started", "adapter", b.adapter.Name(), "username", me.Username)
	} else {
		b.log.Info("bot started", "adapter", b.adapter.Name())
	}

	if b.limiter != nil {
		go b.pruneLimiter(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- b.adapter.Start(ctx) }()

	var err error
	select {
	case err = <-errCh:
	case <-b.shutdownCh:
		if stopErr := b.adapter.Stop(ctx); stopErr != nil {
			b.log.Warn("adapter stop failed", "error", stopErr)
		}
		err = <-errCh
	}

	b.running.Store(false)
	b.inflight.Wait()
	b.log.Info("bot stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown requests a stop. Safe to call more than once; Run returns after
// in-flight requests finish.
func (b *Bot) Shutdown() {
	b.shutdownOnce.Do(func() { close(b.shutdownCh) })
}

// pruneLimiter periodically drops idle rate-limiter entries.
func (b *Bot) pruneLimiter(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.shutdownCh:
			return
		case <-ticker.C:
			if removed := b.limiter.Prune(time.Hour); removed > 0 {
				b.log.Debug("rate limiter pruned", "removed", removed, "tracked", b.limiter.Tracked())
			}
		}
	}
}

// onMessage classifies one inbound message. Each invocation arrives on its
// own goroutine, so per-chat ordering is not preserved.
func (b *Bot) onMessage(ctx context.Context, msg *tgadapter.InboundMessage) {
	if !b.running.Load() {
		return
	}
	b.inflight.Add(1)
	defer b.inflight.Done()

	b.stats.messagesProcessed.Add(1)
	if b.metrics != nil {
		b.metrics.RecordMessage(ctx, string(msg.Kind))
	}

	if msg.Kind != tgadapter.KindText || strings.TrimSpace(msg.Text) == "" {
		return
	}
	if tgadapter.IsTTSCommand(msg.Text) {
		b.processTTS(ctx, msg)
		return
	}
	if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
		if !b.dispatcher.DispatchCommand(ctx, msg) {
			b.reply(ctx, msg, "Unknown command. Try /help.")
		}
		return
	}
	// Plain text in a private chat is an implicit TTS request. In Telegram a
	// private chat id equals the peer's user id. Group chatter is ignored.
	if msg.User != nil && msg.ChatID == msg.User.ID {
		b.processTTS(ctx, msg)
	}
}

// onCallback routes one callback-query event.
func (b *Bot) onCallback(ctx context.Context, msg *tgadapter.InboundMessage, payload string) {
	if !b.running.Load() {
		return
	}
	b.inflight.Add(1)
	defer b.inflight.Done()

	if !b.dispatcher.DispatchCallback(ctx, msg, payload) {
		b.log.Debug("callback not handled", "payload", payload)
	}
}

// processTTS runs the full synthesis pipeline for one request:
// rate-limit gate → parse → status message → cache → router → conversion →
// cache put → voice reply → status cleanup.
func (b *Bot) processTTS(ctx context.Context, msg *tgadapter.InboundMessage) {
	b.stats.ttsRequests.Add(1)
	if b.metrics != nil {
		done := b.metrics.TrackRequest(ctx)
		defer done()
	}

	// Sudo users are exempt from rate limiting.
	if b.limiter != nil && !b.IsSudo(userID(msg)) {
		if ok, retryAfter := b.limiter.Allow(userID(msg)); !ok {
			b.stats.rateLimited.Add(1)
			b.reply(ctx, msg, fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.",
				int(retryAfter.Seconds())+1))
			return
		}
	}

	cmd := tgadapter.ParseCommand(msg.Text)
	if !cmd.LangExplicit && !cmd.RTL && b.cfg.DefaultLang != "" {
		cmd.Lang = b.cfg.DefaultLang
	}
	if cmd.Text == "" {
		b.reply(ctx, msg, "Nothing to say. Usage: /tts [en]: your text")
		return
	}

	status, err := b.adapter.SendMessage(ctx, msg.ChatID, "Synthesizing…",
		&tgadapter.SendOptions{ReplyTo: msg.ID})
	if err != nil {
		b.log.Warn("status message failed", "chat", msg.ChatID, "error", err)
	}

	data, format, ok := b.synthesize(ctx, msg, cmd)
	if !ok {
		if status != nil {
			b.adapter.DeleteMessage(ctx, msg.ChatID, status.ID)
		}
		return
	}

	caption := truncateRunes(cmd.Text, maxCaptionRunes)
	if _, err := b.adapter.SendVoice(ctx, msg.ChatID, data, &tgadapter.SendOptions{
		Caption:  caption,
		ReplyTo:  msg.ID,
		Filename: "voice." + format,
	}); err != nil {
		b.log.Error("voice send failed", "chat", msg.ChatID, "error", err)
		if b.metrics != nil {
			b.metrics.RecordAdapterError(ctx, b.adapter.Name())
		}
		b.reply(ctx, msg, "Could not deliver the voice note.")
	} else {
		b.stats.voicesSent.Add(1)
	}

	// Status cleanup is best-effort and always after the voice reply.
	if status != nil {
		b.adapter.DeleteMessage(ctx, msg.ChatID, status.ID)
	}
}

// synthesize resolves audio for cmd: cache first, then the router, then
// optional conversion to OGG/Opus, then a cache write-back.
func (b *Bot) synthesize(ctx context.Context, msg *tgadapter.InboundMessage, cmd tgadapter.Command) (data []byte, format string, ok bool) {
	cacheEngine := cmd.Engine
	if cacheEngine == "" {
		cacheEngine = cache.AutoEngine
	}

	if c := b.cacheIfOn(); c != nil {
		d, f, hit := c.Get(cmd.Text, cmd.Lang, cacheEngine)
		if b.metrics != nil {
			b.metrics.RecordCacheLookup(ctx, hit)
		}
		if hit {
			b.stats.cacheHits.Add(1)
			return d, f, true
		}
		b.stats.cacheMisses.Add(1)
	}

	req := engine.Request{
		Text:  cmd.Text,
		Lang:  cmd.Lang,
		Voice: cmd.Voice,
		Rate:  cmd.Rate,
		Pitch: cmd.Pitch,
		// Online engines stay eligible; the false value expresses
		// "offline not required".
		Requirements: map[string]bool{engine.CapOffline: false},
	}

	start := time.Now()
	var res *router.Result
	var err error
	if cmd.Engine != "" {
		res, err = b.router.SynthWith(ctx, cmd.Engine, req)
	} else {
		res, err = b.router.Synth(ctx, req)
	}
	if err != nil {
		b.stats.synthFailures.Add(1)
		b.log.Error("synthesis failed", "lang", cmd.Lang, "engine", cmd.Engine, "error", err)
		b.reply(ctx, msg, synthFailureText(cmd, err))
		return nil, "", false
	}
	b.stats.recordSynthesis(time.Since(start))
	data, format = res.Data, res.Format

	if b.audioOn.Load() && b.pipeline != nil && format != "ogg" {
		if converted, err := b.pipeline.Convert(ctx, data, format, "ogg"); err == nil {
			data, format = converted, "ogg"
		} else {
			b.log.Warn("audio conversion failed; sending native container",
				"from", format, "error", err)
		}
	}

	if c := b.cacheIfOn(); c != nil {
		key := cache.Fingerprint(cmd.Text, cmd.Lang, cacheEngine)
		meta := map[string]string{"engine": res.Engine, "lang": cmd.Lang}
		if err := c.Put(key, data, format, meta); err != nil {
			b.log.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return data, format, true
}

// synthFailureText builds the user-visible failure reply. Persian requests
// get Persian text.
func synthFailureText(cmd tgadapter.Command, err error) string {
	fa := cmd.Lang == "fa"
	if errors.Is(err, engine.ErrEngineNotFound) {
		if cmd.Engine != "" {
			if fa {
				return fmt.Sprintf("موتور %q از زبان %q پشتیبانی نمی‌کند.", cmd.Engine, cmd.Lang)
			}
			return fmt.Sprintf("Engine %q cannot handle language %q.", cmd.Engine, cmd.Lang)
		}
		if fa {
			return fmt.Sprintf("موتوری برای زبان %q در دسترس نیست.", cmd.Lang)
		}
		return fmt.Sprintf("No engine available for language %q.", cmd.Lang)
	}
	if fa {
		return "تبدیل متن به گفتار ناموفق بود. دوباره تلاش کنید."
	}
	return fmt.Sprintf("Synthesis failed for language %q. Please try again.", cmd.Lang)
}

// cacheIfOn returns the cache when both the wiring and the runtime flag are
// on.
func (b *Bot) cacheIfOn() *cache.Cache {
	if b.audioCache != nil && b.cacheOn.Load() {
		return b.audioCache
	}
	return nil
}

// reply sends a best-effort text reply.
func (b *Bot) reply(ctx context.Context, msg *tgadapter.InboundMessage, text string) {
	if _, err := b.adapter.SendMessage(ctx, msg.ChatID, text, &tgadapter.SendOptions{ReplyTo: msg.ID}); err != nil {
		b.log.Warn("reply failed", "chat", msg.ChatID, "error", err)
	}
}

func truncateRunes(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes-1]) + "…"
}

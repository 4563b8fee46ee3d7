package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sedabot/sedabot/pkg/tgadapter"
)

// registerDefaults installs the built-in command set and the callback
// families on the dispatcher.
func (b *Bot) registerDefaults() {
	b.dispatcher.RegisterCommand("start", b.handleStart)
	b.dispatcher.RegisterCommand("help", b.handleHelp)
	b.dispatcher.RegisterCommand("status", b.handleStatus)
	b.dispatcher.RegisterCommand("engines", b.handleEngines)
	b.dispatcher.RegisterCommand("voices", b.handleVoices)
	b.dispatcher.RegisterCommand("languages", b.handleLanguages)

	b.dispatcher.RegisterAdminCommand("stats", b.handleAdminStats)
	b.dispatcher.RegisterAdminCommand("reset_stats", b.handleResetStats)
	b.dispatcher.RegisterAdminCommand("clear_cache", b.handleClearCache)
	b.dispatcher.RegisterAdminCommand("restart", b.handleRestart)
	b.dispatcher.RegisterAdminCommand("shutdown", b.handleShutdown)

	b.dispatcher.RegisterCallbackPrefix("engine_", b.handleEngineCallback)
	b.dispatcher.RegisterCallbackPrefix("settings_", b.handleSettingCallback)
	b.dispatcher.RegisterCallbackPrefix("admin_", b.handleAdminCallback)
}

func (b *Bot) handleStart(ctx context.Context, msg *tgadapter.InboundMessage) error {
	b.reply(ctx, msg, "Hi! Send me text and I reply with a voice note.\n"+
		"Use /tts for full control, /help for the syntax.")
	return nil
}

func (b *Bot) handleHelp(ctx context.Context, msg *tgadapter.InboundMessage) error {
	b.reply(ctx, msg, strings.Join([]string{
		"Usage: /tts [lang]: {engine} (voice:NAME) ±N% @±Nst text",
		"",
		"[en]:        language tag",
		"{espeak}     pin a specific engine",
		"(voice:anna) pick a voice",
		"+25% / -2st  speaking rate (percent or semitones)",
		"@+3st        pitch shift in semitones",
		"",
		"All prefixes are optional. Plain text in a private chat works too.",
		"Other commands: /status /engines /voices /languages",
	}, "\n"))
	return nil
}

func (b *Bot) handleStatus(ctx context.Context, msg *tgadapter.InboundMessage) error {
	snap := b.stats.Snapshot()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Adapter: %s\n", b.adapter.Name())
	fmt.Fprintf(&sb, "Uptime: %s\n", snap.Uptime.Round(1e9))
	fmt.Fprintf(&sb, "Engines: %s\n", strings.Join(b.reg.Names(), ", "))
	fmt.Fprintf(&sb, "Voices sent: %d\n", snap.VoicesSent)
	fmt.Fprintf(&sb, "Cache: %s", onOff(b.cacheOn.Load()))
	if c := b.cacheIfOn(); c != nil {
		cs := c.Stats()
		fmt.Fprintf(&sb, " (%d entries, %.0f%% hit rate)",
			cs.FileCount, snap.CacheHitRate*100)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Audio processing: %s", onOff(b.audioOn.Load()))
	b.reply(ctx, msg, sb.String())
	return nil
}

func (b *Bot) handleEngines(ctx context.Context, msg *tgadapter.InboundMessage) error {
	names := b.reg.Names()
	if len(names) == 0 {
		b.reply(ctx, msg, "No engines registered.")
		return nil
	}
	lang := b.cfg.DefaultLang
	if lang == "" {
		lang = tgadapter.DefaultLang
	}
	ranked := b.router.Ranking(lang)
	scores := make(map[string]float64, len(ranked))
	for _, r := range ranked {
		scores[r.Name] = r.Score
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Engines (ranked for %q):\n", lang)
	for _, name := range names {
		d, _ := b.reg.Descriptor(name)
		mode := "online"
		if d.Offline {
			mode = "offline"
		}
		fmt.Fprintf(&sb, "• %s — %s, score %.2f\n", name, mode, scores[name])
	}
	b.reply(ctx, msg, strings.TrimRight(sb.String(), "\n"))
	return nil
}

func (b *Bot) handleVoices(ctx context.Context, msg *tgadapter.InboundMessage) error {
	var sb strings.Builder
	for _, name := range b.reg.Names() {
		d, ok := b.reg.Descriptor(name)
		if !ok {
			continue
		}
		if len(d.Voices) == 0 {
			fmt.Fprintf(&sb, "%s: any voice\n", name)
			continue
		}
		voices := make([]string, 0, len(d.Voices))
		for v := range d.Voices {
			voices = append(voices, v)
		}
		sort.Strings(voices)
		fmt.Fprintf(&sb, "%s: %s\n", name, strings.Join(voices, ", "))
	}
	if sb.Len() == 0 {
		sb.WriteString("No engines registered.")
	}
	b.reply(ctx, msg, strings.TrimRight(sb.String(), "\n"))
	return nil
}

func (b *Bot) handleLanguages(ctx context.Context, msg *tgadapter.InboundMessage) error {
	var sb strings.Builder
	langs := b.reg.PolicyLanguages()
	if len(langs) == 0 {
		sb.WriteString("No per-language policies configured.\n")
	} else {
		sb.WriteString("Per-language engine policies:\n")
		for _, lang := range langs {
			fmt.Fprintf(&sb, "• %s → %s\n", lang, strings.Join(b.reg.Policy(lang), " > "))
		}
	}
	fmt.Fprintf(&sb, "Default order: %s", strings.Join(b.reg.Policy(""), " > "))
	b.reply(ctx, msg, sb.String())
	return nil
}

func (b *Bot) handleAdminStats(ctx context.Context, msg *tgadapter.InboundMessage) error {
	snap := b.stats.Snapshot()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Uptime: %s\n", snap.Uptime.Round(1e9))
	fmt.Fprintf(&sb, "Messages: %d (TTS: %d, rate-limited: %d)\n",
		snap.MessagesProcessed, snap.TTSRequests, snap.RateLimited)
	fmt.Fprintf(&sb, "Voices sent: %d, failures: %d\n", snap.VoicesSent, snap.SynthFailures)
	fmt.Fprintf(&sb, "Cache: %d hits / %d misses (%.0f%%)\n",
		snap.CacheHits, snap.CacheMisses, snap.CacheHitRate*100)
	fmt.Fprintf(&sb, "Avg synthesis: %s\n", snap.AvgSynthesis)

	engines := b.router.Stats()
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		es := engines[name]
		fmt.Fprintf(&sb, "• %s: %d/%d ok, avg %s",
			name, es.Successes, es.Attempts, es.AvgLatency)
		if es.LastError != "" {
			fmt.Fprintf(&sb, ", last error: %s", es.LastError)
		}
		sb.WriteString("\n")
	}
	b.reply(ctx, msg, strings.TrimRight(sb.String(), "\n"))
	return nil
}

func (b *Bot) handleResetStats(ctx context.Context, msg *tgadapter.InboundMessage) error {
	b.stats.Reset()
	b.router.ResetStats()
	b.reply(ctx, msg, "Statistics reset.")
	return nil
}

func (b *Bot) handleClearCache(ctx context.Context, msg *tgadapter.InboundMessage) error {
	if b.audioCache == nil {
		b.reply(ctx, msg, "No cache configured.")
		return nil
	}
	if err := b.audioCache.Clear(); err != nil {
		b.reply(ctx, msg, "Cache clear failed: "+err.Error())
		return err
	}
	b.reply(ctx, msg, "Cache cleared.")
	return nil
}

func (b *Bot) handleRestart(ctx context.Context, msg *tgadapter.InboundMessage) error {
	// A supervisor (systemd, container runtime) restarts the process; the
	// bot's part is a clean shutdown.
	b.log.Info("restart requested", "user", userID(msg))
	b.reply(ctx, msg, "Restarting…")
	b.Shutdown()
	return nil
}

func (b *Bot) handleShutdown(ctx context.Context, msg *tgadapter.InboundMessage) error {
	b.log.Info("shutdown requested", "user", userID(msg))
	b.reply(ctx, msg, "Shutting down.")
	b.Shutdown()
	return nil
}

// handleEngineCallback promotes an engine to the front of a language policy.
// Without an explicit language the engine is promoted for every configured
// default language.
func (b *Bot) handleEngineCallback(ctx context.Context, msg *tgadapter.InboundMessage, cb Callback) error {
	if cb.Kind != CallbackEngine {
		return fmt.Errorf("malformed engine callback %q", cb.Raw)
	}
	if b.reg.Engine(cb.Engine) == nil {
		b.reply(ctx, msg, fmt.Sprintf("Unknown engine %q.", cb.Engine))
		return nil
	}
	langs := []string{cb.Lang}
	if cb.Lang == "" {
		langs = b.cfg.DefaultLanguages
		if len(langs) == 0 {
			langs = []string{b.cfg.DefaultLang}
		}
	}
	for _, lang := range langs {
		if lang == "" {
			continue
		}
		b.reg.Promote(lang, cb.Engine)
	}
	b.log.Info("engine promoted", "engine", cb.Engine, "languages", langs)
	b.reply(ctx, msg, fmt.Sprintf("Engine %s promoted for %s.",
		cb.Engine, strings.Join(langs, ", ")))
	return nil
}

func (b *Bot) handleSettingCallback(ctx context.Context, msg *tgadapter.InboundMessage, cb Callback) error {
	if cb.Kind != CallbackSetting {
		return fmt.Errorf("malformed settings callback %q", cb.Raw)
	}
	switch cb.Setting {
	case "cache":
		if cb.Enabled && b.audioCache == nil {
			b.reply(ctx, msg, "No cache configured.")
			return nil
		}
		b.cacheOn.Store(cb.Enabled)
	case "audio":
		b.audioOn.Store(cb.Enabled)
	}
	b.reply(ctx, msg, fmt.Sprintf("Setting %s: %s.", cb.Setting, onOff(cb.Enabled)))
	return nil
}

// handleAdminCallback maps admin_<action> payloads onto the admin command
// handlers. The dispatcher has already checked sudo.
func (b *Bot) handleAdminCallback(ctx context.Context, msg *tgadapter.InboundMessage, cb Callback) error {
	switch cb.Action {
	case "stats":
		return b.handleAdminStats(ctx, msg)
	case "reset_stats":
		return b.handleResetStats(ctx, msg)
	case "clear_cache":
		return b.handleClearCache(ctx, msg)
	case "restart":
		return b.handleRestart(ctx, msg)
	case "shutdown":
		return b.handleShutdown(ctx, msg)
	default:
		return fmt.Errorf("unknown admin action %q", cb.Action)
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

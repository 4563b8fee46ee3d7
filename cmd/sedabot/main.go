// Command sedabot is the main entry point for the sedabot Telegram TTS bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/sedabot/sedabot/internal/bot"
	"github.com/sedabot/sedabot/internal/cache"
	"github.com/sedabot/sedabot/internal/config"
	"github.com/sedabot/sedabot/internal/health"
	"github.com/sedabot/sedabot/internal/observe"
	"github.com/sedabot/sedabot/internal/ratelimit"
	"github.com/sedabot/sedabot/internal/registry"
	"github.com/sedabot/sedabot/internal/router"
	"github.com/sedabot/sedabot/pkg/audio"
	"github.com/sedabot/sedabot/pkg/engine/elevenlabs"
	"github.com/sedabot/sedabot/pkg/engine/espeak"
	"github.com/sedabot/sedabot/pkg/engine/gtts"
	"github.com/sedabot/sedabot/pkg/tgadapter"

	// Transport adapters register themselves with the tgadapter factory.
	_ "github.com/sedabot/sedabot/pkg/tgadapter/gogram"
	_ "github.com/sedabot/sedabot/pkg/tgadapter/telebot"
	_ "github.com/sedabot/sedabot/pkg/tgadapter/tgbot"
	_ "github.com/sedabot/sedabot/pkg/tgadapter/tgbotapi"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env is optional; real environment variables win either way.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sedabot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sedabot: %v\n", err)
		}
		return 1
	}
	applyEnvOverrides(cfg)

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("sedabot starting",
		"config", *configPath,
		"adapter", cfg.Adapter.Name,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "sedabot"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Engine registry and policies ──────────────────────────────────────────
	reg := registry.New()
	if err := registerEngines(reg, cfg); err != nil {
		slog.Error("failed to register engines", "err", err)
		return 1
	}
	if len(reg.Names()) == 0 {
		slog.Error("no TTS engine enabled — enable at least one under engines:")
		return 1
	}
	installPolicies(reg, cfg.Policies)

	// ── Router ────────────────────────────────────────────────────────────────
	routerOpts := []router.Option{router.WithMetrics(metrics)}
	if cfg.Bot.AttemptTimeoutSeconds > 0 {
		routerOpts = append(routerOpts,
			router.WithAttemptTimeout(time.Duration(cfg.Bot.AttemptTimeoutSeconds)*time.Second))
	}
	rt := router.New(reg, routerOpts...)

	// ── Adapter ───────────────────────────────────────────────────────────────
	adapter, err := tgadapter.New(cfg.Adapter.Name, tgadapter.Config{
		Token:              cfg.Adapter.Token,
		APIID:              int(cfg.Adapter.APIID),
		APIHash:            cfg.Adapter.APIHash,
		SessionFile:        cfg.Adapter.SessionFile,
		PollTimeoutSeconds: cfg.Adapter.PollTimeoutSeconds,
	})
	if err != nil {
		slog.Error("failed to create adapter", "name", cfg.Adapter.Name, "err", err)
		return 1
	}

	// ── Orchestrator wiring ───────────────────────────────────────────────────
	botOpts := []bot.Option{bot.WithMetrics(metrics)}

	var audioCache *cache.Cache
	if cfg.Cache.Enabled {
		audioCache, err = cache.New(cache.Config{
			Dir:        cfg.Cache.Dir,
			MaxEntries: cfg.Cache.MaxEntries,
			MaxAge:     time.Duration(cfg.Cache.MaxAgeSeconds) * time.Second,
		}, logger)
		if err != nil {
			slog.Error("failed to open cache", "dir", cfg.Cache.Dir, "err", err)
			return 1
		}
		if removed := audioCache.CleanupOld(0); removed > 0 {
			slog.Info("expired cache entries removed", "count", removed)
		}
		botOpts = append(botOpts, bot.WithCache(audioCache))
	}

	if cfg.RateLimit.Enabled {
		botOpts = append(botOpts, bot.WithRateLimiter(ratelimit.New(ratelimit.Config{
			Enabled:   true,
			PerMinute: cfg.RateLimit.PerMinute,
			Burst:     cfg.RateLimit.Burst,
		})))
	}

	if cfg.Audio.Processing {
		var pipeline audio.Pipeline
		if cfg.Audio.FFmpegPath != "" || cfg.Audio.FFprobePath != "" {
			ff := audio.NewFFmpeg()
			ff.FFmpegPath = cfg.Audio.FFmpegPath
			ff.FFprobePath = cfg.Audio.FFprobePath
			pipeline = ff
		} else {
			pipeline = audio.New()
		}
		botOpts = append(botOpts, bot.WithAudioPipeline(pipeline))
	}

	b := bot.New(adapter, reg, rt, bot.Config{
		DefaultLang:      cfg.Bot.DefaultLang,
		DefaultLanguages: cfg.Bot.DefaultLanguages,
		SudoUsers:        cfg.Bot.SudoUsers,
		CacheEnabled:     cfg.Cache.Enabled,
		AudioProcessing:  cfg.Audio.Processing,
	}, botOpts...)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			slog.Info("log level changed", "level", d.NewLogLevel)
			slog.SetDefault(newLogger(d.NewLogLevel))
		}
		if d.PoliciesChanged {
			slog.Info("engine policies changed, reinstalling")
			installPolicies(reg, new.Policies)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg, reg.Names())

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.Run(gctx) })

	if cfg.Server.ListenAddr != "" {
		srv := healthServer(cfg, adapter, reg, metrics)
		g.Go(func() error {
			slog.Info("health endpoint listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		// An /shutdown command stops the bot; tear the rest down with it.
		<-gctx.Done()
		b.Shutdown()
		return nil
	})

	slog.Info("bot ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Engine wiring ─────────────────────────────────────────────────────────────

// registerEngines constructs every enabled engine and registers it.
func registerEngines(reg *registry.Registry, cfg *config.Config) error {
	if g := cfg.Engines.GTTS; g != nil && g.Enabled {
		var opts []gtts.Option
		if g.BaseURL != "" {
			opts = append(opts, gtts.WithBaseURL(g.BaseURL))
		}
		if err := reg.Register(gtts.New(opts...)); err != nil {
			return fmt.Errorf("gtts: %w", err)
		}
		slog.Info("engine registered", "name", "gtts")
	}

	if el := cfg.Engines.ElevenLabs; el != nil && el.Enabled {
		var opts []elevenlabs.Option
		if el.VoiceID != "" {
			opts = append(opts, elevenlabs.WithVoice(el.VoiceID))
		}
		if el.ModelID != "" {
			opts = append(opts, elevenlabs.WithModel(el.ModelID))
		}
		e, err := elevenlabs.New(el.APIKey, opts...)
		if err != nil {
			return fmt.Errorf("elevenlabs: %w", err)
		}
		if err := reg.Register(e); err != nil {
			return fmt.Errorf("elevenlabs: %w", err)
		}
		slog.Info("engine registered", "name", "elevenlabs")
	}

	if es := cfg.Engines.Espeak; es != nil && es.Enabled {
		if err := reg.Register(espeak.New(es.Path)); err != nil {
			return fmt.Errorf("espeak: %w", err)
		}
		slog.Info("engine registered", "name", "espeak")
	}
	return nil
}

// installPolicies applies the configured engine priority lists. Called at
// startup and again on hot reload.
func installPolicies(reg *registry.Registry, p config.PoliciesConfig) {
	if len(p.Default) > 0 {
		reg.SetDefaultPolicy(p.Default)
	}
	for lang, names := range p.Languages {
		reg.SetPolicy(lang, names)
	}
}

// applyEnvOverrides lets secrets come from the environment instead of the
// config file.
func applyEnvOverrides(cfg *config.Config) {
	if tok := os.Getenv("TELEGRAM_BOT_TOKEN"); tok != "" {
		cfg.Adapter.Token = tok
	}
	if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
		if cfg.Engines.ElevenLabs == nil {
			cfg.Engines.ElevenLabs = &config.ElevenLabsConfig{Enabled: true}
		}
		cfg.Engines.ElevenLabs.APIKey = key
	}
}

// ── Health endpoint ───────────────────────────────────────────────────────────

func healthServer(cfg *config.Config, adapter tgadapter.Adapter, reg *registry.Registry, metrics *observe.Metrics) *http.Server {
	h := health.New(health.Info{
		Adapter: adapter.Name(),
		Engines: reg.Names,
	}, health.Checker{
		Name: "engines",
		Check: func(context.Context) error {
			if len(reg.Names()) == 0 {
				return errors.New("no engines registered")
			}
			return nil
		},
	})
	mux := http.NewServeMux()
	h.Register(mux)
	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, engines []string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          sedabot — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Adapter", cfg.Adapter.Name)
	for i, name := range engines {
		label := ""
		if i == 0 {
			label = "Engines"
		}
		printRow(label, name)
	}
	printRow("Default lang", cfg.Bot.DefaultLang)
	printRow("Cache", onOff(cfg.Cache.Enabled))
	printRow("Rate limit", onOff(cfg.RateLimit.Enabled))
	printRow("Audio pipeline", onOff(cfg.Audio.Processing))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

func onOff(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

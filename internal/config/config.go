// Package config provides the configuration schema, loader, and hot-reload
// watcher for the sedabot Telegram TTS service.
package config

// LogLevel controls log verbosity for the bot process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AdapterNames lists the built-in transport adapter variants.
var AdapterNames = []string{"tgbotapi", "telebot", "tgbot", "gogram"}

// Config is the root configuration structure for sedabot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Adapter   AdapterConfig   `yaml:"adapter"`
	Bot       BotConfig       `yaml:"bot"`
	Engines   EnginesConfig   `yaml:"engines"`
	Policies  PoliciesConfig  `yaml:"policies"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Audio     AudioConfig     `yaml:"audio"`
}

// ServerConfig holds the optional health/metrics endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz and /metrics (e.g., ":8080").
	// Empty disables the HTTP endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AdapterConfig selects and credentials the Telegram transport.
type AdapterConfig struct {
	// Name selects the adapter variant. See [AdapterNames].
	Name string `yaml:"name"`

	// Token is the bot token issued by @BotFather. May be left empty in the
	// file and supplied via the TELEGRAM_BOT_TOKEN environment variable.
	Token string `yaml:"token"`

	// APIID and APIHash are the MTProto application credentials from
	// my.telegram.org. Required by the gogram adapter only.
	APIID   int32  `yaml:"api_id"`
	APIHash string `yaml:"api_hash"`

	// SessionFile is where MTProto adapters persist their session. Empty
	// uses the adapter default.
	SessionFile string `yaml:"session_file"`

	// PollTimeoutSeconds is the long-poll timeout for Bot API adapters.
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds"`
}

// BotConfig holds orchestrator behaviour settings.
type BotConfig struct {
	// DefaultLang is the language assumed when detection finds nothing
	// better (e.g., "en").
	DefaultLang string `yaml:"default_lang"`

	// DefaultLanguages is the language set an engine-selection callback
	// promotes for when it names no explicit language.
	DefaultLanguages []string `yaml:"default_languages"`

	// SudoUsers lists Telegram user IDs allowed to run admin commands.
	SudoUsers []int64 `yaml:"sudo_users"`

	// AttemptTimeoutSeconds bounds one engine synthesis attempt.
	AttemptTimeoutSeconds int `yaml:"attempt_timeout_seconds"`
}

// EnginesConfig enables and credentials the built-in TTS engines. A nil
// block leaves that engine unregistered.
type EnginesConfig struct {
	GTTS       *GTTSConfig       `yaml:"gtts"`
	ElevenLabs *ElevenLabsConfig `yaml:"elevenlabs"`
	Espeak     *EspeakConfig     `yaml:"espeak"`
}

// GTTSConfig configures the Google Translate TTS engine.
type GTTSConfig struct {
	Enabled bool `yaml:"enabled"`

	// BaseURL overrides the translate endpoint, mainly for tests.
	BaseURL string `yaml:"base_url"`
}

// ElevenLabsConfig configures the ElevenLabs engine.
type ElevenLabsConfig struct {
	Enabled bool `yaml:"enabled"`

	// APIKey authenticates against the ElevenLabs API. May be supplied via
	// the ELEVENLABS_API_KEY environment variable instead.
	APIKey string `yaml:"api_key"`

	// VoiceID is the default voice used when a request pins none.
	VoiceID string `yaml:"voice_id"`

	// ModelID selects the synthesis model (e.g., "eleven_multilingual_v2").
	ModelID string `yaml:"model_id"`
}

// EspeakConfig configures the offline espeak-ng engine.
type EspeakConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path overrides the binary name looked up on PATH. Empty uses
	// "espeak-ng".
	Path string `yaml:"path"`
}

// PoliciesConfig holds the per-language engine priority lists installed into
// the registry at startup. Lists may name engines that are not enabled; the
// registry ignores them at lookup.
type PoliciesConfig struct {
	// Default applies to languages with no explicit entry.
	Default []string `yaml:"default"`

	// Languages maps a language tag to its priority list.
	Languages map[string][]string `yaml:"languages"`
}

// CacheConfig bounds the audio cache.
type CacheConfig struct {
	// Enabled turns the cache on. Disabled caches synthesize every request.
	Enabled bool `yaml:"enabled"`

	// Dir is the cache directory.
	Dir string `yaml:"dir"`

	// MaxEntries is the entry-count bound (LRU eviction).
	MaxEntries int `yaml:"max_entries"`

	// MaxAgeSeconds is the entry-age bound.
	MaxAgeSeconds int `yaml:"max_age_seconds"`
}

// RateLimitConfig bounds per-user request throughput.
type RateLimitConfig struct {
	Enabled   bool `yaml:"enabled"`
	PerMinute int  `yaml:"per_minute"`
	Burst     int  `yaml:"burst"`
}

// AudioConfig configures the post-synthesis audio pipeline.
type AudioConfig struct {
	// Processing enables conversion of synthesized audio to OGG/Opus voice
	// notes. When false, blobs are sent in their native container.
	Processing bool `yaml:"processing"`

	// FFmpegPath and FFprobePath override the binaries looked up on PATH.
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// KnownEngineNames lists the built-in engine names. Used by [Validate] to
// warn about unrecognised names in policy lists.
var KnownEngineNames = []string{"gtts", "elevenlabs", "espeak"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with working defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Adapter.PollTimeoutSeconds <= 0 {
		cfg.Adapter.PollTimeoutSeconds = 30
	}
	if cfg.Bot.DefaultLang == "" {
		cfg.Bot.DefaultLang = "en"
	}
	if len(cfg.Bot.DefaultLanguages) == 0 {
		cfg.Bot.DefaultLanguages = []string{cfg.Bot.DefaultLang}
	}
	if cfg.Bot.AttemptTimeoutSeconds <= 0 {
		cfg.Bot.AttemptTimeoutSeconds = 30
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = "tts_cache"
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 100
	}
	if cfg.Cache.MaxAgeSeconds == 0 {
		cfg.Cache.MaxAgeSeconds = 24 * 60 * 60
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.PerMinute == 0 {
		cfg.RateLimit.PerMinute = 10
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Adapter
	if cfg.Adapter.Name == "" {
		errs = append(errs, fmt.Errorf("adapter.name is required; valid values: %v", AdapterNames))
	} else if !slices.Contains(AdapterNames, cfg.Adapter.Name) {
		errs = append(errs, fmt.Errorf("adapter.name %q is unknown; valid values: %v", cfg.Adapter.Name, AdapterNames))
	}
	if cfg.Adapter.Name == "gogram" {
		if cfg.Adapter.APIID == 0 || cfg.Adapter.APIHash == "" {
			errs = append(errs, fmt.Errorf("adapter %q requires adapter.api_id and adapter.api_hash", cfg.Adapter.Name))
		}
	}
	// Token absence is tolerated here: main overlays TELEGRAM_BOT_TOKEN from
	// the environment before constructing the adapter.

	// Engines
	if cfg.Engines.ElevenLabs != nil && cfg.Engines.ElevenLabs.Enabled &&
		cfg.Engines.ElevenLabs.APIKey == "" && os.Getenv("ELEVENLABS_API_KEY") == "" {
		errs = append(errs, fmt.Errorf("engines.elevenlabs is enabled but neither engines.elevenlabs.api_key nor ELEVENLABS_API_KEY is set"))
	}
	if !anyEngineEnabled(cfg.Engines) {
		slog.Warn("no engine is enabled; every TTS request will fail")
	}

	// Policies — warn for unknown engine names, they may be registered
	// programmatically.
	validatePolicy("policies.default", cfg.Policies.Default)
	for lang, names := range cfg.Policies.Languages {
		validatePolicy("policies.languages."+lang, names)
	}

	// Cache
	if cfg.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries %d must not be negative", cfg.Cache.MaxEntries))
	}
	if cfg.Cache.MaxAgeSeconds < 0 {
		errs = append(errs, fmt.Errorf("cache.max_age_seconds %d must not be negative", cfg.Cache.MaxAgeSeconds))
	}

	// Rate limit
	if cfg.RateLimit.Enabled && cfg.RateLimit.PerMinute <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.per_minute must be positive when rate_limit.enabled is true"))
	}

	return errors.Join(errs...)
}

func anyEngineEnabled(e EnginesConfig) bool {
	return (e.GTTS != nil && e.GTTS.Enabled) ||
		(e.ElevenLabs != nil && e.ElevenLabs.Enabled) ||
		(e.Espeak != nil && e.Espeak.Enabled)
}

// validatePolicy logs a warning for each engine name not in
// [KnownEngineNames]. Unknown names are not errors: the registry ignores
// unregistered names at lookup.
func validatePolicy(where string, names []string) {
	for _, name := range names {
		if !slices.Contains(KnownEngineNames, name) {
			slog.Warn("policy names an unknown engine — may be a typo or a programmatically registered engine",
				"where", where,
				"name", name,
				"known", KnownEngineNames,
			)
		}
	}
}

// Package engine defines the Engine interface for Text-To-Speech backends.
//
// An engine wraps one speech synthesis service (a remote HTTP API, a local
// subprocess, or anything else that turns text into audio bytes) and presents
// a uniform one-shot interface: Synthesize accepts a complete Request and
// returns one finished audio blob together with its container format.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (many chats share one bot process).
package engine

import (
	"context"
	"errors"
	"fmt"
)

// Capability keys recognised in [Request.Requirements] and answered by
// [Descriptor.Meets].
const (
	CapOffline = "offline"
	CapSSML    = "ssml"
	CapRate    = "rate"
	CapPitch   = "pitch"
)

// Rate and pitch bounds shared by the request validator and the message
// grammar parser.
const (
	MinRate  = 0.5
	MaxRate  = 2.0
	MinPitch = -12.0
	MaxPitch = 12.0
)

// ErrEngineNotFound is returned when no registered engine satisfies a
// request's language, voice, and capability constraints.
var ErrEngineNotFound = errors.New("engine: no engine satisfies the request")

// Engine is the abstraction over any TTS backend.
//
// Synthesize blocks until the full utterance is available; there is no
// streaming surface — a Telegram voice note is sent as one completed blob.
type Engine interface {
	// Synthesize converts req.Text into audio. It returns the audio bytes and
	// the container format of those bytes (e.g. "mp3", "wav", "ogg").
	//
	// Implementations must honour ctx cancellation and should treat an
	// unreachable backend, a non-2xx response, or empty output as an error.
	// Errors are wrapped by the router into a [SynthesisError].
	Synthesize(ctx context.Context, req Request) (data []byte, format string, err error)

	// Describe returns the engine's static capability descriptor. The
	// descriptor must be stable for the lifetime of the engine instance.
	Describe() Descriptor
}

// Descriptor declares what an engine can do. The router filters and the
// registry answers capability queries from this record alone, without
// touching the engine instance.
type Descriptor struct {
	// Name uniquely identifies the engine in the registry ("gtts", "espeak"…).
	Name string

	// Offline reports whether synthesis needs no network access.
	Offline bool

	// Languages is the set of supported language tags. An empty set means
	// the engine accepts any language.
	Languages map[string]bool

	// Voices is the set of supported voice names. An empty set means the
	// engine accepts any voice (or has exactly one built in).
	Voices map[string]bool

	// SupportsSSML reports whether req.Text may contain SSML markup.
	SupportsSSML bool

	// SupportsRate reports whether the engine honours Request.Rate.
	SupportsRate bool

	// SupportsPitch reports whether the engine honours Request.Pitch.
	SupportsPitch bool
}

// SupportsLanguage reports whether the descriptor advertises lang.
// An empty language set matches everything.
func (d Descriptor) SupportsLanguage(lang string) bool {
	if len(d.Languages) == 0 {
		return true
	}
	return d.Languages[lang]
}

// SupportsVoice reports whether the descriptor advertises voice.
// An empty voice set means "any".
func (d Descriptor) SupportsVoice(voice string) bool {
	if voice == "" || len(d.Voices) == 0 {
		return true
	}
	return d.Voices[voice]
}

// Meets reports whether the descriptor satisfies every capability named in
// requirements. Only keys set to true constrain the selection; a key set to
// false expresses "not required" and never excludes an engine, so the
// orchestrator's default {"offline": false} keeps offline engines eligible.
func (d Descriptor) Meets(requirements map[string]bool) bool {
	for key, required := range requirements {
		if !required {
			continue
		}
		var have bool
		switch key {
		case CapOffline:
			have = d.Offline
		case CapSSML:
			have = d.SupportsSSML
		case CapRate:
			have = d.SupportsRate
		case CapPitch:
			have = d.SupportsPitch
		default:
			// Unknown requirement keys can never be satisfied.
			return false
		}
		if !have {
			return false
		}
	}
	return true
}

// Request is one synthesis request.
type Request struct {
	// Text is the cleaned text to speak. Never empty by the time it reaches
	// an engine; the orchestrator rejects empty input earlier.
	Text string

	// Lang is a two-letter language tag ("en", "fa", …).
	Lang string

	// Voice optionally pins a provider voice name ("en-US-Aria"). Empty
	// selects the engine default.
	Voice string

	// Rate is the speaking-rate multiplier in [MinRate, MaxRate]; 1.0 is
	// neutral.
	Rate float64

	// Pitch is the pitch shift in semitones in [MinPitch, MaxPitch]; 0 is
	// neutral.
	Pitch float64

	// Requirements constrains the engines the router may pick. See
	// [Descriptor.Meets].
	Requirements map[string]bool
}

// Validate checks rate and pitch bounds and that Text is non-empty.
func (r Request) Validate() error {
	if r.Text == "" {
		return errors.New("engine: empty text")
	}
	if r.Rate != 0 && (r.Rate < MinRate || r.Rate > MaxRate) {
		return fmt.Errorf("engine: rate %.2f out of range [%.1f, %.1f]", r.Rate, MinRate, MaxRate)
	}
	if r.Pitch < MinPitch || r.Pitch > MaxPitch {
		return fmt.Errorf("engine: pitch %.1f out of range [%.0f, %.0f]", r.Pitch, MinPitch, MaxPitch)
	}
	return nil
}

// SynthesisError records the failure of one specific engine. The router
// catches it, records the failure, and moves on to the next candidate.
type SynthesisError struct {
	// Engine is the name of the engine that failed.
	Engine string

	// Err is the underlying cause.
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Engine, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

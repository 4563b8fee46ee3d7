// Package audio is the narrow audio-pipeline contract the bot depends on:
// probing container metadata from raw bytes and converting between
// containers. The primary implementation shells out to ffmpeg; a pure-Go
// fallback covers the one conversion the voice path cannot live without
// (WAV → OGG/Opus, via gopus) and header-level probing of WAV, OGG, and MP3.
//
// Callers treat every failure as a fallback signal: the voice-send path
// tolerates a missing duration (defaults to 5 seconds) and a failed
// conversion (sends the engine's native bytes).
package audio

import (
	"context"
	"errors"
	"fmt"
)

// Info describes a piece of encoded audio. Fields that cannot be determined
// are left zero — callers must tolerate missing data rather than receive
// fabricated defaults.
type Info struct {
	// DurationSeconds is the playback length, or 0 when unknown.
	DurationSeconds float64

	// SampleRate in Hz, or 0 when unknown.
	SampleRate int

	// Channels count, or 0 when unknown.
	Channels int

	// BitrateKbps is the nominal bitrate, or 0 when unknown.
	BitrateKbps int

	// SizeBytes is the encoded size. Always set.
	SizeBytes int

	// Format is the detected container ("wav", "ogg", "mp3", …).
	Format string
}

// Pipeline is the external audio collaborator contract.
type Pipeline interface {
	// Probe extracts container metadata from data. Unknown fields stay zero.
	Probe(data []byte) (Info, error)

	// Convert transcodes data from container inFormat to outFormat.
	Convert(ctx context.Context, data []byte, inFormat, outFormat string) ([]byte, error)
}

// ErrUnsupportedConversion is returned when a pipeline cannot perform the
// requested container conversion.
var ErrUnsupportedConversion = errors.New("audio: unsupported conversion")

// New returns the best available pipeline: ffmpeg when the binary is on
// PATH, otherwise the pure-Go fallback.
func New() Pipeline {
	if ff := NewFFmpeg(); ff.Available() {
		return ff
	}
	return Native{}
}

// Native is the pure-Go pipeline: header probing plus WAV → OGG/Opus.
type Native struct{}

// Probe parses WAV, OGG, and MP3 headers natively.
func (Native) Probe(data []byte) (Info, error) {
	return probeNative(data)
}

// Convert supports only wav → ogg, encoded with Opus at 48 kHz mono.
func (Native) Convert(_ context.Context, data []byte, inFormat, outFormat string) ([]byte, error) {
	if inFormat == outFormat {
		return data, nil
	}
	if inFormat == "wav" && outFormat == "ogg" {
		return wavToOggOpus(data)
	}
	return nil, fmt.Errorf("%w: %s → %s without ffmpeg", ErrUnsupportedConversion, inFormat, outFormat)
}

// Ensure both pipelines satisfy the contract.
var (
	_ Pipeline = Native{}
	_ Pipeline = (*FFmpeg)(nil)
)

// Package espeak wraps the espeak-ng binary as an offline TTS engine.
// Output is PCM WAV from the subprocess's stdout; no temporary files.
package espeak

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/sedabot/sedabot/pkg/engine"
)

// defaultBinary is the binary looked up on PATH when no override is given.
const defaultBinary = "espeak-ng"

// baseWPM is espeak's default speaking rate in words per minute; the
// request's rate multiplier scales it.
const baseWPM = 175

// Engine shells out to espeak-ng.
type Engine struct {
	// Path overrides the binary name. Empty uses [defaultBinary].
	Path string

	availOnce sync.Once
	avail     bool
}

// New returns an Engine using the binary at path, or espeak-ng on PATH when
// path is empty.
func New(path string) *Engine {
	return &Engine{Path: path}
}

func (e *Engine) binary() string {
	if e.Path != "" {
		return e.Path
	}
	return defaultBinary
}

// Available reports whether the espeak-ng binary can be found. The lookup
// runs once and is cached.
func (e *Engine) Available() bool {
	e.availOnce.Do(func() {
		_, err := exec.LookPath(e.binary())
		e.avail = err == nil
	})
	return e.avail
}

// Describe reports the engine capabilities: offline, any language espeak
// ships a voice for, rate and pitch control.
func (e *Engine) Describe() engine.Descriptor {
	return engine.Descriptor{
		Name:          "espeak",
		Offline:       true,
		SupportsRate:  true,
		SupportsPitch: true,
	}
}

// Synthesize runs one espeak-ng invocation, feeding the text on stdin and
// collecting WAV from stdout.
func (e *Engine) Synthesize(ctx context.Context, req engine.Request) ([]byte, string, error) {
	if err := req.Validate(); err != nil {
		return nil, "", err
	}

	args := []string{"--stdout", "--stdin", "-v", voiceFor(req)}
	if req.Rate != 0 && req.Rate != 1.0 {
		args = append(args, "-s", strconv.Itoa(int(baseWPM*req.Rate)))
	}
	if req.Pitch != 0 {
		args = append(args, "-p", strconv.Itoa(espeakPitch(req.Pitch)))
	}

	// Stdin keeps arbitrary text out of argv, where dashes and length
	// limits would bite.
	cmd := exec.CommandContext(ctx, e.binary(), args...)
	cmd.Stdin = strings.NewReader(req.Text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, "", fmt.Errorf("espeak: %w: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, "", fmt.Errorf("espeak: produced no audio")
	}
	return stdout.Bytes(), "wav", nil
}

// voiceFor maps the request to an espeak voice name: an explicit voice wins,
// else the language tag, else English.
func voiceFor(req engine.Request) string {
	if req.Voice != "" {
		return req.Voice
	}
	if req.Lang != "" {
		return req.Lang
	}
	return "en"
}

// espeakPitch maps semitones in [-12, 12] onto espeak's 0–99 scale, with 50
// as neutral.
func espeakPitch(semitones float64) int {
	p := int(50 + semitones*4)
	if p < 0 {
		p = 0
	}
	if p > 99 {
		p = 99
	}
	return p
}

var _ engine.Engine = (*Engine)(nil)

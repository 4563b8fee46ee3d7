// Package gtts synthesizes speech through the public Google Translate TTS
// endpoint. It needs no credentials, speaks whatever languages Translate
// speaks, and returns MP3 audio.
//
// The endpoint caps the query text; longer inputs are split on whitespace
// into chunks and the resulting MP3 blobs concatenated. MP3 frames are
// self-delimiting, so byte concatenation yields a playable stream.
package gtts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sedabot/sedabot/pkg/engine"
)

// defaultBaseURL is the translate_tts endpoint.
const defaultBaseURL = "https://translate.google.com/translate_tts"

// maxChunkLen is the endpoint's effective per-request text limit.
const maxChunkLen = 200

// userAgent mimics a browser; the endpoint rejects obviously robotic
// clients.
const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Engine is the Google Translate TTS backend.
type Engine struct {
	baseURL string
	client  *http.Client
}

// Option configures an Engine.
type Option func(*Engine)

// WithBaseURL overrides the endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(e *Engine) {
		if u != "" {
			e.baseURL = u
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		if c != nil {
			e.client = c
		}
	}
}

// New returns a ready Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Describe reports the engine capabilities: online, any language, no voice,
// rate, or pitch control.
func (e *Engine) Describe() engine.Descriptor {
	return engine.Descriptor{
		Name:    "gtts",
		Offline: false,
	}
}

// Synthesize fetches MP3 audio for req.Text, one HTTP request per chunk.
func (e *Engine) Synthesize(ctx context.Context, req engine.Request) ([]byte, string, error) {
	if err := req.Validate(); err != nil {
		return nil, "", err
	}
	lang := req.Lang
	if lang == "" {
		lang = "en"
	}

	var out []byte
	for _, chunk := range splitChunks(req.Text, maxChunkLen) {
		audio, err := e.fetch(ctx, chunk, lang)
		if err != nil {
			return nil, "", err
		}
		out = append(out, audio...)
	}
	if len(out) == 0 {
		return nil, "", fmt.Errorf("gtts: endpoint returned no audio")
	}
	return out, "mp3", nil
}

// fetch requests one chunk of synthesized audio.
func (e *Engine) fetch(ctx context.Context, text, lang string) ([]byte, error) {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", lang)
	q.Set("q", text)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("gtts: build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gtts: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gtts: endpoint returned %s", resp.Status)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gtts: read response: %w", err)
	}
	return audio, nil
}

// splitChunks breaks text into pieces of at most maxLen runes, preferring
// whitespace boundaries. A single overlong word is split mid-word.
func splitChunks(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}

	var chunks []string
	var current []rune
	for _, word := range strings.Fields(text) {
		w := []rune(word)
		for len(w) > maxLen {
			// Overlong word: hard split.
			if len(current) > 0 {
				chunks = append(chunks, string(current))
				current = nil
			}
			chunks = append(chunks, string(w[:maxLen]))
			w = w[maxLen:]
		}
		switch {
		case len(current) == 0:
			current = w
		case len(current)+1+len(w) <= maxLen:
			current = append(current, ' ')
			current = append(current, w...)
		default:
			chunks = append(chunks, string(current))
			current = w
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}
	return chunks
}

var _ engine.Engine = (*Engine)(nil)

// Package elevenlabs synthesizes speech through the ElevenLabs streaming
// WebSocket API (stream-input). The stream is drained into a single MP3 blob
// so the engine fits the one-shot Engine interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/sedabot/sedabot/pkg/engine"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_multilingual_v2"

	// outputFormat is fixed: MP3 keeps the blob directly cacheable and
	// convertible by the audio pipeline.
	outputFormat = "mp3_44100_128"
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(e *Engine) {
		if model != "" {
			e.model = model
		}
	}
}

// WithVoice sets the default voice ID used when a request pins none.
func WithVoice(voiceID string) Option {
	return func(e *Engine) {
		e.voiceID = voiceID
	}
}

// WithBaseURL overrides the API base URL, mainly for tests. Both the
// WebSocket and the REST endpoints derive from it; coder/websocket accepts
// http(s) URLs and upgrades them.
func WithBaseURL(u string) Option {
	return func(e *Engine) {
		if u != "" {
			e.baseURL = u
		}
	}
}

// WithHTTPClient overrides the HTTP client used for the voices endpoint.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		if c != nil {
			e.httpClient = c
		}
	}
}

// Engine is the ElevenLabs TTS backend.
type Engine struct {
	apiKey     string
	voiceID    string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates an Engine. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	e := &Engine{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Describe reports the engine capabilities: online, any language the selected
// model speaks, voices free-form (the catalogue is dynamic, see ListVoices).
func (e *Engine) Describe() engine.Descriptor {
	return engine.Descriptor{
		Name:    "elevenlabs",
		Offline: false,
	}
}

// ---- WebSocket message types ----

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// boiMessage is the initial "begin of input" handshake carrying the API key.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// textMessage is the JSON payload for one text fragment. An empty Text acts
// as end-of-input.
type textMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
}

// audioResponse is one server message: a base64 audio chunk, a final marker,
// or an error description.
type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize opens a stream-input WebSocket, sends the whole text, and drains
// the audio chunks into one MP3 blob.
func (e *Engine) Synthesize(ctx context.Context, req engine.Request) ([]byte, string, error) {
	if err := req.Validate(); err != nil {
		return nil, "", err
	}
	voice := req.Voice
	if voice == "" {
		voice = e.voiceID
	}
	if voice == "" {
		return nil, "", errors.New("elevenlabs: no voice configured")
	}

	wsURL := fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s",
		e.baseURL, voice, e.model, outputFormat)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	// Audio chunks arrive as one message each; a long utterance can exceed
	// the default 32 KiB read limit.
	conn.SetReadLimit(1 << 22)

	// ElevenLabs requires a non-empty first text value.
	boi := boiMessage{
		Text: " ",
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
		XiAPIKey: e.apiKey,
	}
	if err := writeJSON(ctx, conn, boi); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: send BOI: %w", err)
	}
	// Text fragments must end with whitespace for the server-side chunker.
	if err := writeJSON(ctx, conn, textMessage{Text: req.Text + " ", TryTriggerGeneration: true}); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: send text: %w", err)
	}
	// End of input: flush remaining audio.
	if err := writeJSON(ctx, conn, textMessage{Text: ""}); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: send EOS: %w", err)
	}

	var audio []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			// Normal closure after the final chunk is not an error.
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(audio) > 0 {
				break
			}
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			return nil, "", fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return nil, "", fmt.Errorf("elevenlabs: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, "", fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			audio = append(audio, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}
	if len(audio) == 0 {
		return nil, "", errors.New("elevenlabs: stream produced no audio")
	}
	return audio, "mp3", nil
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// ---- voice catalogue ----

// Voice is one entry from the ElevenLabs voice catalogue.
type Voice struct {
	ID       string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

type voicesResponse struct {
	Voices []Voice `json:"voices"`
}

// ListVoices fetches the voices available to the configured API key.
func (e *Engine) ListVoices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}
	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return vr.Voices, nil
}

var _ engine.Engine = (*Engine)(nil)

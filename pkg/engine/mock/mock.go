// Package mock provides a test double for the engine.Engine interface.
//
// Use Engine to script synthesis results or failures and to verify which
// requests reached the backend.
//
// Example:
//
//	e := &mock.Engine{
//	    Desc:   engine.Descriptor{Name: "gtts"},
//	    Data:   []byte("mp3-bytes"),
//	    Format: "mp3",
//	}
//	data, format, err := e.Synthesize(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/sedabot/sedabot/pkg/engine"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the request passed to Synthesize.
	Req engine.Request
}

// Engine is a mock implementation of engine.Engine.
type Engine struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Desc is returned by Describe.
	Desc engine.Descriptor

	// Data and Format are returned by Synthesize when Err is nil and no
	// scripted errors remain.
	Data   []byte
	Format string

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// ErrSequence, if non-empty, scripts per-call results: call n returns
	// ErrSequence[n] (nil meaning success). Calls beyond the sequence use Err.
	ErrSequence []error

	// SynthesizeFunc, if non-nil, overrides the scripted behaviour entirely.
	// Useful for latency simulation or per-request assertions.
	SynthesizeFunc func(ctx context.Context, req engine.Request) ([]byte, string, error)

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the scripted result.
func (e *Engine) Synthesize(ctx context.Context, req engine.Request) ([]byte, string, error) {
	e.mu.Lock()
	n := len(e.SynthesizeCalls)
	e.SynthesizeCalls = append(e.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	fn := e.SynthesizeFunc
	var scripted error
	hasScripted := false
	if n < len(e.ErrSequence) {
		scripted = e.ErrSequence[n]
		hasScripted = true
	}
	data := make([]byte, len(e.Data))
	copy(data, e.Data)
	format := e.Format
	err := e.Err
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if hasScripted {
		if scripted != nil {
			return nil, "", scripted
		}
		return data, format, nil
	}
	if err != nil {
		return nil, "", err
	}
	return data, format, nil
}

// Describe returns Desc.
func (e *Engine) Describe() engine.Descriptor {
	return e.Desc
}

// Calls returns a copy of the recorded Synthesize calls. Thread-safe.
func (e *Engine) Calls() []SynthesizeCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	calls := make([]SynthesizeCall, len(e.SynthesizeCalls))
	copy(calls, e.SynthesizeCalls)
	return calls
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.SynthesizeCalls = nil
}

// Ensure Engine implements engine.Engine at compile time.
var _ engine.Engine = (*Engine)(nil)

// Package router selects and drives TTS engines. For every request it builds
// a candidate list from the registry's per-language policy, filters it by the
// request's capability and voice constraints, orders it by live success-rate
// and latency statistics, and then tries the candidates sequentially until
// one produces audio.
//
// Routing is I/O-bound and many requests may be in flight at once; the
// router holds no per-request locks and the per-engine counters are atomic.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/sedabot/sedabot/internal/observe"
	"github.com/sedabot/sedabot/internal/registry"
	"github.com/sedabot/sedabot/pkg/engine"
)

// DefaultAttemptTimeout bounds a single engine attempt when no override is
// configured. It applies per candidate, not per request.
const DefaultAttemptTimeout = 30 * time.Second

// Result is one successful synthesis: the audio bytes, their container
// format as reported by the engine, and the engine that produced them.
type Result struct {
	Data   []byte
	Format string
	Engine string
}

// AllEnginesFailedError reports that every ordered candidate was tried and
// every one failed. Attempts preserves the order in which engines were tried.
type AllEnginesFailedError struct {
	Lang     string
	Attempts []*engine.SynthesisError
}

func (e *AllEnginesFailedError) Error() string {
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Engine
	}
	return fmt.Sprintf("router: all engines failed for lang %q (tried %s)",
		e.Lang, strings.Join(names, ", "))
}

// Unwrap exposes the per-engine causes to errors.Is and errors.As.
func (e *AllEnginesFailedError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a
	}
	return errs
}

// RankedEngine is one entry of the ordering the next call would use.
type RankedEngine struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Router routes synthesis requests across the registered engines.
type Router struct {
	reg            *registry.Registry
	log            *slog.Logger
	metrics        *observe.Metrics
	attemptTimeout time.Duration

	mu    sync.Mutex
	stats map[string]*EngineStats
}

// Option configures a Router.
type Option func(*Router)

// WithAttemptTimeout overrides the per-attempt timeout. Zero or negative
// disables the bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(r *Router) { r.attemptTimeout = d }
}

// WithLogger sets the logger used for attempt-level warnings.
func WithLogger(log *slog.Logger) Option {
	return func(r *Router) { r.log = log }
}

// WithMetrics wires the OTel instruments. A nil Metrics disables recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New returns a Router reading engines and policies from reg.
func New(reg *registry.Registry, opts ...Option) *Router {
	r := &Router{
		reg:            reg,
		log:            slog.Default(),
		attemptTimeout: DefaultAttemptTimeout,
		stats:          make(map[string]*EngineStats),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Synth synthesizes req by trying ordered candidates sequentially: engine k
// completes (or fails) before engine k+1 is considered. Returns
// [engine.ErrEngineNotFound] when no candidate passes the filters and an
// *[AllEnginesFailedError] when every candidate fails.
func (r *Router) Synth(ctx context.Context, req engine.Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	candidates := r.candidates(req)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w (lang %q)", engine.ErrEngineNotFound, req.Lang)
	}
	ordered := r.order(candidates)

	if r.metrics != nil {
		r.metrics.SynthesisRequests.Add(ctx, 1,
			metric.WithAttributes(observe.Attr("lang", req.Lang)))
	}

	var attempts []*engine.SynthesisError
	for _, ranked := range ordered {
		eng := r.reg.Engine(ranked.Name)
		if eng == nil {
			// Unregistered between ordering and attempt; skip silently.
			continue
		}
		res, err := r.attempt(ctx, ranked.Name, eng, req)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		attempts = append(attempts, &engine.SynthesisError{Engine: ranked.Name, Err: err})
		r.log.Warn("engine attempt failed",
			"engine", ranked.Name, "lang", req.Lang, "error", err)
	}
	return nil, &AllEnginesFailedError{Lang: req.Lang, Attempts: attempts}
}

// SynthWith synthesizes req on one explicitly named engine, bypassing policy
// order and scoring. The engine must still support the request's language
// and voice.
func (r *Router) SynthWith(ctx context.Context, name string, req engine.Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	eng := r.reg.Engine(name)
	desc, ok := r.reg.Descriptor(name)
	if eng == nil || !ok {
		return nil, fmt.Errorf("%w: %q is not registered", engine.ErrEngineNotFound, name)
	}
	if !desc.SupportsLanguage(req.Lang) || !desc.SupportsVoice(req.Voice) {
		return nil, fmt.Errorf("%w: %q does not support lang %q", engine.ErrEngineNotFound, name, req.Lang)
	}
	res, err := r.attempt(ctx, name, eng, req)
	if err != nil {
		return nil, &engine.SynthesisError{Engine: name, Err: err}
	}
	return res, nil
}

// attempt runs one bounded synthesis call and records its outcome.
func (r *Router) attempt(ctx context.Context, name string, eng engine.Engine, req engine.Request) (*Result, error) {
	if r.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.attemptTimeout)
		defer cancel()
	}
	stats := r.engineStats(name)
	start := time.Now()
	data, format, err := eng.Synthesize(ctx, req)
	latency := time.Since(start)
	if err == nil && len(data) == 0 {
		err = fmt.Errorf("engine returned no audio")
	}
	if r.metrics != nil {
		r.metrics.RecordSynthesis(ctx, name, latency.Seconds(), err == nil)
	}
	if err != nil {
		stats.recordFailure(err)
		return nil, err
	}
	stats.recordSuccess(latency)
	return &Result{Data: data, Format: format, Engine: name}, nil
}

// candidates returns the policy-ordered engine names that pass the request's
// language, capability, and voice filters.
func (r *Router) candidates(req engine.Request) []string {
	names := r.reg.Policy(req.Lang)
	out := names[:0]
	for _, name := range names {
		desc, ok := r.reg.Descriptor(name)
		if !ok || r.reg.Engine(name) == nil {
			continue
		}
		if !desc.SupportsLanguage(req.Lang) {
			continue
		}
		if !desc.Meets(req.Requirements) {
			continue
		}
		if !desc.SupportsVoice(req.Voice) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// order re-ranks candidates by score, descending, keeping policy order for
// ties. Engines with no recorded attempts get a neutral score halfway
// between the best and worst proven scores, so they are tried but never
// preferred over proven performers.
func (r *Router) order(candidates []string) []RankedEngine {
	ranked := make([]RankedEngine, len(candidates))
	best, worst := 0.0, 0.0
	proven := false
	for i, name := range candidates {
		ranked[i] = RankedEngine{Name: name}
		snap := r.engineStats(name).Snapshot()
		if snap.Attempts == 0 {
			ranked[i].Score = unprovenMark
			continue
		}
		score := snap.score()
		ranked[i].Score = score
		if !proven || score > best {
			best = score
		}
		if !proven || score < worst {
			worst = score
		}
		proven = true
	}
	neutral := 0.0
	if proven {
		neutral = (best + worst) / 2
	}
	for i := range ranked {
		if ranked[i].Score == unprovenMark {
			ranked[i].Score = neutral
		}
	}
	slices.SortStableFunc(ranked, func(a, b RankedEngine) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	return ranked
}

// unprovenMark is a sentinel score no real snapshot can produce (rates are
// in [0,1] and penalties in [0,1], so real scores live in [-1,1]).
const unprovenMark = -1000.0

// Ranking returns the ordering a language-only request would produce right
// now: policy plus language filter, scored and sorted.
func (r *Router) Ranking(lang string) []RankedEngine {
	return r.order(r.candidates(engine.Request{Lang: lang}))
}

// Stats returns a snapshot of every engine that has recorded at least one
// attempt.
func (r *Router) Stats() map[string]StatsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]StatsSnapshot, len(r.stats))
	for name, s := range r.stats {
		out[name] = s.Snapshot()
	}
	return out
}

// ResetStats drops all accumulated counters in one swap.
func (r *Router) ResetStats() {
	r.mu.Lock()
	r.stats = make(map[string]*EngineStats)
	r.mu.Unlock()
}

func (r *Router) engineStats(name string) *EngineStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[name]
	if !ok {
		s = &EngineStats{}
		r.stats[name] = s
	}
	return s
}

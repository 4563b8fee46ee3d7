package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sedabot/sedabot/internal/registry"
	"github.com/sedabot/sedabot/pkg/engine"
	"github.com/sedabot/sedabot/pkg/engine/mock"
)

func newEngine(name string, offline bool) *mock.Engine {
	return &mock.Engine{
		Desc:   engine.Descriptor{Name: name, Offline: offline},
		Data:   []byte(name + "-audio"),
		Format: "mp3",
	}
}

func newRouter(t *testing.T, engines ...*mock.Engine) (*Router, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	for _, e := range engines {
		if err := reg.Register(e); err != nil {
			t.Fatalf("Register(%s): %v", e.Desc.Name, err)
		}
	}
	return New(reg), reg
}

func req(text, lang string) engine.Request {
	return engine.Request{Text: text, Lang: lang}
}

// ─── Selection and filtering ───────────────────────────────────────────────

func TestSynth_UsesPolicyOrder(t *testing.T) {
	t.Parallel()
	a := newEngine("alpha", false)
	b := newEngine("beta", false)
	r, reg := newRouter(t, a, b)
	reg.SetPolicy("en", []string{"beta", "alpha"})

	res, err := r.Synth(context.Background(), req("hi", "en"))
	if err != nil {
		t.Fatalf("Synth: %v", err)
	}
	if res.Engine != "beta" {
		t.Errorf("engine = %q, want beta (policy head)", res.Engine)
	}
	if len(a.Calls()) != 0 {
		t.Errorf("alpha was called %d times, want 0", len(a.Calls()))
	}
}

func TestSynth_NoCandidates(t *testing.T) {
	t.Parallel()
	a := newEngine("alpha", false)
	a.Desc.Languages = map[string]bool{"de": true}
	r, _ := newRouter(t, a)

	_, err := r.Synth(context.Background(), req("hi", "fa"))
	if !errors.Is(err, engine.ErrEngineNotFound) {
		t.Fatalf("err = %v, want ErrEngineNotFound", err)
	}
}

func TestSynth_RequirementsFilter(t *testing.T) {
	t.Parallel()
	online := newEngine("online", false)
	offline := newEngine("offline", true)
	r, reg := newRouter(t, online, offline)
	reg.SetPolicy("en", []string{"online", "offline"})

	request := req("hi", "en")
	request.Requirements = map[string]bool{engine.CapOffline: true}
	res, err := r.Synth(context.Background(), request)
	if err != nil {
		t.Fatalf("Synth: %v", err)
	}
	if res.Engine != "offline" {
		t.Errorf("engine = %q, want offline", res.Engine)
	}
	if len(online.Calls()) != 0 {
		t.Error("online engine was tried despite offline requirement")
	}
}

func TestSynth_FalseRequirementDoesNotExclude(t *testing.T) {
	t.Parallel()
	offline := newEngine("offline", true)
	r, _ := newRouter(t, offline)

	// {"offline": false} means "not required", not "must be online".
	request := req("hi", "en")
	request.Requirements = map[string]bool{engine.CapOffline: false}
	res, err := r.Synth(context.Background(), request)
	if err != nil {
		t.Fatalf("Synth: %v", err)
	}
	if res.Engine != "offline" {
		t.Errorf("engine = %q, want offline", res.Engine)
	}
}

func TestSynth_VoiceFilter(t *testing.T) {
	t.Parallel()
	fixed := newEngine("fixed", false)
	fixed.Desc.Voices = map[string]bool{"Aria": true}
	anyVoice := newEngine("anyvoice", false)
	r, reg := newRouter(t, fixed, anyVoice)
	reg.SetPolicy("en", []string{"fixed", "anyvoice"})

	request := req("hi", "en")
	request.Voice = "Guy"
	res, err := r.Synth(context.Background(), request)
	if err != nil {
		t.Fatalf("Synth: %v", err)
	}
	// fixed only advertises Aria; anyvoice has an empty set meaning "any".
	if res.Engine != "anyvoice" {
		t.Errorf("engine = %q, want anyvoice", res.Engine)
	}
}

// ─── Fallback and failure ──────────────────────────────────────────────────

func TestSynth_FallsBackOnFailure(t *testing.T) {
	t.Parallel()
	a := newEngine("alpha", false)
	a.Err = fmt.Errorf("service unavailable")
	b := newEngine("beta", false)
	r, reg := newRouter(t, a, b)
	reg.SetPolicy("en", []string{"alpha", "beta"})

	res, err := r.Synth(context.Background(), req("hi", "en"))
	if err != nil {
		t.Fatalf("Synth: %v", err)
	}
	if res.Engine != "beta" {
		t.Errorf("engine = %q, want beta", res.Engine)
	}
	if string(res.Data) != "beta-audio" {
		t.Errorf("data = %q, want beta-audio", res.Data)
	}
}

func TestSynth_AllEnginesFailed(t *testing.T) {
	t.Parallel()
	a := newEngine("alpha", false)
	a.Err = fmt.Errorf("boom a")
	b := newEngine("beta", false)
	b.Err = fmt.Errorf("boom b")
	r, reg := newRouter(t, a, b)
	reg.SetPolicy("en", []string{"alpha", "beta"})

	_, err := r.Synth(context.Background(), req("hi", "en"))
	var allFailed *AllEnginesFailedError
	if !errors.As(err, &allFailed) {
		t.Fatalf("err = %T, want *AllEnginesFailedError", err)
	}
	if len(allFailed.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(allFailed.Attempts))
	}
	if allFailed.Attempts[0].Engine != "alpha" || allFailed.Attempts[1].Engine != "beta" {
		t.Errorf("attempt order = %s, %s; want alpha, beta",
			allFailed.Attempts[0].Engine, allFailed.Attempts[1].Engine)
	}
}

func TestSynth_EmptyAudioIsFailure(t *testing.T) {
	t.Parallel()
	a := newEngine("alpha", false)
	a.Data = nil
	b := newEngine("beta", false)
	r, reg := newRouter(t, a, b)
	reg.SetPolicy("en", []string{"alpha", "beta"})

	res, err := r.Synth(context.Background(), req("hi", "en"))
	if err != nil {
		t.Fatalf("Synth: %v", err)
	}
	if res.Engine != "beta" {
		t.Errorf("engine = %q, want beta after empty-audio fallback", res.Engine)
	}
}

func TestSynth_ContextCancelStopsIteration(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	a := newEngine("alpha", false)
	a.SynthesizeFunc = func(ctx context.Context, _ engine.Request) ([]byte, string, error) {
		cancel()
		return nil, "", ctx.Err()
	}
	b := newEngine("beta", false)
	r, reg := newRouter(t, a, b)
	reg.SetPolicy("en", []string{"alpha", "beta"})

	_, err := r.Synth(ctx, req("hi", "en"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(b.Calls()) != 0 {
		t.Error("beta was tried after context cancellation")
	}
}

// ─── Scoring ───────────────────────────────────────────────────────────────

func TestOrder_PrefersProvenSuccess(t *testing.T) {
	t.Parallel()
	flaky := newEngine("flaky", false)
	solid := newEngine("solid", false)
	r, reg := newRouter(t, flaky, solid)
	reg.SetPolicy("en", []string{"flaky", "solid"})

	// Feed the stats directly: flaky 1/4, solid 4/4.
	fs := r.engineStats("flaky")
	fs.recordSuccess(10 * time.Millisecond)
	for range 3 {
		fs.recordFailure(fmt.Errorf("boom"))
	}
	ss := r.engineStats("solid")
	for range 4 {
		ss.recordSuccess(10 * time.Millisecond)
	}

	ranking := r.Ranking("en")
	if len(ranking) != 2 {
		t.Fatalf("ranking size = %d, want 2", len(ranking))
	}
	if ranking[0].Name != "solid" {
		t.Errorf("ranking head = %q, want solid", ranking[0].Name)
	}
}

func TestOrder_UnprovenIsNeutral(t *testing.T) {
	t.Parallel()
	good := newEngine("good", false)
	bad := newEngine("bad", false)
	fresh := newEngine("fresh", false)
	r, reg := newRouter(t, good, bad, fresh)
	reg.SetPolicy("en", []string{"bad", "fresh", "good"})

	gs := r.engineStats("good")
	for range 4 {
		gs.recordSuccess(10 * time.Millisecond)
	}
	bs := r.engineStats("bad")
	for range 4 {
		bs.recordFailure(fmt.Errorf("boom"))
	}

	ranking := r.Ranking("en")
	got := []string{ranking[0].Name, ranking[1].Name, ranking[2].Name}
	// Neutral sits between proven best and worst: good, fresh, bad.
	want := []string{"good", "fresh", "bad"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ranking = %v, want %v", got, want)
		}
	}
}

func TestOrder_TiesKeepPolicyOrder(t *testing.T) {
	t.Parallel()
	a := newEngine("alpha", false)
	b := newEngine("beta", false)
	r, reg := newRouter(t, a, b)
	reg.SetPolicy("en", []string{"beta", "alpha"})

	// No stats at all: everything neutral, policy order must survive.
	ranking := r.Ranking("en")
	if ranking[0].Name != "beta" || ranking[1].Name != "alpha" {
		t.Errorf("ranking = %v, want policy order beta, alpha", ranking)
	}
}

// ─── Explicit engine ───────────────────────────────────────────────────────

func TestSynthWith_ExplicitEngine(t *testing.T) {
	t.Parallel()
	a := newEngine("alpha", false)
	b := newEngine("beta", false)
	r, reg := newRouter(t, a, b)
	reg.SetPolicy("en", []string{"alpha", "beta"})

	res, err := r.SynthWith(context.Background(), "beta", req("hi", "en"))
	if err != nil {
		t.Fatalf("SynthWith: %v", err)
	}
	if res.Engine != "beta" {
		t.Errorf("engine = %q, want beta", res.Engine)
	}
}

func TestSynthWith_UnknownEngine(t *testing.T) {
	t.Parallel()
	r, _ := newRouter(t, newEngine("alpha", false))

	_, err := r.SynthWith(context.Background(), "ghost", req("hi", "en"))
	if !errors.Is(err, engine.ErrEngineNotFound) {
		t.Fatalf("err = %v, want ErrEngineNotFound", err)
	}
}

func TestSynthWith_NoFallback(t *testing.T) {
	t.Parallel()
	a := newEngine("alpha", false)
	a.Err = fmt.Errorf("boom")
	b := newEngine("beta", false)
	r, _ := newRouter(t, a, b)

	_, err := r.SynthWith(context.Background(), "alpha", req("hi", "en"))
	var synthErr *engine.SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("err = %T, want *engine.SynthesisError", err)
	}
	if synthErr.Engine != "alpha" {
		t.Errorf("failed engine = %q, want alpha", synthErr.Engine)
	}
	if len(b.Calls()) != 0 {
		t.Error("explicit selection must not fall back to beta")
	}
}

// ─── Stats ─────────────────────────────────────────────────────────────────

func TestStats_RecordsOutcomes(t *testing.T) {
	t.Parallel()
	a := newEngine("alpha", false)
	a.ErrSequence = []error{fmt.Errorf("boom"), nil}
	r, reg := newRouter(t, a)
	reg.SetPolicy("en", []string{"alpha"})

	if _, err := r.Synth(context.Background(), req("one", "en")); err == nil {
		t.Fatal("first call should fail")
	}
	if _, err := r.Synth(context.Background(), req("two", "en")); err != nil {
		t.Fatalf("second call: %v", err)
	}

	snap, ok := r.Stats()["alpha"]
	if !ok {
		t.Fatal("no stats for alpha")
	}
	if snap.Attempts != 2 || snap.Successes != 1 || snap.Failures != 1 {
		t.Errorf("counters = %d/%d/%d, want 2/1/1",
			snap.Attempts, snap.Successes, snap.Failures)
	}
	if snap.SuccessRate != 0.5 {
		t.Errorf("success rate = %v, want 0.5", snap.SuccessRate)
	}
	if snap.LastError == "" {
		t.Error("last error not recorded")
	}
}

func TestResetStats(t *testing.T) {
	t.Parallel()
	a := newEngine("alpha", false)
	r, _ := newRouter(t, a)

	if _, err := r.Synth(context.Background(), req("hi", "en")); err != nil {
		t.Fatalf("Synth: %v", err)
	}
	if len(r.Stats()) == 0 {
		t.Fatal("expected stats before reset")
	}
	r.ResetStats()
	if len(r.Stats()) != 0 {
		t.Error("stats survived reset")
	}
}

func TestSnapshotScore_LatencyPenalty(t *testing.T) {
	t.Parallel()
	fast := StatsSnapshot{Attempts: 4, Successes: 4, SuccessRate: 1, AvgLatency: 100 * time.Millisecond}
	slow := StatsSnapshot{Attempts: 4, Successes: 4, SuccessRate: 1, AvgLatency: 8 * time.Second}
	if fast.score() <= slow.score() {
		t.Errorf("fast score %v should beat slow score %v", fast.score(), slow.score())
	}
	// The penalty saturates at one.
	glacial := StatsSnapshot{Attempts: 1, Successes: 1, SuccessRate: 1, AvgLatency: time.Minute}
	if got := glacial.score(); got != 0 {
		t.Errorf("saturated score = %v, want 0", got)
	}
}

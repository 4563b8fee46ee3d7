package cache

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	c, err := New(cfg, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// ─── Fingerprint ───────────────────────────────────────────────────────────

func TestFingerprint_Deterministic(t *testing.T) {
	t.Parallel()
	a := Fingerprint("hello", "en", "gtts")
	b := Fingerprint("hello", "en", "gtts")
	if a != b {
		t.Error("same inputs produced different fingerprints")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestFingerprint_DistinguishesComponents(t *testing.T) {
	t.Parallel()
	base := Fingerprint("hello", "en", "gtts")
	if Fingerprint("hello!", "en", "gtts") == base {
		t.Error("text change did not change the fingerprint")
	}
	if Fingerprint("hello", "fa", "gtts") == base {
		t.Error("lang change did not change the fingerprint")
	}
	if Fingerprint("hello", "en", "espeak") == base {
		t.Error("engine change did not change the fingerprint")
	}
}

func TestFingerprint_EmptyEngineIsAuto(t *testing.T) {
	t.Parallel()
	if Fingerprint("hello", "en", "") != Fingerprint("hello", "en", AutoEngine) {
		t.Error("empty engine should fingerprint as auto")
	}
}

// ─── Get / Put round trips ─────────────────────────────────────────────────

func TestPutAndGet(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, Config{MaxEntries: 10})
	key := Fingerprint("hello", "en", "")
	if err := c.Put(key, []byte("audio"), "ogg", map[string]string{"engine": "gtts", "lang": "en"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, format, ok := c.Get("hello", "en", "")
	if !ok {
		t.Fatal("Get missed a freshly stored entry")
	}
	if string(data) != "audio" || format != "ogg" {
		t.Errorf("got (%q, %q), want (audio, ogg)", data, format)
	}
}

func TestGet_MissCountsAndReturnsFalse(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, Config{})
	if _, _, ok := c.Get("absent", "en", ""); ok {
		t.Fatal("Get hit on an empty cache")
	}
	s := c.Stats()
	if s.Misses != 1 || s.Hits != 0 {
		t.Errorf("hits/misses = %d/%d, want 0/1", s.Hits, s.Misses)
	}
}

func TestGet_RefreshesLastAccess(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, Config{})
	key := Fingerprint("hello", "en", "")
	if err := c.Put(key, []byte("audio"), "ogg", nil); err != nil {
		t.Fatal(err)
	}
	// Backdate the entry; second-resolution timestamps would not move
	// within a fast test otherwise.
	e := c.index[key]
	e.LastAccessedAt = time.Now().Add(-time.Hour).Unix()
	c.index[key] = e
	before := e.LastAccessedAt

	if _, _, ok := c.GetByKey(key); !ok {
		t.Fatal("unexpected miss")
	}
	if c.index[key].LastAccessedAt <= before {
		t.Error("last access time was not refreshed on hit")
	}
}

func TestGet_PurgesHalfWrittenBlob(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c := newTestCache(t, Config{Dir: dir})
	key := Fingerprint("hello", "en", "")
	if err := c.Put(key, []byte("full-audio"), "ogg", nil); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash mid-write: truncate the blob under the index.
	if err := os.WriteFile(filepath.Join(dir, key+".ogg"), []byte("trunc"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, ok := c.GetByKey(key); ok {
		t.Fatal("Get returned a size-mismatched blob")
	}
	if _, err := os.Stat(filepath.Join(dir, key+".ogg")); !os.IsNotExist(err) {
		t.Error("half-written blob was not purged")
	}
}

func TestGet_LooseBlobFallback(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	key := Fingerprint("hello", "en", "")
	// A blob with no index entry, as an older cache would leave behind.
	if err := os.WriteFile(filepath.Join(dir, key+".mp3"), []byte("old-audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := newTestCache(t, Config{Dir: dir})

	data, format, ok := c.GetByKey(key)
	if !ok {
		t.Fatal("loose blob was not found")
	}
	if string(data) != "old-audio" || format != "mp3" {
		t.Errorf("got (%q, %q), want (old-audio, mp3)", data, format)
	}
	// The blob is adopted into the index.
	if _, inIndex := c.index[key]; !inIndex {
		t.Error("loose blob was not adopted into the index")
	}
}

func TestIndexFile_TimestampsAreUnixSeconds(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c := newTestCache(t, Config{Dir: dir})
	key := Fingerprint("hello", "en", "")
	if err := c.Put(key, []byte("audio"), "ogg", nil); err != nil {
		t.Fatal(err)
	}

	// Other implementations read this file, so the timestamps must land on
	// disk as plain numbers, not formatted strings.
	raw, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	var index map[string]map[string]any
	if err := json.Unmarshal(raw, &index); err != nil {
		t.Fatalf("index is not valid JSON: %v", err)
	}
	entry, ok := index[key]
	if !ok {
		t.Fatalf("index has no record for %s", key[:8])
	}
	now := time.Now().Unix()
	for _, field := range []string{"created_at", "last_accessed_at"} {
		v, ok := entry[field].(float64)
		if !ok {
			t.Fatalf("%s serialized as %T (%v), want a number", field, entry[field], entry[field])
		}
		if sec := int64(v); sec < now-10 || sec > now+10 {
			t.Errorf("%s = %d, not within 10s of now (%d)", field, sec, now)
		}
	}
}

// ─── Eviction and expiry ───────────────────────────────────────────────────

func TestPut_EvictsLeastRecentlyAccessed(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, Config{MaxEntries: 2})

	keys := make([]string, 3)
	for i, text := range []string{"one", "two"} {
		keys[i] = Fingerprint(text, "en", "")
		if err := c.Put(keys[i], []byte(text), "ogg", nil); err != nil {
			t.Fatal(err)
		}
	}
	// Age the first entry so it sorts strictly before the second one.
	e := c.index[keys[0]]
	e.LastAccessedAt = time.Now().Add(-time.Minute).Unix()
	c.index[keys[0]] = e

	keys[2] = Fingerprint("three", "en", "")
	if err := c.Put(keys[2], []byte("three"), "ogg", nil); err != nil {
		t.Fatal(err)
	}

	if _, _, ok := c.GetByKey(keys[0]); ok {
		t.Error("oldest entry survived eviction")
	}
	for _, key := range keys[1:] {
		if _, _, ok := c.GetByKey(key); !ok {
			t.Errorf("entry %s was evicted but should have survived", key[:8])
		}
	}
}

func TestGet_ExpiresOldEntries(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c := newTestCache(t, Config{Dir: dir, MaxAge: time.Hour})
	key := Fingerprint("hello", "en", "")
	if err := c.Put(key, []byte("audio"), "ogg", nil); err != nil {
		t.Fatal(err)
	}
	// Age the blob past the bound.
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(filepath.Join(dir, key+".ogg"), old, old); err != nil {
		t.Fatal(err)
	}

	if _, _, ok := c.GetByKey(key); ok {
		t.Fatal("expired entry was returned")
	}
	if _, inIndex := c.index[key]; inIndex {
		t.Error("expired entry still in index")
	}
}

func TestCleanupOld(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c := newTestCache(t, Config{Dir: dir})

	fresh := Fingerprint("fresh", "en", "")
	stale := Fingerprint("stale", "en", "")
	orphan := Fingerprint("orphan", "en", "")
	for _, key := range []string{fresh, stale, orphan} {
		if err := c.Put(key, []byte("audio"), "ogg", nil); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(filepath.Join(dir, stale+".ogg"), old, old); err != nil {
		t.Fatal(err)
	}
	// An index entry whose blob is gone must be dropped too.
	if err := os.Remove(filepath.Join(dir, orphan+".ogg")); err != nil {
		t.Fatal(err)
	}

	if removed := c.CleanupOld(time.Hour); removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, _, ok := c.GetByKey(fresh); !ok {
		t.Error("fresh entry was removed by cleanup")
	}
}

// ─── Invalidate / Clear ────────────────────────────────────────────────────

func TestInvalidate(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, Config{})
	key := Fingerprint("hello", "en", "")
	if err := c.Put(key, []byte("audio"), "ogg", nil); err != nil {
		t.Fatal(err)
	}

	if !c.Invalidate(key) {
		t.Error("Invalidate reported false for an existing entry")
	}
	if c.Invalidate(key) {
		t.Error("Invalidate reported true for an absent entry")
	}
	if _, _, ok := c.GetByKey(key); ok {
		t.Error("entry survived invalidation")
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c := newTestCache(t, Config{Dir: dir})
	for _, text := range []string{"one", "two"} {
		if err := c.Put(Fingerprint(text, "en", ""), []byte(text), "ogg", nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s := c.Stats(); s.FileCount != 0 {
		t.Errorf("file count = %d after Clear, want 0", s.FileCount)
	}
	blobs, _ := filepath.Glob(filepath.Join(dir, "*.ogg"))
	if len(blobs) != 0 {
		t.Errorf("%d blobs survived Clear", len(blobs))
	}
}

// ─── Durability ────────────────────────────────────────────────────────────

func TestIndexSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c := newTestCache(t, Config{Dir: dir})
	key := Fingerprint("hello", "en", "")
	if err := c.Put(key, []byte("audio"), "ogg", map[string]string{"engine": "gtts"}); err != nil {
		t.Fatal(err)
	}

	reopened := newTestCache(t, Config{Dir: dir})
	data, format, ok := reopened.GetByKey(key)
	if !ok {
		t.Fatal("entry lost across reopen")
	}
	if string(data) != "audio" || format != "ogg" {
		t.Errorf("got (%q, %q) after reopen", data, format)
	}
}

func TestMalformedIndexTreatedAsEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, indexFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := newTestCache(t, Config{Dir: dir})
	if s := c.Stats(); s.FileCount != 0 {
		t.Errorf("file count = %d with malformed index, want 0", s.FileCount)
	}
	// The cache must still accept writes and replace the bad index.
	key := Fingerprint("hello", "en", "")
	if err := c.Put(key, []byte("audio"), "ogg", nil); err != nil {
		t.Fatalf("Put after malformed index: %v", err)
	}
}

// ─── Export and stats ──────────────────────────────────────────────────────

func TestExport(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, Config{})
	key := Fingerprint("hello", "en", "gtts")
	meta := map[string]string{"engine": "gtts", "lang": "en"}
	if err := c.Put(key, []byte("audio"), "mp3", meta); err != nil {
		t.Fatal(err)
	}

	exportDir := t.TempDir()
	n, err := c.Export(exportDir)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 1 {
		t.Fatalf("exported %d files, want 1", n)
	}
	want := filepath.Join(exportDir, "gtts_en_"+key+".mp3")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected export file %s: %v", want, err)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, Config{MaxEntries: 100, MaxAge: time.Hour})
	key := Fingerprint("hello", "en", "")
	if err := c.Put(key, []byte("12345"), "ogg", nil); err != nil {
		t.Fatal(err)
	}
	c.GetByKey(key)
	c.GetByKey(Fingerprint("absent", "en", ""))

	s := c.Stats()
	if s.FileCount != 1 {
		t.Errorf("file count = %d, want 1", s.FileCount)
	}
	if s.TotalSizeBytes != 5 {
		t.Errorf("total size = %d, want 5", s.TotalSizeBytes)
	}
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", s.Hits, s.Misses)
	}
	if s.HitRate != 0.5 {
		t.Errorf("hit rate = %v, want 0.5", s.HitRate)
	}
	if s.MaxEntries != 100 || s.MaxAgeSeconds != 3600 {
		t.Errorf("limits = %d/%v, want 100/3600", s.MaxEntries, s.MaxAgeSeconds)
	}
}

// Package cache is a content-addressed store for synthesized audio. Each
// entry is one blob file named <fingerprint>.<format> plus a record in a
// JSON index file, bounded by a maximum entry count (LRU on last access)
// and a maximum entry age (filesystem mtime).
//
// All operations go through one mutex: the cache is a small disk structure
// written by short critical sections, not a throughput bottleneck.
package cache

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// indexFile is the on-disk name of the JSON index.
const indexFile = "cache_index.json"

// AutoEngine is the fingerprint component used when no explicit engine was
// requested, so routed and pinned requests never collide.
const AutoEngine = "auto"

// Fingerprint derives the content address for a request. An empty engine
// means the router picked one ([AutoEngine]).
func Fingerprint(text, lang, engineName string) string {
	if engineName == "" {
		engineName = AutoEngine
	}
	sum := sha256.Sum256([]byte(text + "_" + lang + "_" + engineName))
	return hex.EncodeToString(sum[:])
}

// Entry is one index record. Timestamps are Unix seconds so the index file
// can be read and written by any implementation.
type Entry struct {
	Format         string            `json:"format"`
	Size           int64             `json:"size"`
	CreatedAt      int64             `json:"created_at"`
	LastAccessedAt int64             `json:"last_accessed_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Stats is a point-in-time cache summary. Rates are derived on read.
type Stats struct {
	FileCount      int     `json:"file_count"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
	TotalSizeMB    float64 `json:"total_size_mb"`
	MaxEntries     int     `json:"max_entries"`
	MaxAgeSeconds  float64 `json:"max_age_seconds"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	HitRate        float64 `json:"hit_rate"`
}

// Config bounds the cache.
type Config struct {
	// Dir is the cache directory; created if missing.
	Dir string

	// MaxEntries is the entry-count bound enforced on every Put. Zero or
	// negative disables count-based eviction.
	MaxEntries int

	// MaxAge is the entry-age bound checked on access and by CleanupOld.
	// Zero disables age-based expiry.
	MaxAge time.Duration
}

// Cache is the audio store. Safe for concurrent use.
type Cache struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	index  map[string]Entry
	hits   int64
	misses int64
}

// New opens (or creates) the cache directory and loads the index. A missing
// or malformed index file is treated as empty and replaced on next write.
func New(cfg Config, log *slog.Logger) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("cache: empty directory")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	c := &Cache{cfg: cfg, log: log, index: make(map[string]Entry)}
	c.loadIndex()
	return c, nil
}

// loadIndex reads the JSON index, tolerating absence and corruption.
func (c *Cache) loadIndex() {
	raw, err := os.ReadFile(filepath.Join(c.cfg.Dir, indexFile))
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("cache index unreadable, starting empty", "error", err)
		}
		return
	}
	var index map[string]Entry
	if err := json.Unmarshal(raw, &index); err != nil {
		c.log.Warn("cache index malformed, starting empty", "error", err)
		return
	}
	c.index = index
}

// persistIndex rewrites the index file. Called with the mutex held.
func (c *Cache) persistIndex() {
	raw, err := json.MarshalIndent(c.index, "", "  ")
	if err != nil {
		c.log.Error("cache index marshal failed", "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(c.cfg.Dir, indexFile), raw, 0o644); err != nil {
		c.log.Error("cache index write failed", "error", err)
	}
}

func (c *Cache) blobPath(key, format string) string {
	return filepath.Join(c.cfg.Dir, key+"."+format)
}

// Get looks up the blob for (text, lang, engineName); empty engineName means
// the routed ("auto") variant. On a hit the entry's last access time is
// refreshed. Returns the blob, its container format, and whether it was
// found.
func (c *Cache) Get(text, lang, engineName string) ([]byte, string, bool) {
	return c.GetByKey(Fingerprint(text, lang, engineName))
}

// GetByKey is Get for a precomputed fingerprint.
func (c *Cache) GetByKey(key string) ([]byte, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, inIndex := c.index[key]
	if !inIndex {
		// Loose-blob fallback: older caches may hold blobs the index lost.
		if path, format, ok := c.findLooseBlob(key); ok {
			data, err := os.ReadFile(path)
			if err == nil {
				c.adopt(key, format, data)
				c.hits++
				return data, format, true
			}
		}
		c.misses++
		return nil, "", false
	}

	path := c.blobPath(key, entry.Format)
	fi, err := os.Stat(path)
	if err != nil {
		// Blob vanished underneath the index.
		delete(c.index, key)
		c.persistIndex()
		c.misses++
		return nil, "", false
	}
	if c.cfg.MaxAge > 0 && time.Since(fi.ModTime()) > c.cfg.MaxAge {
		c.removeLocked(key, entry)
		c.misses++
		return nil, "", false
	}
	data, err := os.ReadFile(path)
	if err != nil || int64(len(data)) != entry.Size {
		// Half-written or unreadable blob: purge it.
		c.removeLocked(key, entry)
		c.misses++
		return nil, "", false
	}

	entry.LastAccessedAt = time.Now().Unix()
	c.index[key] = entry
	c.persistIndex()
	c.hits++
	return data, entry.Format, true
}

// findLooseBlob scans the directory for <key>.<anything>. Called with the
// mutex held.
func (c *Cache) findLooseBlob(key string) (path, format string, ok bool) {
	matches, err := filepath.Glob(filepath.Join(c.cfg.Dir, key+".*"))
	if err != nil || len(matches) == 0 {
		return "", "", false
	}
	path = matches[0]
	format = strings.TrimPrefix(filepath.Ext(path), ".")
	if format == "" || format == "json" {
		return "", "", false
	}
	return path, format, true
}

// adopt records a loose blob into the index. Called with the mutex held.
func (c *Cache) adopt(key, format string, data []byte) {
	now := time.Now().Unix()
	c.index[key] = Entry{
		Format:         format,
		Size:           int64(len(data)),
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	c.persistIndex()
}

// Put stores data under key, persists the index, and then enforces the
// entry-count bound.
func (c *Cache) Put(key string, data []byte, format string, metadata map[string]string) error {
	if key == "" || format == "" {
		return fmt.Errorf("cache: empty key or format")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.blobPath(key, format)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cache: write blob: %w", err)
	}
	now := time.Now().Unix()
	created := now
	if prev, ok := c.index[key]; ok {
		created = prev.CreatedAt
		if prev.Format != format {
			c.deleteBlob(key, prev.Format)
		}
	}
	c.index[key] = Entry{
		Format:         format,
		Size:           int64(len(data)),
		CreatedAt:      created,
		LastAccessedAt: now,
		Metadata:       metadata,
	}
	c.persistIndex()
	c.evictLocked()
	return nil
}

// evictLocked removes least-recently-accessed entries until the count bound
// holds. Entries accessed in the same second tie-break on key so eviction
// is deterministic. Called with the mutex held.
func (c *Cache) evictLocked() {
	if c.cfg.MaxEntries <= 0 || len(c.index) <= c.cfg.MaxEntries {
		return
	}
	type aged struct {
		key string
		at  int64
	}
	entries := make([]aged, 0, len(c.index))
	for key, e := range c.index {
		entries = append(entries, aged{key, e.LastAccessedAt})
	}
	slices.SortFunc(entries, func(a, b aged) int {
		if a.at != b.at {
			return cmp.Compare(a.at, b.at)
		}
		return cmp.Compare(a.key, b.key)
	})
	excess := len(entries) - c.cfg.MaxEntries
	for _, e := range entries[:excess] {
		entry := c.index[e.key]
		c.deleteBlob(e.key, entry.Format)
		delete(c.index, e.key)
		c.log.Debug("cache entry evicted", "key", e.key)
	}
	c.persistIndex()
}

// Invalidate removes one entry. Reports whether anything was removed.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.index[key]
	if !ok {
		if path, _, found := c.findLooseBlob(key); found {
			if err := os.Remove(path); err != nil {
				c.log.Warn("cache blob delete failed", "path", path, "error", err)
			}
			return true
		}
		return false
	}
	c.removeLocked(key, entry)
	return true
}

// Clear deletes every blob and empties the index.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.index {
		c.deleteBlob(key, entry.Format)
	}
	c.index = make(map[string]Entry)
	c.persistIndex()
	return nil
}

// CleanupOld removes blobs older than maxAge (zero means the configured
// bound) by filesystem mtime and drops index entries whose blob is missing.
// Returns the number of entries removed.
func (c *Cache) CleanupOld(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = c.cfg.MaxAge
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.index {
		path := c.blobPath(key, entry.Format)
		fi, err := os.Stat(path)
		if err != nil {
			delete(c.index, key)
			removed++
			continue
		}
		if maxAge > 0 && time.Since(fi.ModTime()) > maxAge {
			c.deleteBlob(key, entry.Format)
			delete(c.index, key)
			removed++
		}
	}
	if removed > 0 {
		c.persistIndex()
	}
	return removed
}

// Export copies every blob into dir under a human-readable name:
// <engine>_<lang>_<fingerprint>.<format>, with engine and lang taken from
// entry metadata. Returns the number of files written.
func (c *Cache) Export(dir string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("cache: create export dir: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	written := 0
	for key, entry := range c.index {
		data, err := os.ReadFile(c.blobPath(key, entry.Format))
		if err != nil {
			c.log.Warn("cache export skipped unreadable blob", "key", key, "error", err)
			continue
		}
		engineName := entry.Metadata["engine"]
		if engineName == "" {
			engineName = AutoEngine
		}
		lang := entry.Metadata["lang"]
		if lang == "" {
			lang = "unknown"
		}
		name := fmt.Sprintf("%s_%s_%s.%s", engineName, lang, key, entry.Format)
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return written, fmt.Errorf("cache: export %s: %w", name, err)
		}
		written++
	}
	return written, nil
}

// Stats summarises the cache contents and hit counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		FileCount:     len(c.index),
		MaxEntries:    c.cfg.MaxEntries,
		MaxAgeSeconds: c.cfg.MaxAge.Seconds(),
		Hits:          c.hits,
		Misses:        c.misses,
	}
	for _, entry := range c.index {
		s.TotalSizeBytes += entry.Size
	}
	s.TotalSizeMB = float64(s.TotalSizeBytes) / (1024 * 1024)
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// removeLocked deletes one entry's blob and index record and persists.
// Called with the mutex held.
func (c *Cache) removeLocked(key string, entry Entry) {
	c.deleteBlob(key, entry.Format)
	delete(c.index, key)
	c.persistIndex()
}

// deleteBlob removes a blob file best-effort; deletion errors are logged,
// never raised.
func (c *Cache) deleteBlob(key, format string) {
	path := c.blobPath(key, format)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.log.Warn("cache blob delete failed", "path", path, "error", err)
	}
}

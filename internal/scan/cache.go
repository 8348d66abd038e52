package scan

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"review-triage/internal/config"
	"review-triage/internal/domain"
)

// cacheKey identifies one (file, scanner) pair. Paths are normalized before
// keying so diff-style and scanner-style spellings collide correctly.
type cacheKey struct {
	path    string
	scanner string
}

type cacheEntry struct {
	key         cacheKey
	contentHash string
	issues      []domain.ScannerIssue
	storedAt    time.Time
}

// Cache memoizes scanner results per (path, scanner). An entry is only served
// while the content hash still matches and the TTL has not elapsed; above
// MaxEntries the least recently used entry is evicted.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[cacheKey]*list.Element
	order      *list.List // front = most recently used

	now func() time.Time
}

// NewCache creates a cache from config, falling back to the documented
// defaults for unset values.
func NewCache(cfg config.ScanCacheConfig) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[cacheKey]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
}

// HashContent returns the cache's content fingerprint: SHA-256 over the
// UTF-8 bytes, hex encoded.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached issues for (path, scanner) when the stored hash
// matches the current content and the entry is fresh. A stale or mismatched
// entry is dropped immediately so Len reflects only servable entries.
func (c *Cache) Get(path, scanner, content string) ([]domain.ScannerIssue, bool) {
	key := cacheKey{path: domain.NormalizePath(path), scanner: scanner}
	hash := HashContent(content)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)

	if entry.contentHash != hash || c.now().Sub(entry.storedAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.entries, key)
		return nil, false
	}

	c.order.MoveToFront(elem)
	issues := make([]domain.ScannerIssue, len(entry.issues))
	copy(issues, entry.issues)
	return issues, true
}

// Set stores the issues for (path, scanner, content), evicting the least
// recently used entry when the cache is full.
func (c *Cache) Set(path, scanner, content string, issues []domain.ScannerIssue) {
	key := cacheKey{path: domain.NormalizePath(path), scanner: scanner}
	stored := make([]domain.ScannerIssue, len(issues))
	copy(stored, issues)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.contentHash = HashContent(content)
		entry.issues = stored
		entry.storedAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	if len(c.entries) >= c.maxEntries {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}

	entry := &cacheEntry{
		key:         key,
		contentHash: HashContent(content),
		issues:      stored,
		storedAt:    c.now(),
	}
	c.entries[key] = c.order.PushFront(entry)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pointsync/internal/db"
)

// Cache stores search results by query key. An empty slice is a cached
// "no results" answer.
type Cache interface {
	Get(ctx context.Context, key string) ([]Candidate, bool)
	Put(ctx context.Context, key string, cands []Candidate) error
}

// cacheKey returns SHA-256 hex of the case- and space-normalized query.
func cacheKey(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]Candidate
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]Candidate)}
}

// Get implements Cache.
func (m *MemoryCache) Get(_ context.Context, key string) ([]Candidate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cands, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return append([]Candidate(nil), cands...), true
}

// Put implements Cache.
func (m *MemoryCache) Put(_ context.Context, key string, cands []Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append([]Candidate{}, cands...)
	return nil
}

// Len returns the number of cached queries.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// PoolCache persists results in the geocode_cache table of a Postgres store.
type PoolCache struct {
	pool    db.Pool
	ttlDays int
}

// NewPoolCache creates a PoolCache. A ttlDays of zero never expires entries.
func NewPoolCache(pool db.Pool, ttlDays int) *PoolCache {
	return &PoolCache{pool: pool, ttlDays: ttlDays}
}

// Get implements Cache. Lookup failures are treated as misses.
func (p *PoolCache) Get(ctx context.Context, key string) ([]Candidate, bool) {
	query := "SELECT candidates FROM geocode_cache WHERE query_hash = $1"
	if p.ttlDays > 0 {
		query += fmt.Sprintf(" AND cached_at > now() - interval '%d days'", p.ttlDays)
	}

	var raw []byte
	if err := p.pool.QueryRow(ctx, query, key).Scan(&raw); err != nil {
		return nil, false
	}

	var cands []Candidate
	if err := json.Unmarshal(raw, &cands); err != nil {
		zap.L().Debug("geocode: discarding unreadable cache entry", zap.String("key", shortKey(key)), zap.Error(err))
		return nil, false
	}
	zap.L().Debug("geocode cache hit", zap.String("key", shortKey(key)), zap.Int("candidates", len(cands)))
	return cands, true
}

// Put implements Cache.
func (p *PoolCache) Put(ctx context.Context, key string, cands []Candidate) error {
	if cands == nil {
		cands = []Candidate{}
	}
	raw, err := json.Marshal(cands)
	if err != nil {
		return eris.Wrap(err, "geocode: encode cache entry")
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO geocode_cache (query_hash, candidates, cached_at)
		VALUES ($1, $2, now())
		ON CONFLICT (query_hash) DO UPDATE SET
			candidates = EXCLUDED.candidates,
			cached_at = now()`,
		key, raw,
	)
	if err != nil {
		return eris.Wrap(err, "geocode: store cache")
	}
	return nil
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

package retrieval

import (
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"mnemex/internal/config"
	"mnemex/internal/types"
)

// writeInvalidates declares, for each write operation, the cached read
// operations it makes stale — the "static invalidation map per memory kind"
// from spec.md: store/update/forget can each change what recall or
// graph_query would return, so both reads are dropped on any write.
var writeInvalidates = map[string][]string{
	"store":  {"recall", "graph_query"},
	"update": {"recall", "graph_query"},
	"forget": {"recall", "graph_query"},
}

// ResultCache is the router's LRU over (operation, normalized args), scoped
// per project so one project's writes never evict another project's reads.
// Grounded on the teacher's KeywordHitCache (map + mutex + TTL + max size,
// oldest-first eviction) but backed by hashicorp/golang-lru's expirable LRU
// for proper least-recently-used (rather than oldest-inserted) eviction.
type ResultCache struct {
	mu      sync.Mutex
	byProj  map[string]*lru.LRU[string, []types.RecallResult]
	maxSize int
	ttl     time.Duration
	enabled bool
}

// NewResultCache builds a cache from cfg. A disabled cache still accepts
// Get/Set/Invalidate calls but never actually stores anything, so callers
// don't need an enabled check of their own.
func NewResultCache(cfg config.CacheConfig) *ResultCache {
	ttl := time.Duration(cfg.DefaultTTLMs) * time.Millisecond
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 50_000
	}
	return &ResultCache{
		byProj:  make(map[string]*lru.LRU[string, []types.RecallResult]),
		maxSize: maxSize,
		ttl:     ttl,
		enabled: cfg.Enabled,
	}
}

func (c *ResultCache) projectCache(projectID string) *lru.LRU[string, []types.RecallResult] {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.byProj[projectID]
	if !ok {
		pc = lru.NewLRU[string, []types.RecallResult](c.maxSize, nil, c.ttl)
		c.byProj[projectID] = pc
	}
	return pc
}

// cacheKey normalizes an operation and its arguments into one lookup key.
func cacheKey(operation string, args ...any) string {
	var b strings.Builder
	b.WriteString(operation)
	for _, a := range args {
		b.WriteByte('|')
		fmt.Fprint(&b, a)
	}
	return b.String()
}

// Get returns a cached result list for (projectID, operation, args), if one
// is present and not yet expired.
func (c *ResultCache) Get(projectID, operation string, args ...any) ([]types.RecallResult, bool) {
	if !c.enabled {
		return nil, false
	}
	return c.projectCache(projectID).Get(cacheKey(operation, args...))
}

// Set stores a result list for (projectID, operation, args).
func (c *ResultCache) Set(projectID, operation string, results []types.RecallResult, args ...any) {
	if !c.enabled {
		return
	}
	c.projectCache(projectID).Add(cacheKey(operation, args...), results)
}

// InvalidateWrite drops every cache entry in projectID for a read operation
// that depends on writeOp, per writeInvalidates.
func (c *ResultCache) InvalidateWrite(projectID, writeOp string) {
	if !c.enabled {
		return
	}
	dependents, ok := writeInvalidates[writeOp]
	if !ok {
		return
	}
	pc := c.projectCache(projectID)
	for _, key := range pc.Keys() {
		for _, dep := range dependents {
			if strings.HasPrefix(key, dep+"|") {
				pc.Remove(key)
				break
			}
		}
	}
}

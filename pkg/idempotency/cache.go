package idempotency

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/elliotchance/orderedmap/v3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Policy is the idempotency metadata a tool declares.
type Policy struct {
	// Safe tools are pure reads and are never cached.
	Safe bool
	// TTL overrides the cache default for this tool.
	TTL time.Duration
	// KeyFunc derives identity from a subset of arguments.
	KeyFunc func(args map[string]interface{}) string
}

// Tool is what the cache needs to know about a tool.
type Tool interface {
	ToolName() string
	IdempotencyPolicy() *Policy
}

// Cacheable reports whether results of tool may be cached.
func Cacheable(tool Tool) bool {
	if tool == nil {
		return false
	}
	policy := tool.IdempotencyPolicy()
	return policy != nil && !policy.Safe
}

// Config configures the cache.
type Config struct {
	// DefaultTTL applies to tools without their own TTL (default 5m).
	DefaultTTL time.Duration
	// MaxEntries bounds the cache; the oldest insertion is evicted first (default 1000).
	MaxEntries int

	Logger zerolog.Logger
	Now    func() time.Time
}

// Stats describes cache effectiveness.
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64
}

type entry struct {
	tool      string
	value     interface{}
	expiresAt time.Time
}

// Cache stores results of non-safe tool calls keyed by (tool, argument identity).
type Cache struct {
	defaultTTL time.Duration
	maxEntries int
	now        func() time.Time
	logger     zerolog.Logger

	mu        sync.Mutex
	entries   *orderedmap.OrderedMap[string, *entry]
	hits      int64
	misses    int64
	evictions int64

	janitor *cron.Cron
}

// New creates an empty cache.
func New(cfg Config) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Cache{
		defaultTTL: cfg.DefaultTTL,
		maxEntries: cfg.MaxEntries,
		now:        cfg.Now,
		logger:     cfg.Logger.With().Str("component", "idempotency").Logger(),
		entries:    orderedmap.NewOrderedMap[string, *entry](),
	}
}

// GenerateKey returns the identity of args for tool. Field order never affects it.
func (c *Cache) GenerateKey(tool Tool, args map[string]interface{}) string {
	return GenerateKey(tool, args)
}

// GenerateKey is the cache key derivation without a cache instance.
func GenerateKey(tool Tool, args map[string]interface{}) string {
	if tool != nil {
		if policy := tool.IdempotencyPolicy(); policy != nil && policy.KeyFunc != nil {
			return policy.KeyFunc(args)
		}
	}
	return HashArgs(args)
}

// HashArgs hashes a canonical encoding of args. Map keys are encoded sorted.
func HashArgs(args map[string]interface{}) string {
	if args == nil {
		args = map[string]interface{}{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		// fmt prints map keys sorted as well
		data = []byte(fmt.Sprintf("%#v", args))
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

// Get returns the cached result for the call, if present and unexpired.
func (c *Cache) Get(tool Tool, args map[string]interface{}) (interface{}, bool) {
	if !Cacheable(tool) {
		return nil, false
	}
	key := c.entryKey(tool, args)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.entries.Delete(key)
		c.misses++
		return nil, false
	}

	c.hits++
	return e.value, true
}

// Has reports whether an unexpired entry exists without touching hit counters.
func (c *Cache) Has(tool Tool, args map[string]interface{}) bool {
	if !Cacheable(tool) {
		return false
	}
	key := c.entryKey(tool, args)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key)
	return ok && c.now().Before(e.expiresAt)
}

// Set stores result for the call. Safe tools and tools without a policy are ignored.
func (c *Cache) Set(tool Tool, args map[string]interface{}, result interface{}) {
	if !Cacheable(tool) {
		return
	}
	ttl := c.defaultTTL
	if policy := tool.IdempotencyPolicy(); policy.TTL > 0 {
		ttl = policy.TTL
	}
	key := c.entryKey(tool, args)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-inserting moves the entry to the back of the eviction order.
	c.entries.Delete(key)
	for c.entries.Len() >= c.maxEntries {
		oldest := c.entries.Front()
		if oldest == nil {
			break
		}
		c.entries.Delete(oldest.Key)
		c.evictions++
	}

	c.entries.Set(key, &entry{
		tool:      tool.ToolName(),
		value:     result,
		expiresAt: c.now().Add(ttl),
	})
}

// Invalidate removes the entry for one call.
func (c *Cache) Invalidate(tool Tool, args map[string]interface{}) {
	if tool == nil {
		return
	}
	key := c.entryKey(tool, args)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Delete(key)
}

// InvalidateTool removes every entry belonging to tool and returns how many were removed.
func (c *Cache) InvalidateTool(toolName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var doomed []string
	for el := c.entries.Front(); el != nil; el = el.Next() {
		if el.Value.tool == toolName {
			doomed = append(doomed, el.Key)
		}
	}
	for _, key := range doomed {
		c.entries.Delete(key)
	}
	return len(doomed)
}

// PurgeExpired drops every expired entry and returns how many were removed.
func (c *Cache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var doomed []string
	for el := c.entries.Front(); el != nil; el = el.Next() {
		if !now.Before(el.Value.expiresAt) {
			doomed = append(doomed, el.Key)
		}
	}
	for _, key := range doomed {
		c.entries.Delete(key)
	}
	return len(doomed)
}

// Clear removes all entries and resets counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = orderedmap.NewOrderedMap[string, *entry]()
	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

// Stats returns entry count, hits, misses and hit rate.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Entries:   c.entries.Len(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// StartJanitor purges expired entries on a cron schedule such as "@every 1m".
func (c *Cache) StartJanitor(schedule string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.janitor != nil {
		return fmt.Errorf("janitor already running")
	}

	janitor := cron.New()
	if _, err := janitor.AddFunc(schedule, func() {
		if removed := c.PurgeExpired(); removed > 0 {
			c.logger.Debug().Int("removed", removed).Msg("Purged expired idempotency entries")
		}
	}); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	janitor.Start()
	c.janitor = janitor
	return nil
}

// Stop halts the janitor and waits for a running purge to finish.
func (c *Cache) Stop() {
	c.mu.Lock()
	janitor := c.janitor
	c.janitor = nil
	c.mu.Unlock()

	if janitor != nil {
		<-janitor.Stop().Done()
	}
}

func (c *Cache) entryKey(tool Tool, args map[string]interface{}) string {
	return CallKey(tool, args)
}

// CallKey identifies one call: the tool name joined with GenerateKey.
func CallKey(tool Tool, args map[string]interface{}) string {
	return tool.ToolName() + "\x00" + GenerateKey(tool, args)
}

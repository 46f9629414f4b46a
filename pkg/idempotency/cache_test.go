package idempotency

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTool struct {
	name   string
	policy *Policy
}

func (t testTool) ToolName() string            { return t.name }
func (t testTool) IdempotencyPolicy() *Policy { return t.policy }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(clock *fakeClock, maxEntries int) *Cache {
	return New(Config{
		DefaultTTL: time.Minute,
		MaxEntries: maxEntries,
		Logger:     zerolog.Nop(),
		Now:        clock.Now,
	})
}

func TestCache_SetThenGetUntilExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cache := newTestCache(clock, 10)
	sendEmail := testTool{name: "send_email", policy: &Policy{TTL: 10 * time.Second}}
	args := map[string]interface{}{"to": "a@example.com", "body": "hi"}

	cache.Set(sendEmail, args, "sent:1")

	value, ok := cache.Get(sendEmail, args)
	require.True(t, ok)
	assert.Equal(t, "sent:1", value)
	assert.True(t, cache.Has(sendEmail, args))

	clock.Advance(10 * time.Second)
	value, ok = cache.Get(sendEmail, args)
	assert.False(t, ok)
	assert.Nil(t, value)
	assert.Equal(t, 0, cache.Stats().Entries, "expired entry removed lazily")
}

func TestCache_DefaultTTLApplies(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cache := newTestCache(clock, 10)
	tool := testTool{name: "create_ticket", policy: &Policy{}}
	args := map[string]interface{}{"title": "bug"}

	cache.Set(tool, args, 1)
	clock.Advance(59 * time.Second)
	_, ok := cache.Get(tool, args)
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = cache.Get(tool, args)
	assert.False(t, ok)
}

func TestCache_SafeAndUndeclaredToolsNeverCached(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cache := newTestCache(clock, 10)
	args := map[string]interface{}{"path": "/tmp"}

	for _, tool := range []testTool{
		{name: "read_file", policy: &Policy{Safe: true}},
		{name: "list_dir"},
	} {
		cache.Set(tool, args, "listing")
		_, ok := cache.Get(tool, args)
		assert.False(t, ok, tool.name)
		assert.False(t, cache.Has(tool, args), tool.name)
	}

	assert.Equal(t, 0, cache.Stats().Entries)
	assert.False(t, Cacheable(nil))
}

func TestCache_ToolsDoNotCollide(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cache := newTestCache(clock, 10)
	args := map[string]interface{}{"id": 7}

	a := testTool{name: "delete_user", policy: &Policy{}}
	b := testTool{name: "delete_order", policy: &Policy{}}

	cache.Set(a, args, "user deleted")
	cache.Set(b, args, "order deleted")

	va, _ := cache.Get(a, args)
	vb, _ := cache.Get(b, args)
	assert.Equal(t, "user deleted", va)
	assert.Equal(t, "order deleted", vb)
}

func TestCache_GenerateKeyIgnoresFieldOrder(t *testing.T) {
	cache := New(Config{})
	tool := testTool{name: "charge", policy: &Policy{}}

	k1 := cache.GenerateKey(tool, map[string]interface{}{"a": 1, "b": 2})
	k2 := cache.GenerateKey(tool, map[string]interface{}{"b": 2, "a": 1})
	k3 := cache.GenerateKey(tool, map[string]interface{}{"a": 1, "b": 3})

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)

	nested1 := HashArgs(map[string]interface{}{"opts": map[string]interface{}{"x": 1, "y": []interface{}{1, 2}}})
	nested2 := HashArgs(map[string]interface{}{"opts": map[string]interface{}{"y": []interface{}{1, 2}, "x": 1}})
	assert.Equal(t, nested1, nested2)

	assert.Equal(t, HashArgs(nil), HashArgs(map[string]interface{}{}))
}

func TestCache_GenerateKeyUsesKeyFunc(t *testing.T) {
	cache := New(Config{})
	tool := testTool{name: "charge", policy: &Policy{
		KeyFunc: func(args map[string]interface{}) string {
			return fmt.Sprint(args["order_id"])
		},
	}}

	assert.Equal(t, "42", cache.GenerateKey(tool, map[string]interface{}{"order_id": 42, "note": "x"}))

	cache.Set(tool, map[string]interface{}{"order_id": 42, "note": "first"}, "charged")
	value, ok := cache.Get(tool, map[string]interface{}{"order_id": 42, "note": "retry"})
	require.True(t, ok)
	assert.Equal(t, "charged", value)
}

func TestCache_NonSerializableArgsStillKeyed(t *testing.T) {
	ch := make(chan int)
	key := HashArgs(map[string]interface{}{"ch": ch})
	assert.NotEmpty(t, key)
}

func TestCache_EvictsOldestInsertion(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cache := newTestCache(clock, 2)
	tool := testTool{name: "write", policy: &Policy{}}

	first := map[string]interface{}{"n": 1}
	second := map[string]interface{}{"n": 2}
	third := map[string]interface{}{"n": 3}

	cache.Set(tool, first, 1)
	cache.Set(tool, second, 2)

	// Reading does not refresh position: this is not an LRU.
	_, ok := cache.Get(tool, first)
	require.True(t, ok)

	cache.Set(tool, third, 3)

	assert.False(t, cache.Has(tool, first))
	assert.True(t, cache.Has(tool, second))
	assert.True(t, cache.Has(tool, third))

	stats := cache.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, int64(1), stats.Evictions)
}

func TestCache_InvalidateAndInvalidateTool(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cache := newTestCache(clock, 10)
	a := testTool{name: "a", policy: &Policy{}}
	b := testTool{name: "b", policy: &Policy{}}

	cache.Set(a, map[string]interface{}{"n": 1}, 1)
	cache.Set(a, map[string]interface{}{"n": 2}, 2)
	cache.Set(b, map[string]interface{}{"n": 1}, 3)

	cache.Invalidate(a, map[string]interface{}{"n": 1})
	assert.False(t, cache.Has(a, map[string]interface{}{"n": 1}))
	assert.True(t, cache.Has(a, map[string]interface{}{"n": 2}))

	assert.Equal(t, 1, cache.InvalidateTool("a"))
	assert.False(t, cache.Has(a, map[string]interface{}{"n": 2}))
	assert.True(t, cache.Has(b, map[string]interface{}{"n": 1}))

	cache.Clear()
	assert.Equal(t, Stats{}, cache.Stats())
}

func TestCache_StatsHitRate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cache := newTestCache(clock, 10)
	tool := testTool{name: "t", policy: &Policy{}}
	args := map[string]interface{}{"k": "v"}

	_, _ = cache.Get(tool, args)
	cache.Set(tool, args, "v")
	_, _ = cache.Get(tool, args)
	_, _ = cache.Get(tool, args)
	_, _ = cache.Get(tool, args)

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.75, stats.HitRate, 1e-9)
}

func TestCache_PurgeExpired(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cache := newTestCache(clock, 10)
	short := testTool{name: "short", policy: &Policy{TTL: time.Second}}
	long := testTool{name: "long", policy: &Policy{TTL: time.Hour}}

	cache.Set(short, nil, 1)
	cache.Set(long, nil, 2)
	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, cache.PurgeExpired())
	assert.Equal(t, 1, cache.Stats().Entries)
}

func TestCache_Janitor(t *testing.T) {
	cache := New(Config{Logger: zerolog.Nop()})
	defer cache.Stop()

	require.NoError(t, cache.StartJanitor("@every 1m"))
	assert.Error(t, cache.StartJanitor("@every 1m"))

	cache.Stop()
	assert.Error(t, cache.StartJanitor("not a schedule"))
}

package kernel

import (
	"context"
	"log"
	"sync"

	"github.com/fernwer/Duet/engine"
	"github.com/fernwer/Duet/metrics"
	"github.com/lib/pq/oid"
)

// DefaultPlanCacheSize is the number of plans kept before eviction
const DefaultPlanCacheSize = 50

// Preparer creates plans and reports whether a cached plan is still usable
type Preparer interface {
	Prepare(ctx context.Context, template string, argTypes []oid.Oid) (*engine.Plan, error)
	PlanValid(p *engine.Plan) bool
}

// EvictionPolicy decides which cached plans to release when the cache is
// full. Implementations are called with the cache lock held.
type EvictionPolicy interface {
	// Touch records a use of key
	Touch(key string)
	// Victims returns the keys to release from a full cache holding keys
	Victims(keys []string) []string
	// Forget drops any state kept for key
	Forget(key string)
}

// FlushAll evicts every cached plan once the cache is full
type FlushAll struct{}

func (FlushAll) Touch(string)                   {}
func (FlushAll) Victims(keys []string) []string { return keys }
func (FlushAll) Forget(string)                  {}

type cacheEntry struct {
	plan     *engine.Plan
	argTypes []oid.Oid
}

// PlanCache maps SQL text to prepared plans. It is safe for concurrent use.
type PlanCache struct {
	mu       sync.Mutex
	preparer Preparer
	capacity int
	policy   EvictionPolicy
	entries  map[string]*cacheEntry
	closed   bool
}

// NewPlanCache creates a plan cache holding at most capacity plans. A nil
// policy flushes the whole cache when it fills up.
func NewPlanCache(p Preparer, capacity int, policy EvictionPolicy) *PlanCache {
	if capacity <= 0 {
		capacity = DefaultPlanCacheSize
	}
	if policy == nil {
		policy = FlushAll{}
	}
	return &PlanCache{
		preparer: p,
		capacity: capacity,
		policy:   policy,
		entries:  make(map[string]*cacheEntry),
	}
}

// Prepare returns the cached plan for sqlText, preparing it with argTypes
// on a miss. A stale plan is dropped and prepared again.
func (c *PlanCache) Prepare(ctx context.Context, sqlText string, argTypes []oid.Oid) (*engine.Plan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCacheClosed
	}

	if e, ok := c.entries[sqlText]; ok {
		if c.preparer.PlanValid(e.plan) {
			metrics.PlanCacheHits.Inc()
			c.policy.Touch(sqlText)
			return e.plan, nil
		}
		metrics.PlanCacheStale.Inc()
		c.remove(sqlText)
	} else {
		metrics.PlanCacheMisses.Inc()
	}

	plan, err := c.preparer.Prepare(ctx, sqlText, argTypes)
	if err != nil {
		return nil, batchError("prepare", err)
	}

	if len(c.entries) >= c.capacity {
		c.evict()
	}
	c.entries[sqlText] = &cacheEntry{plan: plan, argTypes: plan.ArgTypes()}
	c.policy.Touch(sqlText)
	metrics.PlanCacheEntries.Set(float64(len(c.entries)))
	return plan, nil
}

func (c *PlanCache) evict() {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	victims := c.policy.Victims(keys)
	log.Printf("[PlanCache] Cache full (%d plans), evicting %d", len(c.entries), len(victims))
	for _, k := range victims {
		c.remove(k)
		metrics.PlanCacheEvictions.Inc()
	}
}

// remove closes and forgets one entry; the caller holds c.mu
func (c *PlanCache) remove(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if err := e.plan.Close(); err != nil {
		log.Printf("[PlanCache] Warning: closing plan for %q: %v", e.plan.SQL(), err)
	}
	delete(c.entries, key)
	c.policy.Forget(key)
	metrics.PlanCacheEntries.Set(float64(len(c.entries)))
}

// Len returns the number of cached plans
func (c *PlanCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear releases every cached plan. The cache stays usable.
func (c *PlanCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		c.remove(k)
	}
}

// Shutdown releases every cached plan and rejects later Prepare calls
func (c *PlanCache) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		c.remove(k)
	}
	c.closed = true
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package cache implements the hierarchical, category-scoped in-memory
// cache the feature modules read through. Entries carry a TTL and an
// access history; writes to any one key are serialized by a per-key lock;
// categories form an invalidation graph so a change to guild data can
// cascade into the rosters and events computed from it. A maintenance
// pass recomputes the hot-key set and schedules predictive preloads for
// entries likely to be read again soon.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Category names a cache namespace with a shared default TTL and
// invalidation edges. The set is closed.
type Category string

const (
	CategoryGuildData       Category = "guild_data"
	CategoryUserData        Category = "user_data"
	CategoryEventsData      Category = "events_data"
	CategoryRosterData      Category = "roster_data"
	CategoryStaticData      Category = "static_data"
	CategoryDiscordEntities Category = "discord_entities"
	CategoryTemporary       Category = "temporary"
)

// DefaultTTL applies when no category default exists.
const DefaultTTL = time.Hour

// categoryTTLs holds the per-category default TTLs.
var categoryTTLs = map[Category]time.Duration{
	CategoryGuildData:       24 * time.Hour,
	CategoryUserData:        2 * time.Hour,
	CategoryEventsData:      25 * time.Hour,
	CategoryRosterData:      7 * time.Hour,
	CategoryStaticData:      25 * time.Hour,
	CategoryDiscordEntities: 2 * time.Hour,
	CategoryTemporary:       5 * time.Minute,
}

// TTLFor returns the default TTL for a category.
func TTLFor(category Category) time.Duration {
	if ttl, ok := categoryTTLs[category]; ok {
		return ttl
	}
	return DefaultTTL
}

// hotSetSize bounds the recomputed hot-key set.
const hotSetSize = 50

// activityTrackerSize bounds the per-guild activity LRU. Entries expire
// after an hour so "most active" always means the last hour.
const activityTrackerSize = 256

// categoryStats are the per-category counters exposed by Metrics.
type categoryStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Sets   uint64 `json:"sets"`
	Size   int64  `json:"size"`
}

// Cache is the shared cache instance. One is created by the host at
// process start and handed to every component.
type Cache struct {
	// mu guards the entries and keyLocks maps. Logical operations on a
	// key hold that key's lock; mu is only held for short structural
	// sections inside.
	mu       sync.Mutex
	entries  map[string]*Entry
	keyLocks map[string]*keyLock

	statsMu  sync.Mutex
	catStats map[Category]*categoryStats

	hits               atomic.Uint64
	misses             atomic.Uint64
	sets               atomic.Uint64
	evictions          atomic.Uint64
	cleanups           atomic.Uint64
	preloadsSuccessful atomic.Uint64
	preloadsWasted     atomic.Uint64
	predictionsCorrect atomic.Uint64
	predictionsTotal   atomic.Uint64

	// invalidation graph: trigger category -> categories to cascade.
	// Append-only at runtime, safe for concurrent reads under graphMu.
	graphMu sync.RWMutex
	graph   map[Category][]Category

	hotMu   sync.RWMutex
	hotKeys map[string]struct{}

	// preloads tracks in-flight preload tasks by cache key. At most one
	// per key at any time.
	preloadMu sync.Mutex
	preloads  map[string]*preloadTask

	refreshMu  sync.RWMutex
	refreshers map[Category]RefreshFunc

	// activity tracks per-guild read counts over the last hour, feeding
	// the common-key preload of the maintenance pass.
	activity *expirable.LRU[int64, *atomic.Int64]

	logger hclog.Logger
	now    func() time.Time
}

// New returns an empty cache seeded with the initial invalidation rules.
func New(logger hclog.Logger) *Cache {
	c := &Cache{
		entries:    make(map[string]*Entry),
		keyLocks:   make(map[string]*keyLock),
		catStats:   make(map[Category]*categoryStats),
		graph:      make(map[Category][]Category),
		hotKeys:    make(map[string]struct{}),
		preloads:   make(map[string]*preloadTask),
		refreshers: make(map[Category]RefreshFunc),
		activity:   expirable.NewLRU[int64, *atomic.Int64](activityTrackerSize, nil, time.Hour),
		logger:     logger.Named("cache"),
		now:        time.Now,
	}

	c.AddInvalidationRule(CategoryRosterData, CategoryEventsData)
	c.AddInvalidationRule(CategoryGuildData, CategoryRosterData, CategoryEventsData)
	c.AddInvalidationRule(CategoryUserData, CategoryRosterData)

	return c
}

// Key builds the composite cache key: category:arg1:arg2:... with nil
// arguments dropped. Keys are opaque to callers.
func Key(category Category, args ...interface{}) string {
	var sb strings.Builder
	sb.WriteString(string(category))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		sb.WriteByte(':')
		fmt.Fprintf(&sb, "%v", arg)
	}
	return sb.String()
}

// keyLock serializes operations on one key. refs counts the goroutines
// currently holding or waiting on the lock so an uncontended lock can be
// pruned alongside its entry instead of living forever.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// acquireKey returns the locked per-key mutex, creating it on first use.
// Every acquireKey must be paired with releaseKey.
func (c *Cache) acquireKey(key string) *keyLock {
	c.mu.Lock()
	kl, ok := c.keyLocks[key]
	if !ok {
		kl = new(keyLock)
		c.keyLocks[key] = kl
	}
	kl.refs++
	c.mu.Unlock()

	kl.mu.Lock()
	return kl
}

// releaseKey unlocks the per-key mutex and prunes it once nobody holds a
// reference and the key has no entry. A waiter always increments refs
// before blocking, so a pruned lock is never handed out again.
func (c *Cache) releaseKey(key string, kl *keyLock) {
	kl.mu.Unlock()

	c.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		if _, ok := c.entries[key]; !ok {
			delete(c.keyLocks, key)
		}
	}
	c.mu.Unlock()
}

func (c *Cache) stats(category Category) *categoryStats {
	st, ok := c.catStats[category]
	if !ok {
		st = &categoryStats{}
		c.catStats[category] = st
	}
	return st
}

// Get looks up a value. Expired entries are evicted and count as misses.
func (c *Cache) Get(category Category, args ...interface{}) (interface{}, bool) {
	key := Key(category, args...)
	kl := c.acquireKey(key)
	defer c.releaseKey(key, kl)

	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		c.statsMu.Lock()
		c.stats(category).Misses++
		c.statsMu.Unlock()
		metrics.IncrCounter([]string{"guildhall", "cache", "miss"}, 1)
		return nil, false
	}

	if entry.expired(now) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()

		c.misses.Add(1)
		c.evictions.Add(1)
		c.statsMu.Lock()
		st := c.stats(category)
		st.Misses++
		st.Size--
		c.statsMu.Unlock()
		metrics.IncrCounter([]string{"guildhall", "cache", "eviction"}, 1)
		return nil, false
	}

	// Score the previous prediction before this access replaces it.
	if !entry.predictedNext.IsZero() {
		c.predictionsTotal.Add(1)
		tolerance := entry.ttl / 10
		diff := now.Sub(entry.predictedNext)
		if diff < 0 {
			diff = -diff
		}
		if diff <= tolerance {
			c.predictionsCorrect.Add(1)
		}
	}

	entry.recordAccess(now)

	c.hits.Add(1)
	c.statsMu.Lock()
	c.stats(category).Hits++
	c.statsMu.Unlock()
	metrics.IncrCounter([]string{"guildhall", "cache", "hit"}, 1)

	return entry.value, true
}

// Set stores a value under the category's default TTL.
func (c *Cache) Set(category Category, value interface{}, args ...interface{}) {
	c.SetWithTTL(category, value, TTLFor(category), args...)
}

// SetWithTTL stores a value with an explicit TTL, replacing any previous
// entry under the key.
func (c *Cache) SetWithTTL(category Category, value interface{}, ttl time.Duration, args ...interface{}) {
	key := Key(category, args...)
	kl := c.acquireKey(key)
	defer c.releaseKey(key, kl)

	now := c.now()

	c.mu.Lock()
	_, existed := c.entries[key]
	c.entries[key] = newEntry(value, category, ttl, now)
	c.mu.Unlock()

	c.sets.Add(1)
	c.statsMu.Lock()
	st := c.stats(category)
	st.Sets++
	if !existed {
		st.Size++
	}
	c.statsMu.Unlock()
	metrics.IncrCounter([]string{"guildhall", "cache", "set"}, 1)
}

// Delete removes the entry if present, reporting whether it existed.
func (c *Cache) Delete(category Category, args ...interface{}) bool {
	key := Key(category, args...)
	kl := c.acquireKey(key)
	defer c.releaseKey(key, kl)

	c.mu.Lock()
	_, existed := c.entries[key]
	if existed {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if existed {
		c.statsMu.Lock()
		c.stats(category).Size--
		c.statsMu.Unlock()
	}
	return existed
}

// InvalidateCategory removes every entry tagged with the category and
// resets its size counter. Returns the number of entries removed.
func (c *Cache) InvalidateCategory(category Category) int {
	c.mu.Lock()
	var keys []string
	for key, entry := range c.entries {
		if entry.category == category {
			keys = append(keys, key)
		}
	}
	c.mu.Unlock()

	count := 0
	for _, key := range keys {
		kl := c.acquireKey(key)
		c.mu.Lock()
		if entry, ok := c.entries[key]; ok && entry.category == category {
			delete(c.entries, key)
			count++
		}
		c.mu.Unlock()
		c.releaseKey(key, kl)
	}

	c.statsMu.Lock()
	c.stats(category).Size = 0
	c.statsMu.Unlock()

	if count > 0 {
		c.logger.Debug("invalidated category", "category", category, "count", count)
	}
	return count
}

// InvalidateRelated cascades into every category downstream of the
// trigger in the invalidation graph. Returns the total entries removed.
func (c *Cache) InvalidateRelated(trigger Category) int {
	c.graphMu.RLock()
	affected := c.graph[trigger]
	c.graphMu.RUnlock()

	total := 0
	for _, category := range affected {
		total += c.InvalidateCategory(category)
	}
	return total
}

// AddInvalidationRule unions the affected categories into the graph edge
// for trigger. The graph is append-only; rules are never removed.
func (c *Cache) AddInvalidationRule(trigger Category, affected ...Category) {
	c.graphMu.Lock()
	defer c.graphMu.Unlock()

	existing := c.graph[trigger]
	for _, cat := range affected {
		seen := false
		for _, have := range existing {
			if have == cat {
				seen = true
				break
			}
		}
		if !seen {
			existing = append(existing, cat)
		}
	}
	c.graph[trigger] = existing
}

// RecordGuildActivity bumps the guild's read counter for the activity
// tracker consumed by SmartMaintenance.
func (c *Cache) RecordGuildActivity(guildID int64) {
	counter, ok := c.activity.Get(guildID)
	if !ok {
		counter = new(atomic.Int64)
		c.activity.Add(guildID, counter)
	}
	counter.Add(1)
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

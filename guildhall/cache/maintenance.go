// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"context"
	"runtime/debug"
	"sort"
	"time"

	"github.com/hashicorp/go-uuid"
	metrics "github.com/hashicorp/go-metrics"
)

// RefreshFunc recomputes the value behind a cache key. It returns true
// when a fresh value was stored and false when the refresh turned out to
// be unnecessary (counted as a wasted preload).
type RefreshFunc func(ctx context.Context, key string) (bool, error)

// RegisterRefresher installs the category-specific refresh routine used
// by predictive preloading. The loader registers one per category it
// manages.
func (c *Cache) RegisterRefresher(category Category, fn RefreshFunc) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	c.refreshers[category] = fn
}

func (c *Cache) refresher(category Category) (RefreshFunc, bool) {
	c.refreshMu.RLock()
	defer c.refreshMu.RUnlock()
	fn, ok := c.refreshers[category]
	return fn, ok
}

type preloadTask struct {
	id     string
	key    string
	cancel context.CancelFunc
}

// CleanupExpired removes every expired entry and returns how many were
// removed. Idempotent if no entries expire in between passes.
func (c *Cache) CleanupExpired() int {
	now := c.now()

	// createdAt and ttl are immutable after creation, so the candidate
	// scan does not need the per-key locks.
	c.mu.Lock()
	var candidates []string
	for key, entry := range c.entries {
		if entry.expired(now) {
			candidates = append(candidates, key)
		}
	}
	c.mu.Unlock()

	removed := 0
	for _, key := range candidates {
		kl := c.acquireKey(key)
		c.mu.Lock()
		entry, ok := c.entries[key]
		if ok && entry.expired(now) {
			delete(c.entries, key)
			removed++
			c.statsMu.Lock()
			c.stats(entry.category).Size--
			c.statsMu.Unlock()
			c.evictions.Add(1)
		}
		c.mu.Unlock()
		c.releaseKey(key, kl)
	}

	c.cleanups.Add(1)
	if removed > 0 {
		c.logger.Debug("cleanup removed expired entries", "removed", removed)
	}
	return removed
}

// SmartMaintenance runs one best-effort maintenance pass: schedule
// preloads for hot entries predicted to be read again soon, recompute the
// hot-key set, and warm common keys for the most active guilds. Panics
// are logged and swallowed; maintenance must never take the process down.
func (c *Cache) SmartMaintenance(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in cache maintenance", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	defer metrics.MeasureSince([]string{"guildhall", "cache", "maintenance"}, time.Now())

	now := c.now()

	type scanned struct {
		key       string
		category  Category
		hot       bool
		predicted time.Time
		ttl       time.Duration
		freq      float64
	}

	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	var entries []scanned
	for _, key := range keys {
		kl := c.acquireKey(key)
		c.mu.Lock()
		entry, ok := c.entries[key]
		if ok {
			entries = append(entries, scanned{
				key:       key,
				category:  entry.category,
				hot:       entry.hot,
				predicted: entry.predictedNext,
				ttl:       entry.ttl,
				freq:      entry.frequency(now),
			})
		}
		c.mu.Unlock()
		c.releaseKey(key, kl)
	}

	// (a) schedule preloads for hot entries whose predicted next access
	// falls within 20% of the TTL from now.
	for _, e := range entries {
		if !e.hot || e.predicted.IsZero() {
			continue
		}
		until := e.predicted.Sub(now)
		if until <= 0 || until > e.ttl/5 {
			continue
		}
		fireAt := e.predicted.Add(-e.ttl / 10)
		c.schedulePreload(ctx, e.key, e.category, fireAt)
	}

	// (b) recompute the hot set: top entries by access frequency.
	sort.Slice(entries, func(i, j int) bool { return entries[i].freq > entries[j].freq })
	newHot := make(map[string]struct{}, hotSetSize)
	for i, e := range entries {
		if i >= hotSetSize {
			break
		}
		newHot[e.key] = struct{}{}
	}
	c.hotMu.Lock()
	c.hotKeys = newHot
	c.hotMu.Unlock()

	// (c) warm common keys for the most active guilds of the last hour.
	for _, guildID := range c.topActiveGuilds(3) {
		for _, category := range []Category{CategoryGuildData, CategoryRosterData} {
			key := Key(category, guildID)
			c.mu.Lock()
			_, present := c.entries[key]
			c.mu.Unlock()
			if !present {
				c.schedulePreload(ctx, key, category, now)
			}
		}
	}
}

// HotKeys returns a copy of the current hot-key set.
func (c *Cache) HotKeys() []string {
	c.hotMu.RLock()
	defer c.hotMu.RUnlock()
	out := make([]string, 0, len(c.hotKeys))
	for key := range c.hotKeys {
		out = append(out, key)
	}
	return out
}

// topActiveGuilds returns up to n guild IDs ordered by recent read count.
func (c *Cache) topActiveGuilds(n int) []int64 {
	type guildActivity struct {
		id    int64
		count int64
	}
	var all []guildActivity
	for _, id := range c.activity.Keys() {
		if counter, ok := c.activity.Peek(id); ok {
			all = append(all, guildActivity{id: id, count: counter.Load()})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].count > all[j].count })

	out := make([]int64, 0, n)
	for i, g := range all {
		if i >= n {
			break
		}
		out = append(out, g.id)
	}
	return out
}

// schedulePreload spawns the preload task for key unless one is already
// in flight. fireAt in the past fires immediately.
func (c *Cache) schedulePreload(ctx context.Context, key string, category Category, fireAt time.Time) {
	fn, ok := c.refresher(category)
	if !ok {
		return
	}

	c.preloadMu.Lock()
	if _, busy := c.preloads[key]; busy {
		c.preloadMu.Unlock()
		return
	}
	id, _ := uuid.GenerateUUID()
	taskCtx, cancel := context.WithCancel(ctx)
	task := &preloadTask{id: id, key: key, cancel: cancel}
	c.preloads[key] = task
	c.preloadMu.Unlock()

	go c.runPreload(taskCtx, task, fn, fireAt)
}

func (c *Cache) runPreload(ctx context.Context, task *preloadTask, fn RefreshFunc, fireAt time.Time) {
	defer func() {
		if r := recover(); r != nil {
			c.preloadsWasted.Add(1)
			c.logger.Error("panic in preload refresh", "key", task.key, "preload_id", task.id, "panic", r)
		}

		task.cancel()
		c.preloadMu.Lock()
		if current, ok := c.preloads[task.key]; ok && current == task {
			delete(c.preloads, task.key)
		}
		c.preloadMu.Unlock()
	}()

	if wait := fireAt.Sub(c.now()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			// Cancellation during the sleep is benign.
			return
		case <-timer.C:
		}
	}

	refreshed, err := fn(ctx, task.key)
	switch {
	case ctx.Err() != nil:
		// Cancellation during the refresh is benign and swallowed.
	case err != nil:
		c.preloadsWasted.Add(1)
		c.logger.Warn("preload refresh failed", "key", task.key, "preload_id", task.id, "error", err)
	case refreshed:
		c.preloadsSuccessful.Add(1)
		metrics.IncrCounter([]string{"guildhall", "cache", "preload_success"}, 1)
	default:
		c.preloadsWasted.Add(1)
		metrics.IncrCounter([]string{"guildhall", "cache", "preload_wasted"}, 1)
	}
}

// PreloadInFlight reports whether a preload task exists for the key.
func (c *Cache) PreloadInFlight(key string) bool {
	c.preloadMu.Lock()
	defer c.preloadMu.Unlock()
	_, ok := c.preloads[key]
	return ok
}

// MaintenanceLoop runs SmartMaintenance and CleanupExpired on their
// intervals until ctx is cancelled. Owned by the host.
func (c *Cache) MaintenanceLoop(ctx context.Context, maintenanceEvery, cleanupEvery time.Duration) {
	maintenance := time.NewTicker(maintenanceEvery)
	defer maintenance.Stop()
	cleanup := time.NewTicker(cleanupEvery)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-maintenance.C:
			c.SmartMaintenance(ctx)
		case <-cleanup.C:
			c.CleanupExpired()
		}
	}
}

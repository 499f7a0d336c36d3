// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"time"
)

// Metrics is a point-in-time snapshot of the cache counters. Individual
// counters are consistent; the vector as a whole is not guaranteed to be.
type Metrics struct {
	Hits               uint64 `json:"hits"`
	Misses             uint64 `json:"misses"`
	Sets               uint64 `json:"sets"`
	Evictions          uint64 `json:"evictions"`
	Cleanups           uint64 `json:"cleanups"`
	PreloadsSuccessful uint64 `json:"preloads_successful"`
	PreloadsWasted     uint64 `json:"preloads_wasted"`
	PredictionsCorrect uint64 `json:"predictions_correct"`
	PredictionsTotal   uint64 `json:"predictions_total"`

	HitRate float64 `json:"hit_rate"`
	Entries int     `json:"entries"`

	Categories map[Category]categoryStats `json:"categories"`
}

// Metrics snapshots the global and per-category counters.
func (c *Cache) Metrics() Metrics {
	m := Metrics{
		Hits:               c.hits.Load(),
		Misses:             c.misses.Load(),
		Sets:               c.sets.Load(),
		Evictions:          c.evictions.Load(),
		Cleanups:           c.cleanups.Load(),
		PreloadsSuccessful: c.preloadsSuccessful.Load(),
		PreloadsWasted:     c.preloadsWasted.Load(),
		PredictionsCorrect: c.predictionsCorrect.Load(),
		PredictionsTotal:   c.predictionsTotal.Load(),
		Entries:            c.Len(),
		Categories:         make(map[Category]categoryStats),
	}
	if total := m.Hits + m.Misses; total > 0 {
		m.HitRate = float64(m.Hits) / float64(total)
	}

	c.statsMu.Lock()
	for category, st := range c.catStats {
		m.Categories[category] = *st
	}
	c.statsMu.Unlock()

	return m
}

// CategoryInfo describes the live entries of one category.
type CategoryInfo struct {
	Size        int     `json:"size"`
	AvgAge      float64 `json:"avg_age_seconds"`
	AvgAccesses float64 `json:"avg_accesses"`
}

// Info describes the cache contents: per-category aggregates plus the
// oldest and newest entries by creation time.
type Info struct {
	Entries    int                       `json:"entries"`
	HotKeys    int                       `json:"hot_keys"`
	Categories map[Category]CategoryInfo `json:"categories"`
	OldestKey  string                    `json:"oldest_key"`
	NewestKey  string                    `json:"newest_key"`
}

// Info builds a content snapshot. Access counts are mutable under the
// per-key locks, so each entry is read while holding its lock, the same
// way the maintenance scan does.
func (c *Cache) Info() Info {
	now := c.now()

	type agg struct {
		size     int
		ages     time.Duration
		accesses int
	}
	byCategory := make(map[Category]*agg)

	var oldest, newest string
	var oldestAt, newestAt time.Time

	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	entries := 0
	for _, key := range keys {
		kl := c.acquireKey(key)
		c.mu.Lock()
		entry, ok := c.entries[key]
		if ok {
			entries++
			a, have := byCategory[entry.category]
			if !have {
				a = &agg{}
				byCategory[entry.category] = a
			}
			a.size++
			a.ages += entry.age(now)
			a.accesses += entry.accessCount

			if oldest == "" || entry.createdAt.Before(oldestAt) {
				oldest, oldestAt = key, entry.createdAt
			}
			if newest == "" || entry.createdAt.After(newestAt) {
				newest, newestAt = key, entry.createdAt
			}
		}
		c.mu.Unlock()
		c.releaseKey(key, kl)
	}

	info := Info{
		Entries:    entries,
		Categories: make(map[Category]CategoryInfo, len(byCategory)),
		OldestKey:  oldest,
		NewestKey:  newest,
	}

	c.hotMu.RLock()
	info.HotKeys = len(c.hotKeys)
	c.hotMu.RUnlock()

	for category, a := range byCategory {
		ci := CategoryInfo{Size: a.size}
		if a.size > 0 {
			ci.AvgAge = (a.ages / time.Duration(a.size)).Seconds()
			ci.AvgAccesses = float64(a.accesses) / float64(a.size)
		}
		info.Categories[category] = ci
	}
	return info
}

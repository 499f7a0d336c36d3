// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"time"
)

// accessRingCap bounds the per-entry ring of recent access timestamps.
const accessRingCap = 20

// hotAccessThreshold is the access count above which an entry is
// considered hot and becomes eligible for predictive preloading.
const hotAccessThreshold = 5

// minPredictionSamples is the number of access samples required before a
// next-access prediction is produced.
const minPredictionSamples = 3

// Entry is one cached value with its access history. Entries are only
// ever touched while the owning key's lock is held.
type Entry struct {
	value    interface{}
	category Category

	createdAt    time.Time
	ttl          time.Duration
	accessCount  int
	lastAccessed time.Time

	// recentAccess is a FIFO ring of the most recent access timestamps,
	// capacity accessRingCap.
	recentAccess []time.Time

	// predictedNext is the zero time until minPredictionSamples accesses
	// have been observed.
	predictedNext time.Time

	hot bool
}

func newEntry(value interface{}, category Category, ttl time.Duration, now time.Time) *Entry {
	return &Entry{
		value:     value,
		category:  category,
		createdAt: now,
		ttl:       ttl,
	}
}

// expired uses strict comparison: an entry at exactly created_at+ttl is
// still fresh.
func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// recordAccess updates the entry's counters, ring and prediction. Access
// timestamps are kept monotonically non-decreasing even if the caller's
// clock stepped backwards.
func (e *Entry) recordAccess(now time.Time) {
	if now.Before(e.lastAccessed) {
		now = e.lastAccessed
	}

	e.accessCount++
	e.lastAccessed = now
	e.hot = e.accessCount > hotAccessThreshold

	e.recentAccess = append(e.recentAccess, now)
	if len(e.recentAccess) > accessRingCap {
		e.recentAccess = e.recentAccess[1:]
	}

	e.predict()
}

// predict averages the adjacent intervals of the access ring and projects
// the next access from the newest sample.
func (e *Entry) predict() {
	if len(e.recentAccess) < minPredictionSamples {
		return
	}

	var total time.Duration
	for i := 1; i < len(e.recentAccess); i++ {
		total += e.recentAccess[i].Sub(e.recentAccess[i-1])
	}
	mean := total / time.Duration(len(e.recentAccess)-1)
	e.predictedNext = e.recentAccess[len(e.recentAccess)-1].Add(mean)
}

// age of the entry relative to now.
func (e *Entry) age(now time.Time) time.Duration {
	return now.Sub(e.createdAt)
}

// frequency is accesses per second over the entry's lifetime, with the
// age floored at one second.
func (e *Entry) frequency(now time.Time) float64 {
	age := e.age(now)
	if age < time.Second {
		age = time.Second
	}
	return float64(e.accessCount) / age.Seconds()
}

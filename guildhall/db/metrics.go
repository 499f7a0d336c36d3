// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package db

import (
	"time"

	"github.com/hashicorp/guildhall/guildhall/resilience"
)

// StatementMetrics is the exported view of one statement kind's
// aggregates.
type StatementMetrics struct {
	Count       uint64        `json:"count"`
	TotalTime   time.Duration `json:"total_time"`
	AvgTime     time.Duration `json:"avg_time"`
	SlowQueries uint64        `json:"slow_queries"`
}

// PerformanceMetrics is a snapshot of the store's observability surface:
// per-statement-kind aggregates, pool gauges, and breaker state.
type PerformanceMetrics struct {
	Statements map[string]StatementMetrics `json:"statements"`

	PoolSize int64 `json:"pool_size"`
	InFlight int64 `json:"in_flight"`
	Waiting  int64 `json:"waiting"`

	Breaker resilience.Snapshot `json:"breaker"`
}

// PerformanceMetrics snapshots the store counters.
func (s *Store) PerformanceMetrics() PerformanceMetrics {
	pm := PerformanceMetrics{
		Statements: make(map[string]StatementMetrics),
		PoolSize:   s.poolSize,
		InFlight:   s.inFlight.Load(),
		Waiting:    s.waiting.Load(),
		Breaker:    s.breaker.Snapshot(),
	}

	s.statsMu.Lock()
	for kind, st := range s.stats {
		m := StatementMetrics{
			Count:       st.Count,
			TotalTime:   st.TotalTime,
			SlowQueries: st.SlowQueries,
		}
		if st.Count > 0 {
			m.AvgTime = st.TotalTime / time.Duration(st.Count)
		}
		pm.Statements[kind] = m
	}
	s.statsMu.Unlock()

	return pm
}

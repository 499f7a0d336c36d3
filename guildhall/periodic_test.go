// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package guildhall

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hashicorp/guildhall/ci"
	"github.com/hashicorp/guildhall/guildhall/registry"
	"github.com/hashicorp/guildhall/helper/testlog"
)

// stubModule counts executions per job name: distinct jobs on the same
// module (events_create and events_close both land on "events") must be
// distinguishable.
type stubModule struct {
	name      string
	mu        sync.Mutex
	runs      map[string]int
	guildRuns atomic.Int64
	err       error
	panics    bool
}

func (m *stubModule) Name() string { return m.name }

func (m *stubModule) RunJob(ctx context.Context, job string) error {
	if m.panics {
		panic("job exploded")
	}
	m.mu.Lock()
	if m.runs == nil {
		m.runs = make(map[string]int)
	}
	m.runs[job]++
	m.mu.Unlock()
	return m.err
}

func (m *stubModule) jobRuns(job string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[job]
}

type stubGuildModule struct {
	stubModule
	guildsMu sync.Mutex
	guilds   []int64
}

func (m *stubGuildModule) RunGuildJob(ctx context.Context, job string, guildID int64) error {
	m.guildRuns.Add(1)
	m.guildsMu.Lock()
	m.guilds = append(m.guilds, guildID)
	m.guildsMu.Unlock()
	return nil
}

func testScheduler(t *testing.T, mods ...registry.Module) *Scheduler {
	reg := registry.New(testlog.HCLogger(t))
	for _, m := range mods {
		reg.Register(m)
	}
	return NewScheduler(reg, time.UTC, nil, testlog.HCLogger(t))
}

// at returns a clock pinned to the given local time.
func at(hour, minute int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 8, 24, hour, minute, 0, 0, time.UTC)
	}
}

func TestScheduler_JobEligibility(t *testing.T) {
	ci.Parallel(t)

	jobs := make(map[string]*periodicJob)
	for _, j := range corePeriodicJobs() {
		jobs[j.name] = j
	}

	tick := func(hour, minute int) time.Time {
		return time.Date(2026, 8, 24, hour, minute, 0, 0, time.UTC)
	}

	require.True(t, jobEligible(jobs["epic_items_scrape"], tick(3, 30)))
	require.False(t, jobEligible(jobs["epic_items_scrape"], tick(3, 31)))
	require.True(t, jobEligible(jobs["roster_update"], tick(17, 0)))
	require.False(t, jobEligible(jobs["roster_update"], tick(18, 0)))
	require.True(t, jobEligible(jobs["events_delete"], tick(4, 30)))
	require.True(t, jobEligible(jobs["events_delete"], tick(23, 30)))
	require.True(t, jobEligible(jobs["events_close"], tick(14, 35)))
	require.False(t, jobEligible(jobs["events_close"], tick(14, 36)))
}

func TestScheduler_BucketFor(t *testing.T) {
	ci.Parallel(t)

	daily := &periodicJob{name: "d"}
	five := &periodicJob{name: "f", fiveMinute: true}
	tick := time.Date(2026, 8, 24, 14, 35, 0, 0, time.UTC)

	require.Equal(t, "2026-08-24 14:35", bucketFor(daily, tick))
	require.Equal(t, "2026-08-24 14:35:7", bucketFor(five, tick))

	// Same wall-clock slot on another day is a different bucket.
	nextDay := tick.AddDate(0, 0, 1)
	require.NotEqual(t, bucketFor(daily, tick), bucketFor(daily, nextDay))
}

func TestScheduler_TickRunsEligibleJob(t *testing.T) {
	ci.Parallel(t)

	events := &stubModule{name: "events"}
	s := testScheduler(t, events)
	s.now = at(12, 0)

	var wg sync.WaitGroup
	s.Tick(context.Background(), &wg)
	wg.Wait()

	require.Equal(t, 1, events.jobRuns("events_create"))
	require.Equal(t, 1, events.jobRuns("events_close"))

	h := s.HealthStatus()
	require.Equal(t, uint64(1), h.TaskMetrics["events_create"].Success)
	require.False(t, h.ActiveLocks["events_create"])
	require.Contains(t, h.LastExecutions, "events_create")
}

func TestScheduler_DuplicateTickDeduped(t *testing.T) {
	ci.Parallel(t)

	events := &stubModule{name: "events"}
	s := testScheduler(t, events)
	s.now = at(12, 0)

	// Two ticks landing in the same minute bucket run the job once.
	var wg sync.WaitGroup
	s.Tick(context.Background(), &wg)
	wg.Wait()
	s.Tick(context.Background(), &wg)
	wg.Wait()

	require.Equal(t, 1, events.jobRuns("events_create"))
	require.Equal(t, 1, events.jobRuns("events_close"))
	require.Equal(t, uint64(1), s.HealthStatus().TaskMetrics["events_create"].Success)
}

func TestScheduler_LockHeldSkips(t *testing.T) {
	ci.Parallel(t)

	events := &stubModule{name: "events"}
	s := testScheduler(t, events)
	s.now = at(12, 0)

	// Simulate a still-running execution from an earlier slot.
	s.locks["events_create"].Lock()
	defer s.locks["events_create"].Unlock()

	var wg sync.WaitGroup
	s.Tick(context.Background(), &wg)
	wg.Wait()

	require.Zero(t, events.jobRuns("events_create"))
	// The skip must not consume the bucket: once the lock frees, the
	// same slot may still run.
	s.mu.Lock()
	_, consumed := s.lastBucket["events_create"]
	s.mu.Unlock()
	require.False(t, consumed)
}

func TestScheduler_MissingModuleSkips(t *testing.T) {
	ci.Parallel(t)

	// No modules registered at all; every eligible job short-circuits.
	s := testScheduler(t)
	s.now = at(12, 0)

	var wg sync.WaitGroup
	s.Tick(context.Background(), &wg)
	wg.Wait()

	h := s.HealthStatus()
	require.Zero(t, h.TaskMetrics["events_create"].Success)
	require.Zero(t, h.TaskMetrics["events_create"].Failures)
}

func TestScheduler_PanicCountsAsFailure(t *testing.T) {
	ci.Parallel(t)

	events := &stubModule{name: "events", panics: true}
	s := testScheduler(t, events)
	s.now = at(12, 0)

	var wg sync.WaitGroup
	s.Tick(context.Background(), &wg)
	wg.Wait()

	h := s.HealthStatus()
	require.Equal(t, uint64(1), h.TaskMetrics["events_create"].Failures)
	require.Zero(t, h.TaskMetrics["events_create"].Success)
	require.InDelta(t, 1.0, s.FailureRate(), 0.001)
}

func TestScheduler_FanOutIteratesGuilds(t *testing.T) {
	ci.Parallel(t)

	wishlist := &stubGuildModule{stubModule: stubModule{name: "wishlist"}}
	reg := registry.New(testlog.HCLogger(t))
	reg.Register(wishlist)

	guilds := func() []int64 { return []int64{111, 222, 333} }
	s := NewScheduler(reg, time.UTC, guilds, testlog.HCLogger(t))
	s.now = at(9, 0)

	var wg sync.WaitGroup
	s.Tick(context.Background(), &wg)
	wg.Wait()

	require.Equal(t, int64(3), wishlist.guildRuns.Load())
	require.ElementsMatch(t, []int64{111, 222, 333}, wishlist.guilds)
	require.Equal(t, uint64(1), s.HealthStatus().TaskMetrics["wishlist_update"].Success)
}

func TestScheduler_FanOutWithoutGuildListerRunsOnce(t *testing.T) {
	ci.Parallel(t)

	wishlist := &stubModule{name: "wishlist"}
	s := testScheduler(t, wishlist)
	s.now = at(22, 0)

	var wg sync.WaitGroup
	s.Tick(context.Background(), &wg)
	wg.Wait()

	require.Equal(t, 1, wishlist.jobRuns("wishlist_update"))
}

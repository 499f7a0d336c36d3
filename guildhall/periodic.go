// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package guildhall

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hashicorp/cronexpr"
	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hashicorp/guildhall/guildhall/registry"
)

// fanOutConcurrency bounds how many guilds a fan-out job touches at
// once.
const fanOutConcurrency = 4

// rosterStagger paces roster fan-out so guild updates don't land on the
// chat platform in a burst.
const rosterStagger = 500 * time.Millisecond

// defaultTickWarnThreshold is the watchdog limit for a single tick's
// dispatch work.
const defaultTickWarnThreshold = 30 * time.Second

// periodicJob binds a wall-clock trigger to a feature-module job.
type periodicJob struct {
	name   string
	module string
	expr   *cronexpr.Expression

	// fiveMinute widens the dedup bucket from HH:MM to the five-minute
	// slot.
	fiveMinute bool

	// fanOut iterates guilds under the semaphore instead of one run.
	fanOut  bool
	stagger time.Duration
}

// corePeriodicJobs is the built-in job table, by local time in the
// configured timezone.
func corePeriodicJobs() []*periodicJob {
	return []*periodicJob{
		{name: "epic_items_scrape", module: "scraping", expr: cronexpr.MustParse("30 3 * * *")},
		{name: "contracts_delete", module: "contracts", expr: cronexpr.MustParse("30 6 * * *")},
		{name: "roster_update", module: "roster", expr: cronexpr.MustParse("0 5,11,17,23 * * *"), fanOut: true, stagger: rosterStagger},
		{name: "events_create", module: "events", expr: cronexpr.MustParse("0 12 * * *")},
		{name: "events_reminder", module: "events", expr: cronexpr.MustParse("0 13,18 * * *")},
		{name: "events_delete", module: "events", expr: cronexpr.MustParse("30 4,23 * * *")},
		{name: "events_close", module: "events", expr: cronexpr.MustParse("*/5 * * * *"), fiveMinute: true},
		{name: "attendance_check", module: "attendance", expr: cronexpr.MustParse("*/5 * * * *"), fiveMinute: true},
		{name: "wishlist_update", module: "wishlist", expr: cronexpr.MustParse("0 9,22 * * *"), fanOut: true},
	}
}

// TaskMetrics are the per-job execution aggregates.
type TaskMetrics struct {
	Success       uint64    `json:"success"`
	Failures      uint64    `json:"failures"`
	TotalMs       int64     `json:"total_ms"`
	LastExecution time.Time `json:"last_execution"`
}

// SchedulerHealth is the snapshot returned by HealthStatus.
type SchedulerHealth struct {
	TaskMetrics    map[string]TaskMetrics `json:"task_metrics"`
	ActiveLocks    map[string]bool        `json:"active_locks"`
	LastExecutions map[string]time.Time   `json:"last_executions"`
}

// Scheduler drives the minute tick and dispatches jobs to feature
// modules through the registry. Per-job locks prevent overlapping runs
// and the per-bucket dedup prevents a second run inside the same
// wall-clock slot.
type Scheduler struct {
	registry *registry.Registry
	jobs     []*periodicJob
	tz       *time.Location

	// guilds supplies the ids fan-out jobs iterate. Nil degrades fan-out
	// jobs to a single module run.
	guilds func() []int64

	mu         sync.Mutex
	locks      map[string]*sync.Mutex
	lockHeld   map[string]bool
	lastBucket map[string]string
	stats      map[string]*TaskMetrics

	tickWarnThreshold time.Duration

	logger hclog.Logger
	now    func() time.Time
}

// NewScheduler builds a scheduler over the core job table.
func NewScheduler(reg *registry.Registry, tz *time.Location, guilds func() []int64, logger hclog.Logger) *Scheduler {
	if tz == nil {
		tz = time.UTC
	}
	s := &Scheduler{
		registry:          reg,
		jobs:              corePeriodicJobs(),
		tz:                tz,
		guilds:            guilds,
		locks:             make(map[string]*sync.Mutex),
		lockHeld:          make(map[string]bool),
		lastBucket:        make(map[string]string),
		stats:             make(map[string]*TaskMetrics),
		tickWarnThreshold: defaultTickWarnThreshold,
		logger:            logger.Named("scheduler"),
		now:               time.Now,
	}
	for _, job := range s.jobs {
		s.locks[job.name] = new(sync.Mutex)
		s.stats[job.name] = new(TaskMetrics)
	}
	return s
}

// Run ticks once per minute until the context is cancelled. Jobs run in
// their own goroutines; Run returns only after in-flight jobs finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "jobs", len(s.jobs), "timezone", s.tz.String())

	var wg sync.WaitGroup
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx, &wg)
		}
	}
}

// Tick dispatches every job eligible at the current minute. Exported for
// the host's health probe and for tests; production ticks come from Run.
func (s *Scheduler) Tick(ctx context.Context, wg *sync.WaitGroup) {
	start := s.now()
	tick := start.In(s.tz).Truncate(time.Minute)

	for _, job := range s.jobs {
		if !jobEligible(job, tick) {
			continue
		}
		s.dispatch(ctx, wg, job, tick)
	}

	if elapsed := s.now().Sub(start); elapsed > s.tickWarnThreshold {
		s.logger.Warn("slow scheduler tick", "elapsed", elapsed)
	}
}

// jobEligible reports whether the job's trigger fires at this minute.
func jobEligible(job *periodicJob, tick time.Time) bool {
	return job.expr.Next(tick.Add(-time.Minute)).Equal(tick)
}

// bucketFor is the dedup key for one wall-clock slot. The date prefix
// keeps a daily job's bucket from colliding with yesterday's run.
func bucketFor(job *periodicJob, tick time.Time) string {
	if job.fiveMinute {
		return fmt.Sprintf("%s:%d", tick.Format("2006-01-02 15:04"), tick.Minute()/5)
	}
	return tick.Format("2006-01-02 15:04")
}

func (s *Scheduler) dispatch(ctx context.Context, wg *sync.WaitGroup, job *periodicJob, tick time.Time) {
	bucket := bucketFor(job, tick)

	s.mu.Lock()
	if s.lastBucket[job.name] == bucket {
		s.mu.Unlock()
		s.logger.Debug("job already ran this bucket", "job", job.name, "bucket", bucket)
		return
	}
	lock := s.locks[job.name]
	if !lock.TryLock() {
		s.mu.Unlock()
		s.logger.Warn("job still running, skipping tick", "job", job.name, "bucket", bucket)
		metrics.IncrCounter([]string{"guildhall", "scheduler", "lock_skips"}, 1)
		return
	}
	s.lastBucket[job.name] = bucket
	s.lockHeld[job.name] = true
	s.mu.Unlock()

	mod := s.registry.SafeGet(job.module)
	if mod == nil {
		s.releaseLock(job.name)
		lock.Unlock()
		return
	}

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer func() {
			s.releaseLock(job.name)
			lock.Unlock()
			if wg != nil {
				wg.Done()
			}
		}()
		s.executeWithMonitoring(ctx, job, mod)
	}()
}

func (s *Scheduler) releaseLock(name string) {
	s.mu.Lock()
	s.lockHeld[name] = false
	s.mu.Unlock()
}

// executeWithMonitoring runs the job, records success/failure and
// elapsed time, and never lets a panic or error escape.
func (s *Scheduler) executeWithMonitoring(ctx context.Context, job *periodicJob, mod registry.Module) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.recordOutcome(job.name, start, fmt.Errorf("panic: %v", r))
			s.logger.Error("panic in scheduled job", "job", job.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	var err error
	if job.fanOut {
		err = s.runFanOut(ctx, job, mod)
	} else {
		err = mod.RunJob(ctx, job.name)
	}
	s.recordOutcome(job.name, start, err)
	if err != nil {
		s.logger.Error("scheduled job failed", "job", job.name, "error", err)
	}
}

func (s *Scheduler) recordOutcome(name string, start time.Time, err error) {
	elapsed := s.now().Sub(start)

	s.mu.Lock()
	st := s.stats[name]
	st.LastExecution = start
	if err != nil {
		st.Failures++
	} else {
		st.Success++
		st.TotalMs += elapsed.Milliseconds()
	}
	s.mu.Unlock()

	metrics.MeasureSince([]string{"guildhall", "scheduler", name}, start)
	if err != nil {
		metrics.IncrCounter([]string{"guildhall", "scheduler", "failures"}, 1)
	}
}

// GuildJobRunner is implemented by modules whose scheduled work is
// per-guild. Fan-out jobs use it when available.
type GuildJobRunner interface {
	RunGuildJob(ctx context.Context, job string, guildID int64) error
}

// runFanOut iterates guilds under a bounded semaphore, pacing with the
// job's stagger so downstream calls spread out. The first per-guild
// error is returned after the whole fan-out completes.
func (s *Scheduler) runFanOut(ctx context.Context, job *periodicJob, mod registry.Module) error {
	runner, ok := mod.(GuildJobRunner)
	if !ok || s.guilds == nil {
		return mod.RunJob(ctx, job.name)
	}

	var limiter *rate.Limiter
	if job.stagger > 0 {
		limiter = rate.NewLimiter(rate.Every(job.stagger), 1)
	}

	sem := semaphore.NewWeighted(fanOutConcurrency)
	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for _, guildID := range s.guilds() {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(guildID int64) {
			defer wg.Done()
			defer sem.Release(1)
			if err := runner.RunGuildJob(ctx, job.name, guildID); err != nil {
				s.logger.Error("fan-out job failed for guild", "job", job.name, "guild_id", guildID, "error", err)
				errMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("guild %d: %w", guildID, err)
				}
				errMu.Unlock()
			}
		}(guildID)
	}
	wg.Wait()
	return firstErr
}

// HealthStatus snapshots per-job metrics, lock holders, and last
// execution times.
func (s *Scheduler) HealthStatus() SchedulerHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := SchedulerHealth{
		TaskMetrics:    make(map[string]TaskMetrics, len(s.stats)),
		ActiveLocks:    make(map[string]bool, len(s.lockHeld)),
		LastExecutions: make(map[string]time.Time, len(s.stats)),
	}
	for name, st := range s.stats {
		h.TaskMetrics[name] = *st
		if !st.LastExecution.IsZero() {
			h.LastExecutions[name] = st.LastExecution
		}
	}
	for name, held := range s.lockHeld {
		h.ActiveLocks[name] = held
	}
	return h
}

// FailureRate is the overall failed share of executions, feeding the
// host health bands.
func (s *Scheduler) FailureRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var success, failures uint64
	for _, st := range s.stats {
		success += st.Success
		failures += st.Failures
	}
	total := success + failures
	if total == 0 {
		return 0
	}
	return float64(failures) / float64(total)
}

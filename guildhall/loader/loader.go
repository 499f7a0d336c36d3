// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package loader warms the cache from the relational store once at
// startup and provides category-scoped reloads. Every per-category
// loader is idempotent; a category is marked loaded even when its result
// set is empty, and a failed loader stays unmarked so it can be retried.
package loader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/hashicorp/guildhall/guildhall/cache"
	"github.com/hashicorp/guildhall/guildhall/db"
)

// Categories in load order. Absence messages are managed live by their
// feature module; the loader only marks the category.
const (
	CatGuildSettings       = "guild_settings"
	CatGuildRoles          = "guild_roles"
	CatGuildChannels       = "guild_channels"
	CatWelcomeMessages     = "welcome_messages"
	CatAbsenceMessages     = "absence_messages"
	CatGuildMembers        = "guild_members"
	CatEventsData          = "events_data"
	CatStaticData          = "static_data"
	CatStaticGroups        = "static_groups"
	CatUserSetup           = "user_setup"
	CatWeapons             = "weapons"
	CatWeaponsCombinations = "weapons_combinations"
	CatGuildIdealStaff     = "guild_ideal_staff"
	CatGamesList           = "games_list"
	CatEpicItemsT2         = "epic_items_t2"
	CatEventsCalendar      = "events_calendar"
	CatGuildPTBSettings    = "guild_ptb_settings"
)

// initialLoadWait bounds WaitForInitialLoad's poll.
const (
	initialLoadWait = 10 * time.Second
	initialLoadPoll = 100 * time.Millisecond
)

// Loader owns the once-only startup warm-up and category reloads.
type Loader struct {
	db    *db.Store
	cache *cache.Cache

	// startupMu serializes LoadAllSharedData against itself and against
	// single-category loads.
	startupMu sync.Mutex

	loadedMu sync.Mutex
	loaded   map[string]struct{}

	initialDone atomic.Bool

	loaders map[string]func(ctx context.Context) error

	logger hclog.Logger
}

// New builds a loader and registers the cache refreshers used by
// predictive preloading.
func New(store *db.Store, c *cache.Cache, logger hclog.Logger) *Loader {
	l := &Loader{
		db:     store,
		cache:  c,
		loaded: make(map[string]struct{}),
		logger: logger.Named("loader"),
	}

	l.loaders = map[string]func(ctx context.Context) error{
		CatGuildSettings:       l.loadGuildSettings,
		CatGuildRoles:          l.loadGuildRoles,
		CatGuildChannels:       l.loadGuildChannels,
		CatWelcomeMessages:     l.loadWelcomeMessages,
		CatAbsenceMessages:     l.loadAbsenceMessages,
		CatGuildMembers:        l.loadGuildMembers,
		CatEventsData:          l.loadEventsData,
		CatStaticData:          l.loadStaticData,
		CatStaticGroups:        l.loadStaticGroups,
		CatUserSetup:           l.loadUserSetup,
		CatWeapons:             l.loadWeapons,
		CatWeaponsCombinations: l.loadWeaponsCombinations,
		CatGuildIdealStaff:     l.loadGuildIdealStaff,
		CatGamesList:           l.loadGamesList,
		CatEpicItemsT2:         l.loadEpicItems,
		CatEventsCalendar:      l.loadEventsCalendar,
		CatGuildPTBSettings:    l.loadPTBSettings,
	}

	c.RegisterRefresher(cache.CategoryGuildData, l.refreshGuildData)
	c.RegisterRefresher(cache.CategoryRosterData, l.refreshRosterData)
	c.RegisterRefresher(cache.CategoryEventsData, l.refreshEventsData)

	return l
}

// Categories returns the known category names.
func (l *Loader) Categories() []string {
	out := make([]string, 0, len(l.loaders))
	for name := range l.loaders {
		out = append(out, name)
	}
	return out
}

// IsLoaded reports whether the initial bulk load has completed.
func (l *Loader) IsLoaded() bool {
	return l.initialDone.Load()
}

func (l *Loader) markLoaded(category string) {
	l.loadedMu.Lock()
	defer l.loadedMu.Unlock()
	l.loaded[category] = struct{}{}
}

func (l *Loader) isCategoryLoaded(category string) bool {
	l.loadedMu.Lock()
	defer l.loadedMu.Unlock()
	_, ok := l.loaded[category]
	return ok
}

// LoadAllSharedData runs every per-category loader in parallel under the
// startup mutex. A second invocation is a no-op. Per-category failures
// are aggregated into the returned error but never abort the batch; the
// initial load is considered complete either way.
func (l *Loader) LoadAllSharedData(ctx context.Context) error {
	l.startupMu.Lock()
	defer l.startupMu.Unlock()

	if l.initialDone.Load() {
		l.logger.Debug("initial load already complete, skipping")
		return nil
	}

	defer metrics.MeasureSince([]string{"guildhall", "loader", "load_all"}, time.Now())
	start := time.Now()

	var mErr *multierror.Error
	var mErrMu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	for name, fn := range l.loaders {
		name, fn := name, fn
		g.Go(func() error {
			if err := l.runLoader(gCtx, name, fn); err != nil {
				mErrMu.Lock()
				mErr = multierror.Append(mErr, fmt.Errorf("%s: %w", name, err))
				mErrMu.Unlock()
			}
			// Failures must not cancel sibling loaders.
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	if mErr != nil {
		failed = len(mErr.Errors)
	}

	l.initialDone.Store(true)
	l.logger.Info("initial shared data load complete",
		"categories", len(l.loaders), "failed", failed, "elapsed", time.Since(start))
	return mErr.ErrorOrNil()
}

func (l *Loader) runLoader(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		l.logger.Error("category load failed", "category", name, "error", err)
		metrics.IncrCounter([]string{"guildhall", "loader", "failures"}, 1)
		return err
	}
	l.markLoaded(name)
	l.logger.Debug("category loaded", "category", name)
	return nil
}

// EnsureCategoryLoaded is a no-op when the category is already in the
// loaded set; otherwise it runs the single-category loader. Unknown
// categories log a warning.
func (l *Loader) EnsureCategoryLoaded(ctx context.Context, category string) error {
	fn, ok := l.loaders[category]
	if !ok {
		l.logger.Warn("unknown cache category", "category", category)
		return nil
	}
	if l.isCategoryLoaded(category) {
		return nil
	}

	l.startupMu.Lock()
	defer l.startupMu.Unlock()
	if l.isCategoryLoaded(category) {
		return nil
	}
	return l.runLoader(ctx, category, fn)
}

// ReloadCategory drops the category from the loaded set and loads it
// again.
func (l *Loader) ReloadCategory(ctx context.Context, category string) error {
	l.loadedMu.Lock()
	delete(l.loaded, category)
	l.loadedMu.Unlock()
	return l.EnsureCategoryLoaded(ctx, category)
}

// WaitForInitialLoad blocks until the initial load completes, polling at
// 100ms for up to 10 seconds. Past the deadline it returns anyway with a
// warning.
func (l *Loader) WaitForInitialLoad(ctx context.Context) {
	deadline := time.Now().Add(initialLoadWait)
	for time.Now().Before(deadline) {
		if l.initialDone.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialLoadPoll):
		}
	}
	l.logger.Warn("initial load still incomplete after wait deadline", "waited", initialLoadWait)
}

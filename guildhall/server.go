// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package guildhall

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/guildhall/guildhall/cache"
	"github.com/hashicorp/guildhall/guildhall/db"
	"github.com/hashicorp/guildhall/guildhall/lang"
	"github.com/hashicorp/guildhall/guildhall/loader"
	"github.com/hashicorp/guildhall/guildhall/ratelimit"
	"github.com/hashicorp/guildhall/guildhall/registry"
	"github.com/hashicorp/guildhall/guildhall/resilience"
	"github.com/hashicorp/guildhall/guildhall/structs"
)

// Background loop cadences owned by the host.
const (
	cacheMaintenanceEvery = 5 * time.Minute
	cacheCleanupEvery     = 10 * time.Minute
	rateLimitPurgeEvery   = time.Hour
	rateLimitMaxAge       = 24 * time.Hour
	dbProbeEvery          = time.Minute

	// halfOpenProbes is the breaker budget for outbound platform calls.
	halfOpenProbes = 3
)

// Server is the host process: it wires configuration, the translation
// catalog, the DB store, the cache and its loader, the rate limiter,
// the resilience kit, the module registry and the scheduler, and owns
// every background goroutine.
type Server struct {
	config *Config
	logger hclog.Logger

	Catalog    *lang.Catalog
	Translator *lang.Translator
	DB         *db.Store
	Cache      *cache.Cache
	Loader     *loader.Loader
	RateLimit  *ratelimit.Limiter
	Resilience *resilience.Kit
	Registry   *registry.Registry
	Scheduler  *Scheduler

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// dbState is refreshed by the probe loop for HealthProbe.
	healthMu  sync.Mutex
	dbState   structs.HealthState
	dbLatency time.Duration
}

// NewServer builds the runtime. Catalog or DB failures here abort
// startup.
func NewServer(cfg *Config, logger hclog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	catalog, err := lang.LoadCatalog(cfg.TranslationPath, cfg.TranslationMaxBytes)
	if err != nil {
		return nil, err
	}

	store, err := db.Connect(cfg.DSN(), db.Options{
		PoolSize:         cfg.PoolSize,
		QueryTimeout:     cfg.QueryTimeout,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerTimeout:   cfg.BreakerTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	s := &Server{
		config:     cfg,
		logger:     logger.Named("server"),
		Catalog:    catalog,
		DB:         store,
		Cache:      cache.New(logger),
		RateLimit:  ratelimit.NewLimiter(logger),
		Resilience: resilience.NewKit(cfg.BreakerThreshold, cfg.BreakerTimeout, halfOpenProbes, logger),
		Registry:   registry.New(logger),
		dbState:    structs.HealthHealthy,
	}
	s.Translator = lang.NewTranslator(catalog, s.Cache, logger)
	s.Loader = loader.New(store, s.Cache, logger)
	s.Scheduler = NewScheduler(s.Registry, cfg.Timezone, s.guildIDs, logger)
	return s, nil
}

// Run performs the startup warm-up and starts the background loops. It
// returns once the loops are running; Shutdown stops them.
func (s *Server) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.Loader.LoadAllSharedData(ctx); err != nil {
		// Partial warm-up is survivable; categories reload on demand.
		s.logger.Warn("initial cache warm-up incomplete", "error", err)
	}

	s.background(func() { s.Scheduler.Run(ctx) })
	s.background(func() { s.Cache.MaintenanceLoop(ctx, cacheMaintenanceEvery, cacheCleanupEvery) })
	s.background(func() { s.RateLimit.PurgeLoop(ctx, rateLimitPurgeEvery, rateLimitMaxAge) })
	s.background(func() { s.dbProbeLoop(ctx) })

	s.logger.Info("guildhall runtime started", "modules", s.Registry.Names())
	return nil
}

func (s *Server) background(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Shutdown cancels the background loops and waits for them, bounded by
// the context.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("guildhall runtime stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// guildIDs supplies the fan-out jobs with the known guilds.
func (s *Server) guildIDs() []int64 {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.QueryTimeout)
	defer cancel()

	var ids []int64
	if err := s.DB.FetchAll(ctx, &ids, "SELECT guild_id FROM guild_settings"); err != nil {
		s.logger.Error("listing guilds for fan-out failed", "error", err)
		return nil
	}
	return ids
}

func (s *Server) dbProbeLoop(ctx context.Context) {
	ticker := time.NewTicker(dbProbeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, latency := s.DB.HealthCheck(ctx)
			s.healthMu.Lock()
			s.dbState, s.dbLatency = state, latency
			s.healthMu.Unlock()
			if state != structs.HealthHealthy {
				s.logger.Warn("database health degraded", "state", state, "latency", latency)
			}
		}
	}
}

// Health is the aggregated process probe.
type Health struct {
	Overall structs.HealthState `json:"overall"`

	DB        structs.HealthState `json:"db"`
	DBLatency time.Duration       `json:"db_latency"`

	Scheduler            structs.HealthState `json:"scheduler"`
	SchedulerFailureRate float64             `json:"scheduler_failure_rate"`

	CacheHitRate float64 `json:"cache_hit_rate"`

	// DegradedServices maps each degraded service to the reason it was
	// degraded.
	DegradedServices map[string]string `json:"degraded_services,omitempty"`
}

// schedulerBand applies the warn >10% / error >20% failure-rate bands.
func schedulerBand(rate float64) structs.HealthState {
	switch {
	case rate > 0.20:
		return structs.HealthError
	case rate > 0.10:
		return structs.HealthWarning
	default:
		return structs.HealthHealthy
	}
}

func worseOf(a, b structs.HealthState) structs.HealthState {
	rank := map[structs.HealthState]int{
		structs.HealthHealthy: 0,
		structs.HealthWarning: 1,
		structs.HealthError:   2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// HealthProbe aggregates the component bands into one snapshot.
func (s *Server) HealthProbe() Health {
	s.healthMu.Lock()
	dbState, dbLatency := s.dbState, s.dbLatency
	s.healthMu.Unlock()

	failureRate := s.Scheduler.FailureRate()
	h := Health{
		DB:                   dbState,
		DBLatency:            dbLatency,
		Scheduler:            schedulerBand(failureRate),
		SchedulerFailureRate: failureRate,
		CacheHitRate:         s.Cache.Metrics().HitRate,
		DegradedServices:     s.Resilience.Degradation().DegradedServices(),
	}
	h.Overall = worseOf(h.DB, h.Scheduler)
	if len(h.DegradedServices) > 0 {
		h.Overall = worseOf(h.Overall, structs.HealthWarning)
	}
	return h
}

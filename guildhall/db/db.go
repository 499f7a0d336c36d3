// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package db is the database access layer: a bounded connection pool with
// per-call timeouts, a circuit breaker guarding every call, bounded retry
// with backoff for transient failures, and multi-statement transactions.
// Query logs never include parameter values.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/semaphore"

	"github.com/hashicorp/guildhall/guildhall/resilience"
	"github.com/hashicorp/guildhall/guildhall/structs"
)

// slowQueryThreshold is the execution time past which a query is logged
// and counted as slow.
const slowQueryThreshold = 2 * time.Second

// maxQueryAttempts bounds the retry loop for transient failures.
const maxQueryAttempts = 3

// Options tunes the store. Zero values fall back to the listed defaults.
type Options struct {
	// PoolSize caps concurrent connections (default 10).
	PoolSize int

	// QueryTimeout applies to connection acquisition and to each query.
	// Zero means every call fails immediately with ErrDBTimeout.
	QueryTimeout time.Duration

	// BreakerThreshold and BreakerTimeout tune the single breaker
	// guarding all database calls.
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// Statement is one parameterized statement of a transaction batch.
type Statement struct {
	SQL  string
	Args []interface{}
}

// stmtStats aggregates per-statement-kind observations, keyed by the
// statement's first keyword (SELECT, INSERT, ...).
type stmtStats struct {
	Count       uint64        `json:"count"`
	TotalTime   time.Duration `json:"total_time"`
	SlowQueries uint64        `json:"slow_queries"`
}

// Store serves queries and transactions over a bounded pool.
type Store struct {
	db       *sqlx.DB
	sem      *semaphore.Weighted
	poolSize int64

	queryTimeout time.Duration
	breaker      *resilience.CircuitBreaker

	waiting  atomic.Int64
	inFlight atomic.Int64

	statsMu sync.Mutex
	stats   map[string]*stmtStats

	logger hclog.Logger
	now    func() time.Time

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// Connect opens a Postgres pool with the given DSN and wraps it.
func Connect(dsn string, opts Options, logger hclog.Logger) (*Store, error) {
	dbx, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	dbx.SetMaxOpenConns(opts.PoolSize)
	dbx.SetMaxIdleConns(opts.PoolSize)
	return NewStore(dbx, opts, logger), nil
}

// NewStore wraps an existing sqlx handle. Used directly by tests.
func NewStore(dbx *sqlx.DB, opts Options, logger hclog.Logger) *Store {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}

	logger = logger.Named("db")
	return &Store{
		db:           dbx,
		sem:          semaphore.NewWeighted(int64(opts.PoolSize)),
		poolSize:     int64(opts.PoolSize),
		queryTimeout: opts.QueryTimeout,
		breaker:      resilience.NewCircuitBreaker("database", opts.BreakerThreshold, opts.BreakerTimeout, 1, logger),
		stats:        make(map[string]*stmtStats),
		logger:       logger,
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Breaker exposes the guarding breaker for health reporting.
func (s *Store) Breaker() *resilience.CircuitBreaker {
	return s.breaker
}

// acquire takes a pool slot within the query timeout. Borrowers must call
// release on every exit path.
func (s *Store) acquire(ctx context.Context) error {
	if s.queryTimeout <= 0 {
		return structs.ErrDBTimeout
	}

	depth := s.waiting.Add(1)
	defer s.waiting.Add(-1)
	if depth*2 > s.poolSize*3 {
		s.logger.Warn("connection wait queue is deep", "waiting", depth, "pool_size", s.poolSize)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	if err := s.sem.Acquire(acqCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return structs.ErrPoolExhausted
	}
	s.inFlight.Add(1)
	return nil
}

func (s *Store) release() {
	s.inFlight.Add(-1)
	s.sem.Release(1)
}

// statementKind extracts the first SQL keyword for metrics bucketing.
func statementKind(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	return strings.ToUpper(fields[0])
}

func (s *Store) recordStatement(query string, elapsed time.Duration) {
	kind := statementKind(query)

	s.statsMu.Lock()
	st, ok := s.stats[kind]
	if !ok {
		st = &stmtStats{}
		s.stats[kind] = st
	}
	st.Count++
	st.TotalTime += elapsed
	slow := elapsed > slowQueryThreshold
	if slow {
		st.SlowQueries++
	}
	s.statsMu.Unlock()

	metrics.MeasureSinceWithLabels([]string{"guildhall", "db", "query"}, s.now().Add(-elapsed),
		[]metrics.Label{{Name: "kind", Value: kind}})
	if slow {
		s.logger.Warn("slow query", "kind", kind, "elapsed", elapsed)
	}
}

// classify maps a driver error onto the typed error set. The second
// return reports whether the failure should be recorded on the breaker.
func classify(err error) (error, bool) {
	switch {
	case err == nil:
		return nil, false
	case errors.Is(err, context.DeadlineExceeded):
		return structs.ErrDBTimeout, true
	case errors.Is(err, context.Canceled):
		return err, false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "23", "42":
			// Integrity and syntax/programming errors: typed, never
			// retried, not a breaker event.
			return fmt.Errorf("%w: %s", structs.ErrConstraint, pgErr.Code), false
		}
	}

	return fmt.Errorf("%w: %w", structs.ErrConnection, err), true
}

// execute runs one guarded call: breaker check, pool slot, per-query
// deadline, stats, error classification.
func (s *Store) execute(ctx context.Context, query string, op func(ctx context.Context) error) error {
	if s.breaker.IsOpen() {
		metrics.IncrCounter([]string{"guildhall", "db", "unavailable"}, 1)
		return structs.ErrDBUnavailable
	}

	if err := s.acquire(ctx); err != nil {
		if structs.IsTransient(err) {
			s.breaker.RecordFailure()
		}
		return err
	}
	defer s.release()

	qCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	start := s.now()
	err := op(qCtx)
	s.recordStatement(query, s.now().Sub(start))

	typed, breakerEvent := classify(err)
	if typed == nil {
		s.breaker.RecordSuccess()
		return nil
	}
	if breakerEvent {
		s.breaker.RecordFailure()
	}
	return typed
}

// withRetry retries transient failures per policy: up to three attempts,
// backoff 0.5s×attempt for pool exhaustion and 0.5s×(attempt+1) for
// timeouts. Constraint and programming errors never retry.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxQueryAttempts; attempt++ {
		err = fn()
		if err == nil || !structs.IsTransient(err) || attempt == maxQueryAttempts {
			return err
		}
		if s.queryTimeout <= 0 {
			// A zero timeout is a deliberate fail-fast configuration.
			return err
		}

		backoff := time.Duration(attempt) * 500 * time.Millisecond
		if errors.Is(err, structs.ErrDBTimeout) {
			backoff = time.Duration(attempt+1) * 500 * time.Millisecond
		}
		s.logger.Debug("retrying query after transient failure",
			"attempt", attempt, "backoff", backoff, "error", err)
		if serr := s.sleep(ctx, backoff); serr != nil {
			return serr
		}
	}
	return err
}

// Exec runs a statement and commits, returning rows affected.
func (s *Store) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var affected int64
	err := s.withRetry(ctx, func() error {
		return s.execute(ctx, query, func(ctx context.Context) error {
			res, err := s.db.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			affected, _ = res.RowsAffected()
			return nil
		})
	})
	return affected, err
}

// FetchOne scans a single row into dest, reporting whether a row existed.
func (s *Store) FetchOne(ctx context.Context, dest interface{}, query string, args ...interface{}) (bool, error) {
	found := true
	err := s.withRetry(ctx, func() error {
		found = true
		return s.execute(ctx, query, func(ctx context.Context) error {
			err := s.db.GetContext(ctx, dest, query, args...)
			if errors.Is(err, sql.ErrNoRows) {
				found = false
				return nil
			}
			return err
		})
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// FetchAll scans all rows into dest (a pointer to slice).
func (s *Store) FetchAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return s.withRetry(ctx, func() error {
		return s.execute(ctx, query, func(ctx context.Context) error {
			return s.db.SelectContext(ctx, dest, query, args...)
		})
	})
}

// HealthCheck pings the database and returns the latency band.
func (s *Store) HealthCheck(ctx context.Context) (structs.HealthState, time.Duration) {
	start := s.now()
	err := s.db.PingContext(ctx)
	latency := s.now().Sub(start)
	if err != nil {
		return structs.HealthError, latency
	}
	return structs.DBHealthBand(latency), latency
}

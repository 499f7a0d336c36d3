// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package db

import (
	"context"
	"errors"
	"fmt"

	metrics "github.com/hashicorp/go-metrics"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/hashicorp/guildhall/guildhall/structs"
)

// RunTransaction executes the batch on a single connection with
// autocommit off. Any failure rolls back and surfaces as
// ErrTransactionFailed wrapping the cause; the whole batch retries up to
// three times for transient causes only. The overall deadline is twice
// the per-query timeout. Cancellation mid-batch rolls back before
// surfacing.
func (s *Store) RunTransaction(ctx context.Context, stmts []Statement) error {
	if len(stmts) == 0 {
		return nil
	}

	return s.withRetry(ctx, func() error {
		return s.runTransactionOnce(ctx, stmts)
	})
}

func (s *Store) runTransactionOnce(ctx context.Context, stmts []Statement) error {
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

	txCtx, cancel := context.WithTimeout(ctx, 2*s.queryTimeout)
	defer cancel()

	start := s.now()
	tx, err := s.db.BeginTxx(txCtx, nil)
	if err != nil {
		s.breaker.RecordFailure()
		typed, _ := classify(err)
		return fmt.Errorf("%w: begin: %w", structs.ErrTransactionFailed, typed)
	}

	for i, stmt := range stmts {
		if _, err := tx.ExecContext(txCtx, stmt.SQL, stmt.Args...); err != nil {
			rbErr := tx.Rollback()
			s.breaker.RecordFailure()
			metrics.IncrCounter([]string{"guildhall", "db", "tx_rollback"}, 1)

			typed, _ := classify(err)
			wrapped := fmt.Errorf("%w: statement %d (%s): %w",
				structs.ErrTransactionFailed, i, statementKind(stmt.SQL), typed)
			if rbErr != nil && !errors.Is(rbErr, context.Canceled) {
				wrapped = multierror.Append(wrapped, fmt.Errorf("rollback: %w", rbErr))
			}
			return wrapped
		}
	}

	if err := tx.Commit(); err != nil {
		s.breaker.RecordFailure()
		typed, _ := classify(err)
		return fmt.Errorf("%w: commit: %w", structs.ErrTransactionFailed, typed)
	}

	s.breaker.RecordSuccess()
	s.recordStatement("TRANSACTION", s.now().Sub(start))
	metrics.IncrCounter([]string{"guildhall", "db", "tx_commit"}, 1)
	return nil
}

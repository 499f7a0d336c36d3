// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"errors"
	"fmt"
)

const (
	errDBUnavailable       = "database unavailable"
	errDBTimeout           = "database timeout"
	errPoolExhausted       = "connection pool exhausted"
	errConstraint          = "constraint violation"
	errTransactionFailed   = "transaction failed"
	errRetryExhausted      = "retry attempts exhausted"
	errCircuitOpen         = "circuit open"
	errRateLimited         = "rate limited"
	errFeatureModuleAbsent = "feature module absent"
)

var (
	// ErrDBUnavailable is returned when the database circuit breaker is
	// open and calls fail fast without touching the pool.
	ErrDBUnavailable = errors.New(errDBUnavailable)

	// ErrDBTimeout is returned when connection acquisition or query
	// execution exceeds the configured per-call timeout.
	ErrDBTimeout = errors.New(errDBTimeout)

	// ErrPoolExhausted is returned when no connection could be acquired
	// within the timeout after the configured retries.
	ErrPoolExhausted = errors.New(errPoolExhausted)

	// ErrConstraint is returned on integrity or syntax errors. Never
	// retried.
	ErrConstraint = errors.New(errConstraint)

	// ErrConnection is returned on operational database errors (lost
	// connection, server shutdown). Recorded on the breaker.
	ErrConnection = errors.New("database connection error")

	// ErrTransactionFailed is returned when any statement of a batch
	// fails and the transaction was rolled back.
	ErrTransactionFailed = errors.New(errTransactionFailed)

	// ErrRetryExhausted wraps the last cause after all attempts failed.
	ErrRetryExhausted = errors.New(errRetryExhausted)

	// ErrCircuitOpen is returned by outbound service wrappers when the
	// service breaker is open and no fallback is registered.
	ErrCircuitOpen = errors.New(errCircuitOpen)

	// ErrRateLimited indicates a command cooldown is still active.
	ErrRateLimited = errors.New(errRateLimited)

	// ErrFeatureModuleAbsent indicates a required feature module is not
	// registered; callers log and skip.
	ErrFeatureModuleAbsent = errors.New(errFeatureModuleAbsent)
)

// IsTransient reports whether err may succeed on retry. Constraint
// violations and open circuits are permanent for the caller; timeouts and
// pool exhaustion are not.
func IsTransient(err error) bool {
	return errors.Is(err, ErrDBTimeout) || errors.Is(err, ErrPoolExhausted)
}

// NewRetryExhaustedError wraps the final cause of a failed retry loop.
func NewRetryExhaustedError(attempts int, cause error) error {
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, cause)
}

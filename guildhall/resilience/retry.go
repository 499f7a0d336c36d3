// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/guildhall/guildhall/structs"
	"github.com/hashicorp/guildhall/helper"
)

// Op is an operation subject to retry or fallback.
type Op func(ctx context.Context) error

// Permanent marks an error as non-retryable: Do surfaces it immediately
// without consuming further attempts or backoff sleeps.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Retry attempts an operation up to MaxAttempts times, sleeping
// min(BaseDelay × ExpBase^attempt, MaxDelay) plus a small jitter between
// attempts. The final failure is wrapped in structs.ErrRetryExhausted.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	ExpBase     float64
	MaxDelay    time.Duration
}

// DefaultRetry matches the policy used for outbound chat-platform calls.
func DefaultRetry(maxAttempts int) Retry {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return Retry{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Second,
		ExpBase:     2,
		MaxDelay:    30 * time.Second,
	}
}

// Do runs op until it succeeds or attempts are exhausted. Cancellation of
// ctx during a backoff sleep surfaces ctx.Err immediately.
func (r Retry) Do(ctx context.Context, op Op) error {
	var lastErr error
	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt == r.MaxAttempts-1 {
			break
		}

		delay := r.delay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return structs.NewRetryExhaustedError(r.MaxAttempts, lastErr)
}

func (r Retry) delay(attempt int) time.Duration {
	base := float64(r.BaseDelay)
	exp := r.ExpBase
	if exp <= 0 {
		exp = 2
	}
	d := time.Duration(base * pow(exp, attempt))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	return d + helper.RandomStagger(d/10)
}

func pow(base float64, n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= base
	}
	return out
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/guildhall/ci"
	"github.com/hashicorp/guildhall/guildhall/structs"
	"github.com/hashicorp/guildhall/helper/testlog"
)

func testLogger(t *testing.T) hclog.Logger {
	return testlog.HCLogger(t)
}

func TestRetry_EventualSuccess(t *testing.T) {
	ci.Parallel(t)

	r := Retry{MaxAttempts: 3, BaseDelay: time.Millisecond, ExpBase: 2, MaxDelay: 5 * time.Millisecond}

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetry_Exhausted(t *testing.T) {
	ci.Parallel(t)

	r := Retry{MaxAttempts: 2, BaseDelay: time.Millisecond, ExpBase: 2, MaxDelay: 2 * time.Millisecond}

	boom := errors.New("boom")
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	require.Equal(t, 2, calls)
	require.ErrorIs(t, err, structs.ErrRetryExhausted)
	require.ErrorIs(t, err, boom)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ci.Parallel(t)

	r := Retry{MaxAttempts: 5, BaseDelay: time.Hour, ExpBase: 2, MaxDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, func(context.Context) error {
			return errors.New("transient")
		})
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestDegradation_Fallback(t *testing.T) {
	ci.Parallel(t)

	d := NewDegradation(testLogger(t))

	boom := errors.New("boom")
	primary := func(context.Context) error { return boom }

	// No fallback registered: the primary error surfaces.
	err := d.ExecuteWithFallback(context.Background(), "llm", primary)
	require.ErrorIs(t, err, boom)

	fallbackRan := false
	d.RegisterFallback("llm", func(context.Context) error {
		fallbackRan = true
		return nil
	})
	require.NoError(t, d.ExecuteWithFallback(context.Background(), "llm", primary))
	require.True(t, fallbackRan)
}

func TestDegradation_Overlay(t *testing.T) {
	ci.Parallel(t)

	d := NewDegradation(testLogger(t))
	require.False(t, d.IsDegraded("scraper"))

	d.Degrade("scraper", "upstream 503")
	require.True(t, d.IsDegraded("scraper"))
	require.Equal(t, map[string]string{"scraper": "upstream 503"}, d.DegradedServices())

	d.Restore("scraper")
	require.False(t, d.IsDegraded("scraper"))
}

func TestKit_ResilientFastFail(t *testing.T) {
	ci.Parallel(t)

	kit := NewKit(1, time.Hour, 1, testLogger(t))
	kit.Breaker("discord").RecordFailure()

	calls := 0
	op := kit.Resilient("discord", 1, func(context.Context) error {
		calls++
		return nil
	})
	err := op(context.Background())
	require.ErrorIs(t, err, structs.ErrCircuitOpen)
	require.Zero(t, calls)
}

func TestKit_ResilientRecordsOutcomes(t *testing.T) {
	ci.Parallel(t)

	kit := NewKit(10, time.Hour, 1, testLogger(t))

	boom := errors.New("boom")
	calls := 0
	op := kit.Resilient("discord", 2, func(context.Context) error {
		calls++
		return boom
	})
	err := op(context.Background())
	require.ErrorIs(t, err, structs.ErrRetryExhausted)
	require.Equal(t, 2, calls)
	require.Equal(t, 2, kit.Breaker("discord").FailureCount())
}

func TestRetry_PermanentErrorStops(t *testing.T) {
	ci.Parallel(t)

	r := Retry{MaxAttempts: 3, BaseDelay: time.Hour, ExpBase: 2, MaxDelay: time.Hour}

	boom := errors.New("boom")
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(boom)
	})
	require.Equal(t, 1, calls)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, structs.ErrRetryExhausted)
}

func TestKit_ResilientOpenBreakerSkipsBackoff(t *testing.T) {
	ci.Parallel(t)

	kit := NewKit(1, time.Hour, 1, testLogger(t))
	kit.Breaker("discord").RecordFailure()

	// Three configured attempts would mean seconds of backoff if the
	// open-circuit error were retried; it must surface on the first.
	calls := 0
	op := kit.Resilient("discord", 3, func(context.Context) error {
		calls++
		return nil
	})

	start := time.Now()
	err := op(context.Background())

	require.ErrorIs(t, err, structs.ErrCircuitOpen)
	require.NotErrorIs(t, err, structs.ErrRetryExhausted)
	require.Zero(t, calls)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/hashicorp/guildhall/guildhall/structs"
)

// Kit owns one circuit breaker per outbound service plus the shared
// degradation registry. Feature modules wrap their chat-platform calls
// with Resilient; the host consumes DegradedServices for health probes.
type Kit struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker

	degradation *Degradation

	failureThreshold int
	timeout          time.Duration
	halfOpenMaxCalls int

	logger hclog.Logger
}

// NewKit builds a Kit with the given default breaker tuning.
func NewKit(failureThreshold int, timeout time.Duration, halfOpenMaxCalls int, logger hclog.Logger) *Kit {
	return &Kit{
		breakers:         make(map[string]*CircuitBreaker),
		degradation:      NewDegradation(logger),
		failureThreshold: failureThreshold,
		timeout:          timeout,
		halfOpenMaxCalls: halfOpenMaxCalls,
		logger:           logger.Named("resilience"),
	}
}

// Breaker returns the breaker for service, creating it on first use.
func (k *Kit) Breaker(service string) *CircuitBreaker {
	k.mu.Lock()
	defer k.mu.Unlock()
	br, ok := k.breakers[service]
	if !ok {
		br = NewCircuitBreaker(service, k.failureThreshold, k.timeout, k.halfOpenMaxCalls, k.logger)
		k.breakers[service] = br
	}
	return br
}

// Degradation exposes the fallback registry.
func (k *Kit) Degradation() *Degradation {
	return k.degradation
}

// Resilient wraps op with the service's circuit breaker, bounded retry,
// and the degradation fallback path. The returned operation fails fast
// with structs.ErrCircuitOpen while the breaker is open (unless a fallback
// is registered), records every attempt on the breaker, and routes the
// final failure through the fallback registry.
func (k *Kit) Resilient(service string, maxRetries int, op Op) Op {
	retry := DefaultRetry(maxRetries)
	br := k.Breaker(service)

	guarded := func(ctx context.Context) error {
		if br.IsOpen() {
			metrics.IncrCounter([]string{"guildhall", "resilience", service, "fast_fail"}, 1)
			// Retrying against an open circuit only burns backoff time;
			// surface straight to the fallback path.
			return Permanent(fmt.Errorf("%w: %s", structs.ErrCircuitOpen, service))
		}
		err := op(ctx)
		if err != nil {
			br.RecordFailure()
			return err
		}
		br.RecordSuccess()
		return nil
	}

	return func(ctx context.Context) error {
		return k.degradation.ExecuteWithFallback(ctx, service, func(ctx context.Context) error {
			return retry.Do(ctx, guarded)
		})
	}
}

// Snapshots returns the state of every breaker created so far.
func (k *Kit) Snapshots() []Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]Snapshot, 0, len(k.breakers))
	for _, br := range k.breakers {
		out = append(out, br.Snapshot())
	}
	return out
}

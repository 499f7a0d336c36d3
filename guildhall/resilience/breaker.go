// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package resilience provides the reusable failure-handling primitives of
// the core runtime: circuit breakers, retry with jittered backoff, and a
// graceful-degradation registry with per-service fallbacks. The database
// layer and every outbound chat-platform integration are built on top of
// it.
package resilience

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
)

// State is the circuit breaker state machine position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips OPEN after FailureThreshold consecutive failures
// and fails calls fast until Timeout has elapsed since the last failure.
// The first call after the timeout transitions to HALF_OPEN, where a
// budget of HalfOpenMaxCalls successful probes closes the breaker again.
//
// Success and failure are recorded by the caller; the breaker never runs
// the guarded operation itself, which lets the database layer attribute
// failures seen deep inside a transaction to the breaker.
type CircuitBreaker struct {
	service          string
	failureThreshold int
	timeout          time.Duration
	halfOpenMaxCalls int

	mu             sync.Mutex
	state          State
	failureCount   int
	lastFailure    time.Time
	halfOpenBudget int

	logger hclog.Logger
	now    func() time.Time
}

// NewCircuitBreaker returns a closed breaker for the named service.
func NewCircuitBreaker(service string, failureThreshold int, timeout time.Duration, halfOpenMaxCalls int, logger hclog.Logger) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if halfOpenMaxCalls <= 0 {
		halfOpenMaxCalls = 1
	}
	return &CircuitBreaker{
		service:          service,
		failureThreshold: failureThreshold,
		timeout:          timeout,
		halfOpenMaxCalls: halfOpenMaxCalls,
		state:            StateClosed,
		logger:           logger.Named("breaker").With("service", service),
		now:              time.Now,
	}
}

// IsOpen reports whether calls should fail fast. While OPEN and within the
// timeout window it returns true; once the window has elapsed the breaker
// transitions to HALF_OPEN and a probe is allowed through.
func (c *CircuitBreaker) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return false
	}
	if c.now().Sub(c.lastFailure) > c.timeout {
		c.state = StateHalfOpen
		c.halfOpenBudget = c.halfOpenMaxCalls
		c.logger.Info("circuit half-open, allowing probes", "budget", c.halfOpenBudget)
		return false
	}
	return true
}

// RecordSuccess notes a successful call. In HALF_OPEN it consumes one
// probe from the budget; exhausting the budget closes the breaker and
// resets the failure count.
func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateHalfOpen {
		return
	}
	c.halfOpenBudget--
	if c.halfOpenBudget <= 0 {
		c.state = StateClosed
		c.failureCount = 0
		c.logger.Info("circuit closed")
		metrics.IncrCounter([]string{"guildhall", "breaker", c.service, "closed"}, 1)
	}
}

// RecordFailure notes a failed call and trips the breaker once the
// threshold is reached. A failure during HALF_OPEN re-opens immediately.
func (c *CircuitBreaker) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount++
	c.lastFailure = c.now()

	if c.state == StateHalfOpen || c.failureCount >= c.failureThreshold {
		if c.state != StateOpen {
			c.logger.Warn("circuit opened", "failures", c.failureCount)
			metrics.IncrCounter([]string{"guildhall", "breaker", c.service, "opened"}, 1)
		}
		c.state = StateOpen
	}
}

// State returns the current state without side effects.
func (c *CircuitBreaker) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FailureCount returns the consecutive failure count.
func (c *CircuitBreaker) FailureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failureCount
}

// Snapshot is a point-in-time view of a breaker for health reporting.
type Snapshot struct {
	Service      string    `json:"service"`
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	LastFailure  time.Time `json:"last_failure"`
}

// Snapshot returns the breaker's observable state.
func (c *CircuitBreaker) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Service:      c.service,
		State:        c.state.String(),
		FailureCount: c.failureCount,
		LastFailure:  c.lastFailure,
	}
}

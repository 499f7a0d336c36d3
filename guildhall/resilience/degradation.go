// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Degradation tracks services running in degraded mode and the fallback
// registered for each. External probes consume the degraded overlay; the
// Resilient wrapper routes final failures through the fallbacks.
type Degradation struct {
	mu        sync.RWMutex
	fallbacks map[string]Op
	degraded  map[string]degradedService

	logger hclog.Logger
}

type degradedService struct {
	reason string
	since  time.Time
}

// NewDegradation returns an empty registry.
func NewDegradation(logger hclog.Logger) *Degradation {
	return &Degradation{
		fallbacks: make(map[string]Op),
		degraded:  make(map[string]degradedService),
		logger:    logger.Named("degradation"),
	}
}

// RegisterFallback installs the fallback invoked when the named service's
// primary operation fails. Re-registration replaces the previous fallback.
func (d *Degradation) RegisterFallback(service string, fallback Op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallbacks[service] = fallback
}

// ExecuteWithFallback runs primary; on any error it invokes the registered
// fallback, or rethrows when none is registered.
func (d *Degradation) ExecuteWithFallback(ctx context.Context, service string, primary Op) error {
	err := primary(ctx)
	if err == nil {
		return nil
	}

	d.mu.RLock()
	fallback, ok := d.fallbacks[service]
	d.mu.RUnlock()
	if !ok {
		return err
	}

	d.logger.Warn("primary failed, using fallback", "service", service, "error", err)
	return fallback(ctx)
}

// Degrade marks the service as degraded with a reason.
func (d *Degradation) Degrade(service, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.degraded[service]; !ok {
		d.logger.Warn("service degraded", "service", service, "reason", reason)
	}
	d.degraded[service] = degradedService{reason: reason, since: time.Now()}
}

// Restore clears the degraded mark for the service.
func (d *Degradation) Restore(service string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.degraded[service]; ok {
		d.logger.Info("service restored", "service", service)
		delete(d.degraded, service)
	}
}

// IsDegraded reports whether the service is currently degraded.
func (d *Degradation) IsDegraded(service string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.degraded[service]
	return ok
}

// DegradedServices returns the degraded service names and reasons.
func (d *Degradation) DegradedServices() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.degraded))
	for name, svc := range d.degraded {
		out[name] = svc.reason
	}
	return out
}

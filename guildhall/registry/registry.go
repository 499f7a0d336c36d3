// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package registry tracks the feature modules attached to the runtime.
// The scheduler and command dispatch resolve modules by name; a module
// that is not registered simply skips its work rather than failing.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Module is a feature module (events, roster, wishlist, scraping and
// friends). Scheduled jobs reach modules through this interface only.
type Module interface {
	// Name is the registry key, e.g. "events" or "roster".
	Name() string

	// RunJob executes one of the module's scheduled jobs. Unknown job
	// names return an error; the scheduler records it and moves on.
	RunJob(ctx context.Context, job string) error
}

// Registry is a concurrency-safe name-to-module map.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
	logger  hclog.Logger
}

func New(logger hclog.Logger) *Registry {
	return &Registry{
		modules: make(map[string]Module),
		logger:  logger.Named("registry"),
	}
}

// Register installs a module, replacing any previous registration under
// the same name.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modules[m.Name()]; ok {
		r.logger.Warn("replacing registered module", "module", m.Name())
	}
	r.modules[m.Name()] = m
}

// Get returns the module and whether it was found.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// SafeGet returns the module or nil, logging unknown names. Callers must
// treat nil as "feature absent" and skip.
func (r *Registry) SafeGet(name string) Module {
	m, ok := r.Get(name)
	if !ok {
		r.logger.Warn("unknown feature module", "module", name)
		return nil
	}
	return m
}

// Names lists registered module names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modules))
	for name := range r.modules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

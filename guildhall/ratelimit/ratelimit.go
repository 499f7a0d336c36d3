// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package ratelimit implements the cooldown tracking used by
// administrative commands. Buckets exist in three scopes (user, guild,
// global); a request is limited iff the previous non-limited request in
// its bucket was less than the cooldown ago. All state lives under a
// single mutex, operations are O(1) and short.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
)

// Scope selects which bucket map a command's cooldown lives in.
type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeGuild  Scope = "guild"
	ScopeGlobal Scope = "global"
)

// Limiter tracks last-use timestamps per command and scope.
type Limiter struct {
	mu     sync.Mutex
	user   map[string]map[int64]time.Time
	guild  map[string]map[int64]time.Time
	global map[string]time.Time

	logger hclog.Logger
	now    func() time.Time
}

// NewLimiter returns an empty limiter.
func NewLimiter(logger hclog.Logger) *Limiter {
	return &Limiter{
		user:   make(map[string]map[int64]time.Time),
		guild:  make(map[string]map[int64]time.Time),
		global: make(map[string]time.Time),
		logger: logger.Named("ratelimit"),
		now:    time.Now,
	}
}

// Check reports whether the command is currently limited in the given
// scope, and if so how long remains on the cooldown. A non-limited check
// consumes the bucket (writes now); a limited check leaves it untouched.
// A missing required ID for the scope makes the check a no-op: (false, 0).
func (l *Limiter) Check(command string, userID, guildID int64, cooldown time.Duration, scope Scope) (bool, time.Duration) {
	if cooldown <= 0 {
		return false, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	var last time.Time
	var ok bool
	switch scope {
	case ScopeUser:
		if userID == 0 {
			return false, 0
		}
		last, ok = l.user[command][userID]
	case ScopeGuild:
		if guildID == 0 {
			return false, 0
		}
		last, ok = l.guild[command][guildID]
	case ScopeGlobal:
		last, ok = l.global[command]
	default:
		l.logger.Warn("unknown rate limit scope", "scope", scope, "command", command)
		return false, 0
	}

	if ok {
		if elapsed := now.Sub(last); elapsed < cooldown {
			metrics.IncrCounter([]string{"guildhall", "ratelimit", "limited"}, 1)
			return true, cooldown - elapsed
		}
	}

	switch scope {
	case ScopeUser:
		if l.user[command] == nil {
			l.user[command] = make(map[int64]time.Time)
		}
		l.user[command][userID] = now
	case ScopeGuild:
		if l.guild[command] == nil {
			l.guild[command] = make(map[int64]time.Time)
		}
		l.guild[command][guildID] = now
	case ScopeGlobal:
		l.global[command] = now
	}
	return false, 0
}

// CleanupOld removes bucket entries older than maxAge and drops command
// keys whose bucket map becomes empty. Returns the number of entries
// removed.
func (l *Limiter) CleanupOld(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	removed := 0

	for _, buckets := range []map[string]map[int64]time.Time{l.user, l.guild} {
		for command, m := range buckets {
			for id, last := range m {
				if last.Before(cutoff) {
					delete(m, id)
					removed++
				}
			}
			if len(m) == 0 {
				delete(buckets, command)
			}
		}
	}
	for command, last := range l.global {
		if last.Before(cutoff) {
			delete(l.global, command)
			removed++
		}
	}

	if removed > 0 {
		l.logger.Debug("purged expired cooldown entries", "removed", removed)
	}
	return removed
}

// PurgeLoop runs CleanupOld(maxAge) every interval until ctx is cancelled.
// The host owns one instance of this loop.
func (l *Limiter) PurgeLoop(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.CleanupOld(maxAge)
		}
	}
}

// Size returns the total number of tracked bucket entries, for tests and
// health reporting.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.global)
	for _, m := range l.user {
		n += len(m)
	}
	for _, m := range l.guild {
		n += len(m)
	}
	return n
}

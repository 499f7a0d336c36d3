// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/hashicorp/guildhall/ci"
	"github.com/hashicorp/guildhall/helper/testlog"
)

func testLimiter(t *testing.T) (*Limiter, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(testlog.HCLogger(t))
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_UserScope(t *testing.T) {
	ci.Parallel(t)

	l, now := testLimiter(t)

	limited, remaining := l.Check("app_reset", 42, 0, 300*time.Second, ScopeUser)
	must.False(t, limited)
	must.Zero(t, remaining)

	*now = now.Add(time.Second)
	limited, remaining = l.Check("app_reset", 42, 0, 300*time.Second, ScopeUser)
	must.True(t, limited)
	must.True(t, remaining >= 299*time.Second && remaining <= 300*time.Second)

	// A different user is unaffected.
	limited, _ = l.Check("app_reset", 43, 0, 300*time.Second, ScopeUser)
	must.False(t, limited)

	// A limited check does not refresh the bucket: after the original
	// cooldown elapses the command is allowed again.
	*now = now.Add(300 * time.Second)
	limited, _ = l.Check("app_reset", 42, 0, 300*time.Second, ScopeUser)
	must.False(t, limited)
}

func TestLimiter_GuildAndGlobalScopes(t *testing.T) {
	ci.Parallel(t)

	l, now := testLimiter(t)

	limited, _ := l.Check("discord_setup", 1, 900, time.Minute, ScopeGuild)
	must.False(t, limited)
	limited, _ = l.Check("discord_setup", 2, 900, time.Minute, ScopeGuild)
	must.True(t, limited)

	limited, _ = l.Check("epic_scrape", 0, 0, time.Minute, ScopeGlobal)
	must.False(t, limited)
	*now = now.Add(30 * time.Second)
	limited, remaining := l.Check("epic_scrape", 0, 0, time.Minute, ScopeGlobal)
	must.True(t, limited)
	must.Eq(t, 30*time.Second, remaining)
}

func TestLimiter_MissingScopeID(t *testing.T) {
	ci.Parallel(t)

	l, _ := testLimiter(t)

	// No user id for a user-scoped check: silently a no-op.
	limited, remaining := l.Check("app_reset", 0, 900, time.Minute, ScopeUser)
	must.False(t, limited)
	must.Zero(t, remaining)
	must.Zero(t, l.Size())

	limited, _ = l.Check("app_reset", 42, 0, time.Minute, ScopeGuild)
	must.False(t, limited)
	must.Zero(t, l.Size())
}

func TestLimiter_ZeroCooldown(t *testing.T) {
	ci.Parallel(t)

	l, _ := testLimiter(t)
	for i := 0; i < 5; i++ {
		limited, _ := l.Check("ping", 42, 0, 0, ScopeUser)
		must.False(t, limited)
	}
}

func TestLimiter_CleanupOld(t *testing.T) {
	ci.Parallel(t)

	l, now := testLimiter(t)

	l.Check("app_reset", 42, 0, time.Minute, ScopeUser)
	l.Check("app_modify", 0, 900, time.Minute, ScopeGuild)
	l.Check("epic_scrape", 0, 0, time.Minute, ScopeGlobal)
	must.Eq(t, 3, l.Size())

	// Nothing is old enough yet.
	must.Zero(t, l.CleanupOld(24*time.Hour))

	*now = now.Add(25 * time.Hour)
	must.Eq(t, 3, l.CleanupOld(24*time.Hour))
	must.Zero(t, l.Size())

	// Empty command keys were dropped entirely.
	must.MapEmpty(t, l.user)
	must.MapEmpty(t, l.guild)
}

type staticMessenger string

func (s staticMessenger) CooldownMessage(*Invocation, time.Duration) string {
	return string(s)
}

func TestMiddleware_ShortCircuits(t *testing.T) {
	ci.Parallel(t)

	l, _ := testLimiter(t)

	calls := 0
	var responded string
	inv := &Invocation{
		Command: "app_initialize",
		UserID:  42,
		Respond: func(msg string, ephemeral bool) error {
			responded = msg
			must.True(t, ephemeral)
			return nil
		},
	}

	handler := Middleware(l, 300*time.Second, ScopeUser, staticMessenger("slow down"), testlog.HCLogger(t))(
		func(ctx context.Context, inv *Invocation) error {
			calls++
			return nil
		})

	must.NoError(t, handler(context.Background(), inv))
	must.Eq(t, 1, calls)
	must.Eq(t, "", responded)

	must.NoError(t, handler(context.Background(), inv))
	must.Eq(t, 1, calls)
	must.Eq(t, "slow down", responded)
}

func TestMiddleware_NilInvocationForwards(t *testing.T) {
	ci.Parallel(t)

	l, _ := testLimiter(t)
	calls := 0
	handler := Middleware(l, time.Minute, ScopeUser, staticMessenger("x"), testlog.HCLogger(t))(
		func(ctx context.Context, inv *Invocation) error {
			calls++
			return nil
		})
	must.NoError(t, handler(context.Background(), nil))
	must.Eq(t, 1, calls)
}

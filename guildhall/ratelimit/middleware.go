// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package ratelimit

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Invocation is the slice of a command invocation the limiter needs:
// who invoked what, where, and how to answer them. Feature modules adapt
// their chat-platform interaction objects to this.
type Invocation struct {
	Command string
	UserID  int64
	GuildID int64

	// Respond delivers a user-facing message to the invoker. Ephemeral is
	// honored where the client supports it.
	Respond func(msg string, ephemeral bool) error
}

// Handler is a command handler subject to rate limiting.
type Handler func(ctx context.Context, inv *Invocation) error

// CooldownMessenger renders the localized cooldown notice shown to a
// limited invoker. The host wires this to the translation store.
type CooldownMessenger interface {
	CooldownMessage(inv *Invocation, remaining time.Duration) string
}

// Middleware wraps next with a cooldown check. A limited invocation is
// answered with the localized cooldown message (ephemeral) and
// short-circuited. Failures to resolve the invocation are logged and
// default to forwarding.
func Middleware(l *Limiter, cooldown time.Duration, scope Scope, msgs CooldownMessenger, logger hclog.Logger) func(Handler) Handler {
	logger = logger.Named("ratelimit")
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) error {
			if inv == nil || inv.Command == "" {
				logger.Warn("could not resolve invocation context, forwarding")
				return next(ctx, inv)
			}

			limited, remaining := l.Check(inv.Command, inv.UserID, inv.GuildID, cooldown, scope)
			if !limited {
				return next(ctx, inv)
			}

			logger.Debug("command rate limited",
				"command", inv.Command, "user_id", inv.UserID, "remaining", remaining)
			if inv.Respond != nil {
				msg := msgs.CooldownMessage(inv, remaining)
				if err := inv.Respond(msg, true); err != nil {
					logger.Error("failed to deliver cooldown notice", "command", inv.Command, "error", err)
				}
			}
			return nil
		}
	}
}

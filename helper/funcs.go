// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package helper

import (
	"math/rand"
	"time"
)

// RandomStagger returns an interval between 0 and the duration.
func RandomStagger(intv time.Duration) time.Duration {
	if intv == 0 {
		return 0
	}
	return time.Duration(uint64(rand.Int63()) % uint64(intv))
}

// Backoff is used to compute an exponential backoff for a given attempt,
// capped at maxSleep.
func Backoff(baseSleep, maxSleep time.Duration, attempt uint64) time.Duration {
	if attempt > 62 {
		return maxSleep
	}

	backoff := (1 << attempt) * baseSleep
	if backoff > maxSleep || backoff < baseSleep {
		return maxSleep
	}

	return backoff
}

// TruncateToMinute drops the sub-minute component of t, preserving the
// location.
func TruncateToMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/hashicorp/guildhall/ci"
	"github.com/hashicorp/guildhall/testutil"
)

// heat drives an entry past the hot threshold with n evenly spaced
// accesses, advancing the test clock by interval between each.
func heat(c *Cache, now *time.Time, interval time.Duration, n int, category Category, args ...interface{}) {
	for i := 0; i < n; i++ {
		*now = now.Add(interval)
		c.Get(category, args...)
	}
}

func TestMaintenance_SchedulesPreloadForHotEntry(t *testing.T) {
	ci.Parallel(t)

	c, now := testCache(t)

	gate := make(chan struct{})
	var refreshed atomic.Int64
	c.RegisterRefresher(CategoryGuildData, func(ctx context.Context, key string) (bool, error) {
		<-gate
		refreshed.Add(1)
		return true, nil
	})

	c.SetWithTTL(CategoryGuildData, "v", time.Hour, int64(111))
	// Accesses every 5 minutes: prediction lands 5 minutes after the
	// last access, within 20% of the one-hour TTL, and the 10% lead puts
	// the fire time in the past so the task runs immediately.
	heat(c, now, 5*time.Minute, 8, CategoryGuildData, int64(111))

	c.SmartMaintenance(context.Background())

	key := Key(CategoryGuildData, int64(111))
	must.True(t, c.PreloadInFlight(key))

	// A second pass must not double-schedule while one is in flight.
	c.SmartMaintenance(context.Background())

	close(gate)
	testutil.WaitForResult(func() (bool, error) {
		return refreshed.Load() == 1 && !c.PreloadInFlight(key), errors.New("preload did not complete")
	}, func(err error) {
		t.Fatal(err)
	})

	must.Eq(t, uint64(1), c.Metrics().PreloadsSuccessful)
}

func TestMaintenance_NoPreloadWithoutRefresher(t *testing.T) {
	ci.Parallel(t)

	c, now := testCache(t)

	c.SetWithTTL(CategoryGuildData, "v", time.Hour, int64(111))
	heat(c, now, 5*time.Minute, 8, CategoryGuildData, int64(111))

	c.SmartMaintenance(context.Background())
	must.False(t, c.PreloadInFlight(Key(CategoryGuildData, int64(111))))
}

func TestMaintenance_WastedPreload(t *testing.T) {
	ci.Parallel(t)

	c, now := testCache(t)

	c.RegisterRefresher(CategoryGuildData, func(ctx context.Context, key string) (bool, error) {
		return false, nil
	})

	c.SetWithTTL(CategoryGuildData, "v", time.Hour, int64(111))
	heat(c, now, 5*time.Minute, 8, CategoryGuildData, int64(111))

	c.SmartMaintenance(context.Background())

	testutil.WaitForResult(func() (bool, error) {
		return c.Metrics().PreloadsWasted == 1, errors.New("wasted preload not counted")
	}, func(err error) {
		t.Fatal(err)
	})
}

func TestMaintenance_PreloadPanicCountedWasted(t *testing.T) {
	ci.Parallel(t)

	c, now := testCache(t)

	c.RegisterRefresher(CategoryGuildData, func(ctx context.Context, key string) (bool, error) {
		panic("refresh exploded")
	})

	c.SetWithTTL(CategoryGuildData, "v", time.Hour, int64(111))
	heat(c, now, 5*time.Minute, 8, CategoryGuildData, int64(111))

	c.SmartMaintenance(context.Background())

	testutil.WaitForResult(func() (bool, error) {
		return c.Metrics().PreloadsWasted == 1, errors.New("panicking preload not counted wasted")
	}, func(err error) {
		t.Fatal(err)
	})
}

func TestMaintenance_PreloadCancellationSilent(t *testing.T) {
	ci.Parallel(t)

	c, now := testCache(t)

	c.RegisterRefresher(CategoryGuildData, func(ctx context.Context, key string) (bool, error) {
		return true, nil
	})

	// 90-minute access rhythm against a 10-hour TTL: the prediction is
	// inside the 20% window but beyond the 10% lead, so the task sleeps
	// before refreshing and can be cancelled mid-sleep.
	c.SetWithTTL(CategoryGuildData, "v", 10*time.Hour, int64(111))
	heat(c, now, 90*time.Minute, 6, CategoryGuildData, int64(111))

	ctx, cancel := context.WithCancel(context.Background())
	c.SmartMaintenance(ctx)

	key := Key(CategoryGuildData, int64(111))
	must.True(t, c.PreloadInFlight(key))

	cancel()
	testutil.WaitForResult(func() (bool, error) {
		return !c.PreloadInFlight(key), errors.New("cancelled preload still registered")
	}, func(err error) {
		t.Fatal(err)
	})

	m := c.Metrics()
	must.Eq(t, uint64(0), m.PreloadsSuccessful)
	must.Eq(t, uint64(0), m.PreloadsWasted)
}

func TestMaintenance_HotSet(t *testing.T) {
	ci.Parallel(t)

	c, _ := testCache(t)

	c.Set(CategoryGuildData, "busy", int64(1))
	c.Set(CategoryGuildData, "idle", int64(2))
	for i := 0; i < 10; i++ {
		c.Get(CategoryGuildData, int64(1))
	}
	c.Get(CategoryGuildData, int64(2))

	c.SmartMaintenance(context.Background())

	hot := c.HotKeys()
	must.SliceContains(t, hot, Key(CategoryGuildData, int64(1)))
	must.Len(t, 2, hot)
}

func TestMaintenance_TopActiveGuilds(t *testing.T) {
	ci.Parallel(t)

	c, _ := testCache(t)

	for i := 0; i < 5; i++ {
		c.RecordGuildActivity(100)
	}
	for i := 0; i < 3; i++ {
		c.RecordGuildActivity(200)
	}
	c.RecordGuildActivity(300)
	c.RecordGuildActivity(400)

	top := c.topActiveGuilds(3)
	must.Len(t, 3, top)
	must.Eq(t, int64(100), top[0])
	must.Eq(t, int64(200), top[1])
}

func TestMaintenance_WarmsActiveGuilds(t *testing.T) {
	ci.Parallel(t)

	c, _ := testCache(t)

	var calls atomic.Int64
	c.RegisterRefresher(CategoryGuildData, func(ctx context.Context, key string) (bool, error) {
		calls.Add(1)
		return true, nil
	})

	c.RecordGuildActivity(111)

	c.SmartMaintenance(context.Background())

	testutil.WaitForResult(func() (bool, error) {
		return calls.Load() == 1, errors.New("active guild was not warmed")
	}, func(err error) {
		t.Fatal(err)
	})
}

func TestMaintenance_PanicSwallowed(t *testing.T) {
	ci.Parallel(t)

	c, _ := testCache(t)
	c.activity = nil // force a nil-pointer panic inside the pass

	// Must not propagate.
	c.SmartMaintenance(context.Background())
}

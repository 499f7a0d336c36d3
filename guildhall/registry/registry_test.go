// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashicorp/guildhall/ci"
	"github.com/hashicorp/guildhall/helper/testlog"
)

type fakeModule struct {
	name string
	runs int
}

func (m *fakeModule) Name() string { return m.name }

func (m *fakeModule) RunJob(ctx context.Context, job string) error {
	m.runs++
	return nil
}

func TestRegistry(t *testing.T) {
	ci.Parallel(t)

	r := New(testlog.HCLogger(t))
	events := &fakeModule{name: "events"}
	roster := &fakeModule{name: "roster"}
	r.Register(events)
	r.Register(roster)

	m, ok := r.Get("events")
	require.True(t, ok)
	require.Same(t, events, m)

	require.Equal(t, []string{"events", "roster"}, r.Names())

	// Unknown names are nil, not an error.
	require.Nil(t, r.SafeGet("voice"))
	require.Same(t, roster, r.SafeGet("roster"))

	// Re-registration replaces.
	events2 := &fakeModule{name: "events"}
	r.Register(events2)
	require.Same(t, events2, r.SafeGet("events"))
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package lang

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashicorp/guildhall/ci"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "translations.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCatalog(t *testing.T) {
	ci.Parallel(t)

	path := writeCatalog(t, `{"commands": {"app": {"initialized": {"en-US": "Guild ready", "fr": "Guilde prête"}}}}`)
	c, err := LoadCatalog(path, 0)
	require.NoError(t, err)

	msg, ok := c.Lookup("commands.app.initialized", "fr")
	require.True(t, ok)
	require.Equal(t, "Guilde prête", msg)
}

func TestLoadCatalog_StartupFailures(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		name    string
		path    func(t *testing.T) string
		maxSize int64
	}{
		{"missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.json") }, 0},
		{"empty", func(t *testing.T) string { return writeCatalog(t, "") }, 0},
		{"oversize", func(t *testing.T) string { return writeCatalog(t, `{"a": {"en-US": "x"}}`) }, 4},
		{"unparseable", func(t *testing.T) string { return writeCatalog(t, `{"a": `) }, 0},
		{"non_object", func(t *testing.T) string { return writeCatalog(t, `["a", "b"]`) }, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadCatalog(tc.path(t), tc.maxSize)
			require.Error(t, err)
		})
	}
}

func TestCatalog_Lookup(t *testing.T) {
	ci.Parallel(t)

	c := NewCatalog(map[string]interface{}{
		"events": map[string]interface{}{
			"created": map[string]interface{}{
				"en-US": "Event {name} created",
				"fr":    "Événement {name} créé",
			},
			"nested": map[string]interface{}{
				"too": map[string]interface{}{
					"deep": map[string]interface{}{
						"for": map[string]interface{}{
							"five": map[string]interface{}{"en-US": "x"},
						},
					},
				},
			},
		},
		"only_english": map[string]interface{}{"en-US": "fallback text"},
	})

	msg, ok := c.Lookup("events.created", "fr")
	require.True(t, ok)
	require.Equal(t, "Événement {name} créé", msg)

	// Unknown locale falls back to en-US.
	msg, ok = c.Lookup("only_english", "de")
	require.True(t, ok)
	require.Equal(t, "fallback text", msg)

	// Bare "en" normalizes onto en-US.
	msg, ok = c.Lookup("events.created", "en")
	require.True(t, ok)
	require.Equal(t, "Event {name} created", msg)

	// Missing node, structural mismatch (non-leaf endpoint), malformed
	// key, oversize key, and a six-segment chain all miss.
	_, ok = c.Lookup("events.deleted", "en-US")
	require.False(t, ok)
	_, ok = c.Lookup("events", "en-US")
	require.False(t, ok)
	_, ok = c.Lookup("events..created", "en-US") // empty segment traverses nothing
	require.False(t, ok)
	_, ok = c.Lookup("events;created", "en-US")
	require.False(t, ok)
	_, ok = c.Lookup(strings.Repeat("k", 101), "en-US")
	require.False(t, ok)
	_, ok = c.Lookup("events.nested.too.deep.for.five", "en-US")
	require.False(t, ok)
}

func TestSanitizeParams(t *testing.T) {
	ci.Parallel(t)

	out := SanitizeParams(map[string]interface{}{
		"name":      "Siege",
		"count":     3,
		"dkp":       12.5,
		"ok":        true,
		"long":      strings.Repeat("a", 300),
		"bad-key":   "dropped",
		"1starts":   "dropped",
		"structure": []int{1, 2, 3},
		"nothing":   nil,
	})

	require.Equal(t, "Siege", out["name"])
	require.Equal(t, "3", out["count"])
	require.Equal(t, "12.5", out["dkp"])
	require.Equal(t, "true", out["ok"])
	require.Len(t, out["long"], 200)
	require.Equal(t, "[]int", out["structure"])
	require.Equal(t, "", out["nothing"])
	require.NotContains(t, out, "bad-key")
	require.NotContains(t, out, "1starts")
}

func TestFormat(t *testing.T) {
	ci.Parallel(t)

	params := map[string]string{"name": "Siege", "count": "3"}

	require.Equal(t, "Event Siege has 3 signups",
		Format("Event {name} has {count} signups", params))

	// A placeholder the params don't cover leaves the whole message
	// unformatted.
	require.Equal(t, "Event {name} at {when}",
		Format("Event {name} at {when}", params))

	require.Equal(t, "no placeholders", Format("no placeholders", params))
}

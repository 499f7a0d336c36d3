// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package lang

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashicorp/guildhall/ci"
	"github.com/hashicorp/guildhall/guildhall/cache"
	"github.com/hashicorp/guildhall/guildhall/structs"
	"github.com/hashicorp/guildhall/helper/testlog"
)

func testTranslator(t *testing.T) (*Translator, *cache.Cache) {
	catalog := NewCatalog(map[string]interface{}{
		"greeting": map[string]interface{}{
			"en-US": "Welcome {name}",
			"fr":    "Bienvenue {name}",
			"es-ES": "Bienvenido {name}",
		},
	})
	c := cache.New(testlog.HCLogger(t))
	return NewTranslator(catalog, c, testlog.HCLogger(t)), c
}

func TestTranslator_EffectiveLocale(t *testing.T) {
	ci.Parallel(t)

	tr, c := testTranslator(t)

	// Nothing known about the guild or user.
	require.Equal(t, "en-US", tr.EffectiveLocale(111, 42))

	// Guild language is the outermost fallback.
	c.SetGuildData(111, "guild_lang", "fr")
	require.Equal(t, "fr", tr.EffectiveLocale(111, 42))

	// User setup overrides the guild.
	c.SetUserData(111, 42, "locale", "es-ES")
	require.Equal(t, "es-ES", tr.EffectiveLocale(111, 42))

	// Roster member language wins over both, with en normalized.
	c.Set(cache.CategoryRosterData, []structs.GuildMember{
		{GuildID: 111, MemberID: 42, Language: "en"},
	}, int64(111))
	require.Equal(t, "en-US", tr.EffectiveLocale(111, 42))

	// A different member's language does not leak.
	require.Equal(t, "fr", tr.EffectiveLocale(111, 43))
}

func TestTranslator_Messages(t *testing.T) {
	ci.Parallel(t)

	tr, c := testTranslator(t)
	c.SetGuildData(111, "guild_lang", "fr")

	require.Equal(t, "Bienvenue ranger",
		tr.GuildMessage(111, "greeting", map[string]interface{}{"name": "ranger"}))
	require.Equal(t, "Bienvenue ranger",
		tr.UserMessage(111, 42, "greeting", map[string]interface{}{"name": "ranger"}))

	// Missing keys degrade to an empty string, never an error.
	require.Equal(t, "", tr.GuildMessage(111, "no.such.key", nil))
}

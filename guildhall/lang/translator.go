// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package lang

import (
	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/hashicorp/guildhall/guildhall/cache"
	"github.com/hashicorp/guildhall/guildhall/structs"
)

// Translator resolves locales through the cache and renders catalog
// messages. A failed lookup yields an empty string and a log line, never
// an error: message rendering must not break command handling.
type Translator struct {
	catalog *Catalog
	cache   *cache.Cache
	logger  hclog.Logger
}

func NewTranslator(catalog *Catalog, c *cache.Cache, logger hclog.Logger) *Translator {
	return &Translator{
		catalog: catalog,
		cache:   c,
		logger:  logger.Named("lang"),
	}
}

// EffectiveLocale resolves the locale for a user in a guild: roster
// member language first, then the user-setup locale, then the guild
// language, then en-US.
func (t *Translator) EffectiveLocale(guildID, userID int64) string {
	if l := t.memberLanguage(guildID, userID); l != "" {
		return NormalizeLocale(l)
	}
	if v, ok := t.cache.GetUserData(guildID, userID, "locale"); ok {
		if l, ok := v.(string); ok && l != "" {
			return NormalizeLocale(l)
		}
	}
	return t.GuildLocale(guildID)
}

// GuildLocale resolves a guild's configured language, defaulting to
// en-US.
func (t *Translator) GuildLocale(guildID int64) string {
	if v, ok := t.cache.GetGuildData(guildID, "guild_lang"); ok {
		if l, ok := v.(string); ok && l != "" {
			return NormalizeLocale(l)
		}
	}
	return DefaultLocale
}

func (t *Translator) memberLanguage(guildID, userID int64) string {
	v, ok := t.cache.Get(cache.CategoryRosterData, guildID)
	if !ok {
		return ""
	}
	members, ok := v.([]structs.GuildMember)
	if !ok {
		return ""
	}
	for _, m := range members {
		if m.MemberID == userID {
			return m.Language
		}
	}
	return ""
}

// UserMessage renders the catalog message for a user's effective locale.
func (t *Translator) UserMessage(guildID, userID int64, key string, params map[string]interface{}) string {
	return t.render(key, t.EffectiveLocale(guildID, userID), params)
}

// GuildMessage renders the catalog message for the guild's locale.
func (t *Translator) GuildMessage(guildID int64, key string, params map[string]interface{}) string {
	return t.render(key, t.GuildLocale(guildID), params)
}

func (t *Translator) render(key, locale string, params map[string]interface{}) string {
	msg, ok := t.catalog.Lookup(key, locale)
	if !ok {
		metrics.IncrCounter([]string{"guildhall", "lang", "missing"}, 1)
		t.logger.Warn("missing translation", "key", key, "locale", locale)
		return ""
	}
	if len(params) == 0 {
		return msg
	}
	return Format(msg, SanitizeParams(params))
}

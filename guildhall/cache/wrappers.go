// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package cache

// Thin convenience wrappers used by the loader and the feature modules.
// Guild reads feed the activity tracker behind predictive preloading.

// GetGuildData reads a guild-scoped value, e.g. ("guild_lang", guildID).
func (c *Cache) GetGuildData(guildID int64, field string) (interface{}, bool) {
	c.RecordGuildActivity(guildID)
	return c.Get(CategoryGuildData, guildID, field)
}

// SetGuildData stores a guild-scoped value.
func (c *Cache) SetGuildData(guildID int64, field string, value interface{}) {
	c.Set(CategoryGuildData, value, guildID, field)
}

// GetUserData reads a per-user value scoped to a guild.
func (c *Cache) GetUserData(guildID, userID int64, field string) (interface{}, bool) {
	return c.Get(CategoryUserData, guildID, userID, field)
}

// SetUserData stores a per-user value scoped to a guild.
func (c *Cache) SetUserData(guildID, userID int64, field string, value interface{}) {
	c.Set(CategoryUserData, value, guildID, userID, field)
}

// GetStaticData reads game-static reference data, e.g. ("weapons", gameID).
func (c *Cache) GetStaticData(kind string, args ...interface{}) (interface{}, bool) {
	return c.Get(CategoryStaticData, append([]interface{}{kind}, args...)...)
}

// SetStaticData stores game-static reference data.
func (c *Cache) SetStaticData(kind string, value interface{}, args ...interface{}) {
	c.Set(CategoryStaticData, value, append([]interface{}{kind}, args...)...)
}

// GetEventsData reads event rows for a guild.
func (c *Cache) GetEventsData(guildID int64, args ...interface{}) (interface{}, bool) {
	return c.Get(CategoryEventsData, append([]interface{}{guildID}, args...)...)
}

// SetEventsData stores event rows for a guild.
func (c *Cache) SetEventsData(guildID int64, value interface{}, args ...interface{}) {
	c.Set(CategoryEventsData, value, append([]interface{}{guildID}, args...)...)
}

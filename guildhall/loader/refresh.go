// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package loader

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/guildhall/guildhall/cache"
	"github.com/hashicorp/guildhall/guildhall/structs"
)

// parseKey splits a composite cache key back into its category and
// argument segments. Refreshers only need the leading guild id.
func parseKey(key string, wantParts int) ([]string, error) {
	parts := strings.Split(key, ":")
	if len(parts) < wantParts {
		return nil, fmt.Errorf("malformed cache key %q", key)
	}
	return parts, nil
}

func guildIDFromKey(key string) (int64, error) {
	parts, err := parseKey(key, 2)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cache key %q: guild id: %w", key, err)
	}
	return id, nil
}

// refreshGuildData reloads the settings row behind a guild_data key. One
// row refresh rewrites the aggregate and every per-field entry, so a
// preload of any settings field renews them all. Non-settings fields
// (roles, channels, welcome_messages and friends) are owned by their
// feature modules and are not refreshed here.
func (l *Loader) refreshGuildData(ctx context.Context, key string) (bool, error) {
	guildID, err := guildIDFromKey(key)
	if err != nil {
		return false, err
	}

	var row structs.GuildSettings
	found, err := l.db.FetchOne(ctx, &row, QueryGuildSettingsOne, guildID)
	if err != nil {
		return false, err
	}
	if !found {
		// The guild no longer exists; let the entry expire.
		return false, nil
	}
	l.setGuildSettings(row)
	return true, nil
}

// refreshRosterData reloads the member roster for the guild behind the
// key.
func (l *Loader) refreshRosterData(ctx context.Context, key string) (bool, error) {
	guildID, err := guildIDFromKey(key)
	if err != nil {
		return false, err
	}

	var members []structs.GuildMember
	if err := l.db.FetchAll(ctx, &members, QueryGuildMembersByGuild, guildID); err != nil {
		return false, err
	}
	l.cache.Set(cache.CategoryRosterData, members, guildID)
	return true, nil
}

// refreshEventsData reloads event rows for the guild behind the key.
func (l *Loader) refreshEventsData(ctx context.Context, key string) (bool, error) {
	guildID, err := guildIDFromKey(key)
	if err != nil {
		return false, err
	}

	var events []structs.Event
	if err := l.db.FetchAll(ctx, &events, QueryEventsDataByGuild, guildID); err != nil {
		return false, err
	}
	l.cache.SetEventsData(guildID, events)
	return true, nil
}

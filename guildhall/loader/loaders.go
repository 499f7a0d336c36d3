// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package loader

import (
	"context"

	"github.com/hashicorp/guildhall/guildhall/cache"
	"github.com/hashicorp/guildhall/guildhall/structs"
)

// Queries are exported as constants so tests can match them exactly.
const (
	QueryGuildSettings       = `SELECT guild_id, guild_ptb, guild_lang, guild_name, guild_game, guild_server, initialized, premium FROM guild_settings`
	QueryGuildSettingsOne    = `SELECT guild_id, guild_ptb, guild_lang, guild_name, guild_game, guild_server, initialized, premium FROM guild_settings WHERE guild_id = $1`
	QueryGuildRoles          = `SELECT * FROM guild_roles`
	QueryGuildChannels       = `SELECT * FROM guild_channels`
	QueryWelcomeMessages     = `SELECT guild_id, member_id, channel_id, message_id FROM welcome_messages`
	QueryGuildMembers        = `SELECT guild_id, member_id, username, language, class, gs, build, weapons, dkp, nb_events, registrations, attendances FROM guild_members`
	QueryGuildMembersByGuild = `SELECT guild_id, member_id, username, language, class, gs, build, weapons, dkp, nb_events, registrations, attendances FROM guild_members WHERE guild_id = $1`
	QueryEventsData          = `SELECT guild_id, event_id, name, event_date, event_time, duration, dkp_value, dkp_ins, status, registrations, actual_presence FROM events_data`
	QueryEventsDataByGuild   = `SELECT guild_id, event_id, name, event_date, event_time, duration, dkp_value, dkp_ins, status, registrations, actual_presence FROM events_data WHERE guild_id = $1`
	QueryStaticGroups        = `SELECT id, guild_id, group_name, leader_id, is_active FROM guild_static_groups`
	QueryStaticMembers       = `SELECT group_id, member_id, position_order FROM guild_static_members ORDER BY group_id, position_order`
	QueryUserSetup           = `SELECT guild_id, user_id, locale, gs, weapons FROM user_setup`
	QueryWeapons             = `SELECT game_id, code, name FROM weapons`
	QueryWeaponsCombinations = `SELECT game_id, role, weapon1, weapon2 FROM weapons_combinations`
	QueryIdealStaff          = `SELECT guild_id, class_name, ideal_count FROM guild_ideal_staff`
	QueryGamesList           = `SELECT id, game_name, max_members FROM games_list`
	QueryEpicItems           = `SELECT item_id, item_type, item_category, item_name_en, item_name_fr, item_name_es, item_name_de, item_url, item_icon_url FROM epic_items_t2`
	QueryEventsCalendar      = `SELECT game_id, id, name, day, time, duration, week, dkp_value, dkp_ins FROM events_calendar`
	QueryPTBSettings         = `SELECT guild_id, ptb_guild_id, info_channel_id FROM guild_ptb_settings`
)

// guildSettingsFields are the per-field entries written alongside the
// settings aggregate so features can read one field without the row.
func (l *Loader) setGuildSettings(row structs.GuildSettings) {
	l.cache.SetGuildData(row.GuildID, "settings", row)
	l.cache.SetGuildData(row.GuildID, "guild_lang", row.GuildLang)
	l.cache.SetGuildData(row.GuildID, "guild_name", row.GuildName)
	l.cache.SetGuildData(row.GuildID, "guild_game", row.GuildGame)
	l.cache.SetGuildData(row.GuildID, "guild_server", row.GuildServer)
	l.cache.SetGuildData(row.GuildID, "guild_ptb", row.GuildPTB)
	l.cache.SetGuildData(row.GuildID, "initialized", row.Initialized)
	l.cache.SetGuildData(row.GuildID, "premium", row.Premium)
}

func (l *Loader) loadGuildSettings(ctx context.Context) error {
	var rows []structs.GuildSettings
	if err := l.db.FetchAll(ctx, &rows, QueryGuildSettings); err != nil {
		return err
	}
	for _, row := range rows {
		l.setGuildSettings(row)
	}
	return nil
}

func (l *Loader) loadGuildRoles(ctx context.Context) error {
	var rows []structs.GuildRoles
	if err := l.db.FetchAll(ctx, &rows, QueryGuildRoles); err != nil {
		return err
	}
	for _, row := range rows {
		l.cache.SetGuildData(row.GuildID, "roles", row)
	}
	return nil
}

func (l *Loader) loadGuildChannels(ctx context.Context) error {
	var rows []structs.GuildChannels
	if err := l.db.FetchAll(ctx, &rows, QueryGuildChannels); err != nil {
		return err
	}
	for _, row := range rows {
		// Both the aggregate and the individually addressed channels are
		// written.
		l.cache.SetGuildData(row.GuildID, "channels", row)
		l.cache.SetGuildData(row.GuildID, "events_channel", row.EventsChannel)
		l.cache.SetGuildData(row.GuildID, "members_channel", row.MembersChannel)
		l.cache.SetGuildData(row.GuildID, "announcements_channel", row.AnnouncementsChannel)
		l.cache.SetGuildData(row.GuildID, "notifications_channel", row.NotificationsChannel)
		l.cache.SetGuildData(row.GuildID, "create_room_channel", row.CreateRoomChannel)
		l.cache.SetGuildData(row.GuildID, "abs_channel", row.AbsChannel)
		l.cache.SetGuildData(row.GuildID, "loot_channel", row.LootChannel)
		l.cache.SetGuildData(row.GuildID, "statics_channel", row.StaticsChannel)
		l.cache.SetGuildData(row.GuildID, "groups_channel", row.GroupsChannel)
	}
	return nil
}

func (l *Loader) loadWelcomeMessages(ctx context.Context) error {
	var rows []structs.WelcomeMessage
	if err := l.db.FetchAll(ctx, &rows, QueryWelcomeMessages); err != nil {
		return err
	}
	byGuild := make(map[int64]map[int64]structs.WelcomeMessage)
	for _, row := range rows {
		if byGuild[row.GuildID] == nil {
			byGuild[row.GuildID] = make(map[int64]structs.WelcomeMessage)
		}
		byGuild[row.GuildID][row.MemberID] = row
	}
	for guildID, messages := range byGuild {
		l.cache.SetGuildData(guildID, "welcome_messages", messages)
	}
	return nil
}

// loadAbsenceMessages is a marker only: absence messages are managed
// live by their feature module.
func (l *Loader) loadAbsenceMessages(context.Context) error {
	return nil
}

func (l *Loader) loadGuildMembers(ctx context.Context) error {
	var rows []structs.GuildMember
	if err := l.db.FetchAll(ctx, &rows, QueryGuildMembers); err != nil {
		return err
	}
	byGuild := make(map[int64][]structs.GuildMember)
	for _, row := range rows {
		byGuild[row.GuildID] = append(byGuild[row.GuildID], row)
	}
	for guildID, members := range byGuild {
		l.cache.Set(cache.CategoryRosterData, members, guildID)
	}
	return nil
}

func (l *Loader) loadEventsData(ctx context.Context) error {
	var rows []structs.Event
	if err := l.db.FetchAll(ctx, &rows, QueryEventsData); err != nil {
		return err
	}
	byGuild := make(map[int64][]structs.Event)
	for _, row := range rows {
		byGuild[row.GuildID] = append(byGuild[row.GuildID], row)
	}
	for guildID, events := range byGuild {
		l.cache.SetEventsData(guildID, events)
	}
	return nil
}

// loadStaticData composes static groups with their ordered members into
// one per-guild aggregate.
func (l *Loader) loadStaticData(ctx context.Context) error {
	var groups []structs.StaticGroup
	if err := l.db.FetchAll(ctx, &groups, QueryStaticGroups); err != nil {
		return err
	}
	var members []structs.StaticGroupMember
	if err := l.db.FetchAll(ctx, &members, QueryStaticMembers); err != nil {
		return err
	}

	byGroup := make(map[int64][]structs.StaticGroupMember)
	for _, m := range members {
		byGroup[m.GroupID] = append(byGroup[m.GroupID], m)
	}

	type composedGroup struct {
		Group   structs.StaticGroup
		Members []structs.StaticGroupMember
	}
	byGuild := make(map[int64][]composedGroup)
	for _, g := range groups {
		byGuild[g.GuildID] = append(byGuild[g.GuildID], composedGroup{Group: g, Members: byGroup[g.ID]})
	}
	for guildID, composed := range byGuild {
		l.cache.SetGuildData(guildID, "static_groups", composed)
	}
	return nil
}

func (l *Loader) loadStaticGroups(ctx context.Context) error {
	var groups []structs.StaticGroup
	if err := l.db.FetchAll(ctx, &groups, QueryStaticGroups); err != nil {
		return err
	}
	byGuild := make(map[int64][]structs.StaticGroup)
	for _, g := range groups {
		byGuild[g.GuildID] = append(byGuild[g.GuildID], g)
	}
	for guildID, rows := range byGuild {
		l.cache.SetStaticData("groups", rows, guildID)
	}
	return nil
}

func (l *Loader) loadUserSetup(ctx context.Context) error {
	var rows []structs.UserSetup
	if err := l.db.FetchAll(ctx, &rows, QueryUserSetup); err != nil {
		return err
	}
	for _, row := range rows {
		l.cache.SetUserData(row.GuildID, row.UserID, "setup", row)
		l.cache.SetUserData(row.GuildID, row.UserID, "locale", row.Locale)
	}
	return nil
}

func (l *Loader) loadWeapons(ctx context.Context) error {
	var rows []structs.Weapon
	if err := l.db.FetchAll(ctx, &rows, QueryWeapons); err != nil {
		return err
	}
	byGame := make(map[int64][]structs.Weapon)
	for _, row := range rows {
		byGame[row.GameID] = append(byGame[row.GameID], row)
	}
	for gameID, weapons := range byGame {
		l.cache.SetStaticData("weapons", weapons, gameID)
	}
	return nil
}

func (l *Loader) loadWeaponsCombinations(ctx context.Context) error {
	var rows []structs.WeaponCombination
	if err := l.db.FetchAll(ctx, &rows, QueryWeaponsCombinations); err != nil {
		return err
	}
	byGame := make(map[int64][]structs.WeaponCombination)
	for _, row := range rows {
		byGame[row.GameID] = append(byGame[row.GameID], row)
	}
	for gameID, combos := range byGame {
		l.cache.SetStaticData("weapons_combinations", combos, gameID)
	}
	return nil
}

func (l *Loader) loadGuildIdealStaff(ctx context.Context) error {
	var rows []structs.IdealStaff
	if err := l.db.FetchAll(ctx, &rows, QueryIdealStaff); err != nil {
		return err
	}
	byGuild := make(map[int64][]structs.IdealStaff)
	for _, row := range rows {
		byGuild[row.GuildID] = append(byGuild[row.GuildID], row)
	}
	for guildID, staff := range byGuild {
		l.cache.SetGuildData(guildID, "ideal_staff", staff)
	}
	return nil
}

func (l *Loader) loadGamesList(ctx context.Context) error {
	var rows []structs.Game
	if err := l.db.FetchAll(ctx, &rows, QueryGamesList); err != nil {
		return err
	}
	l.cache.SetStaticData("games_list", rows)
	for _, row := range rows {
		l.cache.SetStaticData("game", row, row.ID)
	}
	return nil
}

func (l *Loader) loadEpicItems(ctx context.Context) error {
	var rows []structs.EpicItem
	if err := l.db.FetchAll(ctx, &rows, QueryEpicItems); err != nil {
		return err
	}
	l.cache.SetStaticData("epic_items_t2", rows)
	return nil
}

func (l *Loader) loadEventsCalendar(ctx context.Context) error {
	var rows []structs.CalendarEvent
	if err := l.db.FetchAll(ctx, &rows, QueryEventsCalendar); err != nil {
		return err
	}
	byGame := make(map[int64][]structs.CalendarEvent)
	for _, row := range rows {
		byGame[row.GameID] = append(byGame[row.GameID], row)
	}
	for gameID, events := range byGame {
		l.cache.SetStaticData("events_calendar", events, gameID)
	}
	return nil
}

func (l *Loader) loadPTBSettings(ctx context.Context) error {
	var rows []structs.PTBSettings
	if err := l.db.FetchAll(ctx, &rows, QueryPTBSettings); err != nil {
		return err
	}
	for _, row := range rows {
		l.cache.SetGuildData(row.GuildID, "ptb_settings", row)
	}
	return nil
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package structs holds the row types shared between the database layer,
// the cache loader and the feature modules, plus the typed errors of the
// core runtime. It deliberately has no dependencies on the rest of the
// tree so every package can import it.
package structs

import (
	"time"
)

// GuildSettings is one row of guild_settings, the anchor table every other
// guild-scoped table hangs off.
type GuildSettings struct {
	GuildID     int64  `db:"guild_id"`
	GuildPTB    bool   `db:"guild_ptb"`
	GuildLang   string `db:"guild_lang"`
	GuildName   string `db:"guild_name"`
	GuildGame   int64  `db:"guild_game"`
	GuildServer string `db:"guild_server"`
	Initialized bool   `db:"initialized"`
	Premium     bool   `db:"premium"`
}

// GuildRoles maps the chat-platform role IDs a guild has provisioned.
type GuildRoles struct {
	GuildID       int64 `db:"guild_id"`
	GuildMaster   int64 `db:"guild_master"`
	Officer       int64 `db:"officer"`
	Guardian      int64 `db:"guardian"`
	Members       int64 `db:"members"`
	AbsentMembers int64 `db:"absent_members"`
	Allies        int64 `db:"allies"`
	Diplomats     int64 `db:"diplomats"`
	Friends       int64 `db:"friends"`
	Applicant     int64 `db:"applicant"`
	ConfigOK      bool  `db:"config_ok"`
	RulesOK       bool  `db:"rules_ok"`
}

// GuildChannels maps the channel and message IDs a guild has provisioned.
// The loader writes both the aggregate and per-field cache entries from
// this row.
type GuildChannels struct {
	GuildID                    int64 `db:"guild_id"`
	RulesChannel               int64 `db:"rules_channel"`
	RulesMessage               int64 `db:"rules_message"`
	AnnouncementsChannel       int64 `db:"announcements_channel"`
	VoiceTavernChannel         int64 `db:"voice_tavern_channel"`
	VoiceWarChannel            int64 `db:"voice_war_channel"`
	CreateRoomChannel          int64 `db:"create_room_channel"`
	EventsChannel              int64 `db:"events_channel"`
	MembersChannel             int64 `db:"members_channel"`
	MembersM1                  int64 `db:"members_m1"`
	MembersM2                  int64 `db:"members_m2"`
	MembersM3                  int64 `db:"members_m3"`
	MembersM4                  int64 `db:"members_m4"`
	MembersM5                  int64 `db:"members_m5"`
	GroupsChannel              int64 `db:"groups_channel"`
	StaticsChannel             int64 `db:"statics_channel"`
	StaticsMessage             int64 `db:"statics_message"`
	AbsChannel                 int64 `db:"abs_channel"`
	LootChannel                int64 `db:"loot_channel"`
	LootMessage                int64 `db:"loot_message"`
	TutoChannel                int64 `db:"tuto_channel"`
	ForumAlliesChannel         int64 `db:"forum_allies_channel"`
	ForumFriendsChannel        int64 `db:"forum_friends_channel"`
	ForumDiplomatsChannel      int64 `db:"forum_diplomats_channel"`
	ForumRecruitmentChannel    int64 `db:"forum_recruitment_channel"`
	ForumMembersChannel        int64 `db:"forum_members_channel"`
	NotificationsChannel       int64 `db:"notifications_channel"`
	ExternalRecruitmentCat     int64 `db:"external_recruitment_cat"`
	CategoryDiplomat           int64 `db:"category_diplomat"`
	ExternalRecruitmentChannel int64 `db:"external_recruitment_channel"`
	ExternalRecruitmentMessage int64 `db:"external_recruitment_message"`
}

// GuildMember is one row of guild_members (composite PK guild_id,
// member_id).
type GuildMember struct {
	GuildID       int64   `db:"guild_id"`
	MemberID      int64   `db:"member_id"`
	Username      string  `db:"username"`
	Language      string  `db:"language"`
	Class         string  `db:"class"`
	GS            int     `db:"gs"`
	Build         string  `db:"build"`
	Weapons       string  `db:"weapons"`
	DKP           float64 `db:"dkp"`
	NbEvents      int     `db:"nb_events"`
	Registrations int     `db:"registrations"`
	Attendances   int     `db:"attendances"`
}

// Event is one row of events_data. Registrations and ActualPresence are
// stored as JSON documents; the cache keeps them opaque.
type Event struct {
	GuildID        int64   `db:"guild_id"`
	EventID        int64   `db:"event_id"`
	Name           string  `db:"name"`
	EventDate      string  `db:"event_date"`
	EventTime      string  `db:"event_time"`
	Duration       int     `db:"duration"`
	DKPValue       float64 `db:"dkp_value"`
	DKPIns         float64 `db:"dkp_ins"`
	Status         string  `db:"status"`
	Registrations  []byte  `db:"registrations"`
	ActualPresence []byte  `db:"actual_presence"`
}

// WelcomeMessage tracks the welcome message posted for a joining member so
// it can be cleaned up later.
type WelcomeMessage struct {
	GuildID   int64 `db:"guild_id"`
	MemberID  int64 `db:"member_id"`
	ChannelID int64 `db:"channel_id"`
	MessageID int64 `db:"message_id"`
}

// UserSetup is the per-user onboarding state (locale, gear score, weapon
// picks) keyed by guild and user.
type UserSetup struct {
	GuildID int64  `db:"guild_id"`
	UserID  int64  `db:"user_id"`
	Locale  string `db:"locale"`
	GS      int    `db:"gs"`
	Weapons string `db:"weapons"`
}

// DynamicVoiceChannel is a live voice channel created on demand.
type DynamicVoiceChannel struct {
	ChannelID int64 `db:"channel_id"`
	GuildID   int64 `db:"guild_id"`
}

// PTBSettings links a main guild to its PTB satellite server and the
// twelve group role/channel pairs provisioned there.
type PTBSettings struct {
	GuildID       int64   `db:"guild_id"`
	PTBGuildID    int64   `db:"ptb_guild_id"`
	InfoChannelID int64   `db:"info_channel_id"`
	GroupRoles    []int64 `db:"-"`
	GroupChannels []int64 `db:"-"`
}

// Weapon is one row of the static weapons table.
type Weapon struct {
	GameID int64  `db:"game_id"`
	Code   string `db:"code"`
	Name   string `db:"name"`
}

// WeaponCombination maps a role to a valid weapon pairing for a game.
type WeaponCombination struct {
	GameID  int64  `db:"game_id"`
	Role    string `db:"role"`
	Weapon1 string `db:"weapon1"`
	Weapon2 string `db:"weapon2"`
}

// Game is one row of games_list.
type Game struct {
	ID         int64  `db:"id"`
	GameName   string `db:"game_name"`
	MaxMembers int    `db:"max_members"`
}

// CalendarEvent is a recurring event template from events_calendar.
type CalendarEvent struct {
	GameID   int64   `db:"game_id"`
	ID       int64   `db:"id"`
	Name     string  `db:"name"`
	Day      string  `db:"day"`
	Time     string  `db:"time"`
	Duration int     `db:"duration"`
	Week     string  `db:"week"`
	DKPValue float64 `db:"dkp_value"`
	DKPIns   float64 `db:"dkp_ins"`
}

// EpicItem is one row of epic_items_t2 with its localized names.
type EpicItem struct {
	ItemID       string `db:"item_id"`
	ItemType     string `db:"item_type"`
	ItemCategory string `db:"item_category"`
	ItemNameEN   string `db:"item_name_en"`
	ItemNameFR   string `db:"item_name_fr"`
	ItemNameES   string `db:"item_name_es"`
	ItemNameDE   string `db:"item_name_de"`
	ItemURL      string `db:"item_url"`
	ItemIconURL  string `db:"item_icon_url"`
}

// IdealStaff is a guild's target headcount per class.
type IdealStaff struct {
	GuildID    int64  `db:"guild_id"`
	ClassName  string `db:"class_name"`
	IdealCount int    `db:"ideal_count"`
}

// StaticGroup is a persistent raid group.
type StaticGroup struct {
	ID        int64  `db:"id"`
	GuildID   int64  `db:"guild_id"`
	GroupName string `db:"group_name"`
	LeaderID  int64  `db:"leader_id"`
	IsActive  bool   `db:"is_active"`
}

// StaticGroupMember is one member slot of a static group.
type StaticGroupMember struct {
	GroupID       int64 `db:"group_id"`
	MemberID      int64 `db:"member_id"`
	PositionOrder int   `db:"position_order"`
}

// ScrapeRecord is one run of the epic-items scraper, persisted to
// epic_items_scraping_history.
type ScrapeRecord struct {
	ItemsScraped         int     `db:"items_scraped"`
	ItemsAdded           int     `db:"items_added"`
	ItemsUpdated         int     `db:"items_updated"`
	ItemsDeleted         int     `db:"items_deleted"`
	Status               string  `db:"status"`
	ExecutionTimeSeconds float64 `db:"execution_time_seconds"`
	ErrorMessage         *string `db:"error_message"`
}

// HealthState is the coarse band used by the aggregated health probe.
type HealthState string

const (
	HealthHealthy HealthState = "healthy"
	HealthWarning HealthState = "warning"
	HealthError   HealthState = "error"
)

// DBHealthBand buckets a database round-trip latency into the probe bands.
func DBHealthBand(latency time.Duration) HealthState {
	switch {
	case latency <= time.Second:
		return HealthHealthy
	case latency <= 5*time.Second:
		return HealthWarning
	default:
		return HealthError
	}
}

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bryan-buckman/skyvault/internal/model"
)

// File names, one per store.
const (
	SubscriptionsFile    = "subs.db"
	BookmarksFile        = "bookmarks.db"
	DownloadsFile        = "videodownloads.db"
	PlaybackFile         = "playbackhistory.db"
	SearchHistoryFile    = "searchHistory.db"
	ChannelFilteringFile = "channelFiltering.db"
	BackupFile           = "backup.db"
)

// Table names.
const (
	tableSubs          = "Subs"
	tableSubsVideos    = "SubsVideos"
	tableCategories    = "Categories"
	tableBookmarks     = "Bookmarks"
	tableDownloads     = "DownloadedVideos"
	tablePlayback      = "PlaybackHistory"
	tableSearchHistory = "SearchHistory"
	tableBlacklist     = "Blacklist"
	tableWhitelist     = "Whitelist"
	tableBackup        = "Backup"
)

// --- subs.db ---

const createSubsV1 = `
CREATE TABLE IF NOT EXISTS Subs (
	_id INTEGER PRIMARY KEY ASC,
	Channel_Id TEXT UNIQUE NOT NULL,
	Last_Visit_Time INTEGER NOT NULL DEFAULT 0
)`

const createSubsVideosV1 = `
CREATE TABLE IF NOT EXISTS SubsVideos (
	YouTube_Video_Id TEXT PRIMARY KEY NOT NULL,
	Channel_Id TEXT NOT NULL,
	YouTube_Video BLOB
)`

const createCategories = `
CREATE TABLE IF NOT EXISTS Categories (
	_id INTEGER PRIMARY KEY AUTOINCREMENT,
	Label TEXT NOT NULL UNIQUE,
	Builtin INTEGER NOT NULL DEFAULT 0,
	Enabled INTEGER NOT NULL DEFAULT 1,
	Priority INTEGER NOT NULL,
	Icon TEXT NOT NULL DEFAULT ''
)`

const createSubsVideosIndex = `
CREATE INDEX IF NOT EXISTS idx_subsvideos_channel_publish
	ON SubsVideos (Channel_Id, Publish_Timestamp)`

// SubscriptionsSchema is subs.db: subscriptions, their cached feed videos
// and categories.
//
//	v2: channel metadata, publish and retrieval timestamps
//	v3: categories
var SubscriptionsSchema = Schema{
	Name:    SubscriptionsFile,
	Version: 3,
	Create: func(ctx context.Context, tx *sql.Tx) error {
		if err := execStatements(ctx, tx, createSubsV1, createSubsVideosV1); err != nil {
			return err
		}
		return upgradeSubs(ctx, tx, 1, 3)
	},
	Upgrade: upgradeSubs,
}

func upgradeSubs(ctx context.Context, tx *sql.Tx, oldVersion, newVersion int) error {
	if Step(2, oldVersion, newVersion) {
		cols := []struct{ table, col, def string }{
			{tableSubs, "Title", "TEXT NOT NULL DEFAULT ''"},
			{tableSubs, "Description", "TEXT NOT NULL DEFAULT ''"},
			{tableSubs, "Thumbnail_Url", "TEXT NOT NULL DEFAULT ''"},
			{tableSubs, "Banner_Url", "TEXT NOT NULL DEFAULT ''"},
			{tableSubs, "Subscriber_Count", "INTEGER NOT NULL DEFAULT 0"},
			{tableSubs, "Last_Video_Fetch", "INTEGER NOT NULL DEFAULT 0"},
			{tableSubsVideos, "Publish_Timestamp", "INTEGER"},
			{tableSubsVideos, "Retrieval_Timestamp", "INTEGER"},
		}
		for _, c := range cols {
			if err := addColumnIfMissing(ctx, tx, c.table, c.col, c.def); err != nil {
				return err
			}
		}
	}
	if Step(3, oldVersion, newVersion) {
		if err := execStatements(ctx, tx, createCategories, createSubsVideosIndex); err != nil {
			return err
		}
		if err := addColumnIfMissing(ctx, tx, tableSubs, "Category_Id", "INTEGER"); err != nil {
			return err
		}
		if err := setupBuiltinCategories(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func setupBuiltinCategories(ctx context.Context, tx *sql.Tx) error {
	for _, label := range model.BuiltinCategories {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO Categories (Label, Builtin, Enabled, Priority)
			VALUES (?, 1, 1, (SELECT COALESCE(MAX(Priority), 0) + 1 FROM Categories))
			ON CONFLICT(Label) DO NOTHING`, label)
		if err != nil {
			return fmt.Errorf("insert builtin category %s: %w", label, err)
		}
	}
	return nil
}

// --- bookmarks.db ---

// BookmarksSchema is bookmarks.db.
var BookmarksSchema = Schema{
	Name:    BookmarksFile,
	Version: 1,
	Create: func(ctx context.Context, tx *sql.Tx) error {
		return execStatements(ctx, tx, `
			CREATE TABLE IF NOT EXISTS Bookmarks (
				YouTube_Video_Id TEXT PRIMARY KEY NOT NULL,
				YouTube_Video BLOB,
				Order_Index INTEGER NOT NULL
			)`)
	},
}

// --- videodownloads.db ---

// DownloadsSchema is videodownloads.db.
//
//	v2: audio file uri
//	v3: sponsor segments
var DownloadsSchema = Schema{
	Name:    DownloadsFile,
	Version: 3,
	Create: func(ctx context.Context, tx *sql.Tx) error {
		err := execStatements(ctx, tx, `
			CREATE TABLE IF NOT EXISTS DownloadedVideos (
				YouTube_Video_Id TEXT PRIMARY KEY NOT NULL,
				YouTube_Video BLOB,
				File_URI TEXT,
				Order_Index INTEGER NOT NULL
			)`)
		if err != nil {
			return err
		}
		return upgradeDownloads(ctx, tx, 1, 3)
	},
	Upgrade: upgradeDownloads,
}

func upgradeDownloads(ctx context.Context, tx *sql.Tx, oldVersion, newVersion int) error {
	if Step(2, oldVersion, newVersion) {
		if err := addColumnIfMissing(ctx, tx, tableDownloads, "Audio_URI", "TEXT"); err != nil {
			return err
		}
	}
	if Step(3, oldVersion, newVersion) {
		if err := addColumnIfMissing(ctx, tx, tableDownloads, "Sponsor_Segments", "TEXT"); err != nil {
			return err
		}
	}
	return nil
}

// --- playbackhistory.db ---

// PlaybackSchema is playbackhistory.db.
var PlaybackSchema = Schema{
	Name:    PlaybackFile,
	Version: 1,
	Create: func(ctx context.Context, tx *sql.Tx) error {
		return execStatements(ctx, tx, `
			CREATE TABLE IF NOT EXISTS PlaybackHistory (
				YouTube_Video_Id TEXT PRIMARY KEY NOT NULL,
				Position INTEGER NOT NULL DEFAULT 0,
				Watched INTEGER NOT NULL DEFAULT 0
			)`)
	},
}

// --- searchHistory.db ---

// SearchHistorySchema is searchHistory.db.
var SearchHistorySchema = Schema{
	Name:    SearchHistoryFile,
	Version: 1,
	Create: func(ctx context.Context, tx *sql.Tx) error {
		return execStatements(ctx, tx, `
			CREATE TABLE IF NOT EXISTS SearchHistory (
				_id INTEGER PRIMARY KEY AUTOINCREMENT,
				Search_Text TEXT NOT NULL UNIQUE,
				Search_Date INTEGER NOT NULL
			)`)
	},
}

// --- channelFiltering.db ---

const createFilterTable = `
CREATE TABLE IF NOT EXISTS %s (
	Channel_Id TEXT PRIMARY KEY NOT NULL,
	Channel_Name TEXT NOT NULL DEFAULT ''
)`

// ChannelFilteringSchema is channelFiltering.db.
//
//	v2: whitelist
var ChannelFilteringSchema = Schema{
	Name:    ChannelFilteringFile,
	Version: 2,
	Create: func(ctx context.Context, tx *sql.Tx) error {
		if err := execStatements(ctx, tx, fmt.Sprintf(createFilterTable, tableBlacklist)); err != nil {
			return err
		}
		return upgradeChannelFiltering(ctx, tx, 1, 2)
	},
	Upgrade: upgradeChannelFiltering,
}

func upgradeChannelFiltering(ctx context.Context, tx *sql.Tx, oldVersion, newVersion int) error {
	if Step(2, oldVersion, newVersion) {
		return execStatements(ctx, tx, fmt.Sprintf(createFilterTable, tableWhitelist))
	}
	return nil
}

// --- backup.db ---

// BackupSchema is backup.db. The table holds at most one row.
var BackupSchema = Schema{
	Name:    BackupFile,
	Version: 1,
	Create: func(ctx context.Context, tx *sql.Tx) error {
		return execStatements(ctx, tx, `
			CREATE TABLE IF NOT EXISTS Backup (
				_id INTEGER PRIMARY KEY CHECK (_id = 1),
				Default_Tab TEXT NOT NULL DEFAULT '',
				Hidden_Tabs TEXT NOT NULL DEFAULT '[]',
				Preferred_Backend TEXT NOT NULL DEFAULT '',
				Sort_Order TEXT NOT NULL DEFAULT '',
				Api_Key TEXT NOT NULL DEFAULT ''
			)`)
	},
}

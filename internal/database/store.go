package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/bryan-buckman/skyvault/internal/notify"
)

// FeedStore is the part of the subscriptions store used by the feed
// refresher. *Subscriptions satisfies it.
type FeedStore interface {
	SubscribedChannels(ctx context.Context) ([]model.Channel, error)
	SaveChannelVideos(ctx context.Context, channelID string, videos []model.Video, update bool) (int, error)
	UpdateChannelInfo(ctx context.Context, ch model.Channel) (Result, error)
	TrimSubscriptionVideos(ctx context.Context) (int64, error)
}

// FilterStore answers the questions the channel filter asks.
// *ChannelFiltering satisfies it.
type FilterStore interface {
	ChannelIDs(ctx context.Context, list FilterList) (map[string]struct{}, error)
	Add(ctx context.Context, list FilterList, channelID, name string) (Result, error)
	Remove(ctx context.Context, list FilterList, channelIDs ...string) (Result, error)
}

// Options configures OpenAll.
type Options struct {
	DataDir               string
	Downloads             DownloadOptions
	PlaybackEnabled       bool
	SearchHistoryDisabled bool
	// Translator resolves builtin category labels; nil leaves them as keys.
	Translator Translator
}

// Stores holds every store, each on its own database file.
type Stores struct {
	Subscriptions *Subscriptions
	Categories    *Categories
	Bookmarks     *Bookmarks
	Downloads     *Downloads
	Playback      *PlaybackStatus
	Filtering     *ChannelFiltering
	SearchHistory *SearchHistory
	Backup        *Backup

	dbs []*DB
}

// OpenAll opens every database file under opts.DataDir. On failure the
// files opened so far are closed again.
func OpenAll(ctx context.Context, opts Options) (*Stores, error) {
	s := &Stores{}
	open := func(schema Schema) (*DB, error) {
		db, err := Open(ctx, opts.DataDir, schema)
		if err != nil {
			return nil, err
		}
		s.dbs = append(s.dbs, db)
		return db, nil
	}

	fail := func(e error) (*Stores, error) {
		return nil, errors.Join(e, s.Close())
	}

	subs, err := open(SubscriptionsSchema)
	if err != nil {
		return fail(err)
	}
	s.Subscriptions = NewSubscriptions(subs)
	s.Categories = NewCategories(subs, opts.Translator)

	bookmarks, err := open(BookmarksSchema)
	if err != nil {
		return fail(err)
	}
	s.Bookmarks = NewBookmarks(bookmarks)

	downloads, err := open(DownloadsSchema)
	if err != nil {
		return fail(err)
	}
	s.Downloads = NewDownloads(downloads, opts.Downloads)

	playback, err := open(PlaybackSchema)
	if err != nil {
		return fail(err)
	}
	s.Playback = NewPlaybackStatus(playback, opts.PlaybackEnabled)

	filtering, err := open(ChannelFilteringSchema)
	if err != nil {
		return fail(err)
	}
	s.Filtering = NewChannelFiltering(filtering)

	search, err := open(SearchHistorySchema)
	if err != nil {
		return fail(err)
	}
	s.SearchHistory = NewSearchHistory(search, opts.SearchHistoryDisabled)

	backup, err := open(BackupSchema)
	if err != nil {
		return fail(err)
	}
	s.Backup = NewBackup(backup)

	return s, nil
}

// Registries returns the listener registries of all stores that notify.
func (s *Stores) Registries() []*notify.Registry {
	return []*notify.Registry{
		s.Subscriptions.Events(),
		s.Categories.Events(),
		s.Bookmarks.Events(),
		s.Downloads.Events(),
		s.Playback.Events(),
		s.Filtering.Events(),
		s.SearchHistory.Events(),
	}
}

// Close closes every database file.
func (s *Stores) Close() error {
	var errs []error
	for _, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", db.Name(), err))
		}
	}
	s.dbs = nil
	return errors.Join(errs...)
}

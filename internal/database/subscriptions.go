package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/bryan-buckman/skyvault/internal/notify"
)

// ErrNotSubscribed is returned for channel operations that need a Subs row.
var ErrNotSubscribed = fmt.Errorf("channel not subscribed: %w", ErrNotFound)

// videoRetention is how long feed videos are kept after publication.
const videoRetention = 1 // months

const selectChannel = `
	SELECT Channel_Id, Title, Description, Thumbnail_Url, Banner_Url, Subscriber_Count,
		Last_Visit_Time, Last_Video_Fetch, Category_Id
	FROM Subs`

// FeedCursor points at the last video of a feed page.
type FeedCursor struct {
	PublishTimestamp int64  `json:"publish_ts"`
	VideoID          string `json:"video_id"`
}

// Subscriptions is the subs.db store: subscribed channels and the cached
// videos of their feeds.
type Subscriptions struct {
	db     *DB
	events *notify.Registry
	now    func() time.Time
}

// NewSubscriptions wraps an open subs.db.
func NewSubscriptions(db *DB) *Subscriptions {
	return &Subscriptions{
		db:     db,
		events: notify.NewRegistry("subscriptions"),
		now:    time.Now,
	}
}

// Events returns the listener registry of the store.
func (s *Subscriptions) Events() *notify.Registry {
	return s.events
}

// SetClock replaces the time source used for timestamps and trimming.
func (s *Subscriptions) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Subscriptions) nowMillis() int64 {
	return s.now().UnixMilli()
}

// Subscribe caches the channel's videos and then inserts the channel row.
// Videos without a publish time or already cached are skipped. Subscribing
// twice returns ResultNotModified.
func (s *Subscriptions) Subscribe(ctx context.Context, ch model.Channel, videos []model.Video) (Result, error) {
	if ch.ID == "" {
		return ResultError, fmt.Errorf("subscribe: empty channel id")
	}
	now := s.nowMillis()
	if ch.LastVisitTime == 0 {
		ch.LastVisitTime = now
	}
	if len(videos) > 0 {
		ch.LastVideoFetch = now
	}

	inserted := false
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.saveVideos(ctx, tx, &ch, videos, false); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO Subs (Channel_Id, Title, Description, Thumbnail_Url, Banner_Url,
				Subscriber_Count, Last_Visit_Time, Last_Video_Fetch, Category_Id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(Channel_Id) DO NOTHING`,
			ch.ID, ch.Title, ch.Description, ch.ThumbnailURL, ch.BannerURL,
			ch.SubscriberCount, ch.LastVisitTime, ch.LastVideoFetch, ch.CategoryID)
		if err != nil {
			return err
		}
		affected, _ := res.RowsAffected()
		inserted = affected > 0
		return nil
	})
	if err != nil {
		return ResultError, fmt.Errorf("subscribe %s: %w", ch.ID, err)
	}
	if !inserted {
		return ResultNotModified, nil
	}
	s.db.log.Info().Str("channel", ch.ID).Int("videos", len(videos)).Msg("subscribed")
	s.events.Notify(notify.Added, ch.ID)
	return ResultSuccess, nil
}

// Unsubscribe deletes the channel's cached videos and then the channel row.
// Unsubscribing an unknown channel returns ResultNotModified and no error.
func (s *Subscriptions) Unsubscribe(ctx context.Context, channelID string) (Result, error) {
	removed := false
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM SubsVideos WHERE Channel_Id = ?", channelID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM Subs WHERE Channel_Id = ?", channelID)
		if err != nil {
			return err
		}
		affected, _ := res.RowsAffected()
		removed = affected > 0
		return nil
	})
	if err != nil {
		return ResultError, fmt.Errorf("unsubscribe %s: %w", channelID, err)
	}
	if !removed {
		return ResultNotModified, nil
	}
	s.db.log.Info().Str("channel", channelID).Msg("unsubscribed")
	s.events.Notify(notify.Deleted, channelID)
	return ResultSuccess, nil
}

// UnsubscribeAll removes every subscription and cached video.
func (s *Subscriptions) UnsubscribeAll(ctx context.Context) (Result, error) {
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		return execStatements(ctx, tx, "DELETE FROM SubsVideos", "DELETE FROM Subs")
	})
	if err != nil {
		return ResultError, fmt.Errorf("unsubscribe all: %w", err)
	}
	s.events.Notify(notify.Deleted, "")
	return ResultSuccess, nil
}

// SaveChannelVideos stores fetched videos of a subscribed channel and stamps
// its Last_Video_Fetch. With update set, videos already cached get their
// snapshot refreshed. It returns how many videos were new.
func (s *Subscriptions) SaveChannelVideos(ctx context.Context, channelID string, videos []model.Video, update bool) (int, error) {
	ch := model.Channel{ID: channelID}
	var added int
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			"SELECT Title FROM Subs WHERE Channel_Id = ?", channelID).Scan(&ch.Title); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotSubscribed
			}
			return err
		}
		var err error
		added, err = s.saveVideos(ctx, tx, &ch, videos, update)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE Subs SET Last_Video_Fetch = ? WHERE Channel_Id = ?", s.nowMillis(), channelID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("save videos of %s: %w", channelID, err)
	}
	if added > 0 {
		s.events.Notify(notify.Updated, channelID)
	}
	return added, nil
}

// saveVideos inserts the videos owned by ch and returns the number of new rows.
func (s *Subscriptions) saveVideos(ctx context.Context, tx *sql.Tx, ch *model.Channel, videos []model.Video, update bool) (int, error) {
	conflict := "DO NOTHING"
	if update {
		conflict = `DO UPDATE SET YouTube_Video = excluded.YouTube_Video,
			Publish_Timestamp = excluded.Publish_Timestamp`
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO SubsVideos (YouTube_Video_Id, Channel_Id, YouTube_Video, Publish_Timestamp, Retrieval_Timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(YouTube_Video_Id) `+conflict)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := s.nowMillis()
	added := 0
	for i := range videos {
		v := videos[i]
		if v.ID == "" || v.PublishTimestamp == nil {
			continue
		}
		if v.Channel == nil || v.Channel.ID == "" {
			v.Channel = &model.Channel{ID: ch.ID, Title: ch.Title}
		}

		var exists bool
		if err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM SubsVideos WHERE YouTube_Video_Id = ?)", v.ID).Scan(&exists); err != nil {
			return added, err
		}
		if exists && !update {
			continue
		}

		blob, err := EncodeVideo(&v)
		if err != nil {
			return added, err
		}
		if _, err := stmt.ExecContext(ctx, v.ID, ch.ID, blob, *v.PublishTimestamp, now); err != nil {
			return added, fmt.Errorf("save video %s: %w", v.ID, err)
		}
		if !exists {
			added++
		}
	}
	return added, nil
}

// ChannelHasNewVideos reports whether the channel has cached videos
// published after its last visit.
func (s *Subscriptions) ChannelHasNewVideos(ctx context.Context, channelID string) (bool, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM SubsVideos v
		JOIN Subs s ON s.Channel_Id = v.Channel_Id
		WHERE v.Channel_Id = ? AND v.Publish_Timestamp > s.Last_Visit_Time`, channelID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count new videos of %s: %w", channelID, err)
	}
	return n > 0, nil
}

// TrimSubscriptionVideos deletes cached videos published more than a month
// ago and returns how many were removed.
func (s *Subscriptions) TrimSubscriptionVideos(ctx context.Context) (int64, error) {
	cutoff := s.now().AddDate(0, -videoRetention, 0).UnixMilli()
	res, err := s.db.conn.ExecContext(ctx, "DELETE FROM SubsVideos WHERE Publish_Timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("trim subscription videos: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.db.log.Info().Int64("deleted", n).Msg("trimmed subscription videos")
		s.events.Notify(notify.Updated, "")
	}
	return n, nil
}

// UpdateLastVisitTime stamps the channel as visited now and returns the stamp.
func (s *Subscriptions) UpdateLastVisitTime(ctx context.Context, channelID string) (int64, error) {
	return s.stamp(ctx, "Last_Visit_Time", channelID)
}

// UpdateLastVideoFetch stamps the channel's feed as fetched now.
func (s *Subscriptions) UpdateLastVideoFetch(ctx context.Context, channelID string) (int64, error) {
	return s.stamp(ctx, "Last_Video_Fetch", channelID)
}

func (s *Subscriptions) stamp(ctx context.Context, column, channelID string) (int64, error) {
	now := s.nowMillis()
	res, err := s.db.conn.ExecContext(ctx,
		fmt.Sprintf("UPDATE Subs SET %s = ? WHERE Channel_Id = ?", column), now, channelID)
	if err != nil {
		return 0, fmt.Errorf("update %s of %s: %w", column, channelID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return 0, ErrNotSubscribed
	}
	return now, nil
}

// IsSubscribed reports whether a Subs row exists for the channel.
func (s *Subscriptions) IsSubscribed(ctx context.Context, channelID string) (bool, error) {
	var exists bool
	err := s.db.conn.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM Subs WHERE Channel_Id = ?)", channelID).Scan(&exists)
	return exists, err
}

// SubscribedChannelIDs returns the ids in subscription order.
func (s *Subscriptions) SubscribedChannelIDs(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, s.db.conn, "SELECT Channel_Id FROM Subs ORDER BY _id")
}

// SubscribedChannels returns every subscribed channel, sorted by title.
func (s *Subscriptions) SubscribedChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.conn.QueryContext(ctx, selectChannel+" ORDER BY Title COLLATE NOCASE, Channel_Id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// Channel returns one subscribed channel.
func (s *Subscriptions) Channel(ctx context.Context, channelID string) (model.Channel, error) {
	ch, err := scanChannel(s.db.conn.QueryRowContext(ctx, selectChannel+" WHERE Channel_Id = ?", channelID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Channel{}, ErrNotSubscribed
	}
	return ch, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(r rowScanner) (model.Channel, error) {
	var ch model.Channel
	var category sql.NullInt64
	err := r.Scan(&ch.ID, &ch.Title, &ch.Description, &ch.ThumbnailURL, &ch.BannerURL,
		&ch.SubscriberCount, &ch.LastVisitTime, &ch.LastVideoFetch, &category)
	if err != nil {
		return model.Channel{}, err
	}
	if category.Valid {
		ch.CategoryID = &category.Int64
	}
	return ch, nil
}

// SubscribedChannelsByText lists channels whose title contains text, case
// insensitively. Channels are sorted by title when sortAlphabetically is
// set, otherwise by their newest video.
func (s *Subscriptions) SubscribedChannelsByText(ctx context.Context, text string, sortAlphabetically bool) ([]model.ChannelView, error) {
	order := "latest DESC, lower(s.Title)"
	if sortAlphabetically {
		order = "lower(s.Title), s.Channel_Id"
	}
	query := `
		SELECT s.Channel_Id, s.Title, s.Thumbnail_Url,
			COALESCE((SELECT MAX(v.Publish_Timestamp) FROM SubsVideos v WHERE v.Channel_Id = s.Channel_Id), 0) AS latest,
			s.Last_Visit_Time
		FROM Subs s
		WHERE lower(s.Title) LIKE ? ESCAPE '\'
		ORDER BY ` + order

	rows, err := s.db.conn.QueryContext(ctx, query, likePattern(text))
	if err != nil {
		return nil, fmt.Errorf("search channels: %w", err)
	}
	defer rows.Close()

	var out []model.ChannelView
	for rows.Next() {
		var cv model.ChannelView
		var latest, lastVisit int64
		if err := rows.Scan(&cv.ID, &cv.Title, &cv.ThumbnailURL, &latest, &lastVisit); err != nil {
			return nil, err
		}
		cv.HasNewVideos = latest > lastVisit
		out = append(out, cv)
	}
	return out, rows.Err()
}

// VideoPage returns feed videos newest first. A nil cursor starts at the
// newest video; the returned cursor is nil on the last page.
func (s *Subscriptions) VideoPage(ctx context.Context, limit int, cursor *FeedCursor) ([]model.Video, *FeedCursor, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT YouTube_Video_Id, YouTube_Video, Publish_Timestamp FROM SubsVideos WHERE Publish_Timestamp IS NOT NULL"
	var args []any
	if cursor != nil {
		query += " AND (Publish_Timestamp < ? OR (Publish_Timestamp = ? AND YouTube_Video_Id > ?))"
		args = append(args, cursor.PublishTimestamp, cursor.PublishTimestamp, cursor.VideoID)
	}
	query += " ORDER BY Publish_Timestamp DESC, YouTube_Video_Id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("feed page: %w", err)
	}
	defer rows.Close()

	var (
		videos  []model.Video
		last    FeedCursor
		scanned int
	)
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&last.VideoID, &blob, &last.PublishTimestamp); err != nil {
			return nil, nil, err
		}
		scanned++
		if v := s.db.decodeVideoRow(last.VideoID, blob); v != nil {
			videos = append(videos, *v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if scanned < limit {
		return videos, nil, nil
	}
	return videos, &last, nil
}

// ChannelVideoTimestamps maps each cached video of the channel to its
// publish time.
func (s *Subscriptions) ChannelVideoTimestamps(ctx context.Context, channelID string) (map[string]int64, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		"SELECT YouTube_Video_Id, Publish_Timestamp FROM SubsVideos WHERE Channel_Id = ? AND Publish_Timestamp IS NOT NULL",
		channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var ts int64
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, err
		}
		out[id] = ts
	}
	return out, rows.Err()
}

// UpdateChannelInfo refreshes the stored metadata of a subscribed channel.
func (s *Subscriptions) UpdateChannelInfo(ctx context.Context, ch model.Channel) (Result, error) {
	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE Subs SET Title = ?, Description = ?, Thumbnail_Url = ?, Banner_Url = ?, Subscriber_Count = ?
		WHERE Channel_Id = ?`,
		ch.Title, ch.Description, ch.ThumbnailURL, ch.BannerURL, ch.SubscriberCount, ch.ID)
	if err != nil {
		return ResultError, fmt.Errorf("update channel %s: %w", ch.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ResultNotModified, nil
	}
	s.events.Notify(notify.Updated, ch.ID)
	return ResultSuccess, nil
}

// SetChannelCategory assigns a category to the channel; nil clears it.
func (s *Subscriptions) SetChannelCategory(ctx context.Context, channelID string, categoryID *int64) (Result, error) {
	res, err := s.db.conn.ExecContext(ctx,
		"UPDATE Subs SET Category_Id = ? WHERE Channel_Id = ?", categoryID, channelID)
	if err != nil {
		return ResultError, fmt.Errorf("set category of %s: %w", channelID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ResultNotModified, nil
	}
	s.events.Notify(notify.Updated, channelID)
	return ResultSuccess, nil
}

// likePattern builds a case insensitive LIKE pattern matching text anywhere.
func likePattern(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(text)) + "%"
}

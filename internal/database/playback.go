package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/bryan-buckman/skyvault/internal/notify"
)

const (
	// minResumePosition is the smallest position (ms) worth remembering.
	minResumePosition = 5000
	// watchedRatio of the duration after which a video counts as watched.
	watchedRatio = 0.9
)

// PlaybackStatus is the playbackhistory.db store. All statuses are cached in
// memory; the cache is loaded on first use and kept in step with the table.
type PlaybackStatus struct {
	db      *DB
	events  *notify.Registry
	enabled bool

	mu      sync.Mutex
	cache   map[string]model.WatchedStatus // nil until loaded
	counter int64
}

// NewPlaybackStatus wraps an open playbackhistory.db. When enabled is false
// position and watched updates are ignored.
func NewPlaybackStatus(db *DB, enabled bool) *PlaybackStatus {
	return &PlaybackStatus{
		db:      db,
		events:  notify.NewRegistry("playback"),
		enabled: enabled,
	}
}

// Events returns the listener registry of the store.
func (p *PlaybackStatus) Events() *notify.Registry {
	return p.events
}

// UpdateCounter increments with every change, so readers can tell whether
// their copy of a status is stale.
func (p *PlaybackStatus) UpdateCounter() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counter
}

// load fills the cache. Caller holds p.mu.
func (p *PlaybackStatus) load(ctx context.Context) error {
	if p.cache != nil {
		return nil
	}
	rows, err := p.db.conn.QueryContext(ctx, "SELECT YouTube_Video_Id, Position, Watched FROM PlaybackHistory")
	if err != nil {
		return fmt.Errorf("load playback history: %w", err)
	}
	defer rows.Close()

	cache := make(map[string]model.WatchedStatus)
	for rows.Next() {
		var id string
		var st model.WatchedStatus
		if err := rows.Scan(&id, &st.Position, &st.Watched); err != nil {
			return err
		}
		cache[id] = st
	}
	if err := rows.Err(); err != nil {
		return err
	}
	p.cache = cache
	return nil
}

// Status returns the stored status of a video. Unknown videos get an
// Unwatched entry in the cache; nothing is written for them.
func (p *PlaybackStatus) Status(ctx context.Context, videoID string) (model.WatchedStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.load(ctx); err != nil {
		return model.WatchedStatus{}, err
	}
	st, ok := p.cache[videoID]
	if !ok {
		p.cache[videoID] = st
	}
	return st, nil
}

// SetPosition records how far a video was played. Positions under five
// seconds are ignored. Reaching 90% of the duration marks the video watched
// and clears the position. A zero duration never marks a video watched.
func (p *PlaybackStatus) SetPosition(ctx context.Context, videoID string, durationSeconds int, positionMs int64) (Result, error) {
	if !p.enabled || positionMs < minResumePosition {
		return ResultNotModified, nil
	}
	st := model.WatchedStatus{Position: positionMs}
	if durationSeconds > 0 && float64(positionMs) >= watchedRatio*float64(durationSeconds)*1000 {
		st = model.WatchedStatus{Watched: true}
	}
	return p.write(ctx, videoID, st)
}

// SetWatched marks a video watched or unwatched. Either way the position is
// reset to 0.
func (p *PlaybackStatus) SetWatched(ctx context.Context, videoID string, watched bool) (Result, error) {
	if !p.enabled {
		return ResultNotModified, nil
	}
	return p.write(ctx, videoID, model.WatchedStatus{Watched: watched})
}

func (p *PlaybackStatus) write(ctx context.Context, videoID string, st model.WatchedStatus) (Result, error) {
	p.mu.Lock()
	if err := p.load(ctx); err != nil {
		p.mu.Unlock()
		return ResultError, err
	}
	_, err := p.db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO PlaybackHistory (YouTube_Video_Id, Position, Watched) VALUES (?, ?, ?)",
		videoID, st.Position, st.Watched)
	if err != nil {
		p.mu.Unlock()
		return ResultError, fmt.Errorf("save playback status %s: %w", videoID, err)
	}
	p.cache[videoID] = st
	p.counter++
	p.mu.Unlock()

	p.events.Notify(notify.Updated, videoID)
	return ResultSuccess, nil
}

// DeleteAll clears the playback history. The cache is dropped and reloaded
// on next use.
func (p *PlaybackStatus) DeleteAll(ctx context.Context) (Result, error) {
	p.mu.Lock()
	err := p.db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM PlaybackHistory")
		return err
	})
	if err != nil {
		p.mu.Unlock()
		return ResultError, fmt.Errorf("delete playback history: %w", err)
	}
	p.cache = nil
	p.counter++
	p.mu.Unlock()

	p.db.log.Info().Msg("playback history cleared")
	p.events.Notify(notify.Updated, "")
	return ResultSuccess, nil
}

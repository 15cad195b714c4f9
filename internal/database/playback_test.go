package database

import (
	"context"
	"testing"

	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/bryan-buckman/skyvault/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func playbackRows(t *testing.T, p *PlaybackStatus) int {
	t.Helper()
	var n int
	require.NoError(t, p.db.conn.QueryRow("SELECT COUNT(*) FROM PlaybackHistory").Scan(&n))
	return n
}

func TestPlaybackPositionThresholds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewPlaybackStatus(openTestDB(t, PlaybackSchema), true)

	tests := []struct {
		name     string
		position int64
		want     Result
		status   model.WatchedStatus
		rows     int
	}{
		{"well below", 3000, ResultNotModified, model.WatchedStatus{}, 0},
		{"just below", 4999, ResultNotModified, model.WatchedStatus{}, 0},
		{"threshold", 5000, ResultSuccess, model.WatchedStatus{Position: 5000}, 1},
		{"in progress", 60000, ResultSuccess, model.WatchedStatus{Position: 60000}, 1},
		{"ninety percent", 90000, ResultSuccess, model.WatchedStatus{Watched: true}, 1},
	}
	for _, tt := range tests {
		res, err := p.SetPosition(ctx, "V1", 100, tt.position)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, res, tt.name)

		st, err := p.Status(ctx, "V1")
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.status, st, tt.name)
		assert.Equal(t, tt.rows, playbackRows(t, p), tt.name)
	}
}

func TestPlaybackZeroDurationNeverWatched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewPlaybackStatus(openTestDB(t, PlaybackSchema), true)

	_, err := p.SetPosition(ctx, "live", 0, 3_600_000)
	require.NoError(t, err)
	st, err := p.Status(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, model.InProgress, st.State())
	assert.Equal(t, int64(3_600_000), st.Position)
}

func TestPlaybackSetWatchedResetsPosition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewPlaybackStatus(openTestDB(t, PlaybackSchema), true)

	_, err := p.SetPosition(ctx, "V1", 600, 30000)
	require.NoError(t, err)
	_, err = p.SetWatched(ctx, "V1", true)
	require.NoError(t, err)
	st, err := p.Status(ctx, "V1")
	require.NoError(t, err)
	assert.Equal(t, model.WatchedStatus{Watched: true}, st)

	_, err = p.SetWatched(ctx, "V1", false)
	require.NoError(t, err)
	st, err = p.Status(ctx, "V1")
	require.NoError(t, err)
	assert.Equal(t, model.Unwatched, st.State())
}

func TestPlaybackUnknownVideoWritesNothing(t *testing.T) {
	t.Parallel()
	p := NewPlaybackStatus(openTestDB(t, PlaybackSchema), true)

	st, err := p.Status(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, model.Unwatched, st.State())
	assert.Zero(t, playbackRows(t, p))
	assert.Zero(t, p.UpdateCounter())
}

func TestPlaybackCacheSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := Open(ctx, dir, PlaybackSchema)
	require.NoError(t, err)
	p := NewPlaybackStatus(db, true)
	_, err = p.SetPosition(ctx, "V1", 600, 42000)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, dir, PlaybackSchema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st, err := NewPlaybackStatus(db, true).Status(ctx, "V1")
	require.NoError(t, err)
	assert.Equal(t, model.WatchedStatus{Position: 42000}, st)
}

func TestPlaybackDeleteAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewPlaybackStatus(openTestDB(t, PlaybackSchema), true)

	var events []notify.Event
	p.Events().Register(func(e notify.Event) { events = append(events, e) })

	_, err := p.SetWatched(ctx, "V1", true)
	require.NoError(t, err)
	_, err = p.SetPosition(ctx, "V2", 600, 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.UpdateCounter())

	res, err := p.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, res)
	assert.Equal(t, int64(3), p.UpdateCounter())
	assert.Zero(t, playbackRows(t, p))

	st, err := p.Status(ctx, "V1")
	require.NoError(t, err)
	assert.Equal(t, model.Unwatched, st.State())

	require.Len(t, events, 3)
	assert.Equal(t, notify.Event{Topic: "playback", Kind: notify.Updated, ID: "V1"}, events[0])
	assert.Equal(t, notify.Event{Topic: "playback", Kind: notify.Updated}, events[2])
}

func TestPlaybackDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewPlaybackStatus(openTestDB(t, PlaybackSchema), false)

	res, err := p.SetPosition(ctx, "V1", 600, 30000)
	require.NoError(t, err)
	assert.Equal(t, ResultNotModified, res)
	res, err = p.SetWatched(ctx, "V1", true)
	require.NoError(t, err)
	assert.Equal(t, ResultNotModified, res)
	assert.Zero(t, playbackRows(t, p))
}

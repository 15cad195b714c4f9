package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"testing"

	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/bryan-buckman/skyvault/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, schema Schema) *DB {
	t.Helper()
	db, err := Open(context.Background(), t.TempDir(), schema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func video(id, channelID string) model.Video {
	return model.Video{
		ID:      id,
		Title:   "title " + id,
		Channel: &model.Channel{ID: channelID, Title: "channel " + channelID},
	}
}

// orderIndices returns id -> Order_Index for every row of table.
func orderIndices(t *testing.T, db *DB, table string) map[string]int {
	t.Helper()
	rows, err := db.conn.Query(fmt.Sprintf("SELECT YouTube_Video_Id, Order_Index FROM %s", table))
	require.NoError(t, err)
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var id string
		var idx int
		require.NoError(t, rows.Scan(&id, &idx))
		out[id] = idx
	}
	require.NoError(t, rows.Err())
	return out
}

func assertDense(t *testing.T, indices map[string]int) {
	t.Helper()
	seen := make(map[int]bool, len(indices))
	for id, idx := range indices {
		assert.GreaterOrEqual(t, idx, 1, id)
		assert.LessOrEqual(t, idx, len(indices), id)
		assert.False(t, seen[idx], "duplicate index %d", idx)
		seen[idx] = true
	}
}

func TestBookmarksRemoveRenumbers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewBookmarks(openTestDB(t, BookmarksSchema))

	res, err := b.Add(ctx, video("V1", "C1"))
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, res)
	_, err = b.Add(ctx, video("V2", "C1"))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"V1": 1, "V2": 2}, orderIndices(t, b.db, tableBookmarks))

	res, err = b.Remove(ctx, "V1")
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, res)
	assert.Equal(t, map[string]int{"V2": 1}, orderIndices(t, b.db, tableBookmarks))
}

func TestBookmarksDuplicateAdd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewBookmarks(openTestDB(t, BookmarksSchema))

	_, err := b.Add(ctx, video("V1", "C1"))
	require.NoError(t, err)
	res, err := b.Add(ctx, video("V1", "C1"))
	require.NoError(t, err)
	assert.Equal(t, ResultNotModified, res)

	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBookmarksRemoveMissing(t *testing.T) {
	t.Parallel()
	b := NewBookmarks(openTestDB(t, BookmarksSchema))
	res, err := b.Remove(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, ResultNotModified, res)
}

func TestBookmarksDenseAfterRandomOps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewBookmarks(openTestDB(t, BookmarksSchema))
	rng := rand.New(rand.NewSource(7))

	var live []string
	for i := 0; i < 60; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			k := rng.Intn(len(live))
			_, err := b.Remove(ctx, live[k])
			require.NoError(t, err)
			live = append(live[:k], live[k+1:]...)
		} else {
			id := fmt.Sprintf("V%d", i)
			_, err := b.Add(ctx, video(id, "C"))
			require.NoError(t, err)
			live = append(live, id)
		}
		indices := orderIndices(t, b.db, tableBookmarks)
		require.Len(t, indices, len(live))
		assertDense(t, indices)
	}

	// never reordered: index order is add order
	indices := orderIndices(t, b.db, tableBookmarks)
	for i, id := range live {
		assert.Equal(t, i+1, indices[id], id)
	}

	all, err := b.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, len(live))
	assert.Equal(t, live[len(live)-1], all[0].ID)
}

func TestBookmarksReorder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewBookmarks(openTestDB(t, BookmarksSchema))
	for _, id := range []string{"A", "B", "C"} {
		_, err := b.Add(ctx, video(id, "C1"))
		require.NoError(t, err)
	}

	notified := 0
	b.Events().Register(func(notify.Event) { notified++ })

	require.NoError(t, b.Reorder(ctx, []string{"A", "C", "B"}))
	assert.Equal(t, map[string]int{"A": 3, "C": 2, "B": 1}, orderIndices(t, b.db, tableBookmarks))
	assert.Zero(t, notified)

	all, err := b.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"A", "C", "B"}, []string{all[0].ID, all[1].ID, all[2].ID})

	assert.ErrorIs(t, b.Reorder(ctx, []string{"A", "B"}), ErrOrderMismatch)
	assert.ErrorIs(t, b.Reorder(ctx, []string{"A", "B", "X"}), ErrOrderMismatch)
	assert.ErrorIs(t, b.Reorder(ctx, []string{"A", "A", "B"}), ErrOrderMismatch)
	// failed reorders leave the table as it was
	assert.Equal(t, map[string]int{"A": 3, "C": 2, "B": 1}, orderIndices(t, b.db, tableBookmarks))
}

func TestBookmarksNotify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewBookmarks(openTestDB(t, BookmarksSchema))

	var events []notify.Event
	id := b.Events().Register(func(e notify.Event) { events = append(events, e) })

	_, err := b.Add(ctx, video("V1", "C1"))
	require.NoError(t, err)
	_, err = b.Add(ctx, video("V1", "C1"))
	require.NoError(t, err)
	_, err = b.Remove(ctx, "V1")
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, notify.Event{Topic: "bookmarks", Kind: notify.Added, ID: "V1"}, events[0])
	assert.Equal(t, notify.Deleted, events[1].Kind)

	b.Events().Unregister(id)
	_, err = b.Add(ctx, video("V2", "C1"))
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestBookmarksSkipsUndecodableRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewBookmarks(openTestDB(t, BookmarksSchema))

	_, err := b.Add(ctx, video("good", "C1"))
	require.NoError(t, err)
	_, err = b.db.conn.Exec(
		"INSERT INTO Bookmarks (YouTube_Video_Id, YouTube_Video, Order_Index) VALUES ('bad', '{not json', 2)")
	require.NoError(t, err)
	_, err = b.db.conn.Exec(
		"INSERT INTO Bookmarks (YouTube_Video_Id, YouTube_Video, Order_Index) VALUES ('old', ?, 3)", legacyFormat)
	require.NoError(t, err)

	all, err := b.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "abc12345", all[0].ID)
	assert.Equal(t, "xyz32412", all[0].ChannelID())
	assert.Equal(t, "good", all[1].ID)
}

func TestBookmarksPage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewBookmarks(openTestDB(t, BookmarksSchema))
	for i := 1; i <= 5; i++ {
		_, err := b.Add(ctx, video(fmt.Sprintf("V%d", i), "C"))
		require.NoError(t, err)
	}

	page, next, err := b.Page(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "V5", page[0].ID)
	assert.Equal(t, int64(4), next)

	page, next, err = b.Page(ctx, next, 2)
	require.NoError(t, err)
	assert.Equal(t, "V3", page[0].ID)
	assert.Equal(t, int64(2), next)

	page, next, err = b.Page(ctx, next, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "V1", page[0].ID)
	assert.Zero(t, next)

	top, err := b.MaxOrder(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), top)
}

func TestOpenTwiceFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	db, err := Open(context.Background(), dir, BookmarksSchema)
	require.NoError(t, err)

	_, err = Open(context.Background(), dir, BookmarksSchema)
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	require.NoError(t, db.Close())
	again, err := Open(context.Background(), dir, BookmarksSchema)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestOpenRejectsDowngrade(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	db, err := Open(context.Background(), dir, DownloadsSchema)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	older := DownloadsSchema
	older.Version = 2
	_, err = Open(context.Background(), dir, older)
	assert.ErrorIs(t, err, ErrDowngrade)
}

func TestUpgradeRunsOncePerVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	creates, upgrades := 0, 0
	var seen [][2]int
	schema := Schema{
		Name:    "counting.db",
		Version: 1,
		Create: func(ctx context.Context, tx *sql.Tx) error {
			creates++
			_, err := tx.ExecContext(ctx, "CREATE TABLE t (a TEXT)")
			return err
		},
		Upgrade: func(ctx context.Context, tx *sql.Tx, oldV, newV int) error {
			upgrades++
			seen = append(seen, [2]int{oldV, newV})
			if Step(2, oldV, newV) {
				if err := addColumnIfMissing(ctx, tx, "t", "b", "TEXT"); err != nil {
					return err
				}
			}
			return nil
		},
	}

	db, err := Open(ctx, dir, schema)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	schema.Version = 2
	for i := 0; i < 2; i++ {
		db, err = Open(ctx, dir, schema)
		require.NoError(t, err)
		assert.Equal(t, 2, db.Version())
		require.NoError(t, db.Close())
	}

	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, upgrades)
	assert.Equal(t, [][2]int{{1, 2}}, seen)
}

func TestStep(t *testing.T) {
	t.Parallel()
	assert.False(t, Step(1, 0, 3))
	assert.True(t, Step(2, 1, 3))
	assert.True(t, Step(3, 1, 3))
	assert.False(t, Step(2, 2, 3))
	assert.True(t, Step(3, 2, 3))
	assert.False(t, Step(4, 2, 3))
}

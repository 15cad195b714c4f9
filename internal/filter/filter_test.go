package filter

import (
	"context"
	"testing"

	"github.com/bryan-buckman/skyvault/internal/database"
	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLists struct {
	lists map[database.FilterList]map[string]string
}

func newFakeLists() *fakeLists {
	return &fakeLists{lists: map[database.FilterList]map[string]string{
		database.Blacklist: {},
		database.Whitelist: {},
	}}
}

func (f *fakeLists) ChannelIDs(_ context.Context, list database.FilterList) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for id := range f.lists[list] {
		out[id] = struct{}{}
	}
	return out, nil
}

func (f *fakeLists) Add(_ context.Context, list database.FilterList, id, name string) (database.Result, error) {
	if _, ok := f.lists[list][id]; ok {
		return database.ResultNotModified, nil
	}
	f.lists[list][id] = name
	return database.ResultSuccess, nil
}

func (f *fakeLists) Remove(_ context.Context, list database.FilterList, ids ...string) (database.Result, error) {
	res := database.ResultNotModified
	for _, id := range ids {
		if _, ok := f.lists[list][id]; ok {
			delete(f.lists[list], id)
			res = database.ResultSuccess
		}
	}
	return res, nil
}

type fakeSubs map[string]bool

func (f fakeSubs) IsSubscribed(_ context.Context, id string) (bool, error) {
	return f[id], nil
}

func vid(id, channel string, views int64) model.Video {
	return model.Video{ID: id, Channel: &model.Channel{ID: channel}, ViewsCount: views}
}

func ids(videos []model.Video) []string {
	out := make([]string, len(videos))
	for i, v := range videos {
		out[i] = v.ID
	}
	return out
}

func TestFilterBlacklist(t *testing.T) {
	lists := newFakeLists()
	lists.lists[database.Blacklist]["bad"] = "Bad"
	b := New(lists, fakeSubs{}, ModeBlacklist, -1)

	out, err := b.Filter(context.Background(), []model.Video{
		vid("1", "good", 0), vid("2", "bad", 100), vid("3", "other", 5),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, ids(out))
}

func TestFilterWhitelistAndViews(t *testing.T) {
	lists := newFakeLists()
	lists.lists[database.Whitelist]["kept"] = "Kept"
	b := New(lists, fakeSubs{}, ModeWhitelist, 1000)

	out, err := b.Filter(context.Background(), []model.Video{
		vid("1", "kept", 5000), vid("2", "kept", 999), vid("3", "stranger", 1e6), {ID: "4"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(out))
}

func TestBlockChannel(t *testing.T) {
	ctx := context.Background()

	t.Run("blacklist mode adds", func(t *testing.T) {
		lists := newFakeLists()
		b := New(lists, fakeSubs{}, ModeBlacklist, -1)
		res, err := b.BlockChannel(ctx, "UC1", "One")
		require.NoError(t, err)
		assert.Equal(t, database.ResultSuccess, res)
		assert.Equal(t, "One", lists.lists[database.Blacklist]["UC1"])
	})

	t.Run("whitelist mode removes", func(t *testing.T) {
		lists := newFakeLists()
		lists.lists[database.Whitelist]["UC1"] = "One"
		b := New(lists, fakeSubs{}, ModeWhitelist, -1)
		res, err := b.BlockChannel(ctx, "UC1", "One")
		require.NoError(t, err)
		assert.Equal(t, database.ResultSuccess, res)
		assert.Empty(t, lists.lists[database.Whitelist])
	})

	t.Run("subscribed channel refused", func(t *testing.T) {
		lists := newFakeLists()
		b := New(lists, fakeSubs{"UC1": true}, ModeBlacklist, -1)
		_, err := b.BlockChannel(ctx, "UC1", "One")
		assert.ErrorIs(t, err, ErrChannelSubscribed)
		assert.Empty(t, lists.lists[database.Blacklist])
	})
}

func TestUnknownModeFallsBackToBlacklist(t *testing.T) {
	b := New(newFakeLists(), fakeSubs{}, Mode("other"), -1)
	assert.Equal(t, ModeBlacklist, b.Mode())
}

package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryan-buckman/skyvault/internal/database"
	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const channelFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns:media="http://search.yahoo.com/mrss/" xmlns="http://www.w3.org/2005/Atom">
 <title>Renamed Channel</title>
 <yt:channelId>UC1</yt:channelId>
 <entry>
  <id>yt:video:vid1</id>
  <yt:videoId>vid1</yt:videoId>
  <yt:channelId>UC1</yt:channelId>
  <title>First video</title>
  <author><name>Renamed Channel</name></author>
  <published>2024-03-14T10:00:00+00:00</published>
  <media:group>
   <media:title>First video</media:title>
   <media:thumbnail url="https://i.ytimg.com/vi/vid1/hqdefault.jpg" width="480" height="360"/>
   <media:description>About the first video</media:description>
   <media:community>
    <media:starRating count="100" average="5.00" min="1" max="5"/>
    <media:statistics views="12345"/>
   </media:community>
  </media:group>
 </entry>
 <entry>
  <id>yt:video:vid2</id>
  <yt:videoId>vid2</yt:videoId>
  <title>Second video</title>
  <published>2024-03-13T10:00:00+00:00</published>
 </entry>
 <entry>
  <id>not-a-video</id>
  <title>No id</title>
 </entry>
</feed>`

type fakeStore struct {
	mu       sync.Mutex
	channels []model.Channel
	saved    map[string][]model.Video
	renamed  []model.Channel
	trimmed  int
}

func (f *fakeStore) SubscribedChannels(context.Context) ([]model.Channel, error) {
	return f.channels, nil
}

func (f *fakeStore) SaveChannelVideos(_ context.Context, channelID string, videos []model.Video, _ bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string][]model.Video)
	}
	f.saved[channelID] = videos
	return len(videos), nil
}

func (f *fakeStore) UpdateChannelInfo(_ context.Context, ch model.Channel) (database.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renamed = append(f.renamed, ch)
	return database.ResultSuccess, nil
}

func (f *fakeStore) TrimSubscriptionVideos(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trimmed++
	return 0, nil
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("channel_id") != "UC1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(channelFeed))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchChannel(t *testing.T) {
	srv := feedServer(t)
	store := &fakeStore{}
	f := NewFetcher(store, srv.URL+"/feeds/videos.xml?channel_id=%s", 1)

	n, err := f.FetchChannel(context.Background(), model.Channel{ID: "UC1", Title: "Old Name"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, store.renamed, 1)
	assert.Equal(t, "Renamed Channel", store.renamed[0].Title)

	videos := store.saved["UC1"]
	require.Len(t, videos, 2)
	v1 := videos[0]
	assert.Equal(t, "vid1", v1.ID)
	assert.Equal(t, "First video", v1.Title)
	assert.Equal(t, "About the first video", v1.Description)
	assert.Equal(t, "https://i.ytimg.com/vi/vid1/hqdefault.jpg", v1.ThumbnailURL)
	assert.Equal(t, int64(12345), v1.ViewsCount)
	assert.Equal(t, 100, v1.ThumbsUpPercentage)
	assert.Equal(t, "UC1", v1.ChannelID())
	require.NotNil(t, v1.PublishTimestamp)
	assert.Equal(t, time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC).UnixMilli(), *v1.PublishTimestamp)

	assert.Equal(t, "Renamed Channel", videos[1].Channel.Title, "falls back to the channel title")
}

func TestFetchAll(t *testing.T) {
	srv := feedServer(t)
	store := &fakeStore{channels: []model.Channel{
		{ID: "UC1", Title: "Renamed Channel"},
		{ID: "UC-missing"},
	}}

	for _, concurrency := range []int{1, 4} {
		f := NewFetcher(store, srv.URL+"/feeds?channel_id=%s", concurrency)
		results, err := f.FetchAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"UC1": 2}, results, "concurrency %d", concurrency)
	}
	assert.Empty(t, store.renamed)
}

func TestFeedURL(t *testing.T) {
	f := NewFetcher(&fakeStore{}, "https://www.youtube.com/feeds/videos.xml?channel_id=%s", 1)
	assert.Equal(t, "https://www.youtube.com/feeds/videos.xml?channel_id=UC1", f.FeedURL("UC1"))
}

func TestDomainLimiterCancelled(t *testing.T) {
	dl := newDomainLimiter(zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < MaxConcurrencyPerDomain; i++ {
		require.NoError(t, dl.acquire(ctx, "example.com"))
	}

	cancelled, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.Error(t, dl.acquire(cancelled, "example.com"))

	dl.release("example.com")
	require.NoError(t, dl.acquire(ctx, "example.com"))
}

func TestFailingHostOpensCircuit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(&fakeStore{}, srv.URL+"/feeds?channel_id=%s", 1)
	ch := model.Channel{ID: "UC1"}
	for i := 0; i < breakerFailures; i++ {
		_, err := f.FetchChannel(context.Background(), ch)
		require.Error(t, err)
	}
	_, err := f.FetchChannel(context.Background(), ch)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(breakerFailures), hits.Load())
}

func TestPollerTrimsAfterRefresh(t *testing.T) {
	srv := feedServer(t)
	store := &fakeStore{channels: []model.Channel{{ID: "UC1", Title: "Renamed Channel"}}}
	p := NewPoller(NewFetcher(store, srv.URL+"/?channel_id=%s", 1), store, time.Minute, time.Minute)
	assert.Equal(t, MinPollInterval, p.interval)

	p.Start()
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.trimmed > 0
	}, 5*time.Second, 10*time.Millisecond)
	p.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.saved["UC1"], 2)
}

package opml

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="1.1">
  <head><title>YouTube subscriptions</title></head>
  <body>
    <outline text="YouTube Subscriptions" title="YouTube Subscriptions">
      <outline text="First" title="First Channel" type="rss"
        xmlUrl="https://www.youtube.com/feeds/videos.xml?channel_id=UC111"/>
      <outline text="Second" type="rss" htmlUrl="https://www.youtube.com/channel/UC222"/>
      <outline text="Named" htmlUrl="https://www.youtube.com/user/someone"/>
      <outline text="Blog" type="link" xmlUrl="https://example.com/feed?channel_id=UC333"/>
      <outline text="Nothing" htmlUrl="https://www.youtube.com/watch?v=abc"/>
    </outline>
    <outline text="Loose" xmlUrl="https://www.youtube.com/feeds/videos.xml?channel_id=UC444"/>
  </body>
</opml>`

func TestParse(t *testing.T) {
	entries, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{ChannelID: "UC111", Title: "First Channel", Category: "YouTube Subscriptions"},
		{ChannelID: "UC222", Title: "Second", Category: "YouTube Subscriptions"},
		{ChannelID: "someone", Title: "Named", Category: "YouTube Subscriptions", NeedsLookup: true},
		{ChannelID: "UC444", Title: "Loose"},
	}, entries)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse(strings.NewReader("<opml><body>"))
	assert.Error(t, err)
}

func TestExportRoundTrip(t *testing.T) {
	music := int64(2)
	channels := []model.Channel{
		{ID: "UC1", Title: "One"},
		{ID: "UC2", Title: "Two", CategoryID: &music},
	}
	out, err := Export(channels, map[int64]string{music: "Music"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "<title>SkyTube Subscriptions Export</title>")
	assert.Contains(t, string(out), `xmlUrl="https://www.youtube.com/feeds/videos.xml?channel_id=UC1"`)
	assert.Contains(t, string(out), `htmlUrl="https://www.youtube.com/channel/UC2"`)

	entries, err := Parse(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{ChannelID: "UC1", Title: "One"},
		{ChannelID: "UC2", Title: "Two", Category: "Music"},
	}, entries)
}

package database

import (
	"testing"

	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const currentFormat = `{"channel":{"id":"xyz32412","title":"ChannelTitle"},"thumbsUpPercentage":-1,"duration":"20:34","durationInSeconds":1234,"viewsCountInt":9876654322,"thumbnailMaxResUrl":"http://something.com","isLiveStream":false,"id":"abc12345","title":"myTitle","description":"description","publishTimestamp":100000000000,"publishTimestampExact":true,"thumbnailUrl":"http://something.com"}`

const legacyFormat = `{"channelId":"xyz32412","channelName":"ChannelTitle","thumbsUpPercentage":-1,"duration":"20:34","durationInSeconds":1234,"viewsCountInt":9876654322,"thumbnailMaxResUrl":"http://something.com","isLiveStream":false,"id":"abc12345","title":"myTitle","description":"description","publishTimestamp":100000000000,"publishTimestampExact":true,"thumbnailUrl":"http://something.com"}`

func assertSampleVideo(t *testing.T, v *model.Video) {
	t.Helper()
	assert.Equal(t, "abc12345", v.ID)
	assert.Equal(t, "myTitle", v.Title)
	require.NotNil(t, v.Channel)
	assert.Equal(t, "xyz32412", v.Channel.ID)
	assert.Equal(t, "ChannelTitle", v.Channel.Title)
	assert.Equal(t, 1234, v.DurationInSeconds)
	assert.Equal(t, int64(9876654322), v.ViewsCount)
	require.NotNil(t, v.PublishTimestamp)
	assert.Equal(t, int64(100000000000), *v.PublishTimestamp)
	assert.True(t, v.PublishTimestampExact)
}

func TestDecodeVideoCurrentFormat(t *testing.T) {
	t.Parallel()
	v, err := DecodeVideo([]byte(currentFormat))
	require.NoError(t, err)
	assertSampleVideo(t, v)
}

func TestDecodeVideoRepairsLegacyChannel(t *testing.T) {
	t.Parallel()
	v, err := DecodeVideo([]byte(legacyFormat))
	require.NoError(t, err)
	assertSampleVideo(t, v)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	v, err := DecodeVideo([]byte(legacyFormat))
	require.NoError(t, err)

	raw, err := EncodeVideo(v)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"channel":{"id":"xyz32412"`)
	assert.NotContains(t, string(raw), "channelId")

	again, err := DecodeVideo(raw)
	require.NoError(t, err)
	assert.Equal(t, v, again)
}

func TestDecodeVideoInvalid(t *testing.T) {
	t.Parallel()
	_, err := DecodeVideo([]byte(`{"id":`))
	assert.Error(t, err)
}

func TestDecodeVideoWithoutChannel(t *testing.T) {
	t.Parallel()
	v, err := DecodeVideo([]byte(`{"id":"x","title":"t"}`))
	require.NoError(t, err)
	assert.Nil(t, v.Channel)
	assert.Equal(t, "", v.ChannelID())
}

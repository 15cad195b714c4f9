package database

import (
	"fmt"

	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/goccy/go-json"
)

// legacyChannelFields are the flat channel fields written by old clients
// before the channel was embedded as an object.
type legacyChannelFields struct {
	ChannelID   string `json:"channelId"`
	ChannelName string `json:"channelName"`
}

// EncodeVideo serializes a video snapshot for storage.
func EncodeVideo(v *model.Video) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode video %s: %w", v.ID, err)
	}
	return b, nil
}

// DecodeVideo parses a stored snapshot. Snapshots without an embedded
// channel get one rebuilt from the legacy channelId/channelName fields.
func DecodeVideo(raw []byte) (*model.Video, error) {
	var v model.Video
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode video: %w", err)
	}
	if v.Channel == nil || v.Channel.ID == "" {
		var legacy legacyChannelFields
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, fmt.Errorf("decode legacy channel: %w", err)
		}
		if legacy.ChannelID != "" {
			v.Channel = &model.Channel{ID: legacy.ChannelID, Title: legacy.ChannelName}
		}
	}
	return &v, nil
}

// decodeVideoRow decodes one row's blob. Undecodable rows are logged and
// reported as nil so list reads can skip them.
func (db *DB) decodeVideoRow(id string, raw []byte) *model.Video {
	v, err := DecodeVideo(raw)
	if err != nil {
		db.log.Warn().Err(err).Str("video", id).Msg("skipping undecodable video snapshot")
		return nil
	}
	if v.ID == "" {
		v.ID = id
	}
	return v
}

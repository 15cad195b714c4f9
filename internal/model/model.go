// Package model defines shared data structures.
package model

// Channel represents a YouTube channel, either embedded in a video snapshot
// or stored as a subscription row.
type Channel struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	ThumbnailURL    string `json:"thumbnailNormalUrl,omitempty"`
	BannerURL       string `json:"bannerUrl,omitempty"`
	SubscriberCount int64  `json:"subscriberCount,omitempty"`
	LastVisitTime   int64  `json:"lastVisitTime,omitempty"`  // unix ms
	LastVideoFetch  int64  `json:"lastVideoFetch,omitempty"` // unix ms
	CategoryID      *int64 `json:"categoryId,omitempty"`
}

// Video is the snapshot persisted as a JSON blob in the bookmark, download
// and subscription-feed tables.
type Video struct {
	ID                    string   `json:"id"`
	Title                 string   `json:"title"`
	Description           string   `json:"description,omitempty"`
	Channel               *Channel `json:"channel,omitempty"`
	ThumbnailURL          string   `json:"thumbnailUrl,omitempty"`
	ThumbnailMaxResURL    string   `json:"thumbnailMaxResUrl,omitempty"`
	Duration              string   `json:"duration,omitempty"`
	DurationInSeconds     int      `json:"durationInSeconds"`
	ViewsCount            int64    `json:"viewsCountInt"`
	ThumbsUpPercentage    int      `json:"thumbsUpPercentage"`
	PublishTimestamp      *int64   `json:"publishTimestamp,omitempty"` // unix ms, nil if unknown
	PublishTimestampExact bool     `json:"publishTimestampExact"`
	IsLiveStream          bool     `json:"isLiveStream"`
}

// ChannelID returns the owning channel's id, or "" when the snapshot has none.
func (v *Video) ChannelID() string {
	if v.Channel == nil {
		return ""
	}
	return v.Channel.ID
}

// ChannelView is a subscribed channel as listed in the channel drawer.
type ChannelView struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
	HasNewVideos bool   `json:"has_new_videos"`
}

// PlaybackState is the derived state of a WatchedStatus.
type PlaybackState int

const (
	Unwatched PlaybackState = iota
	InProgress
	Watched
)

func (s PlaybackState) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case Watched:
		return "watched"
	default:
		return "unwatched"
	}
}

// WatchedStatus holds the playback position (ms) and the watched flag of a video.
type WatchedStatus struct {
	Position int64 `json:"position"`
	Watched  bool  `json:"watched"`
}

// State maps the stored pair onto the playback state machine.
func (w WatchedStatus) State() PlaybackState {
	switch {
	case w.Watched:
		return Watched
	case w.Position > 0:
		return InProgress
	default:
		return Unwatched
	}
}

// SponsorSegment is one skippable range of a downloaded video.
type SponsorSegment struct {
	Category string  `json:"category"`
	StartPos float64 `json:"startPos"`
	EndPos   float64 `json:"endPos"`
}

// SponsorSegments is stored alongside a download so skipping works offline.
type SponsorSegments struct {
	VideoDuration float64          `json:"videoDuration"`
	Segments      []SponsorSegment `json:"segments"`
}

// DownloadStatus describes the local files of a downloaded video.
type DownloadStatus struct {
	URI         string `json:"uri,omitempty"`
	AudioURI    string `json:"audio_uri,omitempty"`
	Disappeared bool   `json:"disappeared"`
}

// SearchEntry is one remembered search query.
type SearchEntry struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
	Date int64  `json:"date"` // unix ms
}

// FilteredChannel is a blacklist or whitelist entry.
type FilteredChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Category groups subscriptions. Builtin labels are translation keys.
type Category struct {
	ID       int64  `json:"id"`
	Label    string `json:"label"`
	Builtin  bool   `json:"builtin"`
	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority"`
	Icon     string `json:"icon,omitempty"`
}

// BackupData is the single-row settings snapshot kept in backup.db.
type BackupData struct {
	DefaultTab       string   `json:"default_tab"`
	HiddenTabs       []string `json:"hidden_tabs"`
	PreferredBackend string   `json:"preferred_backend"`
	SortOrder        string   `json:"sort_order"`
	APIKey           string   `json:"api_key"`
}

// Builtin category label keys.
const (
	CategoryGames     = "games"
	CategoryMusic     = "music"
	CategoryNews      = "news"
	CategoryTutorials = "tutorials"
	CategoryYouTuber  = "youtuber"
	CategoryForKids   = "for_kids"
)

// BuiltinCategories lists the categories created with a fresh subscriptions database.
var BuiltinCategories = []string{
	CategoryGames,
	CategoryMusic,
	CategoryNews,
	CategoryTutorials,
	CategoryYouTuber,
	CategoryForKids,
}

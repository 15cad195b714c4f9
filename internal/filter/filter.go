// Package filter hides videos from blocked channels and videos with too
// few views.
package filter

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryan-buckman/skyvault/internal/database"
	"github.com/bryan-buckman/skyvault/internal/logging"
	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/rs/zerolog"
)

// ErrChannelSubscribed is returned when blocking a channel the user is
// subscribed to.
var ErrChannelSubscribed = errors.New("cannot block a subscribed channel")

// Mode selects which list decides visibility.
type Mode string

const (
	// ModeBlacklist hides listed channels.
	ModeBlacklist Mode = "blacklist"
	// ModeWhitelist shows only listed channels.
	ModeWhitelist Mode = "whitelist"
)

// SubscriptionChecker is satisfied by *database.Subscriptions.
type SubscriptionChecker interface {
	IsSubscribed(ctx context.Context, channelID string) (bool, error)
}

// Blocker applies the channel lists and the view threshold.
type Blocker struct {
	lists    database.FilterStore
	subs     SubscriptionChecker
	mode     Mode
	minViews int64
	log      zerolog.Logger
}

// New creates a Blocker. A negative minViews disables the view filter.
func New(lists database.FilterStore, subs SubscriptionChecker, mode Mode, minViews int64) *Blocker {
	if mode != ModeWhitelist {
		mode = ModeBlacklist
	}
	return &Blocker{
		lists:    lists,
		subs:     subs,
		mode:     mode,
		minViews: minViews,
		log:      logging.With().Str("component", "filter").Logger(),
	}
}

// Mode returns the active mode.
func (b *Blocker) Mode() Mode {
	return b.mode
}

func (b *Blocker) list() database.FilterList {
	if b.mode == ModeWhitelist {
		return database.Whitelist
	}
	return database.Blacklist
}

// Filter returns the videos that may be shown, keeping their order.
func (b *Blocker) Filter(ctx context.Context, videos []model.Video) ([]model.Video, error) {
	listed, err := b.lists.ChannelIDs(ctx, b.list())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", b.list(), err)
	}

	out := make([]model.Video, 0, len(videos))
	for _, v := range videos {
		if reason := b.hidden(&v, listed); reason != "" {
			b.log.Debug().Str("video", v.ID).Str("reason", reason).Msg("video filtered")
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (b *Blocker) hidden(v *model.Video, listed map[string]struct{}) string {
	_, onList := listed[v.ChannelID()]
	switch {
	case b.mode == ModeBlacklist && onList:
		return "blacklisted"
	case b.mode == ModeWhitelist && !onList:
		return "not whitelisted"
	case b.minViews >= 0 && v.ViewsCount < b.minViews:
		return "views"
	}
	return ""
}

// BlockChannel hides a channel: in blacklist mode it is added to the
// blacklist, in whitelist mode removed from the whitelist. Subscribed
// channels cannot be blocked.
func (b *Blocker) BlockChannel(ctx context.Context, channelID, name string) (database.Result, error) {
	subscribed, err := b.subs.IsSubscribed(ctx, channelID)
	if err != nil {
		return database.ResultError, err
	}
	if subscribed {
		return database.ResultNotModified, ErrChannelSubscribed
	}
	if b.mode == ModeWhitelist {
		return b.lists.Remove(ctx, database.Whitelist, channelID)
	}
	return b.lists.Add(ctx, database.Blacklist, channelID, name)
}

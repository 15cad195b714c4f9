package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/bryan-buckman/skyvault/internal/notify"
)

// FilterList selects one of the channel filter tables.
type FilterList string

const (
	Blacklist FilterList = "blacklist"
	Whitelist FilterList = "whitelist"
)

// ParseFilterList accepts "blacklist" or "whitelist".
func ParseFilterList(s string) (FilterList, error) {
	switch l := FilterList(strings.ToLower(s)); l {
	case Blacklist, Whitelist:
		return l, nil
	}
	return "", fmt.Errorf("unknown filter list %q", s)
}

func (l FilterList) table() string {
	if l == Whitelist {
		return tableWhitelist
	}
	return tableBlacklist
}

// ChannelFiltering is the channelFiltering.db store.
type ChannelFiltering struct {
	db     *DB
	events *notify.Registry
}

// NewChannelFiltering wraps an open channelFiltering.db.
func NewChannelFiltering(db *DB) *ChannelFiltering {
	return &ChannelFiltering{db: db, events: notify.NewRegistry("channel_filtering")}
}

// Events returns the listener registry of the store.
func (f *ChannelFiltering) Events() *notify.Registry {
	return f.events
}

// Add puts a channel on the list. A channel already listed returns
// ResultNotModified.
func (f *ChannelFiltering) Add(ctx context.Context, list FilterList, channelID, name string) (Result, error) {
	_, err := f.db.conn.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (Channel_Id, Channel_Name) VALUES (?, ?)", list.table()), channelID, name)
	if isUniqueViolation(err) {
		return ResultNotModified, nil
	}
	if err != nil {
		return ResultError, fmt.Errorf("add %s to %s: %w", channelID, list, err)
	}
	f.events.Notify(notify.Added, channelID)
	return ResultSuccess, nil
}

// Remove takes the channels off the list.
func (f *ChannelFiltering) Remove(ctx context.Context, list FilterList, channelIDs ...string) (Result, error) {
	if len(channelIDs) == 0 {
		return ResultNotModified, nil
	}
	args := make([]any, len(channelIDs))
	for i, id := range channelIDs {
		args[i] = id
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(channelIDs)), ", ")
	res, err := f.db.conn.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE Channel_Id IN (%s)", list.table(), marks), args...)
	if err != nil {
		return ResultError, fmt.Errorf("remove from %s: %w", list, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ResultNotModified, nil
	}
	for _, id := range channelIDs {
		f.events.Notify(notify.Deleted, id)
	}
	return ResultSuccess, nil
}

// Channels returns the listed channels sorted by name.
func (f *ChannelFiltering) Channels(ctx context.Context, list FilterList) ([]model.FilteredChannel, error) {
	rows, err := f.db.conn.QueryContext(ctx, fmt.Sprintf(
		"SELECT Channel_Id, Channel_Name FROM %s ORDER BY Channel_Name COLLATE NOCASE, Channel_Id", list.table()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FilteredChannel
	for rows.Next() {
		var c model.FilteredChannel
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChannelIDs returns the listed channel ids as a set.
func (f *ChannelFiltering) ChannelIDs(ctx context.Context, list FilterList) (map[string]struct{}, error) {
	ids, err := queryStrings(ctx, f.db.conn, fmt.Sprintf("SELECT Channel_Id FROM %s", list.table()))
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// Contains reports whether the channel is on the list.
func (f *ChannelFiltering) Contains(ctx context.Context, list FilterList, channelID string) (bool, error) {
	var exists bool
	err := f.db.conn.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT EXISTS(SELECT 1 FROM %s WHERE Channel_Id = ?)", list.table()), channelID).Scan(&exists)
	return exists, err
}

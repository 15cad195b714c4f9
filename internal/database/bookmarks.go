package database

import (
	"context"

	"github.com/bryan-buckman/skyvault/internal/model"
)

// Bookmarks is the bookmarks.db store.
type Bookmarks struct {
	*orderedStore
}

// NewBookmarks wraps an open bookmarks.db.
func NewBookmarks(db *DB) *Bookmarks {
	return &Bookmarks{orderedStore: newOrderedStore(db, tableBookmarks, "bookmarks")}
}

// Add bookmarks v as the newest entry.
func (b *Bookmarks) Add(ctx context.Context, v model.Video) (Result, error) {
	return b.insert(ctx, &v, nil)
}

// IsBookmarked reports whether the video is bookmarked.
func (b *Bookmarks) IsBookmarked(ctx context.Context, videoID string) (bool, error) {
	return b.Contains(ctx, videoID)
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/bryan-buckman/skyvault/internal/notify"
)

const (
	// minSearchLength is the shortest query that filters by text.
	minSearchLength = 2
	recentSearches  = 10
)

// SearchHistory is the searchHistory.db store.
type SearchHistory struct {
	db       *DB
	events   *notify.Registry
	disabled bool
	now      func() time.Time
}

// NewSearchHistory wraps an open searchHistory.db. With disabled set new
// queries are not remembered and Search returns nothing.
func NewSearchHistory(db *DB, disabled bool) *SearchHistory {
	return &SearchHistory{
		db:       db,
		events:   notify.NewRegistry("search_history"),
		disabled: disabled,
		now:      time.Now,
	}
}

// Events returns the listener registry of the store.
func (h *SearchHistory) Events() *notify.Registry {
	return h.events
}

// Insert remembers a query. Searching the same text again only refreshes
// its date and notifies listeners with notify.Updated.
func (h *SearchHistory) Insert(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if h.disabled || text == "" {
		return ResultNotModified, nil
	}
	date := h.now().UnixMilli()
	kind := notify.Added
	err := h.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE SearchHistory SET Search_Date = ? WHERE Search_Text = ?", date, text)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			kind = notify.Updated
			return nil
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO SearchHistory (Search_Text, Search_Date) VALUES (?, ?)", text, date)
		return err
	})
	if err != nil {
		return ResultError, fmt.Errorf("save search %q: %w", text, err)
	}
	h.events.Notify(kind, text)
	return ResultSuccess, nil
}

// Search returns the entries matching text in alphabetical order. Queries
// shorter than two characters return the ten most recent entries instead.
// A disabled history always returns nothing.
func (h *SearchHistory) Search(ctx context.Context, text string) ([]model.SearchEntry, error) {
	if h.disabled {
		return nil, nil
	}
	const cols = "SELECT _id, Search_Text, Search_Date FROM SearchHistory"
	var (
		query string
		args  []any
	)
	if len([]rune(strings.TrimSpace(text))) < minSearchLength {
		query = cols + " ORDER BY Search_Date DESC, _id DESC LIMIT ?"
		args = append(args, recentSearches)
	} else {
		query = cols + ` WHERE lower(Search_Text) LIKE ? ESCAPE '\' ORDER BY Search_Text COLLATE NOCASE ASC`
		args = append(args, likePattern(strings.TrimSpace(text)))
	}

	rows, err := h.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}
	defer rows.Close()

	var out []model.SearchEntry
	for rows.Next() {
		var e model.SearchEntry
		if err := rows.Scan(&e.ID, &e.Text, &e.Date); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete forgets one query.
func (h *SearchHistory) Delete(ctx context.Context, text string) (Result, error) {
	res, err := h.db.conn.ExecContext(ctx, "DELETE FROM SearchHistory WHERE Search_Text = ?", text)
	if err != nil {
		return ResultError, fmt.Errorf("delete search %q: %w", text, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ResultNotModified, nil
	}
	h.events.Notify(notify.Deleted, text)
	return ResultSuccess, nil
}

// DeleteAll clears the history.
func (h *SearchHistory) DeleteAll(ctx context.Context) (Result, error) {
	if _, err := h.db.conn.ExecContext(ctx, "DELETE FROM SearchHistory"); err != nil {
		return ResultError, fmt.Errorf("clear search history: %w", err)
	}
	h.events.Notify(notify.Deleted, "")
	return ResultSuccess, nil
}

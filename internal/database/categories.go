package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/bryan-buckman/skyvault/internal/notify"
)

// Translator resolves builtin category label keys.
type Translator interface {
	Translate(key string) string
}

// Categories manages the Categories table of subs.db.
type Categories struct {
	db     *DB
	tr     Translator
	events *notify.Registry
}

// NewCategories wraps the subs.db handle. tr may be nil, in which case
// builtin labels are returned as keys.
func NewCategories(db *DB, tr Translator) *Categories {
	return &Categories{db: db, tr: tr, events: notify.NewRegistry("categories")}
}

// Events returns the listener registry of the store.
func (c *Categories) Events() *notify.Registry {
	return c.events
}

// Add appends a user category after the existing ones. A label that
// already exists returns ResultNotModified.
func (c *Categories) Add(ctx context.Context, label, icon string) (Result, error) {
	res, err := c.db.conn.ExecContext(ctx, `
		INSERT INTO Categories (Label, Builtin, Enabled, Priority, Icon)
		VALUES (?, 0, 1, (SELECT COALESCE(MAX(Priority), 0) + 1 FROM Categories), ?)
		ON CONFLICT(Label) DO NOTHING`, label, icon)
	if err != nil {
		return ResultError, fmt.Errorf("add category %q: %w", label, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ResultNotModified, nil
	}
	c.events.Notify(notify.Added, label)
	return ResultSuccess, nil
}

// List returns the categories by priority. Builtin labels are translated.
func (c *Categories) List(ctx context.Context, onlyEnabled bool) ([]model.Category, error) {
	query := "SELECT _id, Label, Builtin, Enabled, Priority, Icon FROM Categories"
	if onlyEnabled {
		query += " WHERE Enabled = 1"
	}
	query += " ORDER BY Priority ASC, _id ASC"

	rows, err := c.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var cat model.Category
		if err := rows.Scan(&cat.ID, &cat.Label, &cat.Builtin, &cat.Enabled, &cat.Priority, &cat.Icon); err != nil {
			return nil, err
		}
		if cat.Builtin && c.tr != nil {
			cat.Label = c.tr.Translate(cat.Label)
		}
		out = append(out, cat)
	}
	return out, rows.Err()
}

// Lookup finds a category by its stored label or, for builtins, by the
// translated one.
func (c *Categories) Lookup(ctx context.Context, label string) (int64, bool, error) {
	cats, err := c.List(ctx, false)
	if err != nil {
		return 0, false, err
	}
	for _, cat := range cats {
		if cat.Label == label {
			return cat.ID, true, nil
		}
	}
	var id int64
	err = c.db.conn.QueryRowContext(ctx, "SELECT _id FROM Categories WHERE Label = ?", label).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup category %q: %w", label, err)
	}
	return id, true, nil
}

// Rename changes the label. A renamed builtin becomes a user category so
// the new label is no longer translated.
func (c *Categories) Rename(ctx context.Context, id int64, label string) (Result, error) {
	res, err := c.db.conn.ExecContext(ctx,
		"UPDATE Categories SET Label = ?, Builtin = 0 WHERE _id = ?", label, id)
	if isUniqueViolation(err) {
		return ResultNotModified, nil
	}
	return c.updated(res, err, id)
}

// SetEnabled shows or hides the category.
func (c *Categories) SetEnabled(ctx context.Context, id int64, enabled bool) (Result, error) {
	res, err := c.db.conn.ExecContext(ctx,
		"UPDATE Categories SET Enabled = ? WHERE _id = ?", enabled, id)
	return c.updated(res, err, id)
}

func (c *Categories) updated(res sql.Result, err error, id int64) (Result, error) {
	if err != nil {
		return ResultError, fmt.Errorf("update category %d: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ResultNotModified, nil
	}
	c.events.Notify(notify.Updated, fmt.Sprint(id))
	return ResultSuccess, nil
}

// Delete removes the category and detaches the channels that used it.
func (c *Categories) Delete(ctx context.Context, id int64) (Result, error) {
	removed := false
	err := c.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE Subs SET Category_Id = NULL WHERE Category_Id = ?", id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM Categories WHERE _id = ?", id)
		if err != nil {
			return err
		}
		affected, _ := res.RowsAffected()
		removed = affected > 0
		return nil
	})
	if err != nil {
		return ResultError, fmt.Errorf("delete category %d: %w", id, err)
	}
	if !removed {
		return ResultNotModified, nil
	}
	c.events.Notify(notify.Deleted, fmt.Sprint(id))
	return ResultSuccess, nil
}

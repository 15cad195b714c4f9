package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/bryan-buckman/skyvault/internal/notify"
)

// ErrOrderMismatch is returned by Reorder when the given ids are not exactly
// the stored rows.
var ErrOrderMismatch = errors.New("reorder list does not match stored rows")

// orderedStore keeps video snapshots with a dense 1..N Order_Index, the
// highest index being the newest entry.
type orderedStore struct {
	db     *DB
	table  string
	events *notify.Registry
}

func newOrderedStore(db *DB, table, topic string) *orderedStore {
	return &orderedStore{db: db, table: table, events: notify.NewRegistry(topic)}
}

// Events returns the listener registry of the store.
func (o *orderedStore) Events() *notify.Registry {
	return o.events
}

// insert adds v with Order_Index = MAX+1. extraCols/extraArgs name further
// columns to fill. An existing id leaves the table untouched.
func (o *orderedStore) insert(ctx context.Context, v *model.Video, extraCols []string, extraArgs ...any) (Result, error) {
	blob, err := EncodeVideo(v)
	if err != nil {
		return ResultError, err
	}

	cols := append([]string{"YouTube_Video_Id", "YouTube_Video"}, extraCols...)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, Order_Index)
		VALUES (%[3]s, (SELECT COALESCE(MAX(Order_Index), 0) + 1 FROM %[1]s))
		ON CONFLICT(YouTube_Video_Id) DO NOTHING`,
		o.table, strings.Join(cols, ", "), marks)

	args := append([]any{v.ID, blob}, extraArgs...)
	res, err := o.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return ResultError, fmt.Errorf("insert %s into %s: %w", v.ID, o.table, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ResultNotModified, nil
	}
	o.events.Notify(notify.Added, v.ID)
	return ResultSuccess, nil
}

// Remove deletes the row and closes the gap in the order indices. Both
// steps share one transaction.
func (o *orderedStore) Remove(ctx context.Context, videoID string) (Result, error) {
	removed := false
	err := o.db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = o.deleteAndRenumber(ctx, tx, videoID)
		return err
	})
	if err != nil {
		return ResultError, fmt.Errorf("remove %s from %s: %w", videoID, o.table, err)
	}
	if !removed {
		return ResultNotModified, nil
	}
	o.events.Notify(notify.Deleted, videoID)
	return ResultSuccess, nil
}

func (o *orderedStore) deleteAndRenumber(ctx context.Context, tx *sql.Tx, videoID string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE YouTube_Video_Id = ?", o.table), videoID)
	if err != nil {
		return false, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return false, nil
	}
	return true, o.renumber(ctx, tx)
}

// renumber rewrites the indices of every row as 1..N, keeping their
// relative order.
func (o *orderedStore) renumber(ctx context.Context, tx *sql.Tx) error {
	ids, err := queryStrings(ctx, tx, fmt.Sprintf(
		"SELECT YouTube_Video_Id FROM %s ORDER BY Order_Index ASC, YouTube_Video_Id ASC", o.table))
	if err != nil {
		return fmt.Errorf("read order: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("UPDATE %s SET Order_Index = ? WHERE YouTube_Video_Id = ?", o.table))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, i+1, id); err != nil {
			return fmt.Errorf("renumber %s: %w", id, err)
		}
	}
	return nil
}

// Reorder applies a new display order. ids is newest first and must list
// every stored row exactly once; the first id gets index N, the last 1.
// Listeners are not notified since the caller already shows the new order.
func (o *orderedStore) Reorder(ctx context.Context, ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate video %s: %w", id, ErrOrderMismatch)
		}
		seen[id] = struct{}{}
	}
	err := o.db.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", o.table)).Scan(&n); err != nil {
			return err
		}
		if n != len(ids) {
			return fmt.Errorf("%d ids for %d rows: %w", len(ids), n, ErrOrderMismatch)
		}
		stmt, err := tx.PrepareContext(ctx,
			fmt.Sprintf("UPDATE %s SET Order_Index = ? WHERE YouTube_Video_Id = ?", o.table))
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, id := range ids {
			res, err := stmt.ExecContext(ctx, len(ids)-i, id)
			if err != nil {
				return err
			}
			if affected, _ := res.RowsAffected(); affected != 1 {
				return fmt.Errorf("unknown video %s: %w", id, ErrOrderMismatch)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reorder %s: %w", o.table, err)
	}
	return nil
}

// Contains reports whether the video is stored.
func (o *orderedStore) Contains(ctx context.Context, videoID string) (bool, error) {
	var exists bool
	err := o.db.conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE YouTube_Video_Id = ?)", o.table), videoID).Scan(&exists)
	return exists, err
}

// Count returns the number of rows.
func (o *orderedStore) Count(ctx context.Context) (int, error) {
	var n int
	err := o.db.conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", o.table)).Scan(&n)
	return n, err
}

// All returns every stored video, newest first.
func (o *orderedStore) All(ctx context.Context) ([]model.Video, error) {
	videos, _, err := o.page(ctx, 0, -1)
	return videos, err
}

// Page returns up to limit videos with an index below before (0 starts at
// the newest) and the index to pass for the following page. next is 0 once
// the end is reached.
func (o *orderedStore) Page(ctx context.Context, before int64, limit int) ([]model.Video, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	return o.page(ctx, before, limit)
}

func (o *orderedStore) page(ctx context.Context, before int64, limit int) ([]model.Video, int64, error) {
	query := fmt.Sprintf("SELECT YouTube_Video_Id, YouTube_Video, Order_Index FROM %s", o.table)
	var args []any
	if before > 0 {
		query += " WHERE Order_Index < ?"
		args = append(args, before)
	}
	query += " ORDER BY Order_Index DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := o.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		videos  []model.Video
		last    int64
		scanned int
	)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob, &last); err != nil {
			return nil, 0, err
		}
		scanned++
		if v := o.db.decodeVideoRow(id, blob); v != nil {
			videos = append(videos, *v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if limit <= 0 || scanned < limit || last <= 1 {
		last = 0
	}
	return videos, last, nil
}

// MaxOrder returns the highest Order_Index, 0 for an empty table.
func (o *orderedStore) MaxOrder(ctx context.Context) (int64, error) {
	var n int64
	err := o.db.conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(Order_Index), 0) FROM %s", o.table)).Scan(&n)
	return n, err
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryStrings collects a single string column. The rows are closed before
// returning so the caller can issue further statements on the same connection.
func queryStrings(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

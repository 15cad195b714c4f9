package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/goccy/go-json"
)

// Backup is the backup.db store holding a single settings row.
type Backup struct {
	db *DB
}

// NewBackup wraps an open backup.db.
func NewBackup(db *DB) *Backup {
	return &Backup{db: db}
}

// Save replaces the stored settings.
func (b *Backup) Save(ctx context.Context, data model.BackupData) (Result, error) {
	tabs := data.HiddenTabs
	if tabs == nil {
		tabs = []string{}
	}
	hidden, err := json.Marshal(tabs)
	if err != nil {
		return ResultError, fmt.Errorf("encode hidden tabs: %w", err)
	}
	_, err = b.db.conn.ExecContext(ctx, `
		INSERT INTO Backup (_id, Default_Tab, Hidden_Tabs, Preferred_Backend, Sort_Order, Api_Key)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(_id) DO UPDATE SET
			Default_Tab = excluded.Default_Tab,
			Hidden_Tabs = excluded.Hidden_Tabs,
			Preferred_Backend = excluded.Preferred_Backend,
			Sort_Order = excluded.Sort_Order,
			Api_Key = excluded.Api_Key`,
		data.DefaultTab, string(hidden), data.PreferredBackend, data.SortOrder, data.APIKey)
	if err != nil {
		return ResultError, fmt.Errorf("save backup: %w", err)
	}
	return ResultSuccess, nil
}

// Load returns the stored settings, or ErrNotFound if none were saved.
func (b *Backup) Load(ctx context.Context) (model.BackupData, error) {
	var data model.BackupData
	var hidden string
	err := b.db.conn.QueryRowContext(ctx,
		"SELECT Default_Tab, Hidden_Tabs, Preferred_Backend, Sort_Order, Api_Key FROM Backup WHERE _id = 1").
		Scan(&data.DefaultTab, &hidden, &data.PreferredBackend, &data.SortOrder, &data.APIKey)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BackupData{}, ErrNotFound
	}
	if err != nil {
		return model.BackupData{}, fmt.Errorf("load backup: %w", err)
	}
	if err := json.Unmarshal([]byte(hidden), &data.HiddenTabs); err != nil {
		b.db.log.Warn().Err(err).Msg("unreadable hidden tabs, ignoring")
		data.HiddenTabs = nil
	}
	return data, nil
}

package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/melos-app/melos/internal/models"
	"github.com/melos-app/melos/internal/shared"
)

// CursorStore persists the sync cursor together with the synchronized
// settings and permissions caches.
//
// The cursor always equals the seq of the last successfully applied event
// (or full-sync snapshot); it is absent only before the first successful
// sync. Settings double as an outbound queue: locally-changed rows carry
// pending_sync until the settings synchronizer confirms them.
type CursorStore struct {
	db *sql.DB
}

// NewCursorStore creates a new CursorStore with the given database connection
func NewCursorStore(db *sql.DB) *CursorStore {
	return &CursorStore{db: db}
}

// Cursor returns the persisted cursor. ok is false before the first
// successful sync.
func (s *CursorStore) Cursor() (seq int64, ok bool, err error) {
	err = s.db.QueryRow("SELECT seq FROM sync_cursor WHERE id = 1").Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cursor: %w", err)
	}
	return seq, true, nil
}

// SetCursor durably advances the cursor to seq.
func (s *CursorStore) SetCursor(seq int64) error {
	query := `
		INSERT INTO sync_cursor (id, seq, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET seq = excluded.seq, updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query, seq, time.Now()); err != nil {
		return fmt.Errorf("failed to set cursor: %w", err)
	}
	return nil
}

// ClearCursor removes the cursor, forcing the next sync to be a full sync.
func (s *CursorStore) ClearCursor() error {
	if _, err := s.db.Exec("DELETE FROM sync_cursor WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to clear cursor: %w", err)
	}
	return nil
}

// ReplaceSettings replaces the settings cache wholesale with the server's
// snapshot. All rows land as synced.
func (s *CursorStore) ReplaceSettings(settings []models.UserSetting) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM user_settings"); err != nil {
		return fmt.Errorf("failed to clear settings: %w", err)
	}

	now := time.Now()
	for _, setting := range settings {
		_, err := tx.Exec(
			"INSERT INTO user_settings (key, value, sync_status, updated_at) VALUES (?, ?, ?, ?)",
			setting.Key, setting.Value, models.StatusSynced, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert setting %s: %w", setting.Key, err)
		}
	}

	return tx.Commit()
}

// ApplySetting applies a server-confirmed setting change. Idempotent.
func (s *CursorStore) ApplySetting(key, value string) error {
	query := `
		INSERT INTO user_settings (key, value, sync_status, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, sync_status = excluded.sync_status, updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query, key, value, models.StatusSynced, time.Now()); err != nil {
		return fmt.Errorf("failed to apply setting %s: %w", key, err)
	}
	return nil
}

// SetSetting records a locally-authored setting change, queueing it for the
// settings synchronizer.
func (s *CursorStore) SetSetting(key, value string) error {
	query := `
		INSERT INTO user_settings (key, value, sync_status, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, sync_status = excluded.sync_status, updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query, key, value, models.StatusPendingSync, time.Now()); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// Settings returns all cached settings.
func (s *CursorStore) Settings() ([]models.UserSetting, error) {
	return s.querySettings("SELECT key, value, sync_status FROM user_settings ORDER BY key")
}

// PendingSettings returns settings awaiting upload, oldest first.
func (s *CursorStore) PendingSettings() ([]models.UserSetting, error) {
	return s.querySettings(
		"SELECT key, value, sync_status FROM user_settings WHERE sync_status = ? ORDER BY updated_at ASC",
		models.StatusPendingSync,
	)
}

// MarkSetting transitions one setting's sync status.
func (s *CursorStore) MarkSetting(key string, status models.SyncStatus) error {
	result, err := s.db.Exec("UPDATE user_settings SET sync_status = ? WHERE key = ?", status, key)
	if err != nil {
		return fmt.Errorf("failed to mark setting %s: %w", key, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: setting %s", shared.ErrRecordNotFound, key)
	}
	return nil
}

// ResolveSetting settles one setting's upload attempt: the row moves to
// status only if it still carries the uploaded value and is still
// syncing. Returns false, changing nothing, when the setting was changed
// while the upload was in flight; the newer value stays pending for a
// later pass.
func (s *CursorStore) ResolveSetting(setting models.UserSetting, status models.SyncStatus) (bool, error) {
	result, err := s.db.Exec(
		"UPDATE user_settings SET sync_status = ? WHERE key = ? AND value = ? AND sync_status = ?",
		status, setting.Key, setting.Value, models.StatusSyncing,
	)
	if err != nil {
		return false, fmt.Errorf("failed to resolve setting %s: %w", setting.Key, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// ReplacePermissions replaces the permission cache wholesale.
func (s *CursorStore) ReplacePermissions(permissions []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM user_permissions"); err != nil {
		return fmt.Errorf("failed to clear permissions: %w", err)
	}

	for _, name := range permissions {
		if _, err := tx.Exec("INSERT OR IGNORE INTO user_permissions (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to insert permission %s: %w", name, err)
		}
	}

	return tx.Commit()
}

// GrantPermission adds a permission. Idempotent.
func (s *CursorStore) GrantPermission(name string) error {
	if _, err := s.db.Exec("INSERT OR IGNORE INTO user_permissions (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("failed to grant permission %s: %w", name, err)
	}
	return nil
}

// RevokePermission removes a permission. Idempotent.
func (s *CursorStore) RevokePermission(name string) error {
	if _, err := s.db.Exec("DELETE FROM user_permissions WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to revoke permission %s: %w", name, err)
	}
	return nil
}

// Permissions returns all cached permissions.
func (s *CursorStore) Permissions() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM user_permissions ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	var permissions []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return permissions, nil
}

// HasPermission reports whether the user holds the named permission.
func (s *CursorStore) HasPermission(name string) (bool, error) {
	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM user_permissions WHERE name = ?)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check permission %s: %w", name, err)
	}
	return exists, nil
}

// Clear wipes the cursor, settings, and permissions. Called on logout.
func (s *CursorStore) Clear() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, query := range []string{
		"DELETE FROM sync_cursor",
		"DELETE FROM user_settings",
		"DELETE FROM user_permissions",
	} {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to clear cursor store: %w", err)
		}
	}

	return tx.Commit()
}

func (s *CursorStore) querySettings(query string, args ...any) ([]models.UserSetting, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	var settings []models.UserSetting
	for rows.Next() {
		var setting models.UserSetting
		if err := rows.Scan(&setting.Key, &setting.Value, &setting.SyncStatus); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings = append(settings, setting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return settings, nil
}

package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/melos-app/melos/internal/models"
	"github.com/melos-app/melos/internal/shared"
)

// LikeStore persists liked-content state. Server truth arrives through
// ApplyRemote/ReplaceAll; local toggles enter through SetLiked and queue
// for the likes synchronizer.
type LikeStore struct {
	db *sql.DB
}

// NewLikeStore creates a new LikeStore with the given database connection
func NewLikeStore(db *sql.DB) *LikeStore {
	return &LikeStore{db: db}
}

// ApplyRemote applies a server-confirmed like state. Sets, never toggles,
// so replaying the same event is a no-op.
func (s *LikeStore) ApplyRemote(contentType, contentID string, liked bool) error {
	query := `
		INSERT INTO liked_content (content_type, content_id, liked, sync_status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (content_type, content_id) DO UPDATE
		SET liked = excluded.liked, sync_status = excluded.sync_status, updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query, contentType, contentID, liked, models.StatusSynced, time.Now()); err != nil {
		return fmt.Errorf("failed to apply remote like: %w", err)
	}
	return nil
}

// ReplaceAll replaces the liked-content cache wholesale with a full-sync
// snapshot. Everything in the snapshot is liked and synced.
func (s *LikeStore) ReplaceAll(likes models.Likes) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM liked_content"); err != nil {
		return fmt.Errorf("failed to clear liked content: %w", err)
	}

	now := time.Now()
	groups := []struct {
		contentType string
		ids         []string
	}{
		{models.ContentTypeAlbum, likes.Albums},
		{models.ContentTypeArtist, likes.Artists},
		{models.ContentTypeTrack, likes.Tracks},
	}

	for _, group := range groups {
		for _, id := range group.ids {
			_, err := tx.Exec(
				"INSERT INTO liked_content (content_type, content_id, liked, sync_status, updated_at) VALUES (?, ?, ?, ?, ?)",
				group.contentType, id, true, models.StatusSynced, now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert like %s/%s: %w", group.contentType, id, err)
			}
		}
	}

	return tx.Commit()
}

// SetLiked records a locally-authored like toggle, queueing it for upload.
func (s *LikeStore) SetLiked(contentType, contentID string, liked bool) error {
	query := `
		INSERT INTO liked_content (content_type, content_id, liked, sync_status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (content_type, content_id) DO UPDATE
		SET liked = excluded.liked, sync_status = excluded.sync_status, updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query, contentType, contentID, liked, models.StatusPendingSync, time.Now()); err != nil {
		return fmt.Errorf("failed to set like: %w", err)
	}
	return nil
}

// IsLiked reports the current liked state of one content item.
func (s *LikeStore) IsLiked(contentType, contentID string) (bool, error) {
	var liked bool
	err := s.db.QueryRow(
		"SELECT liked FROM liked_content WHERE content_type = ? AND content_id = ?",
		contentType, contentID,
	).Scan(&liked)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read like: %w", err)
	}
	return liked, nil
}

// LikedIDs returns the liked content IDs for one content type.
func (s *LikeStore) LikedIDs(contentType string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT content_id FROM liked_content WHERE content_type = ? AND liked = 1 ORDER BY updated_at DESC",
		contentType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query likes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan like: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}

// Pending returns like toggles awaiting upload, oldest first.
func (s *LikeStore) Pending() ([]models.LikedContent, error) {
	rows, err := s.db.Query(
		"SELECT content_type, content_id, liked, sync_status, updated_at FROM liked_content WHERE sync_status = ? ORDER BY updated_at ASC",
		models.StatusPendingSync,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending likes: %w", err)
	}
	defer rows.Close()

	var items []models.LikedContent
	for rows.Next() {
		var item models.LikedContent
		if err := rows.Scan(&item.ContentType, &item.ContentID, &item.Liked, &item.SyncStatus, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending like: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// Mark transitions one like's sync status.
func (s *LikeStore) Mark(contentType, contentID string, status models.SyncStatus) error {
	result, err := s.db.Exec(
		"UPDATE liked_content SET sync_status = ? WHERE content_type = ? AND content_id = ?",
		status, contentType, contentID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark like: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: like %s/%s", shared.ErrRecordNotFound, contentType, contentID)
	}
	return nil
}

// Resolve settles one like's upload attempt: the row moves to status only
// if it still carries the uploaded value and is still syncing. Returns
// false, changing nothing, when the row was edited while the upload was
// in flight; the newer toggle stays pending for a later pass.
func (s *LikeStore) Resolve(item models.LikedContent, status models.SyncStatus) (bool, error) {
	result, err := s.db.Exec(
		"UPDATE liked_content SET sync_status = ? WHERE content_type = ? AND content_id = ? AND liked = ? AND sync_status = ?",
		status, item.ContentType, item.ContentID, item.Liked, models.StatusSyncing,
	)
	if err != nil {
		return false, fmt.Errorf("failed to resolve like: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// Clear wipes the liked-content cache. Called on logout.
func (s *LikeStore) Clear() error {
	if _, err := s.db.Exec("DELETE FROM liked_content"); err != nil {
		return fmt.Errorf("failed to clear liked content: %w", err)
	}
	return nil
}

package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/melos-app/melos/internal/models"
	"github.com/melos-app/melos/internal/shared"
)

// PlaylistStore persists the user's playlist collection. Track order is
// part of the data: track IDs are stored as an ordered JSON array.
type PlaylistStore struct {
	db *sql.DB
}

// NewPlaylistStore creates a new PlaylistStore with the given database connection
func NewPlaylistStore(db *sql.DB) *PlaylistStore {
	return &PlaylistStore{db: db}
}

// Upsert inserts or replaces a playlist with the given sync status.
func (s *PlaylistStore) Upsert(playlist models.UserPlaylist) error {
	trackIDs, err := encodeTrackIDs(playlist.TrackIDs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO user_playlists (id, name, track_ids, sync_status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET name = excluded.name, track_ids = excluded.track_ids,
			sync_status = excluded.sync_status, updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query, playlist.ID, playlist.Name, trackIDs, playlist.SyncStatus, time.Now()); err != nil {
		return fmt.Errorf("failed to upsert playlist: %w", err)
	}
	return nil
}

// SetName applies a server-confirmed rename. A missing playlist is not an
// error: the create event may have been compacted away and full sync will
// reconcile.
func (s *PlaylistStore) SetName(id, name string) error {
	query := "UPDATE user_playlists SET name = ?, sync_status = ?, updated_at = ? WHERE id = ?"
	if _, err := s.db.Exec(query, name, models.PlaylistSynced, time.Now(), id); err != nil {
		return fmt.Errorf("failed to rename playlist: %w", err)
	}
	return nil
}

// SetTracks applies a server-confirmed track-list replacement.
func (s *PlaylistStore) SetTracks(id string, trackIDs []string) error {
	encoded, err := encodeTrackIDs(trackIDs)
	if err != nil {
		return err
	}
	query := "UPDATE user_playlists SET track_ids = ?, sync_status = ?, updated_at = ? WHERE id = ?"
	if _, err := s.db.Exec(query, encoded, models.PlaylistSynced, time.Now(), id); err != nil {
		return fmt.Errorf("failed to update playlist tracks: %w", err)
	}
	return nil
}

// Delete removes a playlist. Idempotent.
func (s *PlaylistStore) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM user_playlists WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete playlist: %w", err)
	}
	return nil
}

// Get retrieves a playlist by ID.
func (s *PlaylistStore) Get(id string) (*models.UserPlaylist, error) {
	row := s.db.QueryRow(
		"SELECT id, name, track_ids, sync_status, updated_at FROM user_playlists WHERE id = ?", id,
	)

	playlist, err := scanPlaylist(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: playlist %s", shared.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan playlist: %w", err)
	}
	return playlist, nil
}

// List retrieves all playlists ordered by name.
func (s *PlaylistStore) List() ([]models.UserPlaylist, error) {
	return s.queryPlaylists("SELECT id, name, track_ids, sync_status, updated_at FROM user_playlists ORDER BY name")
}

// ListPending retrieves playlists with unconfirmed local edits. The sync
// manager snapshots these before a full-state fetch so they survive the
// wholesale replacement.
func (s *PlaylistStore) ListPending() ([]models.UserPlaylist, error) {
	return s.queryPlaylists(
		"SELECT id, name, track_ids, sync_status, updated_at FROM user_playlists WHERE sync_status IN (?, ?) ORDER BY updated_at ASC",
		models.PlaylistPendingCreate, models.PlaylistPendingUpdate,
	)
}

// ReplaceAll replaces the playlist collection wholesale. Callers are
// responsible for merging locally pending playlists into the new list
// before calling.
func (s *PlaylistStore) ReplaceAll(playlists []models.UserPlaylist) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM user_playlists"); err != nil {
		return fmt.Errorf("failed to clear playlists: %w", err)
	}

	now := time.Now()
	for _, playlist := range playlists {
		trackIDs, err := encodeTrackIDs(playlist.TrackIDs)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			"INSERT INTO user_playlists (id, name, track_ids, sync_status, updated_at) VALUES (?, ?, ?, ?, ?)",
			playlist.ID, playlist.Name, trackIDs, playlist.SyncStatus, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert playlist %s: %w", playlist.ID, err)
		}
	}

	return tx.Commit()
}

// Clear wipes the playlist collection. Called on logout.
func (s *PlaylistStore) Clear() error {
	if _, err := s.db.Exec("DELETE FROM user_playlists"); err != nil {
		return fmt.Errorf("failed to clear playlists: %w", err)
	}
	return nil
}

func (s *PlaylistStore) queryPlaylists(query string, args ...any) ([]models.UserPlaylist, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var playlists []models.UserPlaylist
	for rows.Next() {
		playlist, err := scanPlaylist(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		playlists = append(playlists, *playlist)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return playlists, nil
}

func scanPlaylist(scan func(...any) error) (*models.UserPlaylist, error) {
	var (
		playlist models.UserPlaylist
		encoded  string
	)
	if err := scan(&playlist.ID, &playlist.Name, &encoded, &playlist.SyncStatus, &playlist.UpdatedAt); err != nil {
		return nil, err
	}

	trackIDs, err := decodeTrackIDs(encoded)
	if err != nil {
		return nil, err
	}
	playlist.TrackIDs = trackIDs
	return &playlist, nil
}

func encodeTrackIDs(trackIDs []string) (string, error) {
	if trackIDs == nil {
		trackIDs = []string{}
	}
	data, err := json.Marshal(trackIDs)
	if err != nil {
		return "", fmt.Errorf("failed to encode track ids: %w", err)
	}
	return string(data), nil
}

func decodeTrackIDs(encoded string) ([]string, error) {
	var trackIDs []string
	if err := json.Unmarshal([]byte(encoded), &trackIDs); err != nil {
		return nil, fmt.Errorf("failed to decode track ids: %w", err)
	}
	return trackIDs, nil
}

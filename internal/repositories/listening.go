package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/melos-app/melos/internal/models"
	"github.com/melos-app/melos/internal/shared"
)

// ListeningStore persists listening-session records. One row per session
// (session_id is unique); checkpoints update the row in place. Rows are
// deleted once the server confirms them.
type ListeningStore struct {
	db *sql.DB
}

// NewListeningStore creates a new ListeningStore with the given database connection
func NewListeningStore(db *sql.DB) *ListeningStore {
	return &ListeningStore{db: db}
}

// Insert persists a new listening-session record as pending_sync and fills
// in its generated ID.
func (s *ListeningStore) Insert(ev *models.ListeningEvent) error {
	ev.ID = shared.GenerateID()
	ev.SyncStatus = models.StatusPendingSync
	now := time.Now()
	ev.CreatedAt = now
	ev.UpdatedAt = now

	query := `
		INSERT INTO listening_events (
			id, session_id, track_id, started_at, ended_at, duration_seconds,
			track_duration_seconds, seek_count, pause_count, playback_context,
			sync_status, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		ev.ID, ev.SessionID, ev.TrackID, ev.StartedAt, ev.EndedAt,
		ev.DurationSeconds, ev.TrackDurationSeconds, ev.SeekCount,
		ev.PauseCount, ev.PlaybackContext, ev.SyncStatus, ev.CreatedAt, ev.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert listening event: %w", err)
	}
	return nil
}

// Update rewrites a checkpointed record in place and re-queues it for
// upload. Never inserts: a session has at most one row.
func (s *ListeningStore) Update(ev *models.ListeningEvent) error {
	now := time.Now()
	ev.UpdatedAt = now
	ev.SyncStatus = models.StatusPendingSync

	query := `
		UPDATE listening_events
		SET ended_at = ?, duration_seconds = ?, seek_count = ?, pause_count = ?,
			sync_status = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.Exec(query,
		ev.EndedAt, ev.DurationSeconds, ev.SeekCount, ev.PauseCount,
		ev.SyncStatus, ev.UpdatedAt, ev.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update listening event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: listening event %s", shared.ErrRecordNotFound, ev.ID)
	}
	return nil
}

// Get retrieves a listening event by ID.
func (s *ListeningStore) Get(id string) (*models.ListeningEvent, error) {
	row := s.db.QueryRow(selectListening+" WHERE id = ?", id)
	ev, err := scanListening(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: listening event %s", shared.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan listening event: %w", err)
	}
	return ev, nil
}

// List returns all records, oldest first. Used by the history export.
func (s *ListeningStore) List() ([]models.ListeningEvent, error) {
	rows, err := s.db.Query(selectListening + " ORDER BY started_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query listening events: %w", err)
	}
	defer rows.Close()

	var events []models.ListeningEvent
	for rows.Next() {
		ev, err := scanListening(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listening event: %w", err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

// Pending returns records awaiting upload, oldest first.
func (s *ListeningStore) Pending() ([]models.ListeningEvent, error) {
	rows, err := s.db.Query(selectListening+" WHERE sync_status = ? ORDER BY updated_at ASC", models.StatusPendingSync)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending listening events: %w", err)
	}
	defer rows.Close()

	var events []models.ListeningEvent
	for rows.Next() {
		ev, err := scanListening(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listening event: %w", err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

// Mark transitions one record's sync status.
func (s *ListeningStore) Mark(id string, status models.SyncStatus) error {
	result, err := s.db.Exec("UPDATE listening_events SET sync_status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to mark listening event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: listening event %s", shared.ErrRecordNotFound, id)
	}
	return nil
}

// Resolve settles one record's upload attempt: the status transition
// applies only while the row is still syncing. Returns false, changing
// nothing, when a checkpoint rewrote the row mid-upload; the newer
// progress stays pending for a later pass.
func (s *ListeningStore) Resolve(id string, status models.SyncStatus) (bool, error) {
	result, err := s.db.Exec(
		"UPDATE listening_events SET sync_status = ? WHERE id = ? AND sync_status = ?",
		status, id, models.StatusSyncing,
	)
	if err != nil {
		return false, fmt.Errorf("failed to resolve listening event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// Delete removes a record, used after the server confirms it.
func (s *ListeningStore) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM listening_events WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete listening event: %w", err)
	}
	return nil
}

// DeleteConfirmed removes a record whose upload the server confirmed,
// unless a checkpoint rewrote the row while the upload was in flight.
// Returns false when the row survived with newer progress still pending.
func (s *ListeningStore) DeleteConfirmed(id string) (bool, error) {
	result, err := s.db.Exec(
		"DELETE FROM listening_events WHERE id = ? AND sync_status = ?",
		id, models.StatusSyncing,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete listening event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// DeleteBySession removes a checkpointed record whose session never reached
// the reporting threshold. Idempotent.
func (s *ListeningStore) DeleteBySession(sessionID string) error {
	if _, err := s.db.Exec("DELETE FROM listening_events WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete listening session: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes terminal-failure records older than cutoff.
// Startup cleanup for the listening synchronizer.
func (s *ListeningStore) PurgeOlderThan(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(
		"DELETE FROM listening_events WHERE sync_status = ? AND updated_at < ?",
		models.StatusSyncError, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge listening events: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}

// CountByStatus returns record counts grouped by sync status, used by the
// status surfaces.
func (s *ListeningStore) CountByStatus() (map[models.SyncStatus]int, error) {
	rows, err := s.db.Query("SELECT sync_status, COUNT(*) FROM listening_events GROUP BY sync_status")
	if err != nil {
		return nil, fmt.Errorf("failed to count listening events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.SyncStatus]int)
	for rows.Next() {
		var (
			status models.SyncStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return counts, nil
}

const selectListening = `
	SELECT id, session_id, track_id, started_at, ended_at, duration_seconds,
		track_duration_seconds, seek_count, pause_count, playback_context,
		sync_status, created_at, updated_at
	FROM listening_events
`

func scanListening(scan func(...any) error) (*models.ListeningEvent, error) {
	var (
		ev      models.ListeningEvent
		endedAt sql.NullTime
	)
	err := scan(
		&ev.ID, &ev.SessionID, &ev.TrackID, &ev.StartedAt, &endedAt,
		&ev.DurationSeconds, &ev.TrackDurationSeconds, &ev.SeekCount,
		&ev.PauseCount, &ev.PlaybackContext, &ev.SyncStatus, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		ev.EndedAt = &endedAt.Time
	}
	return &ev, nil
}

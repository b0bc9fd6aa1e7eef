package models

import "time"

// SyncStatus is the lifecycle state of a locally-authored record awaiting
// server confirmation.
type SyncStatus string

const (
	StatusPendingSync SyncStatus = "pending_sync" // created locally, not yet sent
	StatusSyncing     SyncStatus = "syncing"      // in flight
	StatusSynced      SyncStatus = "synced"       // confirmed by the server
	StatusSyncError   SyncStatus = "sync_error"   // terminal failure, kept for diagnostics
)

// PlaylistSyncStatus is the lifecycle state of a user playlist.
type PlaylistSyncStatus string

const (
	PlaylistSynced        PlaylistSyncStatus = "synced"
	PlaylistPendingCreate PlaylistSyncStatus = "pending_create"
	PlaylistPendingUpdate PlaylistSyncStatus = "pending_update"
)

// Pending reports whether the playlist has local edits the server has not
// confirmed. Pending playlists survive a full-state replacement.
func (s PlaylistSyncStatus) Pending() bool {
	return s == PlaylistPendingCreate || s == PlaylistPendingUpdate
}

// Content types for likeable catalog entities.
const (
	ContentTypeAlbum  = "album"
	ContentTypeArtist = "artist"
	ContentTypeTrack  = "track"
)

// LikedContent is one liked-content toggle, local or server-confirmed.
type LikedContent struct {
	ContentType string
	ContentID   string
	Liked       bool
	SyncStatus  SyncStatus
	UpdatedAt   time.Time
}

// UserSetting is a key-value user preference.
type UserSetting struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	SyncStatus SyncStatus
}

// UserPlaylist is a user-owned playlist with its ordered track list.
type UserPlaylist struct {
	ID         string
	Name       string
	TrackIDs   []string
	SyncStatus PlaylistSyncStatus
	UpdatedAt  time.Time
}

// ListeningEvent is a persisted listening-session record. One row per
// session; checkpoints update the row in place, never insert a second one.
// SessionID is the server-side dedup key.
type ListeningEvent struct {
	ID                   string
	SessionID            string
	TrackID              string
	StartedAt            time.Time
	EndedAt              *time.Time
	DurationSeconds      int
	TrackDurationSeconds int
	SeekCount            int
	PauseCount           int
	PlaybackContext      string
	SyncStatus           SyncStatus
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

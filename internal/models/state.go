package models

// Likes is the liked-content portion of a full-state snapshot, grouped by
// content type.
type Likes struct {
	Albums  []string `json:"albums"`
	Artists []string `json:"artists"`
	Tracks  []string `json:"tracks"`
}

// PlaylistSnapshot is the server's view of one playlist inside a full-state
// snapshot.
type PlaylistSnapshot struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	TrackIDs []string `json:"tracks"`
}

// SyncState is the authoritative full-state snapshot as of Seq. Fetched
// whenever no cursor exists or the event log has been pruned past it.
type SyncState struct {
	Seq         int64              `json:"seq"`
	Likes       Likes              `json:"likes"`
	Settings    []UserSetting      `json:"settings"`
	Playlists   []PlaylistSnapshot `json:"playlists"`
	Permissions []string           `json:"permissions"`
}

package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Wire names for the event union, keyed by the envelope "type" field.
// Realtime pushes prefix these with "sync." for namespaced routing.
const (
	TypeContentLiked          = "content_liked"
	TypeContentUnliked        = "content_unliked"
	TypePlaylistCreated       = "playlist_created"
	TypePlaylistRenamed       = "playlist_renamed"
	TypePlaylistDeleted       = "playlist_deleted"
	TypePlaylistTracksUpdated = "playlist_tracks_updated"
	TypePermissionGranted     = "permission_granted"
	TypePermissionRevoked     = "permission_revoked"
	TypePermissionsReset      = "permissions_reset"
	TypeSettingChanged        = "setting_changed"
	TypeDownloadCompleted     = "download_completed"
)

// EventEnvelope is the wire shape shared by the REST event feed and the
// realtime channel: a sequence number, a type tag, and a type-specific payload.
type EventEnvelope struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
}

// Event is the closed union of server events. Each variant carries the
// sequence number it occupies in the event log.
type Event interface {
	EventSeq() int64
	EventType() string
}

// ContentLiked marks contentID as liked for this user.
type ContentLiked struct {
	Seq         int64  `json:"-"`
	ContentType string `json:"content_type"`
	ContentID   string `json:"content_id"`
}

func (e ContentLiked) EventSeq() int64   { return e.Seq }
func (e ContentLiked) EventType() string { return TypeContentLiked }

// ContentUnliked marks contentID as no longer liked.
type ContentUnliked struct {
	Seq         int64  `json:"-"`
	ContentType string `json:"content_type"`
	ContentID   string `json:"content_id"`
}

func (e ContentUnliked) EventSeq() int64   { return e.Seq }
func (e ContentUnliked) EventType() string { return TypeContentUnliked }

// PlaylistCreated announces a playlist created on another device.
type PlaylistCreated struct {
	Seq      int64    `json:"-"`
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	TrackIDs []string `json:"track_ids"`
}

func (e PlaylistCreated) EventSeq() int64   { return e.Seq }
func (e PlaylistCreated) EventType() string { return TypePlaylistCreated }

// PlaylistRenamed carries a playlist's new name.
type PlaylistRenamed struct {
	Seq  int64  `json:"-"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (e PlaylistRenamed) EventSeq() int64   { return e.Seq }
func (e PlaylistRenamed) EventType() string { return TypePlaylistRenamed }

// PlaylistDeleted removes a playlist.
type PlaylistDeleted struct {
	Seq int64  `json:"-"`
	ID  string `json:"id"`
}

func (e PlaylistDeleted) EventSeq() int64   { return e.Seq }
func (e PlaylistDeleted) EventType() string { return TypePlaylistDeleted }

// PlaylistTracksUpdated replaces a playlist's ordered track list.
type PlaylistTracksUpdated struct {
	Seq      int64    `json:"-"`
	ID       string   `json:"id"`
	TrackIDs []string `json:"track_ids"`
}

func (e PlaylistTracksUpdated) EventSeq() int64   { return e.Seq }
func (e PlaylistTracksUpdated) EventType() string { return TypePlaylistTracksUpdated }

// PermissionGranted adds a permission to this user.
type PermissionGranted struct {
	Seq        int64  `json:"-"`
	Permission string `json:"permission"`
}

func (e PermissionGranted) EventSeq() int64   { return e.Seq }
func (e PermissionGranted) EventType() string { return TypePermissionGranted }

// PermissionRevoked removes a permission from this user.
type PermissionRevoked struct {
	Seq        int64  `json:"-"`
	Permission string `json:"permission"`
}

func (e PermissionRevoked) EventSeq() int64   { return e.Seq }
func (e PermissionRevoked) EventType() string { return TypePermissionRevoked }

// PermissionsReset replaces the full permission set.
type PermissionsReset struct {
	Seq         int64    `json:"-"`
	Permissions []string `json:"permissions"`
}

func (e PermissionsReset) EventSeq() int64   { return e.Seq }
func (e PermissionsReset) EventType() string { return TypePermissionsReset }

// SettingChanged carries a user setting changed on another device.
type SettingChanged struct {
	Seq   int64  `json:"-"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (e SettingChanged) EventSeq() int64   { return e.Seq }
func (e SettingChanged) EventType() string { return TypeSettingChanged }

// DownloadCompleted announces that a server-side download finished. These
// are delivered individually but surfaced to the user as one grouped
// notification when several arrive close together.
type DownloadCompleted struct {
	Seq         int64     `json:"-"`
	ContentID   string    `json:"content_id"`
	Title       string    `json:"title"`
	CompletedAt time.Time `json:"completed_at"`
}

func (e DownloadCompleted) EventSeq() int64   { return e.Seq }
func (e DownloadCompleted) EventType() string { return TypeDownloadCompleted }

// UnknownEvent stands in for event types this client does not understand.
// It still occupies its sequence number so the cursor can advance past it;
// applying it is a no-op. Required for forward compatibility with
// server-added event types.
type UnknownEvent struct {
	Seq  int64
	Type string
}

func (e UnknownEvent) EventSeq() int64   { return e.Seq }
func (e UnknownEvent) EventType() string { return e.Type }

// DecodeEvent decodes an envelope into its union variant. A "sync." prefix
// on the type tag is accepted and stripped, so realtime pushes and REST
// feed entries decode identically.
//
// Unknown types and unparseable payloads of known types decode to
// [UnknownEvent] rather than failing: a client must never stall its event
// log because a newer server shipped a new event shape.
func DecodeEvent(env EventEnvelope) Event {
	kind := strings.TrimPrefix(env.Type, "sync.")

	var (
		ev  Event
		err error
	)

	switch kind {
	case TypeContentLiked:
		ev, err = decodePayload(env, &ContentLiked{Seq: env.Seq})
	case TypeContentUnliked:
		ev, err = decodePayload(env, &ContentUnliked{Seq: env.Seq})
	case TypePlaylistCreated:
		ev, err = decodePayload(env, &PlaylistCreated{Seq: env.Seq})
	case TypePlaylistRenamed:
		ev, err = decodePayload(env, &PlaylistRenamed{Seq: env.Seq})
	case TypePlaylistDeleted:
		ev, err = decodePayload(env, &PlaylistDeleted{Seq: env.Seq})
	case TypePlaylistTracksUpdated:
		ev, err = decodePayload(env, &PlaylistTracksUpdated{Seq: env.Seq})
	case TypePermissionGranted:
		ev, err = decodePayload(env, &PermissionGranted{Seq: env.Seq})
	case TypePermissionRevoked:
		ev, err = decodePayload(env, &PermissionRevoked{Seq: env.Seq})
	case TypePermissionsReset:
		ev, err = decodePayload(env, &PermissionsReset{Seq: env.Seq})
	case TypeSettingChanged:
		ev, err = decodePayload(env, &SettingChanged{Seq: env.Seq})
	case TypeDownloadCompleted:
		ev, err = decodePayload(env, &DownloadCompleted{Seq: env.Seq})
	default:
		return UnknownEvent{Seq: env.Seq, Type: kind}
	}

	if err != nil {
		return UnknownEvent{Seq: env.Seq, Type: kind}
	}
	return ev
}

// decodePayload unmarshals the envelope payload into target, which already
// carries the sequence number.
func decodePayload[T Event](env EventEnvelope, target *T) (Event, error) {
	if len(env.Payload) == 0 {
		return *target, nil
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
	}
	return *target, nil
}

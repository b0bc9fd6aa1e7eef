package services

import (
	"context"

	"github.com/melos-app/melos/internal/models"
)

// API defines the server operations the sync engine depends on.
type API interface {
	// SyncState fetches the authoritative full-state snapshot.
	SyncState(ctx context.Context) (*models.SyncState, error)

	// SyncEvents fetches events with seq strictly greater than since.
	// Returns shared.ErrEventsPruned when the server has truncated the
	// event log past the requested cursor.
	SyncEvents(ctx context.Context, since int64) (*EventBatch, error)

	// LikeContent marks content as liked for the authenticated user.
	LikeContent(ctx context.Context, contentType, contentID string) error

	// UnlikeContent removes a like.
	UnlikeContent(ctx context.Context, contentType, contentID string) error

	// PutSettings uploads locally-changed user settings.
	PutSettings(ctx context.Context, settings []models.UserSetting) error

	// PostListening submits a listening-session record. Idempotent by
	// session_id: a retried submission returns the existing record.
	PostListening(ctx context.Context, ev *models.ListeningEvent) (*ListeningReceipt, error)
}

// EventBatch is the response of the event feed: the matching events in
// ascending seq order plus the head of the server's event log.
type EventBatch struct {
	Events     []models.EventEnvelope `json:"events"`
	CurrentSeq int64                  `json:"current_seq"`
}

// ListeningReceipt acknowledges a listening-session submission. Created is
// false when the server already had a record for the session.
type ListeningReceipt struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

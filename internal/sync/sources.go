package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/melos-app/melos/internal/models"
	"github.com/melos-app/melos/internal/repositories"
	"github.com/melos-app/melos/internal/services"
	"github.com/melos-app/melos/internal/shared"
)

// retryStatus maps an upload error onto the status the failed item should
// carry. Network failures and auth failures are retried on a later pass
// (credentials may refresh out-of-band); everything else is a terminal
// per-item failure kept for diagnostics.
func retryStatus(err error) models.SyncStatus {
	if errors.Is(err, shared.ErrNetwork) || errors.Is(err, shared.ErrUnauthorized) {
		return models.StatusPendingSync
	}
	return models.StatusSyncError
}

// LikesSource drains locally-authored like toggles.
type LikesSource struct {
	api   services.API
	store *repositories.LikeStore
}

// NewLikesSource creates a synchronizer source over the like queue.
func NewLikesSource(api services.API, store *repositories.LikeStore) *LikesSource {
	return &LikesSource{api: api, store: store}
}

func (s *LikesSource) Name() string { return "likes" }

func (s *LikesSource) BeforeLoop(ctx context.Context) error { return nil }

func (s *LikesSource) ItemsToProcess(ctx context.Context) ([]models.LikedContent, error) {
	return s.store.Pending()
}

func (s *LikesSource) ProcessItem(ctx context.Context, item models.LikedContent) error {
	if err := s.store.Mark(item.ContentType, item.ContentID, models.StatusSyncing); err != nil {
		return err
	}

	var err error
	if item.Liked {
		err = s.api.LikeContent(ctx, item.ContentType, item.ContentID)
	} else {
		err = s.api.UnlikeContent(ctx, item.ContentType, item.ContentID)
	}
	// Resolve declines to touch a row that was re-toggled while this
	// upload was in flight, so the newer value stays queued.
	if err != nil {
		if _, markErr := s.store.Resolve(item, retryStatus(err)); markErr != nil {
			return markErr
		}
		return fmt.Errorf("failed to upload like %s/%s: %w", item.ContentType, item.ContentID, err)
	}

	_, err = s.store.Resolve(item, models.StatusSynced)
	return err
}

// SettingsSource drains locally-changed user settings.
type SettingsSource struct {
	api   services.API
	store *repositories.CursorStore
}

// NewSettingsSource creates a synchronizer source over the settings queue.
func NewSettingsSource(api services.API, store *repositories.CursorStore) *SettingsSource {
	return &SettingsSource{api: api, store: store}
}

func (s *SettingsSource) Name() string { return "settings" }

func (s *SettingsSource) BeforeLoop(ctx context.Context) error { return nil }

func (s *SettingsSource) ItemsToProcess(ctx context.Context) ([]models.UserSetting, error) {
	return s.store.PendingSettings()
}

func (s *SettingsSource) ProcessItem(ctx context.Context, item models.UserSetting) error {
	if err := s.store.MarkSetting(item.Key, models.StatusSyncing); err != nil {
		return err
	}

	// ResolveSetting declines to touch a row that was changed while this
	// upload was in flight, so the newer value stays queued.
	if err := s.api.PutSettings(ctx, []models.UserSetting{item}); err != nil {
		if _, markErr := s.store.ResolveSetting(item, retryStatus(err)); markErr != nil {
			return markErr
		}
		return fmt.Errorf("failed to upload setting %s: %w", item.Key, err)
	}

	_, err := s.store.ResolveSetting(item, models.StatusSynced)
	return err
}

// ListeningSource drains finalized and checkpointed listening-session
// records. Confirmed records are deleted rather than kept: the server is
// the system of record for listening history.
type ListeningSource struct {
	api       services.API
	store     *repositories.ListeningStore
	retention time.Duration
	logger    *log.Logger
}

// NewListeningSource creates a synchronizer source over the listening
// queue. retention bounds how long terminal failures are kept before the
// startup purge removes them.
func NewListeningSource(api services.API, store *repositories.ListeningStore, retention time.Duration, logger *log.Logger) *ListeningSource {
	return &ListeningSource{
		api:       api,
		store:     store,
		retention: retention,
		logger:    shared.WithLogger(logger, "component", "listening-source"),
	}
}

func (s *ListeningSource) Name() string { return "listening" }

// BeforeLoop purges terminal failures older than the retention window so
// they cannot accumulate across app restarts.
func (s *ListeningSource) BeforeLoop(ctx context.Context) error {
	purged, err := s.store.PurgeOlderThan(time.Now().Add(-s.retention))
	if err != nil {
		return err
	}
	if purged > 0 {
		s.logger.Info("purged stale listening records", "count", purged)
	}
	return nil
}

func (s *ListeningSource) ItemsToProcess(ctx context.Context) ([]models.ListeningEvent, error) {
	return s.store.Pending()
}

func (s *ListeningSource) ProcessItem(ctx context.Context, item models.ListeningEvent) error {
	if err := s.store.Mark(item.ID, models.StatusSyncing); err != nil {
		return err
	}

	receipt, err := s.api.PostListening(ctx, &item)
	if err != nil {
		if _, markErr := s.store.Resolve(item.ID, retryStatus(err)); markErr != nil {
			return markErr
		}
		return fmt.Errorf("failed to upload listening session %s: %w", item.SessionID, err)
	}
	if !receipt.Created {
		s.logger.Debug("session already known to server", "session_id", item.SessionID)
	}

	// A checkpoint may have rewritten the row mid-upload; in that case it
	// is pending again and must survive for the next pass.
	deleted, err := s.store.DeleteConfirmed(item.ID)
	if err != nil {
		return err
	}
	if !deleted {
		s.logger.Debug("session checkpointed mid-upload, keeping newer row", "session_id", item.SessionID)
	}
	return nil
}

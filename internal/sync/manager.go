package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/melos-app/melos/internal/models"
	"github.com/melos-app/melos/internal/repositories"
	"github.com/melos-app/melos/internal/services"
	"github.com/melos-app/melos/internal/shared"
)

// Status names the phase of the sync state machine.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

// State is the externally visible sync state: the current phase, the
// cursor as of the last successful sync, and the failure reason when the
// phase is [StatusError].
type State struct {
	Status Status
	Seq    int64
	Reason string
}

// Manager drives the cursor-based sync protocol. It owns the durable
// cursor and applies server events to the local stores.
//
// All sync entry points are serialized on an internal mutex; a realtime
// push arriving mid full-sync waits its turn.
type Manager struct {
	api       services.API
	cursor    *repositories.CursorStore
	likes     *repositories.LikeStore
	playlists *repositories.PlaylistStore
	notifier  *Notifier
	logger    *log.Logger

	// mu serializes sync operations end to end.
	mu sync.Mutex

	// stateMu guards the published state on its own, so subscribers and
	// pollers can read it while a sync operation holds mu.
	stateMu sync.Mutex
	state   State

	subMu       sync.Mutex
	subscribers []func(State)
}

// NewManager creates a sync manager over the given API client and stores.
// notifier may be nil when grouped download notifications are not wanted.
func NewManager(
	api services.API,
	cursor *repositories.CursorStore,
	likes *repositories.LikeStore,
	playlists *repositories.PlaylistStore,
	notifier *Notifier,
	logger *log.Logger,
) *Manager {
	return &Manager{
		api:       api,
		cursor:    cursor,
		likes:     likes,
		playlists: playlists,
		notifier:  notifier,
		logger:    shared.WithLogger(logger, "component", "sync-manager"),
		state:     State{Status: StatusIdle},
	}
}

// State returns the current sync state. Safe to call from a subscriber
// callback.
func (m *Manager) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// Subscribe registers a callback invoked on every state transition.
// Callbacks run synchronously on the syncing goroutine; they may read
// [Manager.State] but must not start sync operations.
func (m *Manager) Subscribe(fn func(State)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Initialize brings the local state up to date: a catch-up when a cursor
// exists, a full sync otherwise. Called on startup and on every realtime
// reconnect, before the connection is considered live.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	_, ok, err := m.cursor.Cursor()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		return m.FullSync(ctx)
	}
	return m.CatchUp(ctx)
}

// FullSync fetches the authoritative snapshot and replaces the local
// caches wholesale, preserving playlists with unconfirmed local edits.
func (m *Manager) FullSync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fullSyncLocked(ctx)
}

func (m *Manager) fullSyncLocked(ctx context.Context) error {
	m.transition(State{Status: StatusSyncing})
	m.logger.Info("full sync started")

	// Snapshot pending playlists before the fetch so local edits made up
	// to this instant survive the wholesale replacement.
	pending, err := m.playlists.ListPending()
	if err != nil {
		return m.fail(err)
	}

	snapshot, err := m.api.SyncState(ctx)
	if err != nil {
		return m.fail(fmt.Errorf("failed to fetch sync state: %w", err))
	}

	if err := m.likes.ReplaceAll(snapshot.Likes); err != nil {
		return m.fail(err)
	}
	if err := m.cursor.ReplaceSettings(snapshot.Settings); err != nil {
		return m.fail(err)
	}
	if err := m.cursor.ReplacePermissions(snapshot.Permissions); err != nil {
		return m.fail(err)
	}
	if err := m.playlists.ReplaceAll(mergePlaylists(snapshot.Playlists, pending)); err != nil {
		return m.fail(err)
	}
	if err := m.cursor.SetCursor(snapshot.Seq); err != nil {
		return m.fail(err)
	}

	m.transition(State{Status: StatusSynced, Seq: snapshot.Seq})
	m.logger.Info("full sync complete", "seq", snapshot.Seq)
	return nil
}

// mergePlaylists turns the server snapshot into the new local collection.
// Pending local playlists win over their server counterparts; pending
// playlists unknown to the server (unconfirmed creates) are kept.
func mergePlaylists(snapshots []models.PlaylistSnapshot, pending []models.UserPlaylist) []models.UserPlaylist {
	pendingByID := make(map[string]models.UserPlaylist, len(pending))
	for _, playlist := range pending {
		pendingByID[playlist.ID] = playlist
	}

	merged := make([]models.UserPlaylist, 0, len(snapshots)+len(pending))
	for _, snapshot := range snapshots {
		if local, ok := pendingByID[snapshot.ID]; ok {
			merged = append(merged, local)
			delete(pendingByID, snapshot.ID)
			continue
		}
		merged = append(merged, models.UserPlaylist{
			ID:         snapshot.ID,
			Name:       snapshot.Name,
			TrackIDs:   snapshot.TrackIDs,
			SyncStatus: models.PlaylistSynced,
		})
	}
	for _, playlist := range pending {
		if _, ok := pendingByID[playlist.ID]; ok {
			merged = append(merged, playlist)
		}
	}
	return merged
}

// CatchUp replays events past the cursor. Falls back to a full sync when
// no cursor exists, when the server has pruned its event log past the
// cursor, or when the feed shows a sequence gap.
func (m *Manager) CatchUp(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.catchUpLocked(ctx)
}

func (m *Manager) catchUpLocked(ctx context.Context) error {
	seq, ok, err := m.cursor.Cursor()
	if err != nil {
		return m.fail(err)
	}
	if !ok {
		return m.fullSyncLocked(ctx)
	}

	m.transition(State{Status: StatusSyncing})
	m.logger.Info("catch-up started", "since", seq)

	batch, err := m.api.SyncEvents(ctx, seq)
	if err != nil {
		if errors.Is(err, shared.ErrEventsPruned) {
			m.logger.Warn("event log pruned past cursor, falling back to full sync", "cursor", seq)
			if err := m.cursor.ClearCursor(); err != nil {
				return m.fail(err)
			}
			return m.fullSyncLocked(ctx)
		}
		return m.fail(fmt.Errorf("failed to fetch events: %w", err))
	}

	for _, env := range batch.Events {
		switch {
		case env.Seq <= seq:
			// Already applied; at-least-once delivery makes this normal.
			continue
		case env.Seq > seq+1:
			m.logger.Warn("sequence gap in event feed, falling back to full sync", "cursor", seq, "got", env.Seq)
			return m.fullSyncLocked(ctx)
		}

		if err := m.applyEvent(models.DecodeEvent(env)); err != nil {
			return m.fail(err)
		}
		if err := m.cursor.SetCursor(env.Seq); err != nil {
			return m.fail(err)
		}
		seq = env.Seq
	}

	m.transition(State{Status: StatusSynced, Seq: seq})
	m.logger.Info("catch-up complete", "seq", seq, "head", batch.CurrentSeq)
	return nil
}

// HandleSyncMessage applies one realtime-pushed event envelope. The next
// expected event applies directly; an already-applied one is dropped; a
// gap triggers a catch-up from the cursor.
func (m *Manager) HandleSyncMessage(ctx context.Context, env models.EventEnvelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok, err := m.cursor.Cursor()
	if err != nil {
		return err
	}
	if !ok {
		return m.fullSyncLocked(ctx)
	}

	switch {
	case env.Seq <= seq:
		return nil
	case env.Seq > seq+1:
		m.logger.Debug("push ahead of cursor, catching up", "cursor", seq, "got", env.Seq)
		return m.catchUpLocked(ctx)
	}

	if err := m.applyEvent(models.DecodeEvent(env)); err != nil {
		return err
	}
	if err := m.cursor.SetCursor(env.Seq); err != nil {
		return err
	}
	m.transition(State{Status: StatusSynced, Seq: env.Seq})
	return nil
}

// applyEvent applies one decoded event to the local stores. Application
// sets state rather than toggling it, so replays are harmless.
func (m *Manager) applyEvent(event models.Event) error {
	switch e := event.(type) {
	case models.ContentLiked:
		return m.likes.ApplyRemote(e.ContentType, e.ContentID, true)
	case models.ContentUnliked:
		return m.likes.ApplyRemote(e.ContentType, e.ContentID, false)
	case models.PlaylistCreated:
		return m.playlists.Upsert(models.UserPlaylist{
			ID:         e.ID,
			Name:       e.Name,
			TrackIDs:   e.TrackIDs,
			SyncStatus: models.PlaylistSynced,
		})
	case models.PlaylistRenamed:
		return m.playlists.SetName(e.ID, e.Name)
	case models.PlaylistDeleted:
		return m.playlists.Delete(e.ID)
	case models.PlaylistTracksUpdated:
		return m.playlists.SetTracks(e.ID, e.TrackIDs)
	case models.PermissionGranted:
		return m.cursor.GrantPermission(e.Permission)
	case models.PermissionRevoked:
		return m.cursor.RevokePermission(e.Permission)
	case models.PermissionsReset:
		return m.cursor.ReplacePermissions(e.Permissions)
	case models.SettingChanged:
		return m.cursor.ApplySetting(e.Key, e.Value)
	case models.DownloadCompleted:
		if m.notifier != nil {
			m.notifier.Add(e)
		}
		return nil
	case models.UnknownEvent:
		m.logger.Debug("skipping unknown event type", "type", e.Type, "seq", e.Seq)
		return nil
	default:
		return fmt.Errorf("%w: unhandled event %T", shared.ErrInvalidInput, event)
	}
}

// Cleanup wipes all synchronized local state. Called on logout.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.cursor.Clear(); err != nil {
		return err
	}
	if err := m.likes.Clear(); err != nil {
		return err
	}
	if err := m.playlists.Clear(); err != nil {
		return err
	}
	m.transition(State{Status: StatusIdle})
	m.logger.Info("local sync state cleared")
	return nil
}

// transition publishes a state change. Called with m.mu held; the state
// itself is written under stateMu so subscribers can read it back.
func (m *Manager) transition(state State) {
	m.stateMu.Lock()
	m.state = state
	m.stateMu.Unlock()

	m.subMu.Lock()
	subscribers := make([]func(State), len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.subMu.Unlock()

	for _, fn := range subscribers {
		fn(state)
	}
}

func (m *Manager) fail(err error) error {
	m.transition(State{Status: StatusError, Reason: err.Error()})
	m.logger.Error("sync failed", "error", err)
	return err
}

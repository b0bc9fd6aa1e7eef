package main

import (
	"context"
	"database/sql"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/melos-app/melos/internal/models"
	"github.com/melos-app/melos/internal/realtime"
	"github.com/melos-app/melos/internal/repositories"
	"github.com/melos-app/melos/internal/shared"
	"github.com/melos-app/melos/internal/sync"
	"github.com/melos-app/melos/internal/tracker"
)

func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the sync engine until interrupted",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return r.Run(ctx)
		},
	}
}

// engine wires the stores, the REST client, the sync manager, the three
// write synchronizers, the realtime transport and the playback tracker
// into one runnable unit.
type engine struct {
	db *sql.DB

	cursorStore    *repositories.CursorStore
	likeStore      *repositories.LikeStore
	playlistStore  *repositories.PlaylistStore
	listeningStore *repositories.ListeningStore

	notifier *sync.Notifier
	manager  *sync.Manager

	likesSync     *sync.Synchronizer[models.LikedContent]
	settingsSync  *sync.Synchronizer[models.UserSetting]
	listeningSync *sync.Synchronizer[models.ListeningEvent]

	transport *realtime.Manager
	policy    *realtime.Policy
	tracker   *tracker.Tracker
}

// buildEngine assembles the engine from the runner's configuration. The
// caller owns the returned engine's database handle.
func (r *Runner) buildEngine() (*engine, error) {
	db, err := r.openDatabase()
	if err != nil {
		return nil, err
	}

	e := &engine{
		db:             db,
		cursorStore:    repositories.NewCursorStore(db),
		likeStore:      repositories.NewLikeStore(db),
		playlistStore:  repositories.NewPlaylistStore(db),
		listeningStore: repositories.NewListeningStore(db),
	}

	api := r.newAPIClient()

	e.notifier = sync.NewNotifier(func(batch []models.DownloadCompleted) {
		r.logger.Info("downloads completed", "count", len(batch))
		for _, d := range batch {
			r.logger.Info("download ready", "content_id", d.ContentID, "title", d.Title)
		}
	})

	e.manager = sync.NewManager(api, e.cursorStore, e.likeStore, e.playlistStore, e.notifier, r.logger)
	e.manager.Subscribe(func(s sync.State) {
		switch s.Status {
		case sync.StatusError:
			r.logger.Warn("sync state", "status", s.Status, "reason", s.Reason)
		default:
			r.logger.Debug("sync state", "status", s.Status, "seq", s.Seq)
		}
	})

	retention := time.Duration(r.config.Sync.ListeningRetentionDays) * 24 * time.Hour
	e.likesSync = sync.NewSynchronizer(sync.NewLikesSource(api, e.likeStore), r.logger)
	e.settingsSync = sync.NewSynchronizer(sync.NewSettingsSource(api, e.cursorStore), r.logger)
	e.listeningSync = sync.NewSynchronizer(sync.NewListeningSource(api, e.listeningStore, retention, r.logger), r.logger)

	e.tracker = tracker.NewTracker(e.listeningStore, e.listeningSync, r.logger)

	e.transport = realtime.NewManager(realtime.ManagerOpts{
		URL:         r.config.Server.RealtimeURL,
		AccessToken: r.config.Server.AccessToken,
		DeviceID:    r.config.Server.DeviceID,
		Logger:      r.logger,
	})
	e.transport.RegisterHandler("sync.", func(ctx context.Context, env models.EventEnvelope) {
		if err := e.manager.HandleSyncMessage(ctx, env); err != nil {
			r.logger.Error("failed to apply pushed event", "seq", env.Seq, "error", err)
			return
		}
		e.wakeAll()
	})
	e.transport.OnConnected(func(ctx context.Context) error {
		if err := e.manager.Initialize(ctx); err != nil {
			return err
		}
		e.wakeAll()
		return nil
	})

	e.policy = realtime.NewPolicy(
		func() {
			if err := e.transport.Connect(context.Background()); err != nil && !errors.Is(err, shared.ErrAlreadyConnected) {
				r.logger.Error("failed to start realtime connection", "error", err)
			}
		},
		e.transport.Disconnect,
		r.logger,
	)

	return e, nil
}

// wakeAll nudges every write synchronizer. Cheap and non-blocking.
func (e *engine) wakeAll() {
	e.likesSync.WakeUp()
	e.settingsSync.WakeUp()
	e.listeningSync.WakeUp()
}

// start launches the engine's long-running loops and declares the initial
// connection-policy conditions. Loops exit when ctx is canceled.
func (e *engine) start(ctx context.Context) {
	go e.likesSync.Run(ctx)
	go e.settingsSync.Run(ctx)
	go e.listeningSync.Run(ctx)
	go e.tracker.Run(ctx)

	// A headless daemon counts as foregrounded. Network and auth are
	// assumed up at start; the transport's reconnect loop absorbs outages.
	e.policy.SetNetworkAvailable(true)
	e.policy.SetAuthenticated(true)
	e.policy.SetForeground(true)
}

// shutdown tears the engine down in dependency order: stop initiating
// connections, drop the transport, finalize any open listening session,
// flush grouped notifications, then close the database.
func (e *engine) shutdown() {
	e.policy.Stop()
	e.transport.Disconnect()
	e.tracker.Stop()
	e.notifier.Flush()
	e.db.Close()
}

// Run starts the engine and blocks until the context is canceled or an
// interrupt arrives.
func (r *Runner) Run(ctx context.Context) error {
	if r.config.Server.AccessToken == "" {
		return shared.ErrUnauthorized
	}

	e, err := r.buildEngine()
	if err != nil {
		return err
	}
	defer e.shutdown()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bring local state up to date before the transport connects; the
	// OnConnected hook repeats this on every reconnect.
	if err := e.manager.Initialize(ctx); err != nil {
		r.logger.Error("initial sync failed, will retry on connect", "error", err)
	}

	e.start(ctx)
	r.logger.Info("sync engine running", "server", r.config.Server.BaseURL)

	<-ctx.Done()
	r.logger.Info("shutting down")
	return nil
}

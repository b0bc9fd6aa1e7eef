package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/melos-app/melos/internal/models"
	"github.com/melos-app/melos/internal/repositories"
)

func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the sync cursor and pending write queues",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "pretty",
				Value: true,
				Usage: "pretty-print the JSON output",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return r.Status(cmd.Bool("pretty"))
		},
	}
}

type statusReport struct {
	CursorSeq       *int64                    `json:"cursor_seq"`
	PendingLikes    int                       `json:"pending_likes"`
	PendingSettings int                       `json:"pending_settings"`
	Listening       map[models.SyncStatus]int `json:"listening"`
	Playlists       int                       `json:"playlists"`
	Permissions     []string                  `json:"permissions"`
}

// Status reports the replication cursor and the depth of each offline
// write queue as JSON.
func (r *Runner) Status(pretty bool) error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	cursorStore := repositories.NewCursorStore(db)
	likeStore := repositories.NewLikeStore(db)
	playlistStore := repositories.NewPlaylistStore(db)
	listeningStore := repositories.NewListeningStore(db)

	report := statusReport{}

	seq, ok, err := cursorStore.Cursor()
	if err != nil {
		return err
	}
	if ok {
		report.CursorSeq = &seq
	}

	likes, err := likeStore.Pending()
	if err != nil {
		return err
	}
	report.PendingLikes = len(likes)

	settings, err := cursorStore.PendingSettings()
	if err != nil {
		return err
	}
	report.PendingSettings = len(settings)

	report.Listening, err = listeningStore.CountByStatus()
	if err != nil {
		return err
	}

	playlists, err := playlistStore.List()
	if err != nil {
		return err
	}
	report.Playlists = len(playlists)

	report.Permissions, err = cursorStore.Permissions()
	if err != nil {
		return err
	}

	return r.writeJSON(report, pretty)
}

package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/melos-app/melos/internal/repositories"
	"github.com/melos-app/melos/internal/sync"
)

func logoutCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Clear all synced state and the replication cursor",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return r.Logout()
		},
	}
}

// Logout wipes the synced caches and the cursor so the next login starts
// from a clean full sync. Pending listening records are left in place.
func (r *Runner) Logout() error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	manager := sync.NewManager(
		r.newAPIClient(),
		repositories.NewCursorStore(db),
		repositories.NewLikeStore(db),
		repositories.NewPlaylistStore(db),
		nil,
		r.logger,
	)
	if err := manager.Cleanup(); err != nil {
		return err
	}

	return r.writePlain("Local sync state cleared\n")
}

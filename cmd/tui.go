package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/melos-app/melos/internal/shared"
	"github.com/melos-app/melos/internal/ui"
)

func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Run the sync engine with a live dashboard",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return r.TUI(ctx)
		},
	}
}

// TUI runs the full engine and a terminal dashboard over it. Quitting the
// dashboard shuts the engine down.
func (r *Runner) TUI(ctx context.Context) error {
	if r.config.Server.AccessToken == "" {
		return shared.ErrUnauthorized
	}

	e, err := r.buildEngine()
	if err != nil {
		return err
	}
	defer e.shutdown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := e.manager.Initialize(ctx); err != nil {
		r.logger.Error("initial sync failed, will retry on connect", "error", err)
	}
	e.start(ctx)

	fetch := func() (ui.Snapshot, error) {
		snapshot := ui.Snapshot{
			Transport:      e.transport.State(),
			TransportError: e.transport.LastError(),
			Sync:           e.manager.State(),
		}

		seq, ok, err := e.cursorStore.Cursor()
		if err != nil {
			return ui.Snapshot{}, err
		}
		snapshot.CursorSeq = seq
		snapshot.HasCursor = ok

		if snapshot.PendingLikes, err = e.likeStore.Pending(); err != nil {
			return ui.Snapshot{}, err
		}
		if snapshot.PendingSettings, err = e.cursorStore.PendingSettings(); err != nil {
			return ui.Snapshot{}, err
		}
		if snapshot.PendingSessions, err = e.listeningStore.Pending(); err != nil {
			return ui.Snapshot{}, err
		}
		return snapshot, nil
	}

	program := tea.NewProgram(ui.NewModel(fetch), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run dashboard: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/melos-app/melos/internal/formatter"
	"github.com/melos-app/melos/internal/repositories"
	"github.com/melos-app/melos/internal/shared"
)

func listeningCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "listening",
		Usage: "Inspect and export local listening history",
		Commands: []*cli.Command{
			{
				Name:  "export",
				Usage: "Export listening history to a file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "format",
						Value: "json",
						Usage: "export format: csv, markdown or json",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "output file path (defaults per format)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return r.ExportListening(cmd.String("format"), cmd.String("output"))
				},
			},
		},
	}
}

// ExportListening writes the local listening-history records to a file in
// the requested format.
func (r *Runner) ExportListening(format, output string) error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	events, err := repositories.NewListeningStore(db).List()
	if err != nil {
		return err
	}

	export := &formatter.HistoryExport{
		ExportedAt: time.Now(),
		Events:     events,
	}

	var path string
	switch format {
	case "csv":
		path, err = formatter.WriteCSVExport(export, output)
	case "markdown", "md":
		path, err = formatter.WriteMarkdownExport(export, output)
	case "json":
		path, err = formatter.WriteJSONExport(export, output)
	default:
		return fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidInput, format)
	}
	if err != nil {
		return fmt.Errorf("failed to export listening history: %w", err)
	}

	return r.writePlain("Exported %d sessions to %s\n", len(events), path)
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/melos-app/melos/internal/shared"
)

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create the config file and initialize the local database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "config.toml",
				Usage: "path to the config file",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return r.Setup(cmd.String("config"))
		},
	}
}

// Setup writes a starter config file when none exists, then opens the
// configured database and applies any pending migrations.
func (r *Runner) Setup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := shared.CreateConfigFile(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		if err := r.writePlain("Created %s. Fill in your server URL and access token.\n", configPath); err != nil {
			return err
		}
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return r.writePlain("Database ready at %s\n", r.config.Database.Path)
}

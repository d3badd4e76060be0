package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/motion-core/internal/infrastructure/database"
	"github.com/nerrad567/motion-core/migrations"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [up|down|status]",
		Short: "Manage the analysis history schema",
		Long: `Applies pending schema migrations (up, the default), rolls back the
latest one (down) or lists applied and pending migrations (status).
serve applies pending migrations on startup, so this is only needed for
rollbacks and inspection.`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}

			cfg, _, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close() //nolint:errcheck // read-mostly one-shot command

			return runMigrate(cmd.Context(), cmd.OutOrStdout(), db, action)
		},
	}
}

// runMigrate performs action against db and reports what it did.
func runMigrate(ctx context.Context, w io.Writer, db *database.DB, action string) error {
	switch action {
	case "down":
		applied, _, err := db.MigrationStatus(ctx, migrations.FS)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(w, "nothing to roll back")
			return nil
		}
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return fmt.Errorf("rolling back: %w", err)
		}
		fmt.Fprintf(w, "rolled back %s\n", applied[len(applied)-1].Version)
		return nil

	case "status":
		applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
		if err != nil {
			return err
		}
		t := &table{title: "Migrations", headers: []string{"VERSION", "NAME", "APPLIED"}}
		for _, r := range applied {
			t.add(r.Version, "", r.AppliedAt.Format(time.RFC3339))
		}
		for _, m := range pending {
			t.add(m.Version, m.Name, "pending")
		}
		_, err = io.WriteString(w, t.render())
		return err

	default:
		_, pending, err := db.MigrationStatus(ctx, migrations.FS)
		if err != nil {
			return err
		}
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return err
		}
		fmt.Fprintf(w, "applied %d migration(s)\n", len(pending))
		return nil
	}
}

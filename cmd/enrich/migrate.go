package main

import (
	"fmt"

	"github.com/phrazzld/enrich/internal/platform/migrate"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down|status",
		Short:     "Manage the job store schema",
		Long:      "Apply all pending migrations (up), roll back the latest one (down) or report the state of each (status).",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{migrate.CommandUp, migrate.CommandDown, migrate.CommandStatus},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			db, dialect, migrations, err := openDatabase(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() {
				if err := db.Close(); err != nil {
					logger.Error("failed to close database", "error", err)
				}
			}()

			m, err := migrate.New(db, dialect, migrations, logger)
			if err != nil {
				return err
			}
			if err := m.Run(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("migration %s failed: %w", args[0], err)
			}
			logger.Info("migration command finished", "command", args[0])
			return nil
		},
	}
}

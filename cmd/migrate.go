package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/emberlab/hearth/internal/store/sqlite"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded schema migrations to the database",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()
			cfg := loadConfig()

			db, err := sqlite.Open(cfg.Store.Path)
			if err != nil {
				slog.Error("migration failed", "path", cfg.Store.Path, "error", err)
				os.Exit(1)
			}
			db.Close()
			slog.Info("migrations applied", "path", cfg.Store.Path)
		},
	}
}

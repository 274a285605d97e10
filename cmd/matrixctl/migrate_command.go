package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/yungbote/adforge-backend/internal/data/db"
	"github.com/yungbote/adforge-backend/internal/platform/envutil"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
)

func newMigrateCommand() *cobra.Command {
	var sqlitePath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the matrix tables",
		Long:  "Runs schema migration against Postgres (POSTGRES_* env) or, with --sqlite, a local SQLite file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(envutil.String("LOG_MODE", "development"))
			if err != nil {
				return err
			}
			defer log.Sync()

			var gdb *gorm.DB
			if sqlitePath != "" {
				gdb, err = db.OpenSQLite(sqlitePath)
				if err != nil {
					return err
				}
				if sqlDB, err := gdb.DB(); err == nil {
					defer sqlDB.Close()
				}
			} else {
				pg, err := db.NewPostgresService(log)
				if err != nil {
					return err
				}
				defer pg.Close()
				gdb = pg.DB()
			}
			if err := db.AutoMigrateAll(gdb); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "Migrate a SQLite database file instead of Postgres")
	return cmd
}

package main

import (
	"github.com/spf13/cobra"

	"peopleapi/internal/database"
	"peopleapi/internal/database/migration"
)

func (a *app) migrate(cmd *cobra.Command) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	db, err := database.Connect(ctx, a.cfg.Database, a.log)
	if err != nil {
		return fail(a.log, "db_connect_failed", err)
	}
	defer db.Close()

	return migration.EnsureMigrated(ctx, db, a.log, a.cfg.Database.Host)
}

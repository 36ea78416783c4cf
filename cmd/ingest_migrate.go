package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/northbound-research/filings-cli/internal/ingest"
	"github.com/northbound-research/filings-cli/internal/store"
)

var ingestMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply ingest schema migrations",
	Long:  "Applies pending migrations to the ingest.* Postgres schema. Run commands do this automatically; migrate exists for provisioning a database ahead of time.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Store.DatabaseURL == "" {
			return eris.New("ingest migrate: store.database_url is not configured (local SQLite mode migrates on open)")
		}

		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := ingest.Migrate(ctx, st.Pool()); err != nil {
			return eris.Wrap(err, "ingest migrate")
		}

		fmt.Println("Migrations applied")
		return nil
	},
}

func init() {
	ingestCmd.AddCommand(ingestMigrateCmd)
}

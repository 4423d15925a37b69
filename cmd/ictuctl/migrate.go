package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/ictu-erp-api/internal/schema"
)

func migrateCmd(e *env) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long: `Apply the embedded PostgreSQL schema in one transaction.

Every statement is idempotent, so running migrate against an up-to-date
database is a no-op.

Examples:
  ictuctl migrate
  ictuctl migrate --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				fmt.Fprintln(cmd.OutOrStdout(), schema.DDL)
				return nil
			}
			db, err := e.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := schema.Apply(cmd.Context(), db); err != nil {
				return err
			}
			e.logger.Info("schema applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the schema without applying it")
	return cmd
}

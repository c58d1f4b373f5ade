package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/shelfdb/internal/cli"
	"github.com/pthm/shelfdb/pkg/bootstrap"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Apply the bundled schema",
	Long: `Apply the bundled schema without running migrations.

On PostgreSQL the schema is applied only when the users table is absent.
On SQLite the idempotent schema is applied every time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAdapter(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		res, err := bootstrap.Run(cmd.Context(), a, bootstrap.Options{Logger: logger})
		if err != nil {
			return cli.GeneralError("bootstrapping schema", err)
		}

		if !quiet {
			switch {
			case res.Applied:
				fmt.Printf("Schema applied (%s).\n", res.Kind)
			case res.MarkerFound:
				fmt.Printf("Schema already present (%s table exists), skipped.\n", res.Marker)
			}
		}
		return nil
	},
}

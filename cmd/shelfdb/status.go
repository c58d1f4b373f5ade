package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/shelfdb/internal/cli"
	"github.com/pthm/shelfdb/pkg/migrations"
	"github.com/pthm/shelfdb/pkg/migrator"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long:  `Show recorded and pending migrations without changing the database.`,
	Example: `  # Check status
  shelfdb status

  # Check a PostgreSQL database
  SHELFDB_DATABASE_BACKEND=postgres SHELFDB_DATABASE_URL=postgres://localhost/shelf shelfdb status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAdapter(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		st, err := migrator.New(a, migrations.All(), migrator.Options{Logger: logger}).Status(cmd.Context())
		if err != nil {
			return cli.GeneralError("getting status", err)
		}

		fmt.Printf("Backend:     %s\n", a.Kind())
		if !st.LedgerExists {
			fmt.Println("Ledger:      missing")
		} else {
			fmt.Printf("Ledger:      %d recorded\n", len(st.Recorded))
		}

		if len(st.Recorded) > 0 {
			fmt.Println("\nApplied:")
			for _, e := range st.Recorded {
				fmt.Printf("  %s  %s\n", e.ExecutedAt.UTC().Format("2006-01-02 15:04:05"), e.Name)
			}
		}
		if len(st.Pending) > 0 {
			fmt.Println("\nPending:")
			for _, name := range st.Pending {
				fmt.Printf("  %s\n", name)
			}
			fmt.Println("\nRun 'shelfdb migrate' to apply.")
		}
		if len(st.Unknown) > 0 {
			fmt.Println("\nRecorded but unknown to this build:")
			for _, name := range st.Unknown {
				fmt.Printf("  %s\n", name)
			}
		}
		return nil
	},
}

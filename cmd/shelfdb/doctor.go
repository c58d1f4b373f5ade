package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/shelfdb/internal/cli"
	"github.com/pthm/shelfdb/internal/doctor"
	"github.com/pthm/shelfdb/pkg/migrations"
)

var doctorVerbose bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks",
	Long:  `Check connectivity, engine settings, the bootstrapped schema and the migration ledger.`,
	Example: `  # Run health checks
  shelfdb doctor

  # Run with verbose output
  shelfdb doctor --verbose`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAdapter(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		if !quiet {
			fmt.Println("shelfdb doctor - Health Check")
		}

		report, err := doctor.New(a, migrations.All()).Run(cmd.Context())
		if err != nil {
			return cli.GeneralError("running doctor", err)
		}

		report.Print(os.Stdout, doctorVerbose || verbose > 0)

		if report.HasErrors() {
			return cli.GeneralError("health checks failed", nil)
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorVerbose, "verbose", false, "show detailed output")
}

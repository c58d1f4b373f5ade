package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/shelfdb/internal/cli"
	"github.com/pthm/shelfdb/internal/telemetry"
	"github.com/pthm/shelfdb/internal/version"
	"github.com/pthm/shelfdb/pkg/adapter"
	"github.com/pthm/shelfdb/pkg/storage"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *cli.Config
	configPath string
	logger     *slog.Logger

	// Persistent flags
	cfgFile string
	verbose int
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "shelfdb",
	Short: "Unified SQLite/PostgreSQL storage for the shelf service",
	Long: `shelfdb - unified storage for the shelf service

shelfdb runs the same schema and migrations against an embedded SQLite file
or a PostgreSQL server, selected by database.backend.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(os.Stderr, verbose, quiet)
		slog.SetDefault(logger)

		// Skip config loading for help/completion/version commands
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}
		if cmd.Parent() == configCmd {
			return nil
		}
		if err := cfg.Validate(); err != nil {
			return cli.ConfigError("invalid configuration", err)
		}

		if err := telemetry.Init(cmd.Context(), cfg.TelemetryConfig(version.Short())); err != nil {
			return cli.ConfigError("initializing telemetry", err)
		}
		return nil
	},
	SilenceUsage:  true, // Don't show usage on errors
	SilenceErrors: true, // We handle errors ourselves
}

// Command group IDs
const (
	groupDatabase = "database"
	groupUtility  = "utility"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover shelfdb.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase verbosity (can be repeated)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupDatabase, Title: "Database:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	migrateCmd.GroupID = groupDatabase
	statusCmd.GroupID = groupDatabase
	doctorCmd.GroupID = groupDatabase
	bootstrapCmd.GroupID = groupDatabase
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(bootstrapCmd)

	configCmd.GroupID = groupUtility
	versionCmd.GroupID = groupUtility
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command. Telemetry is flushed before exiting,
// including when the command failed.
func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	if shutdownErr := telemetry.Shutdown(context.Background()); shutdownErr != nil && logger != nil {
		logger.Warn("telemetry shutdown", "error", shutdownErr)
	}
	if err != nil {
		cli.ExitWithError(err)
	}
}

// newLogger builds the process logger. The default level is warn so that
// command output is not interleaved with progress logs.
func newLogger(w io.Writer, verbosity int, quiet bool) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case quiet:
		level = slog.LevelError
	case verbosity == 1:
		level = slog.LevelInfo
	case verbosity >= 2:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// storageConfig resolves the storage settings for database commands.
func storageConfig() (storage.Config, error) {
	sc, err := cfg.StorageConfig()
	if err != nil {
		return storage.Config{}, cli.ConfigError("database configuration", err)
	}
	sc.Logger = logger
	return sc, nil
}

// openAdapter opens the configured backend, instrumented when telemetry is
// enabled. The caller closes it.
func openAdapter(ctx context.Context) (adapter.Adapter, error) {
	sc, err := storageConfig()
	if err != nil {
		return nil, err
	}
	a, err := storage.Open(ctx, sc)
	if err != nil {
		return nil, cli.OpenError(err)
	}
	return telemetry.WrapAdapter(a), nil
}

// resolveBool returns true if any of the provided values is true.
// Used for boolean flags where any true value should win.
func resolveBool(values ...bool) bool {
	for _, v := range values {
		if v {
			return true
		}
	}
	return false
}

// Package cli provides the command-line interface for mixsearch.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"mixsearch/internal/batch"
	"mixsearch/internal/config"
	"mixsearch/internal/log"
	"mixsearch/internal/notify"
	"mixsearch/internal/scoring"
	"mixsearch/internal/store"
	"mixsearch/internal/version"
)

var (
	// Global flags
	verbose bool
	dbPath  string

	// Global config, logger and store, set up before each command
	cfg      config.Config
	logger   *log.Logger
	closeLog func() error
	repo     *store.SQLiteStore
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mixsearch",
	Short: "Resumable search and scoring of Scheffe mixture models",
	Long: `mixsearch enumerates every valid second-order Scheffe mixture model over
7 components and their 21 pairwise interactions, and scores each model against
measured responses with repeated train/test cross validation.

All progress is stored in a SQLite database, so an interrupted batch is
resumed by running the same command again.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		if err := config.LoadAndApply(); err != nil {
			return err
		}
		var cerr error
		cfg, cerr = config.Load()
		if dbPath != "" {
			cfg.SQLitePath = dbPath
		}
		level := log.ParseLevel(cfg.LogLevel)
		if verbose {
			level = log.Debug
		}
		logger, closeLog = log.NewWithFile(cfg.LogFile, level)
		if cerr != nil {
			logger.Warn("ignoring invalid configuration", "error", cerr.Error())
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}

		var err error
		repo, err = store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open store %s: %w", cfg.SQLitePath, err)
		}
		logger.Debug("store opened", "path", cfg.SQLitePath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if repo != nil {
			if err := repo.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default $MIXSEARCH_SQLITE_PATH or ~/.mixsearch/mixsearch.db)")

	rootCmd.AddCommand(enumerateCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(versionCmd)
}

// newRunner builds a batch runner from the loaded configuration.
func newRunner() *batch.Runner {
	opts := batch.Options{
		CV: scoring.ShuffleSplit{
			Repeats:      cfg.CVRepeats,
			TestFraction: cfg.CVTestFraction,
			Seed:         cfg.CVSeed,
		},
		Workers:        cfg.Workers,
		ContextWorkers: cfg.ContextWorkers,
		EnumBatch:      cfg.EnumBatch,
		ClaimTTL:       cfg.ClaimTTL,
		ProgressEvery:  cfg.ProgressEvery,
		PCAVariance:    cfg.PCAVariance,
	}
	return batch.NewRunner(repo, opts, logger, notify.New(cfg.Notify, logger))
}

// signalContext is cancelled on interrupt; the persisted progress makes the
// next invocation pick up where this one stopped.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

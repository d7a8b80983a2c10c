// Command badgectl administers a Badger database: schema provisioning, bulk
// recomputation, weights and score inspection.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Badger/internal/config"
	"github.com/MikeSquared-Agency/Badger/internal/engine"
	"github.com/MikeSquared-Agency/Badger/internal/store"
)

var (
	configPath string
	verbose    bool

	exitFunc = os.Exit
)

var rootCmd = &cobra.Command{
	Use:   "badgectl",
	Short: "Administer Badger composite scores",
	Long: `badgectl talks to the Badger database directly. It can provision the schema,
recompute snapshots, inspect and change category weights, and print a student's
badge.

Connection settings come from the same config file and BADGER_* environment
variables as the server.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		exitFunc(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	var w io.Writer = io.Discard
	if verbose {
		w = os.Stderr
	}
	return cfg, cfg.Logging.NewLogger(w), nil
}

// openEngine opens the configured database. Missing columns are added but an empty
// database is never bootstrapped.
func openEngine(ctx context.Context) (*engine.Engine, func(), error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database.url is not set")
	}
	mode, err := cfg.SchemaMode()
	if err != nil {
		return nil, nil, err
	}
	pg, _, err := store.OpenPostgres(ctx, cfg.Database.URL, store.OpenOptions{
		Mode:    mode,
		Timeout: cfg.StoreTimeout(),
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}
	e := engine.New(pg, engine.Options{
		DefaultWeights:   cfg.Scoring.DefaultWeights,
		RecomputeTimeout: cfg.RecomputeTimeout(),
		Logger:           logger,
	})
	return e, func() { pg.Close() }, nil
}

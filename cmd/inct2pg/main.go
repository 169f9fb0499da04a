// Command inct2pg syncs the OpenDataPhilly crime incident dataset into a
// PostGIS table and runs spike statistics over it.
//
//	inct2pg sync "host=localhost dbname=gis user=etl" phl crime
//	inct2pg spikes "$DATABASE_URL" phl crime --district 01 \
//	    --overall-start 2016-11-10 --spike-start 2017-10-10 --end 2017-11-10
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/EmpoweredVote/odp-incidents/internal/carto"
	"github.com/EmpoweredVote/odp-incidents/internal/config"
	"github.com/EmpoweredVote/odp-incidents/internal/db"
	"github.com/EmpoweredVote/odp-incidents/internal/incidents"
	"github.com/EmpoweredVote/odp-incidents/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	// Load .env.local if present (no error if missing)
	_ = godotenv.Load(".env.local")

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "inct2pg:", describe(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "inct2pg",
		Short:         "Sync Philadelphia crime incidents into PostGIS",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (default: $"+config.ConfigPathEnvVar+" or ./inct2pg.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "override logging.format (json|console)")

	root.AddCommand(newSyncCmd(opts), newSpikesCmd(opts))
	return root
}

// loadConfig applies the positional CONNECTION SCHEMA TABLE arguments over the
// layered config and validates the result before anything touches the network.
func loadConfig(opts *rootOptions, args []string) (*config.Config, db.Table, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, db.Table{}, err
	}
	cfg.Database.DSN = args[0]
	cfg.Database.Schema = args[1]
	cfg.Database.Table = args[2]
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, db.Table{}, err
	}
	table, err := db.ParseTable(cfg.Database.Schema, cfg.Database.Table)
	if err != nil {
		return nil, db.Table{}, err
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return cfg, table, nil
}

func dbOptions(cfg *config.Config) db.Options {
	return db.Options{
		SlowThreshold:  cfg.Database.SlowThreshold,
		LogLevel:       cfg.Database.SQLLogLevel,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	}
}

func storeOptions(cfg *config.Config) incidents.StoreOptions {
	return incidents.StoreOptions{
		Replace:        cfg.Database.ConflictMode == config.ConflictReplace,
		GeometryColumn: cfg.Projection.Column,
		SourceSRID:     cfg.Projection.SourceSRID,
		TargetSRID:     cfg.Projection.TargetSRID,
	}
}

// describe turns a fatal error into the operator-facing message.
func describe(err error) string {
	var se *incidents.StatementError
	switch {
	case errors.Is(err, db.ErrInvalidIdentifier), errors.Is(err, db.ErrSchemaMissing):
		return "invalid destination: " + err.Error()
	case errors.Is(err, db.ErrConnection):
		return "cannot connect to destination database: " + err.Error()
	case errors.Is(err, carto.ErrTransport):
		return "cannot download incidents, no changes were made: " + err.Error()
	case errors.As(err, &se):
		return "sync aborted, no changes were made: " + se.Error()
	}
	return err.Error()
}

package main

import (
	"github.com/EmpoweredVote/odp-incidents/internal/carto"
	"github.com/EmpoweredVote/odp-incidents/internal/config"
	"github.com/EmpoweredVote/odp-incidents/internal/db"
	"github.com/EmpoweredVote/odp-incidents/internal/incidents"
	"github.com/EmpoweredVote/odp-incidents/internal/logging"
	"github.com/EmpoweredVote/odp-incidents/internal/metrics"
	"github.com/spf13/cobra"
)

func newSyncCmd(root *rootOptions) *cobra.Command {
	var (
		conflictMode string
		textfile     string
	)
	cmd := &cobra.Command{
		Use:   "sync CONNECTION SCHEMA TABLE",
		Short: "Create or incrementally update the incidents table",
		Long: `Downloads the incidents_part1_part2 dataset and writes it to SCHEMA.TABLE.

If the table does not exist it is created and loaded in full. Otherwise only
incidents newer than the latest stored dispatch time are fetched, and revised
incidents replace the stored row with the same case number. The run is a
single transaction.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, table, err := loadConfig(root, args)
			if err != nil {
				return err
			}
			if conflictMode != "" {
				cfg.Database.ConflictMode = conflictMode
			}
			if textfile != "" {
				cfg.Metrics.Textfile = textfile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runSync(cmd, cfg, table)
		},
	}
	cmd.Flags().StringVar(&conflictMode, "conflict-mode", "", "override database.conflict_mode ("+config.ConflictUpsert+"|"+config.ConflictReplace+")")
	cmd.Flags().StringVar(&textfile, "metrics-textfile", "", "write Prometheus metrics to this file")
	return cmd
}

func runSync(cmd *cobra.Command, cfg *config.Config, table db.Table) error {
	ctx := cmd.Context()

	gdb, closeDB, err := db.Open(ctx, cfg.Database.DSN, dbOptions(cfg))
	if err != nil {
		return err
	}
	defer closeDB()

	if err := db.RequireSchema(ctx, gdb, table.Schema); err != nil {
		return err
	}

	client := carto.NewClient(carto.Config{
		BaseURL:   cfg.Source.BaseURL,
		Filename:  cfg.Source.Filename,
		Timeout:   cfg.Source.Timeout,
		UserAgent: cfg.Source.UserAgent,
	})
	syncer := &incidents.Syncer{
		Source:      client,
		Destination: incidents.NewGormStore(gdb, table, storeOptions(cfg)),
		Dataset:     cfg.Source.Dataset,
	}

	logging.Info().
		Str("table", table.String()).
		Str("conflict_mode", cfg.Database.ConflictMode).
		Msg("starting sync")
	res, runErr := syncer.Run(ctx)

	if cfg.Metrics.Textfile != "" {
		rec := metrics.NewRecorder()
		if err := rec.LoadPrevious(cfg.Metrics.Textfile); err != nil {
			logging.Warn().Err(err).Str("path", cfg.Metrics.Textfile).Msg("read previous metrics textfile")
		}
		rec.Observe(metrics.Run{
			Table:     table.String(),
			Mode:      res.Mode.String(),
			Fetched:   res.Fetched,
			Inserted:  res.Inserted,
			Replaced:  res.Replaced,
			Projected: res.Projected,
			Duration:  res.Duration,
			Err:       runErr,
		})
		if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logging.Warn().Err(err).Str("path", cfg.Metrics.Textfile).Msg("write metrics textfile")
		}
	}
	return runErr
}

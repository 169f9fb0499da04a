package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/EmpoweredVote/odp-incidents/internal/config"
	"github.com/EmpoweredVote/odp-incidents/internal/crimestats"
	"github.com/EmpoweredVote/odp-incidents/internal/db"
	"github.com/EmpoweredVote/odp-incidents/internal/incidents"
	"github.com/EmpoweredVote/odp-incidents/internal/policearea"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

type spikeOptions struct {
	district     string
	psa          string
	overallStart string
	spikeStart   string
	end          string
}

// spikeWindow is the overall range [OverallStart, End) and the spike range
// [SpikeStart, End) at its tail.
type spikeWindow struct {
	OverallStart time.Time
	SpikeStart   time.Time
	End          time.Time
}

func (o spikeOptions) parse() (policearea.Area, spikeWindow, error) {
	var area policearea.Area
	var err error
	switch {
	case o.district != "" && o.psa != "":
		return nil, spikeWindow{}, errors.New("use either --district or --psa, not both")
	case o.district != "":
		area, err = policearea.NewDistrict(o.district)
	case o.psa != "":
		area, err = policearea.NewPSA(o.psa)
	default:
		return nil, spikeWindow{}, errors.New("one of --district or --psa is required")
	}
	if err != nil {
		return nil, spikeWindow{}, err
	}

	var w spikeWindow
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Time
	}{
		{"--overall-start", o.overallStart, &w.OverallStart},
		{"--spike-start", o.spikeStart, &w.SpikeStart},
		{"--end", o.end, &w.End},
	} {
		t, err := time.Parse(dateLayout, f.raw)
		if err != nil {
			return nil, spikeWindow{}, fmt.Errorf("%s: want YYYY-MM-DD, got %q", f.name, f.raw)
		}
		*f.dst = t
	}
	if !w.OverallStart.Before(w.SpikeStart) || !w.SpikeStart.Before(w.End) {
		return nil, spikeWindow{}, errors.New("dates must satisfy overall-start < spike-start < end")
	}
	return area, w, nil
}

func newSpikesCmd(root *rootOptions) *cobra.Command {
	opts := spikeOptions{}
	cmd := &cobra.Command{
		Use:   "spikes CONNECTION SCHEMA TABLE",
		Short: "Test a police area for an unusual rise or fall in incidents",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			area, w, err := opts.parse()
			if err != nil {
				return err
			}
			cfg, table, err := loadConfig(root, args)
			if err != nil {
				return err
			}
			return runSpikes(cmd, cfg, table, area, w)
		},
	}
	cmd.Flags().StringVar(&opts.district, "district", "", "police district, as stored (e.g. 01)")
	cmd.Flags().StringVar(&opts.psa, "psa", "", "police service area, as stored")
	cmd.Flags().StringVar(&opts.overallStart, "overall-start", "", "start of the overall range (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.spikeStart, "spike-start", "", "start of the spike range (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.end, "end", "", "end of both ranges, exclusive (YYYY-MM-DD)")
	return cmd
}

func runSpikes(cmd *cobra.Command, cfg *config.Config, table db.Table, area policearea.Area, w spikeWindow) error {
	ctx := cmd.Context()

	gdb, closeDB, err := db.Open(ctx, cfg.Database.DSN, dbOptions(cfg))
	if err != nil {
		return err
	}
	defer closeDB()

	store := incidents.NewGormStore(gdb, table, storeOptions(cfg))
	counts, err := spikeCounts(ctx, store, area, w)
	if err != nil {
		return err
	}
	class, p, err := crimestats.Classify(counts)
	if err != nil {
		return err
	}
	printSpikes(cmd.OutOrStdout(), area, w, counts, class, p)
	return nil
}

type occurrenceCounter interface {
	CountOccurred(ctx context.Context, from, to time.Time, area incidents.Area) (int64, error)
}

func spikeCounts(ctx context.Context, store occurrenceCounter, area policearea.Area, w spikeWindow) (crimestats.Counts, error) {
	var c crimestats.Counts
	var err error
	if c.CityOverall, err = store.CountOccurred(ctx, w.OverallStart, w.End, nil); err != nil {
		return c, err
	}
	if c.CitySpike, err = store.CountOccurred(ctx, w.SpikeStart, w.End, nil); err != nil {
		return c, err
	}
	if c.AreaOverall, err = store.CountOccurred(ctx, w.OverallStart, w.End, area); err != nil {
		return c, err
	}
	if c.AreaSpike, err = store.CountOccurred(ctx, w.SpikeStart, w.End, area); err != nil {
		return c, err
	}
	return c, nil
}

func printSpikes(out io.Writer, area policearea.Area, w spikeWindow, c crimestats.Counts, class crimestats.Classification, p float64) {
	fmt.Fprintf(out, "%s %s\n", area.Column(), area.ID())
	fmt.Fprintf(out, "  overall %s..%s  city %d  area %d\n",
		w.OverallStart.Format(dateLayout), w.End.Format(dateLayout), c.CityOverall, c.AreaOverall)
	fmt.Fprintf(out, "  spike   %s..%s  city %d  area %d\n",
		w.SpikeStart.Format(dateLayout), w.End.Format(dateLayout), c.CitySpike, c.AreaSpike)
	fmt.Fprintf(out, "  p=%.6f  %s\n", p, class)
}

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/EmpoweredVote/odp-incidents/internal/carto"
	"github.com/EmpoweredVote/odp-incidents/internal/crimestats"
	"github.com/EmpoweredVote/odp-incidents/internal/db"
	"github.com/EmpoweredVote/odp-incidents/internal/incidents"
	"github.com/EmpoweredVote/odp-incidents/internal/policearea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync_RejectsBadIdentifiersBeforeConnecting(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, args := range [][]string{
		{"sync", "host=db.invalid dbname=gis", "phl;drop", "crime"},
		{"sync", "host=db.invalid dbname=gis", "phl", "crime table"},
		{"sync", "host=db.invalid dbname=gis", "phl", "1crime"},
	} {
		root := newRootCmd()
		root.SetArgs(args)
		err := root.Execute()
		require.Error(t, err, "%v", args)
		assert.True(t, errors.Is(err, db.ErrInvalidIdentifier), "%v: %v", args, err)
		assert.Contains(t, describe(err), "invalid destination")
	}
}

func TestSync_RequiresThreeArguments(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"sync", "host=localhost"})
	assert.Error(t, root.Execute())
}

func TestSync_BadConnectionString(t *testing.T) {
	t.Chdir(t.TempDir())
	root := newRootCmd()
	root.SetArgs([]string{"sync", "postgres://%zz", "phl", "crime"})
	err := root.Execute()
	require.Error(t, err)
	assert.True(t, errors.Is(err, db.ErrConnection), "%v", err)
}

func TestSync_RejectsUnknownConflictMode(t *testing.T) {
	t.Chdir(t.TempDir())
	root := newRootCmd()
	root.SetArgs([]string{"sync", "--conflict-mode", "merge", "host=db.invalid", "phl", "crime"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ConflictMode")
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: schema %q", db.ErrInvalidIdentifier, "a-b"), "invalid destination"},
		{fmt.Errorf("%w: phl", db.ErrSchemaMissing), "invalid destination"},
		{fmt.Errorf("%w: timeout", db.ErrConnection), "cannot connect"},
		{fmt.Errorf("%w: status 503", carto.ErrTransport), "cannot download incidents"},
		{&incidents.StatementError{Row: 2, CaseNumber: "7", Err: errors.New("bad")}, "sync aborted"},
		{errors.New("other"), "other"},
	}
	for _, tt := range tests {
		assert.Contains(t, describe(tt.err), tt.want)
	}
}

func TestSpikeOptions_Parse(t *testing.T) {
	opts := spikeOptions{district: "01", overallStart: "2016-11-10", spikeStart: "2017-10-10", end: "2017-11-10"}
	area, w, err := opts.parse()
	require.NoError(t, err)
	assert.Equal(t, policearea.DistrictColumn, area.Column())
	assert.Equal(t, "01", area.ID())
	assert.Equal(t, time.Date(2017, 10, 10, 0, 0, 0, 0, time.UTC), w.SpikeStart)

	bad := []spikeOptions{
		{overallStart: "2016-11-10", spikeStart: "2017-10-10", end: "2017-11-10"},
		{district: "01", psa: "1", overallStart: "2016-11-10", spikeStart: "2017-10-10", end: "2017-11-10"},
		{psa: "1", overallStart: "11/10/2016", spikeStart: "2017-10-10", end: "2017-11-10"},
		{psa: "1", overallStart: "2017-10-10", spikeStart: "2016-11-10", end: "2017-11-10"},
		{psa: " ", overallStart: "2016-11-10", spikeStart: "2017-10-10", end: "2017-11-10"},
	}
	for _, o := range bad {
		_, _, err := o.parse()
		assert.Error(t, err, "%+v", o)
	}
}

type fakeCounter struct {
	city, area map[time.Time]int64 // keyed by range start
	err        error
}

func (f fakeCounter) CountOccurred(_ context.Context, from, _ time.Time, area incidents.Area) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if area == nil {
		return f.city[from], nil
	}
	return f.area[from], nil
}

func TestSpikeCounts(t *testing.T) {
	w := spikeWindow{
		OverallStart: time.Date(2016, 11, 10, 0, 0, 0, 0, time.UTC),
		SpikeStart:   time.Date(2017, 10, 10, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2017, 11, 10, 0, 0, 0, 0, time.UTC),
	}
	counter := fakeCounter{
		city: map[time.Time]int64{w.OverallStart: 1000, w.SpikeStart: 100},
		area: map[time.Time]int64{w.OverallStart: 10, w.SpikeStart: 8},
	}
	psa, err := policearea.NewPSA("1A")
	require.NoError(t, err)

	c, err := spikeCounts(context.Background(), counter, psa, w)
	require.NoError(t, err)
	assert.Equal(t, crimestats.Counts{CityOverall: 1000, CitySpike: 100, AreaOverall: 10, AreaSpike: 8}, c)

	class, p, err := crimestats.Classify(c)
	require.NoError(t, err)
	var out bytes.Buffer
	printSpikes(&out, psa, w, c, class, p)
	assert.Contains(t, out.String(), "psa 1A")
	assert.Contains(t, out.String(), "spike   2017-10-10..2017-11-10  city 100  area 8")
	assert.Contains(t, out.String(), "spike\n")

	_, err = spikeCounts(context.Background(), fakeCounter{err: errors.New("down")}, psa, w)
	assert.Error(t, err)
}

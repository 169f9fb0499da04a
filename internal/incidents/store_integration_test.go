//go:build integration

package incidents_test

import (
	"context"
	"testing"
	"time"

	"github.com/EmpoweredVote/odp-incidents/internal/db"
	"github.com/EmpoweredVote/odp-incidents/internal/incidents"
	"github.com/EmpoweredVote/odp-incidents/internal/testinfra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type areaFilter struct{ col, id string }

func (a areaFilter) Column() string { return a.col }
func (a areaFilter) ID() string     { return a.id }

func openPostGIS(t *testing.T) (*gorm.DB, db.Table) {
	t.Helper()
	pg := testinfra.StartPostGIS(t)

	ctx := context.Background()
	gdb, closeDB, err := db.Open(ctx, pg.DSN, db.Options{ConnectTimeout: 30 * time.Second})
	require.NoError(t, err)
	t.Cleanup(closeDB)

	require.NoError(t, gdb.Exec(`CREATE SCHEMA phl`).Error)
	require.NoError(t, db.RequireSchema(ctx, gdb, "phl"))

	table, err := db.ParseTable("phl", "crime")
	require.NoError(t, err)
	return gdb, table
}

func geomText(t *testing.T, gdb *gorm.DB, caseNo int64) string {
	t.Helper()
	var wkt string
	require.NoError(t, gdb.Raw(`SELECT ST_AsText(geom_3857) FROM phl.crime WHERE dc_number = ?`, caseNo).Row().Scan(&wkt))
	return wkt
}

func TestGormStore_SyncAgainstPostGIS(t *testing.T) {
	gdb, table := openPostGIS(t)
	ctx := context.Background()

	for _, mode := range []struct {
		name    string
		replace bool
	}{{"upsert", false}, {"replace", true}} {
		t.Run(mode.name, func(t *testing.T) {
			require.NoError(t, gdb.Exec(`DROP TABLE IF EXISTS phl.crime`).Error)
			store := incidents.NewGormStore(gdb, table, incidents.StoreOptions{Replace: mode.replace})

			// first run creates the table
			src := &fakeSource{res: result(
				row(201712345, "2017-11-10 08:00:00+00", "", "39.95"),
				row(201712346, "2017-11-11 09:30:00", "-75.16", "39.95"),
			)}
			s := &incidents.Syncer{Source: src, Destination: store, Dataset: "incidents_part1_part2"}
			res, err := s.Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, incidents.ModeFullLoad, res.Mode)
			assert.Equal(t, 2, res.Inserted)
			assert.Equal(t, int64(2), res.Projected)

			var cols []string
			require.NoError(t, gdb.Raw(`SELECT column_name FROM information_schema.columns
				WHERE table_schema = 'phl' AND table_name = 'crime' ORDER BY ordinal_position`).Scan(&cols).Error)
			assert.Equal(t, append(incidents.Columns(), "geom_3857"), cols)

			var occurred string
			var x float64
			require.NoError(t, gdb.Raw(`SELECT date_time_occur::text, x FROM phl.crime WHERE dc_number = 201712345`).
				Row().Scan(&occurred, &x))
			assert.Equal(t, "2017-11-10 08:00:00", occurred)
			assert.Equal(t, 0.0, x)
			first := geomText(t, gdb, 201712345)
			assert.Contains(t, first, "POINT(0 ")

			// second run: one revision inside the window, one new row
			revised := row(201712346, "2017-11-12 10:00:00", "-75.17", "39.96")
			revised[7] = "Robbery No Firearm"
			src.res = result(revised, row(201712347, "2017-11-13 11:00:00", "-75.18", "39.97"))
			res, err = s.Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, incidents.ModeIncremental, res.Mode)
			assert.Equal(t, 1, res.Inserted)
			assert.Equal(t, 1, res.Replaced)
			assert.Equal(t, int64(2), res.Projected)
			assert.Contains(t, src.queries[1], "> '2017-11-11 09:30:00'")

			var n int64
			require.NoError(t, gdb.Raw(`SELECT count(*) FROM phl.crime WHERE dc_number = 201712346`).Row().Scan(&n))
			assert.Equal(t, int64(1), n)
			var crimeType string
			require.NoError(t, gdb.Raw(`SELECT crime_type FROM phl.crime WHERE dc_number = 201712346`).Row().Scan(&crimeType))
			assert.Equal(t, "Robbery No Firearm", crimeType)

			// projecting everything again changes nothing
			require.NoError(t, store.InTx(ctx, func(st incidents.Store) error {
				_, err := st.Project(ctx, nil)
				return err
			}))
			assert.Equal(t, first, geomText(t, gdb, 201712345))

			// a run with nothing new leaves the table alone
			src.res = result()
			res, err = s.Run(ctx)
			require.NoError(t, err)
			assert.Zero(t, res.Inserted+res.Replaced)

			from := time.Date(2017, 11, 1, 0, 0, 0, 0, time.UTC)
			to := time.Date(2017, 12, 1, 0, 0, 0, 0, time.UTC)
			total, err := store.CountOccurred(ctx, from, to, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(3), total)
			inDistrict, err := store.CountOccurred(ctx, from, to, areaFilter{col: "district", id: "01"})
			require.NoError(t, err)
			assert.Equal(t, int64(3), inDistrict)
			_, err = store.CountOccurred(ctx, from, to, areaFilter{col: "crime_type", id: "x"})
			assert.Error(t, err)
		})
	}
}

func TestGormStore_FailedRunRollsBack(t *testing.T) {
	gdb, table := openPostGIS(t)
	ctx := context.Background()
	store := incidents.NewGormStore(gdb, table, incidents.StoreOptions{})

	src := &fakeSource{res: result(
		row(201700001, "2017-01-01 10:00:00", "-75.1", "39.9"),
		row(201700002, " ", "-75.2", "40.0"),
	)}
	s := &incidents.Syncer{Source: src, Destination: store, Dataset: "incidents_part1_part2"}
	_, err := s.Run(ctx)

	var se *incidents.StatementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Row)
	assert.Contains(t, se.Statement, "INSERT INTO")

	exists, err := incidents.NewGormStore(gdb, table, incidents.StoreOptions{}).TableExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists, "table creation must roll back with the run")
}

package normalizer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meteorwatch/vmdb/internal/database"
	"github.com/meteorwatch/vmdb/internal/metrics"
	"github.com/meteorwatch/vmdb/internal/shower"
	"github.com/meteorwatch/vmdb/pkg/sky"
)

// computedSL computes solar longitudes directly instead of through the
// lookup table.
type computedSL struct{}

func (computedSL) At(_ context.Context, t time.Time) (float64, error) {
	return sky.SolarLongitude(t), nil
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func testModel(t *testing.T) *shower.Model {
	t.Helper()
	m := shower.NewModel()
	require.NoError(t, m.Add("PER", "Perseids", f64(59), []shower.ControlPoint{
		{Day: 224, Position: shower.Position{RA: 48, Dec: 58}},
	}))
	// a radiant at the celestial pole has an altitude equal to the
	// observer's latitude at any time
	require.NoError(t, m.Add("POL", "Polar test shower", f64(11), []shower.ControlPoint{
		{Day: 1, Position: shower.Position{RA: 0, Dec: 89.9}},
	}))
	require.NoError(t, m.Add("SPO", "No radiant", nil, nil))
	return m
}

func testEnv(t *testing.T, db *database.Client) *Env {
	t.Helper()
	env := &Env{
		Showers:   testModel(t),
		SolarLong: computedSL{},
		Metrics:   metrics.New(),
		Logger:    zap.NewNop().Sugar(),
	}
	if db != nil {
		env.DB = db.DB
	}
	return env
}

func openTestDB(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "vmdb.sqlite")
	c, err := database.Open(ctx, database.Options{
		Driver:       database.DriverSQLite,
		DSN:          path,
		MaxOpenConns: 4,
	}, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	m, err := c.Migrator()
	require.NoError(t, err)
	require.NoError(t, m.MigrateUp(ctx))
	return c
}

func seedSessions(t *testing.T, c *database.Client, sessions ...database.ImportedSession) {
	t.Helper()
	_, err := c.DB.NamedExecContext(context.Background(), `
		INSERT INTO imported_session (id, observer_id, latitude, longitude, elevation)
		VALUES (:id, :observer_id, :latitude, :longitude, :elevation)`, sessions)
	require.NoError(t, err)
}

func seedRates(t *testing.T, c *database.Client, rates ...database.ImportedRate) {
	t.Helper()
	_, err := c.DB.NamedExecContext(context.Background(), `
		INSERT INTO imported_rate (
			id, session_id, observer_id, period_start, period_end, t_eff, f, lm,
			shower, method, number, ra, dec
		) VALUES (
			:id, :session_id, :observer_id, :period_start, :period_end, :t_eff, :f, :lm,
			:shower, :method, :number, :ra, :dec
		)`, rates)
	require.NoError(t, err)
}

func seedMagnitudes(t *testing.T, c *database.Client, magns ...database.ImportedMagnitude) {
	t.Helper()
	_, err := c.DB.NamedExecContext(context.Background(), `
		INSERT INTO imported_magnitude (id, session_id, observer_id, shower, period_start, period_end, magn)
		VALUES (:id, :session_id, :observer_id, :shower, :period_start, :period_end, :magn)`, magns)
	require.NoError(t, err)
}

func count(t *testing.T, c *database.Client, table string) int {
	t.Helper()
	var n int
	require.NoError(t, c.DB.Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}

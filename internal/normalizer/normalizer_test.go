package normalizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meteorwatch/vmdb/internal/database"
)

var evening = time.Date(2023, 8, 12, 22, 0, 0, 0, time.UTC)

func minutes(m int) time.Time {
	return evening.Add(time.Duration(m) * time.Minute)
}

func seedNight(t *testing.T, c *database.Client) {
	t.Helper()

	seedSessions(t, c,
		database.ImportedSession{ID: 1, ObserverID: i64(10), Latitude: 45, Longitude: 10, Elevation: 300},
		database.ImportedSession{ID: 2, ObserverID: i64(11), Latitude: 50, Longitude: 8, Elevation: 120},
	)

	rate := func(id, session int64, from, to, n int, lm float64) database.ImportedRate {
		return database.ImportedRate{
			ID: id, SessionID: session, PeriodStart: minutes(from), PeriodEnd: minutes(to),
			TEff: float64(to-from) / 60, F: 1, LM: lm, Shower: strp("PER"), Method: "P", Number: n,
		}
	}
	seedRates(t, c,
		rate(101, 1, 0, 30, 10, 6.0),
		rate(102, 1, 30, 60, 15, 6.5),
		// contained in 101
		rate(103, 1, 5, 25, 3, 6.0),
		// partial overlap in session 2 drops both
		rate(201, 2, 0, 40, 5, 6.1),
		rate(202, 2, 20, 60, 6, 6.1),
		rate(203, 2, 60, 90, 7, 6.1),
		// session that was never imported
		rate(301, 3, 0, 30, 1, 6.1),
	)

	magn := func(id, session int64, from, to int, hist string) database.ImportedMagnitude {
		return database.ImportedMagnitude{
			ID: id, SessionID: session, Shower: strp("PER"),
			PeriodStart: minutes(from), PeriodEnd: minutes(to), Magn: hist,
		}
	}
	seedMagnitudes(t, c,
		magn(501, 1, 0, 60, `{"2": 10, "3": 15}`),
		magn(502, 2, 60, 90, `{"3": 0.0, "4": 0.0}`),
		magn(503, 2, 0, 30, `{"1": 2, "4": 4.5}`),
	)
}

func runAll(t *testing.T, c *database.Client, strict bool) (rate, magn *Report, link *LinkReport) {
	t.Helper()
	ctx := context.Background()
	env := testEnv(t, c)

	_, err := NewSessionNormalizer(c.Gorm, env.Metrics, env.Logger).Run(ctx)
	require.NoError(t, err)

	rate, magn, err = RunWorker(ctx, env, WorkerConfig{Index: 0, Count: 1, Strict: strict})
	require.NoError(t, err)

	link, err = NewLinker(c.DB, env.Metrics, env.Logger).Run(ctx)
	require.NoError(t, err)
	return rate, magn, link
}

func TestNormalizeNight(t *testing.T) {
	c := openTestDB(t)
	seedNight(t, c)

	rate, magn, link := runAll(t, c, false)

	assert.Equal(t, 7, rate.Read)
	assert.Equal(t, 3, rate.Written)
	assert.Equal(t, map[Reason]int{
		ReasonContains:       1,
		ReasonOverlap:        1,
		ReasonMissingSession: 1,
	}, rate.Conflicts)

	var ids []int64
	require.NoError(t, c.DB.Select(&ids, "SELECT id FROM rate ORDER BY id"))
	assert.Equal(t, []int64{101, 102, 203}, ids)

	assert.Equal(t, 3, magn.Read)
	assert.Equal(t, 2, magn.Written)
	assert.Equal(t, 1, magn.Skipped)
	assert.Equal(t, 4, count(t, c, "magnitude_detail"))

	var m struct {
		Freq int     `db:"freq"`
		Mean float64 `db:"mean"`
	}
	require.NoError(t, c.DB.Get(&m, "SELECT freq, mean FROM magnitude WHERE id = 503"))
	assert.Equal(t, 7, m.Freq)
	assert.InDelta(t, 3.08, m.Mean, 0.01)

	assert.Equal(t, 2, link.Contained)
	assert.Equal(t, 0, link.Equal)
	assert.Equal(t, 1, link.Magnitudes)

	var links []Link
	require.NoError(t, c.DB.Select(&links, `SELECT rate_id, magn_id, "equals" FROM rate_magnitude ORDER BY rate_id`))
	assert.Equal(t, []Link{
		{RateID: 101, MagnID: 501},
		{RateID: 102, MagnID: 501},
	}, links)

	var limMag *float64
	require.NoError(t, c.DB.Get(&limMag, "SELECT lim_mag FROM magnitude WHERE id = 501"))
	require.NotNil(t, limMag)
	assert.Equal(t, 6.25, *limMag)

	require.NoError(t, c.DB.Get(&limMag, "SELECT lim_mag FROM magnitude WHERE id = 503"))
	assert.Nil(t, limMag)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	c := openTestDB(t)
	seedNight(t, c)

	runAll(t, c, false)
	first := map[string]int{}
	for _, table := range []string{"obs_session", "rate", "magnitude", "magnitude_detail", "rate_magnitude"} {
		first[table] = count(t, c, table)
	}

	rate, magn, link := runAll(t, c, false)
	for table, n := range first {
		assert.Equal(t, n, count(t, c, table), table)
	}
	assert.Equal(t, 3, rate.Written)
	assert.Equal(t, 2, magn.Written)
	assert.Equal(t, 2, link.Contained)

	// staged rows are kept as the audit trail
	assert.Equal(t, 7, count(t, c, "imported_rate"))
	assert.Equal(t, 3, count(t, c, "imported_magnitude"))
}

func TestSessionRerunKeepsCanonicalRows(t *testing.T) {
	c := openTestDB(t)
	seedNight(t, c)
	runAll(t, c, false)

	rates := count(t, c, "rate")
	magnitudes := count(t, c, "magnitude")
	details := count(t, c, "magnitude_detail")
	require.NotZero(t, rates)

	_, err := c.DB.Exec("UPDATE imported_session SET elevation = 310 WHERE id = 1")
	require.NoError(t, err)

	env := testEnv(t, c)
	report, err := NewSessionNormalizer(c.Gorm, env.Metrics, env.Logger).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Written)

	assert.Equal(t, rates, count(t, c, "rate"))
	assert.Equal(t, magnitudes, count(t, c, "magnitude"))
	assert.Equal(t, details, count(t, c, "magnitude_detail"))

	var elevation float64
	require.NoError(t, c.DB.Get(&elevation, "SELECT elevation FROM obs_session WHERE id = 1"))
	assert.Equal(t, 310.0, elevation)
}

func TestStrictModeAborts(t *testing.T) {
	c := openTestDB(t)
	seedNight(t, c)
	ctx := context.Background()
	env := testEnv(t, c)

	_, err := NewSessionNormalizer(c.Gorm, env.Metrics, env.Logger).Run(ctx)
	require.NoError(t, err)

	_, _, err = RunWorker(ctx, env, WorkerConfig{Index: 0, Count: 1, Strict: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))

	// the partition's transaction was rolled back
	assert.Equal(t, 0, count(t, c, "rate"))
}

func TestWorkersPartitionBySession(t *testing.T) {
	c := openTestDB(t)
	seedNight(t, c)
	ctx := context.Background()
	env := testEnv(t, c)

	_, err := NewSessionNormalizer(c.Gorm, env.Metrics, env.Logger).Run(ctx)
	require.NoError(t, err)

	total := &Report{Name: "rate"}
	for i := 0; i < 2; i++ {
		rate, _, err := RunWorker(ctx, env, WorkerConfig{Index: i, Count: 2})
		require.NoError(t, err)
		total.Merge(rate)
	}
	assert.Equal(t, 7, total.Read)
	assert.Equal(t, 3, total.Written)
	assert.Equal(t, 3, count(t, c, "rate"))

	_, _, err = RunWorker(ctx, env, WorkerConfig{Index: 2, Count: 2})
	assert.Error(t, err)
}

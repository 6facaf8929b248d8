package normalizer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meteorwatch/vmdb/internal/database"
)

func polarRate(lat float64) stagedRate {
	start := time.Date(2023, 1, 15, 23, 30, 0, 0, time.UTC)
	return stagedRate{
		ImportedRate: database.ImportedRate{
			ID:          7,
			SessionID:   1,
			PeriodStart: start,
			PeriodEnd:   start.Add(time.Hour),
			TEff:        1,
			F:           1,
			LM:          6.2,
			Shower:      strp("POL"),
			Number:      4,
		},
		Latitude:  f64(lat),
		Longitude: f64(0),
	}
}

func TestRateEnrichRadiantAltitude(t *testing.T) {
	n := NewRateNormalizer(testEnv(t, nil), WorkerConfig{Count: 1})
	ctx := context.Background()

	out, err := n.Enrich(ctx, polarRate(-6))
	require.NoError(t, err)
	require.False(t, out.OK())
	assert.Equal(t, ReasonRadiantTooLow, out.Conflict.Reason)
	assert.Equal(t, []int64{7}, out.Conflict.IDs)
	assert.Contains(t, out.Conflict.Detail, "radiant too far below horizon")

	out, err = n.Enrich(ctx, polarRate(-4))
	require.NoError(t, err)
	require.True(t, out.OK(), "unexpected conflict %v", out.Conflict)

	r := out.Record
	require.NotNil(t, r.RadAlt)
	assert.InDelta(t, -4, *r.RadAlt, 0.2)
	require.NotNil(t, r.RadCorr)
	assert.Greater(t, *r.RadCorr, 1.0)
	assert.Nil(t, r.FieldAlt)
	assert.Equal(t, 4, r.Freq)
	assert.Equal(t, 6.2, r.LimMag)
	assert.Less(t, r.SunAlt, 0.0)
	assert.GreaterOrEqual(t, r.MoonIllum, 0.0)
	assert.LessOrEqual(t, r.MoonIllum, 1.0)
	assert.InDelta(t, 295, r.SLStart, 1)
	assert.Greater(t, r.SLEnd, r.SLStart)
}

func TestRateEnrichGuards(t *testing.T) {
	n := NewRateNormalizer(testEnv(t, nil), WorkerConfig{Count: 1})
	ctx := context.Background()

	t.Run("missing session", func(t *testing.T) {
		r := polarRate(-4)
		r.Latitude, r.Longitude = nil, nil
		out, err := n.Enrich(ctx, r)
		require.NoError(t, err)
		require.False(t, out.OK())
		assert.Equal(t, ReasonMissingSession, out.Conflict.Reason)
	})

	t.Run("field below horizon", func(t *testing.T) {
		r := polarRate(45)
		r.RA, r.Dec = f64(0), f64(-89.9)
		out, err := n.Enrich(ctx, r)
		require.NoError(t, err)
		require.False(t, out.OK())
		assert.Equal(t, ReasonFieldBelowHorizon, out.Conflict.Reason)
	})

	t.Run("field is checked before the sun", func(t *testing.T) {
		r := polarRate(45)
		r.PeriodStart = time.Date(2023, 6, 21, 11, 30, 0, 0, time.UTC)
		r.PeriodEnd = r.PeriodStart.Add(time.Hour)
		r.RA, r.Dec = f64(0), f64(-89.9)
		out, err := n.Enrich(ctx, r)
		require.NoError(t, err)
		require.False(t, out.OK())
		assert.Equal(t, ReasonFieldBelowHorizon, out.Conflict.Reason)
	})

	t.Run("sun above horizon", func(t *testing.T) {
		r := polarRate(45)
		r.PeriodStart = time.Date(2023, 6, 21, 11, 30, 0, 0, time.UTC)
		r.PeriodEnd = r.PeriodStart.Add(time.Hour)
		out, err := n.Enrich(ctx, r)
		require.NoError(t, err)
		require.False(t, out.OK())
		assert.Equal(t, ReasonSunAboveHorizon, out.Conflict.Reason)
	})

	t.Run("field above horizon is kept", func(t *testing.T) {
		r := polarRate(45)
		r.RA, r.Dec = f64(0), f64(89.9)
		out, err := n.Enrich(ctx, r)
		require.NoError(t, err)
		require.True(t, out.OK())
		require.NotNil(t, out.Record.FieldAlt)
		assert.InDelta(t, 45, *out.Record.FieldAlt, 0.2)
	})

	t.Run("sporadic has no radiant", func(t *testing.T) {
		r := polarRate(-30)
		r.Shower = nil
		out, err := n.Enrich(ctx, r)
		require.NoError(t, err)
		require.True(t, out.OK())
		assert.Nil(t, out.Record.RadAlt)
		assert.Nil(t, out.Record.RadCorr)
	})

	t.Run("shower without velocity has no correction", func(t *testing.T) {
		r := polarRate(-30)
		r.Shower = strp("SPO")
		out, err := n.Enrich(ctx, r)
		require.NoError(t, err)
		require.True(t, out.OK())
		assert.Nil(t, out.Record.RadCorr)
	})
}

func TestParseHistogram(t *testing.T) {
	h, err := ParseHistogram(`{"1": 1, "3": 3, "5": 0}`)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, h.Classes())
	assert.Equal(t, 4.0, h.Total())
	assert.InDelta(t, 2.5, h.Mean(), 1e-9)

	h, err = ParseHistogram(`{"-1": 0.5, "2": 1.5}`)
	require.NoError(t, err)
	assert.InDelta(t, 1.25, h.Mean(), 1e-9)

	assert.True(t, math.IsNaN(Histogram{}.Mean()))

	for _, bad := range []string{`not json`, `{"x": 1}`, `{"1": -2}`, `[1, 2]`} {
		_, err := ParseHistogram(bad)
		assert.Error(t, err, bad)
	}
}

func TestMagnitudeEnrich(t *testing.T) {
	n := NewMagnitudeNormalizer(testEnv(t, nil), WorkerConfig{Count: 1})
	ctx := context.Background()
	start := time.Date(2023, 8, 12, 22, 0, 0, 0, time.UTC)

	staged := func(magn string) stagedMagnitude {
		return stagedMagnitude{
			ImportedMagnitude: database.ImportedMagnitude{
				ID:          501,
				SessionID:   1,
				Shower:      strp("PER"),
				PeriodStart: start,
				PeriodEnd:   start.Add(time.Hour),
				Magn:        magn,
			},
			SessionRef: i64(1),
		}
	}

	out, err := n.Enrich(ctx, staged(`{"2": 10, "3": 15}`))
	require.NoError(t, err)
	require.True(t, out.OK())
	assert.Equal(t, 25, out.Record.Freq)
	assert.InDelta(t, 2.6, out.Record.Mean, 1e-9)
	assert.Equal(t, []MagnitudeDetail{
		{ID: 501, Magn: 2, Freq: 10},
		{ID: 501, Magn: 3, Freq: 15},
	}, out.Record.Details)
	assert.InDelta(t, 139.5, out.Record.SLStart, 1)

	out, err = n.Enrich(ctx, staged(`{"3": 0.0, "4": 0.0}`))
	require.NoError(t, err)
	require.True(t, out.OK())
	assert.Zero(t, out.Record.Freq)

	out, err = n.Enrich(ctx, staged(`{"3": 2.5, "4": 1}`))
	require.NoError(t, err)
	assert.Equal(t, 4, out.Record.Freq)

	out, err = n.Enrich(ctx, staged(`{"3": `))
	require.NoError(t, err)
	require.False(t, out.OK())
	assert.Equal(t, ReasonInvalidHistogram, out.Conflict.Reason)

	m := staged(`{"3": 1}`)
	m.SessionRef = nil
	out, err = n.Enrich(ctx, m)
	require.NoError(t, err)
	require.False(t, out.OK())
	assert.Equal(t, ReasonMissingSession, out.Conflict.Reason)
}

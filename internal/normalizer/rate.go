package normalizer

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/meteorwatch/vmdb/internal/database"
	"github.com/meteorwatch/vmdb/pkg/sky"
)

// radiantMinAltitude is the lowest radiant altitude in degrees for which
// a rate is still usable.
const radiantMinAltitude = -5.0

const selectStagedRates = `
	SELECT r.id, r.session_id, r.observer_id, r.period_start, r.period_end,
		r.t_eff, r.f, r.lm, r.shower, r.method, r.number, r.ra, r.dec,
		s.latitude, s.longitude
	FROM imported_rate r
	LEFT JOIN obs_session s ON s.id = r.session_id
	WHERE r.session_id % :workers = :worker
	ORDER BY r.session_id ASC, r.shower ASC, r.period_start ASC, r.period_end DESC`

const insertRate = `
	INSERT INTO rate (
		id, shower, period_start, period_end, sl_start, sl_end, session_id, observer_id,
		freq, lim_mag, t_eff, f, sun_alt, sun_az, moon_alt, moon_az, moon_illum,
		field_alt, field_az, rad_alt, rad_az, rad_corr
	) VALUES (
		:id, :shower, :period_start, :period_end, :sl_start, :sl_end, :session_id, :observer_id,
		:freq, :lim_mag, :t_eff, :f, :sun_alt, :sun_az, :moon_alt, :moon_az, :moon_illum,
		:field_alt, :field_az, :rad_alt, :rad_az, :rad_corr
	)`

// stagedRate is a staged rate joined with its session's location. The
// location is nil when the session was not normalized.
type stagedRate struct {
	database.ImportedRate
	Latitude  *float64 `db:"latitude"`
	Longitude *float64 `db:"longitude"`
}

func (r stagedRate) RecordID() int64    { return r.ID }
func (r stagedRate) SessionKey() int64  { return r.SessionID }
func (r stagedRate) ShowerKey() *string { return r.Shower }
func (r stagedRate) Period() (time.Time, time.Time) {
	return r.PeriodStart, r.PeriodEnd
}

// Rate is a canonical rate record.
type Rate struct {
	ID          int64     `db:"id"`
	Shower      *string   `db:"shower"`
	PeriodStart time.Time `db:"period_start"`
	PeriodEnd   time.Time `db:"period_end"`
	SLStart     float64   `db:"sl_start"`
	SLEnd       float64   `db:"sl_end"`
	SessionID   int64     `db:"session_id"`
	ObserverID  *int64    `db:"observer_id"`
	Freq        int       `db:"freq"`
	LimMag      float64   `db:"lim_mag"`
	TEff        float64   `db:"t_eff"`
	F           float64   `db:"f"`
	SunAlt      float64   `db:"sun_alt"`
	SunAz       float64   `db:"sun_az"`
	MoonAlt     float64   `db:"moon_alt"`
	MoonAz      float64   `db:"moon_az"`
	MoonIllum   float64   `db:"moon_illum"`
	FieldAlt    *float64  `db:"field_alt"`
	FieldAz     *float64  `db:"field_az"`
	RadAlt      *float64  `db:"rad_alt"`
	RadAz       *float64  `db:"rad_az"`
	RadCorr     *float64  `db:"rad_corr"`
}

// RateNormalizer merges and enriches the rates of one partition.
type RateNormalizer struct {
	env *Env
	cfg WorkerConfig
	rec *recorder
}

// NewRateNormalizer creates a rate normalizer for one partition.
func NewRateNormalizer(env *Env, cfg WorkerConfig) *RateNormalizer {
	logger := env.Logger.With("worker", cfg.Index)
	return &RateNormalizer{
		env: env,
		cfg: cfg,
		rec: newRecorder("rate", logger, env.Metrics, cfg.Strict),
	}
}

// Run normalizes the partition inside one transaction and returns its
// report. The report is returned even when err is not nil.
func (n *RateNormalizer) Run(ctx context.Context) (*Report, error) {
	tx, err := n.env.DB.BeginTxx(ctx, nil)
	if err != nil {
		return n.rec.report, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	del, err := tx.PreparexContext(ctx, tx.Rebind("DELETE FROM rate WHERE id = ?"))
	if err != nil {
		return n.rec.report, fmt.Errorf("error preparing rate delete: %w", err)
	}
	defer del.Close()

	ins, err := tx.PrepareNamedContext(ctx, insertRate)
	if err != nil {
		return n.rec.report, fmt.Errorf("error preparing rate insert: %w", err)
	}
	defer ins.Close()

	// staged rows are read on their own connection while tx writes
	rows, err := n.env.DB.NamedQueryContext(ctx, selectStagedRates, n.cfg.params())
	if err != nil {
		return n.rec.report, fmt.Errorf("error reading staged rates: %w", err)
	}
	defer rows.Close()

	if err := requireColumns(rows, "id", "session_id", "period_start", "period_end", "latitude", "longitude"); err != nil {
		return n.rec.report, err
	}

	emit := func(o Outcome[stagedRate]) error {
		if !o.OK() {
			return n.rec.conflict(o.Conflict)
		}
		return n.write(ctx, ins, o.Record)
	}

	var merger Merger[stagedRate]
	for rows.Next() {
		var r stagedRate
		if err := rows.StructScan(&r); err != nil {
			return n.rec.report, fmt.Errorf("error scanning staged rate: %w", err)
		}
		n.rec.read()

		if _, err := del.ExecContext(ctx, r.ID); err != nil {
			return n.rec.report, fmt.Errorf("error deleting rate %d: %w", r.ID, err)
		}
		if err := merger.Push(r, emit); err != nil {
			return n.rec.report, err
		}
	}
	if err := rows.Err(); err != nil {
		return n.rec.report, fmt.Errorf("error reading staged rates: %w", err)
	}
	if err := merger.Flush(emit); err != nil {
		return n.rec.report, err
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return n.rec.report, fmt.Errorf("error committing rates: %w", err)
	}
	return n.rec.report, nil
}

func (n *RateNormalizer) write(ctx context.Context, ins *sqlx.NamedStmt, r stagedRate) error {
	out, err := n.Enrich(ctx, r)
	if err != nil {
		return err
	}
	if !out.OK() {
		return n.rec.conflict(out.Conflict)
	}

	if _, err := ins.ExecContext(ctx, out.Record); err != nil {
		return fmt.Errorf("error writing rate %d: %w", r.ID, err)
	}
	n.rec.written()
	return nil
}

// Enrich computes the derived fields of a surviving rate and applies the
// plausibility checks. The error is reserved for failures of the solar
// longitude store.
func (n *RateNormalizer) Enrich(ctx context.Context, r stagedRate) (Outcome[Rate], error) {
	if r.Latitude == nil || r.Longitude == nil {
		return Reject[Rate](ReasonMissingSession, fmt.Sprintf("session %d not found", r.SessionID), r.ID), nil
	}

	start := r.PeriodStart.UTC()
	end := r.PeriodEnd.UTC()
	mid := start.Add(end.Sub(start) / 2)
	loc := sky.Location{Longitude: *r.Longitude, Latitude: *r.Latitude}

	rate := Rate{
		ID:          r.ID,
		Shower:      r.Shower,
		PeriodStart: start,
		PeriodEnd:   end,
		SessionID:   r.SessionID,
		ObserverID:  r.ObserverID,
		Freq:        r.Number,
		LimMag:      r.LM,
		TEff:        r.TEff,
		F:           r.F,
	}

	if r.RA != nil && r.Dec != nil {
		field := sky.ToHorizontal(sky.Equatorial{RA: *r.RA, Dec: *r.Dec}, mid, loc)
		if field.Alt < 0 {
			return Reject[Rate](ReasonFieldBelowHorizon, fmt.Sprintf("field altitude %.2f", field.Alt), r.ID), nil
		}
		rate.FieldAlt = &field.Alt
		rate.FieldAz = &field.Az
	}

	sun := sky.Sun(mid, loc)
	if sun.Alt > 0 {
		return Reject[Rate](ReasonSunAboveHorizon, fmt.Sprintf("sun altitude %.2f", sun.Alt), r.ID), nil
	}
	rate.SunAlt = sun.Alt
	rate.SunAz = sun.Az

	if r.Shower != nil {
		if pos := n.env.Showers.Radiant(*r.Shower, mid); pos != nil {
			rad := sky.ToHorizontal(pos.Equatorial(), mid, loc)
			if rad.Alt < radiantMinAltitude {
				return Reject[Rate](ReasonRadiantTooLow, fmt.Sprintf("radiant too far below horizon, altitude %.2f", rad.Alt), r.ID), nil
			}
			rate.RadAlt = &rad.Alt
			rate.RadAz = &rad.Az
			if corr, ok := n.env.Showers.Shower(*r.Shower).ZenithCorrection(rad.Alt); ok {
				rate.RadCorr = &corr
			}
		}
	}

	moon := sky.Moon(mid, loc)
	rate.MoonAlt = moon.Alt
	rate.MoonAz = moon.Az
	rate.MoonIllum = sky.MoonIllumination(mid)

	var err error
	if rate.SLStart, err = n.env.SolarLong.At(ctx, start); err != nil {
		return Outcome[Rate]{}, err
	}
	if rate.SLEnd, err = n.env.SolarLong.At(ctx, end); err != nil {
		return Outcome[Rate]{}, err
	}

	return Write(rate), nil
}

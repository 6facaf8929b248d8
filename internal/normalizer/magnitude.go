package normalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"gonum.org/v1/gonum/stat"

	"github.com/meteorwatch/vmdb/internal/database"
)

const selectStagedMagnitudes = `
	SELECT m.id, m.session_id, m.observer_id, m.shower, m.period_start, m.period_end, m.magn,
		s.id AS session_ref
	FROM imported_magnitude m
	LEFT JOIN obs_session s ON s.id = m.session_id
	WHERE m.session_id % :workers = :worker
	ORDER BY m.session_id ASC, m.shower ASC, m.period_start ASC, m.period_end DESC`

const insertMagnitude = `
	INSERT INTO magnitude (
		id, shower, period_start, period_end, sl_start, sl_end, session_id, observer_id, freq, mean, lim_mag
	) VALUES (
		:id, :shower, :period_start, :period_end, :sl_start, :sl_end, :session_id, :observer_id, :freq, :mean, NULL
	)`

const insertMagnitudeDetail = `INSERT INTO magnitude_detail (id, magn, freq) VALUES (:id, :magn, :freq)`

type stagedMagnitude struct {
	database.ImportedMagnitude
	SessionRef *int64 `db:"session_ref"`
}

func (m stagedMagnitude) RecordID() int64    { return m.ID }
func (m stagedMagnitude) SessionKey() int64  { return m.SessionID }
func (m stagedMagnitude) ShowerKey() *string { return m.Shower }
func (m stagedMagnitude) Period() (time.Time, time.Time) {
	return m.PeriodStart, m.PeriodEnd
}

// Magnitude is a canonical magnitude distribution with its histogram.
type Magnitude struct {
	ID          int64     `db:"id"`
	Shower      *string   `db:"shower"`
	PeriodStart time.Time `db:"period_start"`
	PeriodEnd   time.Time `db:"period_end"`
	SLStart     float64   `db:"sl_start"`
	SLEnd       float64   `db:"sl_end"`
	SessionID   int64     `db:"session_id"`
	ObserverID  *int64    `db:"observer_id"`
	Freq        int       `db:"freq"`
	Mean        float64   `db:"mean"`

	Details []MagnitudeDetail `db:"-"`
}

// MagnitudeDetail is the count of one magnitude class.
type MagnitudeDetail struct {
	ID   int64   `db:"id"`
	Magn int     `db:"magn"`
	Freq float64 `db:"freq"`
}

// Histogram maps a magnitude class to its (possibly fractional) count.
type Histogram map[int]float64

// ParseHistogram decodes the staged JSON histogram, whose keys are the
// magnitude classes as strings.
func ParseHistogram(s string) (Histogram, error) {
	var raw map[string]float64
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("invalid histogram: %w", err)
	}

	h := make(Histogram, len(raw))
	for k, v := range raw {
		class, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid magnitude class %q", k)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("invalid count %v for magnitude %d", v, class)
		}
		h[class] = v
	}
	return h, nil
}

// Classes returns the classes with a nonzero count, ascending.
func (h Histogram) Classes() []int {
	classes := make([]int, 0, len(h))
	for c, n := range h {
		if n != 0 {
			classes = append(classes, c)
		}
	}
	sort.Ints(classes)
	return classes
}

// Total returns the sum of counts.
func (h Histogram) Total() float64 {
	var sum float64
	for _, n := range h {
		sum += n
	}
	return sum
}

// Mean returns the count-weighted mean magnitude. It is NaN for an empty
// histogram.
func (h Histogram) Mean() float64 {
	classes := h.Classes()
	x := make([]float64, len(classes))
	w := make([]float64, len(classes))
	for i, c := range classes {
		x[i] = float64(c)
		w[i] = h[c]
	}
	if len(x) == 0 {
		return math.NaN()
	}
	return stat.Mean(x, w)
}

// MagnitudeNormalizer merges and enriches the magnitude distributions of
// one partition.
type MagnitudeNormalizer struct {
	env *Env
	cfg WorkerConfig
	rec *recorder
}

// NewMagnitudeNormalizer creates a magnitude normalizer for one partition.
func NewMagnitudeNormalizer(env *Env, cfg WorkerConfig) *MagnitudeNormalizer {
	logger := env.Logger.With("worker", cfg.Index)
	return &MagnitudeNormalizer{
		env: env,
		cfg: cfg,
		rec: newRecorder("magnitude", logger, env.Metrics, cfg.Strict),
	}
}

type magnitudeStmts struct {
	delDetail *sqlx.Stmt
	del       *sqlx.Stmt
	ins       *sqlx.NamedStmt
	insDetail *sqlx.NamedStmt
}

func (s *magnitudeStmts) close() {
	for _, c := range []interface{ Close() error }{s.delDetail, s.del, s.ins, s.insDetail} {
		if c != nil {
			c.Close()
		}
	}
}

func prepareMagnitudeStmts(ctx context.Context, tx *sqlx.Tx) (*magnitudeStmts, error) {
	s := &magnitudeStmts{}
	var err error
	if s.delDetail, err = tx.PreparexContext(ctx, tx.Rebind("DELETE FROM magnitude_detail WHERE id = ?")); err != nil {
		return s, err
	}
	if s.del, err = tx.PreparexContext(ctx, tx.Rebind("DELETE FROM magnitude WHERE id = ?")); err != nil {
		return s, err
	}
	if s.ins, err = tx.PrepareNamedContext(ctx, insertMagnitude); err != nil {
		return s, err
	}
	if s.insDetail, err = tx.PrepareNamedContext(ctx, insertMagnitudeDetail); err != nil {
		return s, err
	}
	return s, nil
}

// Run normalizes the partition inside one transaction and returns its
// report. The report is returned even when err is not nil.
func (n *MagnitudeNormalizer) Run(ctx context.Context) (*Report, error) {
	tx, err := n.env.DB.BeginTxx(ctx, nil)
	if err != nil {
		return n.rec.report, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmts, err := prepareMagnitudeStmts(ctx, tx)
	defer stmts.close()
	if err != nil {
		return n.rec.report, fmt.Errorf("error preparing magnitude statements: %w", err)
	}

	rows, err := n.env.DB.NamedQueryContext(ctx, selectStagedMagnitudes, n.cfg.params())
	if err != nil {
		return n.rec.report, fmt.Errorf("error reading staged magnitudes: %w", err)
	}
	defer rows.Close()

	if err := requireColumns(rows, "id", "session_id", "period_start", "period_end", "magn", "session_ref"); err != nil {
		return n.rec.report, err
	}

	emit := func(o Outcome[stagedMagnitude]) error {
		if !o.OK() {
			return n.rec.conflict(o.Conflict)
		}
		return n.write(ctx, stmts, o.Record)
	}

	var merger Merger[stagedMagnitude]
	for rows.Next() {
		var m stagedMagnitude
		if err := rows.StructScan(&m); err != nil {
			return n.rec.report, fmt.Errorf("error scanning staged magnitude: %w", err)
		}
		n.rec.read()

		if _, err := stmts.delDetail.ExecContext(ctx, m.ID); err != nil {
			return n.rec.report, fmt.Errorf("error deleting magnitude detail %d: %w", m.ID, err)
		}
		if _, err := stmts.del.ExecContext(ctx, m.ID); err != nil {
			return n.rec.report, fmt.Errorf("error deleting magnitude %d: %w", m.ID, err)
		}
		if err := merger.Push(m, emit); err != nil {
			return n.rec.report, err
		}
	}
	if err := rows.Err(); err != nil {
		return n.rec.report, fmt.Errorf("error reading staged magnitudes: %w", err)
	}
	if err := merger.Flush(emit); err != nil {
		return n.rec.report, err
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return n.rec.report, fmt.Errorf("error committing magnitudes: %w", err)
	}
	return n.rec.report, nil
}

func (n *MagnitudeNormalizer) write(ctx context.Context, stmts *magnitudeStmts, m stagedMagnitude) error {
	out, err := n.Enrich(ctx, m)
	if err != nil {
		return err
	}
	if !out.OK() {
		return n.rec.conflict(out.Conflict)
	}
	if out.Record.Freq == 0 {
		n.rec.skipped(m.ID, "zero frequency")
		return nil
	}

	if _, err := stmts.ins.ExecContext(ctx, out.Record); err != nil {
		return fmt.Errorf("error writing magnitude %d: %w", m.ID, err)
	}
	for _, d := range out.Record.Details {
		if _, err := stmts.insDetail.ExecContext(ctx, d); err != nil {
			return fmt.Errorf("error writing magnitude detail %d/%d: %w", d.ID, d.Magn, err)
		}
	}
	n.rec.written()
	return nil
}

// Enrich builds the canonical record. A record whose total frequency rounds
// to zero comes back with Freq 0 and is not to be written. The error is reserved
// for failures of the solar longitude store.
func (n *MagnitudeNormalizer) Enrich(ctx context.Context, m stagedMagnitude) (Outcome[Magnitude], error) {
	if m.SessionRef == nil {
		return Reject[Magnitude](ReasonMissingSession, fmt.Sprintf("session %d not found", m.SessionID), m.ID), nil
	}

	h, err := ParseHistogram(m.Magn)
	if err != nil {
		return Reject[Magnitude](ReasonInvalidHistogram, err.Error(), m.ID), nil
	}

	total := h.Total()
	if total == 0 {
		return Write(Magnitude{ID: m.ID}), nil
	}

	start := m.PeriodStart.UTC()
	end := m.PeriodEnd.UTC()
	mag := Magnitude{
		ID:          m.ID,
		Shower:      m.Shower,
		PeriodStart: start,
		PeriodEnd:   end,
		SessionID:   m.SessionID,
		ObserverID:  m.ObserverID,
		Freq:        int(math.Round(total)),
		Mean:        h.Mean(),
	}
	if mag.Freq == 0 {
		return Write(Magnitude{ID: m.ID}), nil
	}

	for _, c := range h.Classes() {
		mag.Details = append(mag.Details, MagnitudeDetail{ID: m.ID, Magn: c, Freq: h[c]})
	}

	if mag.SLStart, err = n.env.SolarLong.At(ctx, start); err != nil {
		return Outcome[Magnitude]{}, err
	}
	if mag.SLEnd, err = n.env.SolarLong.At(ctx, end); err != nil {
		return Outcome[Magnitude]{}, err
	}

	return Write(mag), nil
}

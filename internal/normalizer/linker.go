package normalizer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/meteorwatch/vmdb/internal/metrics"
)

const linkBatchSize = 500

// selectLinkCandidates pairs every rate with the magnitudes of the same
// session and shower whose period contains the rate's period.
const selectLinkCandidates = `
	SELECT r.id AS rate_id, m.id AS magn_id,
		r.freq AS rate_freq, m.freq AS magn_freq,
		r.period_start AS rate_start, r.period_end AS rate_end,
		m.period_start AS magn_start, m.period_end AS magn_end
	FROM rate r
	INNER JOIN magnitude m ON m.session_id = r.session_id
		AND (m.shower = r.shower OR (m.shower IS NULL AND r.shower IS NULL))
		AND m.period_start <= r.period_start
		AND m.period_end >= r.period_end
	ORDER BY r.id, m.id`

const insertLink = `INSERT INTO rate_magnitude (rate_id, magn_id, "equals") VALUES (:rate_id, :magn_id, :equals)`

// selectLinkedLimits lists the limiting magnitude and effective time of
// every rate linked to a magnitude.
const selectLinkedLimits = `
	SELECT rm.magn_id, r.lim_mag, r.t_eff
	FROM rate_magnitude rm
	INNER JOIN rate r ON r.id = rm.rate_id
	ORDER BY rm.magn_id`

// Candidate is a rate whose period lies within a magnitude's period.
type Candidate struct {
	RateID    int64     `db:"rate_id"`
	MagnID    int64     `db:"magn_id"`
	RateFreq  int       `db:"rate_freq"`
	MagnFreq  int       `db:"magn_freq"`
	RateStart time.Time `db:"rate_start"`
	RateEnd   time.Time `db:"rate_end"`
	MagnStart time.Time `db:"magn_start"`
	MagnEnd   time.Time `db:"magn_end"`
}

// Link is an accepted rate to magnitude pairing.
type Link struct {
	RateID int64 `db:"rate_id"`
	MagnID int64 `db:"magn_id"`
	Equals bool  `db:"equals"`
}

// Match selects the unambiguous links among candidates. A rate is linked
// when it has exactly one candidate magnitude and the frequencies of all
// rates that are candidates of that magnitude add up to the magnitude's
// frequency. The result is ordered by rate id.
func Match(candidates []Candidate) []Link {
	perRate := make(map[int64]int)
	freqSum := make(map[int64]int)
	for _, c := range candidates {
		perRate[c.RateID]++
		freqSum[c.MagnID] += c.RateFreq
	}

	var links []Link
	for _, c := range candidates {
		if perRate[c.RateID] != 1 || freqSum[c.MagnID] != c.MagnFreq {
			continue
		}
		links = append(links, Link{
			RateID: c.RateID,
			MagnID: c.MagnID,
			Equals: c.RateStart.Equal(c.MagnStart) && c.RateEnd.Equal(c.MagnEnd),
		})
	}

	sort.Slice(links, func(i, j int) bool { return links[i].RateID < links[j].RateID })
	return links
}

// LimitingMagnitude returns the t_eff weighted mean of the limiting
// magnitudes, rounded to two decimals. ok is false when the total
// effective time is zero.
func LimitingMagnitude(limMags, tEffs []float64) (lm float64, ok bool) {
	var total float64
	for _, t := range tEffs {
		total += t
	}
	if len(limMags) == 0 || total <= 0 {
		return 0, false
	}
	return math.Round(stat.Mean(limMags, tEffs)*100) / 100, true
}

// LinkReport summarises a linker run.
type LinkReport struct {
	Candidates int
	Equal      int
	Contained  int
	Magnitudes int
}

func (r *LinkReport) String() string {
	return fmt.Sprintf("linker: %d of %d rates linked (%d equal, %d contained) to %d magnitudes",
		r.Equal+r.Contained, r.Candidates, r.Equal, r.Contained, r.Magnitudes)
}

// Linker rebuilds rate_magnitude and the limiting magnitude of magnitudes.
type Linker struct {
	db      *sqlx.DB
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

// NewLinker creates a linker. It must run after every worker committed.
func NewLinker(db *sqlx.DB, m *metrics.Metrics, logger *zap.SugaredLogger) *Linker {
	return &Linker{db: db, metrics: m, logger: logger}
}

// Run replaces all links in one transaction.
func (l *Linker) Run(ctx context.Context) (*LinkReport, error) {
	report := &LinkReport{}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM rate_magnitude"); err != nil {
		return report, fmt.Errorf("error clearing links: %w", err)
	}

	var candidates []Candidate
	if err := tx.SelectContext(ctx, &candidates, selectLinkCandidates); err != nil {
		return report, fmt.Errorf("error selecting link candidates: %w", err)
	}
	report.Candidates = countRates(candidates)

	links := Match(candidates)
	for start := 0; start < len(links); start += linkBatchSize {
		end := min(start+linkBatchSize, len(links))
		if _, err := tx.NamedExecContext(ctx, insertLink, links[start:end]); err != nil {
			return report, fmt.Errorf("error writing links: %w", err)
		}
	}

	for _, link := range links {
		kind := "contained"
		if link.Equals {
			kind = "equal"
			report.Equal++
		} else {
			report.Contained++
		}
		if l.metrics != nil {
			l.metrics.Links.WithLabelValues(kind).Inc()
		}
	}

	n, err := l.updateLimitingMagnitudes(ctx, tx)
	if err != nil {
		return report, err
	}
	report.Magnitudes = n

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("error committing links: %w", err)
	}

	l.logger.Infow("links rebuilt", "equal", report.Equal, "contained", report.Contained,
		"magnitudes", report.Magnitudes)
	return report, nil
}

type linkedLimit struct {
	MagnID int64   `db:"magn_id"`
	LimMag float64 `db:"lim_mag"`
	TEff   float64 `db:"t_eff"`
}

func (l *Linker) updateLimitingMagnitudes(ctx context.Context, tx *sqlx.Tx) (int, error) {
	if _, err := tx.ExecContext(ctx, "UPDATE magnitude SET lim_mag = NULL"); err != nil {
		return 0, fmt.Errorf("error clearing limiting magnitudes: %w", err)
	}

	var rows []linkedLimit
	if err := tx.SelectContext(ctx, &rows, selectLinkedLimits); err != nil {
		return 0, fmt.Errorf("error reading linked rates: %w", err)
	}

	update, err := tx.PreparexContext(ctx, tx.Rebind("UPDATE magnitude SET lim_mag = ? WHERE id = ?"))
	if err != nil {
		return 0, fmt.Errorf("error preparing limiting magnitude update: %w", err)
	}
	defer update.Close()

	updated := 0
	for start := 0; start < len(rows); {
		end := start
		var limMags, tEffs []float64
		for end < len(rows) && rows[end].MagnID == rows[start].MagnID {
			limMags = append(limMags, rows[end].LimMag)
			tEffs = append(tEffs, rows[end].TEff)
			end++
		}

		if lm, ok := LimitingMagnitude(limMags, tEffs); ok {
			if _, err := update.ExecContext(ctx, lm, rows[start].MagnID); err != nil {
				return updated, fmt.Errorf("error updating magnitude %d: %w", rows[start].MagnID, err)
			}
			updated++
		}
		start = end
	}
	return updated, nil
}

func countRates(candidates []Candidate) int {
	seen := make(map[int64]struct{}, len(candidates))
	for _, c := range candidates {
		seen[c.RateID] = struct{}{}
	}
	return len(seen)
}

// Package app runs a complete normalization: sessions, the partitioned rate
// and magnitude workers, and the linker.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meteorwatch/vmdb/internal/config"
	"github.com/meteorwatch/vmdb/internal/database"
	"github.com/meteorwatch/vmdb/internal/metrics"
	"github.com/meteorwatch/vmdb/internal/normalizer"
	"github.com/meteorwatch/vmdb/internal/shower"
	"github.com/meteorwatch/vmdb/internal/solarlong"
)

// ErrSetup marks a run that failed on its inputs rather than on the database.
var ErrSetup = errors.New("setup error")

// App represents the main application
type App struct {
	cfg    *config.Config
	db     *database.Client
	clock  clockwork.Clock
	logger *zap.SugaredLogger
}

// New creates a new application instance
func New(cfg *config.Config, db *database.Client, clock clockwork.Clock, logger *zap.SugaredLogger) *App {
	return &App{
		cfg:    cfg,
		db:     db,
		clock:  clock,
		logger: logger,
	}
}

// Result summarises a normalization run.
type Result struct {
	RunID     string
	Session   *normalizer.Report
	Rate      *normalizer.Report
	Magnitude *normalizer.Report
	Links     *normalizer.LinkReport
	Duration  time.Duration
}

// HasErrors reports whether any record was dropped because of a conflict.
func (r *Result) HasErrors() bool {
	for _, rep := range []*normalizer.Report{r.Session, r.Rate, r.Magnitude} {
		if rep != nil && rep.HasErrors() {
			return true
		}
	}
	return false
}

// Normalize rebuilds the canonical tables from the staged rows. It blocks
// until every worker and the linker have finished.
func (a *App) Normalize(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.NewString()}
	logger := a.logger.With("run_id", res.RunID)
	started := a.clock.Now()
	m := metrics.New()

	logger.Infow("normalization started", "workers", a.cfg.Normalizer.Workers, "strict", a.cfg.Normalizer.Strict)

	showers, err := shower.NewRepository(a.db.Gorm).Load(ctx)
	if errors.Is(err, shower.ErrInvalidReference) {
		return res, fmt.Errorf("%w: %w", ErrSetup, err)
	}
	if err != nil {
		return res, err
	}
	logger.Debugw("shower model loaded", "showers", showers.Len())

	sl, err := solarlong.New(ctx, solarlong.NewGormStore(a.db.Gorm))
	if err != nil {
		return res, err
	}
	// workers must not write to the lookup table while their own
	// transactions are open
	if err := a.prefillSolarLongitudes(ctx, sl); err != nil {
		return res, err
	}

	res.Session, err = normalizer.NewSessionNormalizer(a.db.Gorm, m, logger).Run(ctx)
	if err != nil {
		return res, fmt.Errorf("session normalizer: %w", err)
	}

	env := &normalizer.Env{
		DB:        a.db.DB,
		Showers:   showers,
		SolarLong: sl,
		Metrics:   m,
		Logger:    logger,
	}
	res.Rate, res.Magnitude, err = a.runWorkers(ctx, env)
	if err != nil {
		return res, err
	}

	res.Links, err = normalizer.NewLinker(a.db.DB, m, logger).Run(ctx)
	if err != nil {
		return res, fmt.Errorf("linker: %w", err)
	}

	res.Duration = a.clock.Since(started)
	m.RunDuration.Set(res.Duration.Seconds())
	m.LastSuccess.Set(float64(a.clock.Now().Unix()))

	a.summarize(logger, res)

	if a.cfg.Metrics.Textfile != "" {
		if err := m.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			logger.Warnw("metrics not written", "error", err)
		}
	}
	return res, nil
}

func (a *App) prefillSolarLongitudes(ctx context.Context, sl *solarlong.Cache) error {
	from, to, ok, err := a.db.StagedPeriod(ctx)
	if err != nil || !ok {
		return err
	}
	n, err := sl.Fill(ctx, from, to.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	a.logger.Debugw("solar longitudes prepared", "added", n, "from", from, "to", to)
	return nil
}

// runWorkers fans the partitions out and waits for all of them. The first
// failing worker cancels the others.
func (a *App) runWorkers(ctx context.Context, env *normalizer.Env) (rate, magn *normalizer.Report, err error) {
	n := a.cfg.Normalizer.Workers
	rates := make([]*normalizer.Report, n)
	magns := make([]*normalizer.Report, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		cfg := normalizer.WorkerConfig{Index: i, Count: n, Strict: a.cfg.Normalizer.Strict}
		g.Go(func() error {
			r, m, err := normalizer.RunWorker(gctx, env, cfg)
			rates[cfg.Index], magns[cfg.Index] = r, m
			return err
		})
	}
	err = g.Wait()

	rate = &normalizer.Report{Name: "rate"}
	magn = &normalizer.Report{Name: "magnitude"}
	for i := 0; i < n; i++ {
		if rates[i] != nil {
			rate.Merge(rates[i])
		}
		if magns[i] != nil {
			magn.Merge(magns[i])
		}
	}
	return rate, magn, err
}

func (a *App) summarize(logger *zap.SugaredLogger, res *Result) {
	for _, rep := range []*normalizer.Report{res.Session, res.Rate, res.Magnitude} {
		fields := []interface{}{"conflicts", rep.Conflicts}
		if rep.Skipped > 0 {
			fields = append(fields, "skipped", rep.Skipped)
		}
		if rep.HasErrors() {
			logger.Warnw(rep.String(), fields...)
		} else {
			logger.Infow(rep.String(), fields...)
		}
	}
	logger.Infow(res.Links.String())

	if res.HasErrors() && a.cfg.Logging.File != "" {
		logger.Warnf("records were dropped, see %s for details", a.cfg.Logging.File)
	}
	logger.Infow("normalization finished", "duration", res.Duration)
}

// FillSolarLongitudes makes sure the lookup table covers every day from
// from to to. A zero to means tomorrow.
func (a *App) FillSolarLongitudes(ctx context.Context, from, to time.Time) (int, error) {
	if to.IsZero() {
		to = a.clock.Now().UTC().AddDate(0, 0, 1)
	}
	if to.Before(from) {
		return 0, fmt.Errorf("range end %s is before start %s", to.Format(config.DateLayout), from.Format(config.DateLayout))
	}

	sl, err := solarlong.New(ctx, solarlong.NewGormStore(a.db.Gorm))
	if err != nil {
		return 0, err
	}
	n, err := sl.Fill(ctx, from, to)
	if err != nil {
		return n, err
	}
	a.logger.Infow("solar longitude table filled", "added", n, "days", sl.Len(),
		"from", from.Format(config.DateLayout), "to", to.Format(config.DateLayout))
	return n, nil
}

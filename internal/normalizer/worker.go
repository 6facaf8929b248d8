package normalizer

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/meteorwatch/vmdb/internal/metrics"
	"github.com/meteorwatch/vmdb/internal/shower"
)

// SolarLongitudes returns the solar longitude at an instant.
type SolarLongitudes interface {
	At(ctx context.Context, t time.Time) (float64, error)
}

// Env holds the collaborators shared by every worker of a run. All of them
// are safe for concurrent use.
type Env struct {
	DB        *sqlx.DB
	Showers   *shower.Model
	SolarLong SolarLongitudes
	Metrics   *metrics.Metrics
	Logger    *zap.SugaredLogger
}

// WorkerConfig is the configuration of one worker. Workers share nothing
// but Env; the partition is given explicitly.
type WorkerConfig struct {
	// Index selects the sessions with session_id mod Count == Index.
	Index int
	Count int

	// Strict aborts the worker on the first record conflict.
	Strict bool
}

func (c WorkerConfig) validate() error {
	if c.Count < 1 || c.Index < 0 || c.Index >= c.Count {
		return fmt.Errorf("invalid partition %d of %d", c.Index, c.Count)
	}
	return nil
}

func (c WorkerConfig) params() map[string]interface{} {
	return map[string]interface{}{
		"workers": c.Count,
		"worker":  c.Index,
	}
}

// RunWorker normalizes the rate and magnitude records of one partition.
// Each normalizer commits its own transaction.
func RunWorker(ctx context.Context, env *Env, cfg WorkerConfig) (rate, magn *Report, err error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	logger := env.Logger.With("worker", cfg.Index)
	logger.Debugw("worker started", "workers", cfg.Count)

	rate, err = NewRateNormalizer(env, cfg).Run(ctx)
	if err != nil {
		return rate, nil, fmt.Errorf("worker %d: %w", cfg.Index, err)
	}

	magn, err = NewMagnitudeNormalizer(env, cfg).Run(ctx)
	if err != nil {
		return rate, magn, fmt.Errorf("worker %d: %w", cfg.Index, err)
	}

	return rate, magn, nil
}

// requireColumns checks that a staged query returned the columns the
// normalizer depends on.
func requireColumns(rows *sqlx.Rows, names ...string) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c] = true
	}
	for _, n := range names {
		if !have[n] {
			return fmt.Errorf("column %s missing from staged rows", n)
		}
	}
	return nil
}

// Package normalizer turns staged observations into the canonical tables:
// overlapping periods are merged or rejected, surviving records are enriched
// with sky positions, and rate records are linked to the magnitude
// distributions they were counted with.
package normalizer

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/meteorwatch/vmdb/internal/metrics"
)

// ErrConflict is returned in strict mode when a record conflict occurs.
var ErrConflict = errors.New("record conflict")

// Reason classifies why a record was not written.
type Reason string

const (
	ReasonContains          Reason = "contains"
	ReasonOverlap           Reason = "overlap"
	ReasonMissingSession    Reason = "missing_session"
	ReasonFieldBelowHorizon Reason = "field_below_horizon"
	ReasonSunAboveHorizon   Reason = "sun_above_horizon"
	ReasonRadiantTooLow     Reason = "radiant_below_horizon"
	ReasonInvalidHistogram  Reason = "invalid_histogram"
)

// Conflict describes one or more staged records that were dropped.
type Conflict struct {
	Reason Reason
	IDs    []int64
	Detail string
}

func (c *Conflict) Error() string {
	ids := make([]string, len(c.IDs))
	for i, id := range c.IDs {
		ids[i] = fmt.Sprint(id)
	}
	msg := fmt.Sprintf("%s: ids %s", c.Reason, strings.Join(ids, ", "))
	if c.Detail != "" {
		msg += ": " + c.Detail
	}
	return msg
}

// Outcome is the result for one candidate record: either the record is to be
// written or a conflict explains why it is not.
type Outcome[T any] struct {
	Record   T
	Conflict *Conflict
}

// Write returns an outcome that writes r.
func Write[T any](r T) Outcome[T] {
	return Outcome[T]{Record: r}
}

// Reject returns an outcome for a conflict.
func Reject[T any](reason Reason, detail string, ids ...int64) Outcome[T] {
	return Outcome[T]{Conflict: &Conflict{Reason: reason, IDs: ids, Detail: detail}}
}

// OK reports whether the record is to be written.
func (o Outcome[T]) OK() bool {
	return o.Conflict == nil
}

// Report summarises one normalizer over one partition.
type Report struct {
	Name      string
	Read      int
	Written   int
	Skipped   int
	Conflicts map[Reason]int
}

// HasErrors reports whether any conflict occurred.
func (r *Report) HasErrors() bool {
	return len(r.Conflicts) > 0
}

// Merge adds the counts of other into r.
func (r *Report) Merge(other *Report) {
	r.Read += other.Read
	r.Written += other.Written
	r.Skipped += other.Skipped
	for reason, n := range other.Conflicts {
		if r.Conflicts == nil {
			r.Conflicts = make(map[Reason]int)
		}
		r.Conflicts[reason] += n
	}
}

// String returns the operator summary line.
func (r *Report) String() string {
	return fmt.Sprintf("%s: %d of %d records written", r.Name, r.Written, r.Read)
}

// recorder counts reads, writes and conflicts of one normalizer, logging
// each conflict and applying the strictness mode.
type recorder struct {
	report  *Report
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	strict  bool
}

func newRecorder(name string, logger *zap.SugaredLogger, m *metrics.Metrics, strict bool) *recorder {
	return &recorder{
		report:  &Report{Name: name},
		logger:  logger,
		metrics: m,
		strict:  strict,
	}
}

func (r *recorder) read() {
	r.report.Read++
	if r.metrics != nil {
		r.metrics.RecordsRead.WithLabelValues(r.report.Name).Inc()
	}
}

func (r *recorder) written() {
	r.report.Written++
	if r.metrics != nil {
		r.metrics.RecordsWritten.WithLabelValues(r.report.Name).Inc()
	}
}

func (r *recorder) skipped(id int64, why string) {
	r.report.Skipped++
	r.logger.Infow("record skipped", "normalizer", r.report.Name, "id", id, "reason", why)
}

// conflict logs c and returns ErrConflict in strict mode.
func (r *recorder) conflict(c *Conflict) error {
	if r.report.Conflicts == nil {
		r.report.Conflicts = make(map[Reason]int)
	}
	r.report.Conflicts[c.Reason]++
	if r.metrics != nil {
		r.metrics.Conflicts.WithLabelValues(r.report.Name, string(c.Reason)).Inc()
	}

	fields := []interface{}{"normalizer", r.report.Name, "reason", c.Reason, "ids", c.IDs}
	if c.Detail != "" {
		fields = append(fields, "detail", c.Detail)
	}
	if c.Reason == ReasonContains {
		r.logger.Warnw("record dropped", fields...)
	} else {
		r.logger.Errorw("record dropped", fields...)
	}

	if r.strict {
		return fmt.Errorf("%w: %s", ErrConflict, c.Error())
	}
	return nil
}

package csvimport

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TimeLayout is the timestamp layout of every CSV export.
const TimeLayout = "2006-01-02 15:04:05"

// RowError rejects one CSV row.
type RowError struct {
	Line   int
	ID     string
	Reason string
}

func (e *RowError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d: id %s: %s", e.Line, e.ID, e.Reason)
}

// row is one CSV record keyed by lower-cased header, with the options and
// logger needed to validate it.
type row struct {
	line   int
	id     string
	values map[string]string
	opts   Options
	logger *zap.SugaredLogger
}

func (r *row) get(col string) string {
	return strings.TrimSpace(r.values[col])
}

func (r *row) fail(format string, args ...interface{}) *RowError {
	return &RowError{Line: r.line, ID: r.id, Reason: fmt.Sprintf(format, args...)}
}

func (r *row) warn(format string, args ...interface{}) {
	r.logger.Warnw(fmt.Sprintf(format, args...), "line", r.line, "id", r.id)
}

// positiveID parses a mandatory identifier greater than zero.
func (r *row) positiveID(col string) (int64, error) {
	v := r.get(col)
	if v == "" {
		return 0, r.fail("%s must be set", col)
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, r.fail("invalid %s %q", col, v)
	}
	if id < 1 {
		return 0, r.fail("%s must be greater than 0 instead of %d", col, id)
	}
	return id, nil
}

// optionalID is like positiveID but an empty value is nil.
func (r *row) optionalID(col string) (*int64, error) {
	if r.get(col) == "" {
		return nil, nil
	}
	id, err := r.positiveID(col)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (r *row) float(col string) (float64, error) {
	v := r.get(col)
	if v == "" {
		return 0, r.fail("%s must be set", col)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, r.fail("invalid %s %q", col, v)
	}
	return f, nil
}

func (r *row) optionalFloat(col string) (*float64, error) {
	if r.get(col) == "" {
		return nil, nil
	}
	f, err := r.float(col)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *row) floatRange(col string, lo, hi float64) (float64, error) {
	f, err := r.float(col)
	if err != nil {
		return 0, err
	}
	if f < lo || f > hi {
		return 0, r.fail("%s must be between %v and %v instead of %v", col, lo, hi, f)
	}
	return f, nil
}

func (r *row) timestamp(col string) (time.Time, error) {
	v := r.get(col)
	if v == "" {
		return time.Time{}, r.fail("%s must be set", col)
	}
	t, err := time.ParseInLocation(TimeLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, r.fail("invalid %s %q", col, v)
	}
	return t, nil
}

// shower normalizes a shower code. Empty and SPO mean sporadic.
func (r *row) shower(col string) *string {
	code := strings.ToUpper(r.get(col))
	if code == "" || code == "SPO" {
		return nil
	}
	return &code
}

// ra parses a right ascension. 999 marks an unset value, which is accepted
// only in repair mode.
func (r *row) ra(col string) (*float64, error) {
	v, err := r.optionalFloat(col)
	if err != nil || v == nil {
		return nil, err
	}
	if *v == 999 {
		if !r.opts.Repair {
			return nil, r.fail("invalid right ascension %v", *v)
		}
		r.warn("right ascension %v treated as unset", *v)
		return nil, nil
	}
	if *v < 0 || *v > 360 {
		return nil, r.fail("right ascension must be between 0 and 360 instead of %v", *v)
	}
	return v, nil
}

// dec parses a declination. 990 and 999 mark an unset value, which is
// accepted only in repair mode.
func (r *row) dec(col string) (*float64, error) {
	v, err := r.optionalFloat(col)
	if err != nil || v == nil {
		return nil, err
	}
	if *v == 990 || *v == 999 {
		if !r.opts.Repair {
			return nil, r.fail("invalid declination %v", *v)
		}
		r.warn("declination %v treated as unset", *v)
		return nil, nil
	}
	if *v < -90 || *v > 90 {
		return nil, r.fail("declination must be between -90 and 90 instead of %v", *v)
	}
	return v, nil
}

// raDec requires both coordinates or neither. Repair mode drops a lone
// coordinate.
func (r *row) raDec(ra, dec *float64) (*float64, *float64, error) {
	if (ra == nil) == (dec == nil) {
		return ra, dec, nil
	}
	if r.opts.Repair {
		r.warn("ra and dec must both be set, both treated as unset")
		return nil, nil, nil
	}
	return nil, nil, r.fail("ra and dec must be set or both must be undefined")
}

// period checks an observation period against its maximum length. Repair
// mode moves an end that lies before the start by less than a day to the
// next day.
func (r *row) period(start, end time.Time, maxLen time.Duration) (time.Time, time.Time, error) {
	if start.Equal(end) {
		if r.opts.Permissive {
			r.warn("period start equals period end")
			return start, end, nil
		}
		return start, end, r.fail("period start equals period end")
	}

	if end.After(start) {
		if end.Sub(start) > maxLen {
			return start, end, r.fail("period %s - %s is too long", start.Format(TimeLayout), end.Format(TimeLayout))
		}
		return start, end, nil
	}

	if !r.opts.Repair || start.Sub(end) > 24*time.Hour {
		return start, end, r.fail("invalid period %s - %s", start.Format(TimeLayout), end.Format(TimeLayout))
	}
	repaired := end.Add(24 * time.Hour)
	r.warn("period end %s moved to %s", end.Format(TimeLayout), repaired.Format(TimeLayout))
	return r.period(start, repaired, maxLen)
}

var daysInMonth = [...]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// calendarDay validates a month and day of a non-leap year.
func (r *row) calendarDay(what string, month, day int) error {
	if month < 1 || month > 12 {
		return r.fail("month of %s must be between 1 and 12 instead of %d", what, month)
	}
	if day < 1 || day > daysInMonth[month-1] {
		return r.fail("day of %s must be between 1 and %d instead of %d", what, daysInMonth[month-1], day)
	}
	return nil
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// monthDay parses dates like "Aug 12". ok is false for an empty value.
func (r *row) monthDay(col string) (month, day int, ok bool, err error) {
	v := r.get(col)
	if v == "" {
		return 0, 0, false, nil
	}
	parts := strings.Fields(v)
	if len(parts) != 2 {
		return 0, 0, false, r.fail("invalid %s %q", col, v)
	}
	month, known := monthNames[strings.ToLower(parts[0])]
	if !known {
		return 0, 0, false, r.fail("invalid month in %s %q", col, v)
	}
	day, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false, r.fail("invalid day in %s %q", col, v)
	}
	if err := r.calendarDay(col, month, day); err != nil {
		return 0, 0, false, err
	}
	return month, day, true, nil
}

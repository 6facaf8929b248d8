// Package shower holds the meteor shower reference model: per-shower
// geocentric velocity and the yearly drift of the radiant.
package shower

import (
	"fmt"
	"sort"
	"time"

	"github.com/meteorwatch/vmdb/pkg/sky"
)

// daysInYear is the length of the drift calendar, which never has Feb 29.
const daysInYear = 365

var monthOffsets = [12]int{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334}
var monthLengths = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// Position is a radiant position in degrees. It is a value type; nothing in
// this package modifies a Position after it has been built.
type Position struct {
	RA  float64
	Dec float64
}

// Equatorial converts the position for use with the sky package.
func (p Position) Equatorial() sky.Equatorial {
	return sky.Equatorial{RA: p.RA, Dec: p.Dec}
}

// ControlPoint is a known radiant position on a day of the drift calendar.
type ControlPoint struct {
	Day      int
	Position Position
}

// DayOfYear returns the drift calendar day (1-365) for a month and day.
func DayOfYear(month, day int) (int, error) {
	if month < 1 || month > 12 {
		return 0, fmt.Errorf("invalid month %d", month)
	}
	if day < 1 || day > monthLengths[month-1] {
		// Feb 29 falls on Mar 1 of the drift calendar
		if !(month == 2 && day == 29) {
			return 0, fmt.Errorf("invalid day %d for month %d", day, month)
		}
	}
	return monthOffsets[month-1] + day, nil
}

// DayOfTime returns the drift calendar day of t in UTC.
func DayOfTime(t time.Time) int {
	t = t.UTC()
	d, _ := DayOfYear(int(t.Month()), t.Day())
	return d
}

// Drift interpolates a radiant position from control points.
type Drift struct {
	points []ControlPoint
}

// NewDrift builds a drift from control points in any order. Two points on
// the same day are rejected.
func NewDrift(points []ControlPoint) (*Drift, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("drift needs at least one control point")
	}

	sorted := make([]ControlPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Day < sorted[j].Day
	})

	for i, p := range sorted {
		if p.Day < 1 || p.Day > daysInYear {
			return nil, fmt.Errorf("control point day %d out of range", p.Day)
		}
		if p.Position.RA < 0 || p.Position.RA > 360 {
			return nil, fmt.Errorf("control point on day %d: ra %v out of range", p.Day, p.Position.RA)
		}
		if p.Position.Dec < -90 || p.Position.Dec > 90 {
			return nil, fmt.Errorf("control point on day %d: dec %v out of range", p.Day, p.Position.Dec)
		}
		if i > 0 && sorted[i-1].Day == p.Day {
			return nil, fmt.Errorf("duplicate control point on day %d", p.Day)
		}
	}

	return &Drift{points: sorted}, nil
}

// At returns the radiant position on a drift calendar day. With a single
// control point that point is returned for every day. Otherwise the
// neighbouring points, wrapping across the year end, are interpolated
// linearly; right ascension follows the shorter arc across 0/360.
func (d *Drift) At(day int) Position {
	if len(d.points) == 1 {
		return d.points[0].Position
	}

	left, right := d.neighbours(day)
	if left.Day == right.Day {
		return left.Position
	}

	frac := float64(day-left.Day) / float64(right.Day-left.Day)
	return Position{
		RA:  sky.InterpolateDegrees(left.Position.RA, right.Position.RA, frac),
		Dec: left.Position.Dec + (right.Position.Dec-left.Position.Dec)*frac,
	}
}

// neighbours finds the control points at or before and at or after day. A
// point borrowed from the other end of the year has its day shifted by a
// year so the pair stays ordered.
func (d *Drift) neighbours(day int) (left, right ControlPoint) {
	n := len(d.points)

	// index of the first point with Day >= day
	i := sort.Search(n, func(i int) bool {
		return d.points[i].Day >= day
	})

	if i < n {
		right = d.points[i]
	} else {
		right = d.points[0]
		right.Day += daysInYear
	}

	switch {
	case i < n && d.points[i].Day == day:
		left = d.points[i]
	case i > 0:
		left = d.points[i-1]
	default:
		left = d.points[n-1]
		left.Day -= daysInYear
	}

	return left, right
}

package normalizer

import (
	"time"
)

// Interval is what the merge needs to know about a staged observation.
// Records must be pushed ordered by session, shower, start ascending and
// end descending.
type Interval interface {
	RecordID() int64
	SessionKey() int64
	ShowerKey() *string
	Period() (start, end time.Time)
}

// Merger is the single pass merge over ordered observations. It holds at
// most one record, the accumulator, and decides for each new record whether
// the accumulator can be released, whether the new record is redundant, or
// whether the two contradict each other.
type Merger[T Interval] struct {
	prev    T
	holding bool
}

// Push processes the next record. emit is called with every decided
// outcome; an error from emit is returned unchanged.
func (m *Merger[T]) Push(cur T, emit func(Outcome[T]) error) error {
	if !m.holding {
		m.prev = cur
		m.holding = true
		return nil
	}

	prev := m.prev
	if !related(prev, cur) {
		m.prev = cur
		return emit(Write(prev))
	}

	prevStart, prevEnd := prev.Period()
	curStart, curEnd := cur.Period()
	samePeriod := prevStart.Equal(curStart) && prevEnd.Equal(curEnd)

	if !samePeriod && !prevStart.After(curStart) && !prevEnd.Before(curEnd) {
		// cur lies inside prev; prev stays the accumulator
		return emit(Reject[T](ReasonContains, "", prev.RecordID(), cur.RecordID()))
	}

	var zero T
	m.prev = zero
	m.holding = false
	return emit(Reject[T](ReasonOverlap, "", prev.RecordID(), cur.RecordID()))
}

// Flush releases the accumulator at the end of the stream.
func (m *Merger[T]) Flush(emit func(Outcome[T]) error) error {
	if !m.holding {
		return nil
	}
	prev := m.prev
	var zero T
	m.prev = zero
	m.holding = false
	return emit(Write(prev))
}

// related reports whether two records belong to the same session and shower
// and their periods overlap.
func related(a, b Interval) bool {
	if a.SessionKey() != b.SessionKey() {
		return false
	}
	if !sameShower(a.ShowerKey(), b.ShowerKey()) {
		return false
	}

	aStart, aEnd := a.Period()
	bStart, bEnd := b.Period()
	if !aEnd.After(bStart) || !aStart.Before(bEnd) {
		return false
	}
	return true
}

// sameShower compares shower codes, treating nil (sporadic) as a value of
// its own.
func sameShower(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Package solarlong serves solar longitudes from a per-date lookup table that
// is persisted in the database and extended on demand.
package solarlong

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meteorwatch/vmdb/pkg/sky"
)

const dateLayout = "2006-01-02"

// Entry is the solar longitude at 00:00 UTC of a date.
type Entry struct {
	Date string  `gorm:"column:date;primaryKey"`
	SL   float64 `gorm:"column:sl"`
}

func (Entry) TableName() string { return "solarlong_lookup" }

// Store persists lookup entries.
type Store interface {
	LoadAll(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
}

// Cache interpolates solar longitudes between consecutive midnights. Missing
// midnights are computed and written through to the store. A Cache is safe
// for concurrent use.
type Cache struct {
	mu      sync.Mutex
	days    map[string]float64
	store   Store
	compute func(time.Time) float64
}

// New loads the persisted table into memory.
func New(ctx context.Context, store Store) (*Cache, error) {
	c := &Cache{
		days:    make(map[string]float64),
		store:   store,
		compute: sky.SolarLongitude,
	}

	entries, err := store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading solar longitudes: %w", err)
	}
	for _, e := range entries {
		c.days[e.Date] = e.SL
	}

	return c, nil
}

// Len returns the number of dates held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.days)
}

// At returns the solar longitude at t in degrees [0,360).
func (c *Cache) At(ctx context.Context, t time.Time) (float64, error) {
	t = t.UTC()
	d0 := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	d1 := d0.AddDate(0, 0, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	sl0, err := c.day(ctx, d0)
	if err != nil {
		return 0, err
	}
	sl1, err := c.day(ctx, d1)
	if err != nil {
		return 0, err
	}

	if sl0 > sl1 {
		sl1 += 360
	}
	frac := t.Sub(d0).Seconds() / (24 * time.Hour).Seconds()
	sl := sl0 + (sl1-sl0)*frac
	if sl >= 360 {
		sl -= 360
	}
	return sl, nil
}

// Fill makes sure every date from..to (inclusive) is in the table and
// returns how many were added.
func (c *Cache) Fill(ctx context.Context, from, to time.Time) (int, error) {
	from = from.UTC().Truncate(24 * time.Hour)
	to = to.UTC().Truncate(24 * time.Hour)
	if to.Before(from) {
		return 0, fmt.Errorf("range end %s before start %s", to.Format(dateLayout), from.Format(dateLayout))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var added []Entry
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := d.Format(dateLayout)
		if _, ok := c.days[key]; ok {
			continue
		}
		added = append(added, Entry{Date: key, SL: c.compute(d)})
	}

	if len(added) == 0 {
		return 0, nil
	}
	if err := c.store.Save(ctx, added); err != nil {
		return 0, fmt.Errorf("error saving solar longitudes: %w", err)
	}
	for _, e := range added {
		c.days[e.Date] = e.SL
	}
	return len(added), nil
}

// day returns the value at midnight d, computing and persisting it if
// absent. c.mu must be held.
func (c *Cache) day(ctx context.Context, d time.Time) (float64, error) {
	key := d.Format(dateLayout)
	if sl, ok := c.days[key]; ok {
		return sl, nil
	}

	e := Entry{Date: key, SL: c.compute(d)}
	if err := c.store.Save(ctx, []Entry{e}); err != nil {
		return 0, fmt.Errorf("error saving solar longitude for %s: %w", key, err)
	}
	c.days[key] = e.SL
	return e.SL, nil
}

package shower

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// Shower is one entry of the reference model.
type Shower struct {
	Code string
	Name string

	// Velocity is the geocentric entry velocity in km/s, nil if unknown.
	Velocity *float64

	drift *Drift
}

// HasRadiant reports whether a radiant position can be computed.
func (s *Shower) HasRadiant() bool {
	return s.drift != nil
}

// ZenithCorrection returns the factor z / (z + v·(sin(alt) − 1)) with
// z = sqrt(125 + v²), which scales the effective observing time for a
// radiant at altitude alt degrees. ok is false when the velocity is unknown.
func (s *Shower) ZenithCorrection(alt float64) (corr float64, ok bool) {
	if s.Velocity == nil {
		return 0, false
	}
	v := *s.Velocity
	z := math.Sqrt(125 + v*v)
	return z / (z + v*(math.Sin(alt*math.Pi/180)-1)), true
}

// Model is the shower lookup built once per run. It is safe for concurrent
// use.
type Model struct {
	showers map[string]*Shower
	cache   *cache.Cache
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{
		showers: make(map[string]*Shower),
		cache:   cache.New(cache.NoExpiration, 0),
	}
}

// Add registers a shower. points may be empty, in which case the shower has
// no radiant. Adding a code twice is an error.
func (m *Model) Add(code, name string, velocity *float64, points []ControlPoint) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return fmt.Errorf("shower code is empty")
	}
	if _, exists := m.showers[code]; exists {
		return fmt.Errorf("shower %s defined twice", code)
	}

	s := &Shower{Code: code, Name: name, Velocity: velocity}
	if len(points) > 0 {
		d, err := NewDrift(points)
		if err != nil {
			return fmt.Errorf("shower %s: %w", code, err)
		}
		s.drift = d
	}

	m.showers[code] = s
	return nil
}

// Shower returns the shower for code, or nil if the code is unknown.
func (m *Model) Shower(code string) *Shower {
	return m.showers[code]
}

// Len returns the number of showers.
func (m *Model) Len() int {
	return len(m.showers)
}

// Radiant returns the radiant position of a shower at instant t, or nil if
// the shower is unknown or has no radiant. Results are cached per calendar
// day.
func (m *Model) Radiant(code string, t time.Time) *Position {
	s := m.showers[code]
	if s == nil || s.drift == nil {
		return nil
	}

	day := DayOfTime(t)
	key := fmt.Sprintf("%s/%d", code, day)
	if v, found := m.cache.Get(key); found {
		p := v.(Position)
		return &p
	}

	p := s.drift.At(day)
	m.cache.Set(key, p, cache.NoExpiration)
	return &p
}

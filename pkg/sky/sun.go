package sky

import (
	"time"

	"github.com/soniakeys/meeus/v3/base"
	"github.com/soniakeys/meeus/v3/solar"
)

// precessionRate is the general precession in ecliptic longitude, degrees per
// Julian century, used to refer the Sun's true longitude to the J2000.0
// equinox (Meeus ch. 25).
const precessionRate = 1.397

// SunEquatorial returns the apparent geocentric position of the Sun.
func SunEquatorial(t time.Time) Equatorial {
	ra, dec := solar.ApparentEquatorial(julianDay(t))
	return Equatorial{
		RA:  NormalizeDegrees(ra.Deg()),
		Dec: dec.Deg(),
	}
}

// Sun returns the Sun's horizontal coordinates for an observer. Refraction is
// not applied, so an altitude of zero is the geometric horizon.
func Sun(t time.Time, loc Location) Horizontal {
	return ToHorizontal(SunEquatorial(t), t, loc)
}

// SolarLongitude returns the Sun's geometric ecliptic longitude referred to
// the mean equinox of J2000.0, in degrees [0,360). This is the solar longitude
// used by meteor shower catalogues.
func SolarLongitude(t time.Time) float64 {
	T := base.J2000Century(julianDay(t))
	s, _ := solar.True(T)
	return NormalizeDegrees(s.Deg() - precessionRate*T)
}

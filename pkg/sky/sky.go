// Package sky provides the positional astronomy needed to qualify a visual
// meteor observation: horizontal coordinates of arbitrary equatorial points,
// of the Sun and of the Moon, the Moon's illuminated fraction, and the solar
// longitude used as the calendar-independent time axis of shower activity.
//
// Accuracy is at the level of a few arc minutes, which is far below the
// resolution of a visual observer's field estimate.
package sky

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/sidereal"
)

// Equatorial is a position on the celestial sphere in degrees.
type Equatorial struct {
	RA  float64 // right ascension [0,360)
	Dec float64 // declination [-90,90]
}

// Horizontal is a topocentric position in degrees.
type Horizontal struct {
	Alt float64 // altitude [-90,90]
	Az  float64 // azimuth [0,360), from north through east
}

// Location is an observer's geographic position in degrees, east longitude
// positive.
type Location struct {
	Longitude float64
	Latitude  float64
}

// ToHorizontal converts an equatorial position to horizontal coordinates for
// an observer at loc and instant t.
func ToHorizontal(eq Equatorial, t time.Time, loc Location) Horizontal {
	lst := localSiderealTime(julianDay(t), loc.Longitude)
	return equatorialToHorizontal(degToRad(eq.RA), degToRad(eq.Dec), lst, degToRad(loc.Latitude))
}

// equatorialToHorizontal does the spherical transform; all arguments in
// radians, lst being the local sidereal time.
func equatorialToHorizontal(ra, dec, lst, lat float64) Horizontal {
	H := lst - ra // hour angle

	sinDec, cosDec := math.Sincos(dec)
	sinLat, cosLat := math.Sincos(lat)
	sinH, cosH := math.Sincos(H)

	sinAlt := sinLat*sinDec + cosLat*cosDec*cosH
	sinAlt = clamp(sinAlt, -1, 1)
	alt := math.Asin(sinAlt)

	y := -cosDec * sinH
	x := sinDec*cosLat - cosDec*sinLat*cosH
	az := math.Atan2(y, x)

	return Horizontal{
		Alt: radToDeg(alt),
		Az:  NormalizeDegrees(radToDeg(az)),
	}
}

// julianDay converts a time to a Julian Day. The difference between UT and
// TT (about a minute) is ignored.
func julianDay(t time.Time) float64 {
	return julian.TimeToJD(t.UTC())
}

// localSiderealTime returns the local mean sidereal time in radians
func localSiderealTime(jd, lonDeg float64) float64 {
	gmst := sidereal.Mean(jd).Rad()
	return normalizeRadians(gmst + degToRad(lonDeg))
}

// NormalizeDegrees wraps an angle to the range [0, 360)
func NormalizeDegrees(angle float64) float64 {
	angle = math.Mod(angle, 360)
	if angle < 0 {
		angle += 360
	}
	// a tiny negative remainder rounds up to 360
	if angle >= 360 {
		angle = 0
	}
	return angle
}

// ShortArc returns the signed difference to-from in degrees, taking the
// shorter way around the circle. The result lies in (-180, 180].
func ShortArc(from, to float64) float64 {
	d := NormalizeDegrees(to - from)
	if d > 180 {
		d -= 360
	}
	return d
}

// InterpolateDegrees interpolates linearly between two angles along the
// shorter arc. frac 0 gives a, 1 gives b. The result is in [0, 360).
func InterpolateDegrees(a, b, frac float64) float64 {
	return NormalizeDegrees(a + ShortArc(a, b)*frac)
}

func degToRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func radToDeg(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// normalizeRadians wraps an angle in radians to the range [0, 2π)
func normalizeRadians(angle float64) float64 {
	twoPi := 2 * math.Pi
	angle = math.Mod(angle, twoPi)
	if angle < 0 {
		angle += twoPi
	}
	if angle >= twoPi {
		angle = 0
	}
	return angle
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

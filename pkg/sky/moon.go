package sky

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/moonillum"
	"github.com/soniakeys/meeus/v3/moonposition"
	"github.com/soniakeys/meeus/v3/nutation"
)

// MoonEquatorial returns the geocentric position of the Moon. Parallax is
// ignored; it displaces the Moon by at most about one degree.
func MoonEquatorial(t time.Time) Equatorial {
	jd := julianDay(t)
	lambda, beta, _ := moonposition.Position(jd)
	eps := nutation.MeanObliquity(jd)

	ra, dec := eclipticToEquatorial(lambda.Rad(), beta.Rad(), eps.Rad())
	return Equatorial{
		RA:  radToDeg(ra),
		Dec: radToDeg(dec),
	}
}

// Moon returns the Moon's horizontal coordinates for an observer.
func Moon(t time.Time, loc Location) Horizontal {
	return ToHorizontal(MoonEquatorial(t), t, loc)
}

// MoonIllumination returns the illuminated fraction of the Moon's disk [0,1]:
// 0 at new moon, 1 at full moon.
func MoonIllumination(t time.Time) float64 {
	i := moonillum.PhaseAngle3(julianDay(t))
	return (1 + math.Cos(i.Rad())) / 2
}

// eclipticToEquatorial converts ecliptic coordinates to equatorial ones, all
// in radians, given the obliquity eps.
func eclipticToEquatorial(lam, bet, eps float64) (ra, dec float64) {
	sinBet, cosBet := math.Sincos(bet)
	sinLam, cosLam := math.Sincos(lam)
	sinEps, cosEps := math.Sincos(eps)

	sinDec := sinBet*cosEps + cosBet*sinEps*sinLam
	dec = math.Asin(clamp(sinDec, -1, 1))

	y := sinLam*cosEps - math.Tan(bet)*sinEps
	x := cosLam
	ra = normalizeRadians(math.Atan2(y, x))

	return ra, dec
}

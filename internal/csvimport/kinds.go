package csvimport

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/meteorwatch/vmdb/internal/database"
	"github.com/meteorwatch/vmdb/internal/shower"
)

// Kind is the type of a CSV export, detected from its header.
type Kind string

const (
	KindSession   Kind = "session"
	KindRate      Kind = "rate"
	KindMagnitude Kind = "magnitude"
	KindShower    Kind = "shower"
	KindRadiant   Kind = "radiant"
)

const (
	maxRatePeriod      = time.Duration(0.49 * float64(24*time.Hour))
	maxMagnitudePeriod = 24 * time.Hour
	maxTEff            = 7.0
	maxTEffPermissive  = 24.0
)

// kind describes how one kind of file is parsed and stored.
type kind struct {
	name     Kind
	table    string
	idColumn string
	required []string
	parse    func(*row) (interface{}, error)
	insert   string
}

var magnitudeColumns = func() map[string]int {
	cols := make(map[string]int)
	for m := 1; m <= 6; m++ {
		cols["mag n"+strconv.Itoa(m)] = -m
	}
	for m := 0; m <= 7; m++ {
		cols["mag "+strconv.Itoa(m)] = m
	}
	return cols
}()

// kinds is ordered from the most to the least specific header.
var kinds = []kind{
	{
		name:     KindRate,
		table:    "imported_rate",
		idColumn: "rate id",
		required: []string{"rate id", "obs session id", "start date", "end date", "ra", "decl", "teff", "f", "lm", "shower", "method", "number"},
		parse:    parseRate,
		insert: `INSERT INTO imported_rate (
			id, session_id, observer_id, period_start, period_end, t_eff, f, lm, shower, method, number, ra, dec
		) VALUES (
			:id, :session_id, :observer_id, :period_start, :period_end, :t_eff, :f, :lm, :shower, :method, :number, :ra, :dec
		)`,
	},
	{
		name:     KindMagnitude,
		table:    "imported_magnitude",
		idColumn: "magnitude id",
		required: append([]string{"magnitude id", "obs session id", "shower", "start date", "end date"}, sortedKeys(magnitudeColumns)...),
		parse:    parseMagnitude,
		insert: `INSERT INTO imported_magnitude (
			id, session_id, observer_id, shower, period_start, period_end, magn
		) VALUES (
			:id, :session_id, :observer_id, :shower, :period_start, :period_end, :magn
		)`,
	},
	{
		name:     KindSession,
		table:    "imported_session",
		idColumn: "session id",
		required: []string{"session id", "observer id", "latitude", "longitude", "elevation"},
		parse:    parseSession,
		insert: `INSERT INTO imported_session (id, observer_id, latitude, longitude, elevation)
			VALUES (:id, :observer_id, :latitude, :longitude, :elevation)`,
	},
	{
		name:     KindShower,
		table:    "shower",
		idColumn: "iau_code",
		required: []string{"id", "iau_code", "name", "start", "end", "peak", "ra", "de", "v", "r", "zhr"},
		parse:    parseShower,
		insert: `INSERT INTO shower (
			id, iau_code, name, start_month, start_day, end_month, end_day, peak_month, peak_day, ra, dec, v, r, zhr
		) VALUES (
			:id, :iau_code, :name, :start_month, :start_day, :end_month, :end_day, :peak_month, :peak_day, :ra, :dec, :v, :r, :zhr
		)`,
	},
	{
		name:     KindRadiant,
		table:    "imported_radiant",
		idColumn: "shower",
		required: []string{"shower", "ra", "dec", "month", "day"},
		parse:    parseRadiant,
		insert: `INSERT INTO imported_radiant (shower, month, day, ra, dec)
			VALUES (:shower, :month, :day, :ra, :dec)`,
	},
}

// detect returns the kind whose required columns are all present.
func detect(header map[string]bool) (*kind, error) {
	for i := range kinds {
		k := &kinds[i]
		ok := true
		for _, col := range k.required {
			if !header[col] {
				ok = false
				break
			}
		}
		if ok {
			return k, nil
		}
	}
	return nil, fmt.Errorf("unknown CSV file")
}

func parseSession(r *row) (interface{}, error) {
	id, err := r.positiveID("session id")
	if err != nil {
		return nil, err
	}
	s := database.ImportedSession{ID: id}
	if s.ObserverID, err = r.optionalID("observer id"); err != nil {
		return nil, err
	}
	if s.Latitude, err = r.floatRange("latitude", -90, 90); err != nil {
		return nil, err
	}
	if s.Longitude, err = r.floatRange("longitude", -180, 180); err != nil {
		return nil, err
	}
	if r.get("elevation") == "" && r.opts.Permissive {
		r.warn("elevation not set, using 0")
		return s, nil
	}
	if s.Elevation, err = r.float("elevation"); err != nil {
		return nil, err
	}
	return s, nil
}

func parseRate(r *row) (interface{}, error) {
	id, err := r.positiveID("rate id")
	if err != nil {
		return nil, err
	}
	rate := database.ImportedRate{ID: id, Method: r.get("method"), Shower: r.shower("shower")}

	if rate.SessionID, err = r.positiveID("obs session id"); err != nil {
		return nil, err
	}
	if rate.ObserverID, err = r.optionalID("user id"); err != nil {
		return nil, err
	}

	start, err := r.timestamp("start date")
	if err != nil {
		return nil, err
	}
	end, err := r.timestamp("end date")
	if err != nil {
		return nil, err
	}
	if rate.PeriodStart, rate.PeriodEnd, err = r.period(start, end, maxRatePeriod); err != nil {
		return nil, err
	}

	limit := maxTEff
	if r.opts.Permissive {
		limit = maxTEffPermissive
	}
	if rate.TEff, err = r.float("teff"); err != nil {
		return nil, err
	}
	if rate.TEff <= 0 || rate.TEff > limit {
		return nil, r.fail("t_eff must be greater than 0 and at most %v instead of %v", limit, rate.TEff)
	}

	if rate.F, err = r.float("f"); err != nil {
		return nil, err
	}
	if rate.F < 1 {
		return nil, r.fail("f must be at least 1 instead of %v", rate.F)
	}

	if rate.LM, err = r.floatRange("lm", 0, 8); err != nil {
		return nil, err
	}

	number, err := strconv.Atoi(r.get("number"))
	if err != nil {
		return nil, r.fail("invalid number %q", r.get("number"))
	}
	if number < 0 {
		return nil, r.fail("number must not be negative instead of %d", number)
	}
	rate.Number = number

	ra, err := r.ra("ra")
	if err != nil {
		return nil, err
	}
	dec, err := r.dec("decl")
	if err != nil {
		return nil, err
	}
	if rate.RA, rate.Dec, err = r.raDec(ra, dec); err != nil {
		return nil, err
	}
	return rate, nil
}

func parseMagnitude(r *row) (interface{}, error) {
	id, err := r.positiveID("magnitude id")
	if err != nil {
		return nil, err
	}
	m := database.ImportedMagnitude{ID: id, Shower: r.shower("shower")}

	if m.SessionID, err = r.positiveID("obs session id"); err != nil {
		return nil, err
	}
	if m.ObserverID, err = r.optionalID("user id"); err != nil {
		return nil, err
	}

	start, err := r.timestamp("start date")
	if err != nil {
		return nil, err
	}
	end, err := r.timestamp("end date")
	if err != nil {
		return nil, err
	}
	if m.PeriodStart, m.PeriodEnd, err = r.period(start, end, maxMagnitudePeriod); err != nil {
		return nil, err
	}

	hist := make(map[string]float64)
	for col, class := range magnitudeColumns {
		n, err := r.float(col)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, r.fail("%s must not be negative instead of %v", col, n)
		}
		if n*2 != math.Trunc(n*2) {
			return nil, r.fail("%s must be a multiple of 0.5 instead of %v", col, n)
		}
		if n > 0 {
			hist[strconv.Itoa(class)] = n
		}
	}

	b, err := json.Marshal(hist)
	if err != nil {
		return nil, err
	}
	m.Magn = string(b)
	return m, nil
}

func parseShower(r *row) (interface{}, error) {
	id, err := r.positiveID("id")
	if err != nil {
		return nil, err
	}
	code := r.shower("iau_code")
	if code == nil {
		return nil, r.fail("iau_code must name a shower")
	}
	s := shower.Record{ID: id, IAUCode: *code, Name: r.get("name")}
	if s.Name == "" {
		return nil, r.fail("name must be set")
	}

	var ok bool
	if s.StartMonth, s.StartDay, ok, err = r.monthDay("start"); err != nil {
		return nil, err
	} else if !ok {
		return nil, r.fail("start must be set")
	}
	if s.EndMonth, s.EndDay, ok, err = r.monthDay("end"); err != nil {
		return nil, err
	} else if !ok {
		return nil, r.fail("end must be set")
	}
	month, day, ok, err := r.monthDay("peak")
	if err != nil {
		return nil, err
	}
	if ok {
		s.PeakMonth, s.PeakDay = &month, &day
	}

	ra, err := r.optionalFloat("ra")
	if err != nil {
		return nil, err
	}
	dec, err := r.optionalFloat("de")
	if err != nil {
		return nil, err
	}
	if ra == nil || dec == nil {
		ra, dec = nil, nil
	} else if *ra < 0 || *ra > 360 || *dec < -90 || *dec > 90 {
		return nil, r.fail("radiant %v/%v out of range", *ra, *dec)
	}
	s.RA, s.Dec = ra, dec

	if s.V, err = r.optionalFloat("v"); err != nil {
		return nil, err
	}
	if s.R, err = r.optionalFloat("r"); err != nil {
		return nil, err
	}
	if s.ZHR, err = r.optionalFloat("zhr"); err != nil {
		return nil, err
	}
	return s, nil
}

func parseRadiant(r *row) (interface{}, error) {
	code := r.shower("shower")
	if code == nil {
		return nil, r.fail("shower must name a shower")
	}
	rr := shower.RadiantRecord{Shower: *code}

	var err error
	if rr.RA, err = r.floatRange("ra", 0, 360); err != nil {
		return nil, err
	}
	if rr.Dec, err = r.floatRange("dec", -90, 90); err != nil {
		return nil, err
	}
	if rr.Month, err = strconv.Atoi(r.get("month")); err != nil {
		return nil, r.fail("invalid month %q", r.get("month"))
	}
	if rr.Day, err = strconv.Atoi(r.get("day")); err != nil {
		return nil, r.fail("invalid day %q", r.get("day"))
	}
	if err := r.calendarDay("radiant", rr.Month, rr.Day); err != nil {
		return nil, err
	}
	return rr, nil
}

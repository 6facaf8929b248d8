package database

import (
	"time"
)

// ImportedSession is a staged observer session.
type ImportedSession struct {
	ID         int64   `db:"id" gorm:"column:id;primaryKey"`
	ObserverID *int64  `db:"observer_id" gorm:"column:observer_id"`
	Latitude   float64 `db:"latitude" gorm:"column:latitude"`
	Longitude  float64 `db:"longitude" gorm:"column:longitude"`
	Elevation  float64 `db:"elevation" gorm:"column:elevation"`
}

func (ImportedSession) TableName() string { return "imported_session" }

// Session is a canonical observer session. It has the same shape as the
// staged row.
type Session ImportedSession

func (Session) TableName() string { return "obs_session" }

// ImportedRate is a staged rate observation.
type ImportedRate struct {
	ID          int64     `db:"id"`
	SessionID   int64     `db:"session_id"`
	ObserverID  *int64    `db:"observer_id"`
	PeriodStart time.Time `db:"period_start"`
	PeriodEnd   time.Time `db:"period_end"`
	TEff        float64   `db:"t_eff"`
	F           float64   `db:"f"`
	LM          float64   `db:"lm"`
	Shower      *string   `db:"shower"`
	Method      string    `db:"method"`
	Number      int       `db:"number"`
	RA          *float64  `db:"ra"`
	Dec         *float64  `db:"dec"`
}

// ImportedMagnitude is a staged magnitude distribution. Magn holds the JSON
// encoded histogram, magnitude class to count.
type ImportedMagnitude struct {
	ID          int64     `db:"id"`
	SessionID   int64     `db:"session_id"`
	ObserverID  *int64    `db:"observer_id"`
	Shower      *string   `db:"shower"`
	PeriodStart time.Time `db:"period_start"`
	PeriodEnd   time.Time `db:"period_end"`
	Magn        string    `db:"magn"`
}

package shower

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// Record is a row of the shower reference table.
type Record struct {
	ID         int64    `db:"id" gorm:"column:id;primaryKey"`
	IAUCode    string   `db:"iau_code" gorm:"column:iau_code"`
	Name       string   `db:"name" gorm:"column:name"`
	StartMonth int      `db:"start_month" gorm:"column:start_month"`
	StartDay   int      `db:"start_day" gorm:"column:start_day"`
	EndMonth   int      `db:"end_month" gorm:"column:end_month"`
	EndDay     int      `db:"end_day" gorm:"column:end_day"`
	PeakMonth  *int     `db:"peak_month" gorm:"column:peak_month"`
	PeakDay    *int     `db:"peak_day" gorm:"column:peak_day"`
	RA         *float64 `db:"ra" gorm:"column:ra"`
	Dec        *float64 `db:"dec" gorm:"column:dec"`
	V          *float64 `db:"v" gorm:"column:v"`
	R          *float64 `db:"r" gorm:"column:r"`
	ZHR        *float64 `db:"zhr" gorm:"column:zhr"`
}

func (Record) TableName() string { return "shower" }

// RadiantRecord is a row of the staged radiant drift table.
type RadiantRecord struct {
	Shower string  `db:"shower" gorm:"column:shower;primaryKey"`
	Month  int     `db:"month" gorm:"column:month;primaryKey"`
	Day    int     `db:"day" gorm:"column:day;primaryKey"`
	RA     float64 `db:"ra" gorm:"column:ra"`
	Dec    float64 `db:"dec" gorm:"column:dec"`
}

func (RadiantRecord) TableName() string { return "imported_radiant" }

// ErrInvalidReference marks shower reference rows that cannot form a model.
var ErrInvalidReference = errors.New("invalid shower reference data")

// Repository reads shower reference data.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a repository on db.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Load builds the reference model. Inconsistent reference data is an error.
func (r *Repository) Load(ctx context.Context) (*Model, error) {
	var showers []Record
	if err := r.db.WithContext(ctx).Order("iau_code").Find(&showers).Error; err != nil {
		return nil, fmt.Errorf("error loading showers: %w", err)
	}

	var radiants []RadiantRecord
	if err := r.db.WithContext(ctx).Order("shower, month, day").Find(&radiants).Error; err != nil {
		return nil, fmt.Errorf("error loading radiants: %w", err)
	}

	return BuildModel(showers, radiants)
}

// BuildModel assembles a model from reference rows. Radiant drift rows take
// precedence over the single position stored with the shower. Errors wrap
// ErrInvalidReference.
func BuildModel(showers []Record, radiants []RadiantRecord) (*Model, error) {
	m, err := buildModel(showers, radiants)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReference, err)
	}
	return m, nil
}

func buildModel(showers []Record, radiants []RadiantRecord) (*Model, error) {
	points := make(map[string][]ControlPoint)
	for _, rr := range radiants {
		code := strings.ToUpper(strings.TrimSpace(rr.Shower))
		day, err := DayOfYear(rr.Month, rr.Day)
		if err != nil {
			return nil, fmt.Errorf("radiant of %s: %w", code, err)
		}
		points[code] = append(points[code], ControlPoint{
			Day:      day,
			Position: Position{RA: rr.RA, Dec: rr.Dec},
		})
	}

	m := NewModel()
	for _, s := range showers {
		code := strings.ToUpper(strings.TrimSpace(s.IAUCode))
		cps := points[code]
		delete(points, code)

		if len(cps) == 0 && s.RA != nil && s.Dec != nil {
			day := 1
			if s.PeakMonth != nil && s.PeakDay != nil {
				d, err := DayOfYear(*s.PeakMonth, *s.PeakDay)
				if err != nil {
					return nil, fmt.Errorf("peak of %s: %w", code, err)
				}
				day = d
			}
			cps = []ControlPoint{{Day: day, Position: Position{RA: *s.RA, Dec: *s.Dec}}}
		}

		if err := m.Add(code, s.Name, s.V, cps); err != nil {
			return nil, err
		}
	}

	if len(points) > 0 {
		unknown := make([]string, 0, len(points))
		for code := range points {
			unknown = append(unknown, code)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("radiant drift given for unknown showers: %s", strings.Join(unknown, ", "))
	}

	return m, nil
}

package solarlong

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps the lookup table in the solarlong_lookup table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store on db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) LoadAll(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).Order("date").Find(&entries).Error
	return entries, err
}

// Save inserts entries, leaving dates that already exist untouched so that
// concurrent workers filling the same date do not collide.
func (s *GormStore) Save(ctx context.Context, entries []Entry) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(entries, 500).Error
}

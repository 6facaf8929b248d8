package normalizer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meteorwatch/vmdb/internal/database"
	"github.com/meteorwatch/vmdb/internal/metrics"
)

const sessionBatchSize = 500

// SessionNormalizer copies staged sessions into obs_session.
type SessionNormalizer struct {
	db  *gorm.DB
	rec *recorder
}

// NewSessionNormalizer creates a session normalizer.
func NewSessionNormalizer(db *gorm.DB, m *metrics.Metrics, logger *zap.SugaredLogger) *SessionNormalizer {
	return &SessionNormalizer{
		db:  db,
		rec: newRecorder("session", logger, m, false),
	}
}

// Run upserts every staged session into the canonical table. It must complete
// before the rate and magnitude normalizers start.
func (n *SessionNormalizer) Run(ctx context.Context) (*Report, error) {
	err := n.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch []database.ImportedSession
		res := tx.Model(&database.ImportedSession{}).
			FindInBatches(&batch, sessionBatchSize, func(_ *gorm.DB, _ int) error {
				sessions := make([]database.Session, len(batch))
				for i, s := range batch {
					n.rec.read()
					sessions[i] = database.Session(s)
				}

				// an upsert keeps the rates and magnitudes hanging off the session
				if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&sessions).Error; err != nil {
					return fmt.Errorf("error writing sessions: %w", err)
				}
				for range sessions {
					n.rec.written()
				}
				return nil
			})
		return res.Error
	})
	if err != nil {
		return n.rec.report, err
	}
	return n.rec.report, nil
}

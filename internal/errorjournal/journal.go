package errorjournal

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pesapoints/pesapoints-backend/pkg/db/models"
	"github.com/pesapoints/pesapoints-backend/pkg/logger"
)

// Journal appends payment failures to the operational error journal. Entries
// are keyed by a fresh random id so a failure stays auditable even when the
// primary response is lost. Recording is best-effort: a journal write failure
// is logged, never propagated, so it cannot mask the original error.
type Journal struct {
	db   *gorm.DB
	logg *logger.Logger
}

// New constructs a journal bound to the provided database.
func New(db *gorm.DB, logg *logger.Logger) *Journal {
	return &Journal{db: db, logg: logg}
}

// Record writes one entry describing a failure at the given stage.
func (j *Journal) Record(ctx context.Context, stage string, err error, details map[string]any) {
	if j == nil || j.db == nil {
		return
	}

	var payload json.RawMessage
	if len(details) > 0 {
		if raw, marshalErr := json.Marshal(details); marshalErr == nil {
			payload = raw
		}
	}

	message := ""
	if err != nil {
		message = err.Error()
	}

	entry := &models.ErrorJournalEntry{
		ID:      uuid.New(),
		Stage:   stage,
		Message: message,
		Context: payload,
	}
	if writeErr := j.db.WithContext(ctx).Create(entry).Error; writeErr != nil && j.logg != nil {
		ctx = j.logg.WithFields(ctx, map[string]any{"stage": stage, "journal_id": entry.ID.String()})
		j.logg.Error(ctx, "error journal write failed", writeErr)
	}
}

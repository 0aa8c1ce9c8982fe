package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/cvomotor/vehicles_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func canonicalPlate(plate string) string {
	return utils.NormalizePlate(plate)
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// RecordSyncEvent implements the transactional outbox for observability
// events: the row is written inside the caller's transaction and published
// asynchronously by the outbox dispatcher after commit. A serialization
// failure of before/after is swallowed into an empty payload rather than
// failing the ledger write it describes.
func RecordSyncEvent(ctx context.Context, tx *gorm.DB, plate, checkName string, before, after interface{}, corrected bool) error {
	var beforeJSON, afterJSON []byte
	if before != nil {
		beforeJSON, _ = json.Marshal(before)
	}
	if after != nil {
		afterJSON, _ = json.Marshal(after)
	}
	event := SyncEventRecord{
		Plate:         canonicalPlate(plate),
		CheckName:     checkName,
		BeforeState:   beforeJSON,
		AfterState:    afterJSON,
		Corrected:     corrected,
		OccurredAt:    time.Now().UTC(),
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&event).Error
}

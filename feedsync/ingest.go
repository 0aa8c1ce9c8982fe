package feedsync

import (
	"context"
	"time"

	"bitbucket.org/cvomotor/vehicles_backend/config"
	"bitbucket.org/cvomotor/vehicles_backend/models"
	"bitbucket.org/cvomotor/vehicles_backend/utils"
	"bitbucket.org/cvomotor/vehicles_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IngestBatch applies one feed batch to the vehicle mirror and reconciles
// every touched plate. Each plate is processed independently so a single bad
// row cannot abort the sweep; failures are counted and logged, never fatal.
func IngestBatch(ctx context.Context, db *gorm.DB, logger *logrus.Logger, rows []RawVehicleRow) *utils.BatchResult {
	result := &utils.BatchResult{}
	observedAt := time.Now().UTC()
	seen := make(map[string]bool, len(rows))

	for _, row := range rows {
		plate := row.NormalizedPlate()
		if plate == "" || seen[plate] {
			result.Skipped++
			continue
		}
		seen[plate] = true

		if err := upsertFeedRow(ctx, db, plate, row, observedAt); err != nil {
			config.LogError(logger, "ingest.go", "IngestBatch", "Upserting feed row", plate, err)
			result.Failed++
			continue
		}
		if err := workflow.ReconcilePlate(ctx, db, logger, plate); err != nil {
			config.LogError(logger, "ingest.go", "IngestBatch", "Reconciling plate", plate, err)
			result.Failed++
			continue
		}
		result.Processed++
	}

	logger.WithFields(logrus.Fields{
		"field":     "IngestBatch",
		"processed": result.Processed,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
	}).Info("feed batch ingested")
	return result
}

func upsertFeedRow(ctx context.Context, db *gorm.DB, plate string, row RawVehicleRow, observedAt time.Time) error {
	vehicle := models.FeedVehicle{
		Plate:         plate,
		Model:         row.Model,
		Brand:         row.Brand,
		Availability:  models.ParseAvailability(row.Availability),
		HasRealPhotos: HasRealPhotos(row.PhotoURLs),
		LastSeenAt:    observedAt,
	}
	if err := vehicle.SetPhotoURLs(row.PhotoURLs); err != nil {
		return err
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "plate"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"model", "brand", "availability", "photo_urls_json", "has_real_photos", "last_seen_at",
			}),
		}).Create(&vehicle).Error; err != nil {
			return err
		}
		return models.TouchFirstSeen(tx, plate, vehicle.HasRealPhotos, observedAt)
	})
}

// SyncFromFeed is the scheduled end-to-end pass: fetch, mirror, reconcile.
// A fetch failure leaves every ledger untouched; stale local state is always
// preferable to state derived from a partial or garbled feed read.
func SyncFromFeed(ctx context.Context, db *gorm.DB, logger *logrus.Logger) (*utils.BatchResult, error) {
	lock, err := utils.ObtainSweepLock(ctx, "feed-sync", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	defer utils.ReleaseLock(ctx, lock)

	rows, err := FetchFeed(ctx)
	if err != nil {
		config.LogError(logger, "ingest.go", "SyncFromFeed", "Fetching feed", nil, err)
		return nil, err
	}
	return IngestBatch(ctx, db, logger, rows), nil
}

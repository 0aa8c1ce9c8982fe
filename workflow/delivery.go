package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/cvomotor/vehicles_backend/config"
	"bitbucket.org/cvomotor/vehicles_backend/models"
	"bitbucket.org/cvomotor/vehicles_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type NewDelivery struct {
	Plate        string     `json:"plate" binding:"required"`
	SaleDate     time.Time  `json:"sale_date" binding:"required"`
	DeliveryDate *time.Time `json:"delivery_date"`
	Advisor      string     `json:"advisor"`
}

// RecordDelivery registers a sale/handover for a vehicle currently in stock.
//
// With a delivery date the vehicle is handed over: the stock row is marked
// sold and then removed ("stock" means represented in the feed and not yet
// handed over). Without one the vehicle is sold-but-reserved: the row stays
// and keeps counting toward the reserved view.
func RecordDelivery(ctx context.Context, db *gorm.DB, logger *logrus.Logger, input NewDelivery) (*models.DeliveryRecord, error) {
	plate := utils.NormalizePlate(input.Plate)

	var record *models.DeliveryRecord
	err := WithPlateLock(ctx, db, plate, func(conn *gorm.DB) error {
		return conn.Transaction(func(tx *gorm.DB) error {
			var entry models.StockEntry
			if err := tx.Where("plate = ?", plate).Take(&entry).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", utils.ErrNotInStock, plate)
				}
				return err
			}

			record = &models.DeliveryRecord{
				Plate:        plate,
				Model:        entry.Model,
				SaleDate:     input.SaleDate,
				DeliveryDate: input.DeliveryDate,
				Advisor:      input.Advisor,
				Source:       models.DeliverySourceRecordedSale,
			}
			if err := tx.Create(record).Error; err != nil {
				return err
			}

			if err := tx.Model(&models.StockEntry{}).
				Where("id = ?", entry.ID).
				Update("is_sold", true).Error; err != nil {
				return err
			}

			if input.DeliveryDate != nil {
				if err := tx.Delete(&models.StockEntry{}, entry.ID).Error; err != nil {
					return err
				}
				return models.RecordSyncEvent(ctx, tx, plate, "STOCK_REMOVED_ON_DELIVERY", &entry, record, true)
			}
			return models.RecordSyncEvent(ctx, tx, plate, "STOCK_RESERVED_ON_SALE", &entry, record, true)
		})
	})
	if err != nil {
		if !errors.Is(err, utils.ErrNotInStock) {
			config.LogError(logger, "delivery.go", "RecordDelivery", "Recording delivery", input, err)
		}
		return nil, err
	}
	return record, nil
}

// ReclassifyProfessionalSales is the explicit, human-triggered path for
// vehicles that left the feed without a recorded sale: dealer-to-dealer sales
// are not always entered in the primary sale ledger and must not linger as
// "available" forever. Provenance is recorded on the delivery row; this is
// never invoked automatically.
func ReclassifyProfessionalSales(ctx context.Context, db *gorm.DB, logger *logrus.Logger, plates []string) utils.BatchResult {
	var result utils.BatchResult

	for _, raw := range plates {
		plate := utils.NormalizePlate(raw)
		if plate == "" {
			result.Skipped++
			continue
		}
		if err := reclassifyOne(ctx, db, plate); err != nil {
			config.LogError(logger, "delivery.go", "ReclassifyProfessionalSales", "Reclassifying plate", plate, err)
			result.Failed++
			continue
		}
		result.Processed++
	}

	logger.WithFields(logrus.Fields{
		"field":     "ReclassifyProfessionalSales",
		"processed": result.Processed,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
	}).Info("professional sale reclassification finished")
	return result
}

func reclassifyOne(ctx context.Context, db *gorm.DB, plate string) error {
	return WithPlateLock(ctx, db, plate, func(conn *gorm.DB) error {
		return conn.Transaction(func(tx *gorm.DB) error {
			// Idempotent: a plate already classified is not classified twice.
			var existing int64
			if err := tx.Model(&models.DeliveryRecord{}).
				Where("plate = ? AND source = ?", plate, models.DeliverySourceInferredProfessional).
				Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				return nil
			}

			var entry models.StockEntry
			if err := tx.Where("plate = ?", plate).Take(&entry).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", utils.ErrNotInStock, plate)
				}
				return err
			}

			now := time.Now().UTC()
			record := models.DeliveryRecord{
				Plate:    plate,
				Model:    entry.Model,
				SaleDate: now,
				Source:   models.DeliverySourceInferredProfessional,
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}

			if err := tx.Model(&models.StockEntry{}).
				Where("id = ?", entry.ID).
				Updates(map[string]interface{}{
					"is_sold":      true,
					"is_available": false,
				}).Error; err != nil {
				return err
			}

			// Photo work on a professionally-sold vehicle is moot: close the
			// task so it stops inflating the pending backlog.
			if err := tx.Model(&models.PhotoTask{}).
				Where("plate = ?", plate).
				Update("paint_state", models.PaintStateSold).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.PhotoTask{}).
				Where("plate = ? AND photos_completed = 0", plate).
				Updates(map[string]interface{}{
					"photos_completed": true,
					"auto_completed":   true,
					"completed_at":     now,
				}).Error; err != nil {
				return err
			}

			return models.RecordSyncEvent(ctx, tx, plate, "RECLASSIFIED_PROFESSIONAL_SALE", &entry, &record, true)
		})
	})
}

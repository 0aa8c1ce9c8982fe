package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/cvomotor/vehicles_backend/config"
	"bitbucket.org/cvomotor/vehicles_backend/models"
	"bitbucket.org/cvomotor/vehicles_backend/utils"
	driver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// isDuplicateKey detects MySQL error 1062. A create-if-missing step losing the
// race to another pass is success, not failure.
func isDuplicateKey(err error) bool {
	var mysqlErr *driver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// ReconcilePlate brings every ledger into line with the feed state for one
// plate. It is the application-level replacement for the old database trigger
// cascade: each step is an independently idempotent single-row upsert, a step
// failure is logged and does not block the remaining steps, and the drift
// auditor retries whatever is still divergent on its next sweep.
//
// Callers that react to a feed upsert or a ledger write invoke this
// synchronously; it performs no cross-ledger multi-row scans.
func ReconcilePlate(ctx context.Context, db *gorm.DB, logger *logrus.Logger, plate string) error {
	plate = utils.NormalizePlate(plate)
	if plate == "" {
		return errors.New("plate is required")
	}

	return WithPlateLock(ctx, db, plate, func(conn *gorm.DB) error {
		var feed models.FeedVehicle
		feedErr := conn.Where("plate = ?", plate).Take(&feed).Error
		inFeed := feedErr == nil
		if feedErr != nil && !errors.Is(feedErr, gorm.ErrRecordNotFound) {
			return feedErr
		}

		var failed []string
		step := func(name string, fn func(tx *gorm.DB) error) {
			if err := conn.Transaction(fn); err != nil {
				config.LogError(logger, "reconciliation.go", "ReconcilePlate", name, plate, err)
				failed = append(failed, name)
			}
		}

		if inFeed {
			step("ensureStockEntry", func(tx *gorm.DB) error {
				return ensureStockEntry(ctx, tx, &feed)
			})
			step("ensurePhotoTask", func(tx *gorm.DB) error {
				return ensurePhotoTask(ctx, tx, &feed)
			})
			step("ensureIntakeRecord", func(tx *gorm.DB) error {
				return ensureIntakeRecord(ctx, tx, &feed)
			})
			step("syncPhotoCompletion", func(tx *gorm.DB) error {
				return syncPhotoCompletion(ctx, tx, &feed)
			})
		}
		// A plate that vanished from the feed while unsold is deliberately left
		// alone here: absence is ambiguous between sold-and-removed and
		// temporarily unlisted, so classification belongs to the drift auditor
		// plus a human decision, never to the trigger path.
		step("backdateManualCompletion", func(tx *gorm.DB) error {
			return backdateManualCompletion(ctx, tx, plate)
		})
		if inFeed {
			// Runs last so the feed's availability always wins over anything a
			// propagation step set transiently in the same pass.
			step("mirrorAvailability", func(tx *gorm.DB) error {
				return mirrorAvailability(ctx, tx, &feed)
			})
		}

		if len(failed) > 0 {
			return fmt.Errorf("reconcile %s: steps failed: %v", plate, failed)
		}
		return nil
	})
}

// ensureStockEntry creates the stock row for a feed plate that lacks one.
// A plate already handed over stays out of stock even while the feed still
// lists it; the feed lags deliveries by up to a scrape cycle.
func ensureStockEntry(ctx context.Context, tx *gorm.DB, feed *models.FeedVehicle) error {
	var entry models.StockEntry
	err := tx.Where("plate = ?", feed.Plate).Take(&entry).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	var delivered int64
	if err := tx.Model(&models.DeliveryRecord{}).
		Where("plate = ? AND delivery_date IS NOT NULL", feed.Plate).
		Count(&delivered).Error; err != nil {
		return err
	}
	if delivered > 0 {
		return nil
	}

	entry = models.StockEntry{
		Plate:       feed.Plate,
		Model:       feed.Model,
		IsSold:      false,
		IsAvailable: feed.Availability == models.AvailabilityAvailable,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return err
	}
	return models.RecordSyncEvent(ctx, tx, feed.Plate, "STOCK_CREATED", nil, &entry, true)
}

// mirrorAvailability keeps StockEntry.IsAvailable equal to the feed's
// availability flag. One-way: the feed wins.
func mirrorAvailability(ctx context.Context, tx *gorm.DB, feed *models.FeedVehicle) error {
	available := feed.Availability == models.AvailabilityAvailable
	res := tx.Model(&models.StockEntry{}).
		Where("plate = ? AND is_available <> ?", feed.Plate, available).
		Update("is_available", available)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	return models.RecordSyncEvent(ctx, tx, feed.Plate, models.CheckTypeAvailabilityMirror, nil,
		map[string]interface{}{"is_available": available}, true)
}

func ensurePhotoTask(ctx context.Context, tx *gorm.DB, feed *models.FeedVehicle) error {
	var task models.PhotoTask
	err := tx.Where("plate = ?", feed.Plate).Take(&task).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	task = models.PhotoTask{
		Plate:      feed.Plate,
		Model:      feed.Model,
		PaintState: models.PaintStatePending,
	}
	if err := tx.Create(&task).Error; err != nil {
		if isDuplicateKey(err) {
			return nil
		}
		return err
	}
	return models.RecordSyncEvent(ctx, tx, feed.Plate, "PHOTO_TASK_CREATED", nil, &task, true)
}

func ensureIntakeRecord(ctx context.Context, tx *gorm.DB, feed *models.FeedVehicle) error {
	var rec models.IntakeRecord
	err := tx.Where("plate = ?", feed.Plate).Take(&rec).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	rec = models.IntakeRecord{
		Plate: feed.Plate,
		Model: feed.Model,
	}
	if err := tx.Create(&rec).Error; err != nil {
		if isDuplicateKey(err) {
			return nil
		}
		return err
	}
	return models.RecordSyncEvent(ctx, tx, feed.Plate, "INTAKE_CREATED", nil, &rec, true)
}

// syncPhotoCompletion applies the auto-complete and auto-revert rules.
//
// Real photos present + task pending: mark completed/auto, dated to the
// feed's first-photos timestamp (backdating), and propagate that timestamp to
// intake and stock reception.
//
// Real photos gone + task auto-completed: revert the task and the propagated
// reception fields. Human-confirmed completions (AutoCompleted=false) are
// sticky and never touched.
func syncPhotoCompletion(ctx context.Context, tx *gorm.DB, feed *models.FeedVehicle) error {
	var task models.PhotoTask
	if err := tx.Where("plate = ?", feed.Plate).Take(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	if feed.HasRealPhotos && !task.PhotosCompleted {
		anchor := models.BackdateAnchor(tx, feed.Plate, time.Now().UTC())
		before := task
		res := tx.Model(&models.PhotoTask{}).
			Where("id = ? AND photos_completed = 0", task.ID).
			Updates(map[string]interface{}{
				"photos_completed": true,
				"auto_completed":   true,
				"completed_at":     anchor,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		task.PhotosCompleted = true
		task.AutoCompleted = true
		task.CompletedAt = &anchor
		if err := models.RecordSyncEvent(ctx, tx, feed.Plate, "PHOTOS_AUTO_COMPLETED", &before, &task, true); err != nil {
			return err
		}
		return propagateReception(ctx, tx, feed.Plate, anchor, true)
	}

	if !feed.HasRealPhotos && task.PhotosCompleted && task.AutoCompleted && task.PaintState != models.PaintStateSold {
		before := task
		res := tx.Model(&models.PhotoTask{}).
			Where("id = ? AND photos_completed = 1 AND auto_completed = 1 AND paint_state <> 'sold'", task.ID).
			Updates(map[string]interface{}{
				"photos_completed": false,
				"auto_completed":   false,
				"completed_at":     nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		task.PhotosCompleted = false
		task.AutoCompleted = false
		task.CompletedAt = nil
		if err := models.RecordSyncEvent(ctx, tx, feed.Plate, models.CheckTypeStaleAutoComplete, &before, &task, true); err != nil {
			return err
		}
		return revertReception(ctx, tx, feed.Plate)
	}

	return nil
}

// propagateReception tightens intake and stock reception toward "received"
// with the backdated timestamp. It never overwrites a reception a human
// already recorded.
func propagateReception(ctx context.Context, tx *gorm.DB, plate string, at time.Time, auto bool) error {
	res := tx.Model(&models.IntakeRecord{}).
		Where("plate = ? AND is_received = 0", plate).
		Updates(map[string]interface{}{
			"is_received":    true,
			"reception_date": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		if err := models.RecordSyncEvent(ctx, tx, plate, "INTAKE_RECEIVED", nil,
			map[string]interface{}{"reception_date": at, "auto": auto}, true); err != nil {
			return err
		}
	}

	res = tx.Model(&models.StockEntry{}).
		Where("plate = ? AND physical_reception_date IS NULL", plate).
		Updates(map[string]interface{}{
			"physical_reception_date": at,
			"auto_marked_received":    auto,
			"is_available":            true,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return models.RecordSyncEvent(ctx, tx, plate, "STOCK_RECEPTION_SET", nil,
			map[string]interface{}{"physical_reception_date": at, "auto": auto}, true)
	}
	return nil
}

// revertReception undoes reception only where it was set automatically.
// Manual reception markings survive feed flapping.
func revertReception(ctx context.Context, tx *gorm.DB, plate string) error {
	res := tx.Model(&models.IntakeRecord{}).
		Where("plate = ? AND is_received = 1", plate).
		Updates(map[string]interface{}{
			"is_received":    false,
			"reception_date": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		if err := models.RecordSyncEvent(ctx, tx, plate, "INTAKE_REVERTED", nil, nil, true); err != nil {
			return err
		}
	}

	res = tx.Model(&models.StockEntry{}).
		Where("plate = ? AND auto_marked_received = 1", plate).
		Updates(map[string]interface{}{
			"physical_reception_date": nil,
			"auto_marked_received":    false,
			"is_available":            false,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return models.RecordSyncEvent(ctx, tx, plate, "STOCK_RECEPTION_REVERTED", nil, nil, true)
	}
	return nil
}

// backdateManualCompletion covers the human path: photos marked done by hand
// for a vehicle the feed does not (yet) show real photos for. Reception is
// established from the task's own completion timestamp, before photography,
// never after.
func backdateManualCompletion(ctx context.Context, tx *gorm.DB, plate string) error {
	var task models.PhotoTask
	if err := tx.Where("plate = ?", plate).Take(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if !task.PhotosCompleted || task.AutoCompleted || task.CompletedAt == nil {
		return nil
	}
	return propagateReception(ctx, tx, plate, *task.CompletedAt, false)
}

// CompletePhotoTaskManually records a human-confirmed completion. Automation
// may only tighten state after this; it will never flip the task back.
func CompletePhotoTaskManually(ctx context.Context, db *gorm.DB, logger *logrus.Logger, plate string, completedAt time.Time) error {
	plate = utils.NormalizePlate(plate)

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task models.PhotoTask
		if err := tx.Where("plate = ?", plate).Take(&task).Error; err != nil {
			return err
		}
		if task.PhotosCompleted && !task.AutoCompleted {
			return nil
		}
		before := task
		if err := tx.Model(&models.PhotoTask{}).
			Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"photos_completed": true,
				"auto_completed":   false,
				"completed_at":     completedAt,
			}).Error; err != nil {
			return err
		}
		task.PhotosCompleted = true
		task.AutoCompleted = false
		task.CompletedAt = &completedAt
		return models.RecordSyncEvent(ctx, tx, plate, "PHOTOS_MANUALLY_COMPLETED", &before, &task, false)
	})
	if err != nil {
		config.LogError(logger, "reconciliation.go", "CompletePhotoTaskManually", "Marking photo task completed", plate, err)
		return err
	}

	return ReconcilePlate(ctx, db, logger, plate)
}

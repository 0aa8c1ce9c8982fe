package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/cvomotor/vehicles_backend/config"
	"bitbucket.org/cvomotor/vehicles_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxDispatcher drains pending sync_events rows to Pub/Sub after the
// transaction that wrote them committed. Publishing is at-least-once;
// consumers must dedupe on event id.
type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   time.Second,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *OutboxDispatcher) dispatchOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTimeout)
	db := d.DB
	if db == nil {
		return
	}

	var claimed []models.SyncEventRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and ready to retry
		// - PROCESSING but lock is stale (dispatcher crashed mid-batch), reclaim after LockTimeout
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []models.OutboxPublishStatus{
				models.OutboxPublishStatusPending,
				models.OutboxPublishStatusFailed,
			}, now, models.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		for i := range claimed {
			// Poison events go terminal rather than hot-looping against Pub/Sub.
			if d.MaxAttempts > 0 && claimed[i].PublishAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].PublishStatus = models.OutboxPublishStatusDead
				if err := tx.Model(&models.SyncEventRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":  models.OutboxPublishStatusDead,
					"publish_error":   &msg,
					"next_attempt_at": nil,
					"locked_at":       nil,
					"locked_by":       nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			// Claim for publishing.
			claimed[i].PublishStatus = models.OutboxPublishStatusProcessing
			claimed[i].PublishAttempts = claimed[i].PublishAttempts + 1
			if err := tx.Model(&models.SyncEventRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":   models.OutboxPublishStatusProcessing,
				"locked_at":        &now,
				"locked_by":        &d.DispatcherID,
				"publish_attempts": gorm.Expr("publish_attempts + 1"),
				"publish_error":    nil,
				"next_attempt_at":  nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		config.LogError(d.Logger, "outboxDispatcher.go", "dispatchOnce", "Claiming pending events", d.DispatcherID, err)
		return
	}
	if len(claimed) == 0 {
		return
	}

	for _, event := range claimed {
		// Rows moved to DEAD in the claim transaction are terminal.
		if event.PublishStatus == models.OutboxPublishStatusDead {
			continue
		}
		msg := config.SyncEventMessage{
			ID:            event.ID,
			Plate:         event.Plate,
			CheckName:     event.CheckName,
			BeforeState:   event.BeforeState,
			AfterState:    event.AfterState,
			Corrected:     event.Corrected,
			OccurredAt:    event.OccurredAt,
			CorrelationId: event.CorrelationId,
		}
		if err := config.PublishSyncEvent(msg); err != nil {
			d.markPublishFailed(ctx, event.ID, err, event.PublishAttempts)
			continue
		}
		d.markPublishSent(ctx, event.ID, now)
	}
}

func (d *OutboxDispatcher) markPublishSent(ctx context.Context, eventID int, now time.Time) {
	if err := d.DB.WithContext(ctx).Model(&models.SyncEventRecord{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"publish_status":  models.OutboxPublishStatusPublished,
			"publish_error":   nil,
			"published_at":    &now,
			"next_attempt_at": nil,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error; err != nil {
		config.LogError(d.Logger, "outboxDispatcher.go", "markPublishSent", "Marking event published", eventID, err)
	}
}

func (d *OutboxDispatcher) markPublishFailed(ctx context.Context, eventID int, pubErr error, attempt int) {
	db := d.DB.WithContext(ctx)
	now := time.Now().UTC()
	errMsg := pubErr.Error()

	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		_ = db.Model(&models.SyncEventRecord{}).
			Where("id = ?", eventID).
			Updates(map[string]interface{}{
				"publish_status":  models.OutboxPublishStatusDead,
				"publish_error":   &errMsg,
				"next_attempt_at": nil,
				"locked_at":       nil,
				"locked_by":       nil,
			}).Error
		d.Logger.WithFields(logrus.Fields{
			"field":    "OutboxDispatcher",
			"event_id": eventID,
			"attempt":  attempt,
		}).Error("outbox publish moved to DEAD after max attempts: " + errMsg)
		return
	}

	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > time.Minute*10 {
			backoff = time.Minute * 10
			break
		}
	}
	next := now.Add(backoff)
	_ = db.Model(&models.SyncEventRecord{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"publish_status":  models.OutboxPublishStatusFailed,
			"publish_error":   &errMsg,
			"next_attempt_at": &next,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error
	d.Logger.WithFields(logrus.Fields{
		"field":           "OutboxDispatcher",
		"event_id":        eventID,
		"attempt":         attempt,
		"next_attempt_at": next.Format(time.RFC3339Nano),
	}).Error("outbox publish failed: " + errMsg)
}

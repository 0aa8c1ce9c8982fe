package workflow_test

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/cvomotor/vehicles_backend/config"
	"bitbucket.org/cvomotor/vehicles_backend/models"
	"bitbucket.org/cvomotor/vehicles_backend/workflow"
	"github.com/sirupsen/logrus"
)

// Publishing is forced to fail fast by leaving every Pub/Sub project variable
// unset, so the test observes claim and retry bookkeeping only.
func TestOutboxDispatcherClaimsAndBackoff(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "cvomotor_test")
	t.Setenv("PUBSUB_PROJECT_ID", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCP_PROJECT", "")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	logger := logrus.New()

	event := models.SyncEventRecord{
		Plate:         "5000EEE",
		CheckName:     "STOCK_CREATED",
		OccurredAt:    time.Now().UTC(),
		PublishStatus: models.OutboxPublishStatusPending,
	}
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}

	newDispatcher := func() *workflow.OutboxDispatcher {
		d := workflow.NewOutboxDispatcher(db, logger)
		d.PollInterval = 100 * time.Millisecond
		d.InitialBackoff = time.Minute
		return d
	}

	// Two dispatchers polling the same table: the claim must hand the event to
	// exactly one of them, and the failed publish must park the row until its
	// next attempt instead of hot-looping every poll.
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		d := newDispatcher()
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Run(ctx)
		}()
	}
	wg.Wait()
	cancel()

	var row models.SyncEventRecord
	if err := db.Take(&row, event.ID).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if row.PublishStatus != models.OutboxPublishStatusFailed {
		t.Fatalf("status = %s, want FAILED", row.PublishStatus)
	}
	if row.PublishAttempts != 1 {
		t.Fatalf("publish_attempts = %d, want exactly 1 across both dispatchers", row.PublishAttempts)
	}
	if row.NextAttemptAt == nil || time.Until(*row.NextAttemptAt) < 30*time.Second {
		t.Fatalf("next_attempt_at = %v, want roughly one backoff in the future", row.NextAttemptAt)
	}
	if row.LockedAt != nil || row.LockedBy != nil {
		t.Fatalf("claim not released after failure: %+v", row)
	}

	// A row at the attempt ceiling goes terminal on its next claim and is
	// never selected again.
	past := time.Now().UTC().Add(-time.Hour)
	if err := db.Model(&models.SyncEventRecord{}).
		Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"publish_attempts": 20,
			"next_attempt_at":  &past,
		}).Error; err != nil {
		t.Fatalf("age event to the ceiling: %v", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	newDispatcher().Run(ctx)
	cancel()

	if err := db.Take(&row, event.ID).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if row.PublishStatus != models.OutboxPublishStatusDead {
		t.Fatalf("status = %s, want DEAD", row.PublishStatus)
	}
	if row.NextAttemptAt != nil {
		t.Fatalf("terminal row must not be rescheduled: %+v", row)
	}
	attempts := row.PublishAttempts

	ctx, cancel = context.WithTimeout(context.Background(), 500*time.Millisecond)
	newDispatcher().Run(ctx)
	cancel()

	if err := db.Take(&row, event.ID).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if row.PublishStatus != models.OutboxPublishStatusDead || row.PublishAttempts != attempts {
		t.Fatalf("dead row was picked up again: %+v", row)
	}
}

package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"bitbucket.org/cvomotor/vehicles_backend/config"
	"bitbucket.org/cvomotor/vehicles_backend/feedsync"
	"bitbucket.org/cvomotor/vehicles_backend/models"
	"bitbucket.org/cvomotor/vehicles_backend/utils"
	"bitbucket.org/cvomotor/vehicles_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func TestDeliveryStockRemovalAndDriftAudit(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "cvomotor_test")
	t.Setenv("FEED_ABSENCE_GRACE_HOURS", "1")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	logger := logrus.New()

	seed := func(plate string) {
		t.Helper()
		r := feedsync.IngestBatch(ctx, db, logger, []feedsync.RawVehicleRow{{
			Plate:        plate,
			Model:        "Astra",
			Brand:        "Opel",
			Availability: "Disponible",
			PhotoURLs:    withRealPhoto(),
		}})
		if r.Failed != 0 {
			t.Fatalf("seed %s failed: %+v", plate, r)
		}
	}

	// Delivery with a handover date removes the stock row entirely.
	seed("1000AAA")
	deliveryDate := time.Now().UTC()
	record, err := workflow.RecordDelivery(ctx, db, logger, workflow.NewDelivery{
		Plate:        "1000aaa",
		SaleDate:     deliveryDate.Add(-48 * time.Hour),
		DeliveryDate: &deliveryDate,
		Advisor:      "Ana",
	})
	if err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}
	if record.Source != models.DeliverySourceRecordedSale {
		t.Errorf("source = %s, want recorded-sale", record.Source)
	}
	var count int64
	if err := db.Model(&models.StockEntry{}).Where("plate = ?", "1000AAA").Count(&count).Error; err != nil {
		t.Fatalf("count stock: %v", err)
	}
	if count != 0 {
		t.Error("delivered vehicle must leave stock")
	}

	// The feed lags deliveries: re-ingesting the still-listed plate must not
	// resurrect the stock row.
	seed("1000AAA")
	if err := db.Model(&models.StockEntry{}).Where("plate = ?", "1000AAA").Count(&count).Error; err != nil {
		t.Fatalf("count stock: %v", err)
	}
	if count != 0 {
		t.Error("ingest resurrected a delivered vehicle into stock")
	}

	// Sale without a handover date keeps the row, flagged sold.
	seed("2000BBB")
	if _, err := workflow.RecordDelivery(ctx, db, logger, workflow.NewDelivery{
		Plate:    "2000BBB",
		SaleDate: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("RecordDelivery without date: %v", err)
	}
	var sold models.StockEntry
	if err := db.Where("plate = ?", "2000BBB").Take(&sold).Error; err != nil {
		t.Fatalf("reserved vehicle must stay in stock: %v", err)
	}
	if !sold.IsSold {
		t.Error("sale without handover must mark the row sold")
	}

	// Unknown plate is a client error, not a silent no-op.
	if _, err := workflow.RecordDelivery(ctx, db, logger, workflow.NewDelivery{
		Plate:    "9999ZZZ",
		SaleDate: time.Now().UTC(),
	}); !errors.Is(err, utils.ErrNotInStock) {
		t.Fatalf("err = %v, want ErrNotInStock", err)
	}

	// A stock row absent from the feed beyond the grace window, unsold and
	// without a sale record, is surfaced as a reclassification candidate. The
	// audit must only report it; the row stays.
	orphan := models.StockEntry{Plate: "3000CCC", Model: "Mokka"}
	if err := db.Create(&orphan).Error; err != nil {
		t.Fatalf("create orphan stock: %v", err)
	}
	aged := time.Now().UTC().Add(-2 * time.Hour)
	if err := db.Exec("UPDATE stock_entries SET created_at = ? WHERE id = ?", aged, orphan.ID).Error; err != nil {
		t.Fatalf("age orphan stock: %v", err)
	}

	summary, err := workflow.RunDriftAudit(ctx, db, logger, false)
	if err != nil {
		t.Fatalf("RunDriftAudit: %v", err)
	}
	if summary.ChecksFailedToComplete != 0 {
		t.Fatalf("%d checks failed to complete", summary.ChecksFailedToComplete)
	}
	found := false
	for _, p := range summary.ReclassifyCandidates {
		if p == "3000CCC" {
			found = true
		}
	}
	if !found {
		t.Fatalf("3000CCC not in reclassify candidates: %v", summary.ReclassifyCandidates)
	}
	if err := db.Where("plate = ?", "3000CCC").Take(&models.StockEntry{}).Error; err != nil {
		t.Fatalf("audit must not remove the candidate row: %v", err)
	}
	var report models.ReconciliationReport
	if err := db.Where("check_type = ? AND plate = ?", models.CheckTypeFeedAbsence, "3000CCC").
		Take(&report).Error; err != nil {
		t.Fatalf("feed absence report missing: %v", err)
	}
	if report.Corrected || !report.NeedsReview {
		t.Errorf("feed absence must be report-only and reviewed: %+v", report)
	}

	// Availability drift injected behind the trigger path's back is healed on
	// an ordinary (non-forced) run.
	if err := db.Exec("UPDATE stock_entries SET is_available = 0 WHERE plate = ?", "2000BBB").Error; err != nil {
		t.Fatalf("inject drift: %v", err)
	}
	if _, err := workflow.RunDriftAudit(ctx, db, logger, false); err != nil {
		t.Fatalf("second audit: %v", err)
	}
	var healed models.StockEntry
	if err := db.Where("plate = ?", "2000BBB").Take(&healed).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !healed.IsAvailable {
		t.Error("availability mirror drift not healed")
	}

	// Duplicate plates: a history-less extra row is report-only until forced.
	dup := models.StockEntry{Plate: "2000BBB", Model: "Astra"}
	if err := db.Create(&dup).Error; err != nil {
		t.Fatalf("create duplicate: %v", err)
	}
	if _, err := workflow.RunDriftAudit(ctx, db, logger, false); err != nil {
		t.Fatalf("audit with duplicate: %v", err)
	}
	if err := db.Model(&models.StockEntry{}).Where("plate = ?", "2000BBB").Count(&count).Error; err != nil {
		t.Fatalf("count duplicates: %v", err)
	}
	if count != 2 {
		t.Fatalf("non-forced audit must not delete duplicates, have %d rows", count)
	}
	if _, err := workflow.RunDriftAudit(ctx, db, logger, true); err != nil {
		t.Fatalf("forced audit: %v", err)
	}
	if err := db.Model(&models.StockEntry{}).Where("plate = ?", "2000BBB").Count(&count).Error; err != nil {
		t.Fatalf("count duplicates: %v", err)
	}
	if count != 1 {
		t.Fatalf("forced audit must delete the bare duplicate, have %d rows", count)
	}
	var survivor models.StockEntry
	if err := db.Where("plate = ?", "2000BBB").Take(&survivor).Error; err != nil {
		t.Fatalf("reload survivor: %v", err)
	}
	if !survivor.IsSold {
		t.Error("forced cleanup deleted the historied row instead of the bare one")
	}

	// Explicit reclassification converts the candidate, once.
	result := workflow.ReclassifyProfessionalSales(ctx, db, logger, []string{"3000ccc"})
	if result.Processed != 1 || result.Failed != 0 {
		t.Fatalf("reclassify: %+v", result)
	}
	workflow.ReclassifyProfessionalSales(ctx, db, logger, []string{"3000CCC"})
	var deliveries int64
	if err := db.Model(&models.DeliveryRecord{}).
		Where("plate = ? AND source = ?", "3000CCC", models.DeliverySourceInferredProfessional).
		Count(&deliveries).Error; err != nil {
		t.Fatalf("count deliveries: %v", err)
	}
	if deliveries != 1 {
		t.Errorf("reclassification ran twice: %d delivery rows", deliveries)
	}
	var reclassified models.StockEntry
	if err := db.Where("plate = ?", "3000CCC").Take(&reclassified).Error; err != nil {
		t.Fatalf("reload reclassified: %v", err)
	}
	if !reclassified.IsSold || reclassified.IsAvailable {
		t.Errorf("reclassified row must be sold and unavailable: %+v", reclassified)
	}

	// An active pool whose targets are all zero cannot take work either: the
	// sweep must surface the backlog the same way an empty pool does.
	if r := feedsync.IngestBatch(ctx, db, logger, []feedsync.RawVehicleRow{{
		Plate:        "4000DDD",
		Model:        "Grandland",
		Brand:        "Opel",
		Availability: "Disponible",
		PhotoURLs:    dummySlots(),
	}}); r.Failed != 0 {
		t.Fatalf("seed 4000DDD failed: %+v", r)
	}
	idle := models.Photographer{DisplayName: "Idle", TargetPercentage: decimal.Zero, IsActive: true}
	if err := db.Create(&idle).Error; err != nil {
		t.Fatalf("create idle photographer: %v", err)
	}
	assignments, err := workflow.AssignPendingTasks(ctx, db, logger)
	if err != nil {
		t.Fatalf("AssignPendingTasks: %v", err)
	}
	if assignments.Processed != 0 || assignments.Skipped == 0 {
		t.Fatalf("zero-target pool must skip the whole backlog: %+v", assignments.BatchResult)
	}
	var pending models.PhotoTask
	if err := db.Where("plate = ?", "4000DDD").Take(&pending).Error; err != nil {
		t.Fatalf("reload pending task: %v", err)
	}
	if pending.AssignedPhotographerId != nil {
		t.Fatal("task assigned despite a pool without capacity")
	}
	var emptyPoolReports int64
	if err := db.Model(&models.ReconciliationReport{}).
		Where("check_type = ?", models.CheckTypeAssignmentPoolEmpty).
		Count(&emptyPoolReports).Error; err != nil {
		t.Fatalf("count pool reports: %v", err)
	}
	if emptyPoolReports == 0 {
		t.Fatal("unusable pool left the unassigned backlog invisible")
	}
}

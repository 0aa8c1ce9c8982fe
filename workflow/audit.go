package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bitbucket.org/cvomotor/vehicles_backend/config"
	"bitbucket.org/cvomotor/vehicles_backend/models"
	"bitbucket.org/cvomotor/vehicles_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Health score weights: hard violations are data corruption, soft violations
// are staleness/backlog pressure.
var (
	hardViolationWeight = decimal.NewFromInt(3)
	softViolationWeight = decimal.NewFromInt(1)
)

type AuditSummary struct {
	utils.BatchResult
	HardViolations          int             `json:"hard_violations"`
	SoftViolations          int             `json:"soft_violations"`
	HealthScore             decimal.Decimal `json:"health_score"`
	ReclassifyCandidates    []string        `json:"reclassify_candidates"`
	CorrelationId           string          `json:"correlation_id"`
	Forced                  bool            `json:"forced"`
	StartedAt               time.Time       `json:"started_at"`
	FinishedAt              time.Time       `json:"finished_at"`
	ChecksCompleted         int             `json:"checks_completed"`
	ChecksFailedToComplete  int             `json:"checks_failed_to_complete"`
}

// RunDriftAudit recomputes expected ledger state from the feed and reports
// every divergence to reconciliation_reports. It is the safety net for the
// per-plate trigger cascade, which cannot be proven complete under
// uncontrolled write order.
//
// Reporting always happens; corrective writes depend on the check: the
// self-healing invariants of the trigger path (availability mirror, stale
// auto-completions) are corrected on any run, destructive or ambiguous fixes
// (duplicate deletion, missing-row creation) only in forced mode, and the
// professional-sale reclassification is never applied automatically.
//
// The sweep holds a run token so two audits never double-process, and it
// tolerates concurrent single-row writes: the guarantee is convergence across
// sweeps, not a point-in-time snapshot.
func RunDriftAudit(ctx context.Context, db *gorm.DB, logger *logrus.Logger, force bool) (*AuditSummary, error) {
	lock, err := utils.ObtainSweepLock(ctx, "drift-audit", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	defer utils.ReleaseLock(ctx, lock)

	cid, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || cid == "" {
		cid = uuid.NewString()
		ctx = utils.SetCorrelationIdInContext(ctx, cid)
	}

	summary := &AuditSummary{
		CorrelationId: cid,
		Forced:        force,
		StartedAt:     time.Now().UTC(),
	}

	checks := []struct {
		name string
		fn   func(context.Context, *gorm.DB, *logrus.Logger, *AuditSummary, bool) error
	}{
		{"availabilityMirror", checkAvailabilityMirror},
		{"staleAutoCompletes", checkStaleAutoCompletes},
		{"duplicatePlates", checkDuplicatePlates},
		{"missingLedgerRows", checkMissingLedgerRows},
		{"missingRequiredFields", checkMissingRequiredFields},
		{"feedAbsenceCandidates", checkFeedAbsenceCandidates},
	}
	for _, c := range checks {
		if err := ctx.Err(); err != nil {
			// Batch cancellation: stop at the next checkpoint, keep what was done.
			break
		}
		if err := c.fn(ctx, db, logger, summary, force); err != nil {
			config.LogError(logger, "audit.go", "RunDriftAudit", c.name, cid, err)
			summary.ChecksFailedToComplete++
			continue
		}
		summary.ChecksCompleted++
	}

	reportHealthScore(ctx, db, logger, summary)
	summary.FinishedAt = time.Now().UTC()

	logger.WithFields(logrus.Fields{
		"field":          "RunDriftAudit",
		"correlation_id": cid,
		"forced":         force,
		"processed":      summary.Processed,
		"skipped":        summary.Skipped,
		"failed":         summary.Failed,
		"hard":           summary.HardViolations,
		"soft":           summary.SoftViolations,
		"health_score":   summary.HealthScore.String(),
	}).Info("drift audit completed")
	return summary, nil
}

func writeReport(ctx context.Context, db *gorm.DB, checkType, plate, details string, corrected, needsReview bool) {
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	report := models.ReconciliationReport{
		CheckType:     checkType,
		Plate:         plate,
		Details:       details,
		Corrected:     corrected,
		NeedsReview:   needsReview,
		CorrelationId: cid,
	}
	if err := db.WithContext(ctx).Create(&report).Error; err != nil {
		config.LogError(config.GetLogger(), "audit.go", "writeReport", checkType, plate, err)
	}
}

// Every StockEntry.IsAvailable must match the feed availability flag.
// One-way: the feed wins; corrected on any run.
func checkAvailabilityMirror(ctx context.Context, db *gorm.DB, logger *logrus.Logger, summary *AuditSummary, force bool) error {
	type mismatch struct {
		Plate        string
		IsAvailable  bool
		Availability models.AvailabilityState
	}
	var rows []mismatch
	if err := db.WithContext(ctx).Raw(`
		SELECT s.plate, s.is_available, d.availability
		FROM stock_entries s
		JOIN duc_vehicles d ON d.plate = s.plate
		WHERE s.is_available <> IF(d.availability = 'available', 1, 0)
	`).Scan(&rows).Error; err != nil {
		return err
	}

	for _, m := range rows {
		expected := m.Availability == models.AvailabilityAvailable
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.StockEntry{}).
				Where("plate = ? AND is_available <> ?", m.Plate, expected).
				Update("is_available", expected)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			return models.RecordSyncEvent(ctx, tx, m.Plate, models.CheckTypeAvailabilityMirror,
				map[string]interface{}{"is_available": m.IsAvailable},
				map[string]interface{}{"is_available": expected}, true)
		})
		if err != nil {
			config.LogError(logger, "audit.go", "checkAvailabilityMirror", "Correcting availability", m.Plate, err)
			summary.Failed++
			continue
		}
		writeReport(ctx, db, models.CheckTypeAvailabilityMirror, m.Plate,
			fmt.Sprintf("is_available=%t but feed says %s", m.IsAvailable, m.Availability), true, false)
		summary.Processed++
		summary.SoftViolations++
	}
	return nil
}

// Auto-completed photo tasks whose feed row no longer shows real photos are
// reverted through the same cascade the trigger path uses (step 3 catch-up).
func checkStaleAutoCompletes(ctx context.Context, db *gorm.DB, logger *logrus.Logger, summary *AuditSummary, force bool) error {
	var plates []string
	if err := db.WithContext(ctx).Raw(`
		SELECT p.plate
		FROM photo_tasks p
		JOIN duc_vehicles d ON d.plate = p.plate
		WHERE p.photos_completed = 1
		  AND p.auto_completed = 1
		  AND p.paint_state <> 'sold'
		  AND d.has_real_photos = 0
	`).Scan(&plates).Error; err != nil {
		return err
	}

	for _, plate := range plates {
		if err := ReconcilePlate(ctx, db, logger, plate); err != nil {
			summary.Failed++
			continue
		}
		writeReport(ctx, db, models.CheckTypeStaleAutoComplete, plate,
			"auto-completed task without real photos in feed; reverted to pending", true, false)
		summary.Processed++
		summary.SoftViolations++
	}
	return nil
}

// No plate may appear twice in stock. A duplicate with no history (no
// reception, not sold, no delivery row pointing at it) is deleted in forced
// mode; anything else is ambiguous and queued for manual review, never
// guessed at.
func checkDuplicatePlates(ctx context.Context, db *gorm.DB, logger *logrus.Logger, summary *AuditSummary, force bool) error {
	var plates []string
	if err := db.WithContext(ctx).Raw(`
		SELECT plate FROM stock_entries GROUP BY plate HAVING COUNT(*) > 1
	`).Scan(&plates).Error; err != nil {
		return err
	}

	for _, plate := range plates {
		summary.HardViolations++

		var entries []models.StockEntry
		if err := db.WithContext(ctx).Where("plate = ?", plate).Order("id").Find(&entries).Error; err != nil {
			summary.Failed++
			continue
		}

		var bare []models.StockEntry
		for _, e := range entries {
			if e.PhysicalReceptionDate == nil && !e.IsSold {
				bare = append(bare, e)
			}
		}

		// Every row carries history, or none does: a human has to decide.
		if len(bare) == 0 || len(bare) == len(entries) {
			writeReport(ctx, db, models.CheckTypeDuplicatePlate, plate,
				fmt.Sprintf("%s: %d stock rows, cannot pick survivor mechanically", utils.ErrAmbiguousDuplicate, len(entries)),
				false, true)
			summary.Skipped++
			continue
		}

		if !force {
			writeReport(ctx, db, models.CheckTypeDuplicatePlate, plate,
				fmt.Sprintf("%d stock rows; %d history-less duplicates deletable in forced mode", len(entries), len(bare)),
				false, false)
			summary.Skipped++
			continue
		}

		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, e := range bare {
				if err := tx.Delete(&models.StockEntry{}, e.ID).Error; err != nil {
					return err
				}
			}
			return models.RecordSyncEvent(ctx, tx, plate, models.CheckTypeDuplicatePlate, bare, nil, true)
		})
		if err != nil {
			config.LogError(logger, "audit.go", "checkDuplicatePlates", "Deleting duplicates", plate, err)
			summary.Failed++
			continue
		}
		writeReport(ctx, db, models.CheckTypeDuplicatePlate, plate,
			fmt.Sprintf("deleted %d history-less duplicate rows", len(bare)), true, false)
		summary.Processed++
	}
	return nil
}

// Feed plates with no stock/photo/intake rows mean the trigger path missed an
// upsert. Forced mode replays the per-plate cascade; otherwise report only.
// Handed-over plates are excluded: the feed lags deliveries and their missing
// stock row is correct.
func checkMissingLedgerRows(ctx context.Context, db *gorm.DB, logger *logrus.Logger, summary *AuditSummary, force bool) error {
	var plates []string
	if err := db.WithContext(ctx).Raw(`
		SELECT d.plate
		FROM duc_vehicles d
		LEFT JOIN stock_entries s ON s.plate = d.plate
		LEFT JOIN photo_tasks p ON p.plate = d.plate
		LEFT JOIN intake_records i ON i.plate = d.plate
		WHERE (s.id IS NULL OR p.id IS NULL OR i.id IS NULL)
		  AND NOT EXISTS (
			SELECT 1 FROM delivery_records r
			WHERE r.plate = d.plate AND r.delivery_date IS NOT NULL
		  )
	`).Scan(&plates).Error; err != nil {
		return err
	}

	for _, plate := range plates {
		summary.SoftViolations++
		if !force {
			writeReport(ctx, db, models.CheckTypeMissingLedgerRow, plate,
				"feed plate missing one or more ledger rows", false, false)
			summary.Skipped++
			continue
		}
		if err := ReconcilePlate(ctx, db, logger, plate); err != nil {
			summary.Failed++
			continue
		}
		writeReport(ctx, db, models.CheckTypeMissingLedgerRow, plate,
			"feed plate missing ledger rows; cascade replayed", true, false)
		summary.Processed++
	}
	return nil
}

func checkMissingRequiredFields(ctx context.Context, db *gorm.DB, logger *logrus.Logger, summary *AuditSummary, force bool) error {
	type bad struct {
		ID    int
		Plate string
		Model string
	}
	var rows []bad
	if err := db.WithContext(ctx).Raw(`
		SELECT id, plate, model FROM stock_entries
		WHERE TRIM(plate) = '' OR TRIM(model) = ''
	`).Scan(&rows).Error; err != nil {
		return err
	}

	for _, r := range rows {
		if r.Plate == "" {
			summary.HardViolations++
			writeReport(ctx, db, models.CheckTypeMissingRequiredFields, r.Plate,
				fmt.Sprintf("stock row id=%d has empty plate", r.ID), false, true)
		} else {
			summary.SoftViolations++
			writeReport(ctx, db, models.CheckTypeMissingRequiredFields, r.Plate,
				fmt.Sprintf("stock row id=%d has empty model", r.ID), false, false)
		}
		summary.Skipped++
	}
	return nil
}

// Unsold stock missing from the feed past the grace window, with no sale
// record, is a professional-sale candidate. Surfaced for the explicit
// reclassification action; the decision has business consequences and is
// never taken automatically.
func checkFeedAbsenceCandidates(ctx context.Context, db *gorm.DB, logger *logrus.Logger, summary *AuditSummary, force bool) error {
	cutoff := time.Now().UTC().Add(-config.FeedAbsenceGraceWindow())

	var plates []string
	if err := db.WithContext(ctx).Raw(`
		SELECT s.plate
		FROM stock_entries s
		LEFT JOIN duc_vehicles d ON d.plate = s.plate
		LEFT JOIN delivery_records r ON r.plate = s.plate
		WHERE s.is_sold = 0
		  AND r.id IS NULL
		  AND (d.id IS NULL AND s.created_at < ? OR d.last_seen_at < ?)
	`, cutoff, cutoff).Scan(&plates).Error; err != nil {
		return err
	}

	for _, plate := range plates {
		summary.SoftViolations++
		summary.ReclassifyCandidates = append(summary.ReclassifyCandidates, plate)
		writeReport(ctx, db, models.CheckTypeFeedAbsence, plate,
			fmt.Sprintf("unsold, absent from feed beyond %s, no sale record; candidate for professional-sale reclassification",
				config.FeedAbsenceGraceWindow()), false, true)
		summary.Skipped++
	}
	return nil
}

func reportHealthScore(ctx context.Context, db *gorm.DB, logger *logrus.Logger, summary *AuditSummary) {
	// Staleness of the feed itself counts as one extra soft violation.
	var lastSeen sql.NullTime
	_ = db.WithContext(ctx).Raw(`SELECT MAX(last_seen_at) FROM duc_vehicles`).Scan(&lastSeen).Error
	soft := summary.SoftViolations
	if !lastSeen.Valid || time.Since(lastSeen.Time) > config.FeedAbsenceWarnWindow() {
		soft++
	}

	summary.HealthScore = hardViolationWeight.Mul(decimal.NewFromInt(int64(summary.HardViolations))).
		Add(softViolationWeight.Mul(decimal.NewFromInt(int64(soft))))

	writeReport(ctx, db, models.CheckTypeHealthScore, "",
		fmt.Sprintf("hard=%d soft=%d score=%s", summary.HardViolations, soft, summary.HealthScore.String()),
		false, false)
}

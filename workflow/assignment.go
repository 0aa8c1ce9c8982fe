package workflow

import (
	"context"
	"errors"
	"sort"
	"time"

	"bitbucket.org/cvomotor/vehicles_backend/config"
	"bitbucket.org/cvomotor/vehicles_backend/models"
	"bitbucket.org/cvomotor/vehicles_backend/utils"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// PhotographerShare is the balancer's view of one active pool member.
type PhotographerShare struct {
	ID               int
	TargetPercentage decimal.Decimal
	AssignedCount    int
}

// NormalizeShares scales target percentages so they sum to 100. Misconfigured
// pools (sum != 100) are normalized proportionally rather than rejected; the
// second return reports the anomaly so callers can log it.
func NormalizeShares(pool []PhotographerShare) ([]PhotographerShare, bool) {
	sum := decimal.Zero
	for _, p := range pool {
		sum = sum.Add(p.TargetPercentage)
	}
	if sum.Equal(hundred) || sum.IsZero() {
		return pool, false
	}
	out := make([]PhotographerShare, len(pool))
	for i, p := range pool {
		out[i] = p
		out[i].TargetPercentage = p.TargetPercentage.Mul(hundred).DivRound(sum, 4)
	}
	return out, true
}

// poolHasCapacity reports whether any member can actually receive work. A
// pool whose targets are all zero is as unusable as an empty one.
func poolHasCapacity(pool []PhotographerShare) bool {
	for _, p := range pool {
		if p.TargetPercentage.IsPositive() {
			return true
		}
	}
	return false
}

// pickAssignee chooses the photographer with the largest deficit between
// target share and actual share of assigned work. Members with a zero target
// hold no share and are never picked. Ties break by lowest assigned count,
// then lowest id, so the outcome is deterministic.
func pickAssignee(pool []PhotographerShare) (int, error) {
	total := 0
	for _, p := range pool {
		total += p.AssignedCount
	}

	best := -1
	var bestDeficit decimal.Decimal
	for i, p := range pool {
		if !p.TargetPercentage.IsPositive() {
			continue
		}
		deficit := p.TargetPercentage
		if total > 0 {
			actual := decimal.NewFromInt(int64(p.AssignedCount)).Mul(hundred).DivRound(decimal.NewFromInt(int64(total)), 8)
			deficit = p.TargetPercentage.Sub(actual)
		}
		if best < 0 {
			best, bestDeficit = i, deficit
			continue
		}
		switch deficit.Cmp(bestDeficit) {
		case 1:
			best, bestDeficit = i, deficit
		case 0:
			if p.AssignedCount < pool[best].AssignedCount ||
				(p.AssignedCount == pool[best].AssignedCount && p.ID < pool[best].ID) {
				best, bestDeficit = i, deficit
			}
		}
	}
	if best < 0 {
		return 0, utils.ErrAssignmentPoolEmpty
	}
	return pool[best].ID, nil
}

type AssignmentSummary struct {
	utils.BatchResult
	PerPhotographer map[int]int `json:"per_photographer"`
}

// AssignPendingTasks distributes every unassigned, uncompleted photo task
// across the active pool so each photographer's share of assigned+completed
// work converges to their configured target percentage. Counters are
// persisted with the pool, so fairness tracking survives restarts; a pool
// reconfiguration only influences assignments made after it.
func AssignPendingTasks(ctx context.Context, db *gorm.DB, logger *logrus.Logger) (*AssignmentSummary, error) {
	summary := &AssignmentSummary{PerPhotographer: map[int]int{}}

	var photographers []models.Photographer
	if err := db.WithContext(ctx).
		Where("is_active = 1").
		Order("id").
		Find(&photographers).Error; err != nil {
		return nil, err
	}

	var tasks []models.PhotoTask
	if err := db.WithContext(ctx).
		Where("assigned_photographer_id IS NULL AND photos_completed = 0 AND paint_state <> 'sold'").
		Order("id").
		Find(&tasks).Error; err != nil {
		return nil, err
	}

	pool := make([]PhotographerShare, 0, len(photographers))
	for _, p := range photographers {
		pool = append(pool, PhotographerShare{
			ID:               p.ID,
			TargetPercentage: p.TargetPercentage,
			AssignedCount:    p.AssignedCount,
		})
	}

	if !poolHasCapacity(pool) {
		// Tasks stay unassigned and visible; an unusable pool (empty, or
		// active members all at zero target) must never abort or silently
		// drop the backlog.
		summary.Skipped = len(tasks)
		if len(tasks) > 0 {
			report := models.ReconciliationReport{
				CheckType:   models.CheckTypeAssignmentPoolEmpty,
				Details:     "no active photographers with a positive target; pending photo tasks remain unassigned",
				NeedsReview: true,
			}
			if err := db.WithContext(ctx).Create(&report).Error; err != nil {
				config.LogError(logger, "assignment.go", "AssignPendingTasks", "Reporting unusable pool", len(tasks), err)
			}
			logger.WithFields(logrus.Fields{
				"field":           "AssignPendingTasks",
				"unassigned":      len(tasks),
				"assignment_pool": len(pool),
			}).Warn(utils.ErrAssignmentPoolEmpty.Error())
		}
		return summary, nil
	}

	pool, anomalous := NormalizeShares(pool)
	if anomalous {
		logger.WithFields(logrus.Fields{
			"field": "AssignPendingTasks",
			"pool":  len(pool),
		}).Warn("photographer target percentages do not sum to 100; normalized proportionally")
	}

	for _, task := range tasks {
		assigneeID, err := pickAssignee(pool)
		if err != nil {
			summary.Skipped++
			continue
		}

		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.PhotoTask{}).
				Where("id = ? AND assigned_photographer_id IS NULL", task.ID).
				Update("assigned_photographer_id", assigneeID)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// Claimed concurrently mid-sweep; convergence, not
				// point-in-time consistency.
				return nil
			}
			if err := tx.Model(&models.Photographer{}).
				Where("id = ?", assigneeID).
				Update("assigned_count", gorm.Expr("assigned_count + 1")).Error; err != nil {
				return err
			}
			return models.RecordSyncEvent(ctx, tx, task.Plate, "PHOTO_TASK_ASSIGNED", nil,
				map[string]interface{}{"photographer_id": assigneeID}, true)
		})
		if err != nil {
			config.LogError(logger, "assignment.go", "AssignPendingTasks", "Assigning task", task.Plate, err)
			summary.Failed++
			continue
		}

		for i := range pool {
			if pool[i].ID == assigneeID {
				pool[i].AssignedCount++
			}
		}
		summary.Processed++
		summary.PerPhotographer[assigneeID]++
	}

	logger.WithFields(logrus.Fields{
		"field":     "AssignPendingTasks",
		"processed": summary.Processed,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
	}).Info("photo assignment sweep finished")
	return summary, nil
}

type PhotographerConfigInput struct {
	ID               *int            `json:"id"`
	DisplayName      string          `json:"display_name" validate:"required,max=100"`
	TargetPercentage decimal.Decimal `json:"target_percentage"`
	IsActive         bool            `json:"is_active"`
}

var validate = validator.New()

// ConfigurePhotographers replaces the pool configuration. Assigned counters
// are preserved so the fairness history is not reset by a reconfiguration;
// only future assignments see the new shares.
func ConfigurePhotographers(ctx context.Context, db *gorm.DB, logger *logrus.Logger, inputs []PhotographerConfigInput) error {
	if len(inputs) == 0 {
		return errors.New("at least one photographer is required")
	}
	for _, in := range inputs {
		if err := validate.Struct(in); err != nil {
			return err
		}
		if in.TargetPercentage.IsNegative() || in.TargetPercentage.GreaterThan(hundred) {
			return errors.New("target percentage must be between 0 and 100")
		}
	}

	sum := decimal.Zero
	for _, in := range inputs {
		sum = sum.Add(in.TargetPercentage)
	}
	if !sum.Equal(hundred) {
		logger.WithFields(logrus.Fields{
			"field": "ConfigurePhotographers",
			"sum":   sum.String(),
		}).Warn("target percentages do not sum to 100; balancer will normalize proportionally")
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, in := range inputs {
			if in.ID != nil {
				res := tx.Model(&models.Photographer{}).
					Where("id = ?", *in.ID).
					Updates(map[string]interface{}{
						"display_name":      in.DisplayName,
						"target_percentage": in.TargetPercentage,
						"is_active":         in.IsActive,
						"config_version":    gorm.Expr("config_version + 1"),
						"updated_at":        time.Now().UTC(),
					})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected > 0 {
					continue
				}
			}
			p := models.Photographer{
				DisplayName:      in.DisplayName,
				TargetPercentage: in.TargetPercentage,
				IsActive:         in.IsActive,
			}
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// PoolSnapshot reports current shares for the operator UI, sorted by id.
func PoolSnapshot(ctx context.Context, db *gorm.DB) ([]PhotographerShare, error) {
	var photographers []models.Photographer
	if err := db.WithContext(ctx).Where("is_active = 1").Find(&photographers).Error; err != nil {
		return nil, err
	}
	pool := make([]PhotographerShare, 0, len(photographers))
	for _, p := range photographers {
		pool = append(pool, PhotographerShare{ID: p.ID, TargetPercentage: p.TargetPercentage, AssignedCount: p.AssignedCount})
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
	return pool, nil
}

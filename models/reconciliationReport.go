package models

import "time"

// Drift auditor output (nightly/admin-triggered). One row per detected
// divergence; Corrected records whether this run also fixed it.
type ReconciliationReport struct {
	ID            int       `gorm:"primary_key" json:"id"`
	CheckType     string    `gorm:"size:50;index;not null" json:"check_type"` // e.g. STOCK_AVAILABILITY, DUPLICATE_PLATE
	Plate         string    `gorm:"size:16;index" json:"plate"`
	Details       string    `gorm:"type:text" json:"details"` // human-readable mismatch detail
	Corrected     bool      `gorm:"not null;default:false" json:"corrected"`
	NeedsReview   bool      `gorm:"not null;default:false;index" json:"needs_review"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

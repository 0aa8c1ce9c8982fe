package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Photographer is one member of the assignment pool.
//
// AssignedCount is the persisted fairness counter (assigned + completed work
// credited to this photographer). It survives restarts on purpose: resetting
// it would silently re-skew the workload split.
type Photographer struct {
	ID               int             `gorm:"primary_key" json:"id"`
	DisplayName      string          `gorm:"size:100;not null" json:"display_name"`
	TargetPercentage decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0" json:"target_percentage"`
	IsActive         bool            `gorm:"not null;default:true;index" json:"is_active"`
	AssignedCount    int             `gorm:"not null;default:0" json:"assigned_count"`

	// ConfigVersion bumps on every pool reconfiguration. Deficits are always
	// computed against the current configuration; already-assigned work is
	// never rebalanced automatically.
	ConfigVersion int `gorm:"not null;default:1" json:"config_version"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Photographer) TableName() string { return "photographers" }

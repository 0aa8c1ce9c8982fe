package models

import (
	"time"

	"gorm.io/gorm"
)

// IntakeRecord is the reception ledger. Reception mirrors photo readiness: a
// vehicle counts as physically received once the feed shows real photos for
// it, dated to first photo appearance rather than ingestion time.
type IntakeRecord struct {
	ID    int    `gorm:"primary_key" json:"id"`
	Plate string `gorm:"size:16;uniqueIndex;not null" json:"plate"`
	Model string `gorm:"size:200" json:"model"`

	IsReceived    bool       `gorm:"not null;default:false;index" json:"is_received"`
	ReceptionDate *time.Time `json:"reception_date"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (IntakeRecord) TableName() string { return "intake_records" }

func (r *IntakeRecord) BeforeSave(tx *gorm.DB) error {
	_ = tx
	if r == nil {
		return nil
	}
	r.Plate = canonicalPlate(r.Plate)
	return nil
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// PhotoTask is the photography-workflow ledger row for one vehicle.
//
// Completion provenance matters: AutoCompleted=true means the engine inferred
// completion from real photos in the feed and may revert it if that
// precondition stops holding. AutoCompleted=false means a human confirmed the
// work and automation must never loosen it.
type PhotoTask struct {
	ID    int    `gorm:"primary_key" json:"id"`
	Plate string `gorm:"size:16;uniqueIndex;not null" json:"plate"`
	Model string `gorm:"size:200" json:"model"`

	PhotosCompleted bool       `gorm:"not null;default:false;index" json:"photos_completed"`
	AutoCompleted   bool       `gorm:"not null;default:false" json:"auto_completed"`
	CompletedAt     *time.Time `json:"completed_at"`

	PaintState PaintState `gorm:"type:enum('pending','fit','unfit','sold');default:'pending'" json:"paint_state"`

	AssignedPhotographerId *int `gorm:"index" json:"assigned_photographer_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PhotoTask) TableName() string { return "photo_tasks" }

func (p *PhotoTask) BeforeSave(tx *gorm.DB) error {
	_ = tx
	if p == nil {
		return nil
	}
	p.Plate = canonicalPlate(p.Plate)
	return nil
}

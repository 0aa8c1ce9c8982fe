package models

import (
	"time"

	"gorm.io/gorm"
)

// StockEntry is the physical-stock ledger. A row exists iff the plate is
// currently advertised in the feed OR carries an open (undelivered) sale.
// Delivered vehicles are removed, not flagged.
type StockEntry struct {
	ID    int    `gorm:"primary_key" json:"id"`
	Plate string `gorm:"size:16;index;not null" json:"plate"`
	Model string `gorm:"size:200" json:"model"`

	IsSold      bool `gorm:"not null;default:false;index" json:"is_sold"`
	IsAvailable bool `gorm:"not null;default:true" json:"is_available"`

	PhysicalReceptionDate *time.Time `json:"physical_reception_date"`
	// AutoMarkedReceived distinguishes engine-inferred reception from a human
	// marking. Only automatic rows may ever be reverted by automation.
	AutoMarkedReceived bool `gorm:"not null;default:false" json:"auto_marked_received"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (StockEntry) TableName() string { return "stock_entries" }

// BeforeSave keeps the plate canonical no matter which write path produced the
// row. Duplicate detection in the drift auditor depends on this.
func (s *StockEntry) BeforeSave(tx *gorm.DB) error {
	_ = tx
	if s == nil {
		return nil
	}
	s.Plate = canonicalPlate(s.Plate)
	return nil
}

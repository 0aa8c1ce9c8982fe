package models

import (
	"time"

	"gorm.io/gorm"
)

// DeliveryRecord is the handover ledger. A null DeliveryDate means sold but
// not yet handed over; setting a non-null DeliveryDate is the single event
// that removes the vehicle from stock.
type DeliveryRecord struct {
	ID    int    `gorm:"primary_key" json:"id"`
	Plate string `gorm:"size:16;index;not null" json:"plate"`
	Model string `gorm:"size:200" json:"model"`

	SaleDate     time.Time  `gorm:"not null" json:"sale_date"`
	DeliveryDate *time.Time `gorm:"index" json:"delivery_date"`
	Advisor      string     `gorm:"size:100" json:"advisor"`

	Source DeliverySource `gorm:"type:enum('recorded-sale','inferred-professional-sale');default:'recorded-sale';index" json:"source"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DeliveryRecord) TableName() string { return "delivery_records" }

func (d *DeliveryRecord) BeforeSave(tx *gorm.DB) error {
	_ = tx
	if d == nil {
		return nil
	}
	d.Plate = canonicalPlate(d.Plate)
	return nil
}

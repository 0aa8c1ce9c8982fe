package models

import (
	"encoding/json"
	"time"
)

// FeedVehicle mirrors one advertised vehicle from the external scraper feed.
// Only the feed ingestion process writes this table; the reconciliation engine
// and the drift auditor treat it as the source of truth for marketing state.
type FeedVehicle struct {
	ID            int               `gorm:"primary_key" json:"id"`
	Plate         string            `gorm:"size:16;uniqueIndex;not null" json:"plate"`
	Model         string            `gorm:"size:200" json:"model"`
	Brand         string            `gorm:"size:100" json:"brand"`
	Availability  AvailabilityState `gorm:"type:enum('available','reserved','unavailable');default:available" json:"availability"`
	PhotoURLsJSON []byte            `gorm:"type:json" json:"photo_urls_json"`
	HasRealPhotos bool              `gorm:"not null;default:false;index" json:"has_real_photos"`
	LastSeenAt    time.Time         `gorm:"index;not null" json:"last_seen_at"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FeedVehicle) TableName() string { return "duc_vehicles" }

func (v *FeedVehicle) PhotoURLs() []string {
	if len(v.PhotoURLsJSON) == 0 {
		return nil
	}
	var urls []string
	if err := json.Unmarshal(v.PhotoURLsJSON, &urls); err != nil {
		return nil
	}
	return urls
}

func (v *FeedVehicle) SetPhotoURLs(urls []string) error {
	b, err := json.Marshal(urls)
	if err != nil {
		return err
	}
	v.PhotoURLsJSON = b
	return nil
}

package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FeedFirstSeen is the consolidated backdating anchor. Reception and photo
// completion are dated to the historical moment the feed first showed the
// vehicle (or first showed real photos for it), never to the moment a
// reconciliation pass happened to run. All steps consult this table through
// BackdateAnchor so the rule lives in exactly one place.
type FeedFirstSeen struct {
	ID            int        `gorm:"primary_key" json:"id"`
	Plate         string     `gorm:"size:16;uniqueIndex;not null" json:"plate"`
	FirstSeenAt   time.Time  `gorm:"not null" json:"first_seen_at"`
	FirstPhotosAt *time.Time `json:"first_photos_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FeedFirstSeen) TableName() string { return "duc_first_seen" }

// TouchFirstSeen records first appearance and, when hasRealPhotos, the first
// moment real photos were observed. Idempotent: existing anchors are never
// moved forward, only the missing FirstPhotosAt may be filled in.
func TouchFirstSeen(tx *gorm.DB, plate string, hasRealPhotos bool, observedAt time.Time) error {
	row := FeedFirstSeen{Plate: plate, FirstSeenAt: observedAt}
	if hasRealPhotos {
		row.FirstPhotosAt = &observedAt
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "plate"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return err
	}
	if !hasRealPhotos {
		return nil
	}
	// Fill FirstPhotosAt only if the existing anchor does not have one yet.
	return tx.Model(&FeedFirstSeen{}).
		Where("plate = ? AND first_photos_at IS NULL", plate).
		Update("first_photos_at", observedAt).Error
}

// BackdateAnchor returns the timestamp reconciliation steps must use for a
// plate: first-photos time when known, first-seen time otherwise, observation
// fallback when the feed never carried the plate at all.
func BackdateAnchor(tx *gorm.DB, plate string, fallback time.Time) time.Time {
	var row FeedFirstSeen
	if err := tx.Where("plate = ?", plate).Take(&row).Error; err != nil {
		return fallback
	}
	if row.FirstPhotosAt != nil {
		return *row.FirstPhotosAt
	}
	return row.FirstSeenAt
}

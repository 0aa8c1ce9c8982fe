package models

import "time"

// SyncEventRecord is one structured observability event (plate, check name,
// before-state, after-state, corrected). Rows are written transactionally with
// the ledger change they describe and drained to Pub/Sub by the dispatcher.
type SyncEventRecord struct {
	ID              int                 `gorm:"primary_key" json:"id"`
	Plate           string              `gorm:"size:16;index;not null" json:"plate"`
	CheckName       string              `gorm:"size:50;index;not null" json:"check_name"`
	BeforeState     []byte              `gorm:"type:json" json:"before_state"`
	AfterState      []byte              `gorm:"type:json" json:"after_state"`
	Corrected       bool                `gorm:"not null;default:false" json:"corrected"`
	OccurredAt      time.Time           `gorm:"not null;index" json:"occurred_at"`
	PublishStatus   OutboxPublishStatus `gorm:"type:enum('PENDING','PROCESSING','PUBLISHED','FAILED','DEAD');default:'PENDING';index" json:"publish_status"`
	PublishAttempts int                 `gorm:"not null;default:0" json:"publish_attempts"`
	PublishError    *string             `gorm:"type:text" json:"publish_error"`
	PublishedAt     *time.Time          `json:"published_at"`
	NextAttemptAt   *time.Time          `gorm:"index" json:"next_attempt_at"`
	LockedAt        *time.Time          `json:"locked_at"`
	LockedBy        *string             `gorm:"size:64" json:"locked_by"`
	CorrelationId   string              `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

func (SyncEventRecord) TableName() string { return "sync_events" }

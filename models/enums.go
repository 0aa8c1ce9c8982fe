package models

import "strings"

type AvailabilityState string

const (
	AvailabilityAvailable   AvailabilityState = "available"
	AvailabilityReserved    AvailabilityState = "reserved"
	AvailabilityUnavailable AvailabilityState = "unavailable"
)

// ParseAvailability maps raw feed availability text onto the enum. Unknown
// values degrade to unavailable rather than failing the row.
func ParseAvailability(raw string) AvailabilityState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "available", "disponible":
		return AvailabilityAvailable
	case "reserved", "reservado":
		return AvailabilityReserved
	default:
		return AvailabilityUnavailable
	}
}

type PaintState string

const (
	PaintStatePending PaintState = "pending"
	PaintStateFit     PaintState = "fit"
	PaintStateUnfit   PaintState = "unfit"
	PaintStateSold    PaintState = "sold"
)

type DeliverySource string

const (
	// DeliverySourceRecordedSale comes from the human-entered sales ledger.
	DeliverySourceRecordedSale DeliverySource = "recorded-sale"
	// DeliverySourceInferredProfessional is the human-confirmed classification
	// for vehicles that left the feed without a recorded sale.
	DeliverySourceInferredProfessional DeliverySource = "inferred-professional-sale"
)

type OutboxPublishStatus string

const (
	OutboxPublishStatusPending    OutboxPublishStatus = "PENDING"
	OutboxPublishStatusProcessing OutboxPublishStatus = "PROCESSING"
	OutboxPublishStatusPublished  OutboxPublishStatus = "PUBLISHED"
	OutboxPublishStatusFailed     OutboxPublishStatus = "FAILED"
	OutboxPublishStatusDead       OutboxPublishStatus = "DEAD"
)

// Check types written to reconciliation_reports by the drift auditor and the
// reconciliation engine.
const (
	CheckTypeAvailabilityMirror    = "STOCK_AVAILABILITY"
	CheckTypeDuplicatePlate        = "DUPLICATE_PLATE"
	CheckTypeFeedAbsence           = "FEED_ABSENCE_CANDIDATE"
	CheckTypeStaleAutoComplete     = "STALE_AUTO_COMPLETE"
	CheckTypeMissingLedgerRow      = "MISSING_LEDGER_ROW"
	CheckTypeMissingRequiredFields = "MISSING_REQUIRED_FIELDS"
	CheckTypeHealthScore           = "HEALTH_SCORE"
	CheckTypeAssignmentPoolEmpty   = "ASSIGNMENT_POOL_EMPTY"
)

package audit

import (
	id "pharmatrace/pkg/domain"
)

// Event is the structured record emitted once per successful mutating
// operation. Keep it transport-agnostic so stores and sinks can fan out.
//
// Clock is the logical clock value the operation executed at; Actor is
// the authenticated caller. Subject carries the principal or entity the
// operation acted on when that differs from the actor.
type Event struct {
	Action    string
	Actor     id.Principal
	Subject   string
	BatchID   id.TokenID // zero when the event is not batch-scoped
	Clock     uint64
	Decision  string
	Reason    string
	RequestID string
	// Extra holds operation-specific fields named per operation
	// (rule pair, severity, compliance score, ...).
	Extra map[string]string
}

// Action names. One per mutating operation across the four surfaces.
const (
	// Role registry
	EventRegulatorAdded         = "regulator_added"
	EventRegulatorRemoved       = "regulator_removed"
	EventManufacturerRegistered = "manufacturer_registered"
	EventManufacturerApproved   = "manufacturer_approved"
	EventManufacturerRevoked    = "manufacturer_revoked"
	EventEntityRegistered       = "entity_registered"
	EventEntityApproved         = "entity_approved"
	EventEntityRevoked          = "entity_revoked"

	// Batch registry
	EventBatchMinted      = "batch_minted"
	EventBatchTransferred = "batch_transferred"
	EventBatchDeactivated = "batch_deactivated"

	// Transfer & compliance engine
	EventTransferRuleSet    = "transfer_rule_set"
	EventTransferInitiated  = "transfer_initiated"
	EventTransferAuthorized = "transfer_authorized"
	EventTransferRejected   = "transfer_rejected"
	EventBatchFrozen        = "batch_frozen"
	EventBatchUnfrozen      = "batch_unfrozen"

	// Oversight engine
	EventInvestigationOpened       = "investigation_opened"
	EventInvestigationClosed       = "investigation_closed"
	EventInvestigationDismissed    = "investigation_dismissed"
	EventAlertCreated              = "alert_created"
	EventAlertAcknowledged         = "alert_acknowledged"
	EventBatchQuarantined          = "batch_quarantined"
	EventQuarantineReleased        = "quarantine_released"
	EventAuditReportCreated        = "audit_report_created"
	EventSuspiciousActivityFlagged = "suspicious_activity_flagged"
	EventBatchVerified             = "batch_verified"
)

package models

import (
	"github.com/google/uuid"

	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
)

// Capacity limits for bounded lists carried by oversight aggregates.
const (
	MaxAffectedEntities = 10
	MaxReviewedBatches  = 50
	MaxReviewedEntities = 20
)

// Severity grades investigations and alerts, 1 (low) to 4 (critical).
type Severity int

const (
	SeverityLow      Severity = 1
	SeverityMedium   Severity = 2
	SeverityHigh     Severity = 3
	SeverityCritical Severity = 4
)

func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

// InvestigationStatus is the case lifecycle state.
//
// Pending is a declared, legal state no operation currently produces:
// investigations open Active. It stays in the model until a triage
// workflow gives it a producer.
type InvestigationStatus string

const (
	InvestigationPending   InvestigationStatus = "pending"
	InvestigationActive    InvestigationStatus = "active"
	InvestigationResolved  InvestigationStatus = "resolved"
	InvestigationDismissed InvestigationStatus = "dismissed"
)

// Investigation is a regulator-opened case on a batch.
type Investigation struct {
	ID               id.InvestigationID
	BatchID          id.TokenID
	Investigator     id.Principal
	Status           InvestigationStatus
	Severity         Severity
	Title            string
	Description      string
	OpenedAt         uint64
	ClosedAt         uint64
	Resolution       string
	EvidenceHash     string
	AffectedEntities []id.Principal
}

// CanClose checks the active -> terminal transition.
func (i *Investigation) CanClose() error {
	if i.Status != InvestigationActive {
		return dErrors.New(dErrors.CodeInvalidState, "investigation is not active")
	}
	return nil
}

// ApplyResolution closes the case as resolved. Terminal.
func (i *Investigation) ApplyResolution(resolution, evidenceHash string, now uint64) {
	i.Status = InvestigationResolved
	i.Resolution = resolution
	i.EvidenceHash = evidenceHash
	i.ClosedAt = now
}

// ApplyDismissal closes the case as dismissed. Terminal.
func (i *Investigation) ApplyDismissal(reason string, now uint64) {
	i.Status = InvestigationDismissed
	i.Resolution = reason
	i.ClosedAt = now
}

// Alert is a one-way unacknowledged -> acknowledged notification.
type Alert struct {
	ID             id.AlertID
	Type           string
	Severity       Severity
	BatchID        id.TokenID   // zero when not batch-scoped
	Entity         id.Principal // zero when not entity-scoped
	Message        string
	CreatedBy      id.Principal
	CreatedAt      uint64
	Acknowledged   bool
	AcknowledgedBy id.Principal
	AcknowledgedAt uint64
}

// CanAcknowledge guards the one-way transition.
func (a *Alert) CanAcknowledge() error {
	if a.Acknowledged {
		return dErrors.New(dErrors.CodeAlreadyExists, "alert is already acknowledged")
	}
	return nil
}

// ApplyAcknowledgment marks the alert handled.
func (a *Alert) ApplyAcknowledgment(by id.Principal, now uint64) {
	a.Acknowledged = true
	a.AcknowledgedBy = by
	a.AcknowledgedAt = now
}

// QuarantineRecord is a regulator-imposed hold on a batch. One active
// cycle at a time; release is one-way, and a released batch may be
// quarantined again in a fresh cycle.
type QuarantineRecord struct {
	BatchID         id.TokenID
	QuarantinedBy   id.Principal
	Date            uint64
	Reason          string
	InvestigationID id.InvestigationID // zero when standalone
	Released        bool
	ReleaseDate     uint64
	ReleasedBy      id.Principal
	ReleaseReason   string
}

// CanRelease guards the one-way release.
func (q *QuarantineRecord) CanRelease() error {
	if q.Released {
		return dErrors.New(dErrors.CodeInvalidState, "quarantine is already released")
	}
	return nil
}

// ApplyRelease lifts the hold.
func (q *QuarantineRecord) ApplyRelease(by id.Principal, reason string, now uint64) {
	q.Released = true
	q.ReleasedBy = by
	q.ReleaseReason = reason
	q.ReleaseDate = now
}

// AuditReport is a scored compliance assessment over a reviewed set of
// batches and entities.
type AuditReport struct {
	ID               id.ReportID
	Auditor          id.Principal
	Type             string
	Scope            string
	Findings         string
	Recommendations  string
	ComplianceScore  int // 0-100
	ReviewedBatches  []id.TokenID
	ReviewedEntities []id.Principal
	CreatedAt        uint64
}

// SuspiciousActivity is the per-(entity, activity type) accumulating
// counter. Monotonically incremented, never reset.
type SuspiciousActivity struct {
	Entity          id.Principal
	ActivityType    string
	Count           uint64
	LastOccurrence  uint64
	Flagged         bool
	InvestigationID id.InvestigationID // zero when unlinked
}

// VerificationRequest is the append-only record of a public
// authenticity lookup, written whether or not the batch was found.
type VerificationRequest struct {
	ID              uuid.UUID
	BatchIdentifier string
	Requester       string
	Timestamp       uint64
	Found           bool
	Authentic       bool
	Method          string
	Location        string
}

// ConsumerAccessLog records a successful public lookup against a known
// batch.
type ConsumerAccessLog struct {
	ID        uuid.UUID
	BatchID   id.TokenID
	Requester string
	Timestamp uint64
	Method    string
	Location  string
}

// VerificationResult is what the public surface returns.
type VerificationResult struct {
	Authentic      bool
	Found          bool
	VerificationID uuid.UUID
	Timestamp      uint64
}

// SystemOverview is the running-totals dashboard.
type SystemOverview struct {
	TotalBatches        uint64
	TotalTransfers      uint64
	TotalInvestigations uint64
	TotalAlerts         uint64
	TotalReports        uint64
	TotalVerifications  uint64
	ActiveQuarantines   uint64
}

// BatchTracking is the cross-component view of a single batch.
type BatchTracking struct {
	TokenID         id.TokenID
	BatchIdentifier string
	DrugName        string
	Owner           id.Principal
	Active          bool
	Frozen          bool
	Quarantined     bool
	Quarantine      *QuarantineRecord
	TotalTransfers  int
	CustodyLength   int
	AllCompliant    bool
}

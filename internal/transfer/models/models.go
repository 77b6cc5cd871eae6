package models

import (
	rolemodels "pharmatrace/internal/roles/models"
	id "pharmatrace/pkg/domain"
)

// Capacity limits for the per-batch bounded lists. Appends past a cap
// fail with LimitExceeded.
const (
	MaxTransferHistory = 100
	MaxCustodyChain    = 20
)

// TransferStatus is the lifecycle state of a transfer record.
//
// Records for rules without an authorization requirement are born
// Compliant. Records for rules that require authorization are born
// PendingAuthorization and a regulator's sign-off moves them to
// Approved or Rejected; only approval marks them compliance-checked.
type TransferStatus string

const (
	StatusCompliant            TransferStatus = "compliant"
	StatusPendingAuthorization TransferStatus = "pending_authorization"
	StatusApproved             TransferStatus = "approved"
	StatusRejected             TransferStatus = "rejected"
)

// TransferRecord is the append-only custody change record.
type TransferRecord struct {
	ID                 id.TransferID
	BatchID            id.TokenID
	From               id.Principal
	To                 id.Principal
	FromType           rolemodels.RoleType
	ToType             rolemodels.RoleType
	Timestamp          uint64
	Status             TransferStatus
	ComplianceChecked  bool
	Authorizer         id.Principal
	AuthorizedAt       uint64
	Notes              string
	AuthorizationNotes string
}

// Pending reports whether the record still awaits regulator sign-off.
func (r *TransferRecord) Pending() bool {
	return r.Status == StatusPendingAuthorization
}

// ComplianceRule is the policy for one ordered (fromType, toType) pair.
// Absence of a rule for a pair implicitly disallows transfer.
type ComplianceRule struct {
	FromType              rolemodels.RoleType
	ToType                rolemodels.RoleType
	Allowed               bool
	RequiresAuthorization bool
	MaxTransferTime       uint64
	ExtraChecks           string
	SetBy                 id.Principal
	UpdatedAt             uint64
}

// ComplianceStatus is the read-only aggregate the verification surface
// reports for a batch.
type ComplianceStatus struct {
	BatchID               id.TokenID
	TotalTransfers        int
	PendingAuthorizations int
	CustodyLength         int
	Frozen                bool
	AllTransfersCompliant bool
}

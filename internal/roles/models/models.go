package models

import (
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
)

// RoleType classifies a registered principal.
type RoleType string

const (
	RoleRegulator    RoleType = "regulator"
	RoleManufacturer RoleType = "manufacturer"
	RoleDistributor  RoleType = "distributor"
	RolePharmacy     RoleType = "pharmacy"
)

// IsSupplyChain reports whether the role participates in custody
// transfers. Regulators oversee but never hold batches.
func (r RoleType) IsSupplyChain() bool {
	switch r {
	case RoleManufacturer, RoleDistributor, RolePharmacy:
		return true
	}
	return false
}

func (r RoleType) Valid() bool {
	return r == RoleRegulator || r.IsSupplyChain()
}

// LicenseStatus is the lifecycle state of a license record.
type LicenseStatus string

const (
	StatusRegistered LicenseStatus = "registered"
	StatusApproved   LicenseStatus = "approved"
	StatusRevoked    LicenseStatus = "revoked"
)

// License is the single record per principal in the shared registry.
//
// Invariants:
//   - At most one record per principal
//   - Status transitions: registered -> approved -> revoked, one-way
//   - Revocation is terminal; there is no un-revoke path
type License struct {
	Principal    id.Principal
	Name         string
	LicenseID    string
	Role         RoleType
	Location     string
	Status       LicenseStatus
	Authorizer   id.Principal
	RegisteredAt uint64
	ApprovedAt   uint64
	RevokedAt    uint64
	RevokeReason string
}

// IsLicensed reports approved and not revoked.
func (l *License) IsLicensed() bool {
	return l.Status == StatusApproved
}

// CanApprove checks the registered -> approved transition.
func (l *License) CanApprove() error {
	switch l.Status {
	case StatusApproved:
		return dErrors.New(dErrors.CodeAlreadyExists, "license is already approved")
	case StatusRevoked:
		return dErrors.New(dErrors.CodeInvalidState, "license is revoked")
	}
	return nil
}

// ApplyApproval transitions to approved. Call CanApprove first.
func (l *License) ApplyApproval(authorizer id.Principal, now uint64) {
	l.Status = StatusApproved
	l.Authorizer = authorizer
	l.ApprovedAt = now
}

// CanRevoke checks the approved -> revoked transition.
func (l *License) CanRevoke() error {
	switch l.Status {
	case StatusRegistered:
		return dErrors.New(dErrors.CodeInvalidState, "license is not approved")
	case StatusRevoked:
		return dErrors.New(dErrors.CodeInvalidState, "license is already revoked")
	}
	return nil
}

// ApplyRevocation transitions to revoked. Terminal.
func (l *License) ApplyRevocation(authorizer id.Principal, reason string, now uint64) {
	l.Status = StatusRevoked
	l.Authorizer = authorizer
	l.RevokeReason = reason
	l.RevokedAt = now
}

// NewLicense validates and constructs a registered license record.
func NewLicense(principal id.Principal, role RoleType, name, licenseID, location string, now uint64) (*License, error) {
	if principal.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "principal is required")
	}
	if !role.Valid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown role type")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "name cannot be empty")
	}
	if role != RoleRegulator && licenseID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "license id cannot be empty")
	}
	return &License{
		Principal:    principal,
		Name:         name,
		LicenseID:    licenseID,
		Role:         role,
		Location:     location,
		Status:       StatusRegistered,
		RegisteredAt: now,
	}, nil
}

package models

import (
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
)

// MaxManufacturerBatches caps the per-manufacturer batch list. Appends
// past the cap fail with LimitExceeded rather than silently dropping.
const MaxManufacturerBatches = 1000

// Batch is a uniquely identified pharmaceutical production lot tracked
// as an asset with a single current owner.
//
// Invariants:
//   - TokenID is strictly increasing, assigned at creation
//   - BatchID (the external identifier) is unique across all batches
//   - A batch is valid iff active and expiry > current clock
//   - Deactivation is terminal
type Batch struct {
	TokenID        id.TokenID
	BatchID        string
	DrugName       string
	Manufacturer   id.Principal
	ProductionDate uint64
	ExpiryDate     uint64
	Quantity       uint64
	Active         bool
	Owner          id.Principal
}

// IsValid reports active and not expired at the given clock.
func (b *Batch) IsValid(now uint64) bool {
	return b.Active && b.ExpiryDate > now
}

// CanTransfer checks the batch can change custody at the given clock.
func (b *Batch) CanTransfer(now uint64) error {
	if !b.Active {
		return dErrors.New(dErrors.CodeBatchInactive, "batch is not active")
	}
	if b.ExpiryDate <= now {
		return dErrors.New(dErrors.CodeBatchExpired, "batch has expired")
	}
	return nil
}

// ApplyTransfer reassigns ownership. Call CanTransfer first.
func (b *Batch) ApplyTransfer(to id.Principal) {
	b.Owner = to
}

// CanDeactivate checks the active -> inactive transition.
func (b *Batch) CanDeactivate() error {
	if !b.Active {
		return dErrors.New(dErrors.CodeBatchInactive, "batch is already inactive")
	}
	return nil
}

// ApplyDeactivation retires the batch. Terminal.
func (b *Batch) ApplyDeactivation() {
	b.Active = false
}

// NewBatch validates mint arguments and constructs the asset. The token
// id is assigned by the store at creation.
func NewBatch(manufacturer id.Principal, drugName, batchID string, productionDate, expiryDate, quantity, now uint64) (*Batch, error) {
	if drugName == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "drug name cannot be empty")
	}
	if batchID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "batch id cannot be empty")
	}
	if expiryDate <= productionDate {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "expiry date must be after production date")
	}
	if quantity == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "quantity must be positive")
	}
	if expiryDate <= now {
		return nil, dErrors.New(dErrors.CodeBatchExpired, "expiry date is not in the future")
	}
	return &Batch{
		BatchID:        batchID,
		DrugName:       drugName,
		Manufacturer:   manufacturer,
		ProductionDate: productionDate,
		ExpiryDate:     expiryDate,
		Quantity:       quantity,
		Active:         true,
		Owner:          manufacturer,
	}, nil
}

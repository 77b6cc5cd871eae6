// Package service implements the transfer and compliance engine:
// the rule matrix, custody changes between licensed entities, regulator
// sign-off, and the freeze gate the oversight engine drives during
// quarantine.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	batchmodels "pharmatrace/internal/batch/models"
	rolemodels "pharmatrace/internal/roles/models"
	roles "pharmatrace/internal/roles/service"
	"pharmatrace/internal/transfer/models"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/audit"
	"pharmatrace/pkg/platform/sentinel"
	"pharmatrace/pkg/requestcontext"
)

var (
	transfersInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pharmatrace_transfers_initiated_total",
		Help: "Custody transfers initiated",
	})
	transfersBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmatrace_transfers_blocked_total",
		Help: "Transfers rejected before execution, by cause",
	}, []string{"cause"})
)

// Store is the persistence contract for rules, records, custody, and
// the frozen set.
type Store interface {
	SetRule(ctx context.Context, rule *models.ComplianceRule) error
	GetRule(ctx context.Context, from, to rolemodels.RoleType) (*models.ComplianceRule, error)
	CreateTransfer(ctx context.Context, record *models.TransferRecord) (id.TransferID, error)
	GetTransfer(ctx context.Context, transferID id.TransferID) (*models.TransferRecord, error)
	ExecuteTransfer(ctx context.Context, transferID id.TransferID, validate func(*models.TransferRecord) error, mutate func(*models.TransferRecord)) (*models.TransferRecord, error)
	History(ctx context.Context, batchID id.TokenID) ([]*models.TransferRecord, error)
	Custody(ctx context.Context, batchID id.TokenID) ([]id.Principal, error)
	Freeze(ctx context.Context, batchID id.TokenID, reason string) error
	Unfreeze(ctx context.Context, batchID id.TokenID) error
	IsFrozen(ctx context.Context, batchID id.TokenID) (bool, error)
	CountTransfers(ctx context.Context) (uint64, error)
}

// BatchRegistry is the slice of the batch registry the engine consumes.
// Custody reassignment goes through the registry's own operation so the
// batch aggregate keeps a single writer.
type BatchRegistry interface {
	GetBatchInfo(ctx context.Context, tokenID id.TokenID) (*batchmodels.Batch, error)
	Transfer(ctx context.Context, tokenID id.TokenID, from, to id.Principal) error
}

type Service struct {
	store     Store
	authority roles.Authority
	batches   BatchRegistry
	emitter   *audit.Emitter
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithEmitter(emitter *audit.Emitter) Option {
	return func(s *Service) { s.emitter = emitter }
}

func New(store Store, authority roles.Authority, batches BatchRegistry, opts ...Option) *Service {
	s := &Service{store: store, authority: authority, batches: batches}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// SetTransferRule upserts the rule for an ordered entity type pair.
// Regulator-only.
func (s *Service) SetTransferRule(ctx context.Context, fromType, toType rolemodels.RoleType, allowed, requiresAuthorization bool, maxTransferTime uint64) error {
	if err := s.requireRegulator(ctx); err != nil {
		return err
	}
	if !fromType.IsSupplyChain() || !toType.IsSupplyChain() {
		return dErrors.New(dErrors.CodeInvalidInput, "rule types must be supply-chain entity types")
	}
	caller := requestcontext.Caller(ctx)

	rule := &models.ComplianceRule{
		FromType:              fromType,
		ToType:                toType,
		Allowed:               allowed,
		RequiresAuthorization: requiresAuthorization,
		MaxTransferTime:       maxTransferTime,
		SetBy:                 caller,
		UpdatedAt:             requestcontext.Clock(ctx),
	}
	if err := s.store.SetRule(ctx, rule); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to set transfer rule")
	}

	return s.emitter.Emit(ctx, audit.Event{
		Action: audit.EventTransferRuleSet,
		Actor:  caller,
		Extra: map[string]string{
			"from_type":              string(fromType),
			"to_type":                string(toType),
			"allowed":                boolString(allowed),
			"requires_authorization": boolString(requiresAuthorization),
		},
	})
}

// InitiateTransfer moves custody of a batch from the caller to another
// licensed entity, subject to the rule matrix. All preconditions are
// checked before any state changes; the transfer record and the batch
// registry owner reassignment then land as one unit of work.
func (s *Service) InitiateTransfer(ctx context.Context, batchID id.TokenID, toEntity id.Principal, notes string) (id.TransferID, error) {
	caller := requestcontext.Caller(ctx)
	now := requestcontext.Clock(ctx)

	fromLicensed, err := s.authority.IsEntityLicensed(ctx, caller)
	if err != nil {
		return 0, err
	}
	if !fromLicensed {
		transfersBlocked.WithLabelValues("sender_unlicensed").Inc()
		return 0, dErrors.New(dErrors.CodeUnauthorized, "caller is not a licensed entity")
	}
	toLicensed, err := s.authority.IsEntityLicensed(ctx, toEntity)
	if err != nil {
		return 0, err
	}
	if !toLicensed {
		transfersBlocked.WithLabelValues("recipient_unlicensed").Inc()
		return 0, dErrors.New(dErrors.CodeUnauthorized, "recipient is not a licensed entity")
	}

	batch, err := s.batches.GetBatchInfo(ctx, batchID)
	if err != nil {
		return 0, err
	}
	if batch.Owner != caller {
		transfersBlocked.WithLabelValues("not_owner").Inc()
		return 0, dErrors.New(dErrors.CodeUnauthorized, "caller does not hold the batch")
	}
	if err := batch.CanTransfer(now); err != nil {
		transfersBlocked.WithLabelValues("batch_invalid").Inc()
		return 0, err
	}

	frozen, err := s.store.IsFrozen(ctx, batchID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check frozen state")
	}
	if frozen {
		transfersBlocked.WithLabelValues("frozen").Inc()
		return 0, dErrors.New(dErrors.CodeBatchInactive, "batch is frozen")
	}

	fromType, err := s.authority.EntityType(ctx, caller)
	if err != nil {
		return 0, err
	}
	toType, err := s.authority.EntityType(ctx, toEntity)
	if err != nil {
		return 0, err
	}

	rule, err := s.store.GetRule(ctx, fromType, toType)
	if errors.Is(err, sentinel.ErrNotFound) {
		transfersBlocked.WithLabelValues("no_rule").Inc()
		return 0, dErrors.Newf(dErrors.CodeComplianceViolation, "no transfer rule for %s -> %s", fromType, toType)
	}
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up transfer rule")
	}
	if !rule.Allowed {
		transfersBlocked.WithLabelValues("disallowed").Inc()
		return 0, dErrors.Newf(dErrors.CodeComplianceViolation, "transfers %s -> %s are not allowed", fromType, toType)
	}

	record := &models.TransferRecord{
		BatchID:   batchID,
		From:      caller,
		To:        toEntity,
		FromType:  fromType,
		ToType:    toType,
		Timestamp: now,
		Notes:     notes,
	}
	if rule.RequiresAuthorization {
		// Compliance stays open until a regulator signs off.
		record.Status = models.StatusPendingAuthorization
		record.ComplianceChecked = false
	} else {
		record.Status = models.StatusCompliant
		record.ComplianceChecked = true
	}

	transferID, err := s.store.CreateTransfer(ctx, record)
	if err != nil {
		if errors.Is(err, sentinel.ErrCapacity) {
			return 0, dErrors.New(dErrors.CodeLimitExceeded, "batch transfer history or custody chain is full")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create transfer record")
	}

	// All preconditions held above, so the registry call cannot fail
	// under the serialized execution model; a failure here is an
	// infrastructure fault and surfaces as one.
	if err := s.batches.Transfer(ctx, batchID, caller, toEntity); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "custody reassignment failed after record creation")
	}
	transfersInitiated.Inc()

	if err := s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventTransferInitiated,
		Actor:   caller,
		Subject: toEntity.String(),
		BatchID: batchID,
		Extra: map[string]string{
			"transfer_id": transferID.String(),
			"status":      string(record.Status),
		},
	}); err != nil {
		return 0, err
	}
	return transferID, nil
}

// AuthorizeTransfer records a regulator's sign-off on a pending
// transfer. Approval marks the record compliance-checked; rejection
// leaves it unchecked. Custody is not reversed either way.
func (s *Service) AuthorizeTransfer(ctx context.Context, transferID id.TransferID, approved bool, notes string) error {
	if err := s.requireRegulator(ctx); err != nil {
		return err
	}
	caller := requestcontext.Caller(ctx)
	now := requestcontext.Clock(ctx)

	record, err := s.store.ExecuteTransfer(ctx, transferID,
		func(r *models.TransferRecord) error {
			if !r.Pending() {
				return dErrors.New(dErrors.CodeInvalidState, "transfer is not pending authorization")
			}
			return nil
		},
		func(r *models.TransferRecord) {
			r.Authorizer = caller
			r.AuthorizedAt = now
			r.AuthorizationNotes = notes
			if approved {
				r.Status = models.StatusApproved
				r.ComplianceChecked = true
			} else {
				r.Status = models.StatusRejected
			}
		},
	)
	if err != nil {
		return translateStoreErr(err, "transfer")
	}

	action := audit.EventTransferAuthorized
	decision := "approved"
	if !approved {
		action = audit.EventTransferRejected
		decision = "rejected"
	}
	return s.emitter.Emit(ctx, audit.Event{
		Action:   action,
		Actor:    caller,
		BatchID:  record.BatchID,
		Decision: decision,
		Reason:   notes,
		Extra:    map[string]string{"transfer_id": transferID.String()},
	})
}

// FreezeBatch blocks further transfers of the batch. Regulator-only.
func (s *Service) FreezeBatch(ctx context.Context, batchID id.TokenID, reason string) error {
	if err := s.requireRegulator(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "freeze reason cannot be empty")
	}
	if _, err := s.batches.GetBatchInfo(ctx, batchID); err != nil {
		return err
	}
	if err := s.store.Freeze(ctx, batchID, reason); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return dErrors.New(dErrors.CodeAlreadyExists, "batch is already frozen")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to freeze batch")
	}
	return s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventBatchFrozen,
		Actor:   requestcontext.Caller(ctx),
		BatchID: batchID,
		Reason:  reason,
	})
}

// UnfreezeBatch lifts the transfer block. Regulator-only.
func (s *Service) UnfreezeBatch(ctx context.Context, batchID id.TokenID, reason string) error {
	if err := s.requireRegulator(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "unfreeze reason cannot be empty")
	}
	if err := s.store.Unfreeze(ctx, batchID); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.New(dErrors.CodeInvalidState, "batch is not frozen")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to unfreeze batch")
	}
	return s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventBatchUnfrozen,
		Actor:   requestcontext.Caller(ctx),
		BatchID: batchID,
		Reason:  reason,
	})
}

// IsBatchFrozen reports frozen-set membership.
func (s *Service) IsBatchFrozen(ctx context.Context, batchID id.TokenID) (bool, error) {
	frozen, err := s.store.IsFrozen(ctx, batchID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check frozen state")
	}
	return frozen, nil
}

// GetTransfer returns one transfer record.
func (s *Service) GetTransfer(ctx context.Context, transferID id.TransferID) (*models.TransferRecord, error) {
	record, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, translateStoreErr(err, "transfer")
	}
	return record, nil
}

// GetTransferHistory returns the batch's records in creation order.
func (s *Service) GetTransferHistory(ctx context.Context, batchID id.TokenID) ([]*models.TransferRecord, error) {
	history, err := s.store.History(ctx, batchID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list history")
	}
	return history, nil
}

// GetCustodyChain returns the ordered holders of the batch.
func (s *Service) GetCustodyChain(ctx context.Context, batchID id.TokenID) ([]id.Principal, error) {
	chain, err := s.store.Custody(ctx, batchID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read custody chain")
	}
	return chain, nil
}

// GetComplianceStatus folds the batch's transfer history into the
// aggregate the verification surfaces report.
func (s *Service) GetComplianceStatus(ctx context.Context, batchID id.TokenID) (*models.ComplianceStatus, error) {
	history, err := s.store.History(ctx, batchID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read history")
	}
	chain, err := s.store.Custody(ctx, batchID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read custody chain")
	}
	frozen, err := s.store.IsFrozen(ctx, batchID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check frozen state")
	}

	status := &models.ComplianceStatus{
		BatchID:               batchID,
		TotalTransfers:        len(history),
		CustodyLength:         len(chain),
		Frozen:                frozen,
		AllTransfersCompliant: true,
	}
	for _, record := range history {
		if !record.ComplianceChecked {
			status.AllTransfersCompliant = false
		}
		if record.Pending() {
			status.PendingAuthorizations++
		}
	}
	return status, nil
}

// TotalTransfers returns the global transfer counter for dashboards.
func (s *Service) TotalTransfers(ctx context.Context) (uint64, error) {
	n, err := s.store.CountTransfers(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count transfers")
	}
	return n, nil
}

func (s *Service) requireRegulator(ctx context.Context) error {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity is required")
	}
	ok, err := s.authority.IsRegulator(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not a regulator")
	}
	return nil
}

func translateStoreErr(err error, what string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Newf(dErrors.CodeNotFound, "%s not found", what)
	default:
		var de *dErrors.Error
		if errors.As(err, &de) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "store operation failed")
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

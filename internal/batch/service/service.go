// Package service implements the batch registry: minting, custody
// reassignment, deactivation, and lookups. Mint authorization comes
// from the shared role registry.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pharmatrace/internal/batch/models"
	roles "pharmatrace/internal/roles/service"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/audit"
	"pharmatrace/pkg/platform/sentinel"
	"pharmatrace/pkg/requestcontext"
)

var batchesMinted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pharmatrace_batches_minted_total",
	Help: "Batch assets minted",
})

// Store is the persistence contract for batch assets.
type Store interface {
	Create(ctx context.Context, batch *models.Batch) (id.TokenID, error)
	Get(ctx context.Context, tokenID id.TokenID) (*models.Batch, error)
	GetByBatchID(ctx context.Context, batchID string) (*models.Batch, error)
	Execute(ctx context.Context, tokenID id.TokenID, validate func(*models.Batch) error, mutate func(*models.Batch)) (*models.Batch, error)
	ListByManufacturer(ctx context.Context, manufacturer id.Principal) ([]*models.Batch, error)
	Count(ctx context.Context) (uint64, error)
}

type Service struct {
	store     Store
	authority roles.Authority
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

func New(store Store, authority roles.Authority, opts ...Option) *Service {
	s := &Service{store: store, authority: authority}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// MintBatch creates a batch asset owned by the caller. The caller must
// be an approved, non-revoked manufacturer. Returns the new token id.
func (s *Service) MintBatch(ctx context.Context, drugName, batchID string, productionDate, expiryDate, quantity uint64) (id.TokenID, error) {
	caller := requestcontext.Caller(ctx)
	approved, err := s.authority.IsManufacturerApproved(ctx, caller)
	if err != nil {
		return 0, err
	}
	if !approved {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "caller is not an approved manufacturer")
	}

	now := requestcontext.Clock(ctx)
	batch, err := models.NewBatch(caller, drugName, batchID, productionDate, expiryDate, quantity, now)
	if err != nil {
		return 0, err
	}

	tokenID, err := s.store.Create(ctx, batch)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrDuplicate):
			return 0, dErrors.New(dErrors.CodeAlreadyExists, "batch id is already registered")
		case errors.Is(err, sentinel.ErrCapacity):
			return 0, dErrors.New(dErrors.CodeLimitExceeded, "manufacturer batch list is full")
		default:
			return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint batch")
		}
	}
	batchesMinted.Inc()

	if err := s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventBatchMinted,
		Actor:   caller,
		BatchID: tokenID,
		Extra: map[string]string{
			"batch_id":  batchID,
			"drug_name": drugName,
		},
	}); err != nil {
		return 0, err
	}
	return tokenID, nil
}

// Transfer reassigns ownership. The caller must be the from principal
// and from must hold the batch; the batch must be valid.
func (s *Service) Transfer(ctx context.Context, tokenID id.TokenID, from, to id.Principal) error {
	caller := requestcontext.Caller(ctx)
	if caller != from {
		return dErrors.New(dErrors.CodeUnauthorized, "caller must be the transferring party")
	}
	if to.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "recipient is required")
	}
	now := requestcontext.Clock(ctx)

	_, err := s.store.Execute(ctx, tokenID,
		func(b *models.Batch) error {
			if b.Owner != from {
				return dErrors.New(dErrors.CodeUnauthorized, "sender does not own the batch")
			}
			return b.CanTransfer(now)
		},
		func(b *models.Batch) {
			b.ApplyTransfer(to)
		},
	)
	if err != nil {
		return translateStoreErr(err)
	}

	return s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventBatchTransferred,
		Actor:   caller,
		Subject: to.String(),
		BatchID: tokenID,
	})
}

// DeactivateBatch retires a batch. Allowed for a regulator or the
// current owner. Terminal.
func (s *Service) DeactivateBatch(ctx context.Context, tokenID id.TokenID) error {
	caller := requestcontext.Caller(ctx)
	isRegulator, err := s.authority.IsRegulator(ctx, caller)
	if err != nil {
		return err
	}

	_, err = s.store.Execute(ctx, tokenID,
		func(b *models.Batch) error {
			if !isRegulator && b.Owner != caller {
				return dErrors.New(dErrors.CodeUnauthorized, "caller is neither a regulator nor the batch owner")
			}
			return b.CanDeactivate()
		},
		func(b *models.Batch) {
			b.ApplyDeactivation()
		},
	)
	if err != nil {
		return translateStoreErr(err)
	}

	return s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventBatchDeactivated,
		Actor:   caller,
		BatchID: tokenID,
	})
}

// GetBatchInfo returns the batch record by token id.
func (s *Service) GetBatchInfo(ctx context.Context, tokenID id.TokenID) (*models.Batch, error) {
	batch, err := s.store.Get(ctx, tokenID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return batch, nil
}

// GetOwner returns the current holder of the batch.
func (s *Service) GetOwner(ctx context.Context, tokenID id.TokenID) (id.Principal, error) {
	batch, err := s.store.Get(ctx, tokenID)
	if err != nil {
		return "", translateStoreErr(err)
	}
	return batch.Owner, nil
}

// IsBatchValid reports active and unexpired at the current clock.
// Unknown token ids are reported invalid rather than failing, so the
// transfer engine and oversight can use this as a pure predicate.
func (s *Service) IsBatchValid(ctx context.Context, tokenID id.TokenID) (bool, error) {
	batch, err := s.store.Get(ctx, tokenID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check batch")
	}
	return batch.IsValid(requestcontext.Clock(ctx)), nil
}

// GetManufacturerBatches lists all batches minted by a manufacturer.
func (s *Service) GetManufacturerBatches(ctx context.Context, manufacturer id.Principal) ([]*models.Batch, error) {
	batches, err := s.store.ListByManufacturer(ctx, manufacturer)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list batches")
	}
	return batches, nil
}

// GetBatchByBatchID resolves the external batch identifier through the
// secondary index.
func (s *Service) GetBatchByBatchID(ctx context.Context, batchID string) (*models.Batch, error) {
	if batchID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "batch id is required")
	}
	batch, err := s.store.GetByBatchID(ctx, batchID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return batch, nil
}

// TotalBatches returns the running batch count for dashboards.
func (s *Service) TotalBatches(ctx context.Context) (uint64, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count batches")
	}
	return n, nil
}

func translateStoreErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "batch not found")
	default:
		var de *dErrors.Error
		if errors.As(err, &de) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "store operation failed")
	}
}

package store

import (
	"context"
	"sync"

	"pharmatrace/internal/batch/models"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

// InMemory owns the batch assets, the token id sequence, the external
// batch id index, and the per-manufacturer batch lists. All of it
// mutates under one lock so creation is atomic across the four.
type InMemory struct {
	mu             sync.RWMutex
	nextToken      uint64
	batches        map[id.TokenID]*models.Batch
	byBatchID      map[string]id.TokenID
	byManufacturer map[id.Principal][]id.TokenID
}

func NewInMemory() *InMemory {
	return &InMemory{
		batches:        make(map[id.TokenID]*models.Batch),
		byBatchID:      make(map[string]id.TokenID),
		byManufacturer: make(map[id.Principal][]id.TokenID),
	}
}

// Create assigns the next token id and indexes the batch. Fails with
// ErrDuplicate when the external batch id is taken and ErrCapacity when
// the manufacturer's list is full.
func (s *InMemory) Create(_ context.Context, batch *models.Batch) (id.TokenID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byBatchID[batch.BatchID]; taken {
		return 0, sentinel.ErrDuplicate
	}
	if len(s.byManufacturer[batch.Manufacturer]) >= models.MaxManufacturerBatches {
		return 0, sentinel.ErrCapacity
	}

	s.nextToken++
	tokenID := id.TokenID(s.nextToken)

	cp := *batch
	cp.TokenID = tokenID
	s.batches[tokenID] = &cp
	s.byBatchID[cp.BatchID] = tokenID
	s.byManufacturer[cp.Manufacturer] = append(s.byManufacturer[cp.Manufacturer], tokenID)
	return tokenID, nil
}

func (s *InMemory) Get(_ context.Context, tokenID id.TokenID) (*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[tokenID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *batch
	return &cp, nil
}

// GetByBatchID resolves the external identifier through the secondary
// index rather than scanning.
func (s *InMemory) GetByBatchID(_ context.Context, batchID string) (*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokenID, ok := s.byBatchID[batchID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.batches[tokenID]
	return &cp, nil
}

// Execute atomically validates and mutates a batch under the write lock.
func (s *InMemory) Execute(_ context.Context, tokenID id.TokenID, validate func(*models.Batch) error, mutate func(*models.Batch)) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[tokenID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(batch); err != nil {
		return nil, err
	}
	mutate(batch)
	cp := *batch
	return &cp, nil
}

func (s *InMemory) ListByManufacturer(_ context.Context, manufacturer id.Principal) ([]*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokenIDs := s.byManufacturer[manufacturer]
	out := make([]*models.Batch, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		cp := *s.batches[tokenID]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemory) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.batches)), nil
}

package store

import (
	"context"
	"sync"

	rolemodels "pharmatrace/internal/roles/models"
	"pharmatrace/internal/transfer/models"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

type ruleKey struct {
	from rolemodels.RoleType
	to   rolemodels.RoleType
}

// InMemory owns the rule matrix, the transfer records, the per-batch
// history and custody chains, and the frozen set. One lock keeps record
// creation atomic across the record, the history, and the chain.
type InMemory struct {
	mu        sync.RWMutex
	nextID    uint64
	rules     map[ruleKey]*models.ComplianceRule
	transfers map[id.TransferID]*models.TransferRecord
	history   map[id.TokenID][]id.TransferID
	custody   map[id.TokenID][]id.Principal
	frozen    map[id.TokenID]string // batch id -> freeze reason
}

func NewInMemory() *InMemory {
	return &InMemory{
		rules:     make(map[ruleKey]*models.ComplianceRule),
		transfers: make(map[id.TransferID]*models.TransferRecord),
		history:   make(map[id.TokenID][]id.TransferID),
		custody:   make(map[id.TokenID][]id.Principal),
		frozen:    make(map[id.TokenID]string),
	}
}

// SetRule upserts the rule for its ordered type pair.
func (s *InMemory) SetRule(_ context.Context, rule *models.ComplianceRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rule
	s.rules[ruleKey{from: rule.FromType, to: rule.ToType}] = &cp
	return nil
}

func (s *InMemory) GetRule(_ context.Context, from, to rolemodels.RoleType) (*models.ComplianceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[ruleKey{from: from, to: to}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *rule
	return &cp, nil
}

// CreateTransfer assigns the next transfer id and appends to the
// batch's history and custody chain. Fails with ErrCapacity when either
// bounded list is full, before any mutation.
func (s *InMemory) CreateTransfer(_ context.Context, record *models.TransferRecord) (id.TransferID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history[record.BatchID]) >= models.MaxTransferHistory {
		return 0, sentinel.ErrCapacity
	}
	chain := s.custody[record.BatchID]
	appendFrom := len(chain) == 0
	appendTo := len(chain) == 0 || chain[len(chain)-1] != record.To
	needed := 0
	if appendFrom {
		needed++
	}
	if appendTo {
		needed++
	}
	if len(chain)+needed > models.MaxCustodyChain {
		return 0, sentinel.ErrCapacity
	}

	s.nextID++
	transferID := id.TransferID(s.nextID)

	cp := *record
	cp.ID = transferID
	s.transfers[transferID] = &cp
	s.history[record.BatchID] = append(s.history[record.BatchID], transferID)
	if appendFrom {
		chain = append(chain, record.From)
	}
	if appendTo {
		chain = append(chain, record.To)
	}
	s.custody[record.BatchID] = chain
	return transferID, nil
}

func (s *InMemory) GetTransfer(_ context.Context, transferID id.TransferID) (*models.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.transfers[transferID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *record
	return &cp, nil
}

// ExecuteTransfer atomically validates and mutates a transfer record.
func (s *InMemory) ExecuteTransfer(_ context.Context, transferID id.TransferID, validate func(*models.TransferRecord) error, mutate func(*models.TransferRecord)) (*models.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.transfers[transferID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(record); err != nil {
		return nil, err
	}
	mutate(record)
	cp := *record
	return &cp, nil
}

// History returns the batch's transfer records in creation order.
func (s *InMemory) History(_ context.Context, batchID id.TokenID) ([]*models.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.history[batchID]
	out := make([]*models.TransferRecord, 0, len(ids))
	for _, transferID := range ids {
		cp := *s.transfers[transferID]
		out = append(out, &cp)
	}
	return out, nil
}

// Custody returns the ordered chain of holders.
func (s *InMemory) Custody(_ context.Context, batchID id.TokenID) ([]id.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.custody[batchID]
	out := make([]id.Principal, len(chain))
	copy(out, chain)
	return out, nil
}

// Freeze marks the batch frozen. ErrDuplicate if already frozen.
func (s *InMemory) Freeze(_ context.Context, batchID id.TokenID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.frozen[batchID]; ok {
		return sentinel.ErrDuplicate
	}
	s.frozen[batchID] = reason
	return nil
}

// Unfreeze clears the frozen mark. ErrInvalidState if not frozen.
func (s *InMemory) Unfreeze(_ context.Context, batchID id.TokenID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.frozen[batchID]; !ok {
		return sentinel.ErrInvalidState
	}
	delete(s.frozen, batchID)
	return nil
}

func (s *InMemory) IsFrozen(_ context.Context, batchID id.TokenID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.frozen[batchID]
	return ok, nil
}

// CountTransfers returns the global transfer counter.
func (s *InMemory) CountTransfers(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.transfers)), nil
}

package store

import (
	"context"
	"sync"

	"pharmatrace/internal/roles/models"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

// InMemory keeps the license registry in process. It favors clarity
// over performance and backs all unit tests.
type InMemory struct {
	mu       sync.RWMutex
	licenses map[id.Principal]*models.License
}

func NewInMemory() *InMemory {
	return &InMemory{licenses: make(map[id.Principal]*models.License)}
}

func (s *InMemory) Create(_ context.Context, license *models.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.licenses[license.Principal]; exists {
		return sentinel.ErrDuplicate
	}
	cp := *license
	s.licenses[license.Principal] = &cp
	return nil
}

func (s *InMemory) Get(_ context.Context, principal id.Principal) (*models.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	license, ok := s.licenses[principal]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *license
	return &cp, nil
}

// Execute atomically validates and mutates a license under the write
// lock, so check and transition cannot interleave with another writer.
func (s *InMemory) Execute(_ context.Context, principal id.Principal, validate func(*models.License) error, mutate func(*models.License)) (*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	license, ok := s.licenses[principal]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(license); err != nil {
		return nil, err
	}
	mutate(license)
	cp := *license
	return &cp, nil
}

func (s *InMemory) Delete(_ context.Context, principal id.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.licenses[principal]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.licenses, principal)
	return nil
}

func (s *InMemory) List(_ context.Context, role models.RoleType) ([]*models.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.License
	for _, license := range s.licenses {
		if role == "" || license.Role == role {
			cp := *license
			out = append(out, &cp)
		}
	}
	return out, nil
}

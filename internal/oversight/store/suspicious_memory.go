package store

import (
	"context"
	"sync"

	"pharmatrace/internal/oversight/models"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

// SuspiciousMemory keeps suspicious-activity counters in process memory.
// Counters only ever grow; a fresh report for a known (entity, type) pair
// bumps the count rather than resetting it.
type SuspiciousMemory struct {
	mu       sync.RWMutex
	counters map[suspiciousKey]*models.SuspiciousActivity
}

type suspiciousKey struct {
	entity       id.Principal
	activityType string
}

func NewSuspiciousMemory() *SuspiciousMemory {
	return &SuspiciousMemory{counters: make(map[suspiciousKey]*models.SuspiciousActivity)}
}

func (s *SuspiciousMemory) Record(ctx context.Context, entity id.Principal, activityType string, clock uint64, investigationID id.InvestigationID) (*models.SuspiciousActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := suspiciousKey{entity: entity, activityType: activityType}
	activity, ok := s.counters[key]
	if !ok {
		activity = &models.SuspiciousActivity{Entity: entity, ActivityType: activityType}
		s.counters[key] = activity
	}
	activity.Count++
	activity.LastOccurrence = clock
	activity.Flagged = true
	if investigationID != 0 {
		activity.InvestigationID = investigationID
	}

	out := *activity
	return &out, nil
}

func (s *SuspiciousMemory) Get(ctx context.Context, entity id.Principal, activityType string) (*models.SuspiciousActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	activity, ok := s.counters[suspiciousKey{entity: entity, activityType: activityType}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *activity
	return &out, nil
}

func (s *SuspiciousMemory) ListByEntity(ctx context.Context, entity id.Principal) ([]*models.SuspiciousActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.SuspiciousActivity
	for key, activity := range s.counters {
		if key.entity != entity {
			continue
		}
		copied := *activity
		out = append(out, &copied)
	}
	return out, nil
}

package store

import (
	"context"
	"sync"

	"pharmatrace/internal/oversight/models"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

// InMemory owns all oversight aggregates except the suspicious activity
// counters, which have their own store so Redis can back them.
type InMemory struct {
	mu sync.RWMutex

	nextInvestigation uint64
	investigations    map[id.InvestigationID]*models.Investigation

	nextAlert uint64
	alerts    map[id.AlertID]*models.Alert

	// Quarantine cycles per batch, oldest first; the last entry is the
	// active one when unreleased.
	quarantines map[id.TokenID][]*models.QuarantineRecord

	nextReport uint64
	reports    map[id.ReportID]*models.AuditReport

	verifications  []*models.VerificationRequest
	consumerAccess []*models.ConsumerAccessLog
}

func NewInMemory() *InMemory {
	return &InMemory{
		investigations: make(map[id.InvestigationID]*models.Investigation),
		alerts:         make(map[id.AlertID]*models.Alert),
		quarantines:    make(map[id.TokenID][]*models.QuarantineRecord),
		reports:        make(map[id.ReportID]*models.AuditReport),
	}
}

func (s *InMemory) CreateInvestigation(_ context.Context, inv *models.Investigation) (id.InvestigationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextInvestigation++
	invID := id.InvestigationID(s.nextInvestigation)
	cp := *inv
	cp.ID = invID
	cp.AffectedEntities = append([]id.Principal(nil), inv.AffectedEntities...)
	s.investigations[invID] = &cp
	return invID, nil
}

func (s *InMemory) GetInvestigation(_ context.Context, invID id.InvestigationID) (*models.Investigation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.investigations[invID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *InMemory) ExecuteInvestigation(_ context.Context, invID id.InvestigationID, validate func(*models.Investigation) error, mutate func(*models.Investigation)) (*models.Investigation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.investigations[invID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(inv); err != nil {
		return nil, err
	}
	mutate(inv)
	cp := *inv
	return &cp, nil
}

func (s *InMemory) CountInvestigations(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.investigations)), nil
}

func (s *InMemory) CreateAlert(_ context.Context, alert *models.Alert) (id.AlertID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAlert++
	alertID := id.AlertID(s.nextAlert)
	cp := *alert
	cp.ID = alertID
	s.alerts[alertID] = &cp
	return alertID, nil
}

func (s *InMemory) GetAlert(_ context.Context, alertID id.AlertID) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[alertID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *alert
	return &cp, nil
}

func (s *InMemory) ExecuteAlert(_ context.Context, alertID id.AlertID, validate func(*models.Alert) error, mutate func(*models.Alert)) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[alertID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(alert); err != nil {
		return nil, err
	}
	mutate(alert)
	cp := *alert
	return &cp, nil
}

func (s *InMemory) CountAlerts(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.alerts)), nil
}

// CreateQuarantine starts a new cycle. ErrDuplicate while an unreleased
// cycle exists for the batch.
func (s *InMemory) CreateQuarantine(_ context.Context, record *models.QuarantineRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cycles := s.quarantines[record.BatchID]
	if len(cycles) > 0 && !cycles[len(cycles)-1].Released {
		return sentinel.ErrDuplicate
	}
	cp := *record
	s.quarantines[record.BatchID] = append(cycles, &cp)
	return nil
}

// GetQuarantine returns the latest cycle for the batch.
func (s *InMemory) GetQuarantine(_ context.Context, batchID id.TokenID) (*models.QuarantineRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cycles := s.quarantines[batchID]
	if len(cycles) == 0 {
		return nil, sentinel.ErrNotFound
	}
	cp := *cycles[len(cycles)-1]
	return &cp, nil
}

func (s *InMemory) ExecuteQuarantine(_ context.Context, batchID id.TokenID, validate func(*models.QuarantineRecord) error, mutate func(*models.QuarantineRecord)) (*models.QuarantineRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cycles := s.quarantines[batchID]
	if len(cycles) == 0 {
		return nil, sentinel.ErrNotFound
	}
	record := cycles[len(cycles)-1]
	if err := validate(record); err != nil {
		return nil, err
	}
	mutate(record)
	cp := *record
	return &cp, nil
}

func (s *InMemory) CountActiveQuarantines(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n uint64
	for _, cycles := range s.quarantines {
		if len(cycles) > 0 && !cycles[len(cycles)-1].Released {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) CreateReport(_ context.Context, report *models.AuditReport) (id.ReportID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextReport++
	reportID := id.ReportID(s.nextReport)
	cp := *report
	cp.ID = reportID
	cp.ReviewedBatches = append([]id.TokenID(nil), report.ReviewedBatches...)
	cp.ReviewedEntities = append([]id.Principal(nil), report.ReviewedEntities...)
	s.reports[reportID] = &cp
	return reportID, nil
}

func (s *InMemory) GetReport(_ context.Context, reportID id.ReportID) (*models.AuditReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[reportID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *report
	return &cp, nil
}

func (s *InMemory) CountReports(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.reports)), nil
}

func (s *InMemory) AppendVerification(_ context.Context, record *models.VerificationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.verifications = append(s.verifications, &cp)
	return nil
}

func (s *InMemory) AppendConsumerAccess(_ context.Context, record *models.ConsumerAccessLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.consumerAccess = append(s.consumerAccess, &cp)
	return nil
}

func (s *InMemory) CountVerifications(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.verifications)), nil
}

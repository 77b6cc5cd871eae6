// Package service implements the oversight engine: investigations,
// alerts, quarantine holds, audit reports, suspicious-activity
// tracking, and the public authenticity check.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	batchmodels "pharmatrace/internal/batch/models"
	"pharmatrace/internal/oversight/models"
	transfermodels "pharmatrace/internal/transfer/models"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/audit"
	"pharmatrace/pkg/platform/sentinel"
	"pharmatrace/pkg/requestcontext"
)

var (
	investigationsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pharmatrace_investigations_opened_total",
		Help: "Investigations opened by regulators",
	})
	publicVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmatrace_public_verifications_total",
		Help: "Public authenticity checks, by outcome",
	}, []string{"outcome"})
)

// Store is the persistence contract for the oversight aggregates.
type Store interface {
	CreateInvestigation(ctx context.Context, inv *models.Investigation) (id.InvestigationID, error)
	GetInvestigation(ctx context.Context, invID id.InvestigationID) (*models.Investigation, error)
	ExecuteInvestigation(ctx context.Context, invID id.InvestigationID, validate func(*models.Investigation) error, mutate func(*models.Investigation)) (*models.Investigation, error)
	CountInvestigations(ctx context.Context) (uint64, error)

	CreateAlert(ctx context.Context, alert *models.Alert) (id.AlertID, error)
	GetAlert(ctx context.Context, alertID id.AlertID) (*models.Alert, error)
	ExecuteAlert(ctx context.Context, alertID id.AlertID, validate func(*models.Alert) error, mutate func(*models.Alert)) (*models.Alert, error)
	CountAlerts(ctx context.Context) (uint64, error)

	CreateQuarantine(ctx context.Context, record *models.QuarantineRecord) error
	GetQuarantine(ctx context.Context, batchID id.TokenID) (*models.QuarantineRecord, error)
	ExecuteQuarantine(ctx context.Context, batchID id.TokenID, validate func(*models.QuarantineRecord) error, mutate func(*models.QuarantineRecord)) (*models.QuarantineRecord, error)
	CountActiveQuarantines(ctx context.Context) (uint64, error)

	CreateReport(ctx context.Context, report *models.AuditReport) (id.ReportID, error)
	GetReport(ctx context.Context, reportID id.ReportID) (*models.AuditReport, error)
	CountReports(ctx context.Context) (uint64, error)

	AppendVerification(ctx context.Context, record *models.VerificationRequest) error
	AppendConsumerAccess(ctx context.Context, record *models.ConsumerAccessLog) error
	CountVerifications(ctx context.Context) (uint64, error)
}

// SuspiciousStore accumulates per-(entity, activity type) counters.
type SuspiciousStore interface {
	Record(ctx context.Context, entity id.Principal, activityType string, clock uint64, investigationID id.InvestigationID) (*models.SuspiciousActivity, error)
	Get(ctx context.Context, entity id.Principal, activityType string) (*models.SuspiciousActivity, error)
	ListByEntity(ctx context.Context, entity id.Principal) ([]*models.SuspiciousActivity, error)
}

// Authority is the slice of the role registry oversight consumes.
type Authority interface {
	IsRegulator(ctx context.Context, principal id.Principal) (bool, error)
}

// BatchRegistry is the slice of the batch registry oversight consumes.
type BatchRegistry interface {
	GetBatchInfo(ctx context.Context, tokenID id.TokenID) (*batchmodels.Batch, error)
	GetBatchByBatchID(ctx context.Context, batchID string) (*batchmodels.Batch, error)
	TotalBatches(ctx context.Context) (uint64, error)
}

// TransferEngine is the slice of the transfer engine oversight consumes.
// Quarantine drives the freeze gate through it so a quarantined batch is
// also blocked from transfer.
type TransferEngine interface {
	FreezeBatch(ctx context.Context, batchID id.TokenID, reason string) error
	UnfreezeBatch(ctx context.Context, batchID id.TokenID, reason string) error
	IsBatchFrozen(ctx context.Context, batchID id.TokenID) (bool, error)
	GetComplianceStatus(ctx context.Context, batchID id.TokenID) (*transfermodels.ComplianceStatus, error)
	TotalTransfers(ctx context.Context) (uint64, error)
}

type Service struct {
	store      Store
	suspicious SuspiciousStore
	authority  Authority
	batches    BatchRegistry
	transfers  TransferEngine
	emitter    *audit.Emitter
	logger     *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithEmitter(emitter *audit.Emitter) Option {
	return func(s *Service) { s.emitter = emitter }
}

func New(store Store, suspicious SuspiciousStore, authority Authority, batches BatchRegistry, transfers TransferEngine, opts ...Option) *Service {
	s := &Service{
		store:      store,
		suspicious: suspicious,
		authority:  authority,
		batches:    batches,
		transfers:  transfers,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// OpenInvestigation opens an active case on an existing batch.
// Regulator-only. High and critical severities also raise an alert.
func (s *Service) OpenInvestigation(ctx context.Context, batchID id.TokenID, severity models.Severity, title, description string, affected []id.Principal) (id.InvestigationID, error) {
	if err := s.requireRegulator(ctx); err != nil {
		return 0, err
	}
	if !severity.Valid() {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "severity must be between 1 and 4")
	}
	if strings.TrimSpace(title) == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "title cannot be empty")
	}
	if len(affected) > models.MaxAffectedEntities {
		return 0, dErrors.New(dErrors.CodeLimitExceeded, "too many affected entities")
	}
	if _, err := s.batches.GetBatchInfo(ctx, batchID); err != nil {
		return 0, err
	}

	caller := requestcontext.Caller(ctx)
	now := requestcontext.Clock(ctx)
	inv := &models.Investigation{
		BatchID:          batchID,
		Investigator:     caller,
		Status:           models.InvestigationActive,
		Severity:         severity,
		Title:            title,
		Description:      description,
		OpenedAt:         now,
		AffectedEntities: affected,
	}
	invID, err := s.store.CreateInvestigation(ctx, inv)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create investigation")
	}
	investigationsOpened.Inc()

	if severity >= models.SeverityHigh {
		alert := &models.Alert{
			Type:      "investigation_opened",
			Severity:  severity,
			BatchID:   batchID,
			Message:   "investigation opened: " + title,
			CreatedBy: caller,
			CreatedAt: now,
		}
		if _, err := s.store.CreateAlert(ctx, alert); err != nil {
			s.logger.Error("failed to raise investigation alert",
				slog.String("investigation_id", invID.String()), slog.String("error", err.Error()))
		}
	}

	if err := s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventInvestigationOpened,
		Actor:   caller,
		BatchID: batchID,
		Reason:  title,
		Extra:   map[string]string{"investigation_id": invID.String()},
	}); err != nil {
		return 0, err
	}
	return invID, nil
}

// CloseInvestigation resolves an active case. Regulator-only, terminal.
func (s *Service) CloseInvestigation(ctx context.Context, invID id.InvestigationID, resolution, evidenceHash string) error {
	if err := s.requireRegulator(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(resolution) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "resolution cannot be empty")
	}

	now := requestcontext.Clock(ctx)
	inv, err := s.store.ExecuteInvestigation(ctx, invID,
		func(i *models.Investigation) error { return i.CanClose() },
		func(i *models.Investigation) { i.ApplyResolution(resolution, evidenceHash, now) },
	)
	if err != nil {
		return translateStoreErr(err, "investigation")
	}
	return s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventInvestigationClosed,
		Actor:   requestcontext.Caller(ctx),
		BatchID: inv.BatchID,
		Reason:  resolution,
		Extra:   map[string]string{"investigation_id": invID.String()},
	})
}

// DismissInvestigation closes an active case without a finding.
// Regulator-only, terminal.
func (s *Service) DismissInvestigation(ctx context.Context, invID id.InvestigationID, reason string) error {
	if err := s.requireRegulator(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "dismissal reason cannot be empty")
	}

	now := requestcontext.Clock(ctx)
	inv, err := s.store.ExecuteInvestigation(ctx, invID,
		func(i *models.Investigation) error { return i.CanClose() },
		func(i *models.Investigation) { i.ApplyDismissal(reason, now) },
	)
	if err != nil {
		return translateStoreErr(err, "investigation")
	}
	return s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventInvestigationDismissed,
		Actor:   requestcontext.Caller(ctx),
		BatchID: inv.BatchID,
		Reason:  reason,
		Extra:   map[string]string{"investigation_id": invID.String()},
	})
}

// GetInvestigation returns one case.
func (s *Service) GetInvestigation(ctx context.Context, invID id.InvestigationID) (*models.Investigation, error) {
	inv, err := s.store.GetInvestigation(ctx, invID)
	if err != nil {
		return nil, translateStoreErr(err, "investigation")
	}
	return inv, nil
}

// CreateAlert raises a standalone alert. Regulator-only.
func (s *Service) CreateAlert(ctx context.Context, alertType string, severity models.Severity, batchID id.TokenID, entity id.Principal, message string) (id.AlertID, error) {
	if err := s.requireRegulator(ctx); err != nil {
		return 0, err
	}
	if strings.TrimSpace(alertType) == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "alert type cannot be empty")
	}
	if !severity.Valid() {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "severity must be between 1 and 4")
	}
	if strings.TrimSpace(message) == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "message cannot be empty")
	}
	if batchID != 0 {
		if _, err := s.batches.GetBatchInfo(ctx, batchID); err != nil {
			return 0, err
		}
	}

	caller := requestcontext.Caller(ctx)
	alert := &models.Alert{
		Type:      alertType,
		Severity:  severity,
		BatchID:   batchID,
		Entity:    entity,
		Message:   message,
		CreatedBy: caller,
		CreatedAt: requestcontext.Clock(ctx),
	}
	alertID, err := s.store.CreateAlert(ctx, alert)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create alert")
	}
	if err := s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventAlertCreated,
		Actor:   caller,
		BatchID: batchID,
		Reason:  message,
		Extra:   map[string]string{"alert_id": alertID.String(), "alert_type": alertType},
	}); err != nil {
		return 0, err
	}
	return alertID, nil
}

// AcknowledgeAlert marks an alert handled. Regulator-only, one-way.
func (s *Service) AcknowledgeAlert(ctx context.Context, alertID id.AlertID) error {
	if err := s.requireRegulator(ctx); err != nil {
		return err
	}

	caller := requestcontext.Caller(ctx)
	now := requestcontext.Clock(ctx)
	alert, err := s.store.ExecuteAlert(ctx, alertID,
		func(a *models.Alert) error { return a.CanAcknowledge() },
		func(a *models.Alert) { a.ApplyAcknowledgment(caller, now) },
	)
	if err != nil {
		return translateStoreErr(err, "alert")
	}
	return s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventAlertAcknowledged,
		Actor:   caller,
		BatchID: alert.BatchID,
		Extra:   map[string]string{"alert_id": alertID.String()},
	})
}

// GetAlert returns one alert.
func (s *Service) GetAlert(ctx context.Context, alertID id.AlertID) (*models.Alert, error) {
	alert, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, translateStoreErr(err, "alert")
	}
	return alert, nil
}

// QuarantineBatch places a regulator hold on a batch and freezes it in
// the transfer engine in the same operation. An already-frozen batch is
// tolerated so quarantine can stack on a manual freeze.
func (s *Service) QuarantineBatch(ctx context.Context, batchID id.TokenID, reason string, investigationID id.InvestigationID) error {
	if err := s.requireRegulator(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "quarantine reason cannot be empty")
	}
	if _, err := s.batches.GetBatchInfo(ctx, batchID); err != nil {
		return err
	}
	if investigationID != 0 {
		if _, err := s.store.GetInvestigation(ctx, investigationID); err != nil {
			return translateStoreErr(err, "investigation")
		}
	}

	caller := requestcontext.Caller(ctx)
	now := requestcontext.Clock(ctx)
	record := &models.QuarantineRecord{
		BatchID:         batchID,
		QuarantinedBy:   caller,
		Date:            now,
		Reason:          reason,
		InvestigationID: investigationID,
	}
	if err := s.store.CreateQuarantine(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return dErrors.New(dErrors.CodeAlreadyExists, "batch is already quarantined")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create quarantine")
	}

	if err := s.transfers.FreezeBatch(ctx, batchID, "quarantine: "+reason); err != nil && !dErrors.HasCode(err, dErrors.CodeAlreadyExists) {
		return err
	}

	alert := &models.Alert{
		Type:      "batch_quarantined",
		Severity:  models.SeverityCritical,
		BatchID:   batchID,
		Message:   "batch quarantined: " + reason,
		CreatedBy: caller,
		CreatedAt: now,
	}
	if _, err := s.store.CreateAlert(ctx, alert); err != nil {
		s.logger.Error("failed to raise quarantine alert",
			slog.String("batch_id", batchID.String()), slog.String("error", err.Error()))
	}

	return s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventBatchQuarantined,
		Actor:   caller,
		BatchID: batchID,
		Reason:  reason,
	})
}

// ReleaseQuarantine lifts the hold and unfreezes the batch. A batch
// someone already unfroze is tolerated.
func (s *Service) ReleaseQuarantine(ctx context.Context, batchID id.TokenID, reason string) error {
	if err := s.requireRegulator(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "release reason cannot be empty")
	}

	caller := requestcontext.Caller(ctx)
	now := requestcontext.Clock(ctx)
	if _, err := s.store.ExecuteQuarantine(ctx, batchID,
		func(q *models.QuarantineRecord) error { return q.CanRelease() },
		func(q *models.QuarantineRecord) { q.ApplyRelease(caller, reason, now) },
	); err != nil {
		return translateStoreErr(err, "quarantine")
	}

	if err := s.transfers.UnfreezeBatch(ctx, batchID, "quarantine released: "+reason); err != nil && !dErrors.HasCode(err, dErrors.CodeInvalidState) {
		return err
	}

	return s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventQuarantineReleased,
		Actor:   caller,
		BatchID: batchID,
		Reason:  reason,
	})
}

// IsBatchQuarantined reports whether the batch has an active hold.
func (s *Service) IsBatchQuarantined(ctx context.Context, batchID id.TokenID) (bool, error) {
	record, err := s.store.GetQuarantine(ctx, batchID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read quarantine")
	}
	return !record.Released, nil
}

// GetQuarantine returns the batch's most recent hold.
func (s *Service) GetQuarantine(ctx context.Context, batchID id.TokenID) (*models.QuarantineRecord, error) {
	record, err := s.store.GetQuarantine(ctx, batchID)
	if err != nil {
		return nil, translateStoreErr(err, "quarantine")
	}
	return record, nil
}

// CreateAuditReport records a scored compliance assessment.
// Regulator-only. A score under 70 raises a high-severity alert.
func (s *Service) CreateAuditReport(ctx context.Context, reportType, scope, findings, recommendations string, score int, reviewedBatches []id.TokenID, reviewedEntities []id.Principal) (id.ReportID, error) {
	if err := s.requireRegulator(ctx); err != nil {
		return 0, err
	}
	if strings.TrimSpace(reportType) == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "report type cannot be empty")
	}
	if strings.TrimSpace(findings) == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "findings cannot be empty")
	}
	if score < 0 || score > 100 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "compliance score must be between 0 and 100")
	}
	if len(reviewedBatches) > models.MaxReviewedBatches {
		return 0, dErrors.New(dErrors.CodeLimitExceeded, "too many reviewed batches")
	}
	if len(reviewedEntities) > models.MaxReviewedEntities {
		return 0, dErrors.New(dErrors.CodeLimitExceeded, "too many reviewed entities")
	}

	caller := requestcontext.Caller(ctx)
	now := requestcontext.Clock(ctx)
	report := &models.AuditReport{
		Auditor:          caller,
		Type:             reportType,
		Scope:            scope,
		Findings:         findings,
		Recommendations:  recommendations,
		ComplianceScore:  score,
		ReviewedBatches:  reviewedBatches,
		ReviewedEntities: reviewedEntities,
		CreatedAt:        now,
	}
	reportID, err := s.store.CreateReport(ctx, report)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create report")
	}

	if score < 70 {
		alert := &models.Alert{
			Type:      "low_compliance_score",
			Severity:  models.SeverityHigh,
			Message:   "audit report scored below threshold: " + findings,
			CreatedBy: caller,
			CreatedAt: now,
		}
		if _, err := s.store.CreateAlert(ctx, alert); err != nil {
			s.logger.Error("failed to raise compliance alert",
				slog.String("report_id", reportID.String()), slog.String("error", err.Error()))
		}
	}

	if err := s.emitter.Emit(ctx, audit.Event{
		Action: audit.EventAuditReportCreated,
		Actor:  caller,
		Reason: reportType,
		Extra:  map[string]string{"report_id": reportID.String()},
	}); err != nil {
		return 0, err
	}
	return reportID, nil
}

// GetAuditReport returns one report.
func (s *Service) GetAuditReport(ctx context.Context, reportID id.ReportID) (*models.AuditReport, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, translateStoreErr(err, "report")
	}
	return report, nil
}

// FlagSuspiciousActivity bumps the accumulating counter for the entity
// and activity type. Regulator-only. Counts only grow.
func (s *Service) FlagSuspiciousActivity(ctx context.Context, entity id.Principal, activityType string, investigationID id.InvestigationID) (*models.SuspiciousActivity, error) {
	if err := s.requireRegulator(ctx); err != nil {
		return nil, err
	}
	if entity.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "entity is required")
	}
	if strings.TrimSpace(activityType) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "activity type cannot be empty")
	}
	if investigationID != 0 {
		if _, err := s.store.GetInvestigation(ctx, investigationID); err != nil {
			return nil, translateStoreErr(err, "investigation")
		}
	}

	caller := requestcontext.Caller(ctx)
	activity, err := s.suspicious.Record(ctx, entity, activityType, requestcontext.Clock(ctx), investigationID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record suspicious activity")
	}
	if err := s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventSuspiciousActivityFlagged,
		Actor:   caller,
		Subject: entity.String(),
		Reason:  activityType,
	}); err != nil {
		return nil, err
	}
	return activity, nil
}

// GetSuspiciousActivity returns all flagged activity for an entity.
// Regulator-only.
func (s *Service) GetSuspiciousActivity(ctx context.Context, entity id.Principal) ([]*models.SuspiciousActivity, error) {
	if err := s.requireRegulator(ctx); err != nil {
		return nil, err
	}
	activities, err := s.suspicious.ListByEntity(ctx, entity)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list suspicious activity")
	}
	return activities, nil
}

// VerifyBatchAuthenticityPublic is the unauthenticated consumer check.
// Every lookup is logged whether or not the batch exists; a found batch
// additionally lands in the consumer access log.
func (s *Service) VerifyBatchAuthenticityPublic(ctx context.Context, batchIdentifier, requester, method, location string) (*models.VerificationResult, error) {
	if strings.TrimSpace(batchIdentifier) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "batch identifier cannot be empty")
	}

	now := requestcontext.Clock(ctx)
	record := &models.VerificationRequest{
		ID:              uuid.New(),
		BatchIdentifier: batchIdentifier,
		Requester:       requester,
		Timestamp:       now,
		Method:          method,
		Location:        location,
	}

	batch, err := s.batches.GetBatchByBatchID(ctx, batchIdentifier)
	switch {
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		// not found: logged as an inauthentic lookup
	case err != nil:
		return nil, err
	default:
		record.Found = true
		record.Authentic = batch.IsValid(now)
	}

	if err := s.store.AppendVerification(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to log verification")
	}
	if record.Found {
		access := &models.ConsumerAccessLog{
			ID:        uuid.New(),
			BatchID:   batch.TokenID,
			Requester: requester,
			Timestamp: now,
			Method:    method,
			Location:  location,
		}
		if err := s.store.AppendConsumerAccess(ctx, access); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to log consumer access")
		}
	}
	publicVerifications.WithLabelValues(verificationOutcome(record)).Inc()

	event := audit.Event{
		Action:   audit.EventBatchVerified,
		Subject:  batchIdentifier,
		Decision: verificationOutcome(record),
		Extra:    map[string]string{"verification_id": record.ID.String()},
	}
	if record.Found {
		event.BatchID = batch.TokenID
	}
	if err := s.emitter.Emit(ctx, event); err != nil {
		return nil, err
	}

	return &models.VerificationResult{
		Authentic:      record.Authentic,
		Found:          record.Found,
		VerificationID: record.ID,
		Timestamp:      now,
	}, nil
}

// GetSystemOverview returns the running totals across all components.
// Regulator-only.
func (s *Service) GetSystemOverview(ctx context.Context) (*models.SystemOverview, error) {
	if err := s.requireRegulator(ctx); err != nil {
		return nil, err
	}

	overview := &models.SystemOverview{}
	var err error
	if overview.TotalBatches, err = s.batches.TotalBatches(ctx); err != nil {
		return nil, err
	}
	if overview.TotalTransfers, err = s.transfers.TotalTransfers(ctx); err != nil {
		return nil, err
	}
	if overview.TotalInvestigations, err = s.store.CountInvestigations(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count investigations")
	}
	if overview.TotalAlerts, err = s.store.CountAlerts(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count alerts")
	}
	if overview.TotalReports, err = s.store.CountReports(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count reports")
	}
	if overview.TotalVerifications, err = s.store.CountVerifications(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count verifications")
	}
	if overview.ActiveQuarantines, err = s.store.CountActiveQuarantines(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count quarantines")
	}
	return overview, nil
}

// GetBatchFullTracking folds registry, transfer, and quarantine state
// into one view of a batch. Regulator-only.
func (s *Service) GetBatchFullTracking(ctx context.Context, batchID id.TokenID) (*models.BatchTracking, error) {
	if err := s.requireRegulator(ctx); err != nil {
		return nil, err
	}

	batch, err := s.batches.GetBatchInfo(ctx, batchID)
	if err != nil {
		return nil, err
	}
	status, err := s.transfers.GetComplianceStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}

	tracking := &models.BatchTracking{
		TokenID:         batch.TokenID,
		BatchIdentifier: batch.BatchID,
		DrugName:        batch.DrugName,
		Owner:           batch.Owner,
		Active:          batch.Active,
		Frozen:          status.Frozen,
		TotalTransfers:  status.TotalTransfers,
		CustodyLength:   status.CustodyLength,
		AllCompliant:    status.AllTransfersCompliant,
	}

	record, err := s.store.GetQuarantine(ctx, batchID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read quarantine")
	default:
		tracking.Quarantine = record
		tracking.Quarantined = !record.Released
	}
	return tracking, nil
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

func verificationOutcome(record *models.VerificationRequest) string {
	switch {
	case !record.Found:
		return "not_found"
	case record.Authentic:
		return "authentic"
	default:
		return "not_authentic"
	}
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

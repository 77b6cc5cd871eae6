package service

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	batchservice "pharmatrace/internal/batch/service"
	batchstore "pharmatrace/internal/batch/store"
	"pharmatrace/internal/oversight/models"
	"pharmatrace/internal/oversight/store"
	rolemodels "pharmatrace/internal/roles/models"
	rolesservice "pharmatrace/internal/roles/service"
	rolesstore "pharmatrace/internal/roles/store"
	transferservice "pharmatrace/internal/transfer/service"
	transferstore "pharmatrace/internal/transfer/store"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/audit"
	auditmemory "pharmatrace/pkg/platform/audit/store/memory"
	"pharmatrace/pkg/testutil"
)

const (
	bootstrap    = id.Principal("bootstrap-admin")
	regulator    = id.Principal("reg-1")
	manufacturer = id.Principal("pharma-co")
	distributor  = id.Principal("dist-1")
)

type OversightServiceSuite struct {
	suite.Suite
	roles     *rolesservice.Service
	batches   *batchservice.Service
	transfers *transferservice.Service
	service   *Service
	events    *auditmemory.Store
	tokenID   id.TokenID
}

func (s *OversightServiceSuite) SetupTest() {
	s.events = auditmemory.New()
	emitter := audit.NewEmitter(s.events, slog.Default())
	s.roles = rolesservice.New(rolesstore.NewInMemory(), bootstrap, rolesservice.WithEmitter(emitter))
	s.batches = batchservice.New(batchstore.NewInMemory(), s.roles, batchservice.WithEmitter(emitter))
	s.transfers = transferservice.New(transferstore.NewInMemory(), s.roles, s.batches, transferservice.WithEmitter(emitter))
	s.service = New(store.NewInMemory(), store.NewSuspiciousMemory(), s.roles, s.batches, s.transfers,
		WithLogger(slog.Default()), WithEmitter(emitter))

	s.Require().NoError(s.roles.AddRegulator(testutil.Context(bootstrap, 1), regulator, "Agency"))
	regCtx := testutil.Context(regulator, 2)
	s.Require().NoError(s.roles.RegisterManufacturer(regCtx, manufacturer, "Pharma Co", "MFG-001"))
	s.Require().NoError(s.roles.ApproveManufacturer(regCtx, manufacturer))
	s.Require().NoError(s.roles.RegisterEntity(regCtx, distributor, rolemodels.RoleDistributor, "Dist One", "DST-001", "Lisbon"))
	s.Require().NoError(s.roles.ApproveEntity(regCtx, distributor))
	s.Require().NoError(s.transfers.SetTransferRule(regCtx, rolemodels.RoleManufacturer, rolemodels.RoleDistributor, true, false, 0))

	tokenID, err := s.batches.MintBatch(testutil.Context(manufacturer, 3), "Aspirin", "LOT-001", 1, 1000, 500)
	s.Require().NoError(err)
	s.tokenID = tokenID
}

func TestOversightServiceSuite(t *testing.T) {
	suite.Run(t, new(OversightServiceSuite))
}

func (s *OversightServiceSuite) TestOpenInvestigation() {
	s.Run("regulator opens an active case", func() {
		invID, err := s.service.OpenInvestigation(testutil.Context(regulator, 10), s.tokenID, models.SeverityLow, "odd labels", "labels do not match", nil)
		s.Require().NoError(err)

		inv, err := s.service.GetInvestigation(testutil.Context(regulator, 11), invID)
		s.Require().NoError(err)
		s.Equal(models.InvestigationActive, inv.Status)
		s.Equal(regulator, inv.Investigator)
		s.Equal(audit.EventInvestigationOpened, s.events.LastAction())
	})

	s.Run("high severity raises an alert alongside the case", func() {
		_, err := s.service.OpenInvestigation(testutil.Context(regulator, 12), s.tokenID, models.SeverityHigh, "counterfeit suspicion", "", nil)
		s.Require().NoError(err)

		alert, err := s.service.GetAlert(testutil.Context(regulator, 13), 1)
		s.Require().NoError(err)
		s.Equal("investigation_opened", alert.Type)
		s.Equal(models.SeverityHigh, alert.Severity)
		s.Equal(s.tokenID, alert.BatchID)
	})

	s.Run("non-regulator is rejected", func() {
		_, err := s.service.OpenInvestigation(testutil.Context(manufacturer, 10), s.tokenID, models.SeverityLow, "t", "", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("severity out of range", func() {
		_, err := s.service.OpenInvestigation(testutil.Context(regulator, 10), s.tokenID, 5, "t", "", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("empty title", func() {
		_, err := s.service.OpenInvestigation(testutil.Context(regulator, 10), s.tokenID, models.SeverityLow, "  ", "", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("too many affected entities", func() {
		affected := make([]id.Principal, models.MaxAffectedEntities+1)
		_, err := s.service.OpenInvestigation(testutil.Context(regulator, 10), s.tokenID, models.SeverityLow, "t", "", affected)
		s.True(dErrors.HasCode(err, dErrors.CodeLimitExceeded))
	})

	s.Run("unknown batch", func() {
		_, err := s.service.OpenInvestigation(testutil.Context(regulator, 10), 999, models.SeverityLow, "t", "", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *OversightServiceSuite) TestCloseAndDismiss() {
	open := func(tick uint64) id.InvestigationID {
		invID, err := s.service.OpenInvestigation(testutil.Context(regulator, tick), s.tokenID, models.SeverityLow, "case", "", nil)
		s.Require().NoError(err)
		return invID
	}

	s.Run("close records the resolution and evidence", func() {
		invID := open(10)
		s.Require().NoError(s.service.CloseInvestigation(testutil.Context(regulator, 11), invID, "counterfeit confirmed", "sha256:abc"))

		inv, err := s.service.GetInvestigation(testutil.Context(regulator, 12), invID)
		s.Require().NoError(err)
		s.Equal(models.InvestigationResolved, inv.Status)
		s.Equal("sha256:abc", inv.EvidenceHash)
		s.Equal(uint64(11), inv.ClosedAt)
	})

	s.Run("closing twice fails", func() {
		invID := open(13)
		s.Require().NoError(s.service.CloseInvestigation(testutil.Context(regulator, 14), invID, "done", ""))
		err := s.service.CloseInvestigation(testutil.Context(regulator, 15), invID, "again", "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("dismissal is terminal too", func() {
		invID := open(16)
		s.Require().NoError(s.service.DismissInvestigation(testutil.Context(regulator, 17), invID, "false alarm"))

		inv, err := s.service.GetInvestigation(testutil.Context(regulator, 18), invID)
		s.Require().NoError(err)
		s.Equal(models.InvestigationDismissed, inv.Status)

		err = s.service.DismissInvestigation(testutil.Context(regulator, 19), invID, "again")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("close requires a resolution", func() {
		invID := open(20)
		err := s.service.CloseInvestigation(testutil.Context(regulator, 21), invID, " ", "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown investigation", func() {
		err := s.service.CloseInvestigation(testutil.Context(regulator, 22), 999, "r", "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *OversightServiceSuite) TestAlerts() {
	s.Run("create and acknowledge", func() {
		alertID, err := s.service.CreateAlert(testutil.Context(regulator, 10), "expiry_warning", models.SeverityMedium, s.tokenID, "", "batch expires soon")
		s.Require().NoError(err)

		s.Require().NoError(s.service.AcknowledgeAlert(testutil.Context(regulator, 11), alertID))
		alert, err := s.service.GetAlert(testutil.Context(regulator, 12), alertID)
		s.Require().NoError(err)
		s.True(alert.Acknowledged)
		s.Equal(regulator, alert.AcknowledgedBy)

		err = s.service.AcknowledgeAlert(testutil.Context(regulator, 13), alertID)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
	})

	s.Run("batch-scoped alert requires an existing batch", func() {
		_, err := s.service.CreateAlert(testutil.Context(regulator, 10), "t", models.SeverityLow, 999, "", "m")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("entity-scoped alert needs no batch", func() {
		_, err := s.service.CreateAlert(testutil.Context(regulator, 10), "entity_flag", models.SeverityLow, 0, distributor, "watch this one")
		s.Require().NoError(err)
	})

	s.Run("validation", func() {
		_, err := s.service.CreateAlert(testutil.Context(regulator, 10), "", models.SeverityLow, 0, "", "m")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		_, err = s.service.CreateAlert(testutil.Context(regulator, 10), "t", 0, 0, "", "m")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		_, err = s.service.CreateAlert(testutil.Context(regulator, 10), "t", models.SeverityLow, 0, "", " ")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *OversightServiceSuite) TestQuarantineLifecycle() {
	s.Run("quarantine freezes the batch and raises a critical alert", func() {
		s.Require().NoError(s.service.QuarantineBatch(testutil.Context(regulator, 10), s.tokenID, "tampering suspected", 0))

		quarantined, err := s.service.IsBatchQuarantined(testutil.Context(regulator, 11), s.tokenID)
		s.Require().NoError(err)
		s.True(quarantined)

		frozen, err := s.transfers.IsBatchFrozen(testutil.Context(regulator, 11), s.tokenID)
		s.Require().NoError(err)
		s.True(frozen)

		alert, err := s.service.GetAlert(testutil.Context(regulator, 12), 1)
		s.Require().NoError(err)
		s.Equal("batch_quarantined", alert.Type)
		s.Equal(models.SeverityCritical, alert.Severity)

		_, err = s.transfers.InitiateTransfer(testutil.Context(manufacturer, 13), s.tokenID, distributor, "")
		s.True(dErrors.HasCode(err, dErrors.CodeBatchInactive))
	})

	s.Run("double quarantine fails", func() {
		err := s.service.QuarantineBatch(testutil.Context(regulator, 14), s.tokenID, "again", 0)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
	})

	s.Run("release unfreezes and allows transfer again", func() {
		s.Require().NoError(s.service.ReleaseQuarantine(testutil.Context(regulator, 15), s.tokenID, "cleared by lab"))

		quarantined, err := s.service.IsBatchQuarantined(testutil.Context(regulator, 16), s.tokenID)
		s.Require().NoError(err)
		s.False(quarantined)

		frozen, err := s.transfers.IsBatchFrozen(testutil.Context(regulator, 16), s.tokenID)
		s.Require().NoError(err)
		s.False(frozen)

		_, err = s.transfers.InitiateTransfer(testutil.Context(manufacturer, 17), s.tokenID, distributor, "")
		s.Require().NoError(err)
	})

	s.Run("released batch can be quarantined again", func() {
		s.Require().NoError(s.service.QuarantineBatch(testutil.Context(regulator, 18), s.tokenID, "second look", 0))
		record, err := s.service.GetQuarantine(testutil.Context(regulator, 19), s.tokenID)
		s.Require().NoError(err)
		s.Equal("second look", record.Reason)
		s.False(record.Released)
	})

	s.Run("quarantine against a quarantine already stacked on a manual freeze", func() {
		// The batch is frozen from the previous cycle; freeze tolerance
		// means release then re-quarantine still works.
		s.Require().NoError(s.service.ReleaseQuarantine(testutil.Context(regulator, 20), s.tokenID, "done"))
		s.Require().NoError(s.transfers.FreezeBatch(testutil.Context(regulator, 21), s.tokenID, "manual hold"))
		s.Require().NoError(s.service.QuarantineBatch(testutil.Context(regulator, 22), s.tokenID, "on top of manual freeze", 0))
	})

	s.Run("quarantine linked to an unknown investigation fails", func() {
		err := s.service.QuarantineBatch(testutil.Context(regulator, 23), s.tokenID, "r", 42)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("release without an active hold fails", func() {
		err := s.service.ReleaseQuarantine(testutil.Context(regulator, 24), 999, "r")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *OversightServiceSuite) TestCreateAuditReport() {
	regCtx := testutil.Context(regulator, 10)

	s.Run("passing score raises no alert", func() {
		reportID, err := s.service.CreateAuditReport(regCtx, "periodic", "Q3", "all good", "none", 92, []id.TokenID{s.tokenID}, []id.Principal{manufacturer})
		s.Require().NoError(err)

		report, err := s.service.GetAuditReport(regCtx, reportID)
		s.Require().NoError(err)
		s.Equal(92, report.ComplianceScore)

		_, err = s.service.GetAlert(regCtx, 1)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("low score raises a high-severity alert", func() {
		_, err := s.service.CreateAuditReport(regCtx, "incident", "dist-1", "cold chain broken", "revoke", 40, nil, nil)
		s.Require().NoError(err)

		alert, err := s.service.GetAlert(regCtx, 1)
		s.Require().NoError(err)
		s.Equal("low_compliance_score", alert.Type)
		s.Equal(models.SeverityHigh, alert.Severity)
	})

	s.Run("score bounds", func() {
		_, err := s.service.CreateAuditReport(regCtx, "t", "", "f", "", 101, nil, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		_, err = s.service.CreateAuditReport(regCtx, "t", "", "f", "", -1, nil, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("reviewed list caps", func() {
		batches := make([]id.TokenID, models.MaxReviewedBatches+1)
		_, err := s.service.CreateAuditReport(regCtx, "t", "", "f", "", 80, batches, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeLimitExceeded))

		entities := make([]id.Principal, models.MaxReviewedEntities+1)
		_, err = s.service.CreateAuditReport(regCtx, "t", "", "f", "", 80, nil, entities)
		s.True(dErrors.HasCode(err, dErrors.CodeLimitExceeded))
	})
}

func (s *OversightServiceSuite) TestSuspiciousActivity() {
	regCtx := testutil.Context(regulator, 10)

	first, err := s.service.FlagSuspiciousActivity(regCtx, distributor, "unusual_volume", 0)
	s.Require().NoError(err)
	s.Equal(uint64(1), first.Count)

	second, err := s.service.FlagSuspiciousActivity(testutil.Context(regulator, 12), distributor, "unusual_volume", 0)
	s.Require().NoError(err)
	s.Equal(uint64(2), second.Count)
	s.Equal(uint64(12), second.LastOccurrence)

	s.Run("link to an existing investigation", func() {
		invID, err := s.service.OpenInvestigation(testutil.Context(regulator, 13), s.tokenID, models.SeverityLow, "volume case", "", nil)
		s.Require().NoError(err)

		flagged, err := s.service.FlagSuspiciousActivity(testutil.Context(regulator, 14), distributor, "unusual_volume", invID)
		s.Require().NoError(err)
		s.Equal(invID, flagged.InvestigationID)
	})

	s.Run("unknown investigation is rejected", func() {
		_, err := s.service.FlagSuspiciousActivity(regCtx, distributor, "unusual_volume", 999)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("listing is regulator-only", func() {
		activities, err := s.service.GetSuspiciousActivity(regCtx, distributor)
		s.Require().NoError(err)
		s.Len(activities, 1)

		_, err = s.service.GetSuspiciousActivity(testutil.Context(distributor, 15), distributor)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *OversightServiceSuite) TestVerifyBatchAuthenticityPublic() {
	// No caller identity: the check is open to anyone.
	anon := testutil.Context("", 10)

	s.Run("valid batch verifies authentic", func() {
		result, err := s.service.VerifyBatchAuthenticityPublic(anon, "LOT-001", "203.0.113.9", "browser", "")
		s.Require().NoError(err)
		s.True(result.Found)
		s.True(result.Authentic)
		s.NotEmpty(result.VerificationID)
		s.Equal(audit.EventBatchVerified, s.events.LastAction())
	})

	s.Run("unknown identifier is logged and inauthentic", func() {
		result, err := s.service.VerifyBatchAuthenticityPublic(anon, "LOT-NOPE", "203.0.113.9", "browser", "")
		s.Require().NoError(err)
		s.False(result.Found)
		s.False(result.Authentic)
	})

	s.Run("expired batch is found but not authentic", func() {
		result, err := s.service.VerifyBatchAuthenticityPublic(testutil.Context("", 1000), "LOT-001", "", "api", "")
		s.Require().NoError(err)
		s.True(result.Found)
		s.False(result.Authentic)
	})

	s.Run("deactivated batch is found but not authentic", func() {
		s.Require().NoError(s.batches.DeactivateBatch(testutil.Context(regulator, 11), s.tokenID))
		result, err := s.service.VerifyBatchAuthenticityPublic(anon, "LOT-001", "", "api", "")
		s.Require().NoError(err)
		s.True(result.Found)
		s.False(result.Authentic)
	})

	s.Run("empty identifier", func() {
		_, err := s.service.VerifyBatchAuthenticityPublic(anon, "  ", "", "api", "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *OversightServiceSuite) TestSystemOverviewAndTracking() {
	regCtx := testutil.Context(regulator, 10)

	_, err := s.transfers.InitiateTransfer(testutil.Context(manufacturer, 10), s.tokenID, distributor, "")
	s.Require().NoError(err)
	_, err = s.service.OpenInvestigation(regCtx, s.tokenID, models.SeverityLow, "case", "", nil)
	s.Require().NoError(err)
	s.Require().NoError(s.service.QuarantineBatch(testutil.Context(regulator, 11), s.tokenID, "hold", 0))
	_, err = s.service.VerifyBatchAuthenticityPublic(testutil.Context("", 12), "LOT-001", "", "api", "")
	s.Require().NoError(err)

	s.Run("overview aggregates component totals", func() {
		overview, err := s.service.GetSystemOverview(testutil.Context(regulator, 13))
		s.Require().NoError(err)
		s.Equal(uint64(1), overview.TotalBatches)
		s.Equal(uint64(1), overview.TotalTransfers)
		s.Equal(uint64(1), overview.TotalInvestigations)
		s.Equal(uint64(1), overview.TotalAlerts, "quarantine raised one alert")
		s.Equal(uint64(1), overview.TotalVerifications)
		s.Equal(uint64(1), overview.ActiveQuarantines)
		s.Zero(overview.TotalReports)
	})

	s.Run("overview is regulator-only", func() {
		_, err := s.service.GetSystemOverview(testutil.Context(manufacturer, 13))
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("full tracking folds all three components", func() {
		tracking, err := s.service.GetBatchFullTracking(testutil.Context(regulator, 14), s.tokenID)
		s.Require().NoError(err)
		s.Equal("LOT-001", tracking.BatchIdentifier)
		s.Equal(distributor, tracking.Owner)
		s.True(tracking.Active)
		s.True(tracking.Frozen)
		s.True(tracking.Quarantined)
		s.Require().NotNil(tracking.Quarantine)
		s.Equal("hold", tracking.Quarantine.Reason)
		s.Equal(1, tracking.TotalTransfers)
		s.Equal(2, tracking.CustodyLength)
		s.True(tracking.AllCompliant)
	})

	s.Run("tracking of an unknown batch", func() {
		_, err := s.service.GetBatchFullTracking(testutil.Context(regulator, 14), 999)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

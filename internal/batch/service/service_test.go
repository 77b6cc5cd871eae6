package service

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"pharmatrace/internal/batch/store"
	rolesservice "pharmatrace/internal/roles/service"
	rolesstore "pharmatrace/internal/roles/store"
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
)

type BatchServiceSuite struct {
	suite.Suite
	roles   *rolesservice.Service
	service *Service
	events  *auditmemory.Store
}

func (s *BatchServiceSuite) SetupTest() {
	s.events = auditmemory.New()
	emitter := audit.NewEmitter(s.events, slog.Default())
	s.roles = rolesservice.New(rolesstore.NewInMemory(), bootstrap, rolesservice.WithEmitter(emitter))
	s.service = New(store.NewInMemory(), s.roles, WithLogger(slog.Default()), WithEmitter(emitter))

	s.Require().NoError(s.roles.AddRegulator(testutil.Context(bootstrap, 1), regulator, "Agency"))
	regCtx := testutil.Context(regulator, 2)
	s.Require().NoError(s.roles.RegisterManufacturer(regCtx, manufacturer, "Pharma Co", "MFG-001"))
	s.Require().NoError(s.roles.ApproveManufacturer(regCtx, manufacturer))
}

func TestBatchServiceSuite(t *testing.T) {
	suite.Run(t, new(BatchServiceSuite))
}

func (s *BatchServiceSuite) mint(batchID string) id.TokenID {
	tokenID, err := s.service.MintBatch(testutil.Context(manufacturer, 10), "Aspirin", batchID, 5, 100, 500)
	s.Require().NoError(err)
	return tokenID
}

func (s *BatchServiceSuite) TestMintBatch() {
	s.Run("approved manufacturer mints and owns the batch", func() {
		tokenID := s.mint("LOT-001")
		batch, err := s.service.GetBatchInfo(testutil.Context(manufacturer, 11), tokenID)
		s.Require().NoError(err)
		s.Equal(manufacturer, batch.Owner)
		s.Equal(manufacturer, batch.Manufacturer)
		s.True(batch.Active)
		s.Equal(audit.EventBatchMinted, s.events.LastAction())
	})

	s.Run("unapproved caller is rejected", func() {
		_, err := s.service.MintBatch(testutil.Context("rando", 10), "Aspirin", "LOT-X", 5, 100, 500)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("regulator cannot mint", func() {
		_, err := s.service.MintBatch(testutil.Context(regulator, 10), "Aspirin", "LOT-X", 5, 100, 500)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("duplicate external batch id", func() {
		s.mint("LOT-DUP")
		_, err := s.service.MintBatch(testutil.Context(manufacturer, 10), "Aspirin", "LOT-DUP", 5, 100, 500)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
	})

	s.Run("revoked manufacturer loses mint rights", func() {
		regCtx := testutil.Context(regulator, 12)
		s.Require().NoError(s.roles.RegisterManufacturer(regCtx, "short-lived", "SL", "MFG-002"))
		s.Require().NoError(s.roles.ApproveManufacturer(regCtx, "short-lived"))
		s.Require().NoError(s.roles.RevokeManufacturer(regCtx, "short-lived", "violations"))
		_, err := s.service.MintBatch(testutil.Context("short-lived", 13), "Aspirin", "LOT-Y", 5, 100, 500)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *BatchServiceSuite) TestTransfer() {
	tokenID := s.mint("LOT-T")

	s.Run("owner moves custody", func() {
		err := s.service.Transfer(testutil.Context(manufacturer, 20), tokenID, manufacturer, "dist-1")
		s.Require().NoError(err)
		owner, err := s.service.GetOwner(testutil.Context(manufacturer, 21), tokenID)
		s.Require().NoError(err)
		s.Equal(id.Principal("dist-1"), owner)
	})

	s.Run("caller must be the sender", func() {
		err := s.service.Transfer(testutil.Context("mallory", 22), tokenID, "dist-1", "mallory")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("sender must hold the batch", func() {
		err := s.service.Transfer(testutil.Context(manufacturer, 22), tokenID, manufacturer, "dist-2")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("expired batch cannot move", func() {
		err := s.service.Transfer(testutil.Context("dist-1", 100), tokenID, "dist-1", "ph-1")
		s.True(dErrors.HasCode(err, dErrors.CodeBatchExpired))
	})

	s.Run("unknown token id", func() {
		err := s.service.Transfer(testutil.Context(manufacturer, 22), 999, manufacturer, "dist-1")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *BatchServiceSuite) TestDeactivateBatch() {
	s.Run("owner deactivates", func() {
		tokenID := s.mint("LOT-D1")
		s.Require().NoError(s.service.DeactivateBatch(testutil.Context(manufacturer, 30), tokenID))
		ok, err := s.service.IsBatchValid(testutil.Context(manufacturer, 31), tokenID)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("regulator deactivates someone else's batch", func() {
		tokenID := s.mint("LOT-D2")
		s.Require().NoError(s.service.DeactivateBatch(testutil.Context(regulator, 30), tokenID))
	})

	s.Run("third party cannot deactivate", func() {
		tokenID := s.mint("LOT-D3")
		err := s.service.DeactivateBatch(testutil.Context("mallory", 30), tokenID)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("deactivation is terminal", func() {
		tokenID := s.mint("LOT-D4")
		s.Require().NoError(s.service.DeactivateBatch(testutil.Context(manufacturer, 30), tokenID))
		err := s.service.DeactivateBatch(testutil.Context(manufacturer, 31), tokenID)
		s.True(dErrors.HasCode(err, dErrors.CodeBatchInactive))
	})
}

func (s *BatchServiceSuite) TestLookups() {
	tokenID := s.mint("LOT-L")
	ctx := testutil.Context(manufacturer, 40)

	s.Run("by external batch id", func() {
		batch, err := s.service.GetBatchByBatchID(ctx, "LOT-L")
		s.Require().NoError(err)
		s.Equal(tokenID, batch.TokenID)

		_, err = s.service.GetBatchByBatchID(ctx, "LOT-NOPE")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		_, err = s.service.GetBatchByBatchID(ctx, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("validity is a pure predicate for unknown ids", func() {
		ok, err := s.service.IsBatchValid(ctx, 999)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("manufacturer listing and totals", func() {
		batches, err := s.service.GetManufacturerBatches(ctx, manufacturer)
		s.Require().NoError(err)
		s.NotEmpty(batches)

		total, err := s.service.TotalBatches(ctx)
		s.Require().NoError(err)
		s.Equal(uint64(len(batches)), total)
	})
}

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	rolemodels "pharmatrace/internal/roles/models"
	"pharmatrace/internal/transfer/models"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

type MemorySuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *MemorySuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestMemorySuite(t *testing.T) {
	suite.Run(t, new(MemorySuite))
}

func (s *MemorySuite) record(batchID id.TokenID, from, to id.Principal) *models.TransferRecord {
	return &models.TransferRecord{
		BatchID:   batchID,
		From:      from,
		To:        to,
		FromType:  rolemodels.RoleManufacturer,
		ToType:    rolemodels.RoleDistributor,
		Timestamp: 1,
		Status:    models.StatusCompliant,
	}
}

func (s *MemorySuite) TestSetRuleUpserts() {
	rule := &models.ComplianceRule{
		FromType: rolemodels.RoleManufacturer,
		ToType:   rolemodels.RoleDistributor,
		Allowed:  true,
	}
	s.Require().NoError(s.store.SetRule(s.ctx, rule))

	got, err := s.store.GetRule(s.ctx, rolemodels.RoleManufacturer, rolemodels.RoleDistributor)
	s.Require().NoError(err)
	s.True(got.Allowed)

	// Same pair, new policy. The second write wins.
	rule.Allowed = false
	rule.RequiresAuthorization = true
	s.Require().NoError(s.store.SetRule(s.ctx, rule))

	got, err = s.store.GetRule(s.ctx, rolemodels.RoleManufacturer, rolemodels.RoleDistributor)
	s.Require().NoError(err)
	s.False(got.Allowed)
	s.True(got.RequiresAuthorization)

	// The pair is ordered; the reverse direction has no rule.
	_, err = s.store.GetRule(s.ctx, rolemodels.RoleDistributor, rolemodels.RoleManufacturer)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemorySuite) TestCreateTransferAssignsIDsAndChains() {
	first, err := s.store.CreateTransfer(s.ctx, s.record(7, "m1", "d1"))
	s.Require().NoError(err)
	second, err := s.store.CreateTransfer(s.ctx, s.record(7, "d1", "p1"))
	s.Require().NoError(err)

	s.Equal(id.TransferID(1), first)
	s.Equal(id.TransferID(2), second)

	history, err := s.store.History(s.ctx, 7)
	s.Require().NoError(err)
	s.Len(history, 2)
	s.Equal(first, history[0].ID)
	s.Equal(second, history[1].ID)

	custody, err := s.store.Custody(s.ctx, 7)
	s.Require().NoError(err)
	s.Equal([]id.Principal{"m1", "d1", "p1"}, custody)
}

func (s *MemorySuite) TestCustodyDedupesRepeatedHolder() {
	// A rejected-then-retried transfer to the same recipient must not
	// duplicate the chain entry.
	_, err := s.store.CreateTransfer(s.ctx, s.record(7, "m1", "d1"))
	s.Require().NoError(err)
	_, err = s.store.CreateTransfer(s.ctx, s.record(7, "m1", "d1"))
	s.Require().NoError(err)

	custody, err := s.store.Custody(s.ctx, 7)
	s.Require().NoError(err)
	s.Equal([]id.Principal{"m1", "d1"}, custody)
}

func (s *MemorySuite) TestHistoryCapacity() {
	// Repeating the same pair keeps the custody chain at two entries
	// while the history grows to its cap.
	for i := 0; i < models.MaxTransferHistory; i++ {
		_, err := s.store.CreateTransfer(s.ctx, s.record(7, "m1", "d1"))
		s.Require().NoError(err)
	}
	_, err := s.store.CreateTransfer(s.ctx, s.record(7, "m1", "d1"))
	s.ErrorIs(err, sentinel.ErrCapacity)

	// Other batches are unaffected.
	_, err = s.store.CreateTransfer(s.ctx, s.record(8, "m1", "d1"))
	s.Require().NoError(err)
}

func (s *MemorySuite) TestCustodyCapacity() {
	for i := 0; i < models.MaxCustodyChain-1; i++ {
		from := id.Principal(rune('a' + i))
		to := id.Principal(rune('a' + i + 1))
		_, err := s.store.CreateTransfer(s.ctx, s.record(7, from, to))
		s.Require().NoError(err)
	}
	custody, err := s.store.Custody(s.ctx, 7)
	s.Require().NoError(err)
	s.Len(custody, models.MaxCustodyChain)

	_, err = s.store.CreateTransfer(s.ctx, s.record(7, custody[len(custody)-1], "overflow"))
	s.ErrorIs(err, sentinel.ErrCapacity)
}

func (s *MemorySuite) TestExecuteTransfer() {
	transferID, err := s.store.CreateTransfer(s.ctx, &models.TransferRecord{
		BatchID: 7, From: "m1", To: "d1", Status: models.StatusPendingAuthorization,
	})
	s.Require().NoError(err)

	updated, err := s.store.ExecuteTransfer(s.ctx, transferID,
		func(r *models.TransferRecord) error { return nil },
		func(r *models.TransferRecord) {
			r.Status = models.StatusApproved
			r.ComplianceChecked = true
		},
	)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, updated.Status)

	got, err := s.store.GetTransfer(s.ctx, transferID)
	s.Require().NoError(err)
	s.True(got.ComplianceChecked)

	_, err = s.store.ExecuteTransfer(s.ctx, 999,
		func(r *models.TransferRecord) error { return nil },
		func(r *models.TransferRecord) {},
	)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemorySuite) TestFreezeUnfreeze() {
	s.Require().NoError(s.store.Freeze(s.ctx, 7, "investigation"))

	frozen, err := s.store.IsFrozen(s.ctx, 7)
	s.Require().NoError(err)
	s.True(frozen)

	s.ErrorIs(s.store.Freeze(s.ctx, 7, "again"), sentinel.ErrDuplicate)

	s.Require().NoError(s.store.Unfreeze(s.ctx, 7))
	frozen, err = s.store.IsFrozen(s.ctx, 7)
	s.Require().NoError(err)
	s.False(frozen)

	s.ErrorIs(s.store.Unfreeze(s.ctx, 7), sentinel.ErrInvalidState)
}

func (s *MemorySuite) TestCountTransfers() {
	n, err := s.store.CountTransfers(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	_, err = s.store.CreateTransfer(s.ctx, s.record(7, "m1", "d1"))
	s.Require().NoError(err)

	n, err = s.store.CountTransfers(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(1), n)
}

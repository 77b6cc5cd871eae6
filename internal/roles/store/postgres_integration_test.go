//go:build integration

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"pharmatrace/internal/roles/models"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
	"pharmatrace/pkg/testutil/containers"
)

const licensesDDL = `
CREATE TABLE IF NOT EXISTS licenses (
    principal      TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    license_id     TEXT NOT NULL DEFAULT '',
    role           TEXT NOT NULL,
    location       TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    authorizer     TEXT NOT NULL DEFAULT '',
    registered_at  BIGINT NOT NULL,
    approved_at    BIGINT NOT NULL DEFAULT 0,
    revoked_at     BIGINT NOT NULL DEFAULT 0,
    revoke_reason  TEXT NOT NULL DEFAULT ''
)`

type PostgresSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *Postgres
	ctx   context.Context
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.pg.Exec(s.T(), licensesDDL)
	s.store = NewPostgres(s.pg.DB)
	s.ctx = context.Background()
}

func (s *PostgresSuite) SetupTest() {
	s.pg.Exec(s.T(), `TRUNCATE licenses`)
}

func (s *PostgresSuite) license(principal id.Principal, role models.RoleType) *models.License {
	license, err := models.NewLicense(principal, role, "Acme Pharma", "LIC-1", "Porto", 1)
	s.Require().NoError(err)
	return license
}

func (s *PostgresSuite) TestCreateAndGet() {
	created := s.license("mfr-1", models.RoleManufacturer)
	s.Require().NoError(s.store.Create(s.ctx, created))

	got, err := s.store.Get(s.ctx, "mfr-1")
	s.Require().NoError(err)
	s.Equal(created.Name, got.Name)
	s.Equal(created.LicenseID, got.LicenseID)
	s.Equal(models.StatusRegistered, got.Status)
	s.Equal(uint64(1), got.RegisteredAt)
}

func (s *PostgresSuite) TestCreateDuplicate() {
	s.Require().NoError(s.store.Create(s.ctx, s.license("mfr-1", models.RoleManufacturer)))

	err := s.store.Create(s.ctx, s.license("mfr-1", models.RoleManufacturer))
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrDuplicate))
}

func (s *PostgresSuite) TestGetMissing() {
	_, err := s.store.Get(s.ctx, "ghost")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresSuite) TestExecutePersistsMutation() {
	s.Require().NoError(s.store.Create(s.ctx, s.license("mfr-1", models.RoleManufacturer)))

	updated, err := s.store.Execute(s.ctx, "mfr-1",
		func(l *models.License) error { return l.CanApprove() },
		func(l *models.License) { l.ApplyApproval("reg-1", 5) },
	)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, updated.Status)

	got, err := s.store.Get(s.ctx, "mfr-1")
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, got.Status)
	s.Equal(id.Principal("reg-1"), got.Authorizer)
	s.Equal(uint64(5), got.ApprovedAt)
}

func (s *PostgresSuite) TestExecuteRollsBackOnValidationFailure() {
	s.Require().NoError(s.store.Create(s.ctx, s.license("mfr-1", models.RoleManufacturer)))

	boom := errors.New("boom")
	_, err := s.store.Execute(s.ctx, "mfr-1",
		func(*models.License) error { return boom },
		func(l *models.License) { l.ApplyApproval("reg-1", 5) },
	)
	s.Require().ErrorIs(err, boom)

	got, err := s.store.Get(s.ctx, "mfr-1")
	s.Require().NoError(err)
	s.Equal(models.StatusRegistered, got.Status)
}

func (s *PostgresSuite) TestExecuteMissing() {
	_, err := s.store.Execute(s.ctx, "ghost",
		func(*models.License) error { return nil },
		func(*models.License) {},
	)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresSuite) TestDelete() {
	s.Require().NoError(s.store.Create(s.ctx, s.license("reg-1", models.RoleRegulator)))
	s.Require().NoError(s.store.Delete(s.ctx, "reg-1"))

	_, err := s.store.Get(s.ctx, "reg-1")
	s.True(errors.Is(err, sentinel.ErrNotFound))

	s.True(errors.Is(s.store.Delete(s.ctx, "reg-1"), sentinel.ErrNotFound))
}

func (s *PostgresSuite) TestListFiltersByRole() {
	s.Require().NoError(s.store.Create(s.ctx, s.license("reg-1", models.RoleRegulator)))
	s.Require().NoError(s.store.Create(s.ctx, s.license("mfr-1", models.RoleManufacturer)))
	s.Require().NoError(s.store.Create(s.ctx, s.license("dist-1", models.RoleDistributor)))

	all, err := s.store.List(s.ctx, "")
	s.Require().NoError(err)
	s.Len(all, 3)

	manufacturers, err := s.store.List(s.ctx, models.RoleManufacturer)
	s.Require().NoError(err)
	s.Require().Len(manufacturers, 1)
	s.Equal(id.Principal("mfr-1"), manufacturers[0].Principal)
}

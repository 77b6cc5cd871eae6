package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"pharmatrace/internal/roles/models"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

// Postgres persists the license registry.
//
// Schema:
//
//	CREATE TABLE licenses (
//	    principal      TEXT PRIMARY KEY,
//	    name           TEXT NOT NULL,
//	    license_id     TEXT NOT NULL DEFAULT '',
//	    role           TEXT NOT NULL,
//	    location       TEXT NOT NULL DEFAULT '',
//	    status         TEXT NOT NULL,
//	    authorizer     TEXT NOT NULL DEFAULT '',
//	    registered_at  BIGINT NOT NULL,
//	    approved_at    BIGINT NOT NULL DEFAULT 0,
//	    revoked_at     BIGINT NOT NULL DEFAULT 0,
//	    revoke_reason  TEXT NOT NULL DEFAULT ''
//	);
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const licenseColumns = `principal, name, license_id, role, location, status, authorizer,
	registered_at, approved_at, revoked_at, revoke_reason`

func (s *Postgres) Create(ctx context.Context, license *models.License) error {
	const q = `
		INSERT INTO licenses (` + licenseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.db.ExecContext(ctx, q,
		license.Principal.String(), license.Name, license.LicenseID, string(license.Role),
		license.Location, string(license.Status), license.Authorizer.String(),
		license.RegisteredAt, license.ApprovedAt, license.RevokedAt, license.RevokeReason,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, principal id.Principal) (*models.License, error) {
	const q = `SELECT ` + licenseColumns + ` FROM licenses WHERE principal = $1`
	return scanLicense(s.db.QueryRowContext(ctx, q, principal.String()))
}

// Execute runs validate-then-mutate inside a transaction holding a row
// lock, matching the memory store's atomicity.
func (s *Postgres) Execute(ctx context.Context, principal id.Principal, validate func(*models.License) error, mutate func(*models.License)) (*models.License, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const sel = `SELECT ` + licenseColumns + ` FROM licenses WHERE principal = $1 FOR UPDATE`
	license, err := scanLicense(tx.QueryRowContext(ctx, sel, principal.String()))
	if err != nil {
		return nil, err
	}
	if err := validate(license); err != nil {
		return nil, err
	}
	mutate(license)

	const upd = `
		UPDATE licenses
		SET status = $2, authorizer = $3, approved_at = $4, revoked_at = $5, revoke_reason = $6
		WHERE principal = $1`
	if _, err := tx.ExecContext(ctx, upd,
		license.Principal.String(), string(license.Status), license.Authorizer.String(),
		license.ApprovedAt, license.RevokedAt, license.RevokeReason,
	); err != nil {
		return nil, fmt.Errorf("update license: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return license, nil
}

func (s *Postgres) Delete(ctx context.Context, principal id.Principal) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM licenses WHERE principal = $1`, principal.String())
	if err != nil {
		return fmt.Errorf("delete license: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) List(ctx context.Context, role models.RoleType) ([]*models.License, error) {
	q := `SELECT ` + licenseColumns + ` FROM licenses`
	args := []any{}
	if role != "" {
		q += ` WHERE role = $1`
		args = append(args, string(role))
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var out []*models.License
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, license)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*models.License, error) {
	var (
		license                             models.License
		principal, authorizer, role, status string
	)
	err := row.Scan(&principal, &license.Name, &license.LicenseID, &role, &license.Location,
		&status, &authorizer, &license.RegisteredAt, &license.ApprovedAt,
		&license.RevokedAt, &license.RevokeReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan license: %w", err)
	}
	license.Principal = id.Principal(principal)
	license.Authorizer = id.Principal(authorizer)
	license.Role = models.RoleType(role)
	license.Status = models.LicenseStatus(status)
	return &license, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	rolemodels "pharmatrace/internal/roles/models"
	"pharmatrace/internal/transfer/models"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

// Postgres persists the rule matrix, transfer records, and frozen set.
//
// Schema:
//
//	CREATE TABLE compliance_rules (
//	    from_type  TEXT NOT NULL,
//	    to_type    TEXT NOT NULL,
//	    allowed    BOOLEAN NOT NULL,
//	    requires_authorization BOOLEAN NOT NULL,
//	    max_transfer_time BIGINT NOT NULL DEFAULT 0,
//	    extra_checks TEXT NOT NULL DEFAULT '',
//	    set_by     TEXT NOT NULL,
//	    updated_at BIGINT NOT NULL,
//	    PRIMARY KEY (from_type, to_type)
//	);
//
//	CREATE TABLE transfers (
//	    id         BIGSERIAL PRIMARY KEY,
//	    batch_id   BIGINT NOT NULL,
//	    from_entity TEXT NOT NULL,
//	    to_entity  TEXT NOT NULL,
//	    from_type  TEXT NOT NULL,
//	    to_type    TEXT NOT NULL,
//	    ts         BIGINT NOT NULL,
//	    status     TEXT NOT NULL,
//	    compliance_checked BOOLEAN NOT NULL,
//	    authorizer TEXT NOT NULL DEFAULT '',
//	    authorized_at BIGINT NOT NULL DEFAULT 0,
//	    notes      TEXT NOT NULL DEFAULT '',
//	    authorization_notes TEXT NOT NULL DEFAULT ''
//	);
//	CREATE INDEX transfers_batch_idx ON transfers (batch_id, id);
//
//	CREATE TABLE custody_chain (
//	    batch_id BIGINT NOT NULL,
//	    position INT NOT NULL,
//	    holder   TEXT NOT NULL,
//	    PRIMARY KEY (batch_id, position)
//	);
//
//	CREATE TABLE frozen_batches (
//	    batch_id BIGINT PRIMARY KEY,
//	    reason   TEXT NOT NULL
//	);
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) SetRule(ctx context.Context, rule *models.ComplianceRule) error {
	const q = `
		INSERT INTO compliance_rules (from_type, to_type, allowed, requires_authorization, max_transfer_time, extra_checks, set_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (from_type, to_type) DO UPDATE
		SET allowed = EXCLUDED.allowed,
		    requires_authorization = EXCLUDED.requires_authorization,
		    max_transfer_time = EXCLUDED.max_transfer_time,
		    extra_checks = EXCLUDED.extra_checks,
		    set_by = EXCLUDED.set_by,
		    updated_at = EXCLUDED.updated_at`
	_, err := s.db.ExecContext(ctx, q,
		string(rule.FromType), string(rule.ToType), rule.Allowed, rule.RequiresAuthorization,
		rule.MaxTransferTime, rule.ExtraChecks, rule.SetBy.String(), rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("set rule: %w", err)
	}
	return nil
}

func (s *Postgres) GetRule(ctx context.Context, from, to rolemodels.RoleType) (*models.ComplianceRule, error) {
	const q = `
		SELECT from_type, to_type, allowed, requires_authorization, max_transfer_time, extra_checks, set_by, updated_at
		FROM compliance_rules WHERE from_type = $1 AND to_type = $2`
	var (
		rule                    models.ComplianceRule
		fromType, toType, setBy string
	)
	err := s.db.QueryRowContext(ctx, q, string(from), string(to)).Scan(
		&fromType, &toType, &rule.Allowed, &rule.RequiresAuthorization,
		&rule.MaxTransferTime, &rule.ExtraChecks, &setBy, &rule.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	rule.FromType = rolemodels.RoleType(fromType)
	rule.ToType = rolemodels.RoleType(toType)
	rule.SetBy = id.Principal(setBy)
	return &rule, nil
}

func (s *Postgres) CreateTransfer(ctx context.Context, record *models.TransferRecord) (id.TransferID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var historyLen int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transfers WHERE batch_id = $1`, uint64(record.BatchID),
	).Scan(&historyLen); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	if historyLen >= models.MaxTransferHistory {
		return 0, sentinel.ErrCapacity
	}

	var chainLen int
	var lastHolder sql.NullString
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(holder) FILTER (WHERE position = (SELECT MAX(position) FROM custody_chain WHERE batch_id = $1))
		 FROM custody_chain WHERE batch_id = $1`, uint64(record.BatchID),
	).Scan(&chainLen, &lastHolder); err != nil {
		return 0, fmt.Errorf("inspect custody chain: %w", err)
	}

	appendFrom := chainLen == 0
	appendTo := chainLen == 0 || lastHolder.String != record.To.String()
	needed := 0
	if appendFrom {
		needed++
	}
	if appendTo {
		needed++
	}
	if chainLen+needed > models.MaxCustodyChain {
		return 0, sentinel.ErrCapacity
	}

	const ins = `
		INSERT INTO transfers (batch_id, from_entity, to_entity, from_type, to_type, ts, status, compliance_checked, authorizer, authorized_at, notes, authorization_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	var transferID uint64
	if err := tx.QueryRowContext(ctx, ins,
		uint64(record.BatchID), record.From.String(), record.To.String(),
		string(record.FromType), string(record.ToType), record.Timestamp,
		string(record.Status), record.ComplianceChecked, record.Authorizer.String(),
		record.AuthorizedAt, record.Notes, record.AuthorizationNotes,
	).Scan(&transferID); err != nil {
		return 0, fmt.Errorf("insert transfer: %w", err)
	}

	pos := chainLen
	if appendFrom {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO custody_chain (batch_id, position, holder) VALUES ($1, $2, $3)`,
			uint64(record.BatchID), pos, record.From.String(),
		); err != nil {
			return 0, fmt.Errorf("append custody: %w", err)
		}
		pos++
	}
	if appendTo {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO custody_chain (batch_id, position, holder) VALUES ($1, $2, $3)`,
			uint64(record.BatchID), pos, record.To.String(),
		); err != nil {
			return 0, fmt.Errorf("append custody: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id.TransferID(transferID), nil
}

const transferColumns = `id, batch_id, from_entity, to_entity, from_type, to_type, ts, status, compliance_checked, authorizer, authorized_at, notes, authorization_notes`

func (s *Postgres) GetTransfer(ctx context.Context, transferID id.TransferID) (*models.TransferRecord, error) {
	const q = `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`
	return scanTransfer(s.db.QueryRowContext(ctx, q, uint64(transferID)))
}

func (s *Postgres) ExecuteTransfer(ctx context.Context, transferID id.TransferID, validate func(*models.TransferRecord) error, mutate func(*models.TransferRecord)) (*models.TransferRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const sel = `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1 FOR UPDATE`
	record, err := scanTransfer(tx.QueryRowContext(ctx, sel, uint64(transferID)))
	if err != nil {
		return nil, err
	}
	if err := validate(record); err != nil {
		return nil, err
	}
	mutate(record)

	const upd = `
		UPDATE transfers
		SET status = $2, compliance_checked = $3, authorizer = $4, authorized_at = $5, authorization_notes = $6
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, upd,
		uint64(record.ID), string(record.Status), record.ComplianceChecked,
		record.Authorizer.String(), record.AuthorizedAt, record.AuthorizationNotes,
	); err != nil {
		return nil, fmt.Errorf("update transfer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return record, nil
}

func (s *Postgres) History(ctx context.Context, batchID id.TokenID) ([]*models.TransferRecord, error) {
	const q = `SELECT ` + transferColumns + ` FROM transfers WHERE batch_id = $1 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, uint64(batchID))
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []*models.TransferRecord
	for rows.Next() {
		record, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *Postgres) Custody(ctx context.Context, batchID id.TokenID) ([]id.Principal, error) {
	const q = `SELECT holder FROM custody_chain WHERE batch_id = $1 ORDER BY position`
	rows, err := s.db.QueryContext(ctx, q, uint64(batchID))
	if err != nil {
		return nil, fmt.Errorf("list custody: %w", err)
	}
	defer rows.Close()

	var out []id.Principal
	for rows.Next() {
		var holder string
		if err := rows.Scan(&holder); err != nil {
			return nil, fmt.Errorf("scan custody: %w", err)
		}
		out = append(out, id.Principal(holder))
	}
	return out, rows.Err()
}

func (s *Postgres) Freeze(ctx context.Context, batchID id.TokenID, reason string) error {
	const q = `INSERT INTO frozen_batches (batch_id, reason) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	res, err := s.db.ExecContext(ctx, q, uint64(batchID), reason)
	if err != nil {
		return fmt.Errorf("freeze batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrDuplicate
	}
	return nil
}

func (s *Postgres) Unfreeze(ctx context.Context, batchID id.TokenID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM frozen_batches WHERE batch_id = $1`, uint64(batchID))
	if err != nil {
		return fmt.Errorf("unfreeze batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *Postgres) IsFrozen(ctx context.Context, batchID id.TokenID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM frozen_batches WHERE batch_id = $1)`, uint64(batchID),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check frozen: %w", err)
	}
	return exists, nil
}

func (s *Postgres) CountTransfers(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transfers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transfers: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*models.TransferRecord, error) {
	var (
		record                     models.TransferRecord
		recordID, batchID          uint64
		from, to, fromType, toType string
		status, authorizer         string
	)
	err := row.Scan(&recordID, &batchID, &from, &to, &fromType, &toType, &record.Timestamp,
		&status, &record.ComplianceChecked, &authorizer, &record.AuthorizedAt,
		&record.Notes, &record.AuthorizationNotes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transfer: %w", err)
	}
	record.ID = id.TransferID(recordID)
	record.BatchID = id.TokenID(batchID)
	record.From = id.Principal(from)
	record.To = id.Principal(to)
	record.FromType = rolemodels.RoleType(fromType)
	record.ToType = rolemodels.RoleType(toType)
	record.Status = models.TransferStatus(status)
	record.Authorizer = id.Principal(authorizer)
	return &record, nil
}

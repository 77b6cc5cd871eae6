package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"pharmatrace/internal/batch/models"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

// Postgres persists batch assets. The token id sequence is the table's
// BIGSERIAL; the external batch id index is a unique constraint.
//
// Schema:
//
//	CREATE TABLE batches (
//	    token_id        BIGSERIAL PRIMARY KEY,
//	    batch_id        TEXT NOT NULL UNIQUE,
//	    drug_name       TEXT NOT NULL,
//	    manufacturer    TEXT NOT NULL,
//	    production_date BIGINT NOT NULL,
//	    expiry_date     BIGINT NOT NULL,
//	    quantity        BIGINT NOT NULL,
//	    active          BOOLEAN NOT NULL,
//	    owner           TEXT NOT NULL
//	);
//	CREATE INDEX batches_manufacturer_idx ON batches (manufacturer);
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, batch *models.Batch) (id.TokenID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Capacity check and insert share the transaction so the cap cannot
	// be raced past.
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM batches WHERE manufacturer = $1`,
		batch.Manufacturer.String(),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count manufacturer batches: %w", err)
	}
	if count >= models.MaxManufacturerBatches {
		return 0, sentinel.ErrCapacity
	}

	const q = `
		INSERT INTO batches (batch_id, drug_name, manufacturer, production_date, expiry_date, quantity, active, owner)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING token_id`
	var tokenID uint64
	err = tx.QueryRowContext(ctx, q,
		batch.BatchID, batch.DrugName, batch.Manufacturer.String(),
		batch.ProductionDate, batch.ExpiryDate, batch.Quantity, batch.Active, batch.Owner.String(),
	).Scan(&tokenID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return 0, sentinel.ErrDuplicate
		}
		return 0, fmt.Errorf("insert batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id.TokenID(tokenID), nil
}

const batchColumns = `token_id, batch_id, drug_name, manufacturer, production_date, expiry_date, quantity, active, owner`

func (s *Postgres) Get(ctx context.Context, tokenID id.TokenID) (*models.Batch, error) {
	const q = `SELECT ` + batchColumns + ` FROM batches WHERE token_id = $1`
	return scanBatch(s.db.QueryRowContext(ctx, q, uint64(tokenID)))
}

func (s *Postgres) GetByBatchID(ctx context.Context, batchID string) (*models.Batch, error) {
	const q = `SELECT ` + batchColumns + ` FROM batches WHERE batch_id = $1`
	return scanBatch(s.db.QueryRowContext(ctx, q, batchID))
}

func (s *Postgres) Execute(ctx context.Context, tokenID id.TokenID, validate func(*models.Batch) error, mutate func(*models.Batch)) (*models.Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const sel = `SELECT ` + batchColumns + ` FROM batches WHERE token_id = $1 FOR UPDATE`
	batch, err := scanBatch(tx.QueryRowContext(ctx, sel, uint64(tokenID)))
	if err != nil {
		return nil, err
	}
	if err := validate(batch); err != nil {
		return nil, err
	}
	mutate(batch)

	const upd = `UPDATE batches SET active = $2, owner = $3 WHERE token_id = $1`
	if _, err := tx.ExecContext(ctx, upd, uint64(batch.TokenID), batch.Active, batch.Owner.String()); err != nil {
		return nil, fmt.Errorf("update batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return batch, nil
}

func (s *Postgres) ListByManufacturer(ctx context.Context, manufacturer id.Principal) ([]*models.Batch, error) {
	const q = `SELECT ` + batchColumns + ` FROM batches WHERE manufacturer = $1 ORDER BY token_id`
	rows, err := s.db.QueryContext(ctx, q, manufacturer.String())
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []*models.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, batch)
	}
	return out, rows.Err()
}

func (s *Postgres) Count(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count batches: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*models.Batch, error) {
	var (
		batch               models.Batch
		tokenID             uint64
		manufacturer, owner string
	)
	err := row.Scan(&tokenID, &batch.BatchID, &batch.DrugName, &manufacturer,
		&batch.ProductionDate, &batch.ExpiryDate, &batch.Quantity, &batch.Active, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	batch.TokenID = id.TokenID(tokenID)
	batch.Manufacturer = id.Principal(manufacturer)
	batch.Owner = id.Principal(owner)
	return &batch, nil
}

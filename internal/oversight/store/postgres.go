package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"pharmatrace/internal/oversight/models"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

// Postgres persists the oversight aggregates.
//
// Schema:
//
//	CREATE TABLE investigations (
//	    id            BIGSERIAL PRIMARY KEY,
//	    batch_id      BIGINT NOT NULL,
//	    investigator  TEXT NOT NULL,
//	    status        TEXT NOT NULL,
//	    severity      INT NOT NULL,
//	    title         TEXT NOT NULL,
//	    description   TEXT NOT NULL DEFAULT '',
//	    opened_at     BIGINT NOT NULL,
//	    closed_at     BIGINT NOT NULL DEFAULT 0,
//	    resolution    TEXT NOT NULL DEFAULT '',
//	    evidence_hash TEXT NOT NULL DEFAULT '',
//	    affected      TEXT[] NOT NULL DEFAULT '{}'
//	);
//
//	CREATE TABLE alerts (
//	    id              BIGSERIAL PRIMARY KEY,
//	    type            TEXT NOT NULL,
//	    severity        INT NOT NULL,
//	    batch_id        BIGINT NOT NULL DEFAULT 0,
//	    entity          TEXT NOT NULL DEFAULT '',
//	    message         TEXT NOT NULL,
//	    created_by      TEXT NOT NULL,
//	    created_at      BIGINT NOT NULL,
//	    acknowledged    BOOLEAN NOT NULL DEFAULT FALSE,
//	    acknowledged_by TEXT NOT NULL DEFAULT '',
//	    acknowledged_at BIGINT NOT NULL DEFAULT 0
//	);
//
//	CREATE TABLE quarantines (
//	    batch_id        BIGINT NOT NULL,
//	    cycle           INT NOT NULL,
//	    quarantined_by  TEXT NOT NULL,
//	    date            BIGINT NOT NULL,
//	    reason          TEXT NOT NULL,
//	    investigation_id BIGINT NOT NULL DEFAULT 0,
//	    released        BOOLEAN NOT NULL DEFAULT FALSE,
//	    release_date    BIGINT NOT NULL DEFAULT 0,
//	    released_by     TEXT NOT NULL DEFAULT '',
//	    release_reason  TEXT NOT NULL DEFAULT '',
//	    PRIMARY KEY (batch_id, cycle)
//	);
//
//	CREATE TABLE audit_reports (
//	    id               BIGSERIAL PRIMARY KEY,
//	    auditor          TEXT NOT NULL,
//	    type             TEXT NOT NULL,
//	    scope            TEXT NOT NULL DEFAULT '',
//	    findings         TEXT NOT NULL,
//	    recommendations  TEXT NOT NULL DEFAULT '',
//	    compliance_score INT NOT NULL,
//	    reviewed_batches BIGINT[] NOT NULL DEFAULT '{}',
//	    reviewed_entities TEXT[] NOT NULL DEFAULT '{}',
//	    created_at       BIGINT NOT NULL
//	);
//
//	CREATE TABLE verification_requests (
//	    id               UUID PRIMARY KEY,
//	    batch_identifier TEXT NOT NULL,
//	    requester        TEXT NOT NULL,
//	    ts               BIGINT NOT NULL,
//	    found            BOOLEAN NOT NULL,
//	    authentic        BOOLEAN NOT NULL,
//	    method           TEXT NOT NULL DEFAULT '',
//	    location         TEXT NOT NULL DEFAULT ''
//	);
//
//	CREATE TABLE consumer_access_log (
//	    id        UUID PRIMARY KEY,
//	    batch_id  BIGINT NOT NULL,
//	    requester TEXT NOT NULL,
//	    ts        BIGINT NOT NULL,
//	    method    TEXT NOT NULL DEFAULT '',
//	    location  TEXT NOT NULL DEFAULT ''
//	);
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) CreateInvestigation(ctx context.Context, inv *models.Investigation) (id.InvestigationID, error) {
	const q = `
		INSERT INTO investigations (batch_id, investigator, status, severity, title, description, opened_at, affected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	affected := make([]string, len(inv.AffectedEntities))
	for i, p := range inv.AffectedEntities {
		affected[i] = p.String()
	}
	var invID uint64
	err := s.db.QueryRowContext(ctx, q,
		uint64(inv.BatchID), inv.Investigator.String(), string(inv.Status), int(inv.Severity),
		inv.Title, inv.Description, inv.OpenedAt, pq.Array(affected),
	).Scan(&invID)
	if err != nil {
		return 0, fmt.Errorf("insert investigation: %w", err)
	}
	return id.InvestigationID(invID), nil
}

const investigationColumns = `id, batch_id, investigator, status, severity, title, description, opened_at, closed_at, resolution, evidence_hash, affected`

func (s *Postgres) GetInvestigation(ctx context.Context, invID id.InvestigationID) (*models.Investigation, error) {
	const q = `SELECT ` + investigationColumns + ` FROM investigations WHERE id = $1`
	return scanInvestigation(s.db.QueryRowContext(ctx, q, uint64(invID)))
}

func (s *Postgres) ExecuteInvestigation(ctx context.Context, invID id.InvestigationID, validate func(*models.Investigation) error, mutate func(*models.Investigation)) (*models.Investigation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const sel = `SELECT ` + investigationColumns + ` FROM investigations WHERE id = $1 FOR UPDATE`
	inv, err := scanInvestigation(tx.QueryRowContext(ctx, sel, uint64(invID)))
	if err != nil {
		return nil, err
	}
	if err := validate(inv); err != nil {
		return nil, err
	}
	mutate(inv)

	const upd = `
		UPDATE investigations
		SET status = $2, closed_at = $3, resolution = $4, evidence_hash = $5
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, upd,
		uint64(inv.ID), string(inv.Status), inv.ClosedAt, inv.Resolution, inv.EvidenceHash,
	); err != nil {
		return nil, fmt.Errorf("update investigation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return inv, nil
}

func (s *Postgres) CountInvestigations(ctx context.Context) (uint64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM investigations`)
}

func (s *Postgres) CreateAlert(ctx context.Context, alert *models.Alert) (id.AlertID, error) {
	const q = `
		INSERT INTO alerts (type, severity, batch_id, entity, message, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	var alertID uint64
	err := s.db.QueryRowContext(ctx, q,
		alert.Type, int(alert.Severity), uint64(alert.BatchID), alert.Entity.String(),
		alert.Message, alert.CreatedBy.String(), alert.CreatedAt,
	).Scan(&alertID)
	if err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	return id.AlertID(alertID), nil
}

const alertColumns = `id, type, severity, batch_id, entity, message, created_by, created_at, acknowledged, acknowledged_by, acknowledged_at`

func (s *Postgres) GetAlert(ctx context.Context, alertID id.AlertID) (*models.Alert, error) {
	const q = `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	return scanAlert(s.db.QueryRowContext(ctx, q, uint64(alertID)))
}

func (s *Postgres) ExecuteAlert(ctx context.Context, alertID id.AlertID, validate func(*models.Alert) error, mutate func(*models.Alert)) (*models.Alert, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const sel = `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1 FOR UPDATE`
	alert, err := scanAlert(tx.QueryRowContext(ctx, sel, uint64(alertID)))
	if err != nil {
		return nil, err
	}
	if err := validate(alert); err != nil {
		return nil, err
	}
	mutate(alert)

	const upd = `UPDATE alerts SET acknowledged = $2, acknowledged_by = $3, acknowledged_at = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, upd,
		uint64(alert.ID), alert.Acknowledged, alert.AcknowledgedBy.String(), alert.AcknowledgedAt,
	); err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return alert, nil
}

func (s *Postgres) CountAlerts(ctx context.Context) (uint64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM alerts`)
}

func (s *Postgres) CreateQuarantine(ctx context.Context, record *models.QuarantineRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var cycle int
	var activeExists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(cycle), 0),
		       COALESCE(BOOL_OR(NOT released), FALSE)
		FROM quarantines WHERE batch_id = $1`, uint64(record.BatchID),
	).Scan(&cycle, &activeExists); err != nil {
		return fmt.Errorf("inspect quarantines: %w", err)
	}
	if activeExists {
		return sentinel.ErrDuplicate
	}

	const ins = `
		INSERT INTO quarantines (batch_id, cycle, quarantined_by, date, reason, investigation_id)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, ins,
		uint64(record.BatchID), cycle+1, record.QuarantinedBy.String(),
		record.Date, record.Reason, uint64(record.InvestigationID),
	); err != nil {
		return fmt.Errorf("insert quarantine: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const quarantineColumns = `batch_id, quarantined_by, date, reason, investigation_id, released, release_date, released_by, release_reason`

func (s *Postgres) GetQuarantine(ctx context.Context, batchID id.TokenID) (*models.QuarantineRecord, error) {
	const q = `SELECT ` + quarantineColumns + ` FROM quarantines WHERE batch_id = $1 ORDER BY cycle DESC LIMIT 1`
	return scanQuarantine(s.db.QueryRowContext(ctx, q, uint64(batchID)))
}

func (s *Postgres) ExecuteQuarantine(ctx context.Context, batchID id.TokenID, validate func(*models.QuarantineRecord) error, mutate func(*models.QuarantineRecord)) (*models.QuarantineRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var cycle int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(cycle), 0) FROM quarantines WHERE batch_id = $1`, uint64(batchID),
	).Scan(&cycle); err != nil {
		return nil, fmt.Errorf("inspect quarantines: %w", err)
	}
	if cycle == 0 {
		return nil, sentinel.ErrNotFound
	}

	const sel = `SELECT ` + quarantineColumns + ` FROM quarantines WHERE batch_id = $1 AND cycle = $2 FOR UPDATE`
	record, err := scanQuarantine(tx.QueryRowContext(ctx, sel, uint64(batchID), cycle))
	if err != nil {
		return nil, err
	}
	if err := validate(record); err != nil {
		return nil, err
	}
	mutate(record)

	const upd = `
		UPDATE quarantines
		SET released = $3, release_date = $4, released_by = $5, release_reason = $6
		WHERE batch_id = $1 AND cycle = $2`
	if _, err := tx.ExecContext(ctx, upd,
		uint64(batchID), cycle, record.Released, record.ReleaseDate,
		record.ReleasedBy.String(), record.ReleaseReason,
	); err != nil {
		return nil, fmt.Errorf("update quarantine: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return record, nil
}

func (s *Postgres) CountActiveQuarantines(ctx context.Context) (uint64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM quarantines WHERE NOT released`)
}

func (s *Postgres) CreateReport(ctx context.Context, report *models.AuditReport) (id.ReportID, error) {
	const q = `
		INSERT INTO audit_reports (auditor, type, scope, findings, recommendations, compliance_score, reviewed_batches, reviewed_entities, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	batches := make([]int64, len(report.ReviewedBatches))
	for i, b := range report.ReviewedBatches {
		batches[i] = int64(b)
	}
	entities := make([]string, len(report.ReviewedEntities))
	for i, e := range report.ReviewedEntities {
		entities[i] = e.String()
	}
	var reportID uint64
	err := s.db.QueryRowContext(ctx, q,
		report.Auditor.String(), report.Type, report.Scope, report.Findings,
		report.Recommendations, report.ComplianceScore,
		pq.Array(batches), pq.Array(entities), report.CreatedAt,
	).Scan(&reportID)
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	return id.ReportID(reportID), nil
}

func (s *Postgres) GetReport(ctx context.Context, reportID id.ReportID) (*models.AuditReport, error) {
	const q = `
		SELECT id, auditor, type, scope, findings, recommendations, compliance_score, reviewed_batches, reviewed_entities, created_at
		FROM audit_reports WHERE id = $1`
	var (
		report           models.AuditReport
		rid              uint64
		auditor          string
		reviewedBatches  pq.Int64Array
		reviewedEntities pq.StringArray
	)
	err := s.db.QueryRowContext(ctx, q, uint64(reportID)).Scan(
		&rid, &auditor, &report.Type, &report.Scope, &report.Findings,
		&report.Recommendations, &report.ComplianceScore,
		&reviewedBatches, &reviewedEntities, &report.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}
	report.ID = id.ReportID(rid)
	report.Auditor = id.Principal(auditor)
	for _, b := range reviewedBatches {
		report.ReviewedBatches = append(report.ReviewedBatches, id.TokenID(b))
	}
	for _, e := range reviewedEntities {
		report.ReviewedEntities = append(report.ReviewedEntities, id.Principal(e))
	}
	return &report, nil
}

func (s *Postgres) CountReports(ctx context.Context) (uint64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM audit_reports`)
}

func (s *Postgres) AppendVerification(ctx context.Context, record *models.VerificationRequest) error {
	const q = `
		INSERT INTO verification_requests (id, batch_identifier, requester, ts, found, authentic, method, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.db.ExecContext(ctx, q,
		record.ID, record.BatchIdentifier, record.Requester, record.Timestamp,
		record.Found, record.Authentic, record.Method, record.Location,
	); err != nil {
		return fmt.Errorf("append verification: %w", err)
	}
	return nil
}

func (s *Postgres) AppendConsumerAccess(ctx context.Context, record *models.ConsumerAccessLog) error {
	const q = `
		INSERT INTO consumer_access_log (id, batch_id, requester, ts, method, location)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.db.ExecContext(ctx, q,
		record.ID, uint64(record.BatchID), record.Requester, record.Timestamp,
		record.Method, record.Location,
	); err != nil {
		return fmt.Errorf("append consumer access: %w", err)
	}
	return nil
}

func (s *Postgres) CountVerifications(ctx context.Context) (uint64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM verification_requests`)
}

func (s *Postgres) count(ctx context.Context, query string) (uint64, error) {
	var n uint64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvestigation(row rowScanner) (*models.Investigation, error) {
	var (
		inv                  models.Investigation
		invID, batchID       uint64
		investigator, status string
		severity             int
		affected             pq.StringArray
	)
	err := row.Scan(&invID, &batchID, &investigator, &status, &severity, &inv.Title,
		&inv.Description, &inv.OpenedAt, &inv.ClosedAt, &inv.Resolution, &inv.EvidenceHash, &affected)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan investigation: %w", err)
	}
	inv.ID = id.InvestigationID(invID)
	inv.BatchID = id.TokenID(batchID)
	inv.Investigator = id.Principal(investigator)
	inv.Status = models.InvestigationStatus(status)
	inv.Severity = models.Severity(severity)
	for _, p := range affected {
		inv.AffectedEntities = append(inv.AffectedEntities, id.Principal(p))
	}
	return &inv, nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		alert                    models.Alert
		alertID, batchID         uint64
		severity                 int
		entity, createdBy, ackBy string
	)
	err := row.Scan(&alertID, &alert.Type, &severity, &batchID, &entity, &alert.Message,
		&createdBy, &alert.CreatedAt, &alert.Acknowledged, &ackBy, &alert.AcknowledgedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	alert.ID = id.AlertID(alertID)
	alert.Severity = models.Severity(severity)
	alert.BatchID = id.TokenID(batchID)
	alert.Entity = id.Principal(entity)
	alert.CreatedBy = id.Principal(createdBy)
	alert.AcknowledgedBy = id.Principal(ackBy)
	return &alert, nil
}

func scanQuarantine(row rowScanner) (*models.QuarantineRecord, error) {
	var (
		record                    models.QuarantineRecord
		batchID, investigationID  uint64
		quarantinedBy, releasedBy string
	)
	err := row.Scan(&batchID, &quarantinedBy, &record.Date, &record.Reason, &investigationID,
		&record.Released, &record.ReleaseDate, &releasedBy, &record.ReleaseReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan quarantine: %w", err)
	}
	record.BatchID = id.TokenID(batchID)
	record.QuarantinedBy = id.Principal(quarantinedBy)
	record.InvestigationID = id.InvestigationID(investigationID)
	record.ReleasedBy = id.Principal(releasedBy)
	return &record, nil
}

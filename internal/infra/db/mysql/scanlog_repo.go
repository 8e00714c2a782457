package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bryanwahyu/vscanbot/internal/domain/scanlog"
)

const createScanLog = `
CREATE TABLE IF NOT EXISTS scan_log (
  id             BIGINT AUTO_INCREMENT PRIMARY KEY,
  request_id     VARCHAR(64)   NOT NULL,
  kind           VARCHAR(16)   NOT NULL,
  subject        VARCHAR(2048) NOT NULL,
  outcome        VARCHAR(16)   NOT NULL,
  severity       VARCHAR(16)   NOT NULL DEFAULT '',
  malicious      INT           NOT NULL DEFAULT 0,
  suspicious     INT           NOT NULL DEFAULT 0,
  total_engines  INT           NOT NULL DEFAULT 0,
  report_link    VARCHAR(512)  NOT NULL DEFAULT '',
  error_kind     VARCHAR(32)   NOT NULL DEFAULT '',
  error_message  VARCHAR(512)  NOT NULL DEFAULT '',
  created_at     DATETIME(3)   NOT NULL,
  UNIQUE KEY uq_scan_log_request (request_id),
  KEY idx_scan_log_created (created_at)
)`

type ScanLogRepository struct{ db *sql.DB }

func NewScanLogRepository(db *sql.DB) *ScanLogRepository { return &ScanLogRepository{db: db} }

// Migrate creates the audit table when missing.
func (r *ScanLogRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createScanLog); err != nil {
		return fmt.Errorf("migrate scan_log: %w", err)
	}
	return nil
}

// Save inserts one entry. A repeated request id keeps the first row.
func (r *ScanLogRepository) Save(ctx context.Context, e *scanlog.Entry) error {
	const q = `
INSERT IGNORE INTO scan_log
(request_id, kind, subject, outcome, severity,
 malicious, suspicious, total_engines, report_link,
 error_kind, error_message, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`

	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, q,
		e.RequestID, stringOrDash(e.Kind), e.Subject, string(e.Outcome), e.Severity,
		e.Malicious, e.Suspicious, e.TotalEngines, e.ReportLink,
		e.ErrorKind, e.ErrorMessage, created,
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// Latest entries, newest first
func (r *ScanLogRepository) Latest(ctx context.Context, limit int) ([]*scanlog.Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, request_id, kind, subject, outcome, severity,
       malicious, suspicious, total_engines, report_link,
       error_kind, error_message, created_at
FROM scan_log
ORDER BY created_at DESC, id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*scanlog.Entry
	for rows.Next() {
		var e scanlog.Entry
		if err := rows.Scan(
			&e.ID, &e.RequestID, &e.Kind, &e.Subject, &e.Outcome, &e.Severity,
			&e.Malicious, &e.Suspicious, &e.TotalEngines, &e.ReportLink,
			&e.ErrorKind, &e.ErrorMessage, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Summary counts entries created at or after since.
func (r *ScanLogRepository) Summary(ctx context.Context, since time.Time) (scanlog.Summary, error) {
	const q = `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN outcome='verdicted' AND severity='safe' THEN 1 ELSE 0 END),0),
       COALESCE(SUM(CASE WHEN outcome='verdicted' AND severity='suspicious' THEN 1 ELSE 0 END),0),
       COALESCE(SUM(CASE WHEN outcome='verdicted' AND severity='malicious' THEN 1 ELSE 0 END),0),
       COALESCE(SUM(CASE WHEN outcome='failed' THEN 1 ELSE 0 END),0)
FROM scan_log
WHERE created_at >= ?`
	var s scanlog.Summary
	err := r.db.QueryRowContext(ctx, q, since.UTC()).Scan(&s.Total, &s.Safe, &s.Suspicious, &s.Malicious, &s.Failed)
	return s, err
}

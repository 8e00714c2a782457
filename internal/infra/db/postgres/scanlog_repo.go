package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bryanwahyu/vscanbot/internal/domain/scanlog"
)

const createScanLog = `
CREATE TABLE IF NOT EXISTS scan_log (
  id             BIGSERIAL PRIMARY KEY,
  request_id     VARCHAR(64)  NOT NULL UNIQUE,
  kind           VARCHAR(16)  NOT NULL,
  subject        TEXT         NOT NULL,
  outcome        VARCHAR(16)  NOT NULL,
  severity       VARCHAR(16)  NOT NULL DEFAULT '',
  malicious      INT          NOT NULL DEFAULT 0,
  suspicious     INT          NOT NULL DEFAULT 0,
  total_engines  INT          NOT NULL DEFAULT 0,
  report_link    TEXT         NOT NULL DEFAULT '',
  error_kind     VARCHAR(32)  NOT NULL DEFAULT '',
  error_message  TEXT         NOT NULL DEFAULT '',
  created_at     TIMESTAMPTZ  NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_log_created ON scan_log (created_at);`

type ScanLogRepository struct{ db *sql.DB }

func NewScanLogRepository(db *sql.DB) *ScanLogRepository { return &ScanLogRepository{db: db} }

func (r *ScanLogRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createScanLog); err != nil {
		return fmt.Errorf("migrate scan_log: %w", err)
	}
	return nil
}

// Save inserts one entry; a repeated request id is ignored.
func (r *ScanLogRepository) Save(ctx context.Context, e *scanlog.Entry) error {
	const q = `
INSERT INTO scan_log
(request_id, kind, subject, outcome, severity,
 malicious, suspicious, total_engines, report_link,
 error_kind, error_message, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (request_id) DO NOTHING
RETURNING id;`

	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	kind := e.Kind
	if strings.TrimSpace(kind) == "" {
		kind = "-"
	}
	err := r.db.QueryRowContext(ctx, q,
		e.RequestID, kind, e.Subject, string(e.Outcome), e.Severity,
		e.Malicious, e.Suspicious, e.TotalEngines, e.ReportLink,
		e.ErrorKind, e.ErrorMessage, created,
	).Scan(&e.ID)
	if err == sql.ErrNoRows {
		// conflict, row already present
		return nil
	}
	return err
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
LIMIT $1;`
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

func (r *ScanLogRepository) Summary(ctx context.Context, since time.Time) (scanlog.Summary, error) {
	const q = `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE outcome='verdicted' AND severity='safe'),
       COUNT(*) FILTER (WHERE outcome='verdicted' AND severity='suspicious'),
       COUNT(*) FILTER (WHERE outcome='verdicted' AND severity='malicious'),
       COUNT(*) FILTER (WHERE outcome='failed')
FROM scan_log
WHERE created_at >= $1;`
	var s scanlog.Summary
	err := r.db.QueryRowContext(ctx, q, since).Scan(&s.Total, &s.Safe, &s.Suspicious, &s.Malicious, &s.Failed)
	return s, err
}

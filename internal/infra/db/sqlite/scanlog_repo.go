package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/vscanbot/internal/domain/scanlog"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var _ scanlog.Repository = (*ScanLogRepository)(nil)

type ScanLogRepository struct{ db *sql.DB }

// NewScanLogRepository initialises the schema and returns the repository.
func NewScanLogRepository(ctx context.Context, db *sql.DB) (*ScanLogRepository, error) {
	r := &ScanLogRepository{db: db}
	if err := r.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *ScanLogRepository) migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	var version int
	err := r.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// index 0 migrates v0 to v1
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS scan_log (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id    TEXT NOT NULL UNIQUE,
			kind          TEXT NOT NULL,
			subject       TEXT NOT NULL,
			outcome       TEXT NOT NULL,
			severity      TEXT NOT NULL DEFAULT '',
			malicious     INTEGER NOT NULL DEFAULT 0,
			suspicious    INTEGER NOT NULL DEFAULT 0,
			total_engines INTEGER NOT NULL DEFAULT 0,
			report_link   TEXT NOT NULL DEFAULT '',
			error_kind    TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_log_created ON scan_log(created_at)`,
	}
	for i := version; i < len(migrations); i++ {
		if _, err := r.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := r.db.ExecContext(ctx, `UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}
	return nil
}

func (r *ScanLogRepository) Save(ctx context.Context, e *scanlog.Entry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO scan_log
		(request_id, kind, subject, outcome, severity,
		 malicious, suspicious, total_engines, report_link,
		 error_kind, error_message, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.RequestID, e.Kind, e.Subject, string(e.Outcome), e.Severity,
		e.Malicious, e.Suspicious, e.TotalEngines, e.ReportLink,
		e.ErrorKind, e.ErrorMessage, created.UTC().Format(timeLayout),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		e.ID, _ = res.LastInsertId()
	}
	return nil
}

func (r *ScanLogRepository) Latest(ctx context.Context, limit int) ([]*scanlog.Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, request_id, kind, subject, outcome, severity,
		       malicious, suspicious, total_engines, report_link,
		       error_kind, error_message, created_at
		FROM scan_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*scanlog.Entry
	for rows.Next() {
		var (
			e       scanlog.Entry
			created string
		)
		if err := rows.Scan(
			&e.ID, &e.RequestID, &e.Kind, &e.Subject, &e.Outcome, &e.Severity,
			&e.Malicious, &e.Suspicious, &e.TotalEngines, &e.ReportLink,
			&e.ErrorKind, &e.ErrorMessage, &created,
		); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", created, err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *ScanLogRepository) Summary(ctx context.Context, since time.Time) (scanlog.Summary, error) {
	var s scanlog.Summary
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(outcome='verdicted' AND severity='safe'),0),
		       COALESCE(SUM(outcome='verdicted' AND severity='suspicious'),0),
		       COALESCE(SUM(outcome='verdicted' AND severity='malicious'),0),
		       COALESCE(SUM(outcome='failed'),0)
		FROM scan_log
		WHERE created_at >= ?`, since.UTC().Format(timeLayout),
	).Scan(&s.Total, &s.Safe, &s.Suspicious, &s.Malicious, &s.Failed)
	return s, err
}

package scanlog

import (
	"context"
	"errors"
	"time"

	"github.com/bryanwahyu/vscanbot/internal/application"
	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
	"github.com/bryanwahyu/vscanbot/internal/domain/scanlog"
)

const (
	defaultLimit = 20
	maxLimit     = 100
	maxDays      = 365
)

// Service keeps the scan audit log. It is a Recorder for the pipeline and
// backs the read-only audit endpoints.
// Service is safe for concurrent use when Repo is.
type Service struct {
	Repo  scanlog.Repository
	Clock application.Clock
}

func NewService(repo scanlog.Repository, clock application.Clock) *Service {
	if clock == nil {
		clock = application.SystemClock{}
	}
	return &Service{Repo: repo, Clock: clock}
}

// Record stores the terminal outcome of one request.
func (s *Service) Record(ctx context.Context, req domain.Request, v *domain.Verdict, err error) error {
	return s.Repo.Save(ctx, NewEntry(req, v, err, s.Clock.Now()))
}

// Latest returns the most recent entries, newest first.
func (s *Service) Latest(ctx context.Context, limit int) ([]*scanlog.Entry, error) {
	return s.Repo.Latest(ctx, ClampLimit(limit))
}

// Summary aggregates entries of the last sinceDays days.
func (s *Service) Summary(ctx context.Context, sinceDays int) (scanlog.Summary, error) {
	if sinceDays <= 0 {
		sinceDays = 7
	}
	if sinceDays > maxDays {
		sinceDays = maxDays
	}
	since := s.Clock.Now().AddDate(0, 0, -sinceDays)
	return s.Repo.Summary(ctx, since)
}

// NewEntry builds the audit record. Exactly one of v and err is expected.
func NewEntry(req domain.Request, v *domain.Verdict, err error, now time.Time) *scanlog.Entry {
	e := &scanlog.Entry{
		RequestID: req.ID,
		Kind:      string(req.Kind),
		Subject:   req.Subject(),
		CreatedAt: now.UTC(),
	}
	if err != nil || v == nil {
		e.Outcome = scanlog.OutcomeFailed
		e.ErrorKind = "internal"
		if err != nil {
			e.ErrorMessage = truncate(err.Error(), 512)
		}
		var pe *domain.ProviderError
		var oe *domain.OversizeError
		switch {
		case errors.As(err, &pe):
			e.ErrorKind = string(pe.Kind)
		case errors.As(err, &oe):
			e.ErrorKind = "oversize"
		}
		return e
	}
	e.Outcome = scanlog.OutcomeVerdicted
	e.Severity = string(v.Severity())
	e.Malicious = v.MaliciousCount
	e.Suspicious = v.SuspiciousCount
	e.TotalEngines = v.TotalEngines
	e.ReportLink = v.ReportLink
	return e
}

// ClampLimit validates a page size: default 20, max 100.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

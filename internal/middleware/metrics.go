package middleware

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
)

// Metrics holds process counters. The zero value is not usable; call
// NewMetrics.
type Metrics struct {
	RequestsTotal      atomic.Uint64
	RequestsInProgress atomic.Int64
	RequestsFailed     atomic.Uint64
	UpdatesTotal       atomic.Uint64
	ScansTotal         atomic.Uint64
	ScansFailed        atomic.Uint64
	ScansRateLimited   atomic.Uint64
	ScansOversize      atomic.Uint64
	VerdictsSafe       atomic.Uint64
	VerdictsSuspicious atomic.Uint64
	VerdictsMalicious  atomic.Uint64
	StartTime          time.Time

	// Sessions reports the live conversation count, optional.
	Sessions func() int
}

func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// Record implements the pipeline Recorder port.
func (m *Metrics) Record(_ context.Context, _ domain.Request, v *domain.Verdict, err error) error {
	m.ScansTotal.Add(1)
	if err != nil || v == nil {
		m.ScansFailed.Add(1)
		var pe *domain.ProviderError
		var oe *domain.OversizeError
		switch {
		case errors.As(err, &pe) && pe.Kind == domain.RateLimited:
			m.ScansRateLimited.Add(1)
		case errors.As(err, &oe):
			m.ScansOversize.Add(1)
		}
		return nil
	}
	switch v.Severity() {
	case domain.SeverityMalicious:
		m.VerdictsMalicious.Add(1)
	case domain.SeveritySuspicious:
		m.VerdictsSuspicious.Add(1)
	default:
		m.VerdictsSafe.Add(1)
	}
	return nil
}

// Snapshot returns current metrics
func (m *Metrics) Snapshot() map[string]any {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	out := map[string]any{
		"requests_total":       m.RequestsTotal.Load(),
		"requests_in_progress": m.RequestsInProgress.Load(),
		"requests_failed":      m.RequestsFailed.Load(),
		"updates_total":        m.UpdatesTotal.Load(),
		"scans_total":          m.ScansTotal.Load(),
		"scans_failed":         m.ScansFailed.Load(),
		"scans_rate_limited":   m.ScansRateLimited.Load(),
		"scans_oversize":       m.ScansOversize.Load(),
		"verdicts": map[string]uint64{
			"safe":       m.VerdictsSafe.Load(),
			"suspicious": m.VerdictsSuspicious.Load(),
			"malicious":  m.VerdictsMalicious.Load(),
		},
		"uptime_seconds": time.Since(m.StartTime).Seconds(),
		"memory": map[string]any{
			"alloc_bytes":       mem.Alloc,
			"total_alloc_bytes": mem.TotalAlloc,
			"sys_bytes":         mem.Sys,
			"num_gc":            mem.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
	if m.Sessions != nil {
		out["sessions_active"] = m.Sessions()
	}
	return out
}

// Middleware tracks request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.RequestsTotal.Add(1)
		m.RequestsInProgress.Add(1)
		defer m.RequestsInProgress.Add(-1)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 400 {
			m.RequestsFailed.Add(1)
		}
	})
}

// Handler returns metrics as JSON
func (m *Metrics) Handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.Snapshot())
}

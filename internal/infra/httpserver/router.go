package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/bryanwahyu/vscanbot/internal/domain/chat"
	"github.com/bryanwahyu/vscanbot/internal/domain/scanlog"
	"github.com/bryanwahyu/vscanbot/internal/middleware"
)

const maxUpdateBytes = 1 << 20

// UpdateHandler processes one webhook update to completion.
type UpdateHandler interface {
	Handle(ctx context.Context, u chat.Update) error
}

// AuditLog backs the read-only admin endpoints.
type AuditLog interface {
	Latest(ctx context.Context, limit int) ([]*scanlog.Entry, error)
	Summary(ctx context.Context, sinceDays int) (scanlog.Summary, error)
}

type Options struct {
	Updates     UpdateHandler
	WebhookPath string
	// WebhookSecret enables the secret header check when set.
	WebhookSecret string

	// Audit and AdminKeys enable /scans; both are required.
	Audit       AuditLog
	AdminKeys   map[string]string
	CORSOrigins []string

	Checkers map[string]middleware.HealthChecker
	Metrics  *middleware.Metrics
	// Limiter throttles the admin endpoints per client address, optional.
	Limiter *middleware.RateLimiter
	// BaseContext bounds update processing. Cancelling it aborts in-flight
	// updates; a client disconnect does not.
	BaseContext context.Context
	Logger      *zap.Logger
}

type Router struct {
	updates UpdateHandler
	audit   AuditLog
	metrics *middleware.Metrics
	base    context.Context
	logger  *zap.Logger
}

func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = middleware.NewMetrics()
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.WebhookPath == "" {
		opts.WebhookPath = "/webhook"
	}
	r := &Router{
		updates: opts.Updates,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		base:    opts.BaseContext,
		logger:  opts.Logger.Named("httpserver"),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Logging(opts.Logger))
	mux.Use(opts.Metrics.Middleware)

	mux.Get("/", middleware.LivenessHandler)
	mux.Get("/ready", middleware.ReadinessHandler(opts.Checkers))
	mux.Get("/metrics", opts.Metrics.Handler)

	mux.With(middleware.WebhookSecret(opts.WebhookSecret)).
		Post(opts.WebhookPath, r.wrap(r.handleWebhook))

	if opts.Audit != nil && len(opts.AdminKeys) > 0 {
		mux.Group(func(rt chi.Router) {
			rt.Use(cors.Handler(cors.Options{
				AllowedOrigins: opts.CORSOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodOptions},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
				MaxAge:         300,
			}))
			if opts.Limiter != nil {
				rt.Use(middleware.RateLimitMiddleware(opts.Limiter))
			}
			rt.Use(middleware.APIKeyAuth(opts.AdminKeys))
			rt.Get("/scans", r.wrap(r.handleLatest))
			rt.Get("/scans/summary", r.wrap(r.handleSummary))
		})
	}
	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks client errors.
type badRequest struct{ err error }

func (e *badRequest) Error() string { return e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var br *badRequest
		if errors.As(err, &br) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": br.Error()})
			return
		}
		r.logger.Error("handler failed", zap.String("path", req.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// POST /webhook
func (r *Router) handleWebhook(w http.ResponseWriter, req *http.Request) error {
	var u chat.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxUpdateBytes)).Decode(&u); err != nil {
		return &badRequest{err: errors.New("invalid update payload")}
	}
	r.metrics.UpdatesTotal.Add(1)

	ctx, cancel := context.WithCancel(context.WithoutCancel(req.Context()))
	defer cancel()
	stop := context.AfterFunc(r.base, cancel)
	defer stop()

	if err := r.updates.Handle(ctx, u); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	return nil
}

// GET /scans?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	limit, err := intParam(req, "limit")
	if err != nil {
		return err
	}
	list, err := r.audit.Latest(req.Context(), limit)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*scanlog.Entry{}
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// GET /scans/summary?days=7
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	days, err := intParam(req, "days")
	if err != nil {
		return err
	}
	summary, err := r.audit.Summary(req.Context(), days)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, summary)
	return nil
}

func intParam(req *http.Request, name string) (int, error) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &badRequest{err: errors.New(name + " must be an integer")}
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

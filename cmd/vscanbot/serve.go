package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/bryanwahyu/vscanbot/internal/application"
	"github.com/bryanwahyu/vscanbot/internal/application/analysis"
	"github.com/bryanwahyu/vscanbot/internal/application/dispatch"
	"github.com/bryanwahyu/vscanbot/internal/application/narration"
	"github.com/bryanwahyu/vscanbot/internal/application/pipeline"
	appscanlog "github.com/bryanwahyu/vscanbot/internal/application/scanlog"
	"github.com/bryanwahyu/vscanbot/internal/config"
	"github.com/bryanwahyu/vscanbot/internal/domain/ai"
	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
	"github.com/bryanwahyu/vscanbot/internal/domain/scanlog"
	"github.com/bryanwahyu/vscanbot/internal/infra/ai/gemini"
	"github.com/bryanwahyu/vscanbot/internal/infra/ai/openai"
	"github.com/bryanwahyu/vscanbot/internal/infra/ai/prompt"
	mysqlp "github.com/bryanwahyu/vscanbot/internal/infra/db/mysql"
	"github.com/bryanwahyu/vscanbot/internal/infra/db/postgres"
	"github.com/bryanwahyu/vscanbot/internal/infra/db/sqlite"
	"github.com/bryanwahyu/vscanbot/internal/infra/events"
	"github.com/bryanwahyu/vscanbot/internal/infra/httpserver"
	"github.com/bryanwahyu/vscanbot/internal/infra/i18n"
	"github.com/bryanwahyu/vscanbot/internal/infra/netinfo"
	"github.com/bryanwahyu/vscanbot/internal/infra/storage"
	"github.com/bryanwahyu/vscanbot/internal/infra/telegram"
	"github.com/bryanwahyu/vscanbot/internal/infra/virustotal"
	"github.com/bryanwahyu/vscanbot/internal/middleware"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the webhook server",
		Action: serve,
	}
}

// stager is the staging backend as seen by serve.
type stager interface {
	domain.Stager
	Ping(ctx context.Context) error
}

func serve(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if err := cfg.RequireSecrets(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tg := telegram.NewClient(telegram.Options{Token: cfg.Telegram.Token, BaseURL: cfg.Telegram.BaseURL, Logger: logger})
	me, err := tg.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	if cfg.Bot.Username != "" && me.Username != cfg.Bot.Username {
		logger.Warn("bot username differs from config",
			zap.String("telegram", me.Username), zap.String("config", cfg.Bot.Username))
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	vt := virustotal.NewClient(virustotal.Options{
		APIKey:       cfg.Scan.APIKey,
		BaseURL:      cfg.Scan.BaseURL,
		Timeout:      cfg.APITimeout(),
		ScanTimeout:  cfg.ScanTimeout(),
		PollInterval: cfg.PollInterval(),
		Logger:       logger,
	})
	analyzer := analysis.NewClient(analysis.Options{
		Provider:      vt,
		ReportBaseURL: cfg.Scan.ReportBaseURL,
		MaxAttempts:   cfg.Scan.MaxAttempts,
		RetryDelay:    cfg.RetryDelay(),
		Logger:        logger,
	})

	st, err := newStager(ctx, cfg)
	if err != nil {
		return err
	}

	metrics := middleware.NewMetrics()
	recorders := []domain.Recorder{metrics}
	checkers := map[string]middleware.HealthChecker{
		"staging": middleware.CheckFunc(st.Ping),
	}

	var audit *appscanlog.Service
	repo, db, err := openAudit(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
		audit = appscanlog.NewService(repo, application.SystemClock{})
		recorders = append(recorders, audit)
	}

	if cfg.Redis.URL != "" {
		pub, err := events.NewPublisher(events.Config{
			URL:     cfg.Redis.URL,
			Channel: cfg.Redis.Channel,
			Timeout: cfg.RedisTimeout(),
			Retries: cfg.Redis.Retries,
		}, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		checkers["redis"] = middleware.CheckFunc(pub.Ping)
		recorders = append(recorders, pub)
	}

	pipe := pipeline.New(pipeline.Options{
		Analyzer:      analyzer,
		Source:        tg,
		Stager:        st,
		MaxFileSize:   cfg.Scan.MaxFileSize,
		Recorders:     recorders,
		RecordTimeout: cfg.RecordTimeout(),
		Logger:        logger,
	})

	model, closeModel, err := newModel(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeModel()
	narrator := narration.New(narration.Options{
		Model:        model,
		SystemPrompt: prompt.Builder{BotName: cfg.Bot.Name}.System,
		Translator:   catalog,
		Logger:       logger,
	})

	flood := middleware.NewRateLimiter(cfg.Bot.FloodBurst, cfg.FloodRate())
	go flood.Run(ctx, 5*time.Minute)
	httpLimit := middleware.NewRateLimiter(30, 1)
	go httpLimit.Run(ctx, 5*time.Minute)

	var limiter dispatch.Limiter
	if cfg.FloodEnabled() {
		limiter = flood
	}
	router := dispatch.NewRouter(dispatch.Options{
		Transport:        tg,
		Translator:       catalog,
		Pipeline:         pipe,
		Narrator:         narrator,
		IPLookup:         netinfo.NewResolver("", time.Minute),
		Limiter:          limiter,
		AllowedLanguages: cfg.Bot.AllowedLanguages,
		DefaultLanguage:  cfg.Bot.DefaultLanguage,
		BotName:          cfg.Bot.Name,
		MaxFileSize:      cfg.Scan.MaxFileSize,
		SessionTTL:       cfg.SessionTTL(),
		Logger:           logger,
	})
	go router.Run(ctx)
	metrics.Sessions = router.ActiveSessions

	httpOpts := httpserver.Options{
		Updates:       router,
		WebhookPath:   cfg.Server.WebhookPath,
		WebhookSecret: cfg.Telegram.SecretToken,
		AdminKeys:     cfg.Admin.APIKeys,
		CORSOrigins:   cfg.Admin.CORSOrigins,
		Checkers:      checkers,
		Metrics:       metrics,
		Limiter:       httpLimit,
		BaseContext:   ctx,
		Logger:        logger,
	}
	if audit != nil {
		httpOpts.Audit = audit
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpserver.NewRouter(httpOpts),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", addr),
			zap.String("bot", me.Username),
			zap.Bool("model", narrator.HasModel()),
			zap.String("staging", cfg.Staging.Backend),
			zap.String("database", cfg.Database.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	// drain recordings before the deferred sink Close calls run
	pipe.Wait()
	return nil
}

func loadCatalog(cfg *config.Config) (*i18n.Catalog, error) {
	if cfg.Bot.LocalesDir != "" {
		cat, err := i18n.Load(os.DirFS(cfg.Bot.LocalesDir), cfg.Bot.DefaultLanguage)
		if err != nil {
			return nil, fmt.Errorf("locales %s: %w", cfg.Bot.LocalesDir, err)
		}
		return cat, nil
	}
	return i18n.Builtin()
}

func newStager(ctx context.Context, cfg *config.Config) (stager, error) {
	if cfg.Staging.Backend != "minio" {
		return storage.NewDisk(cfg.Staging.Dir), nil
	}
	store, err := storage.NewObjectStore(ctx, storage.ObjectStoreOptions{
		Endpoint:  cfg.Minio.Endpoint,
		Region:    cfg.Minio.Region,
		Bucket:    cfg.Minio.BucketName,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		UseSSL:    cfg.Minio.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio init: %w", err)
	}
	return store, nil
}

// openAudit connects the scan audit log. It returns a nil db when the audit
// log is disabled.
func openAudit(ctx context.Context, cfg *config.Config) (scanlog.Repository, *sql.DB, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite open: %w", err)
		}
		repo, err := sqlite.NewScanLogRepository(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, db, nil
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("mysql connect: %w", err)
		}
		repo := mysqlp.NewScanLogRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, db, nil
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		repo := postgres.NewScanLogRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, db, nil
	default:
		return nil, nil, nil
	}
}

// newModel returns nil when narration runs without a language model.
func newModel(ctx context.Context, cfg *config.Config) (ai.LanguageModel, func(), error) {
	noop := func() {}
	if !cfg.ModelEnabled() {
		return nil, noop, nil
	}
	switch cfg.Model.Provider {
	case "gemini":
		g, err := gemini.NewClient(ctx, cfg.Model.GeminiAPIKey, cfg.Model.GeminiModel)
		if err != nil {
			return nil, noop, err
		}
		return g, func() { g.Close() }, nil
	default:
		return openai.NewClient(cfg.Model.APIKey, cfg.Model.Endpoint, cfg.Model.Name), noop, nil
	}
}

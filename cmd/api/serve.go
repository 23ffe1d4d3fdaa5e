package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"peopleapi/internal/database"
	"peopleapi/internal/database/migration"
	handlers "peopleapi/internal/http/handler"
	"peopleapi/internal/http/middleware"
	"peopleapi/internal/notify"
	tracing "peopleapi/internal/otel"
	"peopleapi/internal/repository/postgres"
	"peopleapi/internal/service"
	"peopleapi/internal/storage"
	"peopleapi/internal/upload"
	"peopleapi/internal/validation"
)

const (
	shutdownTimeout  = 10 * time.Second
	defaultBodyLimit = 4 * 1024 * 1024
)

func (a *app) serve(cmd *cobra.Command) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	cfg, log := a.cfg, a.log

	shutdownTracing, err := tracing.Init(ctx, log)
	if err != nil {
		return fail(log, "tracing_init_failed", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	db, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return fail(log, "db_connect_failed", err)
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
		return err
	}

	store, err := storage.Open(cfg)
	if err != nil {
		return fail(log, "storage_init_failed", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	uploadMetrics, err := upload.NewMetrics(reg)
	if err != nil {
		return fail(log, "metrics_init_failed", err)
	}
	promMw, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return fail(log, "metrics_init_failed", err)
	}

	avatars := upload.NewSink(store, upload.Policy{
		Subfolder:    cfg.Avatar.Subfolder,
		AllowedTypes: cfg.Avatar.AllowedTypes,
		MaxSize:      cfg.Avatar.MaxBytes,
		Message:      cfg.Avatar.ErrorMessage,
	}, upload.WithMetrics(uploadMetrics), upload.WithLogger(log))

	people := postgres.NewPersonPostgres(db)
	validator, err := validation.New(people)
	if err != nil {
		return fail(log, "validator_init_failed", err)
	}

	hub := notify.NewHub(log, nil)
	defer hub.Close()

	personSvc := service.NewPersonService(people, avatars, validator,
		service.BcryptHasher{Cost: cfg.BcryptCost},
		service.WithNotifier(hub),
		service.WithLogger(log),
	)

	bodyLimit := defaultBodyLimit
	if n := int(cfg.Avatar.MaxBytes) + 64*1024; n > bodyLimit {
		bodyLimit = n
	}
	app := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler(),
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(otelfiber.Middleware())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(log))
	app.Use(promMw.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	handlers.RegisterRoutes(app, db, personSvc)
	if cfg.Storage.Backend == storage.BackendLocal {
		handlers.ServeUploads(app, cfg.Storage.URLPrefix, cfg.Storage.Root)
	}

	handlers.RegisterDocs(app)

	notifySrv := notify.NewServer(cfg.NotifyAddr, hub)

	errCh := make(chan error, 2)
	go func() {
		if err := notifySrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			errCh <- err
		}
	}()
	log.Info("server_started",
		zap.String("status", "success"),
		zap.String("addr", ":"+cfg.Port),
		zap.String("notify_addr", cfg.NotifyAddr),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	select {
	case <-ctx.Done():
	case err = <-errCh:
		log.Error("server_failed", zap.String("status", "error"), zap.Error(err))
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := app.ShutdownWithContext(sctx); serr != nil {
		log.Warn("server_shutdown_failed", zap.Error(serr))
	}
	if serr := notifySrv.Shutdown(sctx); serr != nil {
		log.Warn("notify_shutdown_failed", zap.Error(serr))
	}
	log.Info("server_stopped", zap.String("status", "success"))
	return err
}

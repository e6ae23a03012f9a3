package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/civicdesk/grievance-service/internal/api/http"
	"github.com/civicdesk/grievance-service/internal/api/http/handlers"
	"github.com/civicdesk/grievance-service/internal/auth"
	"github.com/civicdesk/grievance-service/internal/config"
	"github.com/civicdesk/grievance-service/internal/domain"
	"github.com/civicdesk/grievance-service/internal/events"
	"github.com/civicdesk/grievance-service/internal/notify"
	"github.com/civicdesk/grievance-service/internal/observability"
	"github.com/civicdesk/grievance-service/internal/persistence"
	"github.com/civicdesk/grievance-service/internal/repository"
	"github.com/civicdesk/grievance-service/internal/repository/memory"
	"github.com/civicdesk/grievance-service/internal/service"
	"github.com/civicdesk/grievance-service/internal/worker"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	migrateOnly := pflag.Bool("migrate-only", false, "apply migrations and exit")
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && (cfg.Postgres.RunMigrations || *migrateOnly) {
		if err := persistence.RunMigrations(ctx, pg.Pool, cfg.Migrations.Dir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}
	if *migrateOnly {
		return
	}

	var store repository.Store
	if pg.Enabled() {
		store = repository.NewPostgresStore(pg.Pool)
	} else {
		workers, err := loadDirectory(cfg.Directory.SeedFile, logger)
		if err != nil {
			logger.Fatal("failed to load directory seed", zap.Error(err))
		}
		store = memory.New(workers)
	}

	rdb := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer rdb.Close()

	var publisher notify.Publisher = notify.NewLogPublisher(logger)
	if rdb.Enabled() {
		publisher = notify.NewRedisPublisher(rdb.Client, cfg.Notify.Stream, cfg.Notify.StreamMaxLen, cfg.Notify.PublishTimeout())
	}
	delivery := worker.NewNotificationWorker(publisher, 1024, 2, logger)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	delivery.Run(workerCtx)

	dispatcher := events.NewInMemoryDispatcher(logger)
	service.NewNotificationService(dispatcher, delivery, logger).RegisterHandlers()

	lifecycle := service.NewLifecycleManager(service.LifecycleDependencies{
		Store:      store,
		Validator:  service.NewTransitionValidator(),
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	metrics := observability.NewMetrics()
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := httptransport.NewApp(cfg.App.Name)
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	deps := map[string]handlers.Pinger{}
	if pg.Enabled() {
		deps["postgres"] = pg
	}
	if rdb.Enabled() {
		deps["redis"] = rdb
	}

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps, metrics),
		Tickets:        handlers.NewTicketsHandler(lifecycle),
		Workers:        handlers.NewWorkersHandler(lifecycle),
		Users:          handlers.NewUsersHandler(lifecycle),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()
	logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.Bool("postgres", pg.Enabled()))

	waitForShutdown(logger)

	_ = app.Shutdown()
	stopWorker()
	delivery.Wait()
}

func loadDirectory(path string, logger *zap.Logger) ([]domain.Worker, error) {
	workers, err := memory.LoadDirectory(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("directory seed not found; every ticket starts unassigned", zap.String("file", path))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("directory loaded", zap.Int("workers", len(workers)))
	return workers, nil
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}

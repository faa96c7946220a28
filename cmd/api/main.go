package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/repair-service/internal/api/http"
	"github.com/spec-kit/repair-service/internal/api/http/handlers"
	"github.com/spec-kit/repair-service/internal/auth"
	"github.com/spec-kit/repair-service/internal/config"
	"github.com/spec-kit/repair-service/internal/events"
	"github.com/spec-kit/repair-service/internal/observability"
	"github.com/spec-kit/repair-service/internal/persistence"
	"github.com/spec-kit/repair-service/internal/repository"
	"github.com/spec-kit/repair-service/internal/service"
	"github.com/spec-kit/repair-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
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

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	staffRepo := repository.NewStaffRepository(pool)
	familyRepo := repository.NewFamilyRepository(pool)
	incidentRepo := repository.NewIncidentRepository(pool)
	groupRepo := repository.NewQueueGroupRepository(pool)
	changeRequestRepo := repository.NewChangeRequestRepository(pool)
	recurrenceRepo := repository.NewRecurrenceRepository(pool)
	historyRepo := repository.NewIncidentHistoryRepository(pool)
	txManager := repository.NewTxManager(pool)

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	resolver := service.NewFamilyResolver(familyRepo, redis.Client, cfg.Scheduler.FamilyCacheTTL(), logger)

	authService := service.NewAuthService(cfg.Auth, staffRepo)
	incidentService := service.NewIncidentService(service.IncidentDependencies{
		IncidentRepo:      incidentRepo,
		ChangeRequestRepo: changeRequestRepo,
		RecurrenceRepo:    recurrenceRepo,
		HistoryRepo:       historyRepo,
		Resolver:          resolver,
		Dispatcher:        dispatcher,
	})
	schedulerService := service.NewSchedulerService(service.SchedulerDependencies{
		IncidentRepo:   incidentRepo,
		GroupRepo:      groupRepo,
		StaffRepo:      staffRepo,
		HistoryRepo:    historyRepo,
		Dispatcher:     dispatcher,
		Metrics:        metrics,
		MaxAssignments: cfg.Scheduler.MaxAssignments,
	})
	changeRequestService := service.NewChangeRequestService(service.ChangeRequestDependencies{
		RequestRepo:  changeRequestRepo,
		IncidentRepo: incidentRepo,
		HistoryRepo:  historyRepo,
		Tx:           txManager,
		Dispatcher:   dispatcher,
	})
	recurrenceService := service.NewRecurrenceService(service.RecurrenceDependencies{
		IncidentRepo:   incidentRepo,
		RecurrenceRepo: recurrenceRepo,
		HistoryRepo:    historyRepo,
		Tx:             txManager,
		Dispatcher:     dispatcher,
	})
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(notificationService)

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), staffRepo)
	validate := validator.New()

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Staff:          handlers.NewStaffHandler(authService, validate),
		Incidents:      handlers.NewIncidentsHandler(incidentService, validate),
		Queues:         handlers.NewQueuesHandler(schedulerService, validate),
		ChangeRequests: handlers.NewChangeRequestsHandler(changeRequestService, validate),
		Recurrence:     handlers.NewRecurrenceHandler(recurrenceService, validate),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}

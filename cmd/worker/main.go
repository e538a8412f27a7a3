package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/recoverly/dunning-engine/internal/action"
	"github.com/recoverly/dunning-engine/internal/billing"
	"github.com/recoverly/dunning-engine/internal/config"
	"github.com/recoverly/dunning-engine/internal/content"
	"github.com/recoverly/dunning-engine/internal/dispatch"
	"github.com/recoverly/dunning-engine/internal/email"
	"github.com/recoverly/dunning-engine/internal/repository/postgres"
	"github.com/recoverly/dunning-engine/internal/schedule"
	"github.com/recoverly/dunning-engine/internal/sms"
	"github.com/recoverly/dunning-engine/internal/stageconfig"
	"github.com/recoverly/dunning-engine/internal/worker"
	"github.com/recoverly/dunning-engine/pkg/logger"
	"github.com/recoverly/dunning-engine/pkg/messaging/redis"
	"github.com/recoverly/dunning-engine/pkg/metrics"
)

func setupHealthCheck(appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			appLogger.ZL.Error().Err(err).Msg("Health check server failed")
			os.Exit(1)
		}
	}()
}

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("Failed to load config")
		os.Exit(1)
	}

	// Initialize logger
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	appLogger := &logger.Logger{ZL: log.Logger}

	// Initialize database
	db, err := postgres.NewDB(cfg.Database.DSN())
	if err != nil {
		appLogger.ZL.Fatal().Err(err).Msg("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	// Initialize Redis broker
	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Redis broker")
	}
	defer broker.Close()

	// Stage table
	registry, err := stageconfig.NewRegistry(cfg.Dunning.ToStageDefinitions(), cfg.Dunning.SMS.CriticalStages)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid dunning stage configuration")
	}

	// Initialize repositories
	baseRepo := postgres.NewBaseRepository(db)
	failureRepo := postgres.NewFailureRepository(baseRepo)
	scheduleRepo := postgres.NewScheduleRepository(baseRepo)
	eventRepo := postgres.NewNotificationEventRepository(baseRepo)
	customerRepo := postgres.NewCustomerRepository(baseRepo)
	actionRepo := postgres.NewActionRepository(baseRepo)

	m := metrics.New("dunning_worker")

	// Initialize engine components
	scheduler := schedule.NewScheduler(registry, scheduleRepo, appLogger)
	generator := content.NewGenerator(registry, cfg.Dunning)
	dispatcher := dispatch.NewDispatcher(
		registry,
		generator,
		scheduler,
		customerRepo,
		eventRepo,
		email.NewSMTPService(cfg.SMTP, appLogger),
		sms.NewLogSender(appLogger),
		broker,
		m,
		appLogger,
	)
	executor := action.NewExecutor(
		registry,
		failureRepo,
		actionRepo,
		billing.NewHTTPGateway(cfg.Billing, appLogger),
		cfg.Dunning,
		m,
		appLogger,
	)

	driver := worker.NewDriver(registry, failureRepo, scheduler, dispatcher, executor, cfg.Driver, appLogger, m)

	// Setup health check endpoints
	setupHealthCheck(appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.ZL.Info().Msg("Shutting down...")
		cancel()
	}()

	driver.Start(ctx)
}

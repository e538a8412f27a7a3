package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/recoverly/dunning-engine/internal/config"
	failureHandler "github.com/recoverly/dunning-engine/internal/handler/failure"
	healthHandler "github.com/recoverly/dunning-engine/internal/handler/health"
	smsHandler "github.com/recoverly/dunning-engine/internal/handler/sms"
	"github.com/recoverly/dunning-engine/internal/inbound"
	"github.com/recoverly/dunning-engine/internal/middleware"
	"github.com/recoverly/dunning-engine/internal/repository/postgres"
	"github.com/recoverly/dunning-engine/internal/router"
	"github.com/recoverly/dunning-engine/internal/schedule"
	"github.com/recoverly/dunning-engine/internal/service/dunning"
	"github.com/recoverly/dunning-engine/internal/stageconfig"
	"github.com/recoverly/dunning-engine/internal/status"
	"github.com/recoverly/dunning-engine/pkg/logger"
	"github.com/recoverly/dunning-engine/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)

	// Initialize database
	db, err := postgres.NewDB(cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Stage table
	registry, err := stageconfig.NewRegistry(cfg.Dunning.ToStageDefinitions(), cfg.Dunning.SMS.CriticalStages)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid dunning stage configuration")
	}

	// Initialize repositories
	baseRepo := postgres.NewBaseRepository(db)
	failureRepo := postgres.NewFailureRepository(baseRepo)
	scheduleRepo := postgres.NewScheduleRepository(baseRepo)
	eventRepo := postgres.NewNotificationEventRepository(baseRepo)

	// Initialize services
	m := metrics.NewMetrics("dunning", "api")
	scheduler := schedule.NewScheduler(registry, scheduleRepo, appLogger)
	tracker := status.NewTracker(registry, failureRepo, scheduleRepo)
	dunningSvc := dunning.NewService(failureRepo, eventRepo, scheduler, tracker, m, appLogger)
	inboundSvc := inbound.NewHandler(cfg.Dunning.SMS, cfg.Dunning.PaymentUpdateURL, appLogger)

	// Setup router
	r := router.NewRouter(
		healthHandler.NewHandler(db),
		failureHandler.NewHandler(dunningSvc),
		smsHandler.NewHandler(inboundSvc),
		router.RouterConfig{
			RateLimit:     rate.Limit(100),
			RateBurst:     200,
			CORSConfig:    middleware.DefaultCORSConfig(),
			MetricsPrefix: "dunning_api",
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	appLogger.Info("api listening", "port", cfg.Server.Port)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}

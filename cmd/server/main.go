package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"wabisabi/internal/config"
	"wabisabi/internal/database"
	"wabisabi/internal/events"
	"wabisabi/internal/handlers"
	"wabisabi/internal/logger"
	"wabisabi/internal/progress"
	"wabisabi/internal/repository"
	"wabisabi/internal/scheduler"
	"wabisabi/internal/security"
	"wabisabi/internal/service"
)

const (
	stepDatabase   = "Connecting to database"
	stepMigrations = "Running migrations"
	stepServices   = "Starting services"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	verifier, err := security.NewTokenVerifier(cfg.JWTSecret)
	if err != nil {
		log.Fatal("Invalid JWT configuration", "error", err)
	}

	// Serve /healthz while the rest of the application starts
	status := handlers.NewStartupStatus(stepDatabase, stepMigrations, stepServices)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", status.Health)

	limiter := security.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	defer limiter.Stop()
	mw := handlers.NewMiddleware(verifier, limiter, log)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Authorization", "Content-Type", handlers.RequestIDHeader},
		ExposedHeaders: []string{handlers.RequestIDHeader},
		MaxAge:         600,
	})

	var handler http.Handler = status.RequireReady(mux)
	handler = mw.RateLimit(handler)
	handler = corsHandler.Handler(handler)
	handler = mw.Recover(handler)
	handler = mw.Logging(handler)

	addr := ":" + cfg.ServerPort
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", "error", err)
		}
	}()

	status.SetCurrentStep(stepDatabase)
	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database", "error", err)
	}
	defer db.Close()
	status.CompleteStep(stepDatabase)
	log.Info("Database connection established", "type", cfg.DatabaseType)

	status.SetCurrentStep(stepMigrations)
	applied, err := db.RunMigrations(cfg.MigrationsPath)
	if err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}
	status.CompleteStep(stepMigrations)
	log.Info("Migrations completed", "applied", len(applied))

	status.SetCurrentStep(stepServices)
	publisher := newPublisher(cfg, log)
	defer func() {
		if closer, ok := publisher.(*events.RedisPublisher); ok {
			closer.Close()
		}
	}()

	clock := progress.SystemClock{}
	progressRepo := repository.NewProgressRepository(db)
	deckRepo := repository.NewDeckRepository(db)
	learnerRepo := repository.NewLearnerRepository(db)

	deckService := service.NewDeckService(deckRepo, log)
	progressService := service.NewProgressService(progressRepo, deckRepo, service.ProgressOptions{
		MaxSaveRetries: cfg.MaxSaveRetries,
		PassingScore:   cfg.PassingScore,
		StreakLocation: cfg.StreakLocation(),
		Clock:          clock,
		Publisher:      publisher,
		Logger:         log,
	})

	emailService, err := service.NewEmailService(context.Background(), log, cfg.AWSRegion, cfg.SESFromEmail, cfg.SESFromName, cfg.AppBaseURL, cfg.EmailDebug)
	if err != nil {
		log.Fatal("Failed to initialize email service", "error", err)
	}
	reminderService := service.NewReminderService(learnerRepo, progressRepo, deckRepo, emailService, clock, log)

	reminders := scheduler.New(reminderService, cfg.ReminderInterval, log)
	if emailService.IsEnabled() {
		if err := reminders.Start(); err != nil {
			log.Fatal("Failed to start scheduler", "error", err)
		}
		defer reminders.Stop()
	} else {
		log.Warn("Review reminders disabled: SES_FROM_EMAIL is not set")
	}

	handlers.NewProgressHandler(progressService, deckService, clock, log).RegisterRoutes(mux, mw)
	handlers.NewLearnerHandler(learnerRepo, log).RegisterRoutes(mux, mw)
	status.CompleteStep(stepServices)
	status.MarkReady()
	log.Info("Server ready", "url", "http://localhost"+addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Graceful shutdown failed", "error", err)
	}
}

// newPublisher connects to Redis when REDIS_ADDR is set. Progress events are
// best effort, so an unreachable Redis falls back to dropping them.
func newPublisher(cfg *config.Config, log *logger.Logger) events.Publisher {
	if cfg.RedisAddr == "" {
		return events.NopPublisher{}
	}
	publisher, err := events.NewRedisPublisher(log, cfg.RedisAddr, cfg.RedisChannel)
	if err != nil {
		log.Warn("Redis unavailable, progress events disabled", "addr", cfg.RedisAddr, "error", err)
		return events.NopPublisher{}
	}
	return publisher
}

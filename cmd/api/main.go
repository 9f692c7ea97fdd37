package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/GTDGit/gtd_ticketing/internal/cache"
	"github.com/GTDGit/gtd_ticketing/internal/config"
	"github.com/GTDGit/gtd_ticketing/internal/database"
	"github.com/GTDGit/gtd_ticketing/internal/handler"
	"github.com/GTDGit/gtd_ticketing/internal/metrics"
	"github.com/GTDGit/gtd_ticketing/internal/middleware"
	"github.com/GTDGit/gtd_ticketing/internal/notify"
	"github.com/GTDGit/gtd_ticketing/internal/repository"
	"github.com/GTDGit/gtd_ticketing/internal/service"
	"github.com/GTDGit/gtd_ticketing/internal/sse"
	"github.com/GTDGit/gtd_ticketing/internal/worker"
	"github.com/GTDGit/gtd_ticketing/pkg/easebuzz"
)

// main is the entrypoint for the ticketing payment service.
func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Setup logger
	setupLogger(cfg.Env)
	log.Info().Str("env", cfg.Env).Str("gateway_env", cfg.Gateway.Env).Msg("starting ticketing payments")

	// 3. Connect database and run migrations
	db, err := database.Connect(context.Background(), &cfg.DB)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "database connection failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(db.DB, cfg.MigrationsPath); err != nil {
		log.Error().Err(err).Msg("migration failed")
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	log.Info().Msg("migrations completed successfully")

	// 4. Connect to Redis. The reconcile lock is best-effort, so the service still
	// starts without it.
	var (
		locker     service.Locker
		redisProbe handler.Pinger
	)
	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable - reconciliation runs without cross-instance lock")
	} else {
		defer redisClient.Close()
		locker = cache.NewReconcileLock(redisClient, cfg.Redis.LockTTL)
		redisProbe = handler.PingFunc(redisClient.Ping)
		log.Info().Msg("redis connected successfully")
	}

	// 5. Gateway client
	gateway := easebuzz.NewClient(easebuzz.Config{
		Production:  cfg.Gateway.IsProduction(),
		Key:         cfg.Gateway.Key,
		Salt:        cfg.Gateway.Salt,
		InitiateURL: cfg.Gateway.InitiateURL,
		PayURL:      cfg.Gateway.PayURL,
		RetrieveURL: cfg.Gateway.RetrieveURL,
		Timeout:     cfg.Gateway.Timeout,
		Sequences: easebuzz.HashSequences{
			Request:  easebuzz.ParseSequence(cfg.Gateway.RequestSequence),
			Response: easebuzz.ParseSequence(cfg.Gateway.ResponseSequence),
			Retrieve: easebuzz.ParseSequence(cfg.Gateway.RetrieveSequence),
		},
	})

	// 6. Repositories
	registrationRepo := repository.NewRegistrationRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	paymentLogRepo := repository.NewPaymentLogRepository(db)

	// 7. Notifiers: admin SSE stream plus ticket/email events
	hub := sse.NewHub()
	notifiers := notify.Multi{sse.NewHubNotifier(hub)}
	var kafkaNotifier *notify.KafkaNotifier
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaNotifier = notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic)
		notifiers = append(notifiers, kafkaNotifier)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.NotificationTopic).Msg("kafka notifier enabled")
	} else {
		notifiers = append(notifiers, notify.LogNotifier{})
		log.Warn().Msg("KAFKA_BROKERS not set - payment events are only logged")
	}

	// 8. Services
	paymentSvc := service.NewPaymentService(registrationRepo, paymentRepo, paymentLogRepo, gateway, service.PaymentOptions{
		EnforceAuth:   cfg.Payment.EnforceAuth,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	reconSvc := service.NewReconciliationService(
		registrationRepo, paymentRepo, paymentLogRepo, gateway, locker, notifiers, cfg.Sync.Concurrency,
	)
	syncSvc := service.NewSyncService(paymentRepo, cfg.InternalBaseURL, cfg.Payment.CronSecret, service.SyncLimits{
		DefaultBatchSize:    cfg.Sync.DefaultBatchSize,
		MaxBatchSize:        cfg.Sync.MaxBatchSize,
		DefaultScanPageSize: cfg.Sync.DefaultScanPageSize,
		MaxScanPageSize:     cfg.Sync.MaxScanPageSize,
	})
	if cfg.Payment.CronSecret == "" {
		log.Warn().Msg("CRON_SECRET not set - cron sync endpoint is disabled")
	}

	// 9. Handlers and middleware
	handlers := &Handlers{
		Health:  handler.NewHealthHandler(db, redisProbe),
		Payment: handler.NewPaymentHandler(paymentSvc, reconSvc, syncSvc, cfg.Payment.StatusPageURL, cfg.Sync.MaxBatchSize),
		SSE:     handler.NewSSEHandler(hub, cfg.JWTSecret),
	}
	authMw := middleware.NewAuthMiddleware(cfg.JWTSecret, cfg.Payment.CronSecret)

	// 10. Setup router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))
	router.Use(middleware.LoggingMiddleware())
	setupRoutes(router, handlers, authMw)

	// 11. Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 12. Start workers
	if cfg.Sync.Interval > 0 {
		go worker.NewPendingSyncWorker(syncSvc, cfg.Sync.Interval).Start(ctx)
	}

	// 13. Start HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// 14. Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// 15. Stop workers, drain HTTP, then flush in-flight notifications
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	reconSvc.Wait()
	if kafkaNotifier != nil {
		if err := kafkaNotifier.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to flush kafka notifier")
		}
	}
	log.Info().Msg("Server exited")
}

// Handlers groups all HTTP handlers used by the server.
type Handlers struct {
	Health  *handler.HealthHandler
	Payment *handler.PaymentHandler
	SSE     *handler.SSEHandler
}

// setupRoutes registers all routes.
func setupRoutes(router *gin.Engine, handlers *Handlers, authMiddleware *middleware.AuthMiddleware) {
	router.GET("/health", handlers.Health.GetHealth)
	router.GET("/metrics", metrics.Handler())

	payments := router.Group("/payments")
	{
		// PAYMENT_ENFORCE_AUTH is applied by the payment service
		payments.POST("/initiate", authMiddleware.OptionalUser(), handlers.Payment.Initiate)
		payments.POST("/webhook", handlers.Payment.Webhook)

		payments.POST("/transaction", authMiddleware.RequireUserOrService(), handlers.Payment.TransactionStatus)
		payments.GET("/cron/sync-pending", authMiddleware.RequireCron(), handlers.Payment.SyncPending)
		payments.GET("/registrations/:registrationId", authMiddleware.RequireOperator(), handlers.Payment.GetPayment)
	}

	// Gateway redirect targets; authenticated by the response hash
	router.POST(easebuzz.CallbackSuccessPath, handlers.Payment.Callback)
	router.POST(easebuzz.CallbackFailurePath, handlers.Payment.Callback)

	// EventSource cannot send headers; the stream checks an operator ?token=
	router.GET("/admin/payments/stream", handlers.SSE.Stream)
}

func setupLogger(env string) {
	if env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"booking-engine/config"
	"booking-engine/internal/api"
	"booking-engine/internal/breaker"
	"booking-engine/internal/broker"
	"booking-engine/internal/payment"
	"booking-engine/internal/provider"
	"booking-engine/internal/quota"
	"booking-engine/internal/ratelimit"
	"booking-engine/internal/redisclient"
	"booking-engine/internal/registry"
	"booking-engine/internal/service"
	"booking-engine/internal/store"
	"booking-engine/internal/util"
	"booking-engine/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting booking engine")

	tp, err := util.InitTracer("booking-engine", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	bookingProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBookings)
	defer bookingProducer.Close()
	alertProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	defer alertProducer.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(bookingProducer, alertProducer)

	quotaTracker := quota.NewTracker(db)
	providerRegistry := registry.New(db, quotaTracker)

	breakerCfg := breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           time.Duration(cfg.Breaker.WindowSeconds) * time.Second,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
		MaxOpenTimeout:   cfg.Breaker.MaxOpenTimeout,
	}

	ctx := context.Background()
	providers, err := db.GetProviders(ctx)
	if err != nil {
		log.Fatalf("Failed to load providers: %v", err)
	}
	for _, p := range providers {
		// Mock supplier clients; real adapters are wired in by the
		// per-supplier glue layer.
		providerRegistry.Register(p, provider.NewMockClient(p.ProviderID, 0.9), breakerCfg)
		if q, err := db.GetQuota(ctx, p.ProviderID); err == nil {
			quotaTracker.Load(q)
		}
	}
	log.Printf("Registered %d providers", len(providers))

	limiter := ratelimit.NewLimiter(redisClient, nil)
	gateway := payment.NewMockGateway(0.9)

	sagaCfg := service.DefaultConfig()
	sagaCfg.SagaTimeout = cfg.Saga.Timeout
	sagaCfg.MaxProviderAttempts = cfg.Saga.MaxProviderAttempts

	bookingService := service.NewBookingService(
		db, providerRegistry, limiter, quotaTracker, gateway, eventPublisher, redisClient, sagaCfg)
	sagaOrchestrator := service.NewSagaOrchestrator(db, bookingService, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	paymentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayments, cfg.Kafka.ConsumerGroup)
	paymentWorker := worker.NewPaymentWorker(paymentConsumer, sagaOrchestrator)
	go func() {
		if err := paymentWorker.Start(workerCtx); err != nil {
			log.Printf("Payment worker error: %v", err)
		}
	}()

	sweeper := worker.NewSweeper(db, bookingService, providerRegistry, quotaTracker, redisClient, cfg.Saga.SweepInterval)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil {
			log.Printf("Sweeper error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(bookingService, providerRegistry)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	sweeper.Stop()
	paymentWorker.Stop()

	log.Println("Server exited")
}

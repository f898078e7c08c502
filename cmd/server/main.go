package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quickkart-service/config"
	"quickkart-service/internal/api"
	"quickkart-service/internal/broker"
	"quickkart-service/internal/redisclient"
	"quickkart-service/internal/service"
	"quickkart-service/internal/store"
	"quickkart-service/internal/util"
	"quickkart-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const serviceName = "quickkart-service"

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, serviceName, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting quickkart service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(serviceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	// The Redis mirror and idempotency cache are optional. Without them the
	// database answers every read.
	var (
		mirror service.StockMirror
		cache  service.IdempotencyCache
	)
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.StockTTL)
	if err != nil {
		logger.Warn("Redis unavailable, running without stock mirror", zap.Error(err))
	} else {
		defer redisClient.Close()
		mirror, cache = redisClient, redisClient
		logger.Info("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	eventPublisher := broker.NewEventPublisher(producer)

	ledger := service.NewInventoryLedger(db, mirror)
	cartService := service.NewCartService(db, ledger, cfg.Business.StoreTimeout)
	orderService := service.NewOrderService(db, ledger, service.NewAddressSnapshotter(db), eventPublisher, cache, service.OrderConfig{
		StoreTimeout:   cfg.Business.StoreTimeout,
		IdempotencyTTL: cfg.Business.IdempotencyTTL,
		PublishTimeout: cfg.Business.EventPublishTimeout,
	})
	notificationService := service.NewNotificationService(db)

	if mirror != nil {
		syncCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := ledger.SyncMirror(syncCtx)
		cancel()
		if err != nil {
			logger.Warn("Failed to sync inventory to Redis", zap.Error(err))
		} else {
			logger.Info("Inventory mirrored to Redis", zap.Int("products", n))
		}
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.NotificationConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, notificationService)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := notificationWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(cartService, orderService, ledger, notificationService)
	handler.AddReadinessCheck("database", db)
	if redisClient != nil {
		handler.AddReadinessCheck("redis", redisClient)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	var metricsSrv *http.Server
	if port := cfg.Observ.PrometheusPort; port != "" && port != cfg.Server.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%s", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Starting metrics server", zap.String("port", port))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	workerCancel()
	<-workerDone
	if err := notificationWorker.Stop(); err != nil {
		logger.Warn("Failed to close notification consumer", zap.Error(err))
	}

	logger.Info("Server exited")
}

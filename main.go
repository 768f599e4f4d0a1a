package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"merch-svc/cache"
	"merch-svc/carrier"
	"merch-svc/cart"
	"merch-svc/checkout"
	"merch-svc/config"
	"merch-svc/database"
	merchgrpc "merch-svc/grpc"
	"merch-svc/handlers"
	"merch-svc/kafka"
	"merch-svc/middleware"
	"merch-svc/notification"
	"merch-svc/payment"
	"merch-svc/store"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to load .env file", zap.Error(err))
	}
	cfg := config.LoadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	// Initialize database
	db, err := database.InitDB(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	pgStore := store.NewPostgresStore(db, logger)

	// Redis backs the product cache and cart sessions; without it carts live in memory
	var (
		products     handlers.ProductCatalog = pgStore
		sessions     cart.SessionStore
		productCache *cache.ProductCache
		redisClient  *redis.Client
	)
	redisClient, err = cache.InitRedis(cfg, logger)
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory carts without product cache", zap.Error(err))
		sessions = cart.NewMemoryStore()
	} else {
		defer redisClient.Close()
		productCache = cache.NewProductCache(pgStore, redisClient, cfg.ProductCacheTTL, logger)
		products = productCache
		sessions = cache.NewRedisSessionStore(redisClient, cfg.CartTTL)
	}

	// Kafka is optional: without brokers events are dropped and notifications are not sent
	var producer sarama.SyncProducer
	var consumer sarama.ConsumerGroup
	if len(cfg.KafkaBrokers) > 0 {
		if producer, err = kafka.InitProducer(cfg.KafkaBrokers, logger); err != nil {
			logger.Warn("Kafka producer unavailable", zap.Error(err))
			producer = nil
		}
		if consumer, err = kafka.InitConsumerGroup(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, logger); err != nil {
			logger.Warn("Kafka consumer unavailable", zap.Error(err))
			consumer = nil
		}
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events and notifications are disabled")
	}
	publisher := kafka.NewPublisher(producer, logger)
	defer publisher.Close()

	// External gateways
	httpClient := &http.Client{Timeout: cfg.CarrierTimeout}
	carriers := carrier.NewRegistry(
		carrier.NewPochtaClient(cfg.Pochta, httpClient, logger),
		carrier.NewCDEKClient(cfg.CDEK, httpClient, logger),
	)
	payments := payment.NewYooKassaClient(cfg.YooKassa, httpClient, logger)

	deps := checkout.Deps{
		Store:      pgStore,
		Carriers:   carriers,
		Payments:   payments,
		Notifier:   notification.NewKafkaNotifier(publisher, cfg.KafkaNotificationTopic, logger),
		Events:     publisher,
		EventTopic: cfg.KafkaOrderTopic,
		Currency:   cfg.Currency,
		Logger:     logger,
	}
	if productCache != nil {
		deps.Cache = productCache
	}
	orchestrator := checkout.NewOrchestrator(deps)

	if consumer != nil {
		defer consumer.Close()
		go func() {
			handle := func(ctx context.Context, body []byte) error {
				return orchestrator.HandlePaymentCallback(ctx, checkout.SourceKafka, body)
			}
			if err := kafka.Consume(ctx, consumer, cfg.KafkaPaymentTopic, handle, logger); err != nil {
				logger.Error("Kafka consumer error", zap.Error(err))
			}
		}()
	}

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	productHandler := handlers.NewProductHandler(products, logger)
	cartHandler := handlers.NewCartHandler(sessions, products, logger)
	shippingHandler := handlers.NewShippingHandler(carriers, sessions, products, logger)
	checkoutHandler := handlers.NewCheckoutHandler(orchestrator, sessions, products, logger)
	adminHandler := handlers.NewAdminHandler(orchestrator, logger)

	api := router.Group("/api")
	api.GET("/products", productHandler.GetProducts)
	api.GET("/products/:id", productHandler.GetProduct)
	api.POST("/payments/webhook", checkoutHandler.PaymentWebhook)
	api.GET("/orders/:id/payment-status", checkoutHandler.PaymentStatus)

	session := api.Group("", middleware.CartSession(cfg.CartTTL, cfg.CookieSecure))
	session.GET("/cart", cartHandler.GetCart)
	session.GET("/cart/weight", cartHandler.GetWeight)
	session.POST("/cart/:product_id", cartHandler.AddItem)
	session.DELETE("/cart/:product_id", cartHandler.RemoveItem)
	session.POST("/shipping/quote", shippingHandler.Quote)
	session.GET("/shipping/cities", shippingHandler.Cities)
	session.GET("/shipping/pickup-points", shippingHandler.PickupPoints)
	session.POST("/checkout", checkoutHandler.PlaceOrder)

	admin := api.Group("/admin", middleware.OperatorAuth([]byte(cfg.JWTSecret), "operator", "admin"))
	admin.GET("/orders/:id", adminHandler.GetOrder)
	admin.PATCH("/orders/:id/status", adminHandler.UpdateStatus)
	admin.POST("/orders/:id/refresh-payment", adminHandler.RefreshPayment)

	restSrv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("REST API started", zap.String("port", cfg.HTTPPort))

	// Start gRPC health server
	checks := map[string]merchgrpc.CheckFunc{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	healthServer := merchgrpc.NewHealthServer(checks, logger)
	go healthServer.Watch(ctx, 15*time.Second)

	grpcListener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}
	grpcServer := merchgrpc.NewServer(healthServer)

	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()

	logger.Info("gRPC health server started", zap.String("port", cfg.GRPCPort))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := restSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("REST server forced to shutdown", zap.Error(err))
	}

	healthServer.Shutdown()
	grpcServer.GracefulStop()
	cancel()

	logger.Info("Servers exited")
}

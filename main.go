package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"order-service/clients"
	apperrors "order-service/common/errors"
	"order-service/common/logger"
	"order-service/controllers"
	"order-service/database"
	"order-service/middleware"
	aws_pkg "order-service/pkg/aws"
	"order-service/repository"
	"order-service/routes"
	"order-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	awsCfg, awsErr := aws_pkg.LoadAWSConfig(context.Background(), aws_pkg.Options{
		Region:   cfg.AWSRegion,
		Endpoint: cfg.AWSEndpoint,
	})

	var cwWriter io.Writer
	var cwLogs *aws_pkg.CloudWatchLogsClient
	if cfg.CloudWatchLogsEnabled && awsErr == nil {
		cwLogs, err = aws_pkg.NewCloudWatchLogsClient(context.Background(), awsCfg, cfg.CloudWatchLogGroup, "order-service")
		if err != nil {
			log.Printf("CloudWatch logs disabled: %v", err)
		} else {
			cwWriter = cwLogs
		}
	}

	zapLogger, err := logger.New(cfg.Env, cwWriter)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck
	if cwLogs != nil {
		defer cwLogs.Close() //nolint:errcheck
	}

	db, err := database.ConnectPostgres(cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db) //nolint:errcheck
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("Failed to get database handle", zap.Error(err))
	}

	// AWS clients
	var snsClient aws_pkg.SNSPublisher
	var metrics services.MetricsRecorder
	if awsErr != nil {
		zapLogger.Warn("AWS config unavailable, SNS, SQS and metrics disabled", zap.Error(awsErr))
	} else {
		snsClient = aws_pkg.NewSNSClient(awsCfg, zapLogger)
		metrics = aws_pkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)
	}

	// Collaborators
	productClient := clients.NewProductClient(clients.NewRetryingClient("product-service", cfg.ProductServiceURL, cfg.Retry, zapLogger))
	userClient := clients.NewUserClient(clients.NewRetryingClient("user-service", cfg.UserServiceURL, cfg.Retry, zapLogger))
	paymentClient := clients.NewPaymentClient(clients.NewRetryingClient("payment-service", cfg.PaymentServiceURL, cfg.Retry, zapLogger))
	cartClient := clients.NewCartClient(clients.NewRetryingClient("cart-service", cfg.CartServiceURL, cfg.Retry, zapLogger))

	var users services.UserLookup = userClient
	if cfg.RedisURL != "" {
		redisClient, err := clients.NewRedisClient(cfg.RedisURL)
		if err != nil {
			zapLogger.Warn("Identity cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close() //nolint:errcheck
			users = clients.NewCachedUserLookup(userClient, redisClient, cfg.IdentityCacheTTL, zapLogger)
		}
	}

	// DI chain
	orderRepo := repository.NewGormOrderRepository(db)
	machine := services.NewStatusMachine(orderRepo, metrics, zapLogger)
	outbox := services.NewOutboxWriter(cfg.StrictOutbox(), zapLogger)
	checkoutService := services.NewCheckoutService(services.CheckoutDependencies{
		Repo:     orderRepo,
		Resolver: services.NewIdempotencyResolver(orderRepo),
		Creator:  services.NewOrderCreator(orderRepo, outbox, cfg.Currency, zapLogger),
		Payments: services.NewPaymentSaga(paymentClient, machine, metrics, zapLogger),
		Users:    users,
		Products: productClient,
		Cart:     cartClient,
		Notifier: snsClient,
		Metrics:  metrics,
	}, services.CheckoutConfig{
		StrictIdentity:    cfg.StrictIdentity,
		PaymentExpiry:     cfg.PaymentExpiry,
		SagaTimeout:       cfg.SagaTimeout,
		NotificationTopic: cfg.OrderEventsTopicARN,
	}, zapLogger)
	orderService := services.NewOrderService(orderRepo, machine, zapLogger)
	orderController := controllers.NewOrderController(checkoutService, orderService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Queue consumers
	var wg sync.WaitGroup
	if awsErr == nil {
		consumers := []struct {
			name     string
			queueURL string
			handler  aws_pkg.MessageHandler
		}{
			{"checkout", cfg.CheckoutQueueURL, services.NewCheckoutQueueHandler(checkoutService, zapLogger).HandleMessage},
			{"shipment", cfg.ShipmentQueueURL, services.NewShipmentStatusSync(orderRepo, machine, zapLogger).HandleMessage},
			{"payment", cfg.PaymentQueueURL, services.NewPaymentEventSync(orderRepo, machine, zapLogger).HandleMessage},
		}
		for _, c := range consumers {
			if c.queueURL == "" {
				zapLogger.Info("SQS consumer disabled", zap.String("consumer", c.name))
				continue
			}
			consumer := aws_pkg.NewSQSConsumer(awsCfg, c.queueURL, zapLogger.With(zap.String("consumer", c.name)))
			wg.Add(1)
			go func(handler aws_pkg.MessageHandler) {
				defer wg.Done()
				if err := consumer.StartPolling(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
					zapLogger.Error("SQS consumer stopped", zap.Error(err))
				}
			}(c.handler)
		}
	}

	checkoutLimiter := middleware.NewRateLimiter(cfg.CheckoutRatePerMinute, cfg.CheckoutRateBurst, 10*time.Minute)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkoutLimiter.Cleanup()
			}
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestLogger(zapLogger))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(apperrors.ErrorMiddleware())
	r.Use(middleware.Timeout(30 * time.Second))

	r.GET("/health", controllers.Health(sqlDB))
	routes.RegisterOrderRoutes(r, orderController, checkoutLimiter)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("Order service started",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Bool("strict_outbox", cfg.StrictOutbox()),
	)
	<-quit
	zapLogger.Info("Shutting down order service...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	wg.Wait()
	zapLogger.Info("Server exited cleanly")
}

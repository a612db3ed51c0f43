package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"callsignal-backend/internal/events"
	callHandler "callsignal-backend/internal/handler/http/call"
	pushHandler "callsignal-backend/internal/handler/http/push"
	wsHandler "callsignal-backend/internal/handler/ws"
	"callsignal-backend/internal/middleware"
	"callsignal-backend/internal/notification"
	"callsignal-backend/internal/repository/cockroach"
	"callsignal-backend/internal/repository/memory"
	redisRepo "callsignal-backend/internal/repository/redis"
	callService "callsignal-backend/internal/service/call"
	"callsignal-backend/pkg/audit"
	"callsignal-backend/pkg/config"
	"callsignal-backend/pkg/constants"
	"callsignal-backend/pkg/database"
	"callsignal-backend/pkg/jwt"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/push"
	"callsignal-backend/pkg/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		FilePath:    cfg.Log.FilePath,
		ServiceName: cfg.Server.ServiceName,
		Environment: cfg.Server.Environment,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. JWT manager for API tokens
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// 2. CockroachDB holds conversations and users, and calls unless the
	// memory store is selected
	db, err := database.NewCockroachDB(ctx, &database.CockroachConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		ConnectAttempts: 5,
	})
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Connected to CockroachDB", zap.String("host", cfg.Database.Host))

	var store callService.Store
	switch cfg.Calls.Store {
	case "memory":
		store = memory.NewCallRepository()
		logger.Warn("Using in-memory call store; call state is not shared between instances")
	default:
		store = cockroach.NewCallRepository(db.Pool)
	}
	conversationRepo := cockroach.NewConversationRepository(db.Pool)
	userRepo := cockroach.NewUserRepository(db.Pool)

	// 3. Redis for pub/sub, push tokens, the reaper lock and the audit trail
	redisDB, err := database.NewRedisDB(ctx, &database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	redisDB.StartHealthCheck(ctx, 10*time.Second)
	logger.Info("Connected to Redis", zap.String("host", cfg.Redis.Host))

	// 4. Push notifications
	if cfg.Server.Environment == "production" && push.ProviderType(cfg.Push.Provider) == push.ProviderTypeMock {
		logger.Fatal("PUSH_PROVIDER=mock is not allowed in production")
	}
	pushProvider, err := push.NewProvider(ctx, push.ProviderConfig{
		Type: push.ProviderType(cfg.Push.Provider),
		FCM: push.FCMConfig{
			ProjectID:       cfg.Push.FCMProjectID,
			CredentialsPath: cfg.Push.FCMCredentialsPath,
		},
		APNs: push.APNsConfig{
			CertificatePath:     cfg.Push.APNsCertPath,
			CertificatePassword: cfg.Push.APNsCertPassword,
			KeyPath:             cfg.Push.APNsKeyPath,
			KeyID:               cfg.Push.APNsKeyID,
			TeamID:              cfg.Push.APNsTeamID,
			BundleID:            cfg.Push.APNsBundleID,
			Production:          cfg.Push.APNsProduction,
		},
	})
	if err != nil {
		logger.Fatal("Failed to initialize push provider", zap.Error(err))
	}
	pushSvc := push.NewService(pushProvider, redisRepo.NewPushTokenRepository(redisDB.Client), resilience.DefaultBreakerConfig())

	// 5. Notification gateway: push plus event sinks
	gatewayOpts := []notification.Option{
		notification.WithPush(pushSvc),
		notification.WithPublisher("redis", events.NewRedisPublisher(redisDB.Client)),
		notification.WithRingTTL(cfg.Calls.RingTimeout),
	}

	var kafkaPublisher *events.KafkaPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher, err = events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
		}, resilience.DefaultBreakerConfig())
		if err != nil {
			logger.Fatal("Failed to connect to Kafka", zap.Error(err))
		}
		gatewayOpts = append(gatewayOpts, notification.WithPublisher("kafka", kafkaPublisher))
	}

	gateway, err := notification.NewGateway(cfg.Calls.NotificationPoolSize, gatewayOpts...)
	if err != nil {
		logger.Fatal("Failed to create notification gateway", zap.Error(err))
	}

	// 6. Call service and reaper
	issuer, err := jwt.NewMediaTokenIssuer(cfg.Media.APIKey, cfg.Media.APISecret)
	if err != nil {
		logger.Fatal("Failed to create media token issuer", zap.Error(err))
	}

	calls := callService.NewService(
		store,
		conversationRepo,
		userRepo,
		issuer,
		gateway,
		callService.WithTokenTTL(cfg.Media.TokenTTL),
		callService.WithMediaURL(cfg.Media.URL),
		callService.WithAuditLogger(audit.NewLogger(redisDB.Client)),
		callService.WithSweepLimits(cfg.Calls.ReaperBatchSize, cfg.Calls.ReaperParallelism),
	)

	reaper := callService.NewReaper(calls, redisRepo.NewLockRepository(redisDB.Client), callService.ReaperConfig{
		Interval:    cfg.Calls.ReaperInterval,
		MaxAge:      cfg.Calls.MaxAge,
		RingTimeout: cfg.Calls.RingTimeout,
	})
	go reaper.Run(ctx)

	// 7. Handlers
	revocationChecker := middleware.NewRedisRevocationChecker(redisDB.Client)
	callHdlr := callHandler.NewHandler(calls, reaper)
	pushHdlr := pushHandler.NewHandler(pushSvc)
	eventHub := wsHandler.NewCallEventHub(redisDB.Client, jwtManager, revocationChecker, wsHandler.HubConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	// 8. Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.Prometheus())

	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		if redisDB.IsDegraded() {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  status,
			"service": cfg.Server.ServiceName,
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	// The event stream authenticates itself and must not hit the request timeout
	router.GET("/v1/calls/events", eventHub.ServeWS)

	v1 := router.Group("/v1")
	v1.Use(middleware.Timeout(constants.RequestTimeout))
	v1.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	{
		callRoutes := v1.Group("/calls")
		callRoutes.POST("/initiate", callHdlr.InitiateCall)
		callRoutes.GET("/active", callHdlr.GetActiveCall)
		callRoutes.GET("/history", callHdlr.GetCallHistory)
		callRoutes.POST("/cleanup", middleware.RequireAdmin(), callHdlr.Cleanup)
		callRoutes.GET("/:id", callHdlr.GetCall)
		callRoutes.POST("/:id/join", callHdlr.JoinCall)
		callRoutes.POST("/:id/decline", callHdlr.DeclineCall)
		callRoutes.POST("/:id/end", callHdlr.EndCall)
		callRoutes.POST("/:id/leave", callHdlr.LeaveCall)
		callRoutes.POST("/:id/participants", callHdlr.AddParticipant)
		callRoutes.PATCH("/:id/participants/me", callHdlr.UpdateParticipantStatus)

		pushRoutes := v1.Group("/push")
		pushRoutes.POST("/tokens", pushHdlr.RegisterToken)
		pushRoutes.DELETE("/tokens", pushHdlr.UnregisterToken)
	}

	// 9. Serve until signalled
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Call service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Server.Environment),
			zap.String("call_store", cfg.Calls.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down call service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	eventHub.Close()
	if err := gateway.Close(constants.GracefulShutdownTimeout / 2); err != nil {
		logger.Warn("Notification gateway did not drain", zap.Error(err))
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error("Failed to close Kafka producer", zap.Error(err))
		}
	}
}

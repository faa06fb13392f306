package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/harborapp/harbor/internal/auth"
	"github.com/harborapp/harbor/internal/bus"
	"github.com/harborapp/harbor/internal/cache"
	"github.com/harborapp/harbor/internal/config"
	"github.com/harborapp/harbor/internal/database"
	"github.com/harborapp/harbor/internal/handlers"
	"github.com/harborapp/harbor/internal/logger"
	"github.com/harborapp/harbor/internal/metrics"
	"github.com/harborapp/harbor/internal/middleware"
	"github.com/harborapp/harbor/internal/telemetry"
	"github.com/harborapp/harbor/internal/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	cfg := config.Load()

	if err := logger.Initialize(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	if len(cfg.JWTSecret) == 0 {
		logger.Log.Fatal("JWT_SECRET environment variable is required")
	}

	metrics.Initialize()

	tp, err := telemetry.InitTracer(telemetry.Config{
		ServiceName:  "harbor",
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTELEndpoint,
		Enabled:      cfg.OTELEnabled,
		SamplingRate: cfg.OTELSamplingRate,
	})
	if err != nil {
		logger.Log.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Log.Warn("Tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	if err := database.Initialize(cfg.DatabaseURL, cfg.Environment); err != nil {
		logger.Log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(); err != nil {
		logger.Log.Fatal("Failed to migrate database", zap.Error(err))
	}

	redisClient, err := cache.NewRedisClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)
	if err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	eventBus := bus.NewRedisBus(redisClient)

	hub := websocket.NewHub()
	presence := websocket.NewPresenceStore(redisClient, eventBus)
	relay := websocket.NewCallRelay(eventBus)
	gateway := websocket.NewGateway(hub, eventBus, presence, relay)

	gatewayCtx, stopGateway := context.WithCancel(context.Background())
	defer stopGateway()
	go func() {
		if err := gateway.Run(gatewayCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.Error("Gateway stopped", zap.Error(err))
		}
	}()
	go presence.RunJanitor(gatewayCtx, hub)

	authService := auth.NewService(cfg.JWTSecret)
	h := handlers.NewHandlers(authService, eventBus)
	wsHandler := websocket.NewHandler(gateway, auth.SocketValidator{Service: authService})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.GinLoggerMiddleware())
	router.Use(otelgin.Middleware("harbor"))
	// The upgrade endpoint hijacks the connection, so it must bypass
	// response compression.
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/ws"})))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	router.Use(cors.New(corsConfig))

	router.Use(middleware.RedisRateLimitMiddleware(redisClient, 300, time.Minute))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "harbor",
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authRequired := middleware.AuthMiddleware(authService)

	api := router.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", h.Register)
			authGroup.POST("/login", h.Login)
			authGroup.POST("/password-reset/request", h.RequestPasswordReset)
			authGroup.POST("/password-reset", h.ResetPassword)
			authGroup.GET("/me", authRequired, h.Me)
		}

		messages := api.Group("/messages")
		{
			messages.Use(authRequired)
			messages.POST("", h.SendMessage)
			messages.GET("/unread", h.GetUnreadCounts)
			messages.GET("/:peerID", h.GetConversation)
			messages.POST("/:peerID/read", h.MarkConversationRead)
			messages.PUT("/:id", h.EditMessage)
			messages.DELETE("/:id", h.DeleteMessage)
		}

		notifications := api.Group("/notifications")
		{
			notifications.Use(authRequired)
			notifications.POST("", h.CreateNotification)
			notifications.GET("", h.GetNotifications)
			notifications.POST("/:id/read", h.MarkNotificationRead)
			notifications.POST("/clear", h.ClearNotifications)
		}

		posts := api.Group("/posts")
		{
			posts.Use(authRequired)
			posts.POST("", h.CreatePost)
			posts.GET("", h.GetFeed)
			posts.PUT("/:id", h.UpdatePost)
			posts.DELETE("/:id", h.DeletePost)
		}

		groups := api.Group("/groups")
		{
			groups.Use(authRequired)
			groups.POST("", h.CreateGroup)
			groups.GET("", h.GetGroups)
			groups.PUT("/:id", h.UpdateGroup)
			groups.DELETE("/:id", h.DeleteGroup)
		}

		users := api.Group("/users")
		{
			users.Use(authRequired)
			users.GET("/:id", h.GetUser)
			users.PUT("/me", h.UpdateProfile)
		}

		ws := api.Group("/ws")
		{
			// Connection endpoint authenticates via ?token=... or the
			// Authorization header inside the handler itself.
			ws.GET("", wsHandler.HandleWebSocket)
			ws.GET("/connect", wsHandler.HandleWebSocket)

			ws.GET("/stats", authRequired, wsHandler.HandleStats)
			ws.POST("/online", authRequired, wsHandler.HandleOnlineStatus)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info("Server starting",
			zap.String("port", cfg.Port),
			zap.String("environment", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Stop accepting HTTP first, then drain websocket sessions so
	// clients get a close frame and presence counters are decremented.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("HTTP shutdown failed", zap.Error(err))
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Hub shutdown failed", zap.Error(err))
	}
	stopGateway()

	logger.Log.Info("Server stopped")
}

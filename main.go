package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/support-chat-api/broker"
	"github.com/kendall-kelly/support-chat-api/config"
	"github.com/kendall-kelly/support-chat-api/controllers"
	"github.com/kendall-kelly/support-chat-api/middleware"
	"github.com/kendall-kelly/support-chat-api/models"
	"github.com/kendall-kelly/support-chat-api/repository"
	"github.com/kendall-kelly/support-chat-api/services"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const shutdownTimeout = 20 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger depends on config, so fall back to a bare one
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := config.NewLogger(cfg)
	log.Info().Str("env", cfg.GoEnv).Msg("Starting Support Chat API server...")

	// Connect to database
	db, err := config.ConnectDatabase(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	// Auto-migrate database models
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}
	log.Info().Msg("Database migration completed successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("Failed to connect to Redis")
	}

	queue, err := broker.New(cfg, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create notification broker")
	}

	chatStore := repository.NewChatStore(db)
	notificationStore := repository.NewNotificationStore(db)
	directory := services.NewGormAccountDirectory(db)
	hub := services.NewRedisPushHub(rdb, cfg.Notification.HubPrefix)
	publisher := services.NewNotificationPublisher(queue, cfg.Broker)

	var images services.ImageService
	if cfg.AWSS3Bucket != "" {
		storage, err := services.NewS3Storage(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 storage")
		}
		images = services.NewStorageImageService(storage)
	} else {
		log.Warn().Msg("AWS_S3_BUCKET not set, chat image uploads are disabled")
	}

	manager := services.NewChatRoomManager(chatStore, directory, hub, publisher, log)
	chat := services.NewChatService(chatStore, manager, directory, hub, publisher, images, log)

	worker := services.NewNotificationWorker(
		queue,
		notificationStore,
		directory,
		services.NewSMTPTransport(cfg.SMTP),
		services.NewHTTPPushTransport(cfg.Push),
		services.WorkerConfigFrom(cfg),
		log,
	)

	auth, err := middleware.EnsureValidToken(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up JWT validation")
	}

	router := setupRouter(log, db, auth, corsConfig(cfg), application{
		directory:     directory,
		profiles:      services.NewAuth0Service(cfg.Auth0Domain),
		manager:       manager,
		chat:          chat,
		notifications: notificationStore,
		images:        images,
	})

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- worker.Run(workerCtx)
	}()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverDone := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server is running")
		serverDone <- server.ListenAndServe()
	}()

	failed := waitForStop(ctx, log, serverDone, workerDone)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	chat.Wait()

	cancelWorker()
	select {
	case err := <-workerDone:
		if err != nil {
			log.Error().Err(err).Msg("Notification worker exited with error")
		}
	case <-shutdownCtx.Done():
		log.Warn().Msg("Timed out waiting for notification worker")
	}

	if err := queue.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close broker")
	}
	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Redis client")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("Server stopped")

	if failed {
		// os.Exit skips deferred calls
		cancel()
		stop()
		os.Exit(1)
	}
}

// waitForStop blocks until a shutdown signal arrives or the server or worker
// exits on its own. It reports whether the exit was unexpected. A worker error
// is put back on workerDone so the shutdown sequence still observes it.
func waitForStop(ctx context.Context, log zerolog.Logger, serverDone <-chan error, workerDone chan error) bool {
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
		return false
	case err := <-serverDone:
		if errors.Is(err, http.ErrServerClosed) {
			return false
		}
		log.Error().Err(err).Msg("Server stopped unexpectedly")
		return true
	case err := <-workerDone:
		// Without a consumer the queues only grow, so stop serving and let the
		// orchestrator restart the process
		log.Error().Err(err).Msg("Notification worker stopped unexpectedly")
		workerDone <- err
		return true
	}
}

// application holds the services the HTTP layer is built on
type application struct {
	directory     *services.GormAccountDirectory
	profiles      services.ProfileFetcher
	manager       *services.ChatRoomManager
	chat          *services.ChatService
	notifications *repository.NotificationStore
	images        services.ImageService
}

// setupRouter mounts the public endpoints and, behind auth, every controller
func setupRouter(log zerolog.Logger, db *gorm.DB, auth gin.HandlerFunc, corsCfg cors.Config, app application) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestLogger(log), gin.Recovery(), cors.New(corsCfg))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Public endpoints
		v1.GET("/health", healthCheck)
		v1.GET("/database/status", databaseStatus(db))

		protected := v1.Group("", auth)
		controllers.NewAccountController(app.directory, app.profiles, log).Register(protected)
		controllers.NewSupportController(app.manager, app.directory, log).Register(protected)
		controllers.NewChatController(app.chat, app.manager, app.directory, app.images, log).Register(protected)
		controllers.NewNotificationController(app.notifications, app.directory, log).Register(protected)
	}
	return router
}

func corsConfig(cfg *config.Config) cors.Config {
	c := cors.DefaultConfig()
	c.AllowHeaders = append(c.AllowHeaders, "Authorization")
	c.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}

	for _, origin := range cfg.CORSAllowedOrigins {
		if origin == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = cfg.CORSAllowedOrigins
	return c
}

// healthCheck handles the health check endpoint
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Support Chat API is running",
	})
}

// databaseStatus checks database connectivity and returns table information
func databaseStatus(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get the underlying SQL database to check connection
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "DATABASE_ERROR",
					"message": "Failed to get database instance",
				},
			})
			return
		}

		// Ping the database to verify connection
		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "DATABASE_CONNECTION_ERROR",
					"message": "Database connection failed",
				},
			})
			return
		}

		query := "SELECT tablename FROM pg_tables WHERE schemaname = 'public'"
		if db.Dialector.Name() == "sqlite" {
			query = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'"
		}

		var tables []string
		if err := db.WithContext(c.Request.Context()).Raw(query).Scan(&tables).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "DATABASE_QUERY_ERROR",
					"message": "Failed to query tables",
				},
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Database connected",
			"tables":  tables,
		})
	}
}

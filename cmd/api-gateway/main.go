package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/lgulliver/cliniprompt/internal/history"
	"github.com/lgulliver/cliniprompt/internal/metrics"
	"github.com/lgulliver/cliniprompt/internal/session"
	"github.com/lgulliver/cliniprompt/internal/storage"
	"github.com/lgulliver/cliniprompt/pkg/config"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg := config.LoadFromEnv()

	// Setup logging
	cfg.Logging.SetupLogging()

	log.Info().Str("version", version).Msg("Starting CliniPrompt API Gateway")

	// Initialize storage
	storageFactory := storage.NewStorageFactory(&cfg.Storage)
	store, err := storageFactory.CreateWorkspaceStore()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	collector := metrics.NewCollector("cliniprompt")
	opts := []session.Option{
		session.WithMetrics(collector),
		session.WithOrphanPurge(cfg.Storage.PurgeOrphansOnStart),
	}

	// Optional event journal
	if cfg.Database.Enabled {
		db, err := common.NewDatabase(&cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		opts = append(opts, session.WithHistory(history.NewRecorder(db.DB)))
	}

	// Optional session mirror
	if cfg.Redis.Enabled {
		cache, err := common.NewCache(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer cache.Close()
		opts = append(opts, session.WithMirror(common.NewSessionMirror(cache)))
	}

	manager, err := session.NewManager(context.Background(), cfg.Session, store, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start session manager")
	}
	defer manager.Close()

	// Setup HTTP server
	router := setupRouter(manager, collector, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	} else {
		log.Info().Msg("Server shutdown complete")
	}
}

func setupRouter(manager *session.Manager, collector *metrics.Collector, allowedOrigins []string) *gin.Engine {
	// Set Gin mode based on log level
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(requestLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(allowedOrigins))

	h := &handlers{sessions: manager, version: version, startTime: time.Now()}

	router.GET("/health", h.handleHealth)
	router.GET("/metrics", gin.WrapH(collector.Handler()))

	// API routes
	api := router.Group("/api/v1")
	{
		api.GET("/health", h.handleHealth)

		sessions := api.Group("/sessions")
		{
			sessions.POST("", h.handleCreateSession)
			sessions.GET("/:id", h.handleGetSession)
			sessions.DELETE("/:id", h.handleDeleteSession)
			sessions.POST("/:id/audio", h.handleUploadAudio)
			sessions.POST("/:id/process", h.handleStartProcessing)
			sessions.GET("/:id/status", h.handleGetStatus)
			sessions.GET("/:id/usage", h.handleGetUsage)
			sessions.GET("/:id/files/*path", h.handleDownloadFile)
		}
	}

	return router
}

// requestLogger logs each request through zerolog
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(startTime)).
			Str("session_id", c.Param("id")).
			Msg("request handled")
	}
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
			c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

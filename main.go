package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"coinwatch/config"
	"coinwatch/models"
	"coinwatch/routes"
	"coinwatch/scheduler"
	"coinwatch/services"
	"coinwatch/services/alerts"
	"coinwatch/services/coingecko"
	"coinwatch/services/notify"
	"coinwatch/services/stream"
)

func main() {
	log.Println("==============================================")
	log.Println("  Coinwatch API - Starting...")
	log.Println("==============================================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}

	log.Println("Running database migrations...")
	if err := runMigrations(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Database migrations completed successfully")

	setupHealthEndpoints(router, db)

	// Core services.
	apiClient := coingecko.NewClient(cfg.CoinGeckoBaseURL, cfg.CoinGeckoAPIKey)
	market := services.NewMarketService(apiClient, services.NewStaticRateProvider(), services.NewGormGlobalStore(db))
	alertStore := alerts.NewGormStore(db)
	hub := stream.NewHub()

	notifier := buildNotifier(cfg)
	evaluator := alerts.NewEvaluator(alertStore, alerts.NewGormCoinStore(db), notifier)

	routes.SetupRoutes(router, cfg, db, market, alertStore, hub)

	jobScheduler := scheduler.NewScheduler(db, apiClient, evaluator, hub)
	jobScheduler.Start()

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	gracefulShutdown(server, db, jobScheduler, hub)
}

// buildNotifier wires APNs delivery when credentials are configured and falls
// back to a log-only notifier otherwise, so alert evaluation always runs.
func buildNotifier(cfg *config.Config) notify.Notifier {
	if cfg.APNSKeyPath == "" {
		log.Println("APNS not configured, alert notifications will only be logged")
		return logNotifier{}
	}

	deliveryLog, err := notify.NewDeliveryLog(context.Background(), cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.Printf("Notification delivery log unavailable: %v", err)
	}

	notifier, err := notify.NewAPNSNotifier(cfg.APNSKeyPath, cfg.APNSKeyID, cfg.APNSTeamID, cfg.APNSTopic, cfg.APNSSandbox, deliveryLog)
	if err != nil {
		log.Printf("Warning: APNS setup failed, alert notifications will only be logged: %v", err)
		return logNotifier{}
	}
	return notifier
}

type logNotifier struct{}

func (logNotifier) Send(_ context.Context, n notify.Notification) error {
	log.Printf("ALERT (not delivered): %s - %s", n.Title, n.Body)
	return nil
}

// runMigrations runs all database migrations
func runMigrations(db *gorm.DB) error {
	if err := models.MigrateCoinModels(db); err != nil {
		return err
	}
	if err := models.MigrateAlertModels(db); err != nil {
		return err
	}
	return models.MigrateGlobalDataModels(db)
}

// setupHealthEndpoints sets up liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine, db *gorm.DB) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Coinwatch API",
			"version": "1.0.0",
		})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ready", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}
		if err := sqlDB.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-API-Key, X-Device-ID, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, db *gorm.DB, jobScheduler *scheduler.Scheduler, hub *stream.Hub) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	jobScheduler.Stop()
	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
		log.Println("Database connection closed")
	}

	log.Println("Server shutdown completed")
}

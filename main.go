package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/a2u-payout/chain"
	"github.com/yourusername/a2u-payout/config"
	"github.com/yourusername/a2u-payout/engine"
	"github.com/yourusername/a2u-payout/handlers"
	"github.com/yourusername/a2u-payout/middleware"
	"github.com/yourusername/a2u-payout/platform"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}

	// Wire the lifecycle engine
	gateway := chain.NewHorizonGateway(cfg.HorizonURL, cfg.CallTimeout)
	platformClient := platform.NewClient(cfg.PlatformAPIURL, cfg.PlatformAPIKey, cfg.CallTimeout)
	eng, err := engine.NewEngine(db, platformClient, gateway, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize engine: %v", err)
	}

	// Resolve submissions left unresolved by a previous process
	if err := eng.Reconcile(context.Background()); err != nil {
		logrus.Warnf("Startup reconciliation failed: %v", err)
	}

	// Setup router
	router := gin.Default()

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "a2u-payout-api",
		})
	})

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := router.Group("/api/v1")
	api.Use(middleware.JwtAuthMiddleware(cfg))
	{
		payoutHandler := handlers.NewPayoutHandler(db, cfg, eng)
		api.POST("/payouts", payoutHandler.CreatePayout)
		api.GET("/payouts/:id", payoutHandler.GetPayout)
		api.GET("/payouts", payoutHandler.ListPayouts)
		api.POST("/payouts/:id/cancel", payoutHandler.CancelPayout)
	}

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	logrus.Infof("Starting A2U payout API server on port %s", port)
	if err := router.Run(":" + port); err != nil {
		logrus.Fatalf("Failed to start server: %v", err)
	}
}

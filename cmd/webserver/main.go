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

	"github.com/gin-gonic/gin"

	"churn-insight/configs"
	"churn-insight/internal/cache"
	"churn-insight/internal/database"
	"churn-insight/internal/handlers"
	"churn-insight/internal/logger"
	"churn-insight/internal/middleware"
	"churn-insight/internal/recommend"
	"churn-insight/internal/services"
)

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer lg.Sync()

	db, err := database.Open(cfg.Database(), lg)
	if err != nil {
		lg.Fatal("database unavailable", "driver", cfg.DBDriver, "error", err)
	}
	defer db.Close()

	cacheMgr := cache.NewCacheManager(cfg.RedisURL, cfg.CacheTTL, lg)
	defer cacheMgr.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsHandler := handlers.NewWebSocketHandler(lg)
	go wsHandler.RunHub(ctx)

	var events services.EventSink
	if cfg.EnableWebSocket {
		events = wsHandler
	}

	llmClient := cfg.LLMClient()
	if !llmClient.Enabled() {
		lg.Info("OPENAI_API_KEY not set, recommendations use rules only")
	}
	recommender := recommend.New(cfg.RiskThresholds(), llmClient, lg)

	authService := services.NewAuthService(cfg.JWTSecret, cfg.JWTTTL, cfg.AdminKeyHash)
	rfmService := services.NewRFMService(db, cacheMgr, events, lg)
	scoringService := services.NewScoringService(cfg.Scoring(), db, cacheMgr, events, lg)
	dashboardService := services.NewDashboardService(db, cacheMgr, recommender, lg)

	dashboardHandler := handlers.NewDashboardHandler(dashboardService, lg)
	adminHandler := handlers.NewAdminHandler(authService, rfmService, scoringService, cfg.BankCSV, lg)

	if os.Getenv("GIN_MODE") != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.ValidationMiddleware())

	router.GET("/health", func(c *gin.Context) {
		dbStatus := "connected"
		if err := db.Ping(c.Request.Context()); err != nil {
			dbStatus = "unreachable"
		}
		redisStatus := "local_cache_only"
		if cacheMgr.IsAvailable() {
			redisStatus = "connected"
		}
		llmStatus := "rules_only"
		if llmClient.Enabled() {
			llmStatus = "enabled"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
			"services": map[string]string{
				"database": dbStatus,
				"redis":    redisStatus,
				"llm":      llmStatus,
			},
		})
	})

	api := router.Group("/api")
	api.Use(middleware.RateLimitMiddleware(cacheMgr, cfg.RateLimitPerHour))

	api.GET("/segments", dashboardHandler.GetSegments)
	api.GET("/segments/:code/customers", dashboardHandler.GetSegmentCustomers)
	api.GET("/segments/:code/recommendation", dashboardHandler.GetSegmentRecommendation)
	api.GET("/customers/:id", dashboardHandler.GetCustomer)
	api.GET("/runs/latest", dashboardHandler.GetLatestRun)
	api.POST("/auth/token", adminHandler.IssueToken)

	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(authService))
	admin.POST("/rfm/build", adminHandler.BuildRFM)
	admin.POST("/pipeline/run", adminHandler.RunPipeline)

	if cfg.EnableWebSocket {
		router.GET("/ws", wsHandler.HandleConnections)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		lg.Info("server starting", "port", cfg.ServerPort, "db_driver", cfg.DBDriver, "websocket", cfg.EnableWebSocket)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("graceful shutdown failed", "error", err)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shelfsight/shelfsight-backend/internal/cache"
	"github.com/shelfsight/shelfsight-backend/internal/clients/barcodelookup"
	"github.com/shelfsight/shelfsight-backend/internal/clients/gcp"
	"github.com/shelfsight/shelfsight-backend/internal/db"
	"github.com/shelfsight/shelfsight-backend/internal/handlers"
	"github.com/shelfsight/shelfsight-backend/internal/logger"
	"github.com/shelfsight/shelfsight-backend/internal/middleware"
	"github.com/shelfsight/shelfsight-backend/internal/observability"
	"github.com/shelfsight/shelfsight-backend/internal/pipeline"
	"github.com/shelfsight/shelfsight-backend/internal/repos"
	"github.com/shelfsight/shelfsight-backend/internal/resilience"
	"github.com/shelfsight/shelfsight-backend/internal/server"
	"github.com/shelfsight/shelfsight-backend/internal/services"
	"github.com/shelfsight/shelfsight-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	shutdownOtel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "shelfsight-backend",
		Environment: utils.GetEnv("APP_ENV", "development", log),
		Version:     utils.GetEnv("APP_VERSION", "dev", log),
	})
	if shutdownOtel != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownOtel(ctx)
		}()
	}

	// Env
	log.Info("Loading environment variables from main...")
	retryCfg := resilience.RetryConfig{
		MaxAttempts: utils.GetEnvAsInt("RETRY_MAX_ATTEMPTS", 3, log),
		BaseDelay:   time.Duration(utils.GetEnvAsInt("RETRY_BASE_DELAY_MS", 100, log)) * time.Millisecond,
	}
	minConfidence := utils.GetEnvAsFloat("ANALYSIS_MIN_CONFIDENCE", pipeline.DefaultMinConfidence, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	productRepo := repos.NewProductRepo(thePG, log)
	storeRepo := repos.NewStoreRepo(thePG, log)
	sightingRepo := repos.NewSightingRepo(thePG, log, storeRepo)
	errorReportRepo := repos.NewErrorReportRepo(thePG, log)

	// Cache
	productCache, err := cache.NewRedisProductCache(log)
	if err != nil {
		log.Error("Could not init product cache", "error", err)
		os.Exit(1)
	}

	// External clients
	log.Info("Setting up external clients from main...")
	visionClient, err := gcp.NewVision(log)
	if err != nil {
		log.Error("Could not init Vision client", "error", err)
		os.Exit(1)
	}
	defer visionClient.Close()
	lookupClient, err := barcodelookup.NewClient(log)
	if err != nil {
		log.Error("Could not init barcode lookup client", "error", err)
		os.Exit(1)
	}
	archive, err := gcp.NewScanImageArchive(log)
	if err != nil {
		log.Warn("Scan image archive unavailable, corrections limited to inline images", "error", err)
		archive = nil
	}

	visionGuard := resilience.NewGuard(resilience.GuardConfig{
		MaxRequests:      utils.GetEnvAsInt("VISION_MAX_REQUESTS_PER_MINUTE", 60, log),
		Window:           time.Minute,
		FailureThreshold: utils.GetEnvAsInt("VISION_FAILURE_THRESHOLD", 5, log),
		ResetTimeout:     time.Duration(utils.GetEnvAsInt("VISION_RESET_TIMEOUT_SECONDS", 30, log)) * time.Second,
	})
	lookupGuard := resilience.NewGuard(resilience.GuardConfig{
		MaxRequests:      utils.GetEnvAsInt("LOOKUP_MAX_REQUESTS_PER_MINUTE", 30, log),
		Window:           time.Minute,
		FailureThreshold: utils.GetEnvAsInt("LOOKUP_FAILURE_THRESHOLD", 5, log),
		ResetTimeout:     time.Duration(utils.GetEnvAsInt("LOOKUP_RESET_TIMEOUT_SECONDS", 30, log)) * time.Second,
	})

	// Pipeline
	identificationPipeline := pipeline.New(
		log,
		productCache,
		productRepo,
		visionClient,
		lookupClient,
		visionGuard,
		lookupGuard,
		pipeline.Config{MinConfidence: minConfidence, Retry: retryCfg},
	)

	// Services
	log.Info("Setting up Services from main...")
	scanOrchestrator := services.NewScanOrchestrator(
		log,
		productCache,
		productRepo,
		storeRepo,
		sightingRepo,
		identificationPipeline,
		archive,
		retryCfg,
	)
	correctionService := services.NewCorrectionService(
		log,
		productCache,
		productRepo,
		errorReportRepo,
		identificationPipeline,
		archive,
		retryCfg,
	)

	// Handlers
	log.Info("Setting up handlers from main...")
	scanHandler := handlers.NewScanHandler(scanOrchestrator, correctionService, productCache)
	productHandler := handlers.NewProductHandler(productRepo, storeRepo, sightingRepo)

	// Middleware
	requestLogger := middleware.NewRequestLogger(log)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		ScanHandler:    scanHandler,
		ProductHandler: productHandler,
		RequestLogger:  requestLogger,
		AllowedOrigins: splitOrigins(utils.GetEnv("CORS_ALLOWED_ORIGINS", "", log)),
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}

func splitOrigins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

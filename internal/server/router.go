package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/shelfsight/shelfsight-backend/internal/handlers"
	"github.com/shelfsight/shelfsight-backend/internal/middleware"
)

type RouterConfig struct {
	ScanHandler    *handlers.ScanHandler
	ProductHandler *handlers.ProductHandler
	RequestLogger  *middleware.RequestLogger
	AllowedOrigins []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.RequestLogger != nil {
		router.Use(cfg.RequestLogger.Handler())
	}
	router.Use(otelgin.Middleware("shelfsight-backend"))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Request-ID"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/scans", cfg.ScanHandler.ProcessScan)
		api.POST("/scans/report", cfg.ScanHandler.ReportError)
		api.GET("/cache/stats", cfg.ScanHandler.CacheStats)

		api.GET("/products/nearby", cfg.ProductHandler.GetProductsNearby)
		api.GET("/products/:id/stores", cfg.ProductHandler.GetStoresForProduct)
		api.GET("/stores/:id/products", cfg.ProductHandler.GetProductsAtStore)
	}

	return router
}

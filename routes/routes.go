package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stock_screener_backend/controllers"
	"stock_screener_backend/services/realtime"
	"stock_screener_backend/services/scanner"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, sc *scanner.Scanner, hub *realtime.Hub, symbolsFile string) {
	// Initialize controllers
	scanController := controllers.NewScanController(db, sc)
	recController := controllers.NewRecommendationController(db)
	symbolController := controllers.NewSymbolController(db, symbolsFile)
	adminController := controllers.NewAdminController(db, symbolsFile)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	// WebSocket scan progress stream
	router.GET("/ws/scan", func(c *gin.Context) {
		hub.HandleWebSocket(c.Writer, c.Request)
	})

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Symbol universe routes
		symbols := api.Group("/symbols")
		{
			symbols.GET("", symbolController.List)
			symbols.POST("/reload", symbolController.Reload)
			symbols.GET("/:symbol/details", recController.SymbolDetails)
		}

		// Scan routes
		scan := api.Group("/scan")
		{
			// :id also accepts "latest"
			scan.POST("/run", scanController.Run)
			scan.GET("/active", scanController.GetActive)
			scan.GET("/:id", scanController.GetScan)
			scan.GET("/:id/logs", scanController.GetLogs)
			scan.DELETE("/:id/symbol/:symbol", scanController.DeleteSymbol)
		}

		// Recommendation routes
		recommendations := api.Group("/recommendations")
		{
			recommendations.GET("/latest", recController.Latest)
			recommendations.GET("/latest/all", recController.LatestAll)
		}

		// Admin routes
		admin := api.Group("/admin")
		{
			admin.DELETE("/clear-all", adminController.ClearAll)
		}
	}
}

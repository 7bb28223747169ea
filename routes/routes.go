// Package routes wires HTTP endpoints to their controllers.
package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"coinwatch/config"
	"coinwatch/controllers"
	"coinwatch/middleware"
	"coinwatch/services"
	"coinwatch/services/alerts"
	"coinwatch/services/stream"
)

// SetupRoutes registers the API surface. Every data endpoint sits behind the
// API key check; the search endpoint additionally carries a per-IP rate
// limit because a cache miss there always costs an upstream call.
func SetupRoutes(router *gin.Engine, cfg *config.Config, db *gorm.DB, market *services.MarketService, alertStore alerts.Store, hub *stream.Hub) {
	coins := controllers.NewCoinController(db, market)
	priceAlerts := controllers.NewPriceAlertController(alertStore)
	searchLimiter := middleware.NewRateLimiter(30, time.Minute)

	api := router.Group("/", middleware.APIKeyAuth(cfg.APIKey))

	api.GET("/coins", coins.GetCoins)
	api.GET("/coin-details", coins.GetCoinDetails)
	api.GET("/chart-data", coins.GetChartData)
	api.GET("/search", searchLimiter.Middleware(), coins.Search)
	api.GET("/market-data", coins.GetMarketData)
	api.GET("/global-crypto-market-data", coins.GetGlobalCryptoMarketData)
	api.GET("/global-market-data", coins.GetGlobalMarketData)

	alertGroup := api.Group("/users/:user_id/price-alerts", middleware.RequireDeviceID())
	alertGroup.GET("", priceAlerts.ListAlerts)
	alertGroup.POST("", priceAlerts.CreateAlert)
	alertGroup.DELETE("/:id", priceAlerts.DeleteAlert)

	if hub != nil {
		router.GET("/ws/prices", gin.WrapF(hub.HandleWebSocket))
	}
}

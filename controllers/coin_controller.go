// Package controllers holds the HTTP handlers for the REST API.
package controllers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"coinwatch/models"
	"coinwatch/services"
	"coinwatch/services/coingecko"
)

const (
	defaultPerPage = 250
	maxPerPage     = 250
	maxMarketIDs   = 500
)

// MarketProvider is the slice of the market service the coin handlers use.
type MarketProvider interface {
	FetchCoins(ctx context.Context, page, perPage int, currency models.Currency) ([]coingecko.CoinMarket, error)
	FetchCoinDetails(ctx context.Context, id string) (*coingecko.CoinDetails, error)
	FetchChartData(ctx context.Context, id string, timeframe models.Timeframe, currency models.Currency) ([]coingecko.ChartPoint, error)
	SearchCoins(ctx context.Context, query string) ([]services.SearchResult, error)
	FetchMarketData(ctx context.Context, ids []string, currency models.Currency) (map[string]services.MarketData, error)
	FetchGlobalCryptoMarketData(ctx context.Context) (*coingecko.GlobalData, error)
	FetchGlobalMarketData(ctx context.Context) (*models.GlobalMarketData, error)
}

// CoinController serves coin catalog and market data endpoints.
type CoinController struct {
	db     *gorm.DB
	market MarketProvider
}

func NewCoinController(db *gorm.DB, market MarketProvider) *CoinController {
	return &CoinController{db: db, market: market}
}

// GetCoins returns a page of the coin catalog ordered by market cap rank.
// The default source is the persisted catalog; source=live goes through the
// cached upstream path instead.
func (cc *CoinController) GetCoins(c *gin.Context) {
	page, perPage, ok := pageParams(c)
	if !ok {
		return
	}
	currency, err := models.ParseCurrency(c.Query("currency"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if c.Query("source") == "live" {
		coins, err := cc.market.FetchCoins(c, page, perPage, currency)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, coins)
		return
	}

	if currency != models.CurrencyUSD {
		c.JSON(http.StatusBadRequest, gin.H{"error": "persisted catalog is served in usd; use source=live for other currencies"})
		return
	}

	var coins []models.Coin
	err = cc.db.Order("market_cap_rank IS NULL, market_cap_rank").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&coins).Error
	if err != nil {
		log.Printf("Failed to load coin catalog: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load coins"})
		return
	}
	c.JSON(http.StatusOK, coins)
}

// GetCoinDetails returns full details for one coin.
func (cc *CoinController) GetCoinDetails(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	details, err := cc.market.FetchCoinDetails(c, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// GetChartData returns the price series for one coin and timeframe.
func (cc *CoinController) GetChartData(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	timeframe, err := models.ParseTimeframe(c.Query("timeframe"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	currency, err := models.ParseCurrency(c.Query("currency"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	points, err := cc.market.FetchChartData(c, id, timeframe, currency)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

// Search returns catalog matches for a free-text query, each with a fresh
// quote where upstream has one.
func (cc *CoinController) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	results, err := cc.market.SearchCoins(c, query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// GetMarketData returns current quotes for a comma-separated list of coin
// ids.
func (cc *CoinController) GetMarketData(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("ids"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids is required"})
		return
	}
	currency, err := models.ParseCurrency(c.Query("currency"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids is required"})
		return
	}
	if len(ids) > maxMarketIDs {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many ids requested"})
		return
	}

	quotes, err := cc.market.FetchMarketData(c, ids, currency)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quotes)
}

// GetGlobalCryptoMarketData returns aggregate market statistics.
func (cc *CoinController) GetGlobalCryptoMarketData(c *gin.Context) {
	data, err := cc.market.FetchGlobalCryptoMarketData(c)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

// GetGlobalMarketData returns the macro statistics singleton.
func (cc *CoinController) GetGlobalMarketData(c *gin.Context) {
	data, err := cc.market.FetchGlobalMarketData(c)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func pageParams(c *gin.Context) (page, perPage int, ok bool) {
	page = 1
	if raw := c.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
			return 0, 0, false
		}
		page = parsed
	}

	perPage = defaultPerPage
	if raw := c.Query("per_page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxPerPage {
			c.JSON(http.StatusBadRequest, gin.H{"error": "per_page must be between 1 and 250"})
			return 0, 0, false
		}
		perPage = parsed
	}
	return page, perPage, true
}

// respondError maps service failures to HTTP statuses: bad input is 400,
// upstream trouble is 503, missing data is 404.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUnsupportedCurrency):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, coingecko.ErrUpstream):
		log.Printf("Upstream failure: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "market data temporarily unavailable"})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		log.Printf("Request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

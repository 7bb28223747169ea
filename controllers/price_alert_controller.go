package controllers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"coinwatch/middleware"
	"coinwatch/models"
	"coinwatch/services/alerts"
)

// PriceAlertController serves the price alert CRUD endpoints.
type PriceAlertController struct {
	store alerts.Store
}

func NewPriceAlertController(store alerts.Store) *PriceAlertController {
	return &PriceAlertController{store: store}
}

type createAlertRequest struct {
	CoinID          string                 `json:"coin_id" binding:"required"`
	CoinName        string                 `json:"coin_name"`
	TargetPrice     decimal.Decimal        `json:"target_price"`
	TargetDirection models.TargetDirection `json:"target_direction" binding:"required"`
}

// ListAlerts returns all alerts belonging to a user.
func (pc *PriceAlertController) ListAlerts(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	list, err := pc.store.ForUser(c, userID)
	if err != nil {
		log.Printf("Failed to list alerts for %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load alerts"})
		return
	}
	c.JSON(http.StatusOK, list)
}

// CreateAlert registers a new price alert. The device token comes from the
// X-Device-ID header so the alert can be delivered later.
func (pc *PriceAlertController) CreateAlert(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.TargetPrice.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_price must be greater than zero"})
		return
	}
	if !req.TargetDirection.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_direction must be ABOVE or BELOW"})
		return
	}

	coinName := req.CoinName
	if coinName == "" {
		coinName = req.CoinID
	}

	alert := models.PriceAlert{
		UserID:          userID,
		CoinID:          req.CoinID,
		CoinName:        coinName,
		TargetPrice:     req.TargetPrice,
		TargetDirection: req.TargetDirection,
		DeviceToken:     middleware.DeviceID(c),
	}

	if err := pc.store.Create(c, &alert); err != nil {
		if errors.Is(err, alerts.ErrDuplicateAlert) {
			c.JSON(http.StatusConflict, gin.H{"error": "an alert for this coin and target already exists"})
			return
		}
		log.Printf("Failed to create alert: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create alert"})
		return
	}
	c.JSON(http.StatusCreated, alert)
}

// DeleteAlert removes one of the user's alerts.
func (pc *PriceAlertController) DeleteAlert(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}

	deleted, err := pc.store.DeleteForUser(c, userID, uint(id))
	if err != nil {
		log.Printf("Failed to delete alert %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete alert"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "alert deleted"})
}

package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/a2u-payout/config"
	"github.com/yourusername/a2u-payout/engine"
	"github.com/yourusername/a2u-payout/models"
	"gorm.io/gorm"
)

// EngineInterface is the slice of the lifecycle engine the API uses.
type EngineInterface interface {
	SendPayout(ctx context.Context, intent engine.PaymentIntent) (*models.Payout, error)
	Cancel(ctx context.Context, id string) (*models.Payout, error)
}

type PayoutHandler struct {
	db     *gorm.DB
	config *config.Config
	engine EngineInterface
}

func NewPayoutHandler(db *gorm.DB, cfg *config.Config, eng EngineInterface) *PayoutHandler {
	return &PayoutHandler{
		db:     db,
		config: cfg,
		engine: eng,
	}
}

type CreatePayoutRequest struct {
	UID      string         `json:"uid" binding:"required"`
	Amount   float64        `json:"amount" binding:"required,gt=0"`
	Memo     string         `json:"memo"`
	Metadata map[string]any `json:"metadata"`
}

// CreatePayout runs a full payout lifecycle synchronously and returns the
// terminal record. Amounts arrive as decimals and are carried internally in
// smallest units (1e7 per whole asset).
func (h *PayoutHandler) CreatePayout(c *gin.Context) {
	var req CreatePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	intent := engine.PaymentIntent{
		UID:         req.UID,
		AmountUnits: int64(math.Round(req.Amount * 1e7)),
		Memo:        req.Memo,
		Metadata:    req.Metadata,
	}

	payout, err := h.engine.SendPayout(c.Request.Context(), intent)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if payout != nil {
			// lifecycle resolved unsuccessfully; the record carries the
			// error classification for the operator
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "payout": payout})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, payout)
}

func (h *PayoutHandler) GetPayout(c *gin.Context) {
	id := c.Param("id")
	var payout models.Payout

	if err := h.db.First(&payout, "id = ?", id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payout not found"})
		return
	}

	c.JSON(http.StatusOK, payout)
}

func (h *PayoutHandler) ListPayouts(c *gin.Context) {
	var payouts []models.Payout

	query := h.db
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Order("created_at desc").Find(&payouts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch payouts"})
		return
	}

	c.JSON(http.StatusOK, payouts)
}

// CancelPayout abandons a payout that has not reached the network.
func (h *PayoutHandler) CancelPayout(c *gin.Context) {
	id := c.Param("id")

	payout, err := h.engine.Cancel(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrNotCancellable) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Payout not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, payout)
}

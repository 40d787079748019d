package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"polymarket-copytrader/service"
)

// Handler exposes the reporting and control API over the service layer.
type Handler struct {
	svc *service.Service
}

// NewHandler creates the HTTP handler set.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts all endpoints on the router.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/records", h.GetRecords)
		api.GET("/records/:source_id", h.GetTradeHistory)
		api.GET("/accounts", h.GetAccountSummaries)
		api.GET("/accounts/:address/summary", h.GetAccountSummary)
		api.GET("/positions", h.GetPositions)
		api.GET("/status", h.GetStatus)

		api.GET("/traders", h.GetTraders)
		api.POST("/traders", h.AddTrader)
		api.DELETE("/traders/:address", h.RemoveTrader)
		api.PUT("/trading", h.SetTradingActive)
	}
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// GetRecords returns statistics rows in a date range.
// Query params: from, to (RFC3339), limit.
func (h *Handler) GetRecords(c *gin.Context) {
	var from, to time.Time
	var err error

	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from: " + err.Error()})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to: " + err.Error()})
			return
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))

	records, err := h.svc.RecordsInRange(c.Request.Context(), from, to, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

// GetTradeHistory returns every row for one exchange trade.
func (h *Handler) GetTradeHistory(c *gin.Context) {
	records, err := h.svc.TradeHistory(c.Request.Context(), c.Param("source_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no records for trade"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// GetAccountSummaries returns outcome aggregates for every account.
func (h *Handler) GetAccountSummaries(c *gin.Context) {
	summaries, err := h.svc.AccountSummaries(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": summaries})
}

// GetAccountSummary returns outcome aggregates for one account.
func (h *Handler) GetAccountSummary(c *gin.Context) {
	summary, err := h.svc.AccountSummary(c.Request.Context(), c.Param("address"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetPositions returns our open copied positions.
func (h *Handler) GetPositions(c *gin.Context) {
	positions, err := h.svc.OpenPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

// GetStatus reports the engine's gate, watch list, and risk counters.
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Status())
}

// GetTraders returns the current watch list.
func (h *Handler) GetTraders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"traders": h.svc.Status().WatchedTraders})
}

type addTraderRequest struct {
	Address string `json:"address" binding:"required"`
}

// AddTrader starts watching an account.
func (h *Handler) AddTrader(c *gin.Context) {
	var req addTraderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.AddTrader(req.Address); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"address": req.Address})
}

// RemoveTrader stops watching an account.
func (h *Handler) RemoveTrader(c *gin.Context) {
	if err := h.svc.RemoveTrader(c.Param("address")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": c.Param("address")})
}

type tradingRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetTradingActive flips the live-trading gate at runtime.
func (h *Handler) SetTradingActive(c *gin.Context) {
	var req tradingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.svc.SetTradingActive(*req.Active)
	c.JSON(http.StatusOK, gin.H{"trading_active": *req.Active})
}

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"settlement-service/internal/service"
	"settlement-service/internal/store"
	"settlement-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Handler contains HTTP handlers
type Handler struct {
	settlementService *service.SettlementService
}

// NewHandler creates a new HTTP handler
func NewHandler(settlementService *service.SettlementService) *Handler {
	return &Handler{
		settlementService: settlementService,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/settlements/run", h.runSettlements)
		v1.POST("/settlements/preview", h.previewSettlements)
		v1.GET("/payouts/:id", h.getPayout)
		v1.GET("/merchants/:id/periods", h.listMerchantPeriods)
		v1.GET("/fees", h.getFees)
		v1.PUT("/fees", h.rotateFees)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// runSettlements executes a settlement batch run
func (h *Handler) runSettlements(c *gin.Context) {
	var req service.RunRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.settlementService.RunBatch(c.Request.Context(), &req)
	if err != nil {
		h.writeBatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// previewSettlements computes a settlement batch without persisting anything
func (h *Handler) previewSettlements(c *gin.Context) {
	var req service.RunRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.settlementService.PreviewBatch(c.Request.Context(), &req)
	if err != nil {
		h.writeBatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) writeBatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid settlement request",
			"details": err.Error(),
		})
	case errors.Is(err, service.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{
			"error": "A settlement batch run is already in progress",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Settlement batch failed",
			"details": err.Error(),
		})
	}
}

// getPayout handles get payout by ID, including its audit trail
func (h *Handler) getPayout(c *gin.Context) {
	idStr := c.Param("id")
	payoutID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid payout ID",
		})
		return
	}

	payout, events, err := h.settlementService.GetPayout(c.Request.Context(), payoutID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Payout not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load payout",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payout": payout,
		"events": events,
	})
}

// listMerchantPeriods returns a merchant's settlement history
func (h *Handler) listMerchantPeriods(c *gin.Context) {
	idStr := c.Param("id")
	merchantID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid merchant ID",
		})
		return
	}

	periods, err := h.settlementService.ListMerchantPeriods(c.Request.Context(), merchantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load settlement periods",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"merchant_id": merchantID,
		"periods":     periods,
	})
}

// getFees returns the fee fractions the next run would apply
func (h *Handler) getFees(c *gin.Context) {
	fees := h.settlementService.ResolveFees(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"platform_fee_pct": fees.PlatformPct,
		"gateway_fee_pct":  fees.GatewayPct,
	})
}

type rotateFeesRequest struct {
	PlatformFeePct decimal.Decimal `json:"platform_fee_pct"`
	GatewayFeePct  decimal.Decimal `json:"gateway_fee_pct"`
	Actor          string          `json:"actor,omitempty"`
}

// rotateFees replaces the active fee configuration
func (h *Handler) rotateFees(c *gin.Context) {
	var req rotateFeesRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	fs, err := h.settlementService.RotateFees(c.Request.Context(), req.PlatformFeePct, req.GatewayFeePct, req.Actor)
	if errors.Is(err, service.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid fee settings",
			"details": err.Error(),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to rotate fee settings",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, fs)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

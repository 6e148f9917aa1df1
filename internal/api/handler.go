package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"booking-engine/internal/models"
	"booking-engine/internal/registry"
	"booking-engine/internal/service"
	"booking-engine/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	bookingService *service.BookingService
	registry       *registry.Registry
}

// NewHandler creates a new HTTP handler
func NewHandler(bookingService *service.BookingService, reg *registry.Registry) *Handler {
	return &Handler{
		bookingService: bookingService,
		registry:       reg,
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
		v1.POST("/bookings", h.createBooking)
		v1.GET("/bookings/:id", h.getBooking)
		v1.POST("/bookings/:id/cancel", h.cancelBooking)
	}

	admin := router.Group("/admin")
	{
		admin.GET("/providers", h.listProviders)
		admin.POST("/providers/:id/enable", h.enableProvider)
		admin.POST("/providers/:id/disable", h.disableProvider)
		admin.POST("/providers/:id/breaker/reset", h.resetBreaker)
		admin.POST("/providers/:id/quota/reset", h.resetQuota)
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

// createBooking runs the booking saga
func (h *Handler) createBooking(c *gin.Context) {
	var req service.BookingRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.bookingService.ExecuteBooking(c.Request.Context(), &req)
	if err != nil {
		h.writeBookingError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// writeBookingError maps the saga error taxonomy to HTTP responses.
// Supplier and payment detail is never surfaced raw to the end user.
func (h *Handler) writeBookingError(c *gin.Context, err error) {
	var rateErr *models.RateLimitedError
	switch {
	case models.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &rateErr):
		c.Header("Retry-After", strconv.Itoa(int(rateErr.RetryAfter.Seconds())+1))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited, please retry later"})
	case errors.Is(err, models.ErrNoProviderAvailable):
		c.Header("Retry-After", "30")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no provider available, please retry later"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "booking failed, no charge made"})
	}
}

// getBooking handles get booking by ID
func (h *Handler) getBooking(c *gin.Context) {
	booking, err := h.bookingService.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrBookingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Booking not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch booking"})
		return
	}
	c.JSON(http.StatusOK, booking)
}

// cancelBooking cancels a confirmed booking
func (h *Handler) cancelBooking(c *gin.Context) {
	resp, err := h.bookingService.CancelBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrBookingNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Booking not found"})
		case models.IsValidationError(err):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel booking"})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// listProviders returns the admin provider view
func (h *Handler) listProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.registry.Snapshot()})
}

func (h *Handler) enableProvider(c *gin.Context) {
	h.adminProviderOp(c, h.registry.Enable)
}

func (h *Handler) disableProvider(c *gin.Context) {
	h.adminProviderOp(c, h.registry.Disable)
}

func (h *Handler) resetBreaker(c *gin.Context) {
	h.adminProviderOp(c, h.registry.ResetBreaker)
}

func (h *Handler) resetQuota(c *gin.Context) {
	h.adminProviderOp(c, h.registry.ResetQuota)
}

func (h *Handler) adminProviderOp(c *gin.Context, op func(ctx context.Context, providerID string) error) {
	providerID := c.Param("id")
	if err := op(c.Request.Context(), providerID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": fmt.Sprintf("operation failed: %v", err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider_id": providerID, "status": "ok"})
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

// Package api exposes the alert repository over HTTP.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/alert-repository/internal/alert"
	"github.com/kneutral-org/alert-repository/internal/logging"
	"github.com/kneutral-org/alert-repository/internal/middleware"
	"github.com/kneutral-org/alert-repository/internal/repository"
)

// Config holds HTTP API settings.
type Config struct {
	// WebhookSecret enables HMAC verification of webhook bodies when set.
	WebhookSecret string
	// DefaultPageSize is used when a list request carries no size.
	DefaultPageSize int
	// MaxPayloadSize limits alert request bodies. Zero disables the limit.
	MaxPayloadSize int64
	// WebhookMaxPayloadSize limits webhook bodies. Zero disables the limit.
	WebhookMaxPayloadSize int64
	// Deliveries, when set, rejects repeated webhook deliveries.
	Deliveries middleware.DeliveryStore
	// DeliveryTTL is how long a webhook delivery is remembered.
	DeliveryTTL time.Duration
}

// Handler serves the alert API.
type Handler struct {
	alerts *alert.Repository
	logger zerolog.Logger
	config Config
}

// NewHandler creates a handler backed by alerts.
func NewHandler(alerts *alert.Repository, logger zerolog.Logger, config Config) *Handler {
	if config.DefaultPageSize <= 0 {
		config.DefaultPageSize = 20
	}
	return &Handler{
		alerts: alerts,
		logger: logger.With().Str("component", "alert_api").Logger(),
		config: config,
	}
}

// RegisterRoutes registers the alert and webhook routes on router.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	alerts := router.Group("/alerts")
	if h.config.MaxPayloadSize > 0 {
		alerts.Use(middleware.PayloadLimit(h.config.MaxPayloadSize, h.logger))
	}
	alerts.GET("", h.ListAlerts)
	alerts.POST("", h.CreateAlert)
	alerts.GET("/count", h.CountAlerts)
	alerts.GET("/fingerprint/:fingerprint", h.GetAlertByFingerprint)
	alerts.GET("/:id", h.GetAlert)
	alerts.PUT("/:id", h.UpdateAlert)
	alerts.DELETE("/:id", h.DeleteAlert)
	alerts.POST("/:id/acknowledge", h.AcknowledgeAlert)
	alerts.POST("/:id/resolve", h.ResolveAlert)

	webhooks := router.Group("/webhook")
	if h.config.WebhookMaxPayloadSize > 0 {
		webhooks.Use(middleware.PayloadLimit(h.config.WebhookMaxPayloadSize, h.logger))
	}
	webhooks.Use(middleware.Signature(middleware.SignatureConfig{Secret: []byte(h.config.WebhookSecret)}))
	if h.config.Deliveries != nil {
		webhooks.Use(middleware.Idempotency(middleware.IdempotencyConfig{
			Store:  h.config.Deliveries,
			TTL:    h.config.DeliveryTTL,
			Logger: h.logger,
		}))
	}
	webhooks.POST("/alertmanager", h.AlertmanagerWebhook)

	if h.config.WebhookSecret != "" {
		h.logger.Info().Msg("webhook HMAC verification enabled")
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// respondError maps repository errors onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internalError"
	switch {
	case middleware.IsPayloadTooLarge(err):
		_ = c.Error(err)
		middleware.RespondPayloadTooLarge(c)
		return
	case errors.Is(err, repository.ErrNotFound):
		status, code = http.StatusNotFound, "notFound"
	case errors.Is(err, repository.ErrStaleEntity):
		status, code = http.StatusConflict, "staleEntity"
	case errors.Is(err, repository.ErrConstraintViolation):
		status, code = http.StatusConflict, "constraintViolation"
	case errors.Is(err, repository.ErrSerializationFailure):
		status, code = http.StatusConflict, "serializationFailure"
	case errors.Is(err, repository.ErrStoreUnavailable):
		status, code = http.StatusServiceUnavailable, "storeUnavailable"
	case errors.Is(err, repository.ErrInvalidPageRequest),
		errors.Is(err, repository.ErrInvalidSort),
		errors.Is(err, repository.ErrInvalidParameter),
		errors.Is(err, repository.ErrUnknownField),
		errors.Is(err, repository.ErrKindMismatch),
		errors.Is(err, repository.ErrNullValue):
		status, code = http.StatusBadRequest, "badRequest"
	}

	logger := h.requestLogger(c)
	event := logger.Debug()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).Str("path", c.FullPath()).Int("status", status).Msg("request failed")

	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: err.Error()})
}

// requestLogger prefers the request-scoped logger set by the logging middleware.
func (h *Handler) requestLogger(c *gin.Context) zerolog.Logger {
	ctx := c.Request.Context()
	if zerolog.Ctx(ctx).GetLevel() == zerolog.Disabled {
		return h.logger
	}
	return logging.FromContext(ctx, h.logger).With().Str("component", "alert_api").Logger()
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "badRequest", Message: message})
}

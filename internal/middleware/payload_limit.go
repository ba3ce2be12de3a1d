// Package middleware provides gin middleware for the alert repository HTTP API.
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// maxPayloadKey holds the configured limit in the gin context.
const maxPayloadKey = "maxPayloadBytes"

// PayloadLimitErrorResponse is the body of a 413 response.
type PayloadLimitErrorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	MaxBytes int64  `json:"maxBytes"`
}

// PayloadLimit rejects request bodies larger than maxBytes. Requests that
// declare an oversized Content-Length are rejected up front; other bodies
// are wrapped in http.MaxBytesReader and rejected when a handler reports
// the resulting *http.MaxBytesError through c.Error.
func PayloadLimit(maxBytes int64, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil || c.Request.ContentLength == 0 {
			c.Next()
			return
		}

		if c.Request.ContentLength > maxBytes {
			logOversizedRequest(logger, c, c.Request.ContentLength, maxBytes)
			respondPayloadTooLarge(c, maxBytes)
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Set(maxPayloadKey, maxBytes)

		c.Next()

		for _, ginErr := range c.Errors {
			var maxBytesErr *http.MaxBytesError
			if errors.As(ginErr.Err, &maxBytesErr) {
				logOversizedRequest(logger, c, maxBytesErr.Limit, maxBytes)
				if !c.Writer.Written() {
					respondPayloadTooLarge(c, maxBytes)
				}
				return
			}
		}
	}
}

// IsPayloadTooLarge reports whether err came from reading past the body limit.
func IsPayloadTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

// MaxPayload returns the limit PayloadLimit applied to the request, if any.
func MaxPayload(c *gin.Context) (int64, bool) {
	v, ok := c.Get(maxPayloadKey)
	if !ok {
		return 0, false
	}
	n, ok := v.(int64)
	return n, ok
}

func logOversizedRequest(logger zerolog.Logger, c *gin.Context, attemptedSize, maxBytes int64) {
	logger.Warn().
		Str("clientIP", c.ClientIP()).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int64("attemptedSize", attemptedSize).
		Int64("maxBytes", maxBytes).
		Msg("oversized request rejected")
}

// RespondPayloadTooLarge aborts c with a 413 response.
func RespondPayloadTooLarge(c *gin.Context) {
	maxBytes, _ := MaxPayload(c)
	respondPayloadTooLarge(c, maxBytes)
}

func respondPayloadTooLarge(c *gin.Context, maxBytes int64) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, PayloadLimitErrorResponse{
		Error:    "payloadTooLarge",
		Message:  "request body exceeds the maximum allowed size",
		MaxBytes: maxBytes,
	})
}

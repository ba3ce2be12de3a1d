package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Signature settings for webhook senders.
const (
	DefaultSignatureHeader = "X-Alertmanager-Signature"
	DefaultSignaturePrefix = "sha256="
)

// SignatureConfig configures HMAC-SHA256 body verification.
type SignatureConfig struct {
	Header string
	Prefix string
	Secret []byte
}

// ComputeSignature returns the hex HMAC-SHA256 of body under secret.
func ComputeSignature(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature against body in constant time.
func VerifySignature(body []byte, signature string, secret []byte) bool {
	return hmac.Equal([]byte(ComputeSignature(body, secret)), []byte(signature))
}

// Signature rejects requests whose body does not carry a valid HMAC in
// cfg.Header. An empty secret disables verification.
func Signature(cfg SignatureConfig) gin.HandlerFunc {
	if cfg.Header == "" {
		cfg.Header = DefaultSignatureHeader
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultSignaturePrefix
	}

	return func(c *gin.Context) {
		if len(cfg.Secret) == 0 {
			c.Next()
			return
		}

		header := c.GetHeader(cfg.Header)
		if header == "" {
			unauthorized(c, "missing signature header")
			return
		}
		signature, ok := strings.CutPrefix(header, cfg.Prefix)
		if !ok {
			unauthorized(c, "invalid signature format")
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			if IsPayloadTooLarge(err) {
				RespondPayloadTooLarge(c)
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "badRequest",
				"message": "failed to read request body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !VerifySignature(body, signature, cfg.Secret) {
			unauthorized(c, "invalid signature")
			return
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": message,
	})
}

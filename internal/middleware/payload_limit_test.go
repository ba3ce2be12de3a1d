package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(maxBytes int64, secret string) *gin.Engine {
	router := gin.New()
	router.Use(PayloadLimit(maxBytes, zerolog.Nop()))
	router.Use(Metrics())
	router.POST("/test", Signature(SignatureConfig{Secret: []byte(secret)}), func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": len(body)})
	})
	return router
}

// unsized hides the body length so the limit is enforced while reading.
type unsized struct{ io.Reader }

func TestPayloadLimit(t *testing.T) {
	tests := []struct {
		name     string
		maxBytes int64
		body     string
		chunked  bool
		wantCode int
	}{
		{"under limit", 1024, strings.Repeat("a", 500), false, http.StatusOK},
		{"at limit", 100, strings.Repeat("x", 100), false, http.StatusOK},
		{"over limit by content length", 100, strings.Repeat("x", 101), false, http.StatusRequestEntityTooLarge},
		{"over limit while reading", 100, strings.Repeat("x", 300), true, http.StatusRequestEntityTooLarge},
		{"empty body", 10, "", false, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter(tt.maxBytes, "")

			var body io.Reader = strings.NewReader(tt.body)
			if tt.chunked {
				body = unsized{body}
			}
			req := httptest.NewRequest(http.MethodPost, "/test", body)
			if tt.chunked {
				req.ContentLength = -1
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())

			if tt.wantCode == http.StatusRequestEntityTooLarge {
				var resp PayloadLimitErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, "payloadTooLarge", resp.Error)
				assert.Equal(t, tt.maxBytes, resp.MaxBytes)
			}
		})
	}
}

func TestSignature(t *testing.T) {
	const secret = "webhook-secret"
	body := `{"alerts":[]}`

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{"valid", DefaultSignaturePrefix + ComputeSignature([]byte(body), []byte(secret)), http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"no prefix", ComputeSignature([]byte(body), []byte(secret)), http.StatusUnauthorized},
		{"wrong secret", DefaultSignaturePrefix + ComputeSignature([]byte(body), []byte("other")), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter(1024, secret)
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
			if tt.header != "" {
				req.Header.Set(DefaultSignatureHeader, tt.header)
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}

func TestSignature_DisabledWithoutSecret(t *testing.T) {
	router := setupTestRouter(1024, "")
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("{}"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVerifySignature(t *testing.T) {
	body := []byte("payload")
	sig := ComputeSignature(body, []byte("k"))

	assert.True(t, VerifySignature(body, sig, []byte("k")))
	assert.False(t, VerifySignature(body, sig, []byte("j")))
	assert.False(t, VerifySignature([]byte("payload2"), sig, []byte("k")))
}

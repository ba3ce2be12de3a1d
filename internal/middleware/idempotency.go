package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// IdempotencyKeyHeader carries a client-chosen delivery key.
const IdempotencyKeyHeader = "X-Idempotency-Key"

// DefaultIdempotencyTTL is how long a delivery key is remembered.
const DefaultIdempotencyTTL = 24 * time.Hour

// DeliveryStore remembers delivery keys for a TTL.
type DeliveryStore interface {
	// CheckAndSet records key and reports whether it was new.
	CheckAndSet(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Delete forgets key so the delivery can be retried.
	Delete(ctx context.Context, key string) error
}

// MemoryDeliveryStore is an in-process DeliveryStore. Expired keys are
// dropped lazily on the next write.
type MemoryDeliveryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryDeliveryStore creates an empty store.
func NewMemoryDeliveryStore() *MemoryDeliveryStore {
	return &MemoryDeliveryStore{expires: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryDeliveryStore) CheckAndSet(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.expires {
		if !exp.After(now) {
			delete(s.expires, k)
		}
	}
	if _, ok := s.expires[key]; ok {
		return false, nil
	}
	s.expires[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryDeliveryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expires, key)
	return nil
}

// Len returns the number of remembered keys.
func (s *MemoryDeliveryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}

// RedisDeliveryStore keeps delivery keys in Redis with SET NX.
type RedisDeliveryStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisDeliveryStore creates a store whose keys start with prefix.
func NewRedisDeliveryStore(client redis.UniversalClient, prefix string) *RedisDeliveryStore {
	if prefix == "" {
		prefix = "alert-repository:delivery:"
	}
	return &RedisDeliveryStore{client: client, prefix: prefix}
}

func (s *RedisDeliveryStore) CheckAndSet(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+key, "1", ttl).Result()
}

func (s *RedisDeliveryStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// IdempotencyConfig configures the Idempotency middleware.
type IdempotencyConfig struct {
	Store  DeliveryStore
	TTL    time.Duration
	Logger zerolog.Logger
}

// DeliveryKey returns the X-Idempotency-Key header, or a SHA-256 of the
// body when the header is absent. The body is restored for later handlers.
func DeliveryKey(c *gin.Context) (string, error) {
	if key := c.GetHeader(IdempotencyKeyHeader); key != "" {
		return key, nil
	}
	if c.Request.Body == nil {
		return "", nil
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if len(body) == 0 {
		return "", nil
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// Idempotency rejects a repeated delivery within the TTL with 409. A key is
// forgotten when its request fails with a 5xx so the sender can retry. Store
// errors let the request through.
func Idempotency(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.Store == nil {
		cfg.Store = NewMemoryDeliveryStore()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultIdempotencyTTL
	}

	return func(c *gin.Context) {
		key, err := DeliveryKey(c)
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
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		fresh, err := cfg.Store.CheckAndSet(ctx, key, cfg.TTL)
		if err != nil {
			cfg.Logger.Error().Err(err).Str("deliveryKey", key).Msg("failed to check delivery key")
			c.Next()
			return
		}
		if !fresh {
			cfg.Logger.Info().
				Str("deliveryKey", key).
				Str("path", c.Request.URL.Path).
				Msg("duplicate delivery detected")
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":   "conflict",
				"message": "duplicate delivery detected",
			})
			return
		}

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			if err := cfg.Store.Delete(ctx, key); err != nil {
				cfg.Logger.Error().Err(err).Str("deliveryKey", key).Msg("failed to release delivery key")
			}
		}
	}
}

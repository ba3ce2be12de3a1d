// Package redisid provides identifier sequences backed by Redis counters.
package redisid

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/store"
)

// DefaultPrefix is prepended to the table name to form the counter key.
const DefaultPrefix = "repository:seq:"

// Sequence implements store.IdentifierSource with Redis INCR.
// Counters are shared by every process using the same Redis database.
type Sequence struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a Sequence.
type Option func(*Sequence)

// WithPrefix sets the counter key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Sequence) {
		s.prefix = prefix
	}
}

// NewSequence creates a sequence on client.
func NewSequence(client redis.UniversalClient, opts ...Option) *Sequence {
	s := &Sequence{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next integer for table, or a random UUID for other kinds.
func (s *Sequence) Next(ctx context.Context, table string, kind entity.Kind) (any, error) {
	if kind != entity.KindInt {
		return store.RandomIdentifier(kind)
	}

	n, err := s.client.Incr(ctx, s.prefix+table).Result()
	if err != nil {
		return nil, classify(fmt.Errorf("failed to increment sequence for %s: %w", table, err))
	}
	return n, nil
}

// Advance raises the counter for table to at least floor, so identifiers
// assigned outside the sequence are never handed out again.
func (s *Sequence) Advance(ctx context.Context, table string, floor int64) error {
	err := advanceScript.Run(ctx, s.client, []string{s.prefix + table}, floor).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return classify(fmt.Errorf("failed to advance sequence for %s: %w", table, err))
	}
	return nil
}

var advanceScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local floor = tonumber(ARGV[1])
if floor > current then
	redis.call("SET", KEYS[1], floor)
	return floor
end
return current
`)

func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
		return store.Unavailable(err)
	}
	return err
}

var _ store.IdentifierSource = (*Sequence)(nil)

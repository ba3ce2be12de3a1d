// Package store defines the backing store contract the repository engine
// executes against, plus an in-memory implementation.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/predicate"
	"github.com/kneutral-org/alert-repository/internal/query"
)

var (
	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConstraintViolation is returned when the store rejects a write on a constraint.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrSerializationFailure is returned when the store aborts a write due to concurrent access.
	ErrSerializationFailure = errors.New("serialization failure")

	// ErrVersionConflict is returned by conditional upserts whose expected version does not match.
	ErrVersionConflict = errors.New("version conflict")
)

// Adapter is the narrow set of primitives the engine needs from a store.
// Rows passed in are normalized; rows handed back may carry driver types
// and are normalized by the caller.
type Adapter interface {
	// Upsert inserts row or replaces the row with the same identifier.
	Upsert(ctx context.Context, table, idField string, row entity.Row) (entity.Row, error)

	// DeleteByKey removes the row with the given identifier. Absent rows are not an error.
	DeleteByKey(ctx context.Context, table, idField string, key any) error

	// Fetch returns rows matching pred in sort order, restricted to window when non-nil.
	Fetch(ctx context.Context, table string, pred predicate.Node, sort query.Sort, window *query.Window) ([]entity.Row, error)

	// Count returns the number of rows matching pred.
	Count(ctx context.Context, table string, pred predicate.Node) (int64, error)

	// GenerateIdentifier produces a fresh identifier of the given kind for table.
	GenerateIdentifier(ctx context.Context, table string, kind entity.Kind) (any, error)
}

// ConditionalUpserter is implemented by adapters that can compare-and-set
// a version column atomically. Expected zero means the row must not exist.
// A mismatch returns ErrVersionConflict.
type ConditionalUpserter interface {
	UpsertIfVersion(ctx context.Context, table, idField, versionField string, expected int64, row entity.Row) (entity.Row, error)
}

// IdentifierSource produces identifiers independently of the row store.
type IdentifierSource interface {
	Next(ctx context.Context, table string, kind entity.Kind) (any, error)
}

// Unwrapper is implemented by adapters that decorate another adapter.
type Unwrapper interface {
	Unwrap() Adapter
}

// Conditional returns the first adapter in the decoration chain that
// supports conditional upserts.
func Conditional(a Adapter) (ConditionalUpserter, bool) {
	for a != nil {
		if cu, ok := a.(ConditionalUpserter); ok {
			return cu, true
		}
		u, ok := a.(Unwrapper)
		if !ok {
			break
		}
		a = u.Unwrap()
	}
	return nil, false
}

// WithIdentifierSource returns a copy of a that draws identifiers from source.
func WithIdentifierSource(a Adapter, source IdentifierSource) Adapter {
	return &sequenced{Adapter: a, source: source}
}

type sequenced struct {
	Adapter
	source IdentifierSource
}

func (s *sequenced) GenerateIdentifier(ctx context.Context, table string, kind entity.Kind) (any, error) {
	return s.source.Next(ctx, table, kind)
}

func (s *sequenced) Unwrap() Adapter { return s.Adapter }

// RandomIdentifier returns a fresh UUID in the representation kind expects.
// Integer identifiers cannot be random and return an error.
func RandomIdentifier(kind entity.Kind) (any, error) {
	switch kind {
	case entity.KindUUID:
		return uuid.New(), nil
	case entity.KindString:
		return uuid.NewString(), nil
	}
	return nil, fmt.Errorf("cannot generate a random %s identifier", kind)
}

// Unavailable marks err as a connectivity failure.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// ConstraintViolation marks err as a constraint rejection.
func ConstraintViolation(err error) error {
	return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
}

// SerializationFailure marks err as a concurrent-access abort.
func SerializationFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrSerializationFailure, err)
}

// IsStoreError reports whether err carries one of the store failure classes.
func IsStoreError(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrConstraintViolation) ||
		errors.Is(err, ErrSerializationFailure)
}

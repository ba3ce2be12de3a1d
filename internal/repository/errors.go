package repository

import (
	"errors"

	"github.com/kneutral-org/alert-repository/internal/engine"
	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/predicate"
	"github.com/kneutral-org/alert-repository/internal/query"
	"github.com/kneutral-org/alert-repository/internal/store"
)

// Errors raised while assembling a repository.
var (
	ErrUnmappableType          = entity.ErrUnmappableType
	ErrNamespaceCollision      = entity.ErrNamespaceCollision
	ErrMalformedQuerySignature = query.ErrMalformedQuerySignature
	ErrUnknownField            = predicate.ErrUnknownField
	ErrIncompatibleOperator    = predicate.ErrIncompatibleOperator
	ErrUnsupportedPath         = predicate.ErrUnsupportedPath

	// ErrDuplicateQuery is returned when two declarations share a name.
	ErrDuplicateQuery = errors.New("duplicate query declaration")
)

// Errors raised by repository operations.
var (
	ErrStaleEntity            = engine.ErrStaleEntity
	ErrParameterArityMismatch = engine.ErrParameterArityMismatch
	ErrNotFound               = engine.ErrNotFound
	ErrIdentifierRequired     = engine.ErrIdentifierRequired
	ErrNonUniqueResult        = engine.ErrNonUniqueResult
	ErrCardinalityMismatch    = engine.ErrCardinalityMismatch
	ErrSequenceConsumed       = engine.ErrSequenceConsumed
	ErrInvalidParameter       = predicate.ErrInvalidParameter
	ErrInvalidPageRequest     = query.ErrInvalidPageRequest
	ErrInvalidSort            = query.ErrInvalidSort
	ErrKindMismatch           = entity.ErrKindMismatch
	ErrNullValue              = entity.ErrNullValue
	ErrStoreUnavailable       = store.ErrStoreUnavailable
	ErrConstraintViolation    = store.ErrConstraintViolation
	ErrSerializationFailure   = store.ErrSerializationFailure

	// ErrUnknownQuery is returned when a query name was never declared.
	ErrUnknownQuery = errors.New("unknown query")
)

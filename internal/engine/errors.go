package engine

import "errors"

var (
	// ErrStaleEntity is returned when a save carries a version that no longer matches the stored row.
	ErrStaleEntity = errors.New("stale entity")

	// ErrParameterArityMismatch is returned when a query is executed with the wrong number of arguments.
	ErrParameterArityMismatch = errors.New("parameter arity mismatch")

	// ErrNotFound is returned by identifier-targeted mutations when the row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIdentifierRequired is returned when saving an unset identifier under the assigned policy.
	ErrIdentifierRequired = errors.New("identifier required")

	// ErrNonUniqueResult is returned when a unique single-result query matches more than one row.
	ErrNonUniqueResult = errors.New("non-unique result")

	// ErrCardinalityMismatch is returned when a query is dispatched through the wrong result shape.
	ErrCardinalityMismatch = errors.New("cardinality mismatch")

	// ErrSequenceConsumed is yielded when a one-shot sequence is iterated a second time.
	ErrSequenceConsumed = errors.New("sequence already consumed")
)

package predicate

import "errors"

var (
	// ErrUnknownField is returned when a path names no field of the entity.
	ErrUnknownField = errors.New("unknown field")

	// ErrIncompatibleOperator is returned when an operator cannot apply to a field's kind.
	ErrIncompatibleOperator = errors.New("incompatible operator")

	// ErrUnsupportedPath is returned for paths traversing more than one relation.
	ErrUnsupportedPath = errors.New("unsupported path")

	// ErrInvalidParameter is returned when a bound argument cannot be used for its slot.
	ErrInvalidParameter = errors.New("invalid parameter")
)

package query

import "errors"

var (
	// ErrMalformedQuerySignature is returned when a method name does not follow the naming grammar.
	ErrMalformedQuerySignature = errors.New("malformed query signature")

	// ErrInvalidPageRequest is returned for non-positive page sizes or negative offsets.
	ErrInvalidPageRequest = errors.New("invalid page request")

	// ErrInvalidSort is returned for sort specifications that cannot be applied.
	ErrInvalidSort = errors.New("invalid sort")
)

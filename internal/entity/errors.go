package entity

import "errors"

var (
	// ErrUnmappableType is returned when a schema cannot describe a storable entity.
	ErrUnmappableType = errors.New("unmappable entity type")

	// ErrNamespaceCollision is returned when two entity types claim the same table.
	ErrNamespaceCollision = errors.New("namespace collision")

	// ErrKindMismatch is returned when a value cannot be converted to a field kind.
	ErrKindMismatch = errors.New("value does not match field kind")

	// ErrNullValue is returned when a non-nullable field holds no value.
	ErrNullValue = errors.New("null value in non-nullable field")
)

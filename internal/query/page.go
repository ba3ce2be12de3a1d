package query

import (
	"fmt"
	"math"
)

// PageRequest selects a window of results.
type PageRequest struct {
	Offset int64
	Size   int
	Sort   Sort
}

// PageOf requests the zero-based page index of the given size. An index
// whose window would pass math.MaxInt64 saturates the offset, which
// Validate rejects.
func PageOf(index, size int, sort ...Order) PageRequest {
	offset := int64(index) * int64(size)
	if index > 0 && size > 0 && int64(index) > (math.MaxInt64-int64(size))/int64(size) {
		offset = math.MaxInt64
	}
	return PageRequest{Offset: offset, Size: size, Sort: sort}
}

// Validate rejects non-positive sizes, negative offsets and windows whose
// end overflows int64.
func (p PageRequest) Validate() error {
	if p.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidPageRequest, p.Size)
	}
	if p.Offset < 0 {
		return fmt.Errorf("%w: offset must not be negative, got %d", ErrInvalidPageRequest, p.Offset)
	}
	if p.Offset > math.MaxInt64-int64(p.Size) {
		return fmt.Errorf("%w: offset %d out of range for size %d", ErrInvalidPageRequest, p.Offset, p.Size)
	}
	return nil
}

// Index returns the zero-based page number the offset falls on.
func (p PageRequest) Index() int {
	if p.Size <= 0 {
		return 0
	}
	return int(p.Offset / int64(p.Size))
}

// Next returns the request for the following page.
func (p PageRequest) Next() PageRequest {
	return PageRequest{Offset: p.Offset + int64(p.Size), Size: p.Size, Sort: p.Sort}
}

// Window returns the offset and limit the request covers.
func (p PageRequest) Window() Window {
	return Window{Offset: p.Offset, Limit: p.Size}
}

// Window is an offset/limit slice of an ordered result.
type Window struct {
	Offset int64
	Limit  int
}

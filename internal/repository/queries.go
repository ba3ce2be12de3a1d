package repository

import (
	"context"
	"fmt"

	"github.com/kneutral-org/alert-repository/internal/engine"
	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/query"
)

// Page is one page of entities.
type Page[T any] struct {
	Content []T
	Total   int64
	Number  int
	Size    int
	HasNext bool
	Request query.PageRequest
}

// TotalPages returns how many pages of Size cover Total.
func (p Page[T]) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return int((p.Total + int64(p.Size) - 1) / int64(p.Size))
}

// HasPrevious reports whether any rows precede the page.
func (p Page[T]) HasPrevious() bool {
	return p.Request.Offset > 0
}

// NextRequest returns the request for the following page.
func (p Page[T]) NextRequest() query.PageRequest {
	return p.Request.Next()
}

// Result is the typed outcome of a declared query. Only the fields matching
// Cardinality are set.
type Result[T any] struct {
	Cardinality query.Cardinality
	Items       []T
	Item        T
	Found       bool
	Count       int64
	Exists      bool
	Page        Page[T]
}

// Execute runs the declared query name with args, shaping the result by the
// query's cardinality. Page queries use req, or the default size when nil.
func (r *Repository[T, ID]) Execute(ctx context.Context, name string, req *query.PageRequest, args ...any) (Result[T], error) {
	q, err := r.Query(name)
	if err != nil {
		return Result[T]{}, err
	}
	res, err := r.engine.Execute(ctx, r.desc, q, args, req)
	if err != nil {
		return Result[T]{}, err
	}

	out := Result[T]{Cardinality: res.Cardinality, Count: res.Count, Exists: res.Exists}
	switch res.Cardinality {
	case query.Many:
		out.Items, err = r.fromRows(res.Rows)
	case query.Single:
		if len(res.Rows) > 0 {
			out.Item, err = r.fromRow(res.Rows[0])
			out.Found = err == nil
		}
	case query.Page:
		out.Page, err = r.page(res.Rows, res.Count, res.HasNext, res.Request)
	}
	if err != nil {
		return Result[T]{}, err
	}
	return out, nil
}

// Find runs a declared many-result query.
func (r *Repository[T, ID]) Find(ctx context.Context, name string, args ...any) ([]T, error) {
	if err := r.expect(name, query.Many); err != nil {
		return nil, err
	}
	res, err := r.Execute(ctx, name, nil, args...)
	return res.Items, err
}

// FindOne runs a declared single-result query; found is false when nothing matched.
func (r *Repository[T, ID]) FindOne(ctx context.Context, name string, args ...any) (T, bool, error) {
	if err := r.expect(name, query.Single); err != nil {
		var zero T
		return zero, false, err
	}
	res, err := r.Execute(ctx, name, nil, args...)
	return res.Item, res.Found, err
}

// CountBy runs a declared count query.
func (r *Repository[T, ID]) CountBy(ctx context.Context, name string, args ...any) (int64, error) {
	if err := r.expect(name, query.Count); err != nil {
		return 0, err
	}
	res, err := r.Execute(ctx, name, nil, args...)
	return res.Count, err
}

// ExistsBy runs a declared existence query.
func (r *Repository[T, ID]) ExistsBy(ctx context.Context, name string, args ...any) (bool, error) {
	if err := r.expect(name, query.Existence); err != nil {
		return false, err
	}
	res, err := r.Execute(ctx, name, nil, args...)
	return res.Exists, err
}

// PageBy runs a declared page query for req.
func (r *Repository[T, ID]) PageBy(ctx context.Context, name string, req query.PageRequest, args ...any) (Page[T], error) {
	if err := r.expect(name, query.Page); err != nil {
		return Page[T]{}, err
	}
	res, err := r.Execute(ctx, name, &req, args...)
	return res.Page, err
}

func (r *Repository[T, ID]) expect(name string, c query.Cardinality) error {
	q, err := r.Query(name)
	if err != nil {
		return err
	}
	if q.Cardinality != c {
		return fmt.Errorf("%w: %s.%s returns %s, not %s", engine.ErrCardinalityMismatch, r.desc.Name(), name, q.Cardinality, c)
	}
	return nil
}

func (r *Repository[T, ID]) page(rows []entity.Row, total int64, hasNext bool, req query.PageRequest) (Page[T], error) {
	content, err := r.fromRows(rows)
	if err != nil {
		return Page[T]{}, err
	}
	return Page[T]{
		Content: content,
		Total:   total,
		Number:  req.Index(),
		Size:    req.Size,
		HasNext: hasNext,
		Request: req,
	}, nil
}

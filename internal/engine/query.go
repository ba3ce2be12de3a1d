package engine

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/logging"
	"github.com/kneutral-org/alert-repository/internal/predicate"
	"github.com/kneutral-org/alert-repository/internal/query"
)

// Page is one window of an ordered result plus the size of the whole result.
// Total and HasNext are computed with the predicate that fetched Rows.
type Page struct {
	Rows    []entity.Row
	Total   int64
	HasNext bool
	Request query.PageRequest
}

// Result is the outcome of a compiled query. Which fields are meaningful
// depends on the query's cardinality.
type Result struct {
	Cardinality query.Cardinality
	// Rows holds many results, at most one single result, or the page content.
	Rows []entity.Row
	// Count holds count results and page totals.
	Count   int64
	Exists  bool
	HasNext bool
	Request query.PageRequest
}

// Execute binds args into q's predicate template and runs it. Page queries
// use req, or the default page size when req is nil; other cardinalities
// ignore it.
func (e *Engine) Execute(ctx context.Context, d *entity.Descriptor, q *query.Compiled, args []any, req *query.PageRequest) (Result, error) {
	var res Result
	err := e.observe(ctx, d, "execute", func(ctx context.Context) error {
		var err error
		res, err = e.execute(ctx, d, q, args, req)
		return err
	}, attribute.String("repository.query", q.Signature))
	if err == nil {
		logger := logging.QueryLogger(e.logger, d.Name(), q.Signature)
		logger.Debug().
			Str("cardinality", q.Cardinality.String()).
			Int64("count", res.Count).
			Msg("query executed")
	}
	return res, err
}

func (e *Engine) execute(ctx context.Context, d *entity.Descriptor, q *query.Compiled, args []any, req *query.PageRequest) (Result, error) {
	res := Result{Cardinality: q.Cardinality}

	if len(args) != q.Slots {
		return res, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrParameterArityMismatch, q.Signature, q.Slots, len(args))
	}
	pred, err := predicate.Bind(q.Predicate, args)
	if err != nil {
		return res, err
	}

	switch q.Cardinality {
	case query.Many:
		var window *query.Window
		if q.Limit > 0 {
			window = &query.Window{Limit: q.Limit}
		}
		res.Rows, err = e.fetch(ctx, d, pred, q.Sort, window)
		res.Count = int64(len(res.Rows))

	case query.Single:
		limit := q.Limit
		if limit <= 0 {
			limit = 1
		}
		res.Rows, err = e.fetch(ctx, d, pred, q.Sort, &query.Window{Limit: limit})
		if err == nil && q.Unique && len(res.Rows) > 1 {
			return res, fmt.Errorf("%w: %s matched more than one %s", ErrNonUniqueResult, q.Signature, d.Name())
		}
		if len(res.Rows) > 1 {
			res.Rows = res.Rows[:1]
		}
		res.Count = int64(len(res.Rows))

	case query.Page:
		r := query.PageRequest{Size: e.defaultPageSize}
		if req != nil {
			r = *req
		}
		var p Page
		p, err = e.page(ctx, d, pred, q.Sort, r)
		res.Rows, res.Count, res.HasNext, res.Request = p.Rows, p.Total, p.HasNext, p.Request

	case query.Count:
		res.Count, err = e.adapter.Count(ctx, d.Table(), pred)

	case query.Existence:
		var rows []entity.Row
		rows, err = e.adapter.Fetch(ctx, d.Table(), pred, nil, &query.Window{Limit: 1})
		res.Exists = len(rows) > 0

	default:
		return res, fmt.Errorf("%w: unknown cardinality %s", ErrCardinalityMismatch, q.Cardinality)
	}
	return res, err
}

// page fetches one window ordered by base, then the request's sort, then the
// identifier. The count query is skipped when the window itself proves the total.
func (e *Engine) page(ctx context.Context, d *entity.Descriptor, pred predicate.Node, base query.Sort, req query.PageRequest) (Page, error) {
	if err := req.Validate(); err != nil {
		return Page{}, err
	}
	if req.Size > e.maxPageSize {
		return Page{}, fmt.Errorf("%w: size %d exceeds maximum %d", query.ErrInvalidPageRequest, req.Size, e.maxPageSize)
	}

	order := base.Then(req.Sort).Stable(d)
	window := req.Window()
	rows, err := e.fetch(ctx, d, pred, order, &window)
	if err != nil {
		return Page{}, err
	}

	seen := req.Offset + int64(len(rows))
	total := seen
	if len(rows) == req.Size || (len(rows) == 0 && req.Offset > 0) {
		if total, err = e.adapter.Count(ctx, d.Table(), pred); err != nil {
			return Page{}, err
		}
	}

	return Page{
		Rows:    rows,
		Total:   total,
		HasNext: seen < total,
		Request: req,
	}, nil
}

// FindAll returns every row as a lazy sequence fetched in batches, ordered
// by order and then by identifier. The sequence can be ranged over once; a
// second range yields ErrSequenceConsumed. Store failures end the sequence
// with a final error pair.
func (e *Engine) FindAll(ctx context.Context, d *entity.Descriptor, order query.Sort) iter.Seq2[entity.Row, error] {
	var consumed atomic.Bool
	order = order.Stable(d)

	return func(yield func(entity.Row, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(nil, fmt.Errorf("%w: find all %s", ErrSequenceConsumed, d.Name()))
			return
		}

		var offset int64
		for {
			var batch []entity.Row
			err := e.observe(ctx, d, "find_all", func(ctx context.Context) error {
				var err error
				batch, err = e.fetch(ctx, d, nil, order, &query.Window{Offset: offset, Limit: e.batchSize})
				return err
			})
			if err != nil {
				yield(nil, err)
				return
			}

			for _, row := range batch {
				if !yield(row, nil) {
					return
				}
			}
			if len(batch) < e.batchSize {
				return
			}
			offset += int64(len(batch))
		}
	}
}

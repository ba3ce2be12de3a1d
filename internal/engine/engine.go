// Package engine executes generic CRUD operations and compiled queries
// against a backing store adapter. It works on rows and is parameterized by
// entity descriptors; typed access lives in the repository package.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/logging"
	"github.com/kneutral-org/alert-repository/internal/metrics"
	"github.com/kneutral-org/alert-repository/internal/predicate"
	"github.com/kneutral-org/alert-repository/internal/query"
	"github.com/kneutral-org/alert-repository/internal/store"
)

const tracerName = "github.com/kneutral-org/alert-repository/internal/engine"

// Defaults applied when no option overrides them.
const (
	DefaultBatchSize   = 100
	DefaultPageSize    = 20
	DefaultMaxPageSize = 1000
)

// Engine is safe for concurrent use. It holds no per-call state and never
// holds a lock across a store call.
type Engine struct {
	adapter  store.Adapter
	registry *entity.Registry
	compiler *query.Compiler
	logger   zerolog.Logger
	tracer   trace.Tracer

	batchSize       int
	defaultPageSize int
	maxPageSize     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine, its registry and compiler.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracerProvider sets the provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = tp.Tracer(tracerName)
	}
}

// WithBatchSize sets how many rows FindAll fetches per store round trip.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithPageSizes sets the size used for page queries without a request and
// the largest size a request may ask for.
func WithPageSizes(defaultSize, maxSize int) Option {
	return func(e *Engine) {
		if defaultSize > 0 {
			e.defaultPageSize = defaultSize
		}
		if maxSize > 0 {
			e.maxPageSize = maxSize
		}
	}
}

// New creates an engine on adapter.
func New(adapter store.Adapter, opts ...Option) *Engine {
	e := &Engine{
		adapter:         adapter,
		logger:          zerolog.Nop(),
		batchSize:       DefaultBatchSize,
		defaultPageSize: DefaultPageSize,
		maxPageSize:     DefaultMaxPageSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}

	e.registry = entity.NewRegistry(e.logger)
	e.compiler = query.NewCompiler(e.logger)
	e.logger = e.logger.With().Str("component", "repository_engine").Logger()
	return e
}

// Registry returns the descriptor registry shared by repositories on this engine.
func (e *Engine) Registry() *entity.Registry { return e.registry }

// Compiler returns the query compiler shared by repositories on this engine.
func (e *Engine) Compiler() *query.Compiler { return e.compiler }

// Adapter returns the backing store adapter.
func (e *Engine) Adapter() store.Adapter { return e.adapter }

// Save upserts row. An unset identifier is generated under the generated
// policy and rejected with ErrIdentifierRequired otherwise. When d declares
// a version field, the stored version must equal the supplied one (zero
// meaning the row must not exist yet) and is incremented on success.
func (e *Engine) Save(ctx context.Context, d *entity.Descriptor, row entity.Row) (entity.Row, error) {
	var saved entity.Row
	err := e.observe(ctx, d, "save", func(ctx context.Context) error {
		var err error
		saved, err = e.save(ctx, d, row)
		return err
	})
	return saved, err
}

// Update saves row only if a row with its identifier exists.
func (e *Engine) Update(ctx context.Context, d *entity.Descriptor, row entity.Row) (entity.Row, error) {
	var saved entity.Row
	err := e.observe(ctx, d, "update", func(ctx context.Context) error {
		normalized, err := d.Normalize(row)
		if err != nil {
			return err
		}
		if d.IsNew(normalized) {
			return fmt.Errorf("%w: %s.%s", ErrIdentifierRequired, d.Name(), d.ID().Name)
		}

		id := d.IdentifierOf(normalized)
		_, found, err := e.findByID(ctx, d, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s %v", ErrNotFound, d.Name(), id)
		}

		saved, err = e.save(ctx, d, normalized)
		return err
	})
	return saved, err
}

func (e *Engine) save(ctx context.Context, d *entity.Descriptor, row entity.Row) (entity.Row, error) {
	row, err := d.Normalize(row)
	if err != nil {
		return nil, err
	}

	if d.IsNew(row) {
		if d.IDPolicy() != entity.Generated {
			return nil, fmt.Errorf("%w: %s.%s", ErrIdentifierRequired, d.Name(), d.ID().Name)
		}
		id, err := e.adapter.GenerateIdentifier(ctx, d.Table(), d.ID().Kind)
		if err != nil {
			return nil, err
		}
		if id, err = d.ID().Kind.Normalize(id); err != nil {
			return nil, fmt.Errorf("generated identifier for %s: %w", d.Name(), err)
		}
		row[d.ID().Name] = id
	}

	expected := d.VersionOf(row)
	if v := d.Version(); v != nil {
		row[v.Name] = expected + 1
	}
	if err := d.CheckRequired(row); err != nil {
		return nil, err
	}

	var stored entity.Row
	if d.Version() != nil {
		stored, err = e.writeVersioned(ctx, d, expected, row)
	} else {
		stored, err = e.adapter.Upsert(ctx, d.Table(), d.ID().Name, row)
	}
	if err != nil {
		return nil, err
	}
	return d.Normalize(stored)
}

// writeVersioned writes row if the stored version equals expected. Adapters
// without an atomic conditional write get a read-compare-write, which is
// only as strong as the caller's transaction boundary.
func (e *Engine) writeVersioned(ctx context.Context, d *entity.Descriptor, expected int64, row entity.Row) (entity.Row, error) {
	if cu, ok := store.Conditional(e.adapter); ok {
		stored, err := cu.UpsertIfVersion(ctx, d.Table(), d.ID().Name, d.Version().Name, expected, row)
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, e.stale(d, row, expected)
		}
		return stored, err
	}

	current, found, err := e.findByID(ctx, d, d.IdentifierOf(row))
	if err != nil {
		return nil, err
	}
	switch {
	case !found && expected != 0,
		found && d.VersionOf(current) != expected:
		return nil, e.stale(d, row, expected)
	}
	return e.adapter.Upsert(ctx, d.Table(), d.ID().Name, row)
}

func (e *Engine) stale(d *entity.Descriptor, row entity.Row, expected int64) error {
	id := d.IdentifierOf(row)
	metrics.RecordStaleEntity(d.Name())
	logger := logging.RepositoryLogger(e.logger, d.Name(), "save")
	logger.Warn().
		Interface("id", id).
		Int64("expectedVersion", expected).
		Msg("rejected stale entity")
	return fmt.Errorf("%w: %s %v at version %d", ErrStaleEntity, d.Name(), id, expected)
}

// FindByID returns the row with id. Absence is reported through found.
func (e *Engine) FindByID(ctx context.Context, d *entity.Descriptor, id any) (row entity.Row, found bool, err error) {
	err = e.observe(ctx, d, "find_by_id", func(ctx context.Context) error {
		row, found, err = e.findByID(ctx, d, id)
		return err
	})
	return row, found, err
}

func (e *Engine) findByID(ctx context.Context, d *entity.Descriptor, id any) (entity.Row, bool, error) {
	key, ok, err := normalizeIdentifier(d, id)
	if err != nil || !ok {
		return nil, false, err
	}
	pred, err := identifierPredicate(d, predicate.OpEquals, key)
	if err != nil {
		return nil, false, err
	}
	rows, err := e.fetch(ctx, d, pred, nil, &query.Window{Limit: 1})
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	return rows[0], true, nil
}

// FindAllByID returns the rows whose identifiers are in ids, ordered by identifier.
func (e *Engine) FindAllByID(ctx context.Context, d *entity.Descriptor, ids []any) ([]entity.Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []entity.Row
	err := e.observe(ctx, d, "find_all_by_id", func(ctx context.Context) error {
		pred, err := identifierPredicate(d, predicate.OpIn, ids)
		if err != nil {
			return err
		}
		rows, err = e.fetch(ctx, d, pred, query.Sort(nil).Stable(d), nil)
		return err
	})
	return rows, err
}

// ExistsByID reports whether a row with id exists.
func (e *Engine) ExistsByID(ctx context.Context, d *entity.Descriptor, id any) (bool, error) {
	var found bool
	err := e.observe(ctx, d, "exists_by_id", func(ctx context.Context) error {
		var err error
		_, found, err = e.findByID(ctx, d, id)
		return err
	})
	return found, err
}

// DeleteByID removes the row with id. Deleting an absent row, or one named by
// a zero identifier, succeeds.
func (e *Engine) DeleteByID(ctx context.Context, d *entity.Descriptor, id any) error {
	return e.observe(ctx, d, "delete_by_id", func(ctx context.Context) error {
		key, ok, err := normalizeIdentifier(d, id)
		if err != nil || !ok {
			return err
		}
		return e.adapter.DeleteByKey(ctx, d.Table(), d.ID().Name, key)
	})
}

// Count returns the number of stored rows.
func (e *Engine) Count(ctx context.Context, d *entity.Descriptor) (int64, error) {
	var n int64
	err := e.observe(ctx, d, "count", func(ctx context.Context) error {
		var err error
		n, err = e.adapter.Count(ctx, d.Table(), nil)
		return err
	})
	return n, err
}

// FindPage returns one page of every row.
func (e *Engine) FindPage(ctx context.Context, d *entity.Descriptor, req query.PageRequest) (Page, error) {
	var p Page
	err := e.observe(ctx, d, "find_page", func(ctx context.Context) error {
		var err error
		p, err = e.page(ctx, d, nil, nil, req)
		return err
	})
	return p, err
}

func (e *Engine) fetch(ctx context.Context, d *entity.Descriptor, pred predicate.Node, order query.Sort, window *query.Window) ([]entity.Row, error) {
	rows, err := e.adapter.Fetch(ctx, d.Table(), pred, order, window)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Row, len(rows))
	for i, r := range rows {
		if out[i], err = d.Normalize(r); err != nil {
			return nil, fmt.Errorf("map stored row: %w", err)
		}
	}
	return out, nil
}

// observe runs fn inside a span and records its outcome.
func (e *Engine) observe(ctx context.Context, d *entity.Descriptor, op string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	attrs = append(attrs,
		attribute.String("repository.entity", d.Name()),
		attribute.String("repository.operation", op),
	)
	ctx, span := e.tracer.Start(ctx, "repository."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.RecordRepositoryOperationDuration(d.Name(), op, time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		logger := logging.RepositoryLogger(e.logger, d.Name(), op)
		switch {
		case store.IsStoreError(err):
			logger.Error().Err(err).Msg("store operation failed")
		case errors.Is(err, ErrStaleEntity):
		default:
			logger.Debug().Err(err).Msg("repository operation failed")
		}
	}
	metrics.RecordRepositoryOperation(d.Name(), op, status)
	return err
}

// normalizeIdentifier converts id to the identifier kind. ok is false for a
// nil or zero identifier, which no stored row can carry.
func normalizeIdentifier(d *entity.Descriptor, id any) (key any, ok bool, err error) {
	key, err = d.ID().Kind.Normalize(id)
	if err != nil {
		return nil, false, fmt.Errorf("%s identifier: %w", d.Name(), err)
	}
	if key == nil || d.ID().Kind.IsZero(key) {
		return nil, false, nil
	}
	return key, true, nil
}

func identifierPredicate(d *entity.Descriptor, op predicate.Operator, value any) (predicate.Node, error) {
	c, err := predicate.NewComparison(predicate.Path{Field: d.ID()}, op, predicate.Literal(value))
	if err != nil {
		return nil, err
	}
	return c, nil
}

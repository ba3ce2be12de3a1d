package query

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/memo"
	"github.com/kneutral-org/alert-repository/internal/metrics"
	"github.com/kneutral-org/alert-repository/internal/predicate"
	"github.com/kneutral-org/alert-repository/internal/query/expr"
)

// Expression declares a query written as a filter expression instead of a
// method name. Parameters are referenced as args[0], args[1], ...
type Expression struct {
	Text        string
	Sort        string
	Cardinality Cardinality
	Limit       int
}

// Compiler turns method names and expressions into cached query plans.
// Each distinct (entity, signature) pair compiles at most once per process.
type Compiler struct {
	cache  *memo.Cache[*Compiled]
	logger zerolog.Logger
}

// NewCompiler creates a compiler with an empty plan cache.
func NewCompiler(logger zerolog.Logger) *Compiler {
	return &Compiler{
		cache:  memo.New[*Compiled]("compiled_queries"),
		logger: logger.With().Str("component", "query_compiler").Logger(),
	}
}

// Compile returns the plan for a derived method name on d.
func (c *Compiler) Compile(d *entity.Descriptor, signature string) (*Compiled, error) {
	key := d.Table() + "#" + signature
	return c.cache.GetOrBuild(key, func() (*Compiled, error) {
		q, err := parse(d, signature)
		if err != nil {
			c.logger.Warn().Err(err).Str("entity", d.Name()).Str("signature", signature).Msg("failed to compile query")
			return nil, err
		}
		c.record(q)
		return q, nil
	})
}

// CompileExpression returns the plan for an expression query on d.
func (c *Compiler) CompileExpression(d *entity.Descriptor, e Expression) (*Compiled, error) {
	key := fmt.Sprintf("%s#expr:%s|%s|%s|%d", d.Table(), e.Text, e.Sort, e.Cardinality, e.Limit)
	return c.cache.GetOrBuild(key, func() (*Compiled, error) {
		q, err := compileExpression(d, e)
		if err != nil {
			c.logger.Warn().Err(err).Str("entity", d.Name()).Str("expression", e.Text).Msg("failed to compile expression")
			return nil, err
		}
		c.record(q)
		return q, nil
	})
}

// Len returns the number of cached plans, failures included.
func (c *Compiler) Len() int {
	return c.cache.Len()
}

func (c *Compiler) record(q *Compiled) {
	metrics.RecordQueryCompilation(q.Entity, q.Cardinality.String())
	c.logger.Debug().
		Str("entity", q.Entity).
		Str("signature", q.Signature).
		Str("plan", q.String()).
		Msg("query compiled")
}

func compileExpression(d *entity.Descriptor, e Expression) (*Compiled, error) {
	tree, err := expr.Parse(d, e.Text)
	if err != nil {
		if errors.Is(err, expr.ErrInvalidExpression) {
			return nil, fmt.Errorf("%w: %w", ErrMalformedQuerySignature, err)
		}
		return nil, fmt.Errorf("expression %q: %w", e.Text, err)
	}

	sort, err := ParseSort(d, e.Sort)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", e.Text, err)
	}
	if e.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit %d", ErrMalformedQuerySignature, e.Limit)
	}

	q := &Compiled{
		Signature:   e.Text,
		Entity:      d.Name(),
		Cardinality: e.Cardinality,
		Predicate:   tree,
		Sort:        sort,
		Limit:       e.Limit,
		Slots:       predicate.Slots(tree),
	}
	if q.Cardinality == Single {
		q.Limit, q.Unique = 2, true
	}
	return q, nil
}

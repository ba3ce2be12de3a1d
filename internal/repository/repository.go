// Package repository assembles typed repositories from an entity mapper and
// a set of declared queries. A Repository holds only immutable references
// to its descriptor and compiled queries and is safe for concurrent use.
package repository

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"slices"

	"github.com/google/uuid"

	"github.com/kneutral-org/alert-repository/internal/engine"
	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/query"
)

// Declaration names a query a repository exposes. Exactly one of Signature
// or Expression is set.
type Declaration struct {
	Name       string
	Signature  string
	Expression *query.Expression
}

// Derived declares a method-name query, named after its signature.
func Derived(signature string) Declaration {
	return Declaration{Name: signature, Signature: signature}
}

// Expression declares an expression query under name.
func Expression(name string, e query.Expression) Declaration {
	return Declaration{Name: name, Expression: &e}
}

// Repository is the typed façade over the engine for entity type T keyed by ID.
type Repository[T any, ID comparable] struct {
	engine  *engine.Engine
	mapper  entity.Mapper[T]
	desc    *entity.Descriptor
	queries map[string]*query.Compiled
}

// New assembles a repository. The descriptor is built on first use of T and
// shared afterwards; every declaration is compiled before New returns, so a
// malformed declaration fails here rather than on first call.
func New[T any, ID comparable](e *engine.Engine, mapper entity.Mapper[T], decls ...Declaration) (*Repository[T, ID], error) {
	d, err := entity.Describe[T](e.Registry(), mapper.Schema)
	if err != nil {
		return nil, err
	}
	if err := checkIdentifierType[ID](d); err != nil {
		return nil, err
	}

	r := &Repository[T, ID]{
		engine:  e,
		mapper:  mapper,
		desc:    d,
		queries: make(map[string]*query.Compiled, len(decls)),
	}
	for _, decl := range decls {
		if _, ok := r.queries[decl.Name]; ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrDuplicateQuery, d.Name(), decl.Name)
		}
		q, err := r.compile(decl)
		if err != nil {
			return nil, fmt.Errorf("declare %s.%s: %w", d.Name(), decl.Name, err)
		}
		r.queries[decl.Name] = q
	}
	return r, nil
}

func (r *Repository[T, ID]) compile(decl Declaration) (*query.Compiled, error) {
	switch {
	case decl.Name == "":
		return nil, fmt.Errorf("%w: declaration without a name", ErrMalformedQuerySignature)
	case decl.Expression != nil && decl.Signature != "":
		return nil, fmt.Errorf("%w: both signature and expression declared", ErrMalformedQuerySignature)
	case decl.Expression != nil:
		return r.engine.Compiler().CompileExpression(r.desc, *decl.Expression)
	default:
		return r.engine.Compiler().Compile(r.desc, decl.Signature)
	}
}

func checkIdentifierType[ID any](d *entity.Descriptor) error {
	t := reflect.TypeFor[ID]()
	var ok bool
	switch d.ID().Kind {
	case entity.KindInt:
		switch t.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			ok = true
		}
	case entity.KindString:
		ok = t.Kind() == reflect.String
	case entity.KindUUID:
		ok = t == reflect.TypeFor[uuid.UUID]()
	}
	if !ok {
		return fmt.Errorf("%w: %s identifier %s is %s, cannot key by %s", ErrUnmappableType, d.Name(), d.ID().Name, d.ID().Kind, t)
	}
	return nil
}

// Descriptor returns the entity descriptor backing the repository.
func (r *Repository[T, ID]) Descriptor() *entity.Descriptor { return r.desc }

// Declared returns the names of the declared queries in sorted order.
func (r *Repository[T, ID]) Declared() []string {
	names := make([]string, 0, len(r.queries))
	for name := range r.queries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Query returns the compiled plan of a declared query.
func (r *Repository[T, ID]) Query(name string) (*query.Compiled, error) {
	q, ok := r.queries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownQuery, r.desc.Name(), name)
	}
	return q, nil
}

// Save persists ent and returns it as stored, generated identifier and
// incremented version included.
func (r *Repository[T, ID]) Save(ctx context.Context, ent T) (T, error) {
	row, err := r.engine.Save(ctx, r.desc, r.mapper.ToRow(ent))
	if err != nil {
		var zero T
		return zero, err
	}
	return r.fromRow(row)
}

// SaveAll saves entities in order and stops at the first failure.
func (r *Repository[T, ID]) SaveAll(ctx context.Context, entities []T) ([]T, error) {
	out := make([]T, 0, len(entities))
	for i, ent := range entities {
		saved, err := r.Save(ctx, ent)
		if err != nil {
			return out, fmt.Errorf("save %s %d of %d: %w", r.desc.Name(), i+1, len(entities), err)
		}
		out = append(out, saved)
	}
	return out, nil
}

// Update saves an entity that must already exist, failing with ErrNotFound otherwise.
func (r *Repository[T, ID]) Update(ctx context.Context, ent T) (T, error) {
	row, err := r.engine.Update(ctx, r.desc, r.mapper.ToRow(ent))
	if err != nil {
		var zero T
		return zero, err
	}
	return r.fromRow(row)
}

// FindByID returns the entity with id; found is false when it does not exist.
func (r *Repository[T, ID]) FindByID(ctx context.Context, id ID) (T, bool, error) {
	var zero T
	row, found, err := r.engine.FindByID(ctx, r.desc, id)
	if err != nil || !found {
		return zero, false, err
	}
	ent, err := r.fromRow(row)
	if err != nil {
		return zero, false, err
	}
	return ent, true, nil
}

// FindAllByID returns the entities whose identifier is in ids, ordered by identifier.
func (r *Repository[T, ID]) FindAllByID(ctx context.Context, ids []ID) ([]T, error) {
	rows, err := r.engine.FindAllByID(ctx, r.desc, anySlice(ids))
	if err != nil {
		return nil, err
	}
	return r.fromRows(rows)
}

// ExistsByID reports whether an entity with id is stored.
func (r *Repository[T, ID]) ExistsByID(ctx context.Context, id ID) (bool, error) {
	return r.engine.ExistsByID(ctx, r.desc, id)
}

// FindAll returns every entity as a one-shot lazy sequence in sort order,
// ties broken by identifier.
func (r *Repository[T, ID]) FindAll(ctx context.Context, sort query.Sort) iter.Seq2[T, error] {
	rows := r.engine.FindAll(ctx, r.desc, sort)
	return func(yield func(T, error) bool) {
		for row, err := range rows {
			var ent T
			if err == nil {
				ent, err = r.fromRow(row)
			}
			if !yield(ent, err) || err != nil {
				return
			}
		}
	}
}

// FindPage returns one page of all entities.
func (r *Repository[T, ID]) FindPage(ctx context.Context, req query.PageRequest) (Page[T], error) {
	p, err := r.engine.FindPage(ctx, r.desc, req)
	if err != nil {
		return Page[T]{}, err
	}
	return r.page(p.Rows, p.Total, p.HasNext, p.Request)
}

// Count returns the number of stored entities.
func (r *Repository[T, ID]) Count(ctx context.Context) (int64, error) {
	return r.engine.Count(ctx, r.desc)
}

// DeleteByID removes the entity with id. Deleting an absent entity is not an error.
func (r *Repository[T, ID]) DeleteByID(ctx context.Context, id ID) error {
	return r.engine.DeleteByID(ctx, r.desc, id)
}

// Delete removes ent by its identifier.
func (r *Repository[T, ID]) Delete(ctx context.Context, ent T) error {
	row := r.mapper.ToRow(ent)
	if r.desc.IsNew(row) {
		return fmt.Errorf("%w: delete %s without %s", ErrIdentifierRequired, r.desc.Name(), r.desc.ID().Name)
	}
	return r.engine.DeleteByID(ctx, r.desc, row[r.desc.ID().Name])
}

// DeleteAllByID removes every entity in ids and stops at the first failure.
func (r *Repository[T, ID]) DeleteAllByID(ctx context.Context, ids []ID) error {
	for _, id := range ids {
		if err := r.engine.DeleteByID(ctx, r.desc, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository[T, ID]) fromRow(row entity.Row) (T, error) {
	ent, err := r.mapper.FromRow(row)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("map %s row: %w", r.desc.Name(), err)
	}
	return ent, nil
}

func (r *Repository[T, ID]) fromRows(rows []entity.Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		ent, err := r.fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, nil
}

func anySlice[ID any](ids []ID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

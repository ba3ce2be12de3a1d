// Package entity describes how domain types map onto storage rows.
//
// A Descriptor is built once per entity type from a schema function and is
// immutable afterwards, so it can be shared freely between goroutines.
package entity

import (
	"fmt"
	"strings"
)

// IDPolicy says who assigns identifiers.
type IDPolicy int

const (
	// Assigned identifiers are supplied by the caller.
	Assigned IDPolicy = iota
	// Generated identifiers are produced by the backing store on first save.
	Generated
)

func (p IDPolicy) String() string {
	if p == Generated {
		return "generated"
	}
	return "assigned"
}

// Field describes one persistent field.
type Field struct {
	Name     string
	Kind     Kind
	Nullable bool
	// Target describes the related entity for KindRelation fields.
	Target *Descriptor
}

func (f *Field) String() string {
	return f.Name + " " + f.Kind.String()
}

// Descriptor is the per-entity-type metadata the query engine works from.
type Descriptor struct {
	name    string
	table   string
	id      *Field
	policy  IDPolicy
	version *Field
	fields  []*Field
	index   map[string]*Field
}

// Name returns the entity type name.
func (d *Descriptor) Name() string { return d.name }

// Table returns the storage namespace.
func (d *Descriptor) Table() string { return d.table }

// ID returns the identifier field. Nil for relation targets declared without one.
func (d *Descriptor) ID() *Field { return d.id }

// IDPolicy returns the identifier assignment policy.
func (d *Descriptor) IDPolicy() IDPolicy { return d.policy }

// Version returns the optimistic concurrency field, or nil when unversioned.
func (d *Descriptor) Version() *Field { return d.version }

// Fields returns the persistent fields in declaration order.
func (d *Descriptor) Fields() []*Field {
	out := make([]*Field, len(d.fields))
	copy(out, d.fields)
	return out
}

// Field looks up a field by name, ignoring case and underscores.
func (d *Descriptor) Field(name string) (*Field, bool) {
	f, ok := d.index[Canonical(name)]
	return f, ok
}

// Relations returns the relation fields in declaration order.
func (d *Descriptor) Relations() []*Field {
	var out []*Field
	for _, f := range d.fields {
		if f.Kind == KindRelation {
			out = append(out, f)
		}
	}
	return out
}

// IdentifierOf returns the normalized identifier held by row.
func (d *Descriptor) IdentifierOf(row Row) any {
	if d.id == nil {
		return nil
	}
	v, err := d.id.Kind.Normalize(row[d.id.Name])
	if err != nil {
		return nil
	}
	return v
}

// IsNew reports whether row carries no identifier yet.
func (d *Descriptor) IsNew(row Row) bool {
	return d.id != nil && d.id.Kind.IsZero(row[d.id.Name])
}

// VersionOf returns the version held by row; absent counts as zero.
func (d *Descriptor) VersionOf(row Row) int64 {
	if d.version == nil {
		return 0
	}
	v, err := KindInt.Normalize(row[d.version.Name])
	if err != nil || v == nil {
		return 0
	}
	return v.(int64)
}

// Normalize returns a copy of row holding exactly the descriptor's fields,
// each converted to its canonical representation. Missing fields become nil
// and unknown keys are dropped.
func (d *Descriptor) Normalize(row Row) (Row, error) {
	out := make(Row, len(d.fields))
	for _, f := range d.fields {
		v, err := d.normalizeField(f, row[f.Name])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.name, f.Name, err)
		}
		out[f.Name] = v
	}
	return out, nil
}

// CheckRequired reports the first non-nullable field of a normalized row
// that holds nil, descending into present relations.
func (d *Descriptor) CheckRequired(row Row) error {
	for _, f := range d.fields {
		v := row[f.Name]
		if v == nil {
			if f.Nullable {
				continue
			}
			return fmt.Errorf("%w: %s.%s", ErrNullValue, d.name, f.Name)
		}
		if f.Kind == KindRelation {
			nested, _ := v.(Row)
			if err := f.Target.CheckRequired(nested); err != nil {
				return fmt.Errorf("%s: %w", d.name, err)
			}
		}
	}
	return nil
}

func (d *Descriptor) normalizeField(f *Field, v any) (any, error) {
	n, err := f.Kind.Normalize(v)
	if err != nil || n == nil || f.Kind != KindRelation {
		return n, err
	}
	return f.Target.Normalize(n.(Row))
}

func (d *Descriptor) String() string {
	names := make([]string, len(d.fields))
	for i, f := range d.fields {
		names[i] = f.Name
	}
	return fmt.Sprintf("%s(%s)[%s]", d.name, d.table, strings.Join(names, ", "))
}

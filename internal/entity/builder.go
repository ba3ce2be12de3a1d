package entity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// maxRelationDepth bounds nested relation declarations.
const maxRelationDepth = 4

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Schema declares an entity's persistent shape on a Builder.
type Schema func(b *Builder)

// Builder collects field declarations for a Descriptor.
type Builder struct {
	d     *Descriptor
	depth int
	errs  []error
}

func newBuilder(depth int) *Builder {
	return &Builder{
		d:     &Descriptor{index: make(map[string]*Field)},
		depth: depth,
	}
}

// Name sets the entity type name. It defaults to the Go type name.
func (b *Builder) Name(name string) *Builder {
	b.d.name = name
	return b
}

// Table sets the storage namespace. It defaults to the lower-cased entity name.
func (b *Builder) Table(name string) *Builder {
	b.d.table = name
	return b
}

// ID declares the identifier field.
func (b *Builder) ID(name string, kind Kind, policy IDPolicy) *Builder {
	if b.d.id != nil {
		b.fail("identifier declared twice: %s and %s", b.d.id.Name, name)
		return b
	}
	if !kind.Identifier() {
		b.fail("identifier %s: unsupported identifier kind %s", name, kind)
		return b
	}
	f := b.add(name, kind, false, nil)
	if f != nil {
		b.d.id = f
		b.d.policy = policy
	}
	return b
}

// Field declares a non-nullable scalar field.
func (b *Builder) Field(name string, kind Kind) *Builder {
	b.scalar(name, kind, false)
	return b
}

// Nullable declares a nullable scalar field.
func (b *Builder) Nullable(name string, kind Kind) *Builder {
	b.scalar(name, kind, true)
	return b
}

// Version declares the integer optimistic concurrency field.
func (b *Builder) Version(name string) *Builder {
	if b.d.version != nil {
		b.fail("version declared twice: %s and %s", b.d.version.Name, name)
		return b
	}
	if f := b.add(name, KindInt, false, nil); f != nil {
		b.d.version = f
	}
	return b
}

// Relation declares a field holding a related entity, described by schema.
func (b *Builder) Relation(name string, nullable bool, schema Schema) *Builder {
	if b.depth+1 > maxRelationDepth {
		b.fail("relation %s: nesting deeper than %d levels", name, maxRelationDepth)
		return b
	}
	if schema == nil {
		b.fail("relation %s: missing schema", name)
		return b
	}

	nested := newBuilder(b.depth + 1)
	nested.d.name = name
	schema(nested)
	target, err := nested.build()
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("relation %s: %w", name, err))
		return b
	}

	b.add(name, KindRelation, nullable, target)
	return b
}

func (b *Builder) scalar(name string, kind Kind, nullable bool) {
	if !kind.Scalar() {
		b.fail("field %s: unsupported kind %s", name, kind)
		return
	}
	b.add(name, kind, nullable, nil)
}

func (b *Builder) add(name string, kind Kind, nullable bool, target *Descriptor) *Field {
	if !identifierPattern.MatchString(name) {
		b.fail("invalid field name %q", name)
		return nil
	}
	key := Canonical(name)
	if existing, ok := b.d.index[key]; ok {
		b.fail("field %s collides with %s", name, existing.Name)
		return nil
	}

	f := &Field{Name: name, Kind: kind, Nullable: nullable, Target: target}
	b.d.fields = append(b.d.fields, f)
	b.d.index[key] = f
	return f
}

func (b *Builder) fail(format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
}

func (b *Builder) build() (*Descriptor, error) {
	d := b.d
	if d.name == "" {
		b.fail("entity name is required")
	}
	if b.depth == 0 {
		if d.id == nil {
			b.fail("%s: no identifier declared", d.name)
		}
		if d.table == "" {
			d.table = strings.ToLower(d.name)
		}
		for _, part := range strings.Split(d.table, ".") {
			if !identifierPattern.MatchString(part) {
				b.fail("%s: invalid table name %q", d.name, d.table)
				break
			}
		}
	}
	if len(d.fields) == 0 {
		b.fail("%s: no fields declared", d.name)
	}

	if len(b.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrUnmappableType, errors.Join(b.errs...))
	}
	return d, nil
}

package entity

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/alert-repository/internal/memo"
	"github.com/kneutral-org/alert-repository/internal/metrics"
)

// Mapper converts between a domain type and its storage row.
type Mapper[T any] interface {
	// Schema declares the persistent shape of T.
	Schema(b *Builder)
	// ToRow converts an entity to a row. Values need not be canonical.
	ToRow(entity T) Row
	// FromRow converts a normalized row back into an entity.
	FromRow(row Row) (T, error)
}

// Registry builds and caches one Descriptor per entity type.
type Registry struct {
	cache  *memo.Cache[*Descriptor]
	mu     sync.Mutex
	tables map[string]string
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		cache:  memo.New[*Descriptor]("entity_descriptors"),
		tables: make(map[string]string),
		logger: logger.With().Str("component", "entity_registry").Logger(),
	}
}

// Describe returns the descriptor for T, building it from schema on first use.
// The schema runs at most once per type, concurrent first use included; a
// failed build is remembered and returned to every later caller.
func Describe[T any](r *Registry, schema Schema) (*Descriptor, error) {
	t := reflect.TypeFor[T]()
	key := typeKey(t)

	return r.cache.GetOrBuild(key, func() (*Descriptor, error) {
		b := newBuilder(0)
		b.d.name = t.Name()
		if t.Kind() == reflect.Pointer {
			b.d.name = t.Elem().Name()
		}
		schema(b)

		d, err := b.build()
		if err != nil {
			r.logger.Error().Err(err).Str("type", key).Msg("failed to build entity descriptor")
			return nil, fmt.Errorf("describe %s: %w", key, err)
		}

		if err := r.claim(d.table, key); err != nil {
			r.logger.Error().Err(err).Str("type", key).Msg("failed to register entity descriptor")
			return nil, err
		}

		metrics.RecordDescriptorBuild(d.name)
		r.logger.Debug().
			Str("entity", d.name).
			Str("table", d.table).
			Int("fields", len(d.fields)).
			Msg("entity descriptor built")

		return d, nil
	})
}

// Descriptors returns every successfully built descriptor, ordered by table.
func (r *Registry) Descriptors() []*Descriptor {
	var out []*Descriptor
	for _, key := range r.cache.Keys() {
		if d, ok := r.cache.Get(key); ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].table < out[j].table })
	return out
}

func (r *Registry) claim(table, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.tables[table]; ok && owner != key {
		return fmt.Errorf("%w: table %q is already mapped by %s, cannot map %s", ErrNamespaceCollision, table, owner, key)
	}
	r.tables[table] = key
	return nil
}

func typeKey(t reflect.Type) string {
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

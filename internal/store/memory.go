package store

import (
	"context"
	"sort"
	"sync"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/predicate"
	"github.com/kneutral-org/alert-repository/internal/query"
)

// InMemoryAdapter implements Adapter in process memory.
// Rows keep insertion order; all rows are deep-copied across the boundary.
type InMemoryAdapter struct {
	mu     sync.RWMutex
	tables map[string]*memoryTable
}

type memoryTable struct {
	rows  map[any]entity.Row
	order []any
	seq   int64
}

// NewInMemoryAdapter creates a new in-memory adapter.
func NewInMemoryAdapter() *InMemoryAdapter {
	return &InMemoryAdapter{
		tables: make(map[string]*memoryTable),
	}
}

func (a *InMemoryAdapter) table(name string) *memoryTable {
	t, ok := a.tables[name]
	if !ok {
		t = &memoryTable{rows: make(map[any]entity.Row)}
		a.tables[name] = t
	}
	return t
}

// Upsert inserts or replaces a row.
func (a *InMemoryAdapter) Upsert(ctx context.Context, table, idField string, row entity.Row) (entity.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.put(a.table(table), idField, row), nil
}

// UpsertIfVersion writes row only when the stored version equals expected.
func (a *InMemoryAdapter) UpsertIfVersion(ctx context.Context, table, idField, versionField string, expected int64, row entity.Row) (entity.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.table(table)
	current, exists := t.rows[row[idField]]
	switch {
	case !exists && expected != 0:
		return nil, ErrVersionConflict
	case exists:
		stored, _ := current[versionField].(int64)
		if stored != expected {
			return nil, ErrVersionConflict
		}
	}

	return a.put(t, idField, row), nil
}

func (a *InMemoryAdapter) put(t *memoryTable, idField string, row entity.Row) entity.Row {
	key := row[idField]
	if _, exists := t.rows[key]; !exists {
		t.order = append(t.order, key)
	}
	if n, ok := key.(int64); ok && n > t.seq {
		t.seq = n
	}
	t.rows[key] = row.Clone()
	return row.Clone()
}

// DeleteByKey removes a row if present.
func (a *InMemoryAdapter) DeleteByKey(ctx context.Context, table, idField string, key any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.table(table)
	if _, ok := t.rows[key]; !ok {
		return nil
	}
	delete(t.rows, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

// Fetch returns matching rows in sort order, then insertion order.
func (a *InMemoryAdapter) Fetch(ctx context.Context, table string, pred predicate.Node, order query.Sort, window *query.Window) ([]entity.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	var matched []entity.Row
	if t, ok := a.tables[table]; ok {
		for _, key := range t.order {
			row := t.rows[key]
			if predicate.Evaluate(pred, row) {
				matched = append(matched, row.Clone())
			}
		}
	}
	a.mu.RUnlock()

	if len(order) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return compareRows(matched[i], matched[j], order) < 0
		})
	}

	if window != nil {
		matched = applyWindow(matched, *window)
	}
	return matched, nil
}

// Count returns the number of matching rows.
func (a *InMemoryAdapter) Count(ctx context.Context, table string, pred predicate.Node) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	t, ok := a.tables[table]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, row := range t.rows {
		if predicate.Evaluate(pred, row) {
			n++
		}
	}
	return n, nil
}

// GenerateIdentifier returns the next per-table integer, or a random UUID.
func (a *InMemoryAdapter) GenerateIdentifier(ctx context.Context, table string, kind entity.Kind) (any, error) {
	if kind != entity.KindInt {
		return RandomIdentifier(kind)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.table(table)
	t.seq++
	return t.seq, nil
}

// compareRows orders rows by sort keys. Nulls sort last ascending and
// first descending.
func compareRows(a, b entity.Row, order query.Sort) int {
	for _, o := range order {
		va, vb := o.Path.Value(a), o.Path.Value(b)

		var c int
		switch {
		case va == nil && vb == nil:
			c = 0
		case va == nil:
			c = 1
		case vb == nil:
			c = -1
		default:
			c = predicate.Compare(va, vb)
		}

		if o.Direction == query.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func applyWindow(rows []entity.Row, w query.Window) []entity.Row {
	if w.Offset >= int64(len(rows)) {
		return nil
	}
	rows = rows[w.Offset:]
	if w.Limit > 0 && w.Limit < len(rows) {
		rows = rows[:w.Limit]
	}
	return rows
}

var (
	_ Adapter             = (*InMemoryAdapter)(nil)
	_ ConditionalUpserter = (*InMemoryAdapter)(nil)
)

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/predicate"
	"github.com/kneutral-org/alert-repository/internal/query"
	"github.com/kneutral-org/alert-repository/internal/store"
)

type person struct{}

type badge struct{}

func personSchema(b *entity.Builder) {
	b.Table("people").
		ID("id", entity.KindInt, entity.Generated).
		Field("name", entity.KindString).
		Field("age", entity.KindInt).
		Version("version")
}

func setup(t *testing.T, opts ...Option) (*Engine, *entity.Descriptor) {
	t.Helper()
	e := New(store.NewInMemoryAdapter(), opts...)
	d, err := entity.Describe[person](e.Registry(), personSchema)
	require.NoError(t, err)
	return e, d
}

func save(t *testing.T, e *Engine, d *entity.Descriptor, rows ...entity.Row) []entity.Row {
	t.Helper()
	out := make([]entity.Row, len(rows))
	for i, r := range rows {
		saved, err := e.Save(context.Background(), d, r)
		require.NoError(t, err)
		out[i] = saved
	}
	return out
}

func TestEngine_SaveGeneratesIdentifier(t *testing.T) {
	e, d := setup(t)
	ctx := context.Background()

	saved := save(t, e, d, entity.Row{"name": "a", "age": 10})[0]
	assert.Equal(t, int64(1), saved["id"])
	assert.Equal(t, int64(1), saved["version"])

	found, ok, err := e.FindByID(ctx, d, int64(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, saved, found)

	// Identifiers accept any integer representation.
	_, ok, err = e.FindByID(ctx, d, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = e.FindByID(ctx, d, int64(99))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_AssignedIdentifierRequired(t *testing.T) {
	e := New(store.NewInMemoryAdapter())
	d, err := entity.Describe[badge](e.Registry(), func(b *entity.Builder) {
		b.ID("code", entity.KindString, entity.Assigned).Field("holder", entity.KindString)
	})
	require.NoError(t, err)

	_, err = e.Save(context.Background(), d, entity.Row{"holder": "x"})
	assert.ErrorIs(t, err, ErrIdentifierRequired)

	saved, err := e.Save(context.Background(), d, entity.Row{"code": "B-1", "holder": "x"})
	require.NoError(t, err)
	assert.Equal(t, "B-1", saved["code"])
}

func TestEngine_OptimisticConcurrency(t *testing.T) {
	tests := []struct {
		name    string
		adapter func() store.Adapter
	}{
		{"conditional adapter", func() store.Adapter { return store.NewInMemoryAdapter() }},
		{"read compare write", func() store.Adapter { return plainAdapter{store.NewInMemoryAdapter()} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.adapter())
			d, err := entity.Describe[person](e.Registry(), personSchema)
			require.NoError(t, err)
			ctx := context.Background()

			v1 := save(t, e, d, entity.Row{"name": "a", "age": 10})[0]

			v1["age"] = int64(11)
			v2, err := e.Save(ctx, d, v1)
			require.NoError(t, err)
			assert.Equal(t, int64(2), v2["version"])

			stale := v1.Clone()
			stale["age"] = int64(50)
			_, err = e.Save(ctx, d, stale)
			assert.ErrorIs(t, err, ErrStaleEntity)

			stored, _, err := e.FindByID(ctx, d, v1["id"])
			require.NoError(t, err)
			assert.Equal(t, int64(11), stored["age"])
			assert.Equal(t, int64(2), stored["version"])

			// A versioned row claiming an identifier that was never stored is stale too.
			_, err = e.Save(ctx, d, entity.Row{"id": int64(77), "name": "ghost", "age": 1, "version": int64(3)})
			assert.ErrorIs(t, err, ErrStaleEntity)
		})
	}
}

func TestEngine_Update(t *testing.T) {
	e, d := setup(t)
	ctx := context.Background()

	_, err := e.Update(ctx, d, entity.Row{"id": int64(5), "name": "x", "age": 1})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Update(ctx, d, entity.Row{"name": "x", "age": 1})
	assert.ErrorIs(t, err, ErrIdentifierRequired)

	saved := save(t, e, d, entity.Row{"name": "x", "age": 1})[0]
	saved["name"] = "y"
	updated, err := e.Update(ctx, d, saved)
	require.NoError(t, err)
	assert.Equal(t, "y", updated["name"])
}

func TestEngine_DeleteIsIdempotent(t *testing.T) {
	e, d := setup(t)
	ctx := context.Background()
	saved := save(t, e, d, entity.Row{"name": "a", "age": 1})[0]

	require.NoError(t, e.DeleteByID(ctx, d, saved["id"]))
	require.NoError(t, e.DeleteByID(ctx, d, saved["id"]))

	exists, err := e.ExistsByID(ctx, d, saved["id"])
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, e.DeleteByID(ctx, d, nil))
}

func TestEngine_SaveRejectsNullInRequiredField(t *testing.T) {
	e, d := setup(t)
	ctx := context.Background()

	_, err := e.Save(ctx, d, entity.Row{"name": "a"})
	assert.ErrorIs(t, err, entity.ErrNullValue)

	_, err = e.Save(ctx, d, entity.Row{"name": nil, "age": 3})
	assert.ErrorIs(t, err, entity.ErrNullValue)

	n, err := e.Count(ctx, d)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Identifier and version are filled in before the check.
	saved := save(t, e, d, entity.Row{"name": "a", "age": 3})[0]
	assert.NotNil(t, saved["id"])
	assert.Equal(t, int64(1), saved["version"])
}

func TestEngine_ZeroIdentifierIsAbsent(t *testing.T) {
	e, d := setup(t)
	ctx := context.Background()
	save(t, e, d, entity.Row{"name": "a", "age": 1})

	for _, id := range []any{nil, 0, int64(0)} {
		_, found, err := e.FindByID(ctx, d, id)
		require.NoError(t, err)
		assert.False(t, found)

		exists, err := e.ExistsByID(ctx, d, id)
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, e.DeleteByID(ctx, d, id))
		require.NoError(t, e.DeleteByID(ctx, d, id))
	}

	n, err := e.Count(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, _, err = e.FindByID(ctx, d, "not-a-number")
	assert.ErrorIs(t, err, entity.ErrKindMismatch)
}

func TestEngine_FindAllByID(t *testing.T) {
	e, d := setup(t)
	ctx := context.Background()
	save(t, e, d,
		entity.Row{"name": "a", "age": 1},
		entity.Row{"name": "b", "age": 2},
		entity.Row{"name": "c", "age": 3},
	)

	rows, err := e.FindAllByID(ctx, d, []any{int64(3), 1, int64(42)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(3)}, ids(rows))

	rows, err = e.FindAllByID(ctx, d, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEngine_PagesRecoverUnpagedResult(t *testing.T) {
	e, d := setup(t, WithBatchSize(2))
	ctx := context.Background()

	// Equal sort keys exercise the identifier tie-break.
	for _, age := range []int{30, 10, 20, 10, 30, 20, 10} {
		save(t, e, d, entity.Row{"name": "p", "age": age})
	}

	order, err := query.ParseSort(d, "age")
	require.NoError(t, err)

	var all []any
	for row, err := range e.FindAll(ctx, d, order) {
		require.NoError(t, err)
		all = append(all, row["id"])
	}
	require.Len(t, all, 7)

	for _, size := range []int{1, 2, 3, 7, 10} {
		var paged []any
		req := query.PageRequest{Size: size, Sort: order}
		for {
			p, err := e.FindPage(ctx, d, req)
			require.NoError(t, err)
			assert.Equal(t, int64(7), p.Total)
			paged = append(paged, ids(p.Rows)...)
			if !p.HasNext {
				break
			}
			req = req.Next()
		}
		assert.Equal(t, all, paged, "page size %d", size)
	}

	p, err := e.FindPage(ctx, d, query.PageRequest{Offset: 100, Size: 5})
	require.NoError(t, err)
	assert.Empty(t, p.Rows)
	assert.Equal(t, int64(7), p.Total)
	assert.False(t, p.HasNext)
}

func TestEngine_PageRequestValidation(t *testing.T) {
	e, d := setup(t, WithPageSizes(5, 50))
	ctx := context.Background()

	_, err := e.FindPage(ctx, d, query.PageRequest{Size: 0})
	assert.ErrorIs(t, err, query.ErrInvalidPageRequest)

	_, err = e.FindPage(ctx, d, query.PageRequest{Size: 5, Offset: -1})
	assert.ErrorIs(t, err, query.ErrInvalidPageRequest)

	_, err = e.FindPage(ctx, d, query.PageRequest{Size: 51})
	assert.ErrorIs(t, err, query.ErrInvalidPageRequest)

	_, err = e.FindPage(ctx, d, query.PageOf(1<<62, 5))
	assert.ErrorIs(t, err, query.ErrInvalidPageRequest)
}

func TestEngine_FindAllIsOneShot(t *testing.T) {
	e, d := setup(t)
	save(t, e, d, entity.Row{"name": "a", "age": 1})

	seq := e.FindAll(context.Background(), d, nil)
	n := 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 1, n)

	for _, err := range seq {
		assert.ErrorIs(t, err, ErrSequenceConsumed)
	}
}

func TestEngine_Execute(t *testing.T) {
	e, d := setup(t)
	ctx := context.Background()
	save(t, e, d,
		entity.Row{"name": "b", "age": 20},
		entity.Row{"name": "a", "age": 10},
		entity.Row{"name": "a", "age": 30},
	)

	compile := func(sig string) *query.Compiled {
		t.Helper()
		q, err := e.Compiler().Compile(d, sig)
		require.NoError(t, err)
		return q
	}

	t.Run("many", func(t *testing.T) {
		res, err := e.Execute(ctx, d, compile("findByAgeGreaterThanOrderByAgeAsc"), []any{15}, nil)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(1), int64(3)}, ids(res.Rows))

		res, err = e.Execute(ctx, d, compile("findByNameContains"), []any{"b"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(1)}, ids(res.Rows))
	})

	t.Run("single", func(t *testing.T) {
		res, err := e.Execute(ctx, d, compile("findFirstByNameOrderByAgeDesc"), []any{"a"}, nil)
		require.NoError(t, err)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, int64(30), res.Rows[0]["age"])

		_, err = e.Execute(ctx, d, compile("findOneByName"), []any{"a"}, nil)
		assert.ErrorIs(t, err, ErrNonUniqueResult)

		res, err = e.Execute(ctx, d, compile("findOneByName"), []any{"zz"}, nil)
		require.NoError(t, err)
		assert.Empty(t, res.Rows)
	})

	t.Run("count and exists", func(t *testing.T) {
		res, err := e.Execute(ctx, d, compile("countByName"), []any{"a"}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.Count)

		res, err = e.Execute(ctx, d, compile("existsByName"), []any{"c"}, nil)
		require.NoError(t, err)
		assert.False(t, res.Exists)
	})

	t.Run("page", func(t *testing.T) {
		res, err := e.Execute(ctx, d, compile("pageByNameOrderByAgeAsc"), []any{"a"}, &query.PageRequest{Size: 1})
		require.NoError(t, err)
		assert.Equal(t, []any{int64(2)}, ids(res.Rows))
		assert.Equal(t, int64(2), res.Count)
		assert.True(t, res.HasNext)
	})

	t.Run("arity mismatch", func(t *testing.T) {
		_, err := e.Execute(ctx, d, compile("findByAgeGreaterThan"), nil, nil)
		assert.ErrorIs(t, err, ErrParameterArityMismatch)

		_, err = e.Execute(ctx, d, compile("findByAgeGreaterThan"), []any{1, 2}, nil)
		assert.ErrorIs(t, err, ErrParameterArityMismatch)
	})

	t.Run("nil binds to null check", func(t *testing.T) {
		res, err := e.Execute(ctx, d, compile("countByName"), []any{nil}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Count)

		_, err = e.Execute(ctx, d, compile("findByAgeGreaterThan"), []any{nil}, nil)
		assert.ErrorIs(t, err, predicate.ErrInvalidParameter)
	})
}

func TestEngine_StoreFailuresPropagate(t *testing.T) {
	e := New(failingAdapter{})
	d, err := entity.Describe[person](e.Registry(), personSchema)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.Save(ctx, d, entity.Row{"name": "a", "age": 1})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	_, _, err = e.FindByID(ctx, d, 1)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	_, err = e.Count(ctx, d)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	var got error
	for _, err := range e.FindAll(ctx, d, nil) {
		got = err
	}
	assert.ErrorIs(t, got, store.ErrStoreUnavailable)
}

func TestEngine_ConcurrentSaves(t *testing.T) {
	e, d := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Save(ctx, d, entity.Row{"name": "p", "age": 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := e.Count(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)
}

// plainAdapter hides the conditional write of the wrapped adapter.
type plainAdapter struct {
	store.Adapter
}

var errConnRefused = errors.New("connection refused")

type failingAdapter struct{}

func (failingAdapter) Upsert(context.Context, string, string, entity.Row) (entity.Row, error) {
	return nil, store.Unavailable(errConnRefused)
}

func (failingAdapter) DeleteByKey(context.Context, string, string, any) error {
	return store.Unavailable(errConnRefused)
}

func (failingAdapter) Fetch(context.Context, string, predicate.Node, query.Sort, *query.Window) ([]entity.Row, error) {
	return nil, store.Unavailable(errConnRefused)
}

func (failingAdapter) Count(context.Context, string, predicate.Node) (int64, error) {
	return 0, store.Unavailable(errConnRefused)
}

func (failingAdapter) GenerateIdentifier(context.Context, string, entity.Kind) (any, error) {
	return nil, store.Unavailable(errConnRefused)
}

func ids(rows []entity.Row) []any {
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["id"])
	}
	return out
}

package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/alert-repository/internal/engine"
	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/query"
	"github.com/kneutral-org/alert-repository/internal/store"
)

type task struct {
	ID       int64
	Title    string
	Priority int
	Done     bool
	Owner    *string
	Version  int64
}

type taskMapper struct {
	schemaCalls *atomic.Int32
}

func (m taskMapper) Schema(b *entity.Builder) {
	if m.schemaCalls != nil {
		m.schemaCalls.Add(1)
	}
	b.Table("tasks").
		ID("id", entity.KindInt, entity.Generated).
		Field("title", entity.KindString).
		Field("priority", entity.KindInt).
		Field("done", entity.KindBool).
		Nullable("owner", entity.KindString).
		Version("version")
}

func (taskMapper) ToRow(t task) entity.Row {
	return entity.Row{
		"id":       t.ID,
		"title":    t.Title,
		"priority": t.Priority,
		"done":     t.Done,
		"owner":    t.Owner,
		"version":  t.Version,
	}
}

func (taskMapper) FromRow(row entity.Row) (task, error) {
	t := task{
		ID:       row["id"].(int64),
		Title:    row["title"].(string),
		Priority: int(row["priority"].(int64)),
		Done:     row["done"].(bool),
		Version:  row["version"].(int64),
	}
	if owner, ok := row["owner"].(string); ok {
		t.Owner = &owner
	}
	return t, nil
}

var taskQueries = []Declaration{
	Derived("findByDoneFalseOrderByPriorityDesc"),
	Derived("findOneByTitle"),
	Derived("findFirstByOwnerIsNullOrderByPriorityAsc"),
	Derived("countByDone"),
	Derived("existsByTitle"),
	Derived("pageByPriorityGreaterThanEqual"),
	Expression("urgentOpen", query.Expression{
		Text:        "priority >= args[0] && done == false",
		Sort:        "-priority",
		Cardinality: query.Many,
	}),
}

func newTaskRepository(t *testing.T) *Repository[task, int64] {
	t.Helper()
	r, err := New[task, int64](engine.New(store.NewInMemoryAdapter()), taskMapper{}, taskQueries...)
	require.NoError(t, err)
	return r
}

func strPtr(s string) *string { return &s }

func seed(t *testing.T, r *Repository[task, int64]) []task {
	t.Helper()
	saved, err := r.SaveAll(context.Background(), []task{
		{Title: "write docs", Priority: 1, Owner: strPtr("ana")},
		{Title: "fix pager", Priority: 5},
		{Title: "rotate keys", Priority: 3, Done: true},
		{Title: "upgrade db", Priority: 4, Owner: strPtr("li")},
	})
	require.NoError(t, err)
	return saved
}

func TestNew_RejectsBadDeclarations(t *testing.T) {
	tests := []struct {
		name  string
		decls []Declaration
		want  error
	}{
		{"malformed signature", []Declaration{Derived("findTitle")}, ErrMalformedQuerySignature},
		{"unknown field", []Declaration{Derived("findByColor")}, ErrUnknownField},
		{"incompatible operator", []Declaration{Derived("findByDoneGreaterThan")}, ErrIncompatibleOperator},
		{"malformed expression", []Declaration{Expression("x", query.Expression{Text: "priority >", Cardinality: query.Many})}, ErrMalformedQuerySignature},
		{"duplicate name", []Declaration{Derived("countByDone"), Derived("countByDone")}, ErrDuplicateQuery},
		{"unnamed", []Declaration{{Signature: "countByDone"}}, ErrMalformedQuerySignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New[task, int64](engine.New(store.NewInMemoryAdapter()), taskMapper{}, tt.decls...)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNew_IdentifierTypeMustMatch(t *testing.T) {
	_, err := New[task, string](engine.New(store.NewInMemoryAdapter()), taskMapper{})
	assert.ErrorIs(t, err, ErrUnmappableType)

	_, err = New[task, int](engine.New(store.NewInMemoryAdapter()), taskMapper{})
	assert.NoError(t, err)
}

func TestNew_ConcurrentFirstUseBuildsOnce(t *testing.T) {
	e := engine.New(store.NewInMemoryAdapter())
	mapper := taskMapper{schemaCalls: &atomic.Int32{}}

	const n = 32
	repos := make([]*Repository[task, int64], n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := New[task, int64](e, mapper, taskQueries...)
			assert.NoError(t, err)
			repos[i] = r
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), mapper.schemaCalls.Load())
	first, err := repos[0].Query("countByDone")
	require.NoError(t, err)
	for _, r := range repos[1:] {
		assert.Same(t, repos[0].Descriptor(), r.Descriptor())
		q, err := r.Query("countByDone")
		require.NoError(t, err)
		assert.Same(t, first, q)
	}
}

func TestRepository_CRUD(t *testing.T) {
	r := newTaskRepository(t)
	ctx := context.Background()

	saved, err := r.Save(ctx, task{Title: "page oncall", Priority: 2})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.Equal(t, int64(1), saved.Version)

	found, ok, err := r.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, saved, found)

	found.Done = true
	updated, err := r.Update(ctx, found)
	require.NoError(t, err)
	assert.True(t, updated.Done)
	assert.Equal(t, int64(2), updated.Version)

	_, err = r.Save(ctx, found)
	assert.ErrorIs(t, err, ErrStaleEntity)

	_, err = r.Update(ctx, task{ID: 999, Title: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := r.ExistsByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, r.Delete(ctx, updated))
	require.NoError(t, r.DeleteByID(ctx, saved.ID))

	_, ok, err = r.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, r.Delete(ctx, task{Title: "unsaved"}), ErrIdentifierRequired)
}

func TestRepository_ZeroIdentifier(t *testing.T) {
	r := newTaskRepository(t)
	ctx := context.Background()
	seed(t, r)

	_, ok, err := r.FindByID(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := r.ExistsByID(ctx, 0)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, r.DeleteByID(ctx, 0))
	require.NoError(t, r.DeleteByID(ctx, 0))

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestRepository_BulkOperations(t *testing.T) {
	r := newTaskRepository(t)
	ctx := context.Background()
	saved := seed(t, r)

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	got, err := r.FindAllByID(ctx, []int64{saved[3].ID, saved[0].ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, saved[0].ID, got[0].ID)
	assert.Equal(t, saved[3].ID, got[1].ID)

	require.NoError(t, r.DeleteAllByID(ctx, []int64{saved[0].ID, saved[1].ID, 12345}))
	n, err = r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRepository_FindAll(t *testing.T) {
	r := newTaskRepository(t)
	ctx := context.Background()
	seed(t, r)

	order, err := query.ParseSort(r.Descriptor(), "priority desc")
	require.NoError(t, err)

	var titles []string
	for tk, err := range r.FindAll(ctx, order) {
		require.NoError(t, err)
		titles = append(titles, tk.Title)
	}
	assert.Equal(t, []string{"fix pager", "upgrade db", "rotate keys", "write docs"}, titles)
}

func TestRepository_FindPage(t *testing.T) {
	r := newTaskRepository(t)
	ctx := context.Background()
	seed(t, r)

	p, err := r.FindPage(ctx, query.PageOf(1, 3))
	require.NoError(t, err)
	assert.Len(t, p.Content, 1)
	assert.Equal(t, int64(4), p.Total)
	assert.Equal(t, 1, p.Number)
	assert.Equal(t, 2, p.TotalPages())
	assert.True(t, p.HasPrevious())
	assert.False(t, p.HasNext)

	_, err = r.FindPage(ctx, query.PageRequest{Size: -1})
	assert.ErrorIs(t, err, ErrInvalidPageRequest)
}

func TestRepository_DeclaredQueries(t *testing.T) {
	r := newTaskRepository(t)
	ctx := context.Background()
	seed(t, r)

	t.Run("many", func(t *testing.T) {
		open, err := r.Find(ctx, "findByDoneFalseOrderByPriorityDesc")
		require.NoError(t, err)
		require.Len(t, open, 3)
		assert.Equal(t, "fix pager", open[0].Title)
		assert.Equal(t, "write docs", open[2].Title)
	})

	t.Run("single", func(t *testing.T) {
		tk, ok, err := r.FindOne(ctx, "findOneByTitle", "upgrade db")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "li", *tk.Owner)

		_, ok, err = r.FindOne(ctx, "findOneByTitle", "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		tk, ok, err = r.FindOne(ctx, "findFirstByOwnerIsNullOrderByPriorityAsc")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "rotate keys", tk.Title)
	})

	t.Run("count and exists", func(t *testing.T) {
		n, err := r.CountBy(ctx, "countByDone", true)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		ok, err := r.ExistsBy(ctx, "existsByTitle", "fix pager")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("page", func(t *testing.T) {
		p, err := r.PageBy(ctx, "pageByPriorityGreaterThanEqual", query.PageOf(0, 2), 3)
		require.NoError(t, err)
		assert.Len(t, p.Content, 2)
		assert.Equal(t, int64(3), p.Total)
		assert.True(t, p.HasNext)

		next, err := r.PageBy(ctx, "pageByPriorityGreaterThanEqual", p.NextRequest(), 3)
		require.NoError(t, err)
		assert.Len(t, next.Content, 1)
		assert.False(t, next.HasNext)
	})

	t.Run("expression", func(t *testing.T) {
		urgent, err := r.Find(ctx, "urgentOpen", 4)
		require.NoError(t, err)
		require.Len(t, urgent, 2)
		assert.Equal(t, "fix pager", urgent[0].Title)
		assert.Equal(t, "upgrade db", urgent[1].Title)
	})

	t.Run("dispatch errors", func(t *testing.T) {
		_, err := r.Find(ctx, "countByDone", true)
		assert.ErrorIs(t, err, ErrCardinalityMismatch)

		_, err = r.Find(ctx, "findByNothing")
		assert.ErrorIs(t, err, ErrUnknownQuery)

		_, err = r.CountBy(ctx, "countByDone")
		assert.ErrorIs(t, err, ErrParameterArityMismatch)
	})

	assert.Contains(t, r.Declared(), "urgentOpen")
	assert.Len(t, r.Declared(), len(taskQueries))
}

func TestPage_Arithmetic(t *testing.T) {
	tests := []struct {
		name     string
		page     Page[task]
		pages    int
		previous bool
	}{
		{"empty", Page[task]{Size: 10}, 0, false},
		{"exact", Page[task]{Size: 5, Total: 10}, 2, false},
		{"partial", Page[task]{Size: 5, Total: 11, Request: query.PageRequest{Offset: 5, Size: 5}}, 3, true},
		{"zero size", Page[task]{Total: 3}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.pages, tt.page.TotalPages())
			assert.Equal(t, tt.previous, tt.page.HasPrevious())
		})
	}
}

func TestRepository_StoreErrorsAreExported(t *testing.T) {
	err := store.Unavailable(errors.New("dial tcp: refused"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

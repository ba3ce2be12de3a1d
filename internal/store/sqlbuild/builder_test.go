package sqlbuild

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/predicate"
	"github.com/kneutral-org/alert-repository/internal/query"
	"github.com/kneutral-org/alert-repository/internal/query/expr"
)

type job struct{}

func jobDescriptor(t *testing.T) *entity.Descriptor {
	t.Helper()
	d, err := entity.Describe[job](entity.NewRegistry(zerolog.Nop()), func(b *entity.Builder) {
		b.Table("jobs").
			ID("id", entity.KindInt, entity.Generated).
			Field("name", entity.KindString).
			Field("attempts", entity.KindInt).
			Nullable("finished_at", entity.KindTime).
			Relation("queue", true, func(q *entity.Builder) {
				q.Field("id", entity.KindUUID).
					Field("name", entity.KindString).
					Field("priority", entity.KindInt)
			})
	})
	require.NoError(t, err)
	return d
}

func bound(t *testing.T, d *entity.Descriptor, text string, args ...any) predicate.Node {
	t.Helper()
	tree, err := expr.Parse(d, text)
	require.NoError(t, err)
	n, err := predicate.Bind(tree, args)
	require.NoError(t, err)
	return n
}

func TestSelect_Postgres(t *testing.T) {
	d := jobDescriptor(t)
	order, err := query.ParseSort(d, "-finished_at,queue.priority")
	require.NoError(t, err)

	pred := bound(t, d, `name.startsWith(args[0]) && (attempts > args[1] || queue.priority in [1, 2]) && !(finished_at == null)`, "re_", 3)

	stmt, err := Postgres.Select("jobs", pred, order.Stable(d), &query.Window{Offset: 20, Limit: 10})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT * FROM "jobs" WHERE ("name" LIKE $1 ESCAPE '\' AND ("attempts" > $2 OR (("queue"->>'priority')::bigint) IN ($3, $4)) AND NOT ("finished_at" IS NULL))`+
			` ORDER BY "finished_at" DESC NULLS FIRST, (("queue"->>'priority')::bigint) ASC NULLS LAST, "id" ASC NULLS LAST LIMIT 10 OFFSET 20`,
		stmt.SQL)
	assert.Equal(t, []any{`re\_%`, int64(3), int64(1), int64(2)}, stmt.Args)
}

func TestSelect_SQLite(t *testing.T) {
	d := jobDescriptor(t)
	when := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)

	pred := bound(t, d, `queue.name.contains(args[0]) && finished_at < args[1]`, "a*b", when)

	stmt, err := SQLite.Select("jobs", pred, nil, &query.Window{Offset: 5})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT * FROM "jobs" WHERE (json_extract("queue", '$.name') GLOB ? AND "finished_at" < ?) LIMIT -1 OFFSET 5`,
		stmt.SQL)
	assert.Equal(t, []any{"*a[*]b*", "2024-06-01T08:30:00.000000000Z"}, stmt.Args)
}

func TestSelect_EmptyInMatchesNothing(t *testing.T) {
	d := jobDescriptor(t)
	pred := bound(t, d, `attempts in args[0]`, []int{})

	stmt, err := Postgres.Select("jobs", pred, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "jobs" WHERE 1 = 0`, stmt.SQL)
	assert.Empty(t, stmt.Args)
}

func TestSelect_RejectsUnboundParameters(t *testing.T) {
	d := jobDescriptor(t)
	tree, err := expr.Parse(d, `name == args[0]`)
	require.NoError(t, err)

	_, err = Postgres.Select("jobs", tree, nil, nil)
	assert.Error(t, err)
}

func TestCount(t *testing.T) {
	d := jobDescriptor(t)
	stmt, err := SQLite.Count("jobs", bound(t, d, `attempts != 0`))
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "jobs" WHERE "attempts" <> ?`, stmt.SQL)
	assert.Equal(t, []any{int64(0)}, stmt.Args)
}

func TestUpsert(t *testing.T) {
	qid := uuid.MustParse("6f1c1c1e-8a3e-4a5e-9d55-0e4a3e1f2b10")
	row := entity.Row{
		"id":       int64(7),
		"name":     "reindex",
		"attempts": int64(0),
		"queue":    entity.Row{"id": qid, "name": "default", "priority": int64(1)},
	}

	stmt, err := Postgres.Upsert("jobs", "id", row)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "jobs" ("attempts", "id", "name", "queue") VALUES ($1, $2, $3, $4) ON CONFLICT ("id") `+
			`DO UPDATE SET "attempts" = EXCLUDED."attempts", "name" = EXCLUDED."name", "queue" = EXCLUDED."queue" RETURNING *`,
		stmt.SQL)
	require.Len(t, stmt.Args, 4)
	assert.JSONEq(t, `{"id":"6f1c1c1e-8a3e-4a5e-9d55-0e4a3e1f2b10","name":"default","priority":1}`, stmt.Args[3].(string))

	stmt, err = SQLite.InsertIfAbsent("jobs", "id", row)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "jobs" ("attempts", "id", "name", "queue") VALUES (?, ?, ?, ?) ON CONFLICT ("id") DO NOTHING RETURNING *`,
		stmt.SQL)
}

func TestUpdateIfVersion(t *testing.T) {
	row := entity.Row{"id": int64(7), "name": "reindex", "version": int64(4)}

	stmt, err := Postgres.UpdateIfVersion("jobs", "id", "version", 3, row)
	require.NoError(t, err)
	assert.Equal(t,
		`UPDATE "jobs" SET "name" = $1, "version" = $2 WHERE "id" = $3 AND "version" = $4 RETURNING *`,
		stmt.SQL)
	assert.Equal(t, []any{"reindex", int64(4), int64(7), int64(3)}, stmt.Args)
}

func TestDelete(t *testing.T) {
	stmt, err := SQLite.Delete("public.jobs", "id", int64(9))
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "public"."jobs" WHERE "id" = ?`, stmt.SQL)
	assert.Equal(t, []any{int64(9)}, stmt.Args)
}

func TestQuoteIdent(t *testing.T) {
	q, err := QuoteIdent("alerts")
	require.NoError(t, err)
	assert.Equal(t, `"alerts"`, q)

	_, err = QuoteIdent(`alerts"; DROP TABLE x; --`)
	assert.Error(t, err)

	_, err = Postgres.Select("bad table", nil, nil, nil)
	assert.Error(t, err)
}

func TestNextSequence(t *testing.T) {
	stmt := Postgres.NextSequence("alerts")
	assert.Equal(t,
		`INSERT INTO "repository_sequences" (name, value) VALUES ($1, 1) ON CONFLICT (name) DO UPDATE SET value = "repository_sequences".value + 1 RETURNING value`,
		stmt.SQL)
	assert.Equal(t, []any{"alerts"}, stmt.Args)

	assert.Contains(t, SQLite.NextSequence("alerts").SQL, "VALUES (?, 1)")
	assert.Contains(t, SQLite.CreateSequences(), "CREATE TABLE IF NOT EXISTS")
}

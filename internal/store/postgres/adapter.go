// Package postgres provides the PostgreSQL implementation of the store adapter.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/predicate"
	"github.com/kneutral-org/alert-repository/internal/query"
	"github.com/kneutral-org/alert-repository/internal/store"
	"github.com/kneutral-org/alert-repository/internal/store/sqlbuild"
)

// querier is the subset of pgxpool.Pool the adapter uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Adapter implements store.Adapter on a pgx connection pool.
type Adapter struct {
	db     querier
	logger zerolog.Logger

	seqMu    sync.Mutex
	seqReady bool
}

// NewAdapter creates an adapter on an existing pool.
func NewAdapter(pool *pgxpool.Pool, logger zerolog.Logger) *Adapter {
	return newAdapter(pool, logger)
}

func newAdapter(db querier, logger zerolog.Logger) *Adapter {
	return &Adapter{
		db:     db,
		logger: logger.With().Str("component", "postgres_adapter").Logger(),
	}
}

// Connect opens and pings a pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, store.Unavailable(fmt.Errorf("failed to ping postgres: %w", err))
	}
	return pool, nil
}

// Upsert inserts or replaces a row keyed by idField.
func (a *Adapter) Upsert(ctx context.Context, table, idField string, row entity.Row) (entity.Row, error) {
	stmt, err := sqlbuild.Postgres.Upsert(table, idField, row)
	if err != nil {
		return nil, err
	}
	out, found, err := a.queryOne(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("upsert into %s returned no row", table)
	}
	return out, nil
}

// UpsertIfVersion inserts when expected is zero and the row is absent, or
// updates when the stored version equals expected.
func (a *Adapter) UpsertIfVersion(ctx context.Context, table, idField, versionField string, expected int64, row entity.Row) (entity.Row, error) {
	var (
		stmt sqlbuild.Statement
		err  error
	)
	if expected == 0 {
		stmt, err = sqlbuild.Postgres.InsertIfAbsent(table, idField, row)
	} else {
		stmt, err = sqlbuild.Postgres.UpdateIfVersion(table, idField, versionField, expected, row)
	}
	if err != nil {
		return nil, err
	}

	out, found, err := a.queryOne(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrVersionConflict
	}
	return out, nil
}

// DeleteByKey removes the row with key. Missing rows are ignored.
func (a *Adapter) DeleteByKey(ctx context.Context, table, idField string, key any) error {
	stmt, err := sqlbuild.Postgres.Delete(table, idField, key)
	if err != nil {
		return err
	}
	if _, err := a.db.Exec(ctx, stmt.SQL, stmt.Args...); err != nil {
		return classify(err)
	}
	return nil
}

// Fetch runs a filtered, ordered, windowed select.
func (a *Adapter) Fetch(ctx context.Context, table string, pred predicate.Node, order query.Sort, window *query.Window) ([]entity.Row, error) {
	stmt, err := sqlbuild.Postgres.Select(table, pred, order, window)
	if err != nil {
		return nil, err
	}

	rows, err := a.db.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []entity.Row
	for rows.Next() {
		row, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// Count returns the number of matching rows.
func (a *Adapter) Count(ctx context.Context, table string, pred predicate.Node) (int64, error) {
	stmt, err := sqlbuild.Postgres.Count(table, pred)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := a.db.QueryRow(ctx, stmt.SQL, stmt.Args...).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// GenerateIdentifier draws integer identifiers from a per-table counter row
// and returns random UUIDs otherwise.
func (a *Adapter) GenerateIdentifier(ctx context.Context, table string, kind entity.Kind) (any, error) {
	if kind != entity.KindInt {
		return store.RandomIdentifier(kind)
	}
	if err := a.ensureSequences(ctx); err != nil {
		return nil, err
	}

	stmt := sqlbuild.Postgres.NextSequence(table)
	var id int64
	if err := a.db.QueryRow(ctx, stmt.SQL, stmt.Args...).Scan(&id); err != nil {
		return nil, classify(err)
	}
	return id, nil
}

func (a *Adapter) ensureSequences(ctx context.Context) error {
	a.seqMu.Lock()
	defer a.seqMu.Unlock()

	if a.seqReady {
		return nil
	}
	if _, err := a.db.Exec(ctx, sqlbuild.Postgres.CreateSequences()); err != nil {
		a.logger.Error().Err(err).Msg("failed to create sequence table")
		return classify(err)
	}
	a.seqReady = true
	return nil
}

func (a *Adapter) queryOne(ctx context.Context, stmt sqlbuild.Statement) (entity.Row, bool, error) {
	rows, err := a.db.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, false, classify(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, classify(err)
		}
		return nil, false, nil
	}
	row, err := scan(rows)
	if err != nil {
		return nil, false, err
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, classify(err)
	}
	return row, true, nil
}

func scan(rows pgx.Rows) (entity.Row, error) {
	values, err := rows.Values()
	if err != nil {
		return nil, classify(err)
	}
	fields := rows.FieldDescriptions()
	row := make(entity.Row, len(fields))
	for i, fd := range fields {
		row[fd.Name] = values[i]
	}
	return row, nil
}

// classify maps driver errors onto the store failure classes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return store.Unavailable(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503", "23502", "23514":
			return store.ConstraintViolation(err)
		case "40001", "40P01":
			return store.SerializationFailure(err)
		case "57P01", "57P02", "57P03", "53300":
			return store.Unavailable(err)
		}
		return err
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) {
		return store.Unavailable(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return store.Unavailable(err)
	}
	return err
}

var (
	_ store.Adapter             = (*Adapter)(nil)
	_ store.ConditionalUpserter = (*Adapter)(nil)
)

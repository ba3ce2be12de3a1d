// Package sqlite provides the SQLite implementation of the store adapter.
// Timestamps are stored as fixed-width UTC text and relations as JSON text.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/predicate"
	"github.com/kneutral-org/alert-repository/internal/query"
	"github.com/kneutral-org/alert-repository/internal/store"
	"github.com/kneutral-org/alert-repository/internal/store/sqlbuild"
)

// Adapter implements store.Adapter on a database/sql handle.
type Adapter struct {
	db     *sql.DB
	logger zerolog.Logger

	seqMu    sync.Mutex
	seqReady bool
}

// Open opens a SQLite database at path.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, store.Unavailable(fmt.Errorf("failed to ping sqlite database: %w", err))
	}
	return db, nil
}

// NewAdapter creates an adapter on db.
func NewAdapter(db *sql.DB, logger zerolog.Logger) *Adapter {
	return &Adapter{
		db:     db,
		logger: logger.With().Str("component", "sqlite_adapter").Logger(),
	}
}

// Upsert inserts or replaces a row keyed by idField.
func (a *Adapter) Upsert(ctx context.Context, table, idField string, row entity.Row) (entity.Row, error) {
	stmt, err := sqlbuild.SQLite.Upsert(table, idField, row)
	if err != nil {
		return nil, err
	}
	rows, err := a.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("upsert into %s returned no row", table)
	}
	return rows[0], nil
}

// UpsertIfVersion inserts when expected is zero and the row is absent, or
// updates when the stored version equals expected.
func (a *Adapter) UpsertIfVersion(ctx context.Context, table, idField, versionField string, expected int64, row entity.Row) (entity.Row, error) {
	var (
		stmt sqlbuild.Statement
		err  error
	)
	if expected == 0 {
		stmt, err = sqlbuild.SQLite.InsertIfAbsent(table, idField, row)
	} else {
		stmt, err = sqlbuild.SQLite.UpdateIfVersion(table, idField, versionField, expected, row)
	}
	if err != nil {
		return nil, err
	}

	rows, err := a.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrVersionConflict
	}
	return rows[0], nil
}

// DeleteByKey removes the row with key. Missing rows are ignored.
func (a *Adapter) DeleteByKey(ctx context.Context, table, idField string, key any) error {
	stmt, err := sqlbuild.SQLite.Delete(table, idField, key)
	if err != nil {
		return err
	}
	if _, err := a.db.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
		return classify(err)
	}
	return nil
}

// Fetch runs a filtered, ordered, windowed select.
func (a *Adapter) Fetch(ctx context.Context, table string, pred predicate.Node, order query.Sort, window *query.Window) ([]entity.Row, error) {
	stmt, err := sqlbuild.SQLite.Select(table, pred, order, window)
	if err != nil {
		return nil, err
	}
	return a.query(ctx, stmt)
}

// Count returns the number of matching rows.
func (a *Adapter) Count(ctx context.Context, table string, pred predicate.Node) (int64, error) {
	stmt, err := sqlbuild.SQLite.Count(table, pred)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := a.db.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&n); err != nil {
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

	stmt := sqlbuild.SQLite.NextSequence(table)
	var id int64
	if err := a.db.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&id); err != nil {
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
	if _, err := a.db.ExecContext(ctx, sqlbuild.SQLite.CreateSequences()); err != nil {
		a.logger.Error().Err(err).Msg("failed to create sequence table")
		return classify(err)
	}
	a.seqReady = true
	return nil
}

func (a *Adapter) query(ctx context.Context, stmt sqlbuild.Statement) ([]entity.Row, error) {
	rows, err := a.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, classify(err)
	}

	var out []entity.Row
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, classify(err)
		}

		row := make(entity.Row, len(columns))
		for i, c := range columns {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// classify maps driver errors onto the store failure classes.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return store.ConstraintViolation(err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return store.SerializationFailure(err)
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
			return store.Unavailable(err)
		}
		return err
	}

	switch {
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.Is(err, context.DeadlineExceeded):
		return store.Unavailable(err)
	}
	return err
}

var (
	_ store.Adapter             = (*Adapter)(nil)
	_ store.ConditionalUpserter = (*Adapter)(nil)
)

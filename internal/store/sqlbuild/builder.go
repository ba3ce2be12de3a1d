package sqlbuild

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/predicate"
	"github.com/kneutral-org/alert-repository/internal/query"
)

// Statement is a rendered SQL statement with its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

type writer struct {
	d    Dialect
	sb   strings.Builder
	args []any
}

func (w *writer) arg(v any) (string, error) {
	enc, err := w.d.encode(v)
	if err != nil {
		return "", err
	}
	w.args = append(w.args, enc)
	return w.d.placeholder(len(w.args)), nil
}

func (w *writer) statement() Statement {
	return Statement{SQL: w.sb.String(), Args: w.args}
}

// Select renders a filtered, ordered, windowed SELECT.
func (d Dialect) Select(table string, pred predicate.Node, order query.Sort, window *query.Window) (Statement, error) {
	qt, err := QuoteIdent(table)
	if err != nil {
		return Statement{}, err
	}

	w := &writer{d: d}
	w.sb.WriteString("SELECT * FROM " + qt)
	if err := w.where(pred); err != nil {
		return Statement{}, err
	}
	if err := w.orderBy(order); err != nil {
		return Statement{}, err
	}
	if window != nil {
		limit := d.unbounded
		if window.Limit > 0 {
			limit = strconv.Itoa(window.Limit)
		}
		fmt.Fprintf(&w.sb, " LIMIT %s OFFSET %d", limit, window.Offset)
	}
	return w.statement(), nil
}

// Count renders a filtered COUNT(*).
func (d Dialect) Count(table string, pred predicate.Node) (Statement, error) {
	qt, err := QuoteIdent(table)
	if err != nil {
		return Statement{}, err
	}

	w := &writer{d: d}
	w.sb.WriteString("SELECT COUNT(*) FROM " + qt)
	if err := w.where(pred); err != nil {
		return Statement{}, err
	}
	return w.statement(), nil
}

// Upsert renders an INSERT that replaces the row on identifier conflict.
func (d Dialect) Upsert(table, idField string, row entity.Row) (Statement, error) {
	return d.insert(table, idField, row, true)
}

// InsertIfAbsent renders an INSERT that returns no row when the identifier exists.
func (d Dialect) InsertIfAbsent(table, idField string, row entity.Row) (Statement, error) {
	return d.insert(table, idField, row, false)
}

func (d Dialect) insert(table, idField string, row entity.Row, replace bool) (Statement, error) {
	qt, err := QuoteIdent(table)
	if err != nil {
		return Statement{}, err
	}
	qid, err := QuoteIdent(idField)
	if err != nil {
		return Statement{}, err
	}

	columns := sortedColumns(row)
	w := &writer{d: d}
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	var updates []string
	for i, c := range columns {
		qc, err := QuoteIdent(c)
		if err != nil {
			return Statement{}, err
		}
		ph, err := w.arg(row[c])
		if err != nil {
			return Statement{}, err
		}
		quoted[i], placeholders[i] = qc, ph
		if c != idField {
			updates = append(updates, qc+" = EXCLUDED."+qc)
		}
	}

	fmt.Fprintf(&w.sb, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		qt, strings.Join(quoted, ", "), strings.Join(placeholders, ", "), qid)
	if replace && len(updates) > 0 {
		w.sb.WriteString("DO UPDATE SET " + strings.Join(updates, ", "))
	} else {
		w.sb.WriteString("DO NOTHING")
	}
	w.sb.WriteString(" RETURNING *")
	return w.statement(), nil
}

// UpdateIfVersion renders an UPDATE guarded by the stored version.
func (d Dialect) UpdateIfVersion(table, idField, versionField string, expected int64, row entity.Row) (Statement, error) {
	qt, err := QuoteIdent(table)
	if err != nil {
		return Statement{}, err
	}
	qid, err := QuoteIdent(idField)
	if err != nil {
		return Statement{}, err
	}
	qv, err := QuoteIdent(versionField)
	if err != nil {
		return Statement{}, err
	}

	w := &writer{d: d}
	var sets []string
	for _, c := range sortedColumns(row) {
		if c == idField {
			continue
		}
		qc, err := QuoteIdent(c)
		if err != nil {
			return Statement{}, err
		}
		ph, err := w.arg(row[c])
		if err != nil {
			return Statement{}, err
		}
		sets = append(sets, qc+" = "+ph)
	}
	idPh, err := w.arg(row[idField])
	if err != nil {
		return Statement{}, err
	}
	vPh, err := w.arg(expected)
	if err != nil {
		return Statement{}, err
	}

	fmt.Fprintf(&w.sb, "UPDATE %s SET %s WHERE %s = %s AND %s = %s RETURNING *",
		qt, strings.Join(sets, ", "), qid, idPh, qv, vPh)
	return w.statement(), nil
}

// Delete renders a DELETE by identifier.
func (d Dialect) Delete(table, idField string, key any) (Statement, error) {
	qt, err := QuoteIdent(table)
	if err != nil {
		return Statement{}, err
	}
	qid, err := QuoteIdent(idField)
	if err != nil {
		return Statement{}, err
	}

	w := &writer{d: d}
	ph, err := w.arg(key)
	if err != nil {
		return Statement{}, err
	}
	fmt.Fprintf(&w.sb, "DELETE FROM %s WHERE %s = %s", qt, qid, ph)
	return w.statement(), nil
}

func (w *writer) where(pred predicate.Node) error {
	if pred == nil {
		return nil
	}
	w.sb.WriteString(" WHERE ")
	return w.node(pred)
}

func (w *writer) orderBy(order query.Sort) error {
	if len(order) == 0 {
		return nil
	}
	w.sb.WriteString(" ORDER BY ")
	for i, o := range order {
		if i > 0 {
			w.sb.WriteString(", ")
		}
		expr, err := w.column(o.Path)
		if err != nil {
			return err
		}
		if o.Direction == query.Descending {
			w.sb.WriteString(expr + " DESC NULLS FIRST")
		} else {
			w.sb.WriteString(expr + " ASC NULLS LAST")
		}
	}
	return nil
}

func (w *writer) node(n predicate.Node) error {
	switch t := n.(type) {
	case *predicate.Comparison:
		return w.comparison(t)
	case *predicate.Conjunction:
		return w.group(t.Nodes, " AND ")
	case *predicate.Disjunction:
		return w.group(t.Nodes, " OR ")
	case *predicate.Negation:
		w.sb.WriteString("NOT (")
		if err := w.node(t.Node); err != nil {
			return err
		}
		w.sb.WriteString(")")
		return nil
	}
	return fmt.Errorf("unsupported predicate node %T", n)
}

func (w *writer) group(nodes []predicate.Node, sep string) error {
	w.sb.WriteString("(")
	for i, n := range nodes {
		if i > 0 {
			w.sb.WriteString(sep)
		}
		if err := w.node(n); err != nil {
			return err
		}
	}
	w.sb.WriteString(")")
	return nil
}

var comparisonSQL = map[predicate.Operator]string{
	predicate.OpEquals:             "=",
	predicate.OpNotEquals:          "<>",
	predicate.OpGreaterThan:        ">",
	predicate.OpGreaterThanOrEqual: ">=",
	predicate.OpLessThan:           "<",
	predicate.OpLessThanOrEqual:    "<=",
}

func (w *writer) comparison(c *predicate.Comparison) error {
	if c.Operand.Param {
		return fmt.Errorf("unbound parameter %d on %s", c.Operand.Slot, c.Path)
	}

	expr, err := w.column(c.Path)
	if err != nil {
		return err
	}

	switch c.Op {
	case predicate.OpIsNull:
		w.sb.WriteString(expr + " IS NULL")
		return nil
	case predicate.OpIsNotNull:
		w.sb.WriteString(expr + " IS NOT NULL")
		return nil
	case predicate.OpContains, predicate.OpStartsWith, predicate.OpEndsWith:
		s, _ := c.Operand.Value.(string)
		ph, err := w.arg(w.d.pattern(c.Op, s))
		if err != nil {
			return err
		}
		w.sb.WriteString(w.d.textMatch(expr, ph))
		return nil
	case predicate.OpIn:
		values, _ := c.Operand.Value.([]any)
		if len(values) == 0 {
			w.sb.WriteString("1 = 0")
			return nil
		}
		phs := make([]string, len(values))
		for i, v := range values {
			ph, err := w.arg(v)
			if err != nil {
				return err
			}
			phs[i] = ph
		}
		w.sb.WriteString(expr + " IN (" + strings.Join(phs, ", ") + ")")
		return nil
	}

	sqlOp, ok := comparisonSQL[c.Op]
	if !ok {
		return fmt.Errorf("unsupported operator %s", c.Op)
	}
	ph, err := w.arg(c.Operand.Value)
	if err != nil {
		return err
	}
	w.sb.WriteString(expr + " " + sqlOp + " " + ph)
	return nil
}

func (w *writer) column(p predicate.Path) (string, error) {
	if p.Relation == nil {
		return QuoteIdent(p.Field.Name)
	}
	rel, err := QuoteIdent(p.Relation.Name)
	if err != nil {
		return "", err
	}
	if !identPattern.MatchString(p.Field.Name) {
		return "", fmt.Errorf("invalid identifier %q", p.Field.Name)
	}
	return w.d.jsonField(rel, p.Field.Name, p.Field.Kind), nil
}

func sortedColumns(row entity.Row) []string {
	columns := make([]string, 0, len(row))
	for c := range row {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return columns
}

// SequenceTable holds per-table identifier counters for stores that do not
// assign identifiers on insert.
const SequenceTable = "repository_sequences"

// CreateSequences renders the DDL for SequenceTable.
func (d Dialect) CreateSequences() string {
	return `CREATE TABLE IF NOT EXISTS "` + SequenceTable + `" (name TEXT PRIMARY KEY, value BIGINT NOT NULL)`
}

// NextSequence renders an atomic increment of the counter for table.
func (d Dialect) NextSequence(table string) Statement {
	return Statement{
		SQL: `INSERT INTO "` + SequenceTable + `" (name, value) VALUES (` + d.placeholder(1) + `, 1) ` +
			`ON CONFLICT (name) DO UPDATE SET value = "` + SequenceTable + `".value + 1 RETURNING value`,
		Args: []any{table},
	}
}

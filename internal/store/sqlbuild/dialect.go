// Package sqlbuild renders predicate trees and row writes as parameterized
// SQL for the supported relational dialects.
package sqlbuild

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/predicate"
)

// TimeLayout is the fixed-width UTC layout used where timestamps are stored
// as text, so lexical order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Dialect captures the syntax differences between relational stores.
type Dialect struct {
	Name string

	placeholder func(n int) string
	jsonField   func(column, key string, kind entity.Kind) string
	textMatch   func(expr, placeholder string) string
	pattern     func(op predicate.Operator, s string) string
	encode      func(v any) (any, error)
	unbounded   string
}

// Postgres renders $n placeholders and jsonb field access.
var Postgres = Dialect{
	Name:        "postgres",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	jsonField: func(column, key string, kind entity.Kind) string {
		expr := fmt.Sprintf("(%s->>'%s')", column, key)
		if cast := postgresCasts[kind]; cast != "" {
			return "(" + expr + "::" + cast + ")"
		}
		return expr
	},
	textMatch: func(expr, ph string) string { return expr + " LIKE " + ph + ` ESCAPE '\'` },
	pattern:   likePattern,
	encode:    encodePostgres,
	unbounded: "ALL",
}

// SQLite renders ? placeholders, json_extract field access and GLOB matching,
// which unlike LIKE is case-sensitive.
var SQLite = Dialect{
	Name:        "sqlite",
	placeholder: func(int) string { return "?" },
	jsonField: func(column, key string, _ entity.Kind) string {
		return fmt.Sprintf("json_extract(%s, '$.%s')", column, key)
	},
	textMatch: func(expr, ph string) string { return expr + " GLOB " + ph },
	pattern:   globPattern,
	encode:    encodeSQLite,
	unbounded: "-1",
}

var postgresCasts = map[entity.Kind]string{
	entity.KindInt:   "bigint",
	entity.KindFloat: "double precision",
	entity.KindBool:  "boolean",
	entity.KindTime:  "timestamptz",
	entity.KindUUID:  "uuid",
}

// QuoteIdent quotes a possibly schema-qualified identifier.
func QuoteIdent(name string) (string, error) {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if !identPattern.MatchString(p) {
			return "", fmt.Errorf("invalid identifier %q", name)
		}
		parts[i] = `"` + p + `"`
	}
	return strings.Join(parts, "."), nil
}

func likePattern(op predicate.Operator, s string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return wrapPattern(op, escaped, "%")
}

func globPattern(op predicate.Operator, s string) string {
	escaped := strings.NewReplacer(`*`, `[*]`, `?`, `[?]`, `[`, `[[]`).Replace(s)
	return wrapPattern(op, escaped, "*")
}

func wrapPattern(op predicate.Operator, s, wildcard string) string {
	switch op {
	case predicate.OpStartsWith:
		return s + wildcard
	case predicate.OpEndsWith:
		return wildcard + s
	}
	return wildcard + s + wildcard
}

func encodePostgres(v any) (any, error) {
	if row, ok := v.(entity.Row); ok {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("encode relation: %w", err)
		}
		return string(data), nil
	}
	return v, nil
}

func encodeSQLite(v any) (any, error) {
	switch t := v.(type) {
	case entity.Row:
		data, err := json.Marshal(textual(t))
		if err != nil {
			return nil, fmt.Errorf("encode relation: %w", err)
		}
		return string(data), nil
	case time.Time:
		return t.UTC().Format(TimeLayout), nil
	case uuid.UUID:
		return t.String(), nil
	}
	return v, nil
}

// textual converts nested times and UUIDs to their stored text form.
func textual(row entity.Row) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		switch t := v.(type) {
		case time.Time:
			out[k] = t.UTC().Format(TimeLayout)
		case uuid.UUID:
			out[k] = t.String()
		case entity.Row:
			out[k] = textual(t)
		default:
			out[k] = v
		}
	}
	return out
}

package predicate

import (
	"bytes"
	"cmp"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kneutral-org/alert-repository/internal/entity"
)

type truth int8

const (
	unknown truth = iota
	isFalse
	isTrue
)

// Evaluate reports whether row satisfies n. A nil tree matches every row.
// Comparisons against null are unknown and never match, as in SQL.
func Evaluate(n Node, row entity.Row) bool {
	if n == nil {
		return true
	}
	return eval(n, row) == isTrue
}

func eval(n Node, row entity.Row) truth {
	switch t := n.(type) {
	case *Comparison:
		return evalComparison(t, row)
	case *Conjunction:
		result := isTrue
		for _, child := range t.Nodes {
			switch eval(child, row) {
			case isFalse:
				return isFalse
			case unknown:
				result = unknown
			}
		}
		return result
	case *Disjunction:
		result := isFalse
		for _, child := range t.Nodes {
			switch eval(child, row) {
			case isTrue:
				return isTrue
			case unknown:
				result = unknown
			}
		}
		return result
	case *Negation:
		switch eval(t.Node, row) {
		case isTrue:
			return isFalse
		case isFalse:
			return isTrue
		}
	}
	return unknown
}

func evalComparison(c *Comparison, row entity.Row) truth {
	v := c.Path.Value(row)

	switch c.Op {
	case OpIsNull:
		return boolTruth(v == nil)
	case OpIsNotNull:
		return boolTruth(v != nil)
	}
	if v == nil {
		return unknown
	}

	operand := c.Operand.Value
	switch c.Op {
	case OpEquals:
		return boolTruth(Compare(v, operand) == 0)
	case OpNotEquals:
		return boolTruth(Compare(v, operand) != 0)
	case OpGreaterThan:
		return boolTruth(Compare(v, operand) > 0)
	case OpGreaterThanOrEqual:
		return boolTruth(Compare(v, operand) >= 0)
	case OpLessThan:
		return boolTruth(Compare(v, operand) < 0)
	case OpLessThanOrEqual:
		return boolTruth(Compare(v, operand) <= 0)
	case OpContains:
		return boolTruth(strings.Contains(asString(v), asString(operand)))
	case OpStartsWith:
		return boolTruth(strings.HasPrefix(asString(v), asString(operand)))
	case OpEndsWith:
		return boolTruth(strings.HasSuffix(asString(v), asString(operand)))
	case OpIn:
		values, _ := operand.([]any)
		for _, candidate := range values {
			if candidate != nil && Compare(v, candidate) == 0 {
				return isTrue
			}
		}
		return isFalse
	}
	return unknown
}

// Compare orders two canonical values of the same kind. Values of
// different types order by type name so sorting stays total.
func Compare(a, b any) int {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			return cmp.Compare(boolRank(x), boolRank(y))
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case uuid.UUID:
		if y, ok := b.(uuid.UUID); ok {
			return bytes.Compare(x[:], y[:])
		}
	}
	return strings.Compare(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func boolTruth(b bool) truth {
	if b {
		return isTrue
	}
	return isFalse
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

package predicate

import (
	"strconv"

	"github.com/kneutral-org/alert-repository/internal/entity"
)

// Operator is a comparison operator.
type Operator int

const (
	OpEquals Operator = iota + 1
	OpNotEquals
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpContains
	OpStartsWith
	OpEndsWith
	OpIsNull
	OpIsNotNull
	OpIn
)

var operatorNames = map[Operator]string{
	OpEquals:             "eq",
	OpNotEquals:          "neq",
	OpGreaterThan:        "gt",
	OpGreaterThanOrEqual: "gte",
	OpLessThan:           "lt",
	OpLessThanOrEqual:    "lte",
	OpContains:           "contains",
	OpStartsWith:         "starts_with",
	OpEndsWith:           "ends_with",
	OpIsNull:             "is_null",
	OpIsNotNull:          "is_not_null",
	OpIn:                 "in",
}

func (o Operator) String() string {
	if name, ok := operatorNames[o]; ok {
		return name
	}
	return "op(" + strconv.Itoa(int(o)) + ")"
}

// Unary reports whether the operator takes no operand.
func (o Operator) Unary() bool {
	return o == OpIsNull || o == OpIsNotNull
}

// Ordering reports whether the operator compares by order.
func (o Operator) Ordering() bool {
	switch o {
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		return true
	}
	return false
}

// Textual reports whether the operator matches substrings.
func (o Operator) Textual() bool {
	switch o {
	case OpContains, OpStartsWith, OpEndsWith:
		return true
	}
	return false
}

// Flip returns the operator with its operands swapped: a < b becomes b > a.
func (o Operator) Flip() Operator {
	switch o {
	case OpGreaterThan:
		return OpLessThan
	case OpGreaterThanOrEqual:
		return OpLessThanOrEqual
	case OpLessThan:
		return OpGreaterThan
	case OpLessThanOrEqual:
		return OpGreaterThanOrEqual
	}
	return o
}

// Accepts reports whether the operator can be applied to the field.
func (o Operator) Accepts(f *entity.Field) bool {
	switch {
	case o.Unary():
		return true
	case o.Ordering():
		return f.Kind.Ordered()
	case o.Textual():
		return f.Kind == entity.KindString
	case o == OpEquals, o == OpNotEquals, o == OpIn:
		return f.Kind.Scalar()
	}
	return false
}

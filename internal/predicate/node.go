// Package predicate models filter trees over entity fields.
//
// A tree is built once per query against an entity descriptor, with
// parameter slots standing in for call-time arguments. Bind produces a
// concrete copy per invocation; the template is never mutated.
package predicate

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/kneutral-org/alert-repository/internal/entity"
)

// Node is a predicate tree node.
type Node interface {
	fmt.Stringer
	isNode()
}

// Path addresses a field, directly or through one relation.
type Path struct {
	// Relation is the traversed relation field, nil for direct fields.
	Relation *entity.Field
	Field    *entity.Field
}

// Keys returns the row keys leading to the field.
func (p Path) Keys() []string {
	if p.Relation != nil {
		return []string{p.Relation.Name, p.Field.Name}
	}
	return []string{p.Field.Name}
}

func (p Path) String() string {
	return strings.Join(p.Keys(), ".")
}

// Value returns the value the path addresses in row, nil when absent.
func (p Path) Value(row entity.Row) any {
	if p.Relation == nil {
		return row[p.Field.Name]
	}
	switch nested := row[p.Relation.Name].(type) {
	case entity.Row:
		return nested[p.Field.Name]
	case map[string]any:
		return nested[p.Field.Name]
	}
	return nil
}

// Operand is either a literal value or a parameter slot.
type Operand struct {
	Param bool
	Slot  int
	// Value holds the canonical literal; a []any for OpIn.
	Value any
}

// Literal returns a literal operand.
func Literal(v any) Operand { return Operand{Value: v} }

// Param returns a parameter slot operand.
func Param(slot int) Operand { return Operand{Param: true, Slot: slot} }

func (o Operand) String() string {
	if o.Param {
		return fmt.Sprintf("?%d", o.Slot)
	}
	if s, ok := o.Value.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", o.Value)
}

// Comparison tests one field against an operand.
type Comparison struct {
	Path    Path
	Op      Operator
	Operand Operand
}

// Conjunction matches when all children match.
type Conjunction struct{ Nodes []Node }

// Disjunction matches when any child matches.
type Disjunction struct{ Nodes []Node }

// Negation inverts its child.
type Negation struct{ Node Node }

func (*Comparison) isNode()  {}
func (*Conjunction) isNode() {}
func (*Disjunction) isNode() {}
func (*Negation) isNode()    {}

func (c *Comparison) String() string {
	if c.Op.Unary() {
		return fmt.Sprintf("%s %s", c.Path, c.Op)
	}
	return fmt.Sprintf("%s %s %s", c.Path, c.Op, c.Operand)
}

func (c *Conjunction) String() string { return joinNodes(c.Nodes, " AND ") }
func (d *Disjunction) String() string { return joinNodes(d.Nodes, " OR ") }
func (n *Negation) String() string    { return "NOT " + n.Node.String() }

func joinNodes(nodes []Node, sep string) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// NewComparison validates op against the path's field and normalizes a
// literal operand to the field kind. A nil literal turns equality into a
// null check.
func NewComparison(path Path, op Operator, operand Operand) (*Comparison, error) {
	if !op.Unary() && !operand.Param && isNil(operand.Value) {
		switch op {
		case OpEquals:
			op = OpIsNull
		case OpNotEquals:
			op = OpIsNotNull
		default:
			return nil, fmt.Errorf("%w: %s %s requires a value", ErrIncompatibleOperator, path, op)
		}
	}
	if !op.Accepts(path.Field) {
		return nil, fmt.Errorf("%w: %s cannot apply to %s (%s)", ErrIncompatibleOperator, op, path, path.Field.Kind)
	}
	if op.Unary() || operand.Param {
		if op.Unary() {
			operand = Operand{}
		}
		return &Comparison{Path: path, Op: op, Operand: operand}, nil
	}

	value, err := normalizeOperand(path.Field, op, operand.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrIncompatibleOperator, path, op, err)
	}
	return &Comparison{Path: path, Op: op, Operand: Literal(value)}, nil
}

// And joins nodes into a conjunction, flattening nested conjunctions.
func And(nodes ...Node) Node {
	return join(nodes, func(n Node) ([]Node, bool) {
		c, ok := n.(*Conjunction)
		if !ok {
			return nil, false
		}
		return c.Nodes, true
	}, func(ns []Node) Node { return &Conjunction{Nodes: ns} })
}

// Or joins nodes into a disjunction, flattening nested disjunctions.
func Or(nodes ...Node) Node {
	return join(nodes, func(n Node) ([]Node, bool) {
		d, ok := n.(*Disjunction)
		if !ok {
			return nil, false
		}
		return d.Nodes, true
	}, func(ns []Node) Node { return &Disjunction{Nodes: ns} })
}

// Not negates n, collapsing double negation.
func Not(n Node) Node {
	if neg, ok := n.(*Negation); ok {
		return neg.Node
	}
	return &Negation{Node: n}
}

func join(nodes []Node, unwrap func(Node) ([]Node, bool), wrap func([]Node) Node) Node {
	var flat []Node
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if children, ok := unwrap(n); ok {
			flat = append(flat, children...)
			continue
		}
		flat = append(flat, n)
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}
	return wrap(flat)
}

// Walk calls fn for every comparison in the tree, depth first.
func Walk(n Node, fn func(*Comparison) error) error {
	switch t := n.(type) {
	case nil:
		return nil
	case *Comparison:
		return fn(t)
	case *Conjunction:
		return walkAll(t.Nodes, fn)
	case *Disjunction:
		return walkAll(t.Nodes, fn)
	case *Negation:
		return Walk(t.Node, fn)
	}
	return fmt.Errorf("unknown predicate node %T", n)
}

func walkAll(nodes []Node, fn func(*Comparison) error) error {
	for _, n := range nodes {
		if err := Walk(n, fn); err != nil {
			return err
		}
	}
	return nil
}

// Slots returns the number of parameter slots the tree expects.
func Slots(n Node) int {
	slots := 0
	_ = Walk(n, func(c *Comparison) error {
		if c.Operand.Param && c.Operand.Slot+1 > slots {
			slots = c.Operand.Slot + 1
		}
		return nil
	})
	return slots
}

// normalizeOperand converts v for comparison against f. OpIn takes any
// slice or array and yields []any.
func normalizeOperand(f *entity.Field, op Operator, v any) (any, error) {
	if op != OpIn {
		n, err := f.Kind.Normalize(v)
		if err != nil {
			return nil, err
		}
		if n == nil {
			return nil, fmt.Errorf("%s requires a non-null value", op)
		}
		return n, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%s requires a collection, got %T", op, v)
	}
	values := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		n, err := f.Kind.Normalize(rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		values = append(values, n)
	}
	return values, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

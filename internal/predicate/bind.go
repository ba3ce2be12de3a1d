package predicate

import (
	"fmt"
)

// Bind returns a copy of template with every parameter slot replaced by the
// corresponding argument, normalized to the slot's field kind. A nil
// argument turns equality into a null check and inequality into a
// not-null check; for any other operator it is rejected.
func Bind(template Node, args []any) (Node, error) {
	if template == nil {
		return nil, nil
	}
	if want := Slots(template); want > len(args) {
		return nil, fmt.Errorf("%w: expected %d arguments, got %d", ErrInvalidParameter, want, len(args))
	}
	return bind(template, args)
}

func bind(n Node, args []any) (Node, error) {
	switch t := n.(type) {
	case *Comparison:
		return bindComparison(t, args)
	case *Conjunction:
		nodes, err := bindAll(t.Nodes, args)
		if err != nil {
			return nil, err
		}
		return &Conjunction{Nodes: nodes}, nil
	case *Disjunction:
		nodes, err := bindAll(t.Nodes, args)
		if err != nil {
			return nil, err
		}
		return &Disjunction{Nodes: nodes}, nil
	case *Negation:
		inner, err := bind(t.Node, args)
		if err != nil {
			return nil, err
		}
		return &Negation{Node: inner}, nil
	}
	return nil, fmt.Errorf("unknown predicate node %T", n)
}

func bindAll(nodes []Node, args []any) ([]Node, error) {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		b, err := bind(n, args)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func bindComparison(c *Comparison, args []any) (Node, error) {
	if !c.Operand.Param {
		return c, nil
	}

	arg := args[c.Operand.Slot]
	if isNil(arg) {
		switch c.Op {
		case OpEquals:
			return &Comparison{Path: c.Path, Op: OpIsNull}, nil
		case OpNotEquals:
			return &Comparison{Path: c.Path, Op: OpIsNotNull}, nil
		}
		return nil, fmt.Errorf("%w: argument %d for %s %s is nil", ErrInvalidParameter, c.Operand.Slot, c.Path, c.Op)
	}

	value, err := normalizeOperand(c.Path.Field, c.Op, arg)
	if err != nil {
		return nil, fmt.Errorf("%w: argument %d for %s %s: %v", ErrInvalidParameter, c.Operand.Slot, c.Path, c.Op, err)
	}
	return &Comparison{Path: c.Path, Op: c.Op, Operand: Literal(value)}, nil
}

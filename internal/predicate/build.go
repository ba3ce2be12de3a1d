package predicate

import (
	"fmt"

	"github.com/kneutral-org/alert-repository/internal/entity"
)

// Token is one (field path, operator) criterion decoded from a method name.
type Token struct {
	// Or joins this token to the previous one with a disjunction instead of a conjunction.
	Or   bool
	Path string
	Op   Operator
	// Negate wraps the comparison in a negation (NotIn, NotContaining).
	Negate bool
	// Range expands into a pair of inclusive bounds consuming two slots.
	Range bool
	// Fixed carries a literal operand (True, False) that consumes no slot.
	Fixed    any
	HasFixed bool
}

// Build assembles tokens into a tree against d. Conjunctions bind tighter
// than disjunctions; parameter slots are numbered in token order.
func Build(d *entity.Descriptor, tokens []Token) (Node, error) {
	var (
		groups  []Node
		current []Node
		slot    int
	)

	for i, tok := range tokens {
		if tok.Or && i > 0 {
			groups = append(groups, And(current...))
			current = nil
		}

		node, used, err := buildToken(d, tok, slot)
		if err != nil {
			return nil, err
		}
		slot += used
		current = append(current, node)
	}
	if len(current) > 0 {
		groups = append(groups, And(current...))
	}

	return Or(groups...), nil
}

func buildToken(d *entity.Descriptor, tok Token, slot int) (Node, int, error) {
	path, err := ResolvePath(d, tok.Path)
	if err != nil {
		return nil, 0, err
	}

	var (
		node Node
		used int
	)
	switch {
	case tok.Range:
		lower, err := NewComparison(path, OpGreaterThanOrEqual, Param(slot))
		if err != nil {
			return nil, 0, rangeError(path, err)
		}
		upper, err := NewComparison(path, OpLessThanOrEqual, Param(slot+1))
		if err != nil {
			return nil, 0, rangeError(path, err)
		}
		node, used = And(lower, upper), 2
	case tok.HasFixed:
		if path.Field.Kind != entity.KindBool {
			return nil, 0, fmt.Errorf("%w: %s is not boolean", ErrIncompatibleOperator, path)
		}
		c, err := NewComparison(path, tok.Op, Literal(tok.Fixed))
		if err != nil {
			return nil, 0, err
		}
		node = c
	case tok.Op.Unary():
		c, err := NewComparison(path, tok.Op, Operand{})
		if err != nil {
			return nil, 0, err
		}
		node = c
	default:
		c, err := NewComparison(path, tok.Op, Param(slot))
		if err != nil {
			return nil, 0, err
		}
		node, used = c, 1
	}

	if tok.Negate {
		node = Not(node)
	}
	return node, used, nil
}

func rangeError(path Path, err error) error {
	return fmt.Errorf("%w: between on %s", err, path)
}

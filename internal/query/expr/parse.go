// Package expr turns CEL filter expressions into predicate trees.
//
// Expressions are parsed, never evaluated: the CEL AST is walked and each
// supported construct maps onto a predicate node, so the same expression
// runs against every backing store. Arguments are referenced as args[i].
//
//	severity == args[0] && service.name.startsWith("db") && has(service.team)
package expr

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/predicate"
)

// ErrInvalidExpression is returned for expressions outside the supported subset.
var ErrInvalidExpression = errors.New("invalid expression")

// argsIdent is the identifier expressions use to reference call arguments.
const argsIdent = "args"

var parserEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv()
})

var comparisonOps = map[string]predicate.Operator{
	operators.Equals:        predicate.OpEquals,
	operators.NotEquals:     predicate.OpNotEquals,
	operators.Greater:       predicate.OpGreaterThan,
	operators.GreaterEquals: predicate.OpGreaterThanOrEqual,
	operators.Less:          predicate.OpLessThan,
	operators.LessEquals:    predicate.OpLessThanOrEqual,
}

var textualOps = map[string]predicate.Operator{
	"contains":   predicate.OpContains,
	"startsWith": predicate.OpStartsWith,
	"endsWith":   predicate.OpEndsWith,
}

// Parse converts text into a predicate tree over d. Parameter slots must be
// numbered densely from args[0].
func Parse(d *entity.Descriptor, text string) (predicate.Node, error) {
	env, err := parserEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}

	ast, issues := env.Parse(text)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, issues.Err())
	}

	p := &parser{d: d, slots: make(map[int]bool)}
	node, err := p.node(ast.NativeRep().Expr())
	if err != nil {
		return nil, err
	}
	if err := p.checkSlots(); err != nil {
		return nil, err
	}
	return node, nil
}

type parser struct {
	d     *entity.Descriptor
	slots map[int]bool
}

func (p *parser) node(e celast.Expr) (predicate.Node, error) {
	switch e.Kind() {
	case celast.CallKind:
		return p.call(e.AsCall())
	case celast.SelectKind:
		sel := e.AsSelect()
		if sel.IsTestOnly() {
			base, ok := pathText(sel.Operand())
			if !ok {
				return nil, invalid("has() requires a field path")
			}
			return p.compare(base+"."+sel.FieldName(), predicate.OpIsNotNull, nil)
		}
		return p.flag(e)
	case celast.IdentKind:
		return p.flag(e)
	}
	return nil, invalid("unsupported construct %s", kindName(e))
}

// flag treats a bare boolean field reference as "field == true".
func (p *parser) flag(e celast.Expr) (predicate.Node, error) {
	text, ok := pathText(e)
	if !ok {
		return nil, invalid("unsupported construct %s", kindName(e))
	}
	path, err := predicate.ResolvePath(p.d, text)
	if err != nil {
		return nil, err
	}
	if path.Field.Kind != entity.KindBool {
		return nil, invalid("%s is not boolean", text)
	}
	return predicate.NewComparison(path, predicate.OpEquals, predicate.Literal(true))
}

func (p *parser) call(call celast.CallExpr) (predicate.Node, error) {
	fn := call.FunctionName()
	args := call.Args()

	switch fn {
	case operators.LogicalAnd, operators.LogicalOr:
		nodes := make([]predicate.Node, 0, len(args))
		for _, a := range args {
			n, err := p.node(a)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
		if fn == operators.LogicalAnd {
			return predicate.And(nodes...), nil
		}
		return predicate.Or(nodes...), nil
	case operators.LogicalNot:
		inner, err := p.node(args[0])
		if err != nil {
			return nil, err
		}
		return predicate.Not(inner), nil
	case operators.In:
		text, ok := pathText(args[0])
		if !ok {
			return nil, invalid("left side of in must be a field path")
		}
		return p.compare(text, predicate.OpIn, args[1])
	}

	if op, ok := comparisonOps[fn]; ok {
		if text, ok := pathText(args[0]); ok {
			return p.compare(text, op, args[1])
		}
		if text, ok := pathText(args[1]); ok {
			return p.compare(text, op.Flip(), args[0])
		}
		return nil, invalid("comparison %s needs a field path on one side", fn)
	}

	if op, ok := textualOps[fn]; ok && call.IsMemberFunction() && len(args) == 1 {
		text, ok := pathText(call.Target())
		if !ok {
			return nil, invalid("%s must be called on a field path", fn)
		}
		return p.compare(text, op, args[0])
	}

	return nil, invalid("unsupported function %s", fn)
}

func (p *parser) compare(text string, op predicate.Operator, operand celast.Expr) (predicate.Node, error) {
	path, err := predicate.ResolvePath(p.d, text)
	if err != nil {
		return nil, err
	}
	if op.Unary() {
		return predicate.NewComparison(path, op, predicate.Operand{})
	}

	value, err := p.operand(operand)
	if err != nil {
		return nil, err
	}
	return predicate.NewComparison(path, op, value)
}

func (p *parser) operand(e celast.Expr) (predicate.Operand, error) {
	switch e.Kind() {
	case celast.LiteralKind:
		v, err := literalValue(e.AsLiteral())
		if err != nil {
			return predicate.Operand{}, err
		}
		return predicate.Literal(v), nil
	case celast.ListKind:
		var values []any
		for _, el := range e.AsList().Elements() {
			if el.Kind() != celast.LiteralKind {
				return predicate.Operand{}, invalid("list elements must be literals")
			}
			v, err := literalValue(el.AsLiteral())
			if err != nil {
				return predicate.Operand{}, err
			}
			values = append(values, v)
		}
		return predicate.Literal(values), nil
	case celast.CallKind:
		return p.callOperand(e.AsCall())
	}
	return predicate.Operand{}, invalid("unsupported operand %s", kindName(e))
}

func (p *parser) callOperand(call celast.CallExpr) (predicate.Operand, error) {
	args := call.Args()

	switch call.FunctionName() {
	case operators.Index:
		if args[0].Kind() != celast.IdentKind || args[0].AsIdent() != argsIdent || args[1].Kind() != celast.LiteralKind {
			return predicate.Operand{}, invalid("parameters must be written args[<int>]")
		}
		idx, ok := args[1].AsLiteral().(types.Int)
		if !ok || idx < 0 {
			return predicate.Operand{}, invalid("parameter index must be a non-negative integer")
		}
		p.slots[int(idx)] = true
		return predicate.Param(int(idx)), nil
	case operators.Negate:
		if len(args) == 1 && args[0].Kind() == celast.LiteralKind {
			switch v := args[0].AsLiteral().(type) {
			case types.Int:
				return predicate.Literal(-int64(v)), nil
			case types.Double:
				return predicate.Literal(-float64(v)), nil
			}
		}
	case "timestamp":
		if len(args) == 1 && args[0].Kind() == celast.LiteralKind {
			if s, ok := args[0].AsLiteral().(types.String); ok {
				t, err := time.Parse(time.RFC3339Nano, string(s))
				if err != nil {
					return predicate.Operand{}, invalid("bad timestamp %q: %v", string(s), err)
				}
				return predicate.Literal(t.UTC()), nil
			}
		}
	}
	return predicate.Operand{}, invalid("unsupported operand function %s", call.FunctionName())
}

func (p *parser) checkSlots() error {
	for i := 0; i < len(p.slots); i++ {
		if !p.slots[i] {
			return invalid("parameter args[%d] is never referenced", i)
		}
	}
	return nil
}

// pathText renders an identifier or select chain as a dotted path.
func pathText(e celast.Expr) (string, bool) {
	switch e.Kind() {
	case celast.IdentKind:
		name := e.AsIdent()
		if name == argsIdent {
			return "", false
		}
		return name, true
	case celast.SelectKind:
		sel := e.AsSelect()
		if sel.IsTestOnly() {
			return "", false
		}
		base, ok := pathText(sel.Operand())
		if !ok {
			return "", false
		}
		return base + "." + sel.FieldName(), true
	}
	return "", false
}

func literalValue(v ref.Val) (any, error) {
	switch t := v.(type) {
	case types.Null:
		return nil, nil
	case types.Bool:
		return bool(t), nil
	case types.Int:
		return int64(t), nil
	case types.Uint:
		return uint64(t), nil
	case types.Double:
		return float64(t), nil
	case types.String:
		return string(t), nil
	}
	return nil, invalid("unsupported literal of type %s", v.Type().TypeName())
}

func kindName(e celast.Expr) string {
	switch e.Kind() {
	case celast.CallKind:
		return "call " + e.AsCall().FunctionName()
	case celast.ComprehensionKind:
		return "comprehension"
	case celast.IdentKind:
		return "identifier " + e.AsIdent()
	case celast.ListKind:
		return "list"
	case celast.LiteralKind:
		return "literal"
	case celast.MapKind:
		return "map"
	case celast.SelectKind:
		return "select"
	case celast.StructKind:
		return "struct"
	}
	return "expression"
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidExpression, fmt.Sprintf(format, args...))
}

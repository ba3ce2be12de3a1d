package mongo

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/predicate"
	"github.com/kneutral-org/alert-repository/internal/query"
)

const documentID = "_id"

func key(p predicate.Path) string {
	if p.Relation != nil {
		return p.Relation.Name + "." + p.Field.Name
	}
	return p.Field.Name
}

// filter converts a bound predicate tree into a query document.
func filter(n predicate.Node) (bson.D, error) {
	if n == nil {
		return bson.D{}, nil
	}

	switch c := n.(type) {
	case *predicate.Comparison:
		return comparison(c)
	case *predicate.Conjunction:
		parts, err := filters(c.Nodes)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$and", Value: parts}}, nil
	case *predicate.Disjunction:
		parts, err := filters(c.Nodes)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$or", Value: parts}}, nil
	case *predicate.Negation:
		inner, err := filter(c.Node)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$nor", Value: bson.A{inner}}}, nil
	}
	return nil, fmt.Errorf("unsupported predicate node %T", n)
}

func filters(nodes []predicate.Node) (bson.A, error) {
	out := make(bson.A, 0, len(nodes))
	for _, n := range nodes {
		f, err := filter(n)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

var comparisonOps = map[predicate.Operator]string{
	predicate.OpGreaterThan:        "$gt",
	predicate.OpGreaterThanOrEqual: "$gte",
	predicate.OpLessThan:           "$lt",
	predicate.OpLessThanOrEqual:    "$lte",
}

func comparison(c *predicate.Comparison) (bson.D, error) {
	if c.Operand.Param {
		return nil, fmt.Errorf("unbound parameter %d on %s", c.Operand.Slot, c.Path)
	}
	k := key(c.Path)
	v := toStored(c.Operand.Value)

	var cond any
	switch c.Op {
	case predicate.OpEquals:
		cond = bson.D{{Key: "$eq", Value: v}}
	case predicate.OpNotEquals:
		// Null never compares unequal.
		cond = bson.D{{Key: "$nin", Value: bson.A{v, nil}}}
	case predicate.OpIsNull:
		cond = bson.D{{Key: "$eq", Value: nil}}
	case predicate.OpIsNotNull:
		cond = bson.D{{Key: "$ne", Value: nil}}
	case predicate.OpIn:
		values, _ := v.([]any)
		cond = bson.D{{Key: "$in", Value: bson.A(values)}}
	case predicate.OpContains, predicate.OpStartsWith, predicate.OpEndsWith:
		s, _ := c.Operand.Value.(string)
		cond = bson.D{{Key: "$regex", Value: primitive.Regex{Pattern: pattern(c.Op, s)}}}
	default:
		op, ok := comparisonOps[c.Op]
		if !ok {
			return nil, fmt.Errorf("unsupported operator %s", c.Op)
		}
		cond = bson.D{{Key: op, Value: v}}
	}
	return bson.D{{Key: k, Value: cond}}, nil
}

func pattern(op predicate.Operator, s string) string {
	quoted := regexp.QuoteMeta(s)
	switch op {
	case predicate.OpStartsWith:
		return "^" + quoted
	case predicate.OpEndsWith:
		return quoted + "$"
	}
	return quoted
}

// sortStages renders order as stages that place nulls last ascending and
// first descending, which the native $sort does the other way round.
func sortStages(order query.Sort) (addFields, sort, unset bson.D) {
	addFields = bson.D{}
	sort = bson.D{}
	unset = bson.D{}
	for i, o := range order {
		k := key(o.Path)
		flag := "__null_" + strconv.Itoa(i)
		dir := 1
		if o.Direction == query.Descending {
			dir = -1
		}

		addFields = append(addFields, bson.E{Key: flag, Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$eq", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$" + k, nil}}}, nil}}},
			1, 0,
		}}}})
		sort = append(sort, bson.E{Key: flag, Value: dir}, bson.E{Key: k, Value: dir})
		unset = append(unset, bson.E{Key: flag, Value: 0})
	}
	return addFields, sort, unset
}

// toStored converts canonical values to their stored representation.
func toStored(v any) any {
	switch t := v.(type) {
	case uuid.UUID:
		return t.String()
	case time.Time:
		return t.UTC()
	case entity.Row:
		doc := make(bson.M, len(t))
		for k, val := range t {
			doc[k] = toStored(val)
		}
		return doc
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = toStored(val)
		}
		return out
	}
	return v
}

// fromStored converts decoded bson values to values entity kinds accept.
func fromStored(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.M:
		row := make(entity.Row, len(t))
		for k, val := range t {
			row[k] = fromStored(val)
		}
		return row
	case primitive.D:
		return fromStored(t.Map())
	case int32:
		return int64(t)
	}
	return v
}

// document builds the stored document for row. The identifier is kept
// under its own name as well as _id so filters and sorts address it alike.
func document(idField string, row entity.Row) bson.M {
	doc := make(bson.M, len(row)+1)
	for k, v := range row {
		doc[k] = toStored(v)
	}
	doc[documentID] = doc[idField]
	return doc
}

// fromDocument converts a decoded document back to a row.
func fromDocument(doc bson.M) entity.Row {
	row := make(entity.Row, len(doc))
	for k, v := range doc {
		if k == documentID {
			continue
		}
		row[k] = fromStored(v)
	}
	return row
}

// Package query compiles repository method names and expressions into
// executable query plans.
package query

import (
	"fmt"
	"strings"

	"github.com/kneutral-org/alert-repository/internal/predicate"
)

// Cardinality is the result shape of a query.
type Cardinality int

const (
	Many Cardinality = iota
	Single
	Page
	Count
	Existence
)

var cardinalityNames = map[Cardinality]string{
	Many:      "many",
	Single:    "single",
	Page:      "page",
	Count:     "count",
	Existence: "existence",
}

func (c Cardinality) String() string {
	if name, ok := cardinalityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("cardinality(%d)", int(c))
}

// ParseCardinality parses a cardinality name.
func ParseCardinality(s string) (Cardinality, error) {
	for c, name := range cardinalityNames {
		if strings.EqualFold(name, s) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown cardinality %q", s)
}

// Compiled is an immutable query plan. It is shared by every invocation
// and must not be modified.
type Compiled struct {
	Signature   string
	Entity      string
	Cardinality Cardinality
	// Predicate is the filter template; nil matches every row.
	Predicate predicate.Node
	// Sort is the compiled default order, applied before any request sort.
	Sort Sort
	// Limit caps the rows fetched; zero means unlimited.
	Limit int
	// Unique makes a single-result query fail when more than one row matches.
	Unique bool
	// Slots is the number of arguments the query expects.
	Slots int
}

func (c *Compiled) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", c.Cardinality, c.Entity)
	if c.Predicate != nil {
		fmt.Fprintf(&b, " WHERE %s", c.Predicate)
	}
	if len(c.Sort) > 0 {
		fmt.Fprintf(&b, " ORDER BY %s", c.Sort)
	}
	if c.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", c.Limit)
	}
	return b.String()
}

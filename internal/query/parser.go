package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/predicate"
)

// subjects maps the leading verb of a method name to its cardinality.
var subjects = map[string]Cardinality{
	"find":   Many,
	"read":   Many,
	"get":    Many,
	"query":  Many,
	"search": Many,
	"stream": Many,
	"count":  Count,
	"exists": Existence,
	"page":   Page,
}

type keyword struct {
	words    []string
	op       predicate.Operator
	negate   bool
	rng      bool
	fixed    any
	hasFixed bool
}

// keywords are matched against the tail of each criterion, longest first.
var keywords = []keyword{
	{words: []string{"Is", "Greater", "Than", "Equal"}, op: predicate.OpGreaterThanOrEqual},
	{words: []string{"Is", "Less", "Than", "Equal"}, op: predicate.OpLessThanOrEqual},
	{words: []string{"Greater", "Than", "Equal"}, op: predicate.OpGreaterThanOrEqual},
	{words: []string{"Less", "Than", "Equal"}, op: predicate.OpLessThanOrEqual},
	{words: []string{"Is", "Not", "Containing"}, op: predicate.OpContains, negate: true},
	{words: []string{"Is", "Starting", "With"}, op: predicate.OpStartsWith},
	{words: []string{"Is", "Ending", "With"}, op: predicate.OpEndsWith},
	{words: []string{"Is", "Greater", "Than"}, op: predicate.OpGreaterThan},
	{words: []string{"Is", "Less", "Than"}, op: predicate.OpLessThan},
	{words: []string{"Is", "Not", "Null"}, op: predicate.OpIsNotNull},
	{words: []string{"Is", "Not", "In"}, op: predicate.OpIn, negate: true},
	{words: []string{"Greater", "Than"}, op: predicate.OpGreaterThan},
	{words: []string{"Less", "Than"}, op: predicate.OpLessThan},
	{words: []string{"Not", "Containing"}, op: predicate.OpContains, negate: true},
	{words: []string{"Not", "Contains"}, op: predicate.OpContains, negate: true},
	{words: []string{"Starting", "With"}, op: predicate.OpStartsWith},
	{words: []string{"Starts", "With"}, op: predicate.OpStartsWith},
	{words: []string{"Ending", "With"}, op: predicate.OpEndsWith},
	{words: []string{"Ends", "With"}, op: predicate.OpEndsWith},
	{words: []string{"Is", "Containing"}, op: predicate.OpContains},
	{words: []string{"Is", "Between"}, rng: true},
	{words: []string{"Is", "After"}, op: predicate.OpGreaterThan},
	{words: []string{"Is", "Before"}, op: predicate.OpLessThan},
	{words: []string{"Is", "Null"}, op: predicate.OpIsNull},
	{words: []string{"Is", "In"}, op: predicate.OpIn},
	{words: []string{"Is", "True"}, op: predicate.OpEquals, fixed: true, hasFixed: true},
	{words: []string{"Is", "False"}, op: predicate.OpEquals, fixed: false, hasFixed: true},
	{words: []string{"Is", "Not"}, op: predicate.OpNotEquals},
	{words: []string{"Not", "Null"}, op: predicate.OpIsNotNull},
	{words: []string{"Not", "In"}, op: predicate.OpIn, negate: true},
	{words: []string{"Containing"}, op: predicate.OpContains},
	{words: []string{"Contains"}, op: predicate.OpContains},
	{words: []string{"Between"}, rng: true},
	{words: []string{"After"}, op: predicate.OpGreaterThan},
	{words: []string{"Before"}, op: predicate.OpLessThan},
	{words: []string{"Null"}, op: predicate.OpIsNull},
	{words: []string{"In"}, op: predicate.OpIn},
	{words: []string{"True"}, op: predicate.OpEquals, fixed: true, hasFixed: true},
	{words: []string{"False"}, op: predicate.OpEquals, fixed: false, hasFixed: true},
	{words: []string{"Not"}, op: predicate.OpNotEquals},
	{words: []string{"Equals"}, op: predicate.OpEquals},
	{words: []string{"Is"}, op: predicate.OpEquals},
}

type signature struct {
	cardinality Cardinality
	limit       int
	unique      bool
}

// parse compiles a method name against d.
func parse(d *entity.Descriptor, sig string) (*Compiled, error) {
	words := predicate.SplitWords(sig)
	if len(words) == 0 {
		return nil, malformed(sig, "empty signature")
	}

	s := &signature{}
	verb := strings.ToLower(words[0])
	card, ok := subjects[verb]
	if !ok {
		return nil, malformed(sig, fmt.Sprintf("unknown subject %q", words[0]))
	}
	s.cardinality = card

	rest, err := s.parseModifiers(sig, words[1:])
	if err != nil {
		return nil, err
	}

	criteria, order, err := splitClauses(sig, rest)
	if err != nil {
		return nil, err
	}

	tokens, err := parseCriteria(sig, criteria)
	if err != nil {
		return nil, err
	}

	tree, err := predicate.Build(d, tokens)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", sig, err)
	}

	sort, err := parseOrder(d, sig, order)
	if err != nil {
		return nil, err
	}

	return &Compiled{
		Signature:   sig,
		Entity:      d.Name(),
		Cardinality: s.cardinality,
		Predicate:   tree,
		Sort:        sort,
		Limit:       s.limit,
		Unique:      s.unique,
		Slots:       predicate.Slots(tree),
	}, nil
}

// parseModifiers consumes the words between the verb and the first clause:
// All, One, and the result limits First, Top, FirstN and TopN.
func (s *signature) parseModifiers(sig string, words []string) ([]string, error) {
	for len(words) > 0 {
		w := words[0]
		switch {
		case w == "By" || w == "Order":
			return words, nil
		case w == "All":
		case w == "One":
			if s.cardinality != Many || s.limit > 0 {
				return nil, malformed(sig, "One is only valid on find queries without a limit")
			}
			s.cardinality, s.limit, s.unique = Single, 2, true
		case strings.HasPrefix(w, "First") || strings.HasPrefix(w, "Top"):
			if s.cardinality != Many || s.limit > 0 {
				return nil, malformed(sig, w+" is only valid once on find queries")
			}
			n, err := limitOf(w)
			if err != nil {
				return nil, malformed(sig, err.Error())
			}
			if n == 0 {
				s.cardinality, s.limit = Single, 1
			} else {
				s.limit = n
			}
		default:
			return nil, malformed(sig, fmt.Sprintf("unexpected word %q before By", w))
		}
		words = words[1:]
	}
	return words, nil
}

func limitOf(w string) (int, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(w, "First"), "Top")
	if digits == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid result limit %q", w)
	}
	return n, nil
}

// splitClauses separates the criteria words after By from the words after
// the last OrderBy.
func splitClauses(sig string, words []string) (criteria, order []string, err error) {
	if len(words) == 0 {
		return nil, nil, nil
	}

	orderAt := -1
	for i := len(words) - 2; i >= 0; i-- {
		if words[i] == "Order" && words[i+1] == "By" {
			orderAt = i
			break
		}
	}

	head := words
	if orderAt >= 0 {
		head = words[:orderAt]
		order = words[orderAt+2:]
		if len(order) == 0 {
			return nil, nil, malformed(sig, "OrderBy without a property")
		}
	}

	if len(head) > 0 {
		if head[0] != "By" {
			return nil, nil, malformed(sig, fmt.Sprintf("expected By, got %q", head[0]))
		}
		criteria = head[1:]
		if len(criteria) == 0 && orderAt < 0 {
			return nil, nil, malformed(sig, "By without criteria")
		}
	}
	return criteria, order, nil
}

// parseCriteria splits criteria on And/Or and decodes each part.
func parseCriteria(sig string, words []string) ([]predicate.Token, error) {
	if len(words) == 0 {
		return nil, nil
	}

	var (
		tokens []predicate.Token
		part   []string
		or     bool
	)
	flush := func() error {
		if len(part) == 0 {
			return malformed(sig, "empty criterion")
		}
		tok, err := parseCriterion(sig, part)
		if err != nil {
			return err
		}
		tok.Or = or
		tokens = append(tokens, tok)
		part = nil
		return nil
	}

	for _, w := range words {
		if w == "And" || w == "Or" {
			if err := flush(); err != nil {
				return nil, err
			}
			or = w == "Or"
			continue
		}
		part = append(part, w)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return tokens, nil
}

func parseCriterion(sig string, words []string) (predicate.Token, error) {
	for _, kw := range keywords {
		n := len(kw.words)
		if len(words) <= n || !hasSuffix(words, kw.words) {
			continue
		}
		return predicate.Token{
			Path:     strings.Join(words[:len(words)-n], ""),
			Op:       kw.op,
			Negate:   kw.negate,
			Range:    kw.rng,
			Fixed:    kw.fixed,
			HasFixed: kw.hasFixed,
		}, nil
	}
	if len(words) == 0 {
		return predicate.Token{}, malformed(sig, "empty criterion")
	}
	return predicate.Token{Path: strings.Join(words, ""), Op: predicate.OpEquals}, nil
}

func hasSuffix(words, suffix []string) bool {
	offset := len(words) - len(suffix)
	for i, w := range suffix {
		if words[offset+i] != w {
			return false
		}
	}
	return true
}

// parseOrder decodes "StartsAtDescSeverity" style order clauses.
func parseOrder(d *entity.Descriptor, sig string, words []string) (Sort, error) {
	var (
		sort Sort
		path []string
	)
	emit := func(dir Direction) error {
		if len(path) == 0 {
			return malformed(sig, "sort direction without a property")
		}
		o, err := newOrder(d, strings.Join(path, ""), dir)
		if err != nil {
			return fmt.Errorf("query %q: %w", sig, err)
		}
		sort = append(sort, o)
		path = nil
		return nil
	}

	for _, w := range words {
		switch w {
		case "Asc":
			if err := emit(Ascending); err != nil {
				return nil, err
			}
		case "Desc":
			if err := emit(Descending); err != nil {
				return nil, err
			}
		default:
			path = append(path, w)
		}
	}
	if len(path) > 0 {
		if err := emit(Ascending); err != nil {
			return nil, err
		}
	}
	return sort, nil
}

func malformed(sig, reason string) error {
	return fmt.Errorf("%w: %q: %s", ErrMalformedQuerySignature, sig, reason)
}

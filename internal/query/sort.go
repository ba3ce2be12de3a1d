package query

import (
	"fmt"
	"strings"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/predicate"
)

// Direction is a sort direction.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Order sorts by one field path. Nulls sort last ascending and first descending.
type Order struct {
	Path      predicate.Path
	Direction Direction
}

func (o Order) String() string {
	return o.Path.String() + " " + o.Direction.String()
}

// Sort is an ordered list of sort keys, most significant first.
type Sort []Order

func (s Sort) String() string {
	parts := make([]string, len(s))
	for i, o := range s {
		parts[i] = o.String()
	}
	return strings.Join(parts, ", ")
}

// Then appends the keys of other whose paths s does not already sort by.
func (s Sort) Then(other Sort) Sort {
	out := make(Sort, 0, len(s)+len(other))
	out = append(out, s...)
	for _, o := range other {
		if !out.has(o.Path) {
			out = append(out, o)
		}
	}
	return out
}

func (s Sort) has(p predicate.Path) bool {
	for _, o := range s {
		if o.Path.String() == p.String() {
			return true
		}
	}
	return false
}

// Stable appends the identifier ascending unless s already sorts by it,
// so windows over equal sort keys never overlap or skip rows.
func (s Sort) Stable(d *entity.Descriptor) Sort {
	return s.Then(Sort{{Path: predicate.Path{Field: d.ID()}}})
}

// ParseSort parses a comma-separated sort list such as "-starts_at,severity"
// or "startsAt desc, service.name". A leading '-' or a trailing "desc"
// sorts descending.
func ParseSort(d *entity.Descriptor, spec string) (Sort, error) {
	var out Sort
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		dir := Ascending
		fields := strings.Fields(item)
		name := fields[0]
		switch len(fields) {
		case 1:
		case 2:
			switch strings.ToLower(fields[1]) {
			case "asc":
			case "desc":
				dir = Descending
			default:
				return nil, fmt.Errorf("%w: invalid sort direction %q", ErrInvalidSort, fields[1])
			}
		default:
			return nil, fmt.Errorf("%w: invalid sort item %q", ErrInvalidSort, item)
		}
		if strings.HasPrefix(name, "-") {
			dir = Descending
			name = name[1:]
		}
		name = strings.TrimPrefix(name, "+")

		order, err := newOrder(d, name, dir)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

func newOrder(d *entity.Descriptor, path string, dir Direction) (Order, error) {
	p, err := predicate.ResolvePath(d, path)
	if err != nil {
		return Order{}, err
	}
	if p.Field.Kind == entity.KindRelation {
		return Order{}, fmt.Errorf("%w: cannot sort by relation %s", ErrInvalidSort, p)
	}
	return Order{Path: p, Direction: dir}, nil
}

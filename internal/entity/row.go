package entity

import "strings"

// Row is the storage representation of an entity: field name to canonical value.
// Relation fields hold a nested Row.
type Row map[string]any

// Clone returns a deep copy of the row, nested rows included.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		switch nested := v.(type) {
		case Row:
			out[k] = nested.Clone()
		case map[string]any:
			out[k] = Row(nested).Clone()
		default:
			out[k] = v
		}
	}
	return out
}

// Canonical folds a field name for case- and underscore-insensitive matching,
// so "starts_at", "startsAt" and "StartsAt" compare equal.
func Canonical(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

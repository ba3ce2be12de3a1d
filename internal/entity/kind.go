package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Kind is the storage kind of a field.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindTime
	KindUUID
	KindRelation
)

var kindNames = map[Kind]string{
	KindInvalid:  "invalid",
	KindInt:      "int",
	KindFloat:    "float",
	KindString:   "string",
	KindBool:     "bool",
	KindTime:     "time",
	KindUUID:     "uuid",
	KindRelation: "relation",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Scalar reports whether values of the kind can be compared for equality.
func (k Kind) Scalar() bool {
	return k > KindInvalid && k < KindRelation
}

// Ordered reports whether values of the kind have a natural order.
func (k Kind) Ordered() bool {
	switch k {
	case KindInt, KindFloat, KindString, KindTime:
		return true
	}
	return false
}

// Identifier reports whether the kind can key an entity.
func (k Kind) Identifier() bool {
	switch k {
	case KindInt, KindString, KindUUID:
		return true
	}
	return false
}

// Zero returns the canonical zero value for the kind.
func (k Kind) Zero() any {
	switch k {
	case KindInt:
		return int64(0)
	case KindFloat:
		return float64(0)
	case KindString:
		return ""
	case KindBool:
		return false
	case KindTime:
		return time.Time{}
	case KindUUID:
		return uuid.Nil
	}
	return nil
}

// IsZero reports whether v is absent or the zero value of the kind.
func (k Kind) IsZero(v any) bool {
	n, err := k.Normalize(v)
	if err != nil {
		return false
	}
	if n == nil {
		return true
	}
	switch k {
	case KindTime:
		return n.(time.Time).IsZero()
	case KindRelation:
		return false
	}
	return n == k.Zero()
}

// Normalize converts v to the canonical representation of the kind:
// int64, float64, string, bool, time.Time in UTC, uuid.UUID or Row.
// Nil and nil pointers normalize to nil.
func (k Kind) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	v = rv.Interface()

	switch k {
	case KindInt:
		return normalizeInt(rv)
	case KindFloat:
		return normalizeFloat(rv)
	case KindString:
		switch {
		case rv.Kind() == reflect.String:
			return rv.String(), nil
		case rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8:
			return string(rv.Bytes()), nil
		}
	case KindBool:
		switch rv.Kind() {
		case reflect.Bool:
			return rv.Bool(), nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int() != 0, nil
		}
	case KindTime:
		return normalizeTime(v)
	case KindUUID:
		return normalizeUUID(v)
	case KindRelation:
		return normalizeRelation(v)
	}

	return nil, fmt.Errorf("%w: cannot use %T as %s", ErrKindMismatch, v, k)
}

func normalizeInt(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrKindMismatch, u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
			return nil, fmt.Errorf("%w: %v is not an integer", ErrKindMismatch, f)
		}
		return int64(f), nil
	}
	if n, ok := rv.Interface().(json.Number); ok {
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKindMismatch, err)
		}
		return i, nil
	}
	return nil, fmt.Errorf("%w: cannot use %s as %s", ErrKindMismatch, rv.Type(), KindInt)
}

func normalizeFloat(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	}
	if n, ok := rv.Interface().(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKindMismatch, err)
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: cannot use %s as %s", ErrKindMismatch, rv.Type(), KindFloat)
}

func normalizeTime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := ParseTime(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKindMismatch, err)
		}
		return parsed, nil
	case []byte:
		return normalizeTime(string(t))
	}
	return nil, fmt.Errorf("%w: cannot use %T as %s", ErrKindMismatch, v, KindTime)
}

// timeLayouts are tried in order when a store hands back a textual timestamp.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses the textual timestamp formats used by the supported stores.
func ParseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func normalizeUUID(v any) (any, error) {
	switch u := v.(type) {
	case uuid.UUID:
		return u, nil
	case [16]byte:
		return uuid.UUID(u), nil
	case string:
		parsed, err := uuid.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKindMismatch, err)
		}
		return parsed, nil
	case []byte:
		if len(u) == 16 {
			parsed, err := uuid.FromBytes(u)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrKindMismatch, err)
			}
			return parsed, nil
		}
		return normalizeUUID(string(u))
	}
	return nil, fmt.Errorf("%w: cannot use %T as %s", ErrKindMismatch, v, KindUUID)
}

func normalizeRelation(v any) (any, error) {
	switch r := v.(type) {
	case Row:
		return r, nil
	case map[string]any:
		return Row(r), nil
	case string:
		return decodeRelation([]byte(r))
	case []byte:
		return decodeRelation(r)
	}
	return nil, fmt.Errorf("%w: cannot use %T as %s", ErrKindMismatch, v, KindRelation)
}

func decodeRelation(data []byte) (any, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("%w: invalid relation document: %v", ErrKindMismatch, err)
	}
	return Row(row), nil
}

// Package reflectutil holds the reflection helpers used to walk Go struct
// types when deriving GraphQL selections from them.
package reflectutil

import (
	"encoding"
	"encoding/json"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/llehouerou/pnwkit-go/types"
)

var (
	jsonUnmarshaler = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
	textUnmarshaler = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	timeType        = reflect.TypeOf(time.Time{})
)

// IsIntegerKind reports whether k is a signed or unsigned integer kind.
func IsIntegerKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	default:
		return false
	}
}

// Indirect strips every level of pointer from t.
func Indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// IsLeaf reports whether values of t are decoded from a single JSON scalar
// and therefore must not be expanded into a sub-selection. Structs that
// unmarshal themselves, time.Time and every non-struct, non-list kind are
// leaves.
func IsLeaf(t reflect.Type) bool {
	t = Indirect(t)
	if t == timeType {
		return true
	}
	if reflect.PointerTo(t).Implements(jsonUnmarshaler) ||
		reflect.PointerTo(t).Implements(textUnmarshaler) {
		return true
	}
	switch t.Kind() {
	case reflect.Struct:
		return false
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return true
		}
		return IsLeaf(t.Elem())
	default:
		return true
	}
}

// ObjectType returns the struct type selected by a field of type t, looking
// through pointers and one level of slice or array. ok is false when t does
// not select an object.
func ObjectType(t reflect.Type) (reflect.Type, bool) {
	if IsLeaf(t) {
		return nil, false
	}
	t = Indirect(t)
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = Indirect(t.Elem())
	}
	if t.Kind() != reflect.Struct {
		return nil, false
	}
	return t, true
}

// JSONName returns the name given to f by its json tag. ok is false when
// the tag is absent or empty; skip is true for `json:"-"`.
func JSONName(f reflect.StructField) (name string, ok bool, skip bool) {
	tag, present := f.Tag.Lookup(types.JSONTag)
	if !present {
		return "", false, false
	}
	if tag == "-" {
		return "", false, true
	}
	name, _, _ = strings.Cut(tag, ",")
	return name, name != "", false
}

// SnakeCase converts a Go identifier to the snake_case naming used by the
// game API, e.g. "NationName" -> "nation_name", "AllianceID" -> "alliance_id".
func SnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

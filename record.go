package pnwkit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dolmen-go/jsonmap"
)

// reservedKeys maps response keys that collide with reserved identifiers to
// the name they are stored under.
var reservedKeys = map[string]string{
	"global": "global_",
}

func storedKey(key string) string {
	if alt, ok := reservedKeys[key]; ok {
		return alt
	}
	return key
}

func wireKey(key string) string {
	for wire, alt := range reservedKeys {
		if key == alt {
			return wire
		}
	}
	return key
}

// Record is a decoded GraphQL object.
//
// Records are immutable: their storage is unexported, and every accessor
// returning a collection returns a copy. A Record may be shared freely
// between goroutines.
//
// Values are one of: nil, string, bool, json.Number, the result of a
// registered Converter (for example int64 or time.Time), *Record,
// []*Record, or []any.
type Record struct {
	typename string
	keys     []string
	values   map[string]any
}

func newRecord(typename string, size int) *Record {
	return &Record{
		typename: typename,
		keys:     make([]string, 0, size),
		values:   make(map[string]any, size),
	}
}

func (r *Record) set(key string, v any) {
	key = storedKey(key)
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// TypeName returns the GraphQL type name the record was decoded from, or ""
// when the object carried no __typename.
func (r *Record) TypeName() string {
	if r == nil {
		return ""
	}
	return r.typename
}

// Get returns the value stored under key. Reserved keys may be given either
// in their wire form ("global") or their stored form ("global_"). Lists are
// returned as copies.
func (r *Record) Get(key string) (any, bool) {
	v, ok := r.lookup(key)
	return cloneValue(v), ok
}

func (r *Record) lookup(key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.values[storedKey(key)]
	return v, ok
}

// Has reports whether key is present.
func (r *Record) Has(key string) bool {
	_, ok := r.lookup(key)
	return ok
}

// Keys returns the stored keys in response order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of keys.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Map returns a shallow copy of the record's values keyed by stored key.
func (r *Record) Map() map[string]any {
	if r == nil {
		return nil
	}
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the lists held by a record, so callers cannot write
// through to the record's storage. Records themselves are immutable and
// are shared.
func cloneValue(v any) any {
	switch v := v.(type) {
	case []*Record:
		out := make([]*Record, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Str returns the value of key as a string. Numbers are formatted; any
// other type yields "".
func (r *Record) Str(key string) string {
	v, _ := r.Get(key)
	switch v := v.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return ""
	}
}

// Int returns the value of key as an int64. Numeric strings, as returned
// for ID fields, are accepted.
func (r *Record) Int(key string) (int64, bool) {
	v, _ := r.Get(key)
	n, err := toInt64(v)
	if err != nil || v == nil {
		return 0, false
	}
	return n, true
}

// Float returns the value of key as a float64.
func (r *Record) Float(key string) (float64, bool) {
	v, _ := r.Get(key)
	f, err := toFloat64(v)
	if err != nil || v == nil {
		return 0, false
	}
	return f, true
}

// Bool returns the value of key as a bool.
func (r *Record) Bool(key string) (bool, bool) {
	v, _ := r.Get(key)
	b, ok := v.(bool)
	return b, ok
}

// Time returns the value of key as a time.Time. String values are parsed
// with the layouts accepted by ToTime.
func (r *Record) Time(key string) (time.Time, bool) {
	v, _ := r.Get(key)
	if v == nil {
		return time.Time{}, false
	}
	t, err := ToTime(v)
	if err != nil {
		return time.Time{}, false
	}
	tt, ok := t.(time.Time)
	return tt, ok
}

// Record returns the nested record stored under key.
func (r *Record) Record(key string) *Record {
	v, _ := r.Get(key)
	rec, _ := v.(*Record)
	return rec
}

// Records returns the nested records stored under key. Paginated nested
// fields have already been flattened to their item list.
func (r *Record) Records(key string) []*Record {
	v, _ := r.lookup(key)
	return asRecords(v)
}

func asRecords(v any) []*Record {
	switch v := v.(type) {
	case []*Record:
		out := make([]*Record, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]*Record, 0, len(v))
		for _, item := range v {
			if rec, ok := item.(*Record); ok {
				out = append(out, rec)
			}
		}
		return out
	case *Record:
		return []*Record{v}
	default:
		return nil
	}
}

// MarshalJSON encodes the record with its keys in response order. Reserved
// keys are written in their wire form.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	data := make(map[string]any, len(r.values))
	order := make([]string, len(r.keys))
	for i, k := range r.keys {
		w := wireKey(k)
		order[i] = w
		data[w] = r.values[k]
	}
	return json.Marshal(&jsonmap.Ordered{Data: data, Order: order})
}

// Unmarshal stores the record into v, which must be a pointer to a value
// accepted by json.Unmarshal. Struct fields are matched on their json tags.
func (r *Record) Unmarshal(v any) error {
	b, err := r.MarshalJSON()
	if err != nil {
		return fmt.Errorf("pnwkit: encoding %s record: %w", r.TypeName(), err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("pnwkit: decoding %s record into %T: %w", r.TypeName(), v, err)
	}
	return nil
}

// String implements fmt.Stringer.
func (r *Record) String() string {
	if r == nil {
		return "<nil>"
	}
	var b strings.Builder
	if r.typename != "" {
		b.WriteString(r.typename)
	} else {
		b.WriteString("Record")
	}
	b.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, r.values[k])
	}
	b.WriteByte('}')
	return b.String()
}

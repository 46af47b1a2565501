package pnwkit

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/llehouerou/pnwkit-go/pkg/jsonutil"
	"github.com/llehouerou/pnwkit-go/types"
)

// Converter transforms the decoded value of a single record key. It is
// called after nested objects and arrays have been decoded, and must accept
// nil.
type Converter func(v any) (any, error)

// RecordType describes how objects with a given __typename are decoded.
type RecordType struct {
	Name       string
	Converters map[string]Converter
}

// Registry maps GraphQL type names to record types. Objects whose type name
// is not registered still decode, as generic records carrying the name.
//
// A Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]RecordType
}

// NewRegistry returns a registry holding the built-in game types.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]RecordType, len(builtinTypes))}
	for _, t := range builtinTypes {
		r.types[t.Name] = t
	}
	return r
}

var defaultRegistry = NewRegistry()

// Register adds or replaces a record type.
func (r *Registry) Register(t RecordType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.Name] = t
}

// Lookup returns the record type registered under name.
func (r *Registry) Lookup(name string) (RecordType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for name := range r.types {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Decode decodes a raw JSON value: objects become *Record (or the item list
// of a paginated collection), arrays of objects become []*Record, and
// scalars pass through.
func (r *Registry) Decode(data []byte) (any, error) {
	v, err := jsonutil.Decode(data)
	if err != nil {
		return nil, err
	}
	return r.decodeValue(v)
}

// DecodeRecord decodes a single JSON object as a record of the given type,
// overriding any __typename it carries. An empty name keeps the object's own
// type name.
func (r *Registry) DecodeRecord(typename string, obj *jsonutil.Object) (*Record, error) {
	if typename == "" {
		typename = obj.String(types.TypenameField)
	}
	return r.decodeRecord(typename, obj)
}

func (r *Registry) decodeValue(v any) (any, error) {
	switch v := v.(type) {
	case *jsonutil.Object:
		return r.decodeObject(v)
	case []any:
		return r.decodeArray(v)
	default:
		return v, nil
	}
}

func (r *Registry) decodeObject(obj *jsonutil.Object) (any, error) {
	typename := obj.String(types.TypenameField)
	if strings.HasSuffix(typename, types.PaginatorSuffix) {
		items, _ := obj.Get(types.DataField)
		list, ok := items.([]any)
		if !ok {
			if items == nil {
				return []*Record{}, nil
			}
			return nil, fmt.Errorf("pnwkit: %s.%s is %T, not a list", typename, types.DataField, items)
		}
		return r.decodeArray(list)
	}
	return r.decodeRecord(typename, obj)
}

func (r *Registry) decodeRecord(typename string, obj *jsonutil.Object) (*Record, error) {
	t, _ := r.Lookup(typename)
	rec := newRecord(typename, obj.Len())
	for _, key := range obj.Keys() {
		if key == types.TypenameField {
			continue
		}
		raw, _ := obj.Get(key)
		v, err := r.decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", typename, key, err)
		}
		if conv, ok := t.Converters[key]; ok {
			v, err = conv(v)
			if err != nil {
				return nil, fmt.Errorf("pnwkit: converting %s.%s: %w", typename, key, err)
			}
		}
		rec.set(key, v)
	}
	return rec, nil
}

// decodeArray returns []*Record when every element decodes to a record and
// []any otherwise.
func (r *Registry) decodeArray(list []any) (any, error) {
	values := make([]any, len(list))
	allRecords := len(list) > 0
	for i, item := range list {
		v, err := r.decodeValue(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		if _, ok := v.(*Record); !ok {
			allRecords = false
		}
		values[i] = v
	}
	if !allRecords {
		return values, nil
	}
	records := make([]*Record, len(values))
	for i, v := range values {
		records[i] = v.(*Record)
	}
	return records, nil
}

// ToInt64 converts numbers and numeric strings to int64.
func ToInt64(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// ToFloat64 converts numbers and numeric strings to float64.
func ToFloat64(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return nil, err
	}
	return f, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	time.DateTime,
	time.DateOnly,
}

// ToTime parses date strings in RFC 3339, "2006-01-02 15:04:05" or
// "2006-01-02" form. Values without a zone are taken as UTC.
func ToTime(v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v, nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("unrecognized time %q", v)
	default:
		return nil, fmt.Errorf("cannot convert %T to time", v)
	}
}

func toInt64(v any) (int64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("%s is not an integer", v)
		}
		return int64(f), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
}

func ints(keys ...string) map[string]Converter {
	m := make(map[string]Converter, len(keys))
	for _, k := range keys {
		m[k] = ToInt64
	}
	return m
}

func with(m map[string]Converter, conv Converter, keys ...string) map[string]Converter {
	for _, k := range keys {
		m[k] = conv
	}
	return m
}

var builtinTypes = []RecordType{
	{Name: "Nation", Converters: with(
		ints("id", "alliance_id", "num_cities", "vacation_mode_turns", "beige_turns"),
		ToTime, "date", "last_active",
	)},
	{Name: "Alliance", Converters: with(ints("id"), ToTime, "date")},
	{Name: "City", Converters: with(ints("id", "nation_id"), ToTime, "date")},
	{Name: "War", Converters: with(
		ints("id", "att_id", "def_id", "att_alliance_id", "def_alliance_id", "turns_left"),
		ToTime, "date",
	)},
	{Name: "WarAttack", Converters: with(ints("id", "war_id", "att_id", "def_id"), ToTime, "date")},
	{Name: "Trade", Converters: with(
		with(ints("id", "sender_id", "receiver_id", "offer_amount", "original_trade_id"), ToFloat64, "price"),
		ToTime, "date", "date_accepted",
	)},
	{Name: "Tradeprice", Converters: with(ints("id"), ToTime, "date")},
	{Name: "Treasure", Converters: with(ints("nation_id", "alliance_id", "bonus"), ToTime, "spawn_date")},
	{Name: "Color", Converters: ints("turn_bonus")},
	{Name: "Bankrec", Converters: with(ints("id", "sender_id", "receiver_id", "banker_id"), ToTime, "date")},
	{Name: "Bounty", Converters: with(ints("id", "nation_id", "amount"), ToTime, "date")},
	{Name: "Treaty", Converters: with(ints("id", "alliance1_id", "alliance2_id", "turns_left"), ToTime, "date")},
	{Name: "Embargo", Converters: with(ints("id", "sender_id", "receiver_id"), ToTime, "date")},
	{Name: "GameInfo", Converters: with(map[string]Converter{}, ToTime, "game_date")},
	{Name: "BaseballGame", Converters: with(ints("id", "home_id", "away_id", "home_nation_id", "away_nation_id"), ToTime, "date")},
	{Name: "BaseballPlayer", Converters: with(ints("id", "nation_id", "age"), ToTime, "date")},
	{Name: "BaseballTeam", Converters: with(ints("id", "nation_id", "wins"), ToTime, "date")},
	{Name: "AlliancePosition", Converters: with(ints("id", "alliance_id", "position_level", "creator_id"), ToTime, "date", "last_edited")},
	{Name: "ApiKeyDetails", Converters: ints("requests", "max_requests")},
}

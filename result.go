package pnwkit

import (
	"encoding/json"
	"fmt"

	"github.com/dolmen-go/jsonmap"

	"github.com/llehouerou/pnwkit-go/pkg/jsonutil"
	"github.com/llehouerou/pnwkit-go/types"
)

// Result holds the decoded data of a response, keyed by the response key of
// each root field (its alias, or its name).
type Result struct {
	keys   []string
	values map[string]any
	info   map[string]PaginatorInfo
}

func newResult() *Result {
	return &Result{
		values: make(map[string]any),
		info:   make(map[string]PaginatorInfo),
	}
}

// decodeResult decodes the "data" object of a response envelope. Paginated
// root fields keep their paginatorInfo alongside the decoded items.
func decodeResult(reg *Registry, data *jsonutil.Object) (*Result, error) {
	res := newResult()
	if data == nil {
		return res, nil
	}
	for _, key := range data.Keys() {
		raw, _ := data.Get(key)
		if obj, ok := raw.(*jsonutil.Object); ok {
			if infoObj, ok := paginatorInfoObject(obj); ok {
				info, err := paginatorInfoFrom(infoObj)
				if err != nil {
					return nil, fmt.Errorf("pnwkit: decoding %s.%s: %w", key, types.PaginatorInfoField, err)
				}
				res.info[key] = info
			}
		}
		v, err := reg.decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("pnwkit: decoding %s: %w", key, err)
		}
		res.keys = append(res.keys, key)
		res.values[key] = v
	}
	return res, nil
}

func paginatorInfoObject(obj *jsonutil.Object) (*jsonutil.Object, bool) {
	v, ok := obj.Get(types.PaginatorInfoField)
	if !ok {
		return nil, false
	}
	info, ok := v.(*jsonutil.Object)
	return info, ok
}

// Keys returns the response keys in response order.
func (r *Result) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Get returns the decoded value under key.
func (r *Result) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return cloneValue(v), ok
}

// Record returns the record under key, or nil.
func (r *Result) Record(key string) *Record {
	rec, _ := r.values[key].(*Record)
	return rec
}

// Records returns the records under key. Paginated fields yield the items
// of the page.
func (r *Result) Records(key string) []*Record {
	return asRecords(r.values[key])
}

// PaginatorInfo returns the pagination envelope of a paginated root field.
func (r *Result) PaginatorInfo(key string) (PaginatorInfo, bool) {
	info, ok := r.info[key]
	return info, ok
}

// Nations returns every Nation record found at the top level of the result,
// across all keys, in response order.
func (r *Result) Nations() []Nation {
	return viewOf(r.all(), "Nation", func(rec *Record) Nation { return Nation{rec} })
}

// Alliances returns every top-level Alliance record.
func (r *Result) Alliances() []Alliance {
	return viewOf(r.all(), "Alliance", func(rec *Record) Alliance { return Alliance{rec} })
}

// Cities returns every top-level City record.
func (r *Result) Cities() []City {
	return viewOf(r.all(), "City", func(rec *Record) City { return City{rec} })
}

// Wars returns every top-level War record.
func (r *Result) Wars() []War {
	return viewOf(r.all(), "War", func(rec *Record) War { return War{rec} })
}

// Trades returns every top-level Trade record.
func (r *Result) Trades() []Trade {
	return viewOf(r.all(), "Trade", func(rec *Record) Trade { return Trade{rec} })
}

func (r *Result) all() []*Record {
	var out []*Record
	for _, k := range r.keys {
		out = append(out, asRecords(r.values[k])...)
	}
	return out
}

// MarshalJSON encodes the result with its keys in response order.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(&jsonmap.Ordered{Data: r.values, Order: r.keys})
}

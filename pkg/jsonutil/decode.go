// Package jsonutil provides an order-preserving JSON decoder for GraphQL
// response payloads.
//
// The implementation is created on top of the JSON tokenizer available in
// "encoding/json".Decoder. Objects decode to *Object, which remembers the
// order in which keys appeared; arrays decode to []any; numbers are kept as
// json.Number so that large integer ids survive without float rounding.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dolmen-go/jsonmap"
)

// ErrNotObject is returned by DecodeObject when the top-level value is not a
// JSON object.
var ErrNotObject = errors.New("jsonutil: top-level value is not an object")

// Object is a JSON object with its key order preserved.
type Object struct {
	keys   []string
	values map[string]any
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{values: make(map[string]any)}
}

// Set stores v under key. A key seen for the first time is appended to the
// key order; re-setting a key keeps its original position.
func (o *Object) Set(key string, v any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Keys returns the keys in document order.
func (o *Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of keys.
func (o *Object) Len() int {
	return len(o.keys)
}

// String returns the string value of key, or "" when absent or not a string.
func (o *Object) String(key string) string {
	s, _ := o.values[key].(string)
	return s
}

// MarshalJSON encodes the object with its keys in document order.
func (o *Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(&jsonmap.Ordered{Data: o.values, Order: o.keys})
}

// Decode parses a single JSON value from data.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	d := &decoder{tokenizer: dec}
	v, err := d.next()
	if err != nil {
		return nil, err
	}
	tok, err := dec.Token()
	switch err {
	case io.EOF:
		// Expect to get io.EOF. There shouldn't be any more
		// tokens left after we've decoded v successfully.
		return v, nil
	case nil:
		return nil, fmt.Errorf("invalid token '%v' after top-level value", tok)
	default:
		return nil, err
	}
}

// DecodeObject parses data and requires the top-level value to be an object.
func DecodeObject(data []byte) (*Object, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*Object)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}

// decoder walks the token stream and builds the value tree.
type decoder struct {
	tokenizer interface {
		Token() (json.Token, error)
		More() bool
	}
}

func (d *decoder) next() (any, error) {
	tok, err := d.tokenizer.Token()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return d.value(tok)
}

func (d *decoder) value(tok json.Token) (any, error) {
	delim, ok := tok.(json.Delim)
	if !ok {
		// string, json.Number, bool or nil.
		return tok, nil
	}
	switch delim {
	case '{':
		return d.object()
	case '[':
		return d.array()
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}

func (d *decoder) object() (*Object, error) {
	obj := NewObject()
	for d.tokenizer.More() {
		tok, err := d.tokenizer.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected non-key token %v in object", tok)
		}
		v, err := d.next()
		if err != nil {
			return nil, fmt.Errorf("decoding key %q: %w", key, err)
		}
		obj.Set(key, v)
	}
	if err := d.closeDelim('}'); err != nil {
		return nil, err
	}
	return obj, nil
}

func (d *decoder) array() ([]any, error) {
	out := []any{}
	for d.tokenizer.More() {
		v, err := d.next()
		if err != nil {
			return nil, fmt.Errorf("decoding index %d: %w", len(out), err)
		}
		out = append(out, v)
	}
	if err := d.closeDelim(']'); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *decoder) closeDelim(want json.Delim) error {
	tok, err := d.tokenizer.Token()
	if err != nil {
		return err
	}
	if tok != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

package pnwkit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/llehouerou/pnwkit-go/internal/reflectutil"
	"github.com/llehouerou/pnwkit-go/internal/tagparser"
)

// VariableType is the GraphQL type of a declared variable, written verbatim
// into the declaration (e.g. "Int", "[Int]", "String!").
type VariableType string

// Variable types used by the game API.
const (
	TypeInt        VariableType = "Int"
	TypeIntList    VariableType = "[Int]"
	TypeString     VariableType = "String"
	TypeStringList VariableType = "[String]"
	TypeFloat      VariableType = "Float"
	TypeBoolean    VariableType = "Boolean"
	TypeID         VariableType = "ID"
	TypeIDList     VariableType = "[ID]"
)

// Variable is a named, typed placeholder. Used as an argument value it
// renders as $name, and the query it appears in declares it.
type Variable struct {
	Name    string
	Type    VariableType
	Default any

	hasDefault bool
}

// NewVariable returns a variable without a default value.
func NewVariable(name string, typ VariableType) *Variable {
	return &Variable{Name: name, Type: typ}
}

// WithDefault returns a copy of v with a default value. A variable with a
// default does not need a value before the query is sent.
func (v *Variable) WithDefault(value any) *Variable {
	clone := *v
	clone.Default = value
	clone.hasDefault = true
	return &clone
}

// HasDefault reports whether a default value was set.
func (v *Variable) HasDefault() bool {
	return v.hasDefault
}

// String returns the reference form, $name.
func (v *Variable) String() string {
	return "$" + v.Name
}

// writeDeclaration writes "$name:Type" or "$name:Type=default" to w.
func (v *Variable) writeDeclaration(w io.Writer) error {
	if !tagparser.IsName(v.Name) {
		return fmt.Errorf("invalid variable name %q", v.Name)
	}
	if v.Type == "" {
		return fmt.Errorf("variable %q has no type", v.Name)
	}
	_, _ = io.WriteString(w, "$")
	_, _ = io.WriteString(w, v.Name)
	_, _ = io.WriteString(w, ":")
	_, _ = io.WriteString(w, string(v.Type))
	if v.hasDefault {
		_, _ = io.WriteString(w, "=")
		if err := writeArgumentValue(w, v.Default); err != nil {
			return fmt.Errorf("default of variable %q: %w", v.Name, err)
		}
	}
	return nil
}

// Enum is an argument value written without quotes, e.g. Enum("DESC").
type Enum string

// Argument is a single named argument of a field.
type Argument struct {
	Name  string
	Value any
}

// Arg returns an Argument.
func Arg(name string, value any) Argument {
	return Argument{Name: name, Value: value}
}

// Args is an ordered argument list. Arguments render in list order. Args is
// also accepted as an argument value, where it renders as an input object.
type Args []Argument

// ArgsFromMap converts a map to Args sorted by name.
func ArgsFromMap(m map[string]any) Args {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make(Args, 0, len(names))
	for _, k := range names {
		out = append(out, Arg(k, m[k]))
	}
	return out
}

// With returns a copy of a with name set to value. An existing argument
// keeps its position; a new one is appended.
func (a Args) With(name string, value any) Args {
	out := make(Args, len(a), len(a)+1)
	copy(out, a)
	for i := range out {
		if out[i].Name == name {
			out[i].Value = value
			return out
		}
	}
	return append(out, Arg(name, value))
}

// Get returns the value of the named argument.
func (a Args) Get(name string) (any, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// writeArguments writes "name:value, name:value" to w.
func writeArguments(w io.Writer, args Args) error {
	for i, arg := range args {
		if !tagparser.IsName(arg.Name) {
			return fmt.Errorf("invalid argument name %q", arg.Name)
		}
		if i > 0 {
			_, _ = io.WriteString(w, ", ")
		}
		_, _ = io.WriteString(w, arg.Name)
		_, _ = io.WriteString(w, ":")
		if err := writeArgumentValue(w, arg.Value); err != nil {
			return fmt.Errorf("argument %q: %w", arg.Name, err)
		}
	}
	return nil
}

// writeArgumentValue writes v as a GraphQL literal.
func writeArgumentValue(w io.Writer, v any) error {
	switch v := v.(type) {
	case nil:
		_, _ = io.WriteString(w, "null")
		return nil
	case *Variable:
		if v == nil {
			_, _ = io.WriteString(w, "null")
			return nil
		}
		_, _ = io.WriteString(w, v.String())
		return nil
	case Variable:
		_, _ = io.WriteString(w, v.String())
		return nil
	case Enum:
		if !tagparser.IsName(string(v)) {
			return fmt.Errorf("invalid enum value %q", v)
		}
		_, _ = io.WriteString(w, string(v))
		return nil
	case string:
		return writeString(w, v)
	case json.Number:
		_, _ = io.WriteString(w, v.String())
		return nil
	case bool:
		_, _ = io.WriteString(w, strconv.FormatBool(v))
		return nil
	case time.Time:
		return writeString(w, v.Format(time.RFC3339))
	case Args:
		return writeInputObject(w, v)
	case map[string]any:
		return writeInputObject(w, ArgsFromMap(v))
	}
	return writeReflectedValue(w, reflect.ValueOf(v))
}

func writeReflectedValue(w io.Writer, rv reflect.Value) error {
	switch {
	case reflectutil.IsIntegerKind(rv.Kind()):
		if rv.CanInt() {
			_, _ = io.WriteString(w, strconv.FormatInt(rv.Int(), 10))
		} else {
			_, _ = io.WriteString(w, strconv.FormatUint(rv.Uint(), 10))
		}
		return nil
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		_, _ = io.WriteString(w, strconv.FormatFloat(rv.Float(), 'f', -1, rv.Type().Bits()))
		return nil
	case reflect.String:
		return writeString(w, rv.String())
	case reflect.Bool:
		_, _ = io.WriteString(w, strconv.FormatBool(rv.Bool()))
		return nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			_, _ = io.WriteString(w, "null")
			return nil
		}
		return writeArgumentValue(w, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			_, _ = io.WriteString(w, "[]")
			return nil
		}
		_, _ = io.WriteString(w, "[")
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				_, _ = io.WriteString(w, ", ")
			}
			if err := writeArgumentValue(w, rv.Index(i).Interface()); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		_, _ = io.WriteString(w, "]")
		return nil
	case reflect.Map:
		m, ok := stringKeyedMap(rv)
		if !ok {
			return fmt.Errorf("unsupported map key type %v", rv.Type().Key())
		}
		return writeInputObject(w, ArgsFromMap(m))
	}
	if !rv.IsValid() {
		_, _ = io.WriteString(w, "null")
		return nil
	}
	return fmt.Errorf("unsupported argument type %v", rv.Type())
}

// stringKeyedMap converts a map with string keys to map[string]any.
func stringKeyedMap(rv reflect.Value) (map[string]any, bool) {
	if rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	m := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		m[iter.Key().String()] = iter.Value().Interface()
	}
	return m, true
}

func writeInputObject(w io.Writer, args Args) error {
	_, _ = io.WriteString(w, "{")
	if err := writeArguments(w, args); err != nil {
		return err
	}
	_, _ = io.WriteString(w, "}")
	return nil
}

// writeString writes s as a double-quoted string with JSON escaping, which
// is a valid GraphQL string literal.
func writeString(w io.Writer, s string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	_, err := w.Write(bytes.TrimRight(buf.Bytes(), "\n"))
	return err
}

// collectVariables appends every Variable referenced by v, in order of
// appearance, to dst.
func collectVariables(dst []*Variable, v any) []*Variable {
	switch v := v.(type) {
	case nil:
		return dst
	case *Variable:
		if v != nil {
			dst = append(dst, v)
		}
		return dst
	case Variable:
		return append(dst, &v)
	case Args:
		for _, arg := range v {
			dst = collectVariables(dst, arg.Value)
		}
		return dst
	case map[string]any:
		return collectVariables(dst, ArgsFromMap(v))
	case string, Enum, bool, json.Number, time.Time:
		return dst
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			dst = collectVariables(dst, rv.Index(i).Interface())
		}
	case reflect.Map:
		// Walked in the key order the input object is rendered in.
		if m, ok := stringKeyedMap(rv); ok {
			dst = collectVariables(dst, ArgsFromMap(m))
		}
	case reflect.Ptr, reflect.Interface:
		if !rv.IsNil() {
			dst = collectVariables(dst, rv.Elem().Interface())
		}
	}
	return dst
}

package pnwkit

import (
	"fmt"
	"reflect"

	"github.com/llehouerou/pnwkit-go/internal/reflectutil"
	"github.com/llehouerou/pnwkit-go/internal/tagparser"
	"github.com/llehouerou/pnwkit-go/types"
)

// FieldsFor derives a selection from the struct type of v, so that a
// record can later be decoded into it with Record.Unmarshal.
//
// Each exported field selects, in order of precedence: the field named by
// its `graphql` tag ("name", "alias: name" or "name(args)"), the name of its
// `json` tag, or the snake_case form of the Go field name. Struct fields and
// slices of structs become nested selections; embedded structs without a tag
// are inlined. A `graphql:"-"` or `json:"-"` tag skips the field. Tag
// arguments are written verbatim and must be literals: a $variable in them
// is an error, since it could not be declared.
//
// E.g. struct{ID int `json:"id"`; Cities []struct{Name string}} ->
// ["id", cities{name}].
func FieldsFor(v any) ([]any, error) {
	t := reflect.TypeOf(v)
	if t == nil {
		return nil, fmt.Errorf("pnwkit: cannot derive fields from nil")
	}
	st, ok := reflectutil.ObjectType(t)
	if !ok {
		return nil, fmt.Errorf("pnwkit: cannot derive fields from %v, not a struct", t)
	}
	fields, err := structFields(st, map[reflect.Type]bool{})
	if err != nil {
		return nil, fmt.Errorf("pnwkit: deriving fields from %v: %w", st, err)
	}
	return fields, nil
}

// MustFieldsFor is like FieldsFor but panics on error.
func MustFieldsFor(v any) []any {
	fields, err := FieldsFor(v)
	if err != nil {
		panic(err)
	}
	return fields
}

// structFields writes the selection of struct type t. path holds the struct
// types currently being expanded, to reject recursive types.
func structFields(t reflect.Type, path map[reflect.Type]bool) ([]any, error) {
	if path[t] {
		return nil, fmt.Errorf("recursive type %v", t)
	}
	path[t] = true
	defer delete(path, t)

	var out []any
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		// Embedded structs of unexported types still promote their
		// exported fields.
		if !f.IsExported() && !f.Anonymous {
			continue
		}
		sel, inline, skip, err := fieldSelection(f)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		if skip {
			continue
		}

		objType, isObject := reflectutil.ObjectType(f.Type)
		if inline {
			if !isObject {
				continue
			}
			sub, err := structFields(objType, path)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		if isObject {
			sub, err := structFields(objType, path)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			sel.Fields = sub
		}
		if sel.Alias == "" && sel.RawArguments == "" && len(sel.Fields) == 0 {
			out = append(out, sel.Name)
		} else {
			out = append(out, sel)
		}
	}
	return out, nil
}

// fieldSelection resolves the name, alias and arguments selected by f.
func fieldSelection(f reflect.StructField) (sel *Field, inline bool, skip bool, err error) {
	if raw, ok := f.Tag.Lookup(types.GraphQLTag); ok {
		tag, err := tagparser.Parse(raw)
		if err != nil {
			return nil, false, false, err
		}
		if tag.Skip {
			return nil, false, true, nil
		}
		if tagparser.ReferencesVariable(tag.Arguments) {
			return nil, false, false, fmt.Errorf("tag arguments %q reference a variable; use literals, or build the Field with Arg", tag.Arguments)
		}
		if tag.Name != "" {
			return &Field{Name: tag.Name, Alias: tag.Alias, RawArguments: tag.Arguments}, false, false, nil
		}
	}
	name, ok, skip := reflectutil.JSONName(f)
	if skip {
		return nil, false, true, nil
	}
	if ok {
		return &Field{Name: name}, false, false, nil
	}
	if f.Anonymous {
		return nil, true, false, nil
	}
	return &Field{Name: reflectutil.SnakeCase(f.Name)}, false, false, nil
}

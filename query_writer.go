package pnwkit

import (
	"fmt"
	"io"
	"strings"

	"github.com/llehouerou/pnwkit-go/internal/tagparser"
	"github.com/llehouerou/pnwkit-go/types"
)

// paginatedFields lists the root fields the API serves as paginated
// collections.
var paginatedFields = map[string]bool{
	"nations":          true,
	"alliances":        true,
	"cities":           true,
	"wars":             true,
	"warattacks":       true,
	"trades":           true,
	"tradeprices":      true,
	"treasure_trades":  true,
	"bankrecs":         true,
	"bounties":         true,
	"treaties":         true,
	"embargoes":        true,
	"baseball_games":   true,
	"baseball_players": true,
	"baseball_teams":   true,
}

// IsPaginated reports whether name is a paginated root field.
func IsPaginated(name string) bool {
	return paginatedFields[name]
}

// Field is a field selection: a name, an optional alias, arguments and
// sub-selections. A sub-selection is either a string, written verbatim, or
// a *Field.
type Field struct {
	Name      string
	Alias     string
	Arguments Args
	Fields    []any

	// RawArguments is argument text written verbatim after Arguments.
	RawArguments string
}

// NewField returns a field selection.
func NewField(name string, args Args, subfields ...any) *Field {
	return &Field{Name: name, Arguments: args, Fields: subfields}
}

// As returns a copy of f with the given response alias.
func (f *Field) As(alias string) *Field {
	clone := f.Clone()
	clone.Alias = alias
	return clone
}

// Clone copies the field and its argument list. Sub-selections are shared.
func (f *Field) Clone() *Field {
	clone := *f
	clone.Arguments = make(Args, len(f.Arguments))
	copy(clone.Arguments, f.Arguments)
	clone.Fields = make([]any, len(f.Fields))
	copy(clone.Fields, f.Fields)
	return &clone
}

// ResponseKey returns the key the field's data appears under in a response.
func (f *Field) ResponseKey() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// variables returns every variable referenced by the field's arguments and,
// recursively, by its nested fields.
func (f *Field) variables(dst []*Variable) []*Variable {
	for _, arg := range f.Arguments {
		dst = collectVariables(dst, arg.Value)
	}
	for _, sub := range f.Fields {
		if sf, ok := sub.(*Field); ok && sf != nil {
			dst = sf.variables(dst)
		}
	}
	return dst
}

// writeField writes the selection of f to w. Paginated root fields are
// wrapped in their data/paginatorInfo envelope.
func writeField(w io.Writer, f *Field, root bool) error {
	if f == nil {
		return fmt.Errorf("nil field")
	}
	if f.Alias != "" {
		if !tagparser.IsName(f.Alias) {
			return fmt.Errorf("invalid alias %q", f.Alias)
		}
		_, _ = io.WriteString(w, f.Alias)
		_, _ = io.WriteString(w, ":")
	}
	if !tagparser.IsName(f.Name) {
		return fmt.Errorf("invalid field name %q", f.Name)
	}
	_, _ = io.WriteString(w, f.Name)

	if len(f.Arguments) > 0 || f.RawArguments != "" {
		_, _ = io.WriteString(w, "(")
		if err := writeArguments(w, f.Arguments); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		if f.RawArguments != "" {
			if len(f.Arguments) > 0 {
				_, _ = io.WriteString(w, ", ")
			}
			_, _ = io.WriteString(w, f.RawArguments)
		}
		_, _ = io.WriteString(w, ")")
	}

	if len(f.Fields) == 0 {
		return nil
	}
	paginated := root && IsPaginated(f.Name)
	if paginated {
		_, _ = io.WriteString(w, "{"+types.TypenameField+" "+types.DataField)
	}
	if err := writeSelection(w, f.Fields); err != nil {
		return fmt.Errorf("field %q: %w", f.Name, err)
	}
	if paginated {
		_, _ = io.WriteString(w, " "+types.PaginatorInfoField+"{"+types.TypenameField+" ")
		_, _ = io.WriteString(w, strings.Join(types.PaginatorInfoFields, " "))
		_, _ = io.WriteString(w, "}}")
	}
	return nil
}

// writeSelection writes a {__typename ...} block. Every object selection in
// a raw string gets its own __typename.
func writeSelection(w io.Writer, fields []any) error {
	_, _ = io.WriteString(w, "{"+types.TypenameField)
	for i, sub := range fields {
		_, _ = io.WriteString(w, " ")
		switch sub := sub.(type) {
		case string:
			_, _ = io.WriteString(w, strings.ReplaceAll(sub, "{", "{"+types.TypenameField+" "))
		case *Field:
			if err := writeField(w, sub, false); err != nil {
				return err
			}
		default:
			return fmt.Errorf("selection %d: unsupported type %T", i, sub)
		}
	}
	_, _ = io.WriteString(w, "}")
	return nil
}

package pnwkit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"maps"
	"sync"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/llehouerou/pnwkit-go/internal/tagparser"
)

// Query is a GraphQL operation under construction: an operation kind, an
// ordered list of root fields, the variables they declare and the values
// bound to them.
//
// Query and QueryAs append to the receiver and return it for chaining;
// SetVariables and Clone return new queries and leave the receiver
// untouched. A Query must not be appended to while it is being executed.
type Query struct {
	client    *Client
	operation ast.Operation
	name      string
	fields    []*Field
	variables []*Variable
	values    map[string]any

	mu   sync.Mutex
	text string
	hash string
}

func newQuery(c *Client, op ast.Operation) *Query {
	return &Query{
		client:    c,
		operation: op,
		values:    make(map[string]any),
	}
}

// Query appends a root field and returns q.
func (q *Query) Query(name string, args Args, subfields ...any) *Query {
	return q.Field(NewField(name, args, subfields...))
}

// QueryAs appends a root field under a response alias and returns q.
func (q *Query) QueryAs(name, alias string, args Args, subfields ...any) *Query {
	f := NewField(name, args, subfields...)
	f.Alias = alias
	return q.Field(f)
}

// Field appends a prebuilt root field and returns q. Every variable the
// field references is declared; the first declaration of a name wins.
func (q *Query) Field(f *Field) *Query {
	q.fields = append(q.fields, f)
	for _, v := range f.variables(nil) {
		q.declare(v)
	}
	q.invalidate()
	return q
}

func (q *Query) declare(v *Variable) {
	for _, existing := range q.variables {
		if existing.Name == v.Name {
			return
		}
	}
	q.variables = append(q.variables, v)
}

// Named returns a copy of q with an operation name.
func (q *Query) Named(name string) *Query {
	clone := q.Clone()
	clone.name = name
	return clone
}

// Operation returns the operation kind.
func (q *Query) Operation() ast.Operation {
	return q.operation
}

// Fields returns the root fields.
func (q *Query) Fields() []*Field {
	out := make([]*Field, len(q.fields))
	copy(out, q.fields)
	return out
}

// Variables returns the declared variables in declaration order.
func (q *Query) Variables() []*Variable {
	out := make([]*Variable, len(q.variables))
	copy(out, q.variables)
	return out
}

// Values returns a copy of the bound variable values.
func (q *Query) Values() map[string]any {
	return maps.Clone(q.values)
}

// SetVariables returns a copy of q with values merged over the existing
// bindings.
func (q *Query) SetVariables(values map[string]any) *Query {
	clone := q.Clone()
	maps.Copy(clone.values, values)
	return clone
}

// Clone returns a copy of q sharing its fields and owning independent
// variable declarations and values.
func (q *Query) Clone() *Query {
	q.mu.Lock()
	text, hash := q.text, q.hash
	q.mu.Unlock()
	return &Query{
		client:    q.client,
		operation: q.operation,
		name:      q.name,
		fields:    append([]*Field(nil), q.fields...),
		variables: append([]*Variable(nil), q.variables...),
		values:    maps.Clone(q.values),
		text:      text,
		hash:      hash,
	}
}

// CheckValidity returns a *MissingVariablesError naming every declared
// variable that has neither a value nor a default.
func (q *Query) CheckValidity() error {
	var missing []string
	for _, v := range q.variables {
		if _, ok := q.values[v.Name]; ok || v.HasDefault() {
			continue
		}
		missing = append(missing, v.Name)
	}
	if len(missing) > 0 {
		return &MissingVariablesError{Names: missing}
	}
	return nil
}

// Resolve returns the query text. The result is cached until a field is
// appended.
//
// E.g. query($_page:Int){nations(page:$_page){__typename data{...} paginatorInfo{...}}}
func (q *Query) Resolve() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.text != "" {
		return q.text, nil
	}
	var buf bytes.Buffer
	if err := q.write(&buf); err != nil {
		return "", fmt.Errorf("pnwkit: resolving %s: %w", q.operation, err)
	}
	q.text = buf.String()
	return q.text, nil
}

func (q *Query) write(w io.Writer) error {
	if len(q.fields) == 0 {
		return errors.New("no fields selected")
	}
	_, _ = io.WriteString(w, string(q.operation))
	if q.name != "" {
		if !tagparser.IsName(q.name) {
			return fmt.Errorf("invalid operation name %q", q.name)
		}
		_, _ = io.WriteString(w, " ")
		_, _ = io.WriteString(w, q.name)
	}
	if len(q.variables) > 0 {
		_, _ = io.WriteString(w, "(")
		for i, v := range q.variables {
			if i > 0 {
				_, _ = io.WriteString(w, ", ")
			}
			if err := v.writeDeclaration(w); err != nil {
				return err
			}
		}
		_, _ = io.WriteString(w, ")")
	}
	_, _ = io.WriteString(w, "{")
	for i, f := range q.fields {
		if i > 0 {
			_, _ = io.WriteString(w, " ")
		}
		if err := writeField(w, f, true); err != nil {
			return err
		}
	}
	_, _ = io.WriteString(w, "}")
	return nil
}

// Hash returns the lowercase hex SHA-256 of the resolved text, used as the
// persisted query id.
func (q *Query) Hash() (string, error) {
	text, err := q.Resolve()
	if err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.hash == "" {
		sum := sha256.Sum256([]byte(text))
		q.hash = hex.EncodeToString(sum[:])
	}
	return q.hash, nil
}

func (q *Query) invalidate() {
	q.mu.Lock()
	q.text = ""
	q.hash = ""
	q.mu.Unlock()
}

func (q *Query) clearHash() {
	q.mu.Lock()
	q.hash = ""
	q.mu.Unlock()
}

// Get executes the query and decodes the response.
func (q *Query) Get(ctx context.Context) (*Result, error) {
	if q.client == nil {
		return nil, errors.New("pnwkit: query has no client")
	}
	return q.client.execute(ctx, q)
}

// GetAsync executes the query in its own goroutine.
func (q *Query) GetAsync(ctx context.Context) *Future[*Result] {
	return Go(ctx, q.Get)
}

// Paginate returns a paginator over the root field with the given response
// key that fetches one page per request.
func (q *Query) Paginate(field string) (*Paginator, error) {
	return newPaginator(q, field, false)
}

// PaginateAsync returns a paginator over the root field with the given
// response key that may fetch pages concurrently; see Paginator.Batch.
func (q *Query) PaginateAsync(field string) (*Paginator, error) {
	return newPaginator(q, field, true)
}

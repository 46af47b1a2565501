package pnwkit_test

import (
	"testing"
	"time"

	pnwkit "github.com/llehouerou/pnwkit-go"
)

type cityView struct {
	Name           string
	Infrastructure float64
	Founded        time.Time `json:"date"`
}

type auditFields struct {
	Score float64 `json:"score"`
}

type nationView struct {
	ID       int64      `json:"id"`
	Name     string     `json:"nation_name"`
	Cities   []cityView `graphql:"cities(orderBy: DESC)"`
	Leader   string     `graphql:"leader: leader_name"`
	Internal string     `json:"-"`
	Ignored  string     `graphql:"-"`
	Alliance *struct {
		AllianceName string `json:"name"`
	}
	auditFields

	unexported string
}

func TestFieldsFor(t *testing.T) {
	fields, err := pnwkit.FieldsFor(nationView{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := pnwkit.NewClient("key", nil).Query("nations", nil, fields...).Resolve()
	if err != nil {
		t.Fatal(err)
	}
	want := `query{nations{__typename data{__typename id nation_name` +
		` cities(orderBy: DESC){__typename name infrastructure date}` +
		` leader:leader_name` +
		` alliance{__typename name}` +
		` score}` + paginatorInfoSelection + `}}`
	if got != want {
		t.Errorf("\ngot:  %s\nwant: %s", got, want)
	}
}

func TestFieldsFor_pointerAndSlice(t *testing.T) {
	for _, v := range []any{&nationView{}, []nationView{}, []*nationView{}} {
		fields, err := pnwkit.FieldsFor(v)
		if err != nil {
			t.Errorf("FieldsFor(%T): %v", v, err)
			continue
		}
		if len(fields) != 6 {
			t.Errorf("FieldsFor(%T): got %d fields, want 6", v, len(fields))
		}
	}
}

type recursive struct {
	Name     string
	Children []recursive
}

type tagVariable struct {
	Cities []cityView `graphql:"cities(first: $n)"`
}

type tagStringLiteral struct {
	Cities []cityView `graphql:"cities(name: \"$5 city\")"`
}

func TestFieldsFor_errors(t *testing.T) {
	for _, v := range []any{nil, 42, "nations", recursive{}, tagVariable{}} {
		if fields, err := pnwkit.FieldsFor(v); err == nil {
			t.Errorf("FieldsFor(%T): got %v, want an error", v, fields)
		}
	}

	defer func() {
		if recover() == nil {
			t.Error("MustFieldsFor did not panic")
		}
	}()
	pnwkit.MustFieldsFor(42)
}

func TestFieldsFor_tagArgumentsAreLiterals(t *testing.T) {
	fields, err := pnwkit.FieldsFor(tagStringLiteral{})
	if err != nil {
		t.Fatalf("a $ inside a string literal was rejected: %v", err)
	}
	f, ok := fields[0].(*pnwkit.Field)
	if !ok || f.RawArguments != `name: "$5 city"` {
		t.Errorf("got %#v, want the literal arguments kept verbatim", fields[0])
	}
}

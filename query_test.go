package pnwkit_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	pnwkit "github.com/llehouerou/pnwkit-go"
)

const paginatorInfoSelection = " paginatorInfo{__typename count currentPage firstItem hasMorePages lastItem lastPage perPage total}"

func TestQuery_Resolve(t *testing.T) {
	client := pnwkit.NewClient("key", nil)
	ids := pnwkit.NewVariable("ids", pnwkit.TypeIntList)
	first := pnwkit.NewVariable("first", pnwkit.TypeInt).WithDefault(50)

	tests := []struct {
		name  string
		query *pnwkit.Query
		want  string
	}{
		{
			name:  "paginated root field",
			query: client.Query("nations", pnwkit.Args{pnwkit.Arg("first", 5)}, "id nation_name"),
			want:  `query{nations(first:5){__typename data{__typename id nation_name}` + paginatorInfoSelection + `}}`,
		},
		{
			name:  "plain root field",
			query: client.Query("me", nil, "key requests"),
			want:  `query{me{__typename key requests}}`,
		},
		{
			name:  "raw nested selection",
			query: client.Query("me", nil, "key nation{id alliance{name}}"),
			want:  `query{me{__typename key nation{__typename id alliance{__typename name}}}}`,
		},
		{
			name: "nested field with list argument",
			query: client.Query("nations", pnwkit.Args{pnwkit.Arg("id", []int{1, 2})},
				"id",
				pnwkit.NewField("cities", pnwkit.Args{pnwkit.Arg("orderBy", pnwkit.Enum("DESC"))}, "name"),
			),
			want: `query{nations(id:[1, 2]){__typename data{__typename id cities(orderBy:DESC){__typename name}}` + paginatorInfoSelection + `}}`,
		},
		{
			name:  "variables",
			query: client.Query("nations", pnwkit.Args{pnwkit.Arg("id", ids), pnwkit.Arg("first", first)}, "id"),
			want:  `query($ids:[Int], $first:Int=50){nations(id:$ids, first:$first){__typename data{__typename id}` + paginatorInfoSelection + `}}`,
		},
		{
			name: "aliases",
			query: client.QueryAs("nation", "a", pnwkit.Args{pnwkit.Arg("name", "Foo")}, "id").
				QueryAs("nation", "b", pnwkit.Args{pnwkit.Arg("name", "Bar")}, "id"),
			want: `query{a:nation(name:"Foo"){__typename id} b:nation(name:"Bar"){__typename id}}`,
		},
		{
			name: "mutation scalars",
			query: client.Mutation("bankDeposit", pnwkit.Args{
				pnwkit.Arg("money", 1.5),
				pnwkit.Arg("note", `say "hi"`),
				pnwkit.Arg("anonymous", false),
				pnwkit.Arg("receiver", nil),
			}, "id"),
			want: `mutation{bankDeposit(money:1.5, note:"say \"hi\"", anonymous:false, receiver:null){__typename id}}`,
		},
		{
			name:  "named operation",
			query: client.Query("me", nil, "key").Named("Me"),
			want:  `query Me{me{__typename key}}`,
		},
		{
			name: "input object",
			query: client.Mutation("bankWithdraw", pnwkit.Args{
				pnwkit.Arg("resources", map[string]any{"money": 10, "food": 2}),
			}, "id"),
			want: `mutation{bankWithdraw(resources:{food:2, money:10}){__typename id}}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.query.Resolve()
			if err != nil {
				t.Fatalf("got error: %v, want: nil", err)
			}
			if got != tc.want {
				t.Errorf("\ngot:  %q\nwant: %q", got, tc.want)
			}
			if _, err := parser.ParseQuery(&ast.Source{Input: got}); err != nil {
				t.Errorf("resolved text does not parse: %v", err)
			}
		})
	}
}

func TestQuery_ResolveIsCachedAndInvalidated(t *testing.T) {
	client := pnwkit.NewClient("key", nil)
	q := client.Query("me", nil, "key")

	first, err := q.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	again, _ := q.Resolve()
	if first != again {
		t.Errorf("got %q, want %q", again, first)
	}
	hash, err := q.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if len(hash) != 64 {
		t.Errorf("got hash %q, want 64 hex characters", hash)
	}

	q.Query("game_info", nil, "game_date")
	second, _ := q.Resolve()
	if second == first {
		t.Errorf("resolved text unchanged after appending a field: %q", second)
	}
	if !strings.HasSuffix(second, ` game_info{__typename game_date}}`) {
		t.Errorf("got %q, want the appended field last", second)
	}
	newHash, _ := q.Hash()
	if newHash == hash {
		t.Error("hash unchanged after appending a field")
	}
}

func TestQuery_NestedVariablesAreDeclared(t *testing.T) {
	client := pnwkit.NewClient("key", nil)
	cityIDs := pnwkit.NewVariable("cityIds", pnwkit.TypeIntList)
	dup := pnwkit.NewVariable("cityIds", pnwkit.TypeString)

	q := client.Query("nations", nil,
		"id",
		pnwkit.NewField("cities", pnwkit.Args{pnwkit.Arg("id", cityIDs)}, "name"),
	).Query("cities", pnwkit.Args{pnwkit.Arg("id", dup)}, "id")

	var got []string
	for _, v := range q.Variables() {
		got = append(got, v.Name+":"+string(v.Type))
	}
	if diff := cmp.Diff([]string{"cityIds:[Int]"}, got); diff != "" {
		t.Errorf("variables mismatch (-want +got):\n%s", diff)
	}
}

func TestQuery_SetVariablesBranches(t *testing.T) {
	client := pnwkit.NewClient("key", nil)
	page := pnwkit.NewVariable("page", pnwkit.TypeInt)
	base := client.Query("nations", pnwkit.Args{pnwkit.Arg("page", page)}, "id")

	p1 := base.SetVariables(map[string]any{"page": 1})
	p2 := p1.SetVariables(map[string]any{"page": 2})

	if _, ok := base.Values()["page"]; ok {
		t.Error("SetVariables mutated the original query")
	}
	if got := p1.Values()["page"]; got != 1 {
		t.Errorf("got page %v, want 1", got)
	}
	if got := p2.Values()["page"]; got != 2 {
		t.Errorf("got page %v, want 2", got)
	}
}

func TestQuery_CheckValidity(t *testing.T) {
	client := pnwkit.NewClient("key", nil)
	q := client.Query("nations", pnwkit.Args{
		pnwkit.Arg("id", pnwkit.NewVariable("id", pnwkit.TypeInt)),
		pnwkit.Arg("first", pnwkit.NewVariable("first", pnwkit.TypeInt).WithDefault(5)),
		pnwkit.Arg("color", pnwkit.NewVariable("color", pnwkit.TypeString)),
	}, "id")

	err := q.CheckValidity()
	var missing *pnwkit.MissingVariablesError
	if !errors.As(err, &missing) {
		t.Fatalf("got error %v, want *MissingVariablesError", err)
	}
	if diff := cmp.Diff([]string{"id", "color"}, missing.Names); diff != "" {
		t.Errorf("missing names mismatch (-want +got):\n%s", diff)
	}

	if err := q.SetVariables(map[string]any{"id": 1, "color": "aqua"}).CheckValidity(); err != nil {
		t.Errorf("got error %v, want nil", err)
	}
}

func TestQuery_ResolveErrors(t *testing.T) {
	client := pnwkit.NewClient("key", nil)
	tests := []struct {
		name  string
		query *pnwkit.Query
	}{
		{"invalid field name", client.Query("bad name", nil, "id")},
		{"invalid alias", client.QueryAs("nations", "1a", nil, "id")},
		{"invalid argument name", client.Query("nations", pnwkit.Args{pnwkit.Arg("", 1)}, "id")},
		{"invalid enum", client.Query("nations", pnwkit.Args{pnwkit.Arg("orderBy", pnwkit.Enum("a b"))}, "id")},
		{"unsupported selection", client.Query("nations", nil, 42)},
		{"unsupported argument", client.Query("nations", pnwkit.Args{pnwkit.Arg("id", make(chan int))}, "id")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got, err := tc.query.Resolve(); err == nil {
				t.Errorf("got %q, want an error", got)
			}
		})
	}
}

func TestIsPaginated(t *testing.T) {
	for name, want := range map[string]bool{
		"nations":   true,
		"trades":    true,
		"me":        false,
		"game_info": false,
	} {
		if got := pnwkit.IsPaginated(name); got != want {
			t.Errorf("IsPaginated(%q) = %v, want %v", name, got, want)
		}
	}
}

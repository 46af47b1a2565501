package pnwkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// pageServer serves pages 1..last of nations, two per page, with ids
// page*10+1 and page*10+2.
type pageServer struct {
	t    *testing.T
	last int

	mu    sync.Mutex
	pages []int

	// before, if set, runs before a page is answered.
	before func(page int)
	// fail, if set, makes the page answer with a GraphQL error.
	fail int
}

func (s *pageServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var in struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		s.t.Errorf("decoding request: %v", err)
		return
	}
	page := int(in.Variables[pageVariable].(float64))
	s.mu.Lock()
	s.pages = append(s.pages, page)
	s.mu.Unlock()

	if s.before != nil {
		s.before(page)
	}
	if page == s.fail {
		writeBody(w, `{"errors": [{"message": "page unavailable"}]}`)
		return
	}
	writeBody(w, pageBody(page, s.last))
}

func (s *pageServer) requested() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.pages...)
}

func pageBody(page, last int) string {
	return fmt.Sprintf(`{"data": {"nations": {
		"__typename": "NationPaginator",
		"data": [
			{"__typename": "Nation", "id": "%d"},
			{"__typename": "Nation", "id": "%d"}
		],
		"paginatorInfo": {
			"__typename": "PaginatorInfo",
			"count": 2, "currentPage": %d, "firstItem": %d, "hasMorePages": %t,
			"lastItem": %d, "lastPage": %d, "perPage": 2, "total": %d
		}
	}}}`, page*10+1, page*10+2, page, page*2-1, page < last, page*2, last, last*2)
}

func collectIDs(t *testing.T, p *Paginator) []int64 {
	t.Helper()
	var ids []int64
	for rec, err := range p.All(context.Background()) {
		if err != nil {
			t.Fatalf("got error: %v", err)
		}
		id, _ := rec.Int("id")
		ids = append(ids, id)
	}
	return ids
}

func TestPaginator_sequential(t *testing.T) {
	srv := &pageServer{t: t, last: 3}
	tc := newTestClient(t, srv)

	p, err := tc.Query("nations", Args{Arg("first", 2)}, "id").Paginate("nations")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Batch(3); err != nil {
		t.Fatal(err)
	}

	want := []int64{11, 12, 21, 22, 31, 32}
	if diff := cmp.Diff(want, collectIDs(t, p)); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, srv.requested()); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
	if _, err := p.Next(context.Background()); !errors.Is(err, Done) {
		t.Errorf("got error %v after the last page, want Done", err)
	}
	info, ok := p.PaginatorInfo()
	if !ok || info.CurrentPage != 3 || info.HasMorePages {
		t.Errorf("got paginator info %+v, want the last page", info)
	}
}

func TestPaginator_batchedPagesKeepPageOrder(t *testing.T) {
	const batch = 3
	arrived := make(chan int, batch)
	srv := &pageServer{t: t, last: 5}
	srv.before = func(page int) {
		if page < 3 {
			return
		}
		arrived <- page
		// Every page of the batch must be in flight before any is
		// answered; then the later pages answer first.
		deadline := time.After(5 * time.Second)
		for len(arrived) < batch {
			select {
			case <-deadline:
				t.Errorf("page %d: batch requests were not concurrent", page)
				return
			case <-time.After(time.Millisecond):
			}
		}
		time.Sleep(time.Duration(6-page) * 20 * time.Millisecond)
	}
	tc := newTestClient(t, srv)

	p, err := tc.Query("nations", Args{Arg("first", 2)}, "id").PaginateAsync("nations")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	// Read pages 1 and 2 one at a time.
	for range 4 {
		if _, err := p.Next(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := p.Batch(batch); err != nil {
		t.Fatal(err)
	}

	want := []int64{31, 32, 41, 42, 51, 52}
	if diff := cmp.Diff(want, collectIDs(t, p)); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	requested := srv.requested()
	if diff := cmp.Diff([]int{1, 2}, requested[:2]); diff != "" {
		t.Errorf("first pages mismatch (-want +got):\n%s", diff)
	}
	batched := map[int]bool{}
	for _, page := range requested[2:] {
		batched[page] = true
	}
	if diff := cmp.Diff(map[int]bool{3: true, 4: true, 5: true}, batched); diff != "" || len(requested) != 5 {
		t.Errorf("got pages %v, want 3, 4 and 5 requested once", requested)
	}
}

func TestPaginator_batchIsClippedToLastPage(t *testing.T) {
	srv := &pageServer{t: t, last: 3}
	tc := newTestClient(t, srv)

	p, err := tc.Query("nations", nil, "id").PaginateAsync("nations")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Next(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Batch(10); err != nil {
		t.Fatal(err)
	}

	if got := len(collectIDs(t, p)); got != 5 {
		t.Errorf("got %d remaining items, want 5", got)
	}
	if got := len(srv.requested()); got != 3 {
		t.Errorf("got %d requests (%v), want 3", got, srv.requested())
	}
}

func TestPaginator_errors(t *testing.T) {
	srv := &pageServer{t: t, last: 3, fail: 2}
	tc := newTestClient(t, srv)
	q := tc.Query("nations", nil, "id")

	if _, err := q.Paginate("alliances"); !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("got error %v, want ErrFieldNotFound", err)
	}
	p, err := q.Paginate("nations")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Batch(0); !errors.Is(err, ErrInvalidBatchSize) {
		t.Errorf("got error %v, want ErrInvalidBatchSize", err)
	}

	var ids []int64
	var gotErr error
	for rec, err := range p.All(context.Background()) {
		if err != nil {
			gotErr = err
			break
		}
		id, _ := rec.Int("id")
		ids = append(ids, id)
	}
	if diff := cmp.Diff([]int64{11, 12}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	var gqlErr *GraphQLError
	if !errors.As(gotErr, &gqlErr) || !strings.Contains(gotErr.Error(), "page 2") {
		t.Errorf("got error %v, want a GraphQL error for page 2", gotErr)
	}
}

func TestPaginator_derivedQuery(t *testing.T) {
	tc := newTestClient(t, http.NotFoundHandler())
	q := tc.QueryAs("nations", "members", Args{Arg("first", 50)}, "id").Named("Members")

	p, err := q.Paginate("members")
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Query().Resolve()
	if err != nil {
		t.Fatal(err)
	}
	want := `query Members($_page:Int){members:nations(first:50, page:$_page){__typename data{__typename id}` +
		` paginatorInfo{__typename count currentPage firstItem hasMorePages lastItem lastPage perPage total}}}`
	if got != want {
		t.Errorf("\ngot:  %s\nwant: %s", got, want)
	}
	if orig, _ := q.Resolve(); strings.Contains(orig, "_page") {
		t.Errorf("deriving a paginator changed the original query: %s", orig)
	}
	if v := p.Query().Values()[pageVariable]; v != 1 {
		t.Errorf("got first page %v, want 1", v)
	}
}

package pnwkit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/llehouerou/pnwkit-go/internal/ratelimit"
)

var testNow = time.Unix(1_700_000_000, 0)

// testClient is a client talking to srv, with an isolated rate limit
// registry on a fixed clock and a sleep hook recording every wait.
type testClient struct {
	*Client
	mu    sync.Mutex
	waits []time.Duration
}

func newTestClient(t *testing.T, handler http.Handler) *testClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tc := &testClient{}
	c := NewClient("secret", srv.Client()).WithURL(srv.URL + "/graphql")
	c.limits = ratelimit.NewRegistry(ratelimit.WithClock(func() time.Time { return testNow }))
	c.sleep = func(ctx context.Context, d time.Duration) error {
		tc.mu.Lock()
		defer tc.mu.Unlock()
		tc.waits = append(tc.waits, d)
		return ctx.Err()
	}
	tc.Client = c
	return tc
}

func (tc *testClient) recordedWaits() []time.Duration {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]time.Duration(nil), tc.waits...)
}

func writeBody(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

const meResponse = `{"data": {"me": {"__typename": "ApiKeyDetails", "key": "k"}}}`

func TestSend_retriesAfter429(t *testing.T) {
	var calls int
	tc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		if calls <= 2 {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(testNow.Add(2*time.Second).Unix(), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeBody(w, meResponse)
	}))

	res, err := tc.Query("me", nil, "key").Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Record("me").Str("key"); got != "k" {
		t.Errorf("got key %q, want k", got)
	}
	if calls != 3 {
		t.Errorf("got %d requests, want 3", calls)
	}
	if diff := cmp.Diff([]time.Duration{2 * time.Second, 2 * time.Second}, tc.recordedWaits()); diff != "" {
		t.Errorf("waits mismatch (-want +got):\n%s", diff)
	}
}

func TestSend_maxTriesExceeded(t *testing.T) {
	var calls int
	tc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := tc.Query("me", nil, "key").Get(context.Background())
	if !errors.Is(err, ErrMaxTriesExceeded) {
		t.Fatalf("got error %v, want ErrMaxTriesExceeded", err)
	}
	if calls != maxTries {
		t.Errorf("got %d requests, want %d", calls, maxTries)
	}
	waits := tc.recordedWaits()
	if len(waits) != maxTries-1 {
		t.Fatalf("got %d waits, want %d", len(waits), maxTries-1)
	}
	for _, w := range waits {
		if w != ratelimit.DefaultInterval {
			t.Errorf("got wait %v, want the default interval %v", w, ratelimit.DefaultInterval)
		}
	}
}

func TestSend_waitsWhenQuotaIsExhausted(t *testing.T) {
	tc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "2")
		w.Header().Set("X-RateLimit-Remaining", "1")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(testNow.Add(10*time.Second).Unix(), 10))
		w.Header().Set("X-RateLimit-Interval", "60")
		writeBody(w, meResponse)
	}))
	ctx := context.Background()

	for range 2 {
		if _, err := tc.Query("me", nil, "key").Get(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff([]time.Duration{11 * time.Second}, tc.recordedWaits()); diff != "" {
		t.Errorf("waits mismatch (-want +got):\n%s", diff)
	}
	state := tc.limits.Get(tc.url).State()
	if !state.Initialized || state.Remaining != 0 {
		t.Errorf("got state %+v, want initialized with nothing remaining", state)
	}
}

func TestSend_waitHonorsContext(t *testing.T) {
	tc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tc.Query("me", nil, "key").Get(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got error %v, want context.Canceled", err)
	}
}

func persistedHash(t *testing.T, req *http.Request) string {
	t.Helper()
	var ext persistedQueryExtension
	if err := json.Unmarshal([]byte(req.URL.Query().Get("extensions")), &ext); err != nil {
		t.Fatalf("decoding extensions parameter: %v", err)
	}
	if ext.PersistedQuery.Version != 1 {
		t.Errorf("got version %d, want 1", ext.PersistedQuery.Version)
	}
	return ext.PersistedQuery.SHA256Hash
}

const persistedNotFound = `{"errors": [{"message": "PersistedQueryNotFound", "extensions": {"code": "PERSISTED_QUERY_NOT_FOUND"}}]}`

func TestSend_persistedQueryFallback(t *testing.T) {
	var methods []string
	var getHash string
	tc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		methods = append(methods, req.Method)
		switch req.Method {
		case http.MethodGet:
			getHash = persistedHash(t, req)
			if got := req.URL.Query().Get("variables"); got != `{"id":3}` {
				t.Errorf("got variables %q, want {\"id\":3}", got)
			}
			writeBody(w, persistedNotFound)
		case http.MethodPost:
			var in struct {
				Query      string                  `json:"query"`
				Extensions persistedQueryExtension `json:"extensions"`
			}
			if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
				t.Fatal(err)
			}
			sum := sha256.Sum256([]byte(in.Query))
			if got, want := in.Extensions.PersistedQuery.SHA256Hash, hex.EncodeToString(sum[:]); got != want {
				t.Errorf("got hash %s, want %s", got, want)
			}
			writeBody(w, meResponse)
		}
	}))
	c := tc.WithPersistedQueries(true)

	q := c.Query("me", Args{Arg("id", NewVariable("id", TypeInt))}, "key").
		SetVariables(map[string]any{"id": 3})
	if _, err := q.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{http.MethodGet, http.MethodPost}, methods); diff != "" {
		t.Errorf("methods mismatch (-want +got):\n%s", diff)
	}
	want, _ := q.Hash()
	if getHash != want {
		t.Errorf("got GET hash %s, want %s", getHash, want)
	}
}

func TestSend_persistedQueryNotFoundTwice(t *testing.T) {
	var calls int
	tc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		writeBody(w, persistedNotFound)
	}))

	_, err := tc.WithPersistedQueries(true).Query("me", nil, "key").Get(context.Background())
	if !errors.Is(err, ErrPersistedQueryNotFound) {
		t.Fatalf("got error %v, want ErrPersistedQueryNotFound", err)
	}
	var gqlErr *GraphQLError
	if !errors.As(err, &gqlErr) {
		t.Errorf("got error %v, want it to wrap *GraphQLError", err)
	}
	if calls != 2 {
		t.Errorf("got %d requests, want 2", calls)
	}
}

func TestSend_mutationsAreNeverPersisted(t *testing.T) {
	var methods []string
	tc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		methods = append(methods, req.Method)
		if req.URL.Query().Has("extensions") {
			t.Error("mutation sent with a persisted query extension")
		}
		writeBody(w, `{"data": {"bankDeposit": {"__typename": "Bankrec", "id": "9"}}}`)
	}))

	res, err := tc.WithPersistedQueries(true).
		Mutation("bankDeposit", Args{Arg("money", 5)}, "id").
		Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id, _ := res.Record("bankDeposit").Int("id"); id != 9 {
		t.Errorf("got id %d, want 9", id)
	}
	if diff := cmp.Diff([]string{http.MethodPost}, methods); diff != "" {
		t.Errorf("methods mismatch (-want +got):\n%s", diff)
	}
}

func TestSend_recordsSpans(t *testing.T) {
	tc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	}))
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	c := tc.WithTracerProvider(tp)

	_, err := c.Query("me", nil, "key").Get(context.Background())
	if err == nil {
		t.Fatal("got error: nil, want: non-nil")
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "pnwkit.request" {
		t.Errorf("got span %q, want pnwkit.request", span.Name())
	}
	if span.Status().Code != codes.Error {
		t.Errorf("got status %v, want Error", span.Status().Code)
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["http.status_code"].AsInt64(); got != http.StatusInternalServerError {
		t.Errorf("got http.status_code %d, want 500", got)
	}
	if got := attrs["graphql.operation.type"].AsString(); got != "query" {
		t.Errorf("got graphql.operation.type %q, want query", got)
	}
}

package pnwkit

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/vektah/gqlparser/v2/ast"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/llehouerou/pnwkit-go/types"
)

// maxTries is the number of attempts made for a request rejected with HTTP
// 429 before giving up.
const maxTries = 5

// Request is an HTTP request issued by the client.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport sends requests. Implementations must be safe for concurrent use.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

type httpTransport struct {
	client *http.Client
}

// NewHTTPTransport returns a Transport backed by httpClient.
func NewHTTPTransport(httpClient *http.Client) Transport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &httpTransport{client: httpClient}
}

func (t *httpTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	request, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("problem constructing request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			request.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	r, err := handleGzipResponse(resp, resp.Body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

// handleGzipResponse wraps the response body reader with a gzip decompressor
// if the Content-Encoding header indicates gzip compression.
func handleGzipResponse(resp *http.Response, bodyReader io.Reader) (io.ReadCloser, error) {
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(bodyReader)
		if err != nil {
			return nil, fmt.Errorf("problem trying to create gzip reader: %w", err)
		}
		return gr, nil
	}
	return io.NopCloser(bodyReader), nil
}

// requestMode selects how a query is put on the wire.
type requestMode int

const (
	modePost requestMode = iota
	modePersistedGet
	modePersistedPost
)

// execute checks q, sends it and decodes the response data.
func (c *Client) execute(ctx context.Context, q *Query) (*Result, error) {
	env, err := c.send(ctx, q)
	if err != nil {
		return nil, err
	}
	return decodeResult(c.registry, env.data)
}

// send runs q through the transport inside a pnwkit.request span, handling
// rate limits, 429 retries and the persisted query fallback.
func (c *Client) send(ctx context.Context, q *Query) (*envelope, error) {
	if err := q.CheckValidity(); err != nil {
		return nil, err
	}
	persisted := c.persisted && q.Operation() == ast.Query

	ctx, span := c.tracer.Start(ctx, "pnwkit.request", trace.WithAttributes(
		attribute.String("graphql.operation.type", string(q.Operation())),
		attribute.Bool("pnwkit.persisted", persisted),
	))
	defer span.End()

	env, err := c.sendMode(ctx, span, q, persistedMode(persisted))
	var gqlErr *GraphQLError
	if persisted && errors.As(err, &gqlErr) && gqlErr.persistedQueryNotFound() {
		c.logger.DebugContext(ctx, "persisted query not found, resending full query")
		span.AddEvent("persisted query fallback")
		q.clearHash()
		env, err = c.sendMode(ctx, span, q, modePersistedPost)
		if errors.As(err, &gqlErr) && gqlErr.persistedQueryNotFound() {
			err = fmt.Errorf("%w: %w", ErrPersistedQueryNotFound, err)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return env, nil
}

func persistedMode(persisted bool) requestMode {
	if persisted {
		return modePersistedGet
	}
	return modePost
}

// sendMode makes up to maxTries attempts, waiting on the rate limit before
// each one.
func (c *Client) sendMode(ctx context.Context, span trace.Span, q *Query, mode requestMode) (*envelope, error) {
	req, err := c.buildRequest(q, mode)
	if err != nil {
		return nil, err
	}
	limit := c.limits.Get(c.url)

	for attempt := 1; attempt <= maxTries; attempt++ {
		if wait := limit.Hit(); wait > 0 {
			c.logger.DebugContext(ctx, "rate limit reached, waiting", slog.Duration("wait", wait))
			if err := c.wait(ctx, wait); err != nil {
				return nil, err
			}
		}

		resp, err := c.transport.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		span.SetAttributes(
			attribute.Int("pnwkit.attempts", attempt),
			attribute.Int("http.status_code", resp.StatusCode),
		)
		if !limit.Initialized() {
			limit.Initialize(resp.Header)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := limit.Handle429(resp.Header.Get(types.HeaderRateLimitReset))
			c.logger.DebugContext(ctx, "request rate limited",
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
			)
			if attempt == maxTries {
				break
			}
			if err := c.wait(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}
		return parseEnvelope(resp)
	}
	return nil, ErrMaxTriesExceeded
}

type persistedQueryExtension struct {
	PersistedQuery struct {
		Version    int    `json:"version"`
		SHA256Hash string `json:"sha256Hash"`
	} `json:"persistedQuery"`
}

// buildRequest puts q on the wire:
//   - modePost: POST {"query", "variables"}
//   - modePersistedGet: GET with extensions and variables as URL parameters
//   - modePersistedPost: POST {"query", "variables", "extensions"}
func (c *Client) buildRequest(q *Query, mode requestMode) (*Request, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("pnwkit: invalid url %q: %w", c.url, err)
	}
	params := u.Query()
	params.Set("api_key", c.apiKey)

	header := make(http.Header)
	if q.Operation() == ast.Mutation && c.botKey != "" {
		header.Set(types.HeaderBotKey, c.botKey)
		apiKey := c.botAPIKey
		if apiKey == "" {
			apiKey = c.apiKey
		}
		header.Set(types.HeaderAPIKey, apiKey)
	}

	var ext *persistedQueryExtension
	if mode != modePost {
		hash, err := q.Hash()
		if err != nil {
			return nil, err
		}
		ext = &persistedQueryExtension{}
		ext.PersistedQuery.Version = 1
		ext.PersistedQuery.SHA256Hash = hash
	}

	values := q.Values()
	if mode == modePersistedGet {
		b, err := json.Marshal(ext)
		if err != nil {
			return nil, err
		}
		params.Set(types.ExtensionsField, string(b))
		if len(values) > 0 {
			vb, err := json.Marshal(values)
			if err != nil {
				return nil, fmt.Errorf("pnwkit: encoding variables: %w", err)
			}
			params.Set("variables", string(vb))
		}
		u.RawQuery = params.Encode()
		return &Request{Method: http.MethodGet, URL: u.String(), Header: header}, nil
	}

	text, err := q.Resolve()
	if err != nil {
		return nil, err
	}
	in := struct {
		Query      string                   `json:"query"`
		Variables  map[string]any           `json:"variables,omitempty"`
		Extensions *persistedQueryExtension `json:"extensions,omitempty"`
	}{
		Query:      text,
		Variables:  values,
		Extensions: ext,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(in); err != nil {
		return nil, fmt.Errorf("pnwkit: encoding request: %w", err)
	}
	header.Set("Content-Type", "application/json")
	u.RawQuery = params.Encode()
	return &Request{Method: http.MethodPost, URL: u.String(), Header: header, Body: buf.Bytes()}, nil
}

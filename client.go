// Package pnwkit is a client for the Politics and War GraphQL API.
//
// It builds queries with variables and aliases, executes them under the
// API's header-driven rate limit, decodes responses into immutable typed
// records, walks paginated collections, and subscribes to real-time model
// events over the game's Pusher-style socket.
//
//	client := pnwkit.NewClient(apiKey, nil)
//	res, err := client.Query("nations", pnwkit.Args{pnwkit.Arg("id", 100541)},
//		"id nation_name",
//	).Get(ctx)
package pnwkit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/llehouerou/pnwkit-go/internal/ratelimit"
	"github.com/llehouerou/pnwkit-go/pkg/config"
)

const tracerName = "github.com/llehouerou/pnwkit-go"

// Client is a Politics and War API client.
//
// # Immutable Pattern
//
// The Client's With* methods return a new Client instance rather than
// modifying the receiver, so a configured Client is safe for concurrent use:
//
//	client = client.WithBotKey(botKey, botAPIKey) // Correct
//	client.WithBotKey(botKey, botAPIKey)          // Wrong - original client unchanged
//
// Clones share the socket used by subscriptions; closing any of them closes
// it for all.
type Client struct {
	apiKey       string
	botKey       string
	botAPIKey    string
	url          string
	socketURL    string
	subscribeURL string
	authURL      string
	persisted    bool

	httpClient *http.Client
	transport  Transport
	limits     *ratelimit.Registry
	registry   *Registry
	logger     *slog.Logger
	tracer     trace.Tracer

	// test hooks
	sleep            func(ctx context.Context, d time.Duration) error
	subscribeTimeout time.Duration
	pongTimeout      time.Duration
	reconnectDelay   time.Duration

	socket *socketSlot
}

// socketSlot holds the lazily opened socket shared by clones of a Client.
type socketSlot struct {
	mu     sync.Mutex
	socket *Socket
}

// NewClient creates a client authenticating with apiKey. If httpClient is
// nil, then http.DefaultClient is used.
func NewClient(apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiKey:           apiKey,
		url:              DefaultURL,
		socketURL:        DefaultSocketURL,
		subscribeURL:     DefaultSubscribeURL,
		authURL:          DefaultAuthURL,
		httpClient:       httpClient,
		transport:        NewHTTPTransport(httpClient),
		limits:           ratelimit.Default(),
		registry:         defaultRegistry,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:           otel.Tracer(tracerName),
		subscribeTimeout: defaultSubscribeTimeout,
		pongTimeout:      defaultPongTimeout,
		reconnectDelay:   defaultReconnectDelay,
		socket:           &socketSlot{},
	}
}

// NewClientFromConfig creates a client from a loaded configuration.
func NewClientFromConfig(cfg *config.Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	c := NewClient(cfg.APIKey, httpClient).
		WithURL(cfg.URL).
		WithSocketURL(cfg.SocketURL).
		WithSubscriptionURLs(cfg.SubscribeURL, cfg.AuthURL).
		WithPersistedQueries(cfg.PersistedQueries)
	if cfg.BotKey != "" {
		c = c.WithBotKey(cfg.BotKey, cfg.BotAPIKey)
	}
	return c
}

// Query starts a query with one root field.
func (c *Client) Query(name string, args Args, subfields ...any) *Query {
	return newQuery(c, ast.Query).Query(name, args, subfields...)
}

// QueryAs starts a query with one aliased root field.
func (c *Client) QueryAs(name, alias string, args Args, subfields ...any) *Query {
	return newQuery(c, ast.Query).QueryAs(name, alias, args, subfields...)
}

// Mutation starts a mutation with one root field.
func (c *Client) Mutation(name string, args Args, subfields ...any) *Query {
	return newQuery(c, ast.Mutation).Query(name, args, subfields...)
}

// MutationAs starts a mutation with one aliased root field.
func (c *Client) MutationAs(name, alias string, args Args, subfields ...any) *Query {
	return newQuery(c, ast.Mutation).QueryAs(name, alias, args, subfields...)
}

// Registry returns the record type registry used to decode responses.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Close closes the subscription socket, if one was opened. Active
// subscriptions end with ErrClosed.
func (c *Client) Close(ctx context.Context) error {
	c.socket.mu.Lock()
	s := c.socket.socket
	c.socket.socket = nil
	c.socket.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close(ctx)
}

// clone creates a copy of the Client with all fields preserved.
// This helper prevents field-copying bugs when adding new fields to Client.
func (c *Client) clone() *Client {
	clone := *c
	return &clone
}

// wait blocks for d, or until ctx ends.
func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if c.sleep != nil {
		return c.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package pnwkit

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Default endpoints of the game API.
const (
	DefaultURL          = "https://api.politicsandwar.com/graphql"
	DefaultSocketURL    = "wss://socket-api.politicsandwar.com/app/a22734a47847a64386c8?protocol=7"
	DefaultSubscribeURL = "https://api.politicsandwar.com/subscriptions/v1/subscribe"
	DefaultAuthURL      = "https://api.politicsandwar.com/subscriptions/v1/auth"
)

const (
	defaultSubscribeTimeout = 60 * time.Second
	defaultPongTimeout      = 30 * time.Second
	defaultReconnectDelay   = time.Second
)

// WithBotKey returns a new Client sending the X-Bot-Key and X-Api-Key
// headers with mutations. An empty botAPIKey uses the client's API key.
//
// This method follows an immutable pattern: it returns a NEW Client instance
// without modifying the original.
func (c *Client) WithBotKey(botKey, botAPIKey string) *Client {
	clone := c.clone()
	clone.botKey = botKey
	clone.botAPIKey = botAPIKey
	return clone
}

// WithURL returns a new Client targeting another GraphQL endpoint. Each
// endpoint keeps its own rate limit state. An empty url keeps the current
// one.
func (c *Client) WithURL(url string) *Client {
	clone := c.clone()
	if url != "" {
		clone.url = url
	}
	return clone
}

// WithSocketURL returns a new Client that opens its subscription socket at
// url. The socket is not shared with the receiver. An empty url keeps the
// current one.
func (c *Client) WithSocketURL(url string) *Client {
	clone := c.clone()
	if url != "" && url != c.socketURL {
		clone.socketURL = url
		clone.socket = &socketSlot{}
	}
	return clone
}

// WithSubscriptionURLs returns a new Client requesting subscription channels
// from subscribeURL and authorizing them at authURL. Empty values keep the
// current ones.
func (c *Client) WithSubscriptionURLs(subscribeURL, authURL string) *Client {
	clone := c.clone()
	if subscribeURL != "" {
		clone.subscribeURL = subscribeURL
	}
	if authURL != "" {
		clone.authURL = authURL
	}
	return clone
}

// WithPersistedQueries returns a new Client that sends queries as persisted
// query hashes first, falling back to the full text when the server does not
// know the hash. Mutations are always sent in full.
func (c *Client) WithPersistedQueries(enabled bool) *Client {
	clone := c.clone()
	clone.persisted = enabled
	return clone
}

// WithHTTPClient returns a new Client sending requests through httpClient.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	clone := c.clone()
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clone.httpClient = httpClient
	clone.transport = NewHTTPTransport(httpClient)
	return clone
}

// WithTransport returns a new Client executing GraphQL requests through t.
// Subscription side-channel requests still use the HTTP client.
func (c *Client) WithTransport(t Transport) *Client {
	clone := c.clone()
	clone.transport = t
	return clone
}

// WithLogger returns a new Client logging through l. Requests, retries and
// socket events are logged at debug level; dropped socket frames at warn.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	clone := c.clone()
	if l != nil {
		clone.logger = l
	}
	return clone
}

// WithTracerProvider returns a new Client creating its spans from tp.
func (c *Client) WithTracerProvider(tp trace.TracerProvider) *Client {
	clone := c.clone()
	if tp != nil {
		clone.tracer = tp.Tracer(tracerName)
	}
	return clone
}

// WithRegistry returns a new Client decoding responses with r.
func (c *Client) WithRegistry(r *Registry) *Client {
	clone := c.clone()
	if r != nil {
		clone.registry = r
	}
	return clone
}

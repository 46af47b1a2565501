package pnwkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/llehouerou/pnwkit-go/internal/queue"
	"github.com/llehouerou/pnwkit-go/pkg/jsonutil"
)

// Filters narrows the events a subscription receives. Each key is sent as a
// query parameter with its values joined by commas, e.g.
// Filters{"id": {1, 2}} -> id=1,2.
type Filters map[string][]any

// Callback is invoked in its own goroutine for every record a subscription
// receives.
type Callback func(ctx context.Context, rec *Record)

// Subscription receives the records of one model event. Records are
// delivered to the pull queue (Next, All) and to every callback.
//
// A Subscription survives reconnects of the socket; it ends when it is
// unsubscribed, when the client is closed, or when the socket fails for
// good.
type Subscription struct {
	id        uuid.UUID
	client    *Client
	model     string
	event     string
	filters   Filters
	callbacks []Callback
	items     *queue.Queue[*Record]

	mu        sync.Mutex
	channel   string
	succeeded chan struct{}
	socket    *Socket
	// ended is set once the subscription is unsubscribed or closed; an
	// ended subscription is never bound to a channel again.
	ended bool
}

// Subscribe requests a channel for model and event, binds it on the
// client's socket, opening it if needed, and returns once the server has
// confirmed the subscription.
func (c *Client) Subscribe(ctx context.Context, model, event string, filters Filters, callbacks ...Callback) (*Subscription, error) {
	sub := &Subscription{
		id:        uuid.New(),
		client:    c,
		model:     model,
		event:     event,
		filters:   filters,
		callbacks: callbacks,
		items:     queue.New[*Record](),
		succeeded: make(chan struct{}),
	}

	ctx, span := c.tracer.Start(ctx, "pnwkit.subscribe", trace.WithAttributes(
		attribute.String("pnwkit.subscription.id", sub.id.String()),
		attribute.String("pnwkit.subscription.model", model),
		attribute.String("pnwkit.subscription.event", event),
	))
	defer span.End()

	err := sub.start(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		sub.items.Close(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("pnwkit.subscription.channel", sub.Channel()))
	return sub, nil
}

func (s *Subscription) start(ctx context.Context) error {
	channel, err := s.requestChannel(ctx)
	if err != nil {
		return &SubscribeError{Model: s.model, Event: s.event, Err: err}
	}
	s.setChannel(channel)

	socket, err := s.client.openSocket(ctx)
	if err != nil {
		return &SubscribeError{Model: s.model, Event: s.event, Err: err}
	}
	s.mu.Lock()
	s.socket = socket
	s.mu.Unlock()
	return socket.subscribe(ctx, s)
}

// ID returns the identifier used in logs and spans.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Model returns the subscribed model, e.g. "nation".
func (s *Subscription) Model() string {
	return s.model
}

// Event returns the subscribed event, e.g. "update".
func (s *Subscription) Event() string {
	return s.event
}

// Channel returns the socket channel the subscription is bound to.
func (s *Subscription) Channel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

func (s *Subscription) setChannel(channel string) {
	s.mu.Lock()
	s.channel = channel
	s.mu.Unlock()
}

// Next returns the next received record, waiting for one to arrive. Once
// the subscription has ended and its buffer is drained, Next returns the
// error that ended it.
func (s *Subscription) Next(ctx context.Context) (*Record, error) {
	return s.items.Pop(ctx)
}

// All returns an iterator over received records. It stops when ctx ends or
// the subscription ends; the error is yielded with a nil record unless the
// subscription was unsubscribed or closed.
func (s *Subscription) All(ctx context.Context) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for {
			rec, err := s.Next(ctx)
			if errors.Is(err, ErrClosed) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Unsubscribe unbinds the channel and ends the subscription. Buffered
// records can still be read.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	socket := s.socket
	s.ended = true
	s.mu.Unlock()

	var err error
	if socket != nil {
		err = socket.unsubscribe(ctx, s)
	}
	s.close(ErrClosed)
	s.client.logger.DebugContext(ctx, "unsubscribed",
		slog.String("subscription", s.id.String()),
		slog.String("channel", s.Channel()),
	)
	return err
}

func (s *Subscription) close(err error) {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.items.Close(err)
}

func (s *Subscription) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// resetSucceeded arms a new confirmation signal and returns it.
func (s *Subscription) resetSucceeded() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded = make(chan struct{})
	return s.succeeded
}

func (s *Subscription) markSucceeded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.succeeded:
	default:
		close(s.succeeded)
	}
}

// requestChannel asks the API for the channel carrying the subscription's
// events.
func (s *Subscription) requestChannel(ctx context.Context) (string, error) {
	u, err := url.Parse(s.client.subscribeURL)
	if err != nil {
		return "", fmt.Errorf("pnwkit: invalid subscribe url %q: %w", s.client.subscribeURL, err)
	}
	u = u.JoinPath(s.model, s.event)
	params := u.Query()
	params.Set("api_key", s.client.apiKey)
	for _, k := range sortedKeys(s.filters) {
		vs := make([]string, len(s.filters[k]))
		for i, v := range s.filters[k] {
			vs[i] = fmt.Sprint(v)
		}
		params.Set(k, strings.Join(vs, ","))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("problem constructing request: %w", err)
	}
	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var out struct {
		Channel string          `json:"channel"`
		Errors  json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &InvalidResponseError{StatusCode: resp.StatusCode, Body: string(body), Err: err}
	}
	if len(out.Errors) > 0 && !isNull(out.Errors) {
		list, err := decodeErrors(out.Errors)
		if err != nil {
			return "", &InvalidResponseError{StatusCode: resp.StatusCode, Body: string(body), Err: err}
		}
		return "", &GraphQLError{Errors: list}
	}
	if resp.StatusCode >= http.StatusBadRequest || out.Channel == "" {
		return "", &InvalidResponseError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        errors.New("no channel in response"),
		}
	}
	return out.Channel, nil
}

func sortedKeys(f Filters) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// handleEvent decodes an event payload and delivers its records. Bulk
// events carry a list; each item is delivered on its own.
func (s *Subscription) handleEvent(ctx context.Context, event string, payload []byte) error {
	typename, bulk := EventTypeName(event)
	v, err := jsonutil.Decode(payload)
	if err != nil {
		return err
	}

	var items []any
	switch v := v.(type) {
	case []any:
		items = v
	case *jsonutil.Object:
		if bulk {
			return fmt.Errorf("bulk event %s carries an object, not a list", event)
		}
		items = []any{v}
	default:
		return fmt.Errorf("event %s carries %T", event, v)
	}

	records := make([]*Record, 0, len(items))
	for i, item := range items {
		obj, ok := item.(*jsonutil.Object)
		if !ok {
			return fmt.Errorf("event %s item %d is %T, not an object", event, i, item)
		}
		rec, err := s.client.registry.DecodeRecord(typename, obj)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	s.items.Push(records...)
	for _, rec := range records {
		for _, cb := range s.callbacks {
			go cb(ctx, rec)
		}
	}
	return nil
}

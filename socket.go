package pnwkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// State is the connection state of a Socket.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateEstablished
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const (
	maxActivityTimeout = 120 * time.Second
	socketReadLimit    = 16 << 20

	// Close codes 4000-4099 must not be retried; 4100-4199 may be retried
	// after a short delay.
	closeNoReconnectMin = 4000
	closeNoReconnectMax = 4099
	closeBackoffMin     = 4100
	closeBackoffMax     = 4199
)

// Socket is the persistent connection multiplexing subscriptions. It is
// opened by the first Client.Subscribe and reconnects on its own until it is
// closed or the server closes it with a fatal close code.
//
// Each connection runs a read loop; a single keepalive loop pings the
// server after a period of silence. Either may trigger a reconnect, which
// is single-flight per connection generation.
type Socket struct {
	client *Client
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}

	mu              sync.Mutex
	conn            *websocket.Conn
	generation      uint64
	state           State
	socketID        string
	established     chan struct{}
	activityTimeout time.Duration
	lastMessage     time.Time
	pingSent        time.Time
	awaitingPong    bool
	reconnecting    bool
	err             error
	subscriptions   map[string]*Subscription
}

// openSocket returns the client's socket, dialing it if needed.
func (c *Client) openSocket(ctx context.Context) (*Socket, error) {
	c.socket.mu.Lock()
	defer c.socket.mu.Unlock()
	if s := c.socket.socket; s != nil && s.State() != StateClosed {
		return s, nil
	}
	s, err := dialSocket(ctx, c)
	if err != nil {
		return nil, err
	}
	c.socket.socket = s
	return s, nil
}

func dialSocket(ctx context.Context, c *Client) (*Socket, error) {
	s := &Socket{
		client:          c,
		logger:          c.logger.With(slog.String("component", "socket")),
		wake:            make(chan struct{}, 1),
		state:           StateConnecting,
		established:     make(chan struct{}),
		activityTimeout: maxActivityTimeout,
		subscriptions:   make(map[string]*Subscription),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	conn, err := s.dial(ctx)
	if err != nil {
		s.cancel()
		s.state = StateDisconnected
		return nil, err
	}
	s.conn = conn
	s.generation = 1
	s.lastMessage = time.Now()

	go s.readLoop(s.generation, conn)
	go s.keepalive()
	return s, nil
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, s.client.socketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("pnwkit: dialing socket: %w", err)
	}
	conn.SetReadLimit(socketReadLimit)
	s.logger.DebugContext(ctx, "socket connected")
	return conn, nil
}

func (s *Socket) dialWithBackoff(ctx context.Context) (*websocket.Conn, error) {
	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		return s.dial(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.DebugContext(ctx, "socket dial failed, retrying",
				slog.Any("error", err),
				slog.Duration("next", next),
			)
		}),
	)
}

// State returns the connection state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that closed the socket, if any.
func (s *Socket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Socket) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			s.handleReadError(gen, err)
			return
		}
		s.handleFrame(gen, data)
	}
}

// handleReadError acts on the error ending the read loop of connection gen.
// Errors from a connection that was already replaced, or is being
// replaced, are ignored.
func (s *Socket) handleReadError(gen uint64, err error) {
	s.mu.Lock()
	stale := s.state == StateClosed || gen != s.generation || s.reconnecting
	s.mu.Unlock()
	if stale {
		return
	}
	code := websocket.CloseStatus(err)
	s.logger.Debug("socket read failed", slog.Any("error", err), slog.Int("close_code", int(code)))
	switch {
	case code >= closeNoReconnectMin && code <= closeNoReconnectMax:
		var ce websocket.CloseError
		errors.As(err, &ce)
		s.fail(&NoReconnectError{Code: int(code), Reason: ce.Reason})
	case code >= closeBackoffMin && code <= closeBackoffMax:
		s.reconnect(gen, s.client.reconnectDelay, websocket.StatusNormalClosure, "")
	default:
		s.reconnect(gen, 0, websocket.StatusNormalClosure, "")
	}
}

// handleFrame processes one message. Errors are logged; the read loop goes
// on.
func (s *Socket) handleFrame(gen uint64, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.logger.Warn("dropping malformed socket frame", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.lastMessage = time.Now()
	s.mu.Unlock()

	payload, err := f.payload()
	if err != nil {
		s.logger.Warn("dropping socket frame with malformed data",
			slog.String("event", f.Event),
			slog.Any("error", err),
		)
		return
	}

	switch f.Event {
	case eventConnectionEstablished:
		var est connectionEstablished
		if err := json.Unmarshal(payload, &est); err != nil {
			s.logger.Warn("malformed connection_established frame", slog.Any("error", err))
			return
		}
		s.handleEstablished(gen, est)
	case eventSubscriptionSucceeded:
		if sub := s.lookup(f.Channel); sub != nil {
			sub.markSucceeded()
		}
	case eventPing:
		if err := s.send(s.ctx, eventPong, map[string]any{}); err != nil {
			s.logger.Warn("answering ping failed", slog.Any("error", err))
		}
	case eventPong:
		s.mu.Lock()
		s.awaitingPong = false
		s.mu.Unlock()
		s.poke()
	case eventError:
		var pe pusherError
		_ = json.Unmarshal(payload, &pe)
		s.logger.Warn("socket error event", slog.String("message", pe.Message))
	default:
		if f.Channel == "" || strings.HasPrefix(f.Event, "pusher") {
			s.logger.Debug("ignoring socket event", slog.String("event", f.Event))
			return
		}
		sub := s.lookup(f.Channel)
		if sub == nil {
			s.logger.Debug("event for unknown channel", slog.String("channel", f.Channel))
			return
		}
		if err := sub.handleEvent(s.ctx, f.Event, payload); err != nil {
			s.logger.Warn("dropping subscription event",
				slog.String("subscription", sub.ID().String()),
				slog.String("event", f.Event),
				slog.Any("error", err),
			)
		}
	}
}

func (s *Socket) handleEstablished(gen uint64, est connectionEstablished) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.socketID = est.SocketID
	s.activityTimeout = maxActivityTimeout
	if t := time.Duration(est.ActivityTimeout) * time.Second; t > 0 && t < maxActivityTimeout {
		s.activityTimeout = t
	}
	s.state = StateEstablished
	select {
	case <-s.established:
	default:
		close(s.established)
	}
	timeout := s.activityTimeout
	s.mu.Unlock()

	s.logger.Debug("socket established",
		slog.String("socket_id", est.SocketID),
		slog.Duration("activity_timeout", timeout),
	)
	s.poke()
}

// waitEstablished returns the socket id once the current connection has
// completed its handshake.
func (s *Socket) waitEstablished(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		if s.state == StateClosed {
			err := s.closedErr()
			s.mu.Unlock()
			return "", err
		}
		if s.state == StateEstablished {
			id := s.socketID
			s.mu.Unlock()
			return id, nil
		}
		ch := s.established
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.ctx.Done():
		}
	}
}

// closedErr must be called with s.mu held.
func (s *Socket) closedErr() error {
	if s.err != nil {
		return s.err
	}
	return ErrClosed
}

func (s *Socket) lookup(channel string) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptions[channel]
}

func (s *Socket) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// send writes one frame to the current connection.
func (s *Socket) send(ctx context.Context, event string, data any) error {
	s.mu.Lock()
	conn := s.conn
	closed := s.state == StateClosed
	s.mu.Unlock()
	if closed || conn == nil {
		return ErrClosed
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, conn, frame{Event: event, Data: b})
}

// keepalive pings the server after activityTimeout of silence and
// reconnects when no pong arrives within the pong timeout.
func (s *Socket) keepalive() {
	timer := time.NewTimer(s.checkLiveness())
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		case <-s.wake:
		}
		timer.Reset(s.checkLiveness())
	}
}

// checkLiveness acts on the keepalive state and returns how long to wait
// before checking again.
func (s *Socket) checkLiveness() time.Duration {
	s.mu.Lock()
	if s.state != StateEstablished {
		d := s.activityTimeout
		s.mu.Unlock()
		return d
	}
	now := time.Now()
	if s.awaitingPong {
		deadline := s.pingSent.Add(s.client.pongTimeout)
		if now.Before(deadline) {
			s.mu.Unlock()
			return deadline.Sub(now)
		}
		gen := s.generation
		s.awaitingPong = false
		d := s.activityTimeout
		s.mu.Unlock()

		s.logger.Warn("no pong received, reconnecting")
		s.reconnect(gen, 0, websocket.StatusProtocolError, "Pong timeout")
		return d
	}
	idle := now.Sub(s.lastMessage)
	if idle < s.activityTimeout {
		d := s.activityTimeout - idle
		s.mu.Unlock()
		return d
	}
	s.awaitingPong = true
	s.pingSent = now
	s.mu.Unlock()

	s.logger.Debug("socket idle, sending ping", slog.Duration("idle", idle))
	if err := s.send(s.ctx, eventPing, map[string]any{}); err != nil {
		s.logger.Warn("sending ping failed", slog.Any("error", err))
	}
	return s.client.pongTimeout
}

// reconnect replaces the connection of generation gen. Calls for a stale
// generation, or while a reconnect is running, are ignored.
func (s *Socket) reconnect(gen uint64, delay time.Duration, code websocket.StatusCode, reason string) {
	s.mu.Lock()
	if s.state == StateClosed || gen != s.generation || s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.state = StateReconnecting
	s.socketID = ""
	s.established = make(chan struct{})
	old := s.conn
	s.mu.Unlock()

	go s.runReconnect(old, delay, code, reason)
}

func (s *Socket) runReconnect(old *websocket.Conn, delay time.Duration, code websocket.StatusCode, reason string) {
	if old != nil {
		_ = old.Close(code, reason)
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-s.ctx.Done():
			t.Stop()
			return
		}
	}

	conn, err := s.dialWithBackoff(s.ctx)
	if err != nil {
		if s.ctx.Err() == nil {
			s.fail(fmt.Errorf("pnwkit: reconnecting socket: %w", err))
		}
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	s.conn = conn
	s.generation++
	gen := s.generation
	s.state = StateConnecting
	s.reconnecting = false
	s.awaitingPong = false
	s.lastMessage = time.Now()
	subs := make([]*Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	s.logger.Info("socket reconnected", slog.Int("subscriptions", len(subs)))
	go s.readLoop(gen, conn)
	s.poke()
	for _, sub := range subs {
		go s.resubscribe(sub)
	}
}

func (s *Socket) resubscribe(sub *Subscription) {
	if err := s.subscribe(s.ctx, sub); err != nil {
		if s.ctx.Err() != nil || sub.isEnded() {
			return
		}
		s.logger.Warn("resubscribing failed",
			slog.String("subscription", sub.ID().String()),
			slog.Any("error", err),
		)
		s.remove(sub)
		sub.close(err)
	}
}

// fail closes the socket for good, ending every subscription with err.
func (s *Socket) fail(err error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.err = err
	subs := s.drainLocked()
	s.mu.Unlock()

	s.logger.Warn("socket closed", slog.Any("error", err))
	s.cancel()
	for _, sub := range subs {
		sub.close(err)
	}
}

// drainLocked empties the subscription set and returns its content.
func (s *Socket) drainLocked() []*Subscription {
	subs := make([]*Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, sub)
	}
	s.subscriptions = make(map[string]*Subscription)
	return subs
}

// Close closes the connection. Every subscription ends with ErrClosed.
func (s *Socket) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	conn := s.conn
	subs := s.drainLocked()
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close(ErrClosed)
	}
	var err error
	if conn != nil {
		done := make(chan error, 1)
		go func() { done <- conn.Close(websocket.StatusNormalClosure, "") }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	s.cancel()
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		err = nil
	}
	return err
}

// subscribe authorizes sub on the current connection, binds its channel
// and waits for the server to confirm it. Ended subscriptions are not
// bound.
func (s *Socket) subscribe(ctx context.Context, sub *Subscription) error {
	if sub.isEnded() {
		return ErrClosed
	}
	auth, err := s.authorize(ctx, sub)
	if errors.Is(err, ErrUnauthorized) {
		s.logger.DebugContext(ctx, "authorization rejected, requesting a new channel",
			slog.String("subscription", sub.ID().String()),
		)
		channel, cerr := sub.requestChannel(ctx)
		if cerr != nil {
			return &SubscribeError{Model: sub.model, Event: sub.event, Err: cerr}
		}
		sub.setChannel(channel)
		auth, err = s.authorize(ctx, sub)
	}
	if err != nil {
		return &SubscribeError{Model: sub.model, Event: sub.event, Err: err}
	}

	channel := sub.Channel()
	succeeded := sub.resetSucceeded()
	s.mu.Lock()
	if s.state == StateClosed {
		err := s.closedErr()
		s.mu.Unlock()
		return err
	}
	// Checked under s.mu: Unsubscribe marks the subscription ended before
	// removing its binding.
	if sub.isEnded() {
		s.mu.Unlock()
		return ErrClosed
	}
	s.subscriptions[channel] = sub
	s.mu.Unlock()

	if err := s.send(ctx, eventSubscribe, map[string]any{"auth": auth, "channel": channel}); err != nil {
		s.remove(sub)
		return err
	}

	timer := time.NewTimer(s.client.subscribeTimeout)
	defer timer.Stop()
	select {
	case <-succeeded:
		s.logger.DebugContext(ctx, "subscribed",
			slog.String("subscription", sub.ID().String()),
			slog.String("channel", channel),
		)
		return nil
	case <-timer.C:
		s.remove(sub)
		return fmt.Errorf("%w: channel %s", ErrSubscriptionDidNotSucceed, channel)
	case <-ctx.Done():
		s.remove(sub)
		return ctx.Err()
	case <-s.ctx.Done():
		s.mu.Lock()
		err := s.closedErr()
		s.mu.Unlock()
		return err
	}
}

// remove drops the channel binding of sub.
func (s *Socket) remove(sub *Subscription) {
	channel := sub.Channel()
	s.mu.Lock()
	if s.subscriptions[channel] == sub {
		delete(s.subscriptions, channel)
	}
	s.mu.Unlock()
}

func (s *Socket) unsubscribe(ctx context.Context, sub *Subscription) error {
	s.remove(sub)
	if s.State() == StateClosed {
		return nil
	}
	return s.send(ctx, eventUnsubscribe, map[string]any{"channel": sub.Channel()})
}

// authorize exchanges the socket id and channel name for an auth token.
func (s *Socket) authorize(ctx context.Context, sub *Subscription) (string, error) {
	socketID, err := s.waitEstablished(ctx)
	if err != nil {
		return "", err
	}
	form := url.Values{
		"socket_id":    {socketID},
		"channel_name": {sub.Channel()},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("problem constructing request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrUnauthorized
	case resp.StatusCode >= http.StatusBadRequest:
		return "", fmt.Errorf("%v; body: %q", resp.Status, truncate(string(body), 256))
	}

	var out struct {
		Auth   string          `json:"auth"`
		Errors json.RawMessage `json:"errors"`
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
	if out.Auth == "" {
		return "", &InvalidResponseError{StatusCode: resp.StatusCode, Body: string(body), Err: errors.New("no auth token")}
	}
	return out.Auth, nil
}

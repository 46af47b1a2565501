// Package ratelimit tracks the server-declared request quota of an API
// endpoint and computes how long a caller has to wait before sending.
//
// The quota is announced through the X-RateLimit-* response headers. Until a
// complete, parsable header set has been observed the limiter is
// uninitialized and never asks for a wait.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/llehouerou/pnwkit-go/types"
)

// DefaultInterval is used by Handle429 when the server never declared an
// interval and the 429 response carries no reset time.
const DefaultInterval = 60 * time.Second

// Limit is the quota state of a single endpoint URL. It is safe for
// concurrent use.
type Limit struct {
	mu  sync.Mutex
	url string
	now func() time.Time

	limit     *int64
	remaining *int64
	reset     *int64 // unix seconds
	interval  *int64 // seconds
}

// State is a point-in-time copy of a Limit.
type State struct {
	URL         string
	Initialized bool
	Limit       int64
	Remaining   int64
	Reset       time.Time
	Interval    time.Duration
}

func newLimit(url string, now func() time.Time) *Limit {
	return &Limit{url: url, now: now}
}

// URL returns the endpoint this limit applies to.
func (l *Limit) URL() string {
	return l.url
}

// Initialized reports whether limit, remaining, reset and interval are all
// known.
func (l *Limit) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initializedLocked()
}

func (l *Limit) initializedLocked() bool {
	return l.limit != nil && l.remaining != nil && l.reset != nil && l.interval != nil
}

// Initialize adopts the quota declared by the rate limit headers. Missing or
// unparsable headers leave the corresponding value unset.
func (l *Limit) Initialize(h http.Header) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = parseHeader(h.Get(types.HeaderRateLimitLimit))
	l.remaining = parseHeader(h.Get(types.HeaderRateLimitRemaining))
	l.reset = parseHeader(h.Get(types.HeaderRateLimitReset))
	l.interval = parseHeader(h.Get(types.HeaderRateLimitInterval))
}

// Hit records one request about to be sent and returns how long the caller
// must wait before sending it. A zero duration means send immediately.
func (l *Limit) Hit() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initializedLocked() {
		return 0
	}
	now := l.now().Unix()
	if now > *l.reset {
		remaining := *l.limit - 1
		reset := now + 1 + *l.interval
		l.remaining = &remaining
		l.reset = &reset
		return 0
	}
	*l.remaining--
	if *l.remaining <= 0 {
		return time.Duration(*l.reset-now+1) * time.Second
	}
	return 0
}

// Handle429 exhausts the quota after the server rejected a request and
// returns the wait before the next attempt. reset is the raw
// X-RateLimit-Reset header of the rejected response and may be empty.
func (l *Limit) Handle429(reset string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	zero := int64(0)
	l.remaining = &zero

	now := l.now()
	if v := parseHeader(reset); v != nil && *v != 0 {
		l.reset = v
	} else if l.reset == nil {
		interval := int64(DefaultInterval / time.Second)
		if l.interval != nil && *l.interval > 0 {
			interval = *l.interval
		}
		next := now.Unix() + interval
		l.reset = &next
	}

	wait := time.Unix(*l.reset, 0).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// State returns a copy of the current quota.
func (l *Limit) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := State{URL: l.url, Initialized: l.initializedLocked()}
	if l.limit != nil {
		s.Limit = *l.limit
	}
	if l.remaining != nil {
		s.Remaining = *l.remaining
	}
	if l.reset != nil {
		s.Reset = time.Unix(*l.reset, 0)
	}
	if l.interval != nil {
		s.Interval = time.Duration(*l.interval) * time.Second
	}
	return s
}

func parseHeader(v string) *int64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// Registry hands out one Limit per endpoint URL, so every client talking
// to the same URL shares a quota.
type Registry struct {
	mu     sync.Mutex
	now    func() time.Time
	limits map[string]*Limit
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the wall clock used by every Limit of the registry.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		now:    time.Now,
		limits: make(map[string]*Limit),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the Limit of url, creating it on first use.
func (r *Registry) Get(url string) *Limit {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limits[url]
	if !ok {
		l = newLimit(url, r.now)
		r.limits[url] = l
	}
	return l
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by clients that were not
// given one explicitly.
func Default() *Registry {
	return defaultRegistry
}

package pnwkit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/llehouerou/pnwkit-go/types"
)

var (
	// Done is returned by Paginator.Next once every page has been read. It
	// signals the end of the sequence, not a failure.
	Done = errors.New("pnwkit: no more items in paginator")

	// ErrMaxTriesExceeded is returned when every attempt of a request was
	// rejected with HTTP 429.
	ErrMaxTriesExceeded = errors.New("pnwkit: max tries exceeded")

	// ErrPersistedQueryNotFound is returned when the server does not know a
	// persisted query hash even after the full query was resent.
	ErrPersistedQueryNotFound = errors.New("pnwkit: persisted query not found")

	// ErrUnauthorized is returned when the socket channel authorization
	// endpoint rejects a subscription.
	ErrUnauthorized = errors.New("pnwkit: subscription authorization rejected")

	// ErrSubscriptionDidNotSucceed is returned when the socket never
	// confirmed a subscribe request.
	ErrSubscriptionDidNotSucceed = errors.New("pnwkit: subscription did not succeed")

	// ErrInvalidBatchSize is returned by Paginator.Batch for sizes below 1.
	ErrInvalidBatchSize = errors.New("pnwkit: batch size must be at least 1")

	// ErrFieldNotFound is returned when a paginator is derived from a query
	// that does not select the requested field.
	ErrFieldNotFound = errors.New("pnwkit: field not found in query")

	// ErrClosed is returned by operations on a closed socket or subscription.
	ErrClosed = errors.New("pnwkit: closed")
)

// GraphQLError carries the errors reported by the server in a response
// envelope.
type GraphQLError struct {
	Errors gqlerror.List
}

// Error joins every reported message with newlines.
func (e *GraphQLError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		if err == nil {
			continue
		}
		msgs = append(msgs, err.Message)
	}
	return strings.Join(msgs, "\n")
}

// Messages returns the individual error messages.
func (e *GraphQLError) Messages() []string {
	out := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		if err != nil {
			out = append(out, err.Message)
		}
	}
	return out
}

// HasCode reports whether any reported error carries the extension code.
func (e *GraphQLError) HasCode(code string) bool {
	for _, err := range e.Errors {
		if err != nil && errorCode(err) == code {
			return true
		}
	}
	return false
}

func errorCode(err *gqlerror.Error) string {
	if err.Extensions == nil {
		return ""
	}
	code, _ := err.Extensions["code"].(string)
	return code
}

func (e *GraphQLError) persistedQueryNotFound() bool {
	return e.HasCode(types.PersistedQueryNotFoundCode)
}

// MissingVariablesError is returned before a request is sent when declared
// variables have neither a value nor a default.
type MissingVariablesError struct {
	Names []string
}

func (e *MissingVariablesError) Error() string {
	return "pnwkit: missing variable values: " + strings.Join(e.Names, ", ")
}

// InvalidResponseError is returned when a response body is not valid JSON.
type InvalidResponseError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("pnwkit: invalid response (status %d): %v; body: %q", e.StatusCode, e.Err, truncate(e.Body, 256))
}

func (e *InvalidResponseError) Unwrap() error {
	return e.Err
}

// SubscribeError is returned when a subscription channel cannot be
// requested or authorized.
type SubscribeError struct {
	Model string
	Event string
	Err   error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("pnwkit: subscribe %s/%s: %v", e.Model, e.Event, e.Err)
}

func (e *SubscribeError) Unwrap() error {
	return e.Err
}

// NoReconnectError is returned when the socket was closed with a close code
// the server marks as fatal.
type NoReconnectError struct {
	Code   int
	Reason string
}

func (e *NoReconnectError) Error() string {
	return fmt.Sprintf("pnwkit: socket closed with close code %d (%s), not reconnecting", e.Code, e.Reason)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

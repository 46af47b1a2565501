package pnwkit

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Pusher protocol events.
const (
	eventConnectionEstablished = "pusher:connection_established"
	eventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	eventSubscribe             = "pusher:subscribe"
	eventUnsubscribe           = "pusher:unsubscribe"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventError                 = "pusher:error"
)

// frame is the envelope of every socket message.
type frame struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
	Channel string          `json:"channel,omitempty"`
}

// payload returns the frame data. Pusher servers send data as a JSON string
// holding JSON; both that form and inline JSON are accepted.
func (f *frame) payload() ([]byte, error) {
	data := bytes.TrimSpace(f.Data)
	if len(data) == 0 || data[0] != '"' {
		return data, nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return []byte(s), nil
}

type connectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type pusherError struct {
	Message string `json:"message"`
	Code    *int   `json:"code"`
}

// EventTypeName maps a socket event name to the record type it carries and
// reports whether it is a bulk event holding a list of records. Both the
// upper snake case and the camel case spellings are accepted.
//
// E.g. "NATION_UPDATE" -> "Nation", "BULK_WARATTACK_CREATE" -> "WarAttack",
// "nationUpdate" -> "Nation".
func EventTypeName(event string) (typename string, bulk bool) {
	name := event
	if len(name) > len("BULK") && strings.EqualFold(name[:len("BULK")], "BULK") {
		name, bulk = strings.TrimPrefix(name[len("BULK"):], "_"), true
	}
	upper := strings.ToUpper(name)
	for _, suffix := range []string{"CREATE", "UPDATE", "DELETE"} {
		if len(upper) > len(suffix) && strings.HasSuffix(upper, suffix) {
			name = strings.TrimSuffix(name[:len(name)-len(suffix)], "_")
			break
		}
	}

	var b strings.Builder
	if strings.Contains(name, "_") || name == strings.ToUpper(name) {
		for _, p := range strings.Split(name, "_") {
			if p == "" {
				continue
			}
			b.WriteString(strings.ToUpper(p[:1]))
			b.WriteString(strings.ToLower(p[1:]))
		}
	} else if name != "" {
		b.WriteString(strings.ToUpper(name[:1]))
		b.WriteString(name[1:])
	}
	typename = b.String()
	if strings.EqualFold(typename, "warattack") {
		typename = "WarAttack"
	}
	return typename, bulk
}

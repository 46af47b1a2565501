package pnwkit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/llehouerou/pnwkit-go/pkg/jsonutil"
)

// envelope is a decoded GraphQL response.
type envelope struct {
	data       *jsonutil.Object
	errors     gqlerror.List
	extensions *jsonutil.Object
}

// parseEnvelope decodes a response body. The envelope may be a bare object
// or wrapped in a one-element list.
func parseEnvelope(resp *Response) (*envelope, error) {
	invalid := func(err error) error {
		return &InvalidResponseError{StatusCode: resp.StatusCode, Body: string(resp.Body), Err: err}
	}

	body := bytes.TrimSpace(resp.Body)
	if len(body) > 0 && body[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, invalid(err)
		}
		if len(list) == 0 {
			return nil, invalid(errors.New("empty response list"))
		}
		body = list[0]
	}

	var raw struct {
		Data       json.RawMessage `json:"data"`
		Errors     json.RawMessage `json:"errors"`
		Extensions json.RawMessage `json:"extensions"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, invalid(err)
	}

	env := &envelope{}
	if len(raw.Errors) > 0 && !isNull(raw.Errors) {
		list, err := decodeErrors(raw.Errors)
		if err != nil {
			return nil, invalid(err)
		}
		env.errors = list
	}
	var err error
	if env.data, err = decodeOptionalObject(raw.Data); err != nil {
		return nil, invalid(fmt.Errorf("data: %w", err))
	}
	if env.extensions, err = decodeOptionalObject(raw.Extensions); err != nil {
		return nil, invalid(fmt.Errorf("extensions: %w", err))
	}

	if len(env.errors) > 0 {
		return env, &GraphQLError{Errors: env.errors}
	}
	if resp.StatusCode >= http.StatusBadRequest && env.data == nil {
		return nil, invalid(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return env, nil
}

// decodeErrors accepts a list of error objects, a list wrapping that list,
// or a single error object.
func decodeErrors(raw json.RawMessage) (gqlerror.List, error) {
	var list gqlerror.List
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var nested []gqlerror.List
	if err := json.Unmarshal(raw, &nested); err == nil {
		var out gqlerror.List
		for _, l := range nested {
			out = append(out, l...)
		}
		return out, nil
	}
	var single gqlerror.Error
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("errors: %w", err)
	}
	return gqlerror.List{&single}, nil
}

func decodeOptionalObject(raw json.RawMessage) (*jsonutil.Object, error) {
	if len(raw) == 0 || isNull(raw) {
		return nil, nil
	}
	return jsonutil.DecodeObject(raw)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrBadPayload   = errors.New("bad payload")
)

// Envelope is the wire frame: a named event plus its raw payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validator is implemented by payloads that check their own shape.
type Validator interface {
	Validate() error
}

// ParseEnvelope decodes a frame in either direction and only requires a
// non-empty Type. Whether the event is one a client may send is checked with
// IsInbound.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if env.Type == "" {
		return env, ErrBadPayload
	}
	return env, nil
}

// Encode builds a frame for event with payload v. A nil v yields no payload.
func Encode(event string, v any) ([]byte, error) {
	env := Envelope{Type: event}
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode unmarshals a payload into T and validates it.
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, ErrBadPayload
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if val, ok := any(&v).(Validator); ok {
		if err := val.Validate(); err != nil {
			return v, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
	}
	return v, nil
}

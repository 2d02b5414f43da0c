package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned by Append while the previous fan-out is in flight.
	ErrBusy = errors.New("previous fan-out still in flight")
	// ErrClosed is returned once the node is shutting down.
	ErrClosed = errors.New("node is shutting down")
	// ErrUnknownNode is returned for a sender or clock entry outside the
	// static membership.
	ErrUnknownNode = errors.New("unknown node")

	// ErrClockSupplied is returned when a client sends its own clock.
	ErrClockSupplied = errors.New("clock fields are server-assigned")
	// ErrMalformed is returned for bodies that are not the expected JSON.
	ErrMalformed = errors.New("malformed body")
	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("missing field")
)

// clientClockFields are rejected in append requests.
var clientClockFields = []string{"clock", "vector_clock"}

// ValidationError reports why a request body was rejected.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DecodeAppendRequest parses and validates a POST /append body.
func DecodeAppendRequest(body []byte) (AppendRequest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return AppendRequest{}, &ValidationError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	for _, f := range clientClockFields {
		if _, ok := fields[f]; ok {
			return AppendRequest{}, &ValidationError{Field: f, Err: ErrClockSupplied}
		}
	}
	raw, ok := fields["value"]
	if !ok || isNull(raw) {
		return AppendRequest{}, &ValidationError{Field: "value", Err: ErrMissingField}
	}
	var req AppendRequest
	if err := json.Unmarshal(raw, &req.Value); err != nil {
		return AppendRequest{}, &ValidationError{Field: "value", Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	return req, nil
}

// DecodeMessage parses and validates a peer message body.
func DecodeMessage(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, &ValidationError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Message{}, &ValidationError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if raw, ok := fields["value"]; !ok || isNull(raw) {
		return Message{}, &ValidationError{Field: "value", Err: ErrMissingField}
	}
	if msg.Sender == "" {
		return Message{}, &ValidationError{Field: "sender", Err: ErrMissingField}
	}
	if msg.Clock.IsZero() {
		return Message{}, &ValidationError{Field: "clock", Err: ErrMissingField}
	}
	return msg, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

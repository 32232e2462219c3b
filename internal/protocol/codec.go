package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Protocol errors. Every error returned by Decode wraps one of these.
var (
	ErrMalformed    = errors.New("malformed message")
	ErrUnknownKind  = errors.New("unknown message kind")
	ErrMissingField = errors.New("missing required field")
	ErrInvalidField = errors.New("invalid field value")
)

type header struct {
	Type Kind `json:"type"`
}

// PeekKind returns the "type" field of raw without decoding the rest.
func PeekKind(raw []byte) (Kind, error) {
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.Type == "" {
		return "", missing("type")
	}
	return h.Type, nil
}

// Decode parses raw into the variant named by its "type" field and
// validates the variant's required fields.
func Decode(raw []byte) (Message, error) {
	kind, err := PeekKind(raw)
	if err != nil {
		return nil, err
	}

	factory, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	msg := factory()
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	return msg, nil
}

// Encode marshals msg with its "type" field set.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msg.Kind(), err)
	}

	kind, err := json.Marshal(msg.Kind())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(kind) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(kind)
	if body = bytes.TrimSpace(body); len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// MustEncode is Encode for messages built entirely by the caller, where a
// marshalling failure is a programming error.
func MustEncode(msg Message) []byte {
	data, err := Encode(msg)
	if err != nil {
		panic(err)
	}
	return data
}

// IsProtocolError reports whether err was caused by a bad message rather
// than by server state.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrUnknownKind) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidField)
}

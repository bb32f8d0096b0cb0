package syncq

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Encoder defines the interface for record and body serialization.
type Encoder interface {
	// Encode serializes a value to bytes.
	Encode(any) ([]byte, error)
	// Decode deserializes bytes to a value.
	Decode([]byte, any) error
}

// JSONEncoder is the default implementation of Encoder using JSON.
// It uses standard library for encoding and sonic for decoding.
type JSONEncoder struct{}

// Encode serializes a value to JSON using standard library.
// Map keys are sorted, so equal values always encode to the same bytes.
func (*JSONEncoder) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode deserializes JSON bytes using sonic.
func (*JSONEncoder) Decode(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// encodeBody turns a caller-supplied body into its stored, transport-ready form.
// Strings and raw bytes are kept as-is.
func encodeBody(enc Encoder, body any) (string, error) {
	switch b := body.(type) {
	case nil:
		return "", nil
	case string:
		return b, nil
	case []byte:
		return string(b), nil
	case json.RawMessage:
		return string(b), nil
	default:
		data, err := enc.Encode(b)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

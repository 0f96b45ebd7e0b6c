package kv

import (
	"encoding/json"
	"fmt"
)

// Codec converts box values to and from their persisted bytes.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// JSONCodec stores values as JSON documents.
type JSONCodec[V any] struct{}

func (JSONCodec[V]) Encode(v V) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec[V]) Decode(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode json value: %w", err)
	}
	return v, nil
}

// StringCodec stores plain strings.
type StringCodec struct{}

func (StringCodec) Encode(v string) ([]byte, error) { return []byte(v), nil }
func (StringCodec) Decode(data []byte) (string, error) { return string(data), nil }

package pubsub

import (
	"encoding/json"
	"errors"
)

// Codec converts task payloads to and from broker bytes.
type Codec[M any] interface {
	Encode(payload M) ([]byte, error)
	Decode(data []byte) (M, error)
}

var errEmptyPayload = errors.New("empty payload")

// JSONCodec is the default Codec.
type JSONCodec[M any] struct{}

func (JSONCodec[M]) Encode(payload M) ([]byte, error) {
	return json.Marshal(payload)
}

func (JSONCodec[M]) Decode(data []byte) (M, error) {
	var payload M
	if len(data) == 0 {
		return payload, errEmptyPayload
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

// CodecFuncs adapts a pair of functions to Codec.
type CodecFuncs[M any] struct {
	EncodeFn func(M) ([]byte, error)
	DecodeFn func([]byte) (M, error)
}

func (c CodecFuncs[M]) Encode(payload M) ([]byte, error) {
	return c.EncodeFn(payload)
}

func (c CodecFuncs[M]) Decode(data []byte) (M, error) {
	return c.DecodeFn(data)
}

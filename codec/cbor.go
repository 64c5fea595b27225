package codec

import "github.com/fxamacker/cbor/v2"

// CBOR serializes values using fxamacker/cbor/v2 (RFC 8949).
type CBOR[V any] struct{}

func (CBOR[V]) Encode(v V) ([]byte, error) {
	return cbor.Marshal(v)
}
func (CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	err := cbor.Unmarshal(b, &v)
	return v, err
}

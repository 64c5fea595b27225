package codec

import "encoding/json"

// JSON serializes values with encoding/json. Slower and larger than Msgpack
// or CBOR, but convenient when cached payloads must stay human-inspectable.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) {
	return json.Marshal(v)
}
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}

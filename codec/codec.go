// Package codec provides pluggable value (de)serialization for tiercache.
// Compression is not a codec concern; it is applied by the wire envelope
// above a configured size threshold.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Package wire defines the self-describing binary envelope that tiercache
// stores in both the local cache and the backing store.
//
// A value written by one process version must be readable by another with the
// same envelope version; anything that does not frame exactly is rejected with
// ErrCorrupt rather than decoded into garbage.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"

	"github.com/klauspost/compress/s2"
)

const (
	version byte = 1

	flagCompressed byte = 1 << 0
)

var (
	ErrCorrupt = errors.New("wire: corrupt entry")
	magic4     = [...]byte{'T', 'C', 'H', 'E'}
)

// Entry is the decoded envelope around a cached payload.
type Entry struct {
	Version    uint64 // per-key monotonic write counter (last-writer-wins)
	StoredAt   time.Time
	ExpiresAt  time.Time // zero => no expiry
	Compressed bool
	Payload    []byte
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// TTLRemaining returns the time left before expiry, or 0 for no expiry.
// For an already expired entry it returns a negative duration.
func (e Entry) TTLRemaining(now time.Time) time.Duration {
	if e.ExpiresAt.IsZero() {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Envelope: magic(4) | ver(1) | flags(1) | version(u64 be) |
// storedAt(i64 be, unix nanos) | expiresAt(i64 be, unix nanos; 0 = none) |
// vlen(u32 be) | payload(vlen)
//
// Encode frames e.Payload, compressing it with s2 when it is at least
// compressThreshold bytes (0 disables compression). e.Compressed is ignored
// on input; the flag is derived from what Encode actually did.
func Encode(e Entry, compressThreshold int) []byte {
	payload := e.Payload
	var flags byte
	if compressThreshold > 0 && len(payload) >= compressThreshold {
		payload = s2.Encode(nil, payload)
		flags |= flagCompressed
	}

	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 8 + 8 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(flags)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], e.Version)
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], uint64(e.StoredAt.UnixNano()))
	buf.Write(u8[:])

	var exp uint64
	if !e.ExpiresAt.IsZero() {
		exp = uint64(e.ExpiresAt.UnixNano())
	}
	binary.BigEndian.PutUint64(u8[:], exp)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// Decode parses an envelope and reverses compression when the flag is set.
// Trailing bytes, unknown versions and undecodable compressed payloads all
// return ErrCorrupt.
func Decode(b []byte) (Entry, error) {
	const hdr = 4 + 1 + 1 + 8 + 8 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version {
		return Entry{}, ErrCorrupt
	}
	flags := b[5]

	off := 6

	ver := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	storedNs := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	expNs := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // strict framing: no trailing bytes
		return Entry{}, ErrCorrupt
	}

	payload := b[off : off+vlen]
	compressed := flags&flagCompressed != 0
	if compressed {
		raw, err := s2.Decode(nil, payload)
		if err != nil {
			return Entry{}, ErrCorrupt
		}
		payload = raw
	}

	e := Entry{
		Version:    ver,
		StoredAt:   time.Unix(0, storedNs),
		Compressed: compressed,
		Payload:    payload,
	}
	if expNs != 0 {
		e.ExpiresAt = time.Unix(0, expNs)
	}
	return e, nil
}

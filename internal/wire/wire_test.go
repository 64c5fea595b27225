package wire

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Nanosecond)
	e := Entry{
		Version:   7,
		StoredAt:  now,
		ExpiresAt: now.Add(time.Minute),
		Payload:   []byte("hello"),
	}
	b := Encode(e, 0)
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Version != 7 || !bytes.Equal(got.Payload, []byte("hello")) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Compressed {
		t.Fatalf("small payload should not be compressed")
	}
	if !got.StoredAt.Equal(e.StoredAt) || !got.ExpiresAt.Equal(e.ExpiresAt) {
		t.Fatalf("timestamps mismatch: %+v vs %+v", got, e)
	}
}

func TestCompressionAboveThreshold(t *testing.T) {
	payload := []byte(strings.Repeat("tiercache ", 200))
	e := Entry{Version: 1, StoredAt: time.Now(), Payload: payload}

	b := Encode(e, 64)
	if len(b) >= len(payload) {
		t.Fatalf("compressed envelope should be smaller than payload: %d >= %d", len(b), len(payload))
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Compressed {
		t.Fatalf("compressed flag not set")
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("decompressed payload mismatch")
	}
}

func TestCompressionDisabled(t *testing.T) {
	payload := []byte(strings.Repeat("x", 1024))
	b := Encode(Entry{StoredAt: time.Now(), Payload: payload}, 0)
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Compressed {
		t.Fatalf("threshold 0 must disable compression")
	}
}

// Decode must reject trailing bytes (strict framing).
func TestDecodeRejectsTrailing(t *testing.T) {
	b := Encode(Entry{Version: 1, StoredAt: time.Now(), Payload: []byte("x")}, 0)
	b = append(b, 0xDE, 0xAD)
	if _, err := Decode(b); err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt on trailing bytes, got %v", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("short"),
		[]byte("not-an-envelope-but-long-enough-to-pass-length-checks"),
	}
	for _, c := range cases {
		if _, err := Decode(c); err != ErrCorrupt {
			t.Fatalf("expected ErrCorrupt for %q, got %v", c, err)
		}
	}
}

// A truthful flag with an undecodable body must fail, not produce garbage.
func TestDecodeRejectsBadCompressedBody(t *testing.T) {
	b := Encode(Entry{Version: 1, StoredAt: time.Now(), Payload: []byte("plain")}, 0)
	b[5] |= flagCompressed // lie about compression
	if _, err := Decode(b); err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt on flag mismatch, got %v", err)
	}
}

func TestExpiry(t *testing.T) {
	now := time.Now()
	e := Entry{StoredAt: now, ExpiresAt: now.Add(time.Second)}
	if e.Expired(now) {
		t.Fatalf("entry should not be expired yet")
	}
	if !e.Expired(now.Add(time.Second)) {
		t.Fatalf("entry should be expired at the boundary")
	}
	if ttl := e.TTLRemaining(now); ttl != time.Second {
		t.Fatalf("TTLRemaining = %v, want 1s", ttl)
	}

	none := Entry{StoredAt: now}
	if none.Expired(now.Add(time.Hour)) {
		t.Fatalf("no-expiry entry must never expire")
	}
	if none.TTLRemaining(now) != 0 {
		t.Fatalf("no-expiry entry must report 0 remaining")
	}
}

package keys

import "testing"

func TestValidateTenant(t *testing.T) {
	valid := []string{"a", "tenant-1", "acme_prod", "T42"}
	for _, tn := range valid {
		if err := ValidateTenant(tn); err != nil {
			t.Fatalf("ValidateTenant(%q) = %v, want nil", tn, err)
		}
	}

	invalid := []string{"", "a:b", "a b", "a*", "x?", "a[b]", "a\\b", "a\nb", "\x01"}
	for _, tn := range invalid {
		if err := ValidateTenant(tn); err == nil {
			t.Fatalf("ValidateTenant(%q) = nil, want error", tn)
		}
	}
}

func TestComposeSplit(t *testing.T) {
	k := Compose("acme", "user:42")
	if k != "t:acme:user:42" {
		t.Fatalf("Compose = %q", k)
	}
	raw, ok := Split("acme", k)
	if !ok || raw != "user:42" {
		t.Fatalf("Split = %q, %v", raw, ok)
	}
	if _, ok := Split("other", k); ok {
		t.Fatalf("Split must not cross tenants")
	}
	if _, ok := Split("acme", "foreign:key"); ok {
		t.Fatalf("Split must reject keys outside the tiercache keyspace")
	}
}

// Raw key collisions across tenants must compose to distinct storage keys.
func TestTenantIsolation(t *testing.T) {
	if Compose("t1", "x") == Compose("t2", "x") {
		t.Fatalf("tenants must not share storage keys")
	}
	// A raw key that embeds another tenant's prefix still stays in its lane.
	k := Compose("t1", "t:t2:x")
	if _, ok := Split("t2", k); ok {
		t.Fatalf("crafted raw key must not leak into another tenant")
	}
}

func TestScanMatch(t *testing.T) {
	if got := ScanMatch("acme", ""); got != "t:acme:*" {
		t.Fatalf("ScanMatch empty = %q", got)
	}
	if got := ScanMatch("acme", "sess:*"); got != "t:acme:sess:*" {
		t.Fatalf("ScanMatch = %q", got)
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"", "anything", true},
		{"*", "anything", true},
		{"sess:*", "sess:42", true},
		{"sess:*", "user:42", false},
		{"u?", "u1", true},
		{"u?", "u12", false},
	}
	for _, c := range cases {
		got, err := Match(c.pattern, c.key)
		if err != nil {
			t.Fatalf("Match(%q, %q): %v", c.pattern, c.key, err)
		}
		if got != c.want {
			t.Fatalf("Match(%q, %q) = %v, want %v", c.pattern, c.key, got, c.want)
		}
	}
	if _, err := Match("[", "x"); err != ErrBadPattern {
		t.Fatalf("malformed pattern should return ErrBadPattern, got %v", err)
	}
}

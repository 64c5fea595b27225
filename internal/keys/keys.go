// Package keys owns the tenant-scoped keyspace layout.
//
// Every key sent to the local cache or the backing store has the shape
//
//	t:<tenant>:<rawKey>
//
// Tenants may not contain the separator, so two tenants can never compose to
// the same storage key even when their raw keys collide.
package keys

import (
	"errors"
	"path"
	"strings"
)

const (
	// Prefix marks tiercache-owned keys in a shared backing store.
	Prefix = "t"

	// Separator joins prefix, tenant and raw key. Rejected inside tenants.
	Separator = ":"
)

var (
	ErrEmptyTenant = errors.New("keys: empty tenant")
	ErrBadTenant   = errors.New("keys: tenant contains disallowed characters")
	ErrEmptyKey    = errors.New("keys: empty key")
	ErrBadPattern  = errors.New("keys: malformed pattern")
)

// ValidateTenant rejects tenants that would break keyspace isolation or that
// would be ambiguous inside scan patterns.
func ValidateTenant(tenant string) error {
	if tenant == "" {
		return ErrEmptyTenant
	}
	if strings.Contains(tenant, Separator) {
		return ErrBadTenant
	}
	if strings.ContainsAny(tenant, "*?[]\\ \t\n\r") {
		return ErrBadTenant
	}
	for _, r := range tenant {
		if r < 0x20 || r == 0x7f {
			return ErrBadTenant
		}
	}
	return nil
}

// Compose builds the effective storage key for (tenant, rawKey).
// The caller is expected to have validated the tenant.
func Compose(tenant, rawKey string) string {
	return Prefix + Separator + tenant + Separator + rawKey
}

// Split is the inverse of Compose. ok is false for keys outside the
// tiercache keyspace or belonging to a different tenant.
func Split(tenant, storageKey string) (rawKey string, ok bool) {
	p := TenantPrefix(tenant)
	if !strings.HasPrefix(storageKey, p) {
		return "", false
	}
	return storageKey[len(p):], true
}

// TenantPrefix returns the storage-key prefix owned by a tenant.
func TenantPrefix(tenant string) string {
	return Prefix + Separator + tenant + Separator
}

// ScanMatch translates a user-facing glob pattern into the storage-keyspace
// pattern handed to the backing store's scan. An empty pattern matches every
// key of the tenant.
func ScanMatch(tenant, pattern string) string {
	if pattern == "" {
		pattern = "*"
	}
	return TenantPrefix(tenant) + pattern
}

// Match reports whether a raw key matches a user-facing glob pattern
// (the same `*`/`?`/`[...]` syntax the backing store applies server-side).
// An empty pattern matches everything.
func Match(pattern, rawKey string) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	ok, err := path.Match(pattern, rawKey)
	if err != nil {
		return false, ErrBadPattern
	}
	return ok, nil
}

// Package identity derives privacy-preserving caller keys from network addresses.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// Hash returns the hex SHA-256 digest of a raw caller address.
func Hash(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Prefix returns the first 8 characters of a key, for display.
func Prefix(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}

// Address extracts the caller's source address from r. The first
// X-Forwarded-For hop is only honoured when trustForwarded is set.
func Address(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// FromRequest returns the identity key for the caller of r.
func FromRequest(r *http.Request, trustForwarded bool) string {
	return Hash(Address(r, trustForwarded))
}

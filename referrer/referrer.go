// Package referrer extracts the attribution link carried by an install
// referrer string.
//
// A referrer is an opaque query-string-like value handed over by the install
// transport, e.g. "utm_source=x&_url=aHR0cHM6Ly9leGFtcGxlLmNvbQ". Two keys
// can carry the link: "_url" (base64url, unpadded) and the legacy "url"
// (percent-encoded). "_url" always takes precedence when it decodes to an
// http(s) URL.
package referrer

import (
	"encoding/base64"
	"net/url"
	"strings"
)

const (
	encodedKey = "_url"
	legacyKey  = "url"
)

// Parse returns the http(s) URL encoded in raw, if any. It never fails;
// malformed input yields ("", false).
func Parse(raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}

	pairs := split(raw)

	if v, ok := lookup(pairs, encodedKey); ok {
		if decoded, ok := decodeBase64URL(v); ok && isHTTP(decoded) {
			return decoded, true
		}
	}

	if v, ok := lookup(pairs, legacyKey); ok {
		if decoded, err := url.PathUnescape(v); err == nil && isHTTP(decoded) {
			return decoded, true
		}
	}

	return "", false
}

type pair struct {
	key   string
	value string
}

// split breaks raw on '&' and each piece on its first '='. Pieces without
// '=' are dropped.
func split(raw string) []pair {
	var pairs []pair
	for _, part := range strings.Split(raw, "&") {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		pairs = append(pairs, pair{key: key, value: value})
	}
	return pairs
}

func lookup(pairs []pair, key string) (string, bool) {
	for _, p := range pairs {
		if p.key == key {
			return p.value, true
		}
	}
	return "", false
}

func decodeBase64URL(s string) (string, bool) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return "", false
	}
	return string(b), true
}

func isHTTP(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

package check

import "strings"

// CanonicalHost is the public preview host all bare usernames resolve under.
const CanonicalHost = "https://t.me/"

// Normalize maps a raw link token to a canonical fetchable address. It is a
// pure function and idempotent: absolute addresses pass through unchanged, so
// applying it to its own output is a no-op. Malformed usernames are left for
// the fetch stage to reject.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "@"):
		return CanonicalHost + raw[1:]
	case !strings.HasPrefix(raw, "http"):
		return CanonicalHost + raw
	default:
		return raw
	}
}

// Package identity generates and validates the anonymous user tokens the
// widget issues for itself. Tokens are opaque and unauthenticated; the server
// only ever checks their shape, never their origin.
package identity

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Token format: wc_<base36 millisecond timestamp>_<uuidv4>.
// The timestamp prefix exists for debugging and age checks only.
var tokenPattern = regexp.MustCompile(`^wc_[a-z0-9]+_[a-f0-9]{8}-[a-f0-9]{4}-4[a-f0-9]{3}-[89ab][a-f0-9]{3}-[a-f0-9]{12}$`)

// Generate returns a fresh user token.
func Generate() string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return "wc_" + ts + "_" + uuid.NewString()
}

// Valid reports whether token matches the expected shape.
func Valid(token string) bool {
	return tokenPattern.MatchString(strings.ToLower(token))
}

// CreatedAt extracts the embedded creation time. The second return value is
// false when the token does not carry a parseable timestamp.
func CreatedAt(token string) (time.Time, bool) {
	parts := strings.SplitN(token, "_", 3)
	if len(parts) < 3 || parts[0] != "wc" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(parts[1], 36, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Expired reports whether the token is older than maxAge. Tokens without a
// parseable timestamp count as expired.
func Expired(token string, maxAge time.Duration) bool {
	createdAt, ok := CreatedAt(token)
	if !ok {
		return true
	}
	return time.Since(createdAt) > maxAge
}

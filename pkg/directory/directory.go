// Package directory defines the shared connection directory: an external
// key-value store holding the reversible token<->connectionId mappings and
// the per-token online flag, all bounded by a common TTL.
//
// Presence data is best-effort by nature. Implementations must treat store
// failures on read paths as "not found" so a flaky directory can never take
// down a dispatch, while write failures on RegisterConnection propagate so a
// connection is never claimed as registered without directory backing.
package directory

import (
	"context"
	"time"
)

// Directory is the narrow surface the registry and dispatcher consume.
type Directory interface {
	// RegisterConnection writes token->connectionID, connectionID->token and
	// the online flag in one pipelined batch, each with the directory TTL.
	RegisterConnection(ctx context.Context, userToken, connectionID string) error

	// UnregisterConnection reverse-looks-up the token for connectionID and
	// deletes all three keys. An unknown connection id is a no-op.
	UnregisterConnection(ctx context.Context, connectionID string) error

	// ConnectionID resolves the live connection id for a token. Returns ""
	// when the token is unknown, expired, or the store is unreachable.
	ConnectionID(ctx context.Context, userToken string) (string, error)

	// UserToken is the reverse lookup. Same degradation rules.
	UserToken(ctx context.Context, connectionID string) (string, error)

	// IsOnline reports whether the token currently has a live registration.
	IsOnline(ctx context.Context, userToken string) (bool, error)
}

// DefaultTTL is the shared expiry for all directory entries.
const DefaultTTL = time.Hour

// Key layout shared by all implementations.
const (
	KeyConnPrefix    = "ws:conn:"    // userToken -> connectionID
	KeyReversePrefix = "ws:reverse:" // connectionID -> userToken
	KeyOnlinePrefix  = "user:online:"
)

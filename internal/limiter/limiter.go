// Package limiter throttles callers that probe for unknown token codes.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter tracks failed code lookups per (caller, ip) and applies temporary lockouts.
// A lookup that finds a token does not clear earlier misses; they only age out of the window.
type Limiter interface {
	// Allow reports whether lookups are currently allowed and optional retry-after.
	Allow(ctx context.Context, caller string, ipHash []byte) (bool, time.Duration, error)
	// Failure records a miss; may place a temporary block.
	Failure(ctx context.Context, caller string, ipHash []byte) (bool, time.Duration, error)
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

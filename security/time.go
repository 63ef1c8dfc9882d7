package security

import "time"

// DefaultClockSkewGracePeriod is how long past its expiry a credential is still
// accepted, to absorb clock drift between this service and the platform.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired reports whether expiresAt has passed at now, allowing grace.
// A zero expiresAt never expires (offline credentials).
func IsExpired(expiresAt, now time.Time, grace time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(grace))
}

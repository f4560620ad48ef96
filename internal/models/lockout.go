package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// LockoutCounter is the failed-attempt tally for one login identity
type LockoutCounter struct {
	IdentityKey   string    `db:"identity_key"`
	Attempts      int       `db:"attempts"`
	LastAttemptAt time.Time `db:"last_attempt_at"`
}

// IsLocked reports whether the lockout is active at now
func (c *LockoutCounter) IsLocked(threshold int, duration time.Duration, now time.Time) bool {
	if c == nil || c.Attempts < threshold {
		return false
	}
	return now.Before(c.LastAttemptAt.Add(duration))
}

// LockedUntil returns when an active lockout lifts
func (c *LockoutCounter) LockedUntil(duration time.Duration) time.Time {
	return c.LastAttemptAt.Add(duration)
}

// LockoutIdentityKey derives the counter key from a submitted username.
// Unknown usernames get a key too, so lookups cost the same either way.
func LockoutIdentityKey(username string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(username))))
	return hex.EncodeToString(sum[:])
}

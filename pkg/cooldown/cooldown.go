package cooldown

import "time"

// Status describes the current cooldown window for recovery attempts.
type Status struct {
	Active    bool
	StartedAt time.Time
	ExpiresAt time.Time
	Remaining time.Duration
}

// InCooldown reports whether a recovery attempt at now falls inside the
// window opened by the last attempt. A zero lastAttempt means no attempt has
// been recorded and never suppresses.
func InCooldown(lastAttempt time.Time, now time.Time, window time.Duration) bool {
	if lastAttempt.IsZero() || window <= 0 {
		return false
	}
	return now.Sub(lastAttempt) < window
}

// Inspect returns the full window status for display purposes.
func Inspect(lastAttempt time.Time, now time.Time, window time.Duration) Status {
	if !InCooldown(lastAttempt, now, window) {
		return Status{}
	}
	expires := lastAttempt.Add(window)
	return Status{
		Active:    true,
		StartedAt: lastAttempt,
		ExpiresAt: expires,
		Remaining: expires.Sub(now),
	}
}

// Package mode holds small mutable process-wide tunables that the rest of
// the core reads directly, the same role the teacher's pkg/mode plays for
// its bot-turn defaults.
package mode

import "time"

const (
	// DefaultFeedbackSeconds is the fixed FEEDBACK phase duration (§4.2).
	DefaultFeedbackSeconds = 600

	// DefaultSessionCodeLength is the width of a session code (§6.4).
	DefaultSessionCodeLength = 6

	// DefaultIdleMinutes is T_idle (§4.5) absent config override.
	DefaultIdleMinutes = 5
)

var (
	// TestClock is a fake-clock test flag. No package in this module reads
	// it, so setting it leaves all scheduling on the wall clock.
	TestClock = false

	// IdleTimeout is how long a participant may go without activity
	// before TouchActivity's watchdog evicts them (§4.5).
	IdleTimeout = DefaultIdleMinutes * time.Minute

	// FeedbackTimeout is the fixed FEEDBACK-phase timer duration (§4.2).
	FeedbackTimeout = DefaultFeedbackSeconds * time.Second

	// SessionCodeLength is the digit width of a generated session code.
	SessionCodeLength = DefaultSessionCodeLength

	// RetryMaxAttempts bounds repository retry loops for Transient errors.
	RetryMaxAttempts = 3

	// RetryBaseDelay is the base backoff unit for repository retries.
	RetryBaseDelay = 200 * time.Millisecond

	// SubscriberQueueDepth is the bounded per-subscriber envelope queue
	// size on the bus (§4.9); overflow drops the oldest entry.
	SubscriberQueueDepth = 32
)

// SetTestClock sets the TestClock flag.
func SetTestClock(enabled bool) {
	TestClock = enabled
}

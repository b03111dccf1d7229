package scanner

import "time"

// RetryPolicy controls how the scanner retries panel logins. After each
// failed attempt the scanner waits Delay; once MaxAttempts consecutive
// failures pile up it backs off for Cooldown and the attempt counter
// starts over.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Cooldown    time.Duration
}

// DelayFor returns the wait before the next login attempt given the
// number of consecutive failures so far, and whether that wait is a
// long cooldown rather than a short retry delay.
func (p RetryPolicy) DelayFor(consecutiveFailures int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && consecutiveFailures >= p.MaxAttempts {
		return p.Cooldown, true
	}
	return p.Delay, false
}

package outbox

import "time"

// NextAttemptDelay returns the delay before retry number attempt (1-based):
// base doubling per attempt, capped. attempt 1 -> base, 2 -> 2*base, ...
func NextAttemptDelay(base, cap time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if cap > 0 && delay >= cap {
			return cap
		}
	}
	if cap > 0 && delay > cap {
		return cap
	}
	return delay
}

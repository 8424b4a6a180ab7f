package supervisor

import "time"

// backoffSchedule is the fixed reconnect ladder. Consecutive failures
// index into it; past the end the last step repeats.
var backoffSchedule = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// backoffFor returns the wait before the next connection attempt after
// the given number of consecutive failures (1-based).
func backoffFor(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > len(backoffSchedule) {
		failures = len(backoffSchedule)
	}
	return backoffSchedule[failures-1]
}

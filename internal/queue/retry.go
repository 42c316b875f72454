package queue

import "time"

// RetryDelays is the fixed backoff ladder from spec §4.C4/§8: attempt 1 is
// the initial, immediate try; each subsequent index is the delay before the
// next attempt after the previous one failed.
var RetryDelays = []time.Duration{
	0,
	60 * time.Second,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	6 * time.Hour,
}

// MaxAttempts is the number of tries before a subscription's delivery is
// dead-lettered.
const MaxAttempts = len(RetryDelays)

// DelayForNextAttempt returns the backoff before attempt currentAttempt+1,
// and false if currentAttempt already exhausted the ladder.
func DelayForNextAttempt(currentAttempt int) (time.Duration, bool) {
	if currentAttempt < 1 || currentAttempt >= MaxAttempts {
		return 0, false
	}
	return RetryDelays[currentAttempt], true
}

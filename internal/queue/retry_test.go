package queue

import (
	"testing"
	"time"
)

func TestDelayForNextAttempt(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
		ok      bool
	}{
		{1, 60 * time.Second, true},
		{2, 5 * time.Minute, true},
		{3, 30 * time.Minute, true},
		{4, 2 * time.Hour, true},
		{5, 6 * time.Hour, true},
		{6, 0, false},
		{0, 0, false},
	}

	for _, c := range cases {
		got, ok := DelayForNextAttempt(c.attempt)
		if ok != c.ok {
			t.Fatalf("attempt %d: ok = %v, want %v", c.attempt, ok, c.ok)
		}
		if ok && got != c.want {
			t.Fatalf("attempt %d: delay = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestMaxAttemptsMatchesLadderLength(t *testing.T) {
	if MaxAttempts != len(RetryDelays) {
		t.Fatalf("MaxAttempts = %d, len(RetryDelays) = %d", MaxAttempts, len(RetryDelays))
	}
	if MaxAttempts != 6 {
		t.Fatalf("expected a 6-attempt ladder, got %d", MaxAttempts)
	}
}

package worker

import (
	"testing"
	"time"
)

func TestBackoffDelayBounds(t *testing.T) {
	b := DefaultBackoff()

	cases := []struct {
		attempt int
		nominal time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{8, 64 * time.Minute},
		{20, time.Hour},
		{500, time.Hour},
	}

	for _, tc := range cases {
		nominal := tc.nominal
		if nominal > b.Cap {
			nominal = b.Cap
		}
		lo := time.Duration(float64(nominal) * 0.8)
		hi := min(time.Duration(float64(nominal)*1.2)+time.Nanosecond, b.Cap)

		for i := 0; i < 200; i++ {
			d := b.Delay(tc.attempt)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", tc.attempt, d, lo, hi)
			}
		}
	}
}

func TestBackoffWithoutJitterIsExact(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 10 * time.Second}

	if got := b.Delay(1); got != time.Second {
		t.Fatalf("expected 1s, got %v", got)
	}
	if got := b.Delay(3); got != 4*time.Second {
		t.Fatalf("expected 4s, got %v", got)
	}
	if got := b.Delay(10); got != 10*time.Second {
		t.Fatalf("expected cap 10s, got %v", got)
	}
}

func TestBackoffNeverExceedsCap(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Cap: time.Hour, Jitter: 0.2}

	sawBelowCap := false
	for i := 0; i < 500; i++ {
		d := b.Delay(12)
		if d > time.Hour {
			t.Fatalf("delay %v above cap", d)
		}
		if d < time.Hour {
			sawBelowCap = true
		}
	}
	if !sawBelowCap {
		t.Fatalf("jitter never pulled a capped delay below the cap")
	}
}

package storage

import "testing"

func TestBackoff(t *testing.T) {
	cases := []struct {
		oldRetryCount int
		want          float64 // seconds
	}{
		{0, 1},
		{1, 2},
		{2, 4},
		{3, 8},
		{4, 16},
		{5, 32},
		{6, 60}, // 2^6=64, capped at 60
		{10, 60},
	}
	for _, c := range cases {
		got := Backoff(c.oldRetryCount).Seconds()
		if got != c.want {
			t.Errorf("Backoff(%d) = %v, want %v", c.oldRetryCount, got, c.want)
		}
	}
}

func TestBackoffNeverExceedsCap(t *testing.T) {
	for k := 0; k < 100; k++ {
		if got := Backoff(k); got > maxBackoff {
			t.Fatalf("Backoff(%d) = %v exceeds cap %v", k, got, maxBackoff)
		}
	}
}

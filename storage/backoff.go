package storage

import (
	"math"
	"time"
)

// maxBackoff caps the retry backoff at 60 seconds (spec §4.1).
const maxBackoff = 60 * time.Second

// Backoff computes the retry delay nack applies for a message whose
// retry_count was oldRetryCount immediately before the increment:
//
//	backoff(k) = min(2^(k-1) seconds, 60 seconds)
//
// where k is the new (post-increment) retry_count, i.e. k-1 ==
// oldRetryCount. The nack SQL computes the identical expression against
// the pre-update row so this helper exists for documentation and unit
// testing rather than being called from the hot path.
func Backoff(oldRetryCount int) time.Duration {
	secs := math.Pow(2, float64(oldRetryCount))
	capped := math.Min(secs, maxBackoff.Seconds())
	return time.Duration(capped * float64(time.Second))
}

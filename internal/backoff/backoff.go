// Package backoff provides jittered exponential backoff and a bounded retry helper.
package backoff

import (
	"context"
	rand "math/rand/v2"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// Base is the first delay and the lower bound of every delay.
	Base time.Duration

	// Max caps every delay. Zero means uncapped.
	Max time.Duration

	// Multiplier is the growth factor applied to the previous delay.
	Multiplier float64
}

// Jitter computes the next delay with decorrelated ("full") jitter and a cap.
//
// Given the previous delay, the next delay is drawn uniformly from
// [base, prev*mult) and clamped to capDur.
//
// Behavior:
//   - If prev <= 0, start from base
//   - Multiplier < 1.0 falls back to 1.0 (no growth)
//   - Cap below base returns the cap
//
// Parameters:
//   - prev: Previous delay (0 on the first retry)
//   - base: Minimum delay
//   - mult: Growth factor
//   - capDur: Maximum delay (0 = uncapped)
//   - rng: Random source, nil uses the package-level generator
//
// Returns:
//   - time.Duration: Next delay
func Jitter(prev, base time.Duration, mult float64, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}
	if prev <= 0 {
		return base
	}

	span := time.Duration(float64(prev)*mult) - base
	if span <= 0 {
		span = base
	}

	next := base + time.Duration(int63n(rng, int64(span)))
	if capDur > 0 && next > capDur {
		return capDur
	}

	return next
}

// Spread returns a random duration in [0, maxDur).
//
// It desynchronizes hosts that would otherwise act at the same instant, such
// as several hosts racing to acquire the same free lease.
func Spread(maxDur time.Duration, rng *rand.Rand) time.Duration {
	if maxDur <= 0 {
		return 0
	}

	return time.Duration(int63n(rng, int64(maxDur)))
}

// NewRNG returns a deterministic generator for a non-zero seed, or nil for
// seed == 0 so callers use the package-level generator.
//
//nolint:gosec
func NewRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15

	return rand.New(rand.NewPCG(s1, s2))
}

func int63n(rng *rand.Rand, n int64) int64 {
	if rng != nil {
		return rng.Int64N(n)
	}

	return rand.Int64N(n) //nolint:gosec // non-crypto backoff jitter
}

// Retry runs fn until it succeeds, fails permanently, or the attempts in p are
// exhausted.
//
// Between attempts it sleeps a jittered delay; the sleep is interrupted by ctx.
// onRetry, when non-nil, is called before each sleep with the attempt number
// (1-based) and the error that triggered the retry.
//
// Parameters:
//   - ctx: Context for cancellation
//   - p: Retry policy
//   - retryable: Classifies errors; a false result stops immediately
//   - fn: Operation to run
//   - onRetry: Optional callback before each retry sleep
//
// Returns:
//   - error: nil on success, the last error otherwise (ctx.Err() if canceled while sleeping)
func Retry(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error,
	onRetry func(attempt int, err error),
) error {
	attempts := max(p.MaxAttempts, 1)

	var (
		err   error
		delay time.Duration
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts || !retryable(err) {
			return err
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}

		delay = Jitter(delay, p.Base, p.Multiplier, p.Max, nil)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return err
}

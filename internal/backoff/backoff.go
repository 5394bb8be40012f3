// Package backoff computes retry delays. Randomness is injected so callers
// can make delay calculation deterministic under test.
package backoff

import "time"

// Rand supplies the uniform draws the jitter strategies need. *math/rand.Rand
// satisfies it.
type Rand interface {
	Float64() float64
}

// Strategy computes the delay before a retry attempt. Attempt numbering starts
// at 0 for the delay preceding the first retry.
type Strategy interface {
	Delay(attempt int, minDelay, maxDelay time.Duration, rng Rand) time.Duration
}

// FullJitter draws uniformly from [0, min(maxDelay, minDelay*2^attempt)].
// This is the AWS "full jitter" scheme and the package default.
type FullJitter struct{}

// Delay implements Strategy.
func (FullJitter) Delay(attempt int, minDelay, maxDelay time.Duration, rng Rand) time.Duration {
	ceiling := Exp(attempt, minDelay, maxDelay)
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rng.Float64() * float64(ceiling))
}

// DecorrelatedJitter draws from [minDelay, min(maxDelay, minDelay*3^attempt)],
// the stateless variant of AWS decorrelated jitter.
type DecorrelatedJitter struct{}

// Delay implements Strategy.
func (DecorrelatedJitter) Delay(attempt int, minDelay, maxDelay time.Duration, rng Rand) time.Duration {
	if attempt <= 0 {
		return minDelay
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(minDelay)
	upper := base * Pow(3.0, attempt)
	if upper > float64(maxDelay) || upper < 0 {
		upper = float64(maxDelay)
	}
	if upper < base {
		upper = base
	}

	d := time.Duration(base + rng.Float64()*(upper-base))
	if d < 0 || d > maxDelay {
		d = maxDelay
	}
	return d
}

// Exp returns min(maxDelay, minDelay*2^attempt), the undithered exponential
// ceiling shared by the strategies.
func Exp(attempt int, minDelay, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^30 already overflows any sane delay ceiling.
	if attempt > 30 {
		attempt = 30
	}

	d := time.Duration(float64(minDelay) * Pow(2.0, attempt))
	if d < 0 || d > maxDelay {
		d = maxDelay
	}
	return d
}

// Pow computes base^exponent by repeated multiplication.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}

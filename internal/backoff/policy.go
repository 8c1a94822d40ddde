// Package backoff provides exponential backoff utilities with jitter for retry logic.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied to each attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to the backoff.
	Jitter float64
}

// Compute calculates the backoff duration for a given attempt number.
// The formula is: base = min(maxMs, initialMs * factor^(attempt-1)),
// jitter = base * jitter * random(). Attempt numbers start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the backoff duration using a provided random
// value in [0.0, 1.0). Tests use it for deterministic results.
//
// The base delay is clamped to MaxMs before jitter is applied, so clients that
// have hit the cap still spread out instead of reconnecting in lockstep.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)

	base := math.Min(policy.MaxMs, policy.InitialMs*math.Pow(policy.Factor, exp))
	jitterAmount := base * policy.Jitter * randomValue

	return time.Duration(math.Round(base+jitterAmount)) * time.Millisecond
}

// ReconnectPolicy returns the policy used by the client reconnection
// controller: 1s initial, doubled per attempt, capped at 10s, with up to 30%
// jitter to avoid synchronized reconnection storms.
func ReconnectPolicy() Policy {
	return Policy{
		InitialMs: 1000,
		MaxMs:     10000,
		Factor:    2,
		Jitter:    0.3,
	}
}

// StorePolicy returns the policy used when (re)connecting to backing stores.
// Initial: 250ms, Max: 5s, Factor: 2, Jitter: 10%.
func StorePolicy() Policy {
	return Policy{
		InitialMs: 250,
		MaxMs:     5000,
		Factor:    2,
		Jitter:    0.1,
	}
}

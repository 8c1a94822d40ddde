package backoff

import (
	"testing"
	"time"
)

func TestComputeWithRand(t *testing.T) {
	reconnect := ReconnectPolicy()

	tests := []struct {
		name        string
		policy      Policy
		attempt     int
		randomValue float64
		expected    time.Duration
	}{
		{
			name:        "first attempt at base delay",
			policy:      Policy{InitialMs: 1000, MaxMs: 10000, Factor: 2},
			attempt:     1,
			randomValue: 0.5,
			expected:    1000 * time.Millisecond,
		},
		{
			name:        "second attempt doubles",
			policy:      Policy{InitialMs: 1000, MaxMs: 10000, Factor: 2},
			attempt:     2,
			randomValue: 0.5,
			expected:    2000 * time.Millisecond,
		},
		{
			name:        "fourth attempt is 8x",
			policy:      Policy{InitialMs: 1000, MaxMs: 10000, Factor: 2},
			attempt:     4,
			randomValue: 0.5,
			expected:    8000 * time.Millisecond,
		},
		{
			name:        "clamped to max",
			policy:      Policy{InitialMs: 1000, MaxMs: 10000, Factor: 2},
			attempt:     5,
			randomValue: 0,
			expected:    10000 * time.Millisecond,
		},
		{
			name:        "attempt 0 treated as 1",
			policy:      Policy{InitialMs: 1000, MaxMs: 10000, Factor: 2},
			attempt:     0,
			randomValue: 0,
			expected:    1000 * time.Millisecond,
		},
		{
			name:        "jitter at max random adds 30 percent",
			policy:      reconnect,
			attempt:     1,
			randomValue: 1.0,
			// base = 1000, jitter = 1000 * 0.3 * 1.0 = 300
			expected: 1300 * time.Millisecond,
		},
		{
			name:        "jitter at zero random adds nothing",
			policy:      reconnect,
			attempt:     1,
			randomValue: 0.0,
			expected:    1000 * time.Millisecond,
		},
		{
			name:        "jitter applies after the clamp",
			policy:      reconnect,
			attempt:     10,
			randomValue: 1.0,
			// base clamps to 10000, jitter = 10000 * 0.3 = 3000
			expected: 13000 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeWithRand(tt.policy, tt.attempt, tt.randomValue)
			if got != tt.expected {
				t.Errorf("ComputeWithRand() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestComputeStaysWithinJitterBounds(t *testing.T) {
	policy := ReconnectPolicy()
	for attempt := 1; attempt <= 6; attempt++ {
		min := ComputeWithRand(policy, attempt, 0)
		max := ComputeWithRand(policy, attempt, 1)
		for i := 0; i < 100; i++ {
			got := Compute(policy, attempt)
			if got < min || got > max {
				t.Fatalf("attempt %d: Compute() = %v outside [%v, %v]", attempt, got, min, max)
			}
		}
	}
}

package session

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines the delay between failed joins.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Jitter scales every delay by a random factor in [0.5, 1.5) so mirrors
	// dropped together do not rejoin together.
	Jitter bool
}

// NextBackoffDelay returns the delay before join attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(math.Max(cfg.Multiplier, 1), float64(attempt-1))
	if cfg.MaxDelay > 0 {
		delay = math.Min(delay, float64(cfg.MaxDelay))
	}
	if cfg.Jitter && rng != nil {
		delay *= 0.5 + rng.Float64()
	}
	return time.Duration(delay)
}

// rejoinBackoff counts consecutive failed sessions of one Client.
type rejoinBackoff struct {
	cfg     BackoffConfig
	rng     *rand.Rand
	attempt int
}

func newRejoinBackoff(cfg BackoffConfig) *rejoinBackoff {
	return &rejoinBackoff{cfg: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// reset forgets earlier failures once a session gets past its handshake.
func (b *rejoinBackoff) reset() { b.attempt = 0 }

// fail records a failed session and returns the failure count and the delay
// before the next join.
func (b *rejoinBackoff) fail() (int, time.Duration) {
	b.attempt++
	return b.attempt, NextBackoffDelay(b.cfg, b.attempt, b.rng)
}

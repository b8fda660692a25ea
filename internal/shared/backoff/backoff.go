package backoff

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/architeacher/svc-queue-consumer/internal/config"
)

type (
	// Strategy defines the methodology for backing off after a failed
	// queue operation.
	Strategy interface {
		// Backoff returns the amount of time to wait before the next retry given
		// the number of consecutive failures.
		Backoff(retries int) time.Duration
	}

	// Exponential implements exponential backoff algorithm.
	Exponential struct {
		// config contains all options to configure the backoff algorithm.
		config config.BackoffConfig
		// random returns a float in [0, 1); replaced in tests.
		random func() float64
	}
)

func NewExponentialStrategy(cfg config.BackoffConfig) Exponential {
	return Exponential{
		config: cfg,
		random: rand.Float64,
	}
}

// Backoff returns min(BaseDelay * Multiplier^retries, MaxDelay), spread by Jitter
// when configured. retries is zero based.
func (bc Exponential) Backoff(retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}

	backoff, maxBackoff := float64(bc.config.BaseDelay), float64(bc.config.MaxDelay)
	backoff *= math.Pow(bc.config.Multiplier, float64(retries))

	if maxBackoff > 0 && (backoff > maxBackoff || math.IsInf(backoff, 1)) {
		backoff = maxBackoff
	}

	if bc.config.Jitter > 0 && bc.random != nil {
		backoff *= 1 + bc.config.Jitter*(bc.random()*2-1)
	}

	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

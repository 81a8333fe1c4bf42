package tutorgate

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Retry defaults. Three tries per provider with 500ms, 1s backoff.
const (
	DefaultMaxRetries   = 2
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 8 * time.Second
	DefaultMultiplier   = 2.0
)

// RetryPolicy controls local retries against a single provider before the
// gateway advances to the next one.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first try. Nil means DefaultMaxRetries.
	MaxRetries   *int          `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       bool          `yaml:"jitter"`
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries == nil {
		p.MaxRetries = IntPtr(DefaultMaxRetries)
	}
	if p.InitialDelay == 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = DefaultMultiplier
	}
	return p
}

// Validate checks the retry settings.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries != nil && *p.MaxRetries < 0 {
		return fmt.Errorf("tutorgate: config: retry.max_retries must not be negative")
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("tutorgate: config: retry delays must not be negative")
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("tutorgate: config: retry.multiplier must be at least 1")
	}
	return nil
}

// Tries returns the total number of tries per provider.
func (p RetryPolicy) Tries() int {
	if p.MaxRetries == nil {
		return DefaultMaxRetries + 1
	}
	return *p.MaxRetries + 1
}

// Delay returns the backoff before the given retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 || p.InitialDelay <= 0 {
		return 0
	}

	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(retry-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		// Equal jitter: half fixed, half random.
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

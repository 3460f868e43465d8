// Package retry provides retry logic with exponential backoff for the
// two places this helper talks to the network before any request work
// begins: the initial directory dial and the bind. Searches, adds, and
// modifies are never retried; the parent tool kills the helper if one
// of those hangs, and re-issuing them would only stretch the hang.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds retry configuration parameters.
type Config struct {
	MaxAttempts    int           // Maximum number of attempts
	InitialDelay   time.Duration // Delay before the second attempt
	MaxDelay       time.Duration // Ceiling for the backoff delay
	Multiplier     float64       // Backoff multiplier between attempts
	JitterFraction float64       // Jitter fraction 0-1 to spread reconnect storms
}

// LDAPConfig returns the profile used for directory dial and bind: a
// transient DNS or connect hiccup gets two more chances, starting with a
// half-second pause, but the total wait stays well under
// the patience of the parent tool driving the request.
func LDAPConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.15,
	}
}

// DoWithConfig executes the operation with retry logic using the provided
// configuration. The last attempt's error is returned unwrapped so the
// caller can still classify it as an *ldap.Error.
func DoWithConfig(ctx context.Context, config Config, operation func() error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt == config.MaxAttempts {
			break
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", config.MaxAttempts).
			Dur("next_delay", delay).
			Msg("directory connection attempt failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(addJitter(delay, config.JitterFraction)):
		}

		delay = min(time.Duration(float64(delay)*config.Multiplier), config.MaxDelay)
	}

	log.Error().
		Err(lastErr).
		Int("attempts", config.MaxAttempts).
		Msg("directory connection failed after all retry attempts")

	return lastErr
}

// DoWithResultConfig executes an operation that returns a value with
// retry logic and custom config.
func DoWithResultConfig[T any](ctx context.Context, config Config, operation func() (T, error)) (T, error) {
	var result T

	err := DoWithConfig(ctx, config, func() error {
		var opErr error
		result, opErr = operation()

		return opErr
	})

	return result, err
}

// addJitter spreads retry timing so a fleet of helpers reconnecting to
// the same directory does not hammer it in lockstep.
func addJitter(duration time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return duration
	}

	jitter := float64(duration) * fraction * rand.Float64() //nolint:gosec // Weak random acceptable for jitter

	return duration + time.Duration(jitter)
}

// ExponentialBackoff calculates the delay for a given attempt number.
func ExponentialBackoff(attempt int, config Config) time.Duration {
	if attempt <= 0 {
		return config.InitialDelay
	}

	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	return time.Duration(delay)
}

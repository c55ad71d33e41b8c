package extract

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"strings"
	"time"
)

// RetryConfig defines retry behavior for LLM API calls.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig keeps retries short: webhook replies have a 60s
// budget shared with the fallback provider.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:  2,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     4 * time.Second,
}

// CalculateBackoff calculates the delay before the next retry attempt
// using the AWS Full Jitter algorithm:
//
//	delay = random(0, min(maxDelay, initialDelay * 2^attempt))
func CalculateBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}

	exp := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(initial) * exp)
	if delay > max {
		delay = max
	}
	if delay <= 0 {
		return 0
	}

	// crypto/rand for uniform distribution without bias
	maxNs := big.NewInt(int64(delay))
	jitterBig, err := rand.Int(rand.Reader, maxNs)
	if err != nil {
		return delay / 2
	}
	return time.Duration(jitterBig.Int64())
}

// Sleep waits for the duration, respecting context cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithRetry executes fn with exponential backoff, stopping early on
// permanent errors and context cancellation.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if isPermanent(err) {
			return err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := CalculateBackoff(attempt+1, cfg.InitialDelay, cfg.MaxDelay)
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

// isPermanent reports whether the error will not be fixed by retrying
// the same provider: auth failures, malformed requests, cancellation.
func isPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return containsAny(errStr, "401", "unauthorized", "unauthenticated", "invalid api key",
		"403", "forbidden", "400", "bad request", "malformed")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

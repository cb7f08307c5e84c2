// Package retry runs outbound operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config configures retry behavior with exponential backoff
type Config struct {
	MaxRetries int           `koanf:"max_retries"` // Maximum number of retry attempts (default: 3)
	BaseDelay  time.Duration `koanf:"base_delay"`  // Base delay between retries (default: 1s)
	MaxDelay   time.Duration `koanf:"max_delay"`   // Maximum delay between retries (default: 30s)
	Multiplier float64       `koanf:"multiplier"`  // Exponential backoff multiplier (default: 2.0)
	Jitter     bool          `koanf:"jitter"`      // Add up to 10% random jitter (default: true)
	LogRetries bool          `koanf:"log_retries"` // Whether to log retry attempts (default: true)

	// Retryable decides whether a failed attempt is retried. Nil retries
	// everything except errors wrapped with Permanent.
	Retryable func(error) bool `koanf:"-"`
}

// Result contains information about the retry operation
type Result struct {
	Attempts      int           `json:"attempts"`
	TotalDuration time.Duration `json:"total_duration"`
	LastError     error         `json:"-"`
	Success       bool          `json:"success"`
	RetryReasons  []string      `json:"retry_reasons"`
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
	}
}

// DeliveryConfig is tuned for pushing chat responses: a user is waiting, so
// retries are few and short.
func DeliveryConfig() Config {
	return Config{
		MaxRetries: 2,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
		Retryable:  IsRetryableError,
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Do stops retrying immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do executes op with exponential backoff retry logic
func Do(ctx context.Context, config Config, op func(ctx context.Context) error, logger zerolog.Logger) Result {
	return DoWithReason(ctx, config, func(ctx context.Context) (string, error) {
		err := op(ctx)
		reason := "unknown_error"
		if err != nil {
			reason = err.Error()
		}
		return reason, err
	}, logger)
}

// DoWithReason executes op with exponential backoff retry logic and custom reason tracking
func DoWithReason(ctx context.Context, config Config, op func(ctx context.Context) (string, error), logger zerolog.Logger) Result {
	startTime := time.Now()
	if !config.LogRetries {
		logger = zerolog.Nop()
	}

	result := Result{RetryReasons: make([]string, 0)}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		reason, err := op(ctx)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if attempt > 0 {
				logger.Debug().
					Int("retries", attempt).
					Dur("total_duration", result.TotalDuration).
					Msg("Operation succeeded after retries")
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, reason)

		if attempt >= config.MaxRetries || !shouldRetry(config, err) {
			result.TotalDuration = time.Since(startTime)
			logger.Warn().
				Err(err).
				Int("attempts", result.Attempts).
				Dur("total_duration", result.TotalDuration).
				Msg("Operation failed")
			return result
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			logger.Debug().Err(ctx.Err()).Int("attempt", attempt+1).Msg("Operation cancelled during retry")
			return result
		}

		delay := calculateDelay(config, attempt)
		logger.Debug().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxRetries+1).
			Dur("delay", delay).
			Msg("Operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			logger.Debug().Err(ctx.Err()).Msg("Operation cancelled during backoff delay")
			return result
		case <-timer.C:
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

func shouldRetry(config Config, err error) bool {
	if IsPermanent(err) {
		return false
	}
	if config.Retryable == nil {
		return true
	}
	return config.Retryable(err)
}

// calculateDelay calculates the delay for the next retry attempt using exponential backoff
func calculateDelay(config Config, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// IsRetryableError determines if an error is retryable
func IsRetryableError(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"status 429",
		"status 500",
		"status 502",
		"status 503",
		"status 504",
		"dns lookup failed",
		"no such host",
		"network unreachable",
		"broken pipe",
		"eof",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}

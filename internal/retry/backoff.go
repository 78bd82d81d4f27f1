package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config controls exponential backoff between attempts.
type Config struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
	Multiplier float64       `json:"multiplier"`
	Jitter     bool          `json:"jitter"`
	LogRetries bool          `json:"log_retries"`
}

// Result reports how an attempted operation went.
type Result struct {
	Attempts      int           `json:"attempts"`
	TotalDuration time.Duration `json:"total_duration"`
	LastError     error         `json:"-"`
	Success       bool          `json:"success"`
	RetryReasons  []string      `json:"retry_reasons"`
}

// DefaultConfig suits short HTTP calls.
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

// LLMConfig allows for the longer tail latencies of completion endpoints.
func LLMConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2.5,
		Jitter:     true,
		LogRetries: true,
	}
}

// SCMConfig keeps provider API calls snappy; their rate limiters do the
// real pacing.
func SCMConfig() Config {
	return Config{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
	}
}

// Do runs op with exponential backoff until it succeeds, exhausts
// MaxRetries+1 attempts, returns a non-retryable error, or ctx ends.
func Do(ctx context.Context, cfg Config, op func() error) Result {
	start := time.Now()
	result := Result{RetryReasons: make([]string, 0)}

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		err := op()
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(start)
			if cfg.LogRetries && attempt > 0 {
				log.Debug().
					Int("attempts", result.Attempts).
					Dur("total", result.TotalDuration).
					Msg("Operation succeeded after retries")
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, err.Error())

		if attempt >= cfg.MaxRetries || !IsRetryable(err) {
			result.TotalDuration = time.Since(start)
			if cfg.LogRetries {
				log.Warn().
					Err(err).
					Int("attempts", result.Attempts).
					Bool("retryable", IsRetryable(err)).
					Msg("Operation failed")
			}
			return result
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result
		}

		delay := Backoff(cfg, attempt)
		if cfg.LogRetries {
			log.Debug().
				Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", cfg.MaxRetries+1).
				Dur("delay", delay).
				Msg("Retrying after backoff")
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result
		case <-time.After(delay):
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

// Backoff is baseDelay * multiplier^attempt, capped at MaxDelay, with up to
// 10% jitter either way to avoid thundering herds. Exported for callers that
// manage their own attempt loop.
func Backoff(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(cfg.BaseDelay)
		}
	}
	return time.Duration(delay)
}

// retryableFragments are matched case-insensitively against error text.
// Status-code fragments catch wrapped HTTP errors whose type is opaque.
var retryableFragments = []string{
	"connection refused",
	"connection reset",
	"connection timeout",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"dns lookup failed",
	"no such host",
	"network unreachable",
	"broken pipe",
	"context deadline exceeded",
}

// IsRetryable reports whether err looks transient. An explicit cancel is
// never retryable: the caller asked to stop. Deadline overruns are; they
// usually come from a per-attempt timeout.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

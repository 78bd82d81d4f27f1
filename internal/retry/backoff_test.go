package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries=3, got %d", config.MaxRetries)
	}

	if config.BaseDelay != time.Second {
		t.Errorf("Expected BaseDelay=1s, got %v", config.BaseDelay)
	}

	if config.MaxDelay != 30*time.Second {
		t.Errorf("Expected MaxDelay=30s, got %v", config.MaxDelay)
	}

	if config.Multiplier != 2.0 {
		t.Errorf("Expected Multiplier=2.0, got %f", config.Multiplier)
	}

	if !config.Jitter {
		t.Error("Expected Jitter=true")
	}
}

func TestLLMConfig(t *testing.T) {
	config := LLMConfig()

	if config.BaseDelay != 2*time.Second {
		t.Errorf("Expected BaseDelay=2s, got %v", config.BaseDelay)
	}

	if config.MaxDelay != 60*time.Second {
		t.Errorf("Expected MaxDelay=60s, got %v", config.MaxDelay)
	}

	if config.Multiplier != 2.5 {
		t.Errorf("Expected Multiplier=2.5, got %f", config.Multiplier)
	}
}

func TestDo_Success(t *testing.T) {
	config := Config{
		MaxRetries: 2,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
	}

	result := Do(context.Background(), config, func() error {
		return nil
	})

	if !result.Success {
		t.Error("Expected success=true")
	}

	if result.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", result.Attempts)
	}

	if result.LastError != nil {
		t.Errorf("Expected no error, got %v", result.LastError)
	}

	if len(result.RetryReasons) != 0 {
		t.Errorf("Expected no retry reasons, got %d", len(result.RetryReasons))
	}
}

func TestDo_EventualSuccess(t *testing.T) {
	config := Config{
		MaxRetries: 3,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
	}

	attempts := 0
	result := Do(context.Background(), config, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})

	if !result.Success {
		t.Error("Expected success=true")
	}

	if result.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.Attempts)
	}

	if len(result.RetryReasons) != 2 {
		t.Errorf("Expected 2 retry reasons, got %d", len(result.RetryReasons))
	}

	if result.TotalDuration == 0 {
		t.Error("Expected non-zero total duration")
	}
}

func TestDo_RetryableExhaustion(t *testing.T) {
	config := Config{
		MaxRetries: 2,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
	}

	expectedError := errors.New("service unavailable")
	result := Do(context.Background(), config, func() error {
		return expectedError
	})

	if result.Success {
		t.Error("Expected success=false")
	}

	if result.Attempts != 3 { // MaxRetries + 1
		t.Errorf("Expected 3 attempts, got %d", result.Attempts)
	}

	if result.LastError != expectedError {
		t.Errorf("Expected last error to be %v, got %v", expectedError, result.LastError)
	}
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	config := Config{
		MaxRetries: 5,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
	}

	result := Do(context.Background(), config, func() error {
		return errors.New("401 unauthorized")
	})

	if result.Success {
		t.Error("Expected success=false")
	}

	if result.Attempts != 1 {
		t.Errorf("Expected 1 attempt for a non-retryable error, got %d", result.Attempts)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	config := Config{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := Do(ctx, config, func() error {
		return errors.New("temporary failure")
	})

	if result.Success {
		t.Error("Expected success=false due to context cancellation")
	}

	if result.Attempts > 2 {
		t.Errorf("Expected few attempts due to quick timeout, got %d", result.Attempts)
	}
}

func TestBackoff(t *testing.T) {
	config := Config{
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}

	delay0 := Backoff(config, 0)
	delay1 := Backoff(config, 1)
	delay2 := Backoff(config, 2)

	if delay0 != 1*time.Second {
		t.Errorf("Expected delay0=1s, got %v", delay0)
	}

	if delay1 != 2*time.Second {
		t.Errorf("Expected delay1=2s, got %v", delay1)
	}

	if delay2 != 4*time.Second {
		t.Errorf("Expected delay2=4s, got %v", delay2)
	}

	delay10 := Backoff(config, 10)
	if delay10 != 10*time.Second {
		t.Errorf("Expected delay10=10s (capped), got %v", delay10)
	}
}

func TestBackoff_WithJitter(t *testing.T) {
	config := Config{
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}

	delay1a := Backoff(config, 1)
	delay1b := Backoff(config, 1)
	delay1c := Backoff(config, 1)

	expectedBase := 2 * time.Second
	tolerance := 200 * time.Millisecond

	if absDuration(delay1a-expectedBase) > tolerance {
		t.Errorf("delay1a %v too far from expected %v", delay1a, expectedBase)
	}

	if delay1a == delay1b && delay1b == delay1c {
		t.Error("Expected some variation with jitter enabled")
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []error{
		errors.New("connection refused"),
		errors.New("connection timeout"),
		errors.New("temporary failure"),
		errors.New("HTTP 429 Too Many Requests"),
		errors.New("HTTP 502 Bad Gateway"),
		errors.New("HTTP 503 Service Unavailable"),
		errors.New("DNS lookup failed"),
		errors.New("context deadline exceeded"),
	}

	for _, err := range retryable {
		if !IsRetryable(err) {
			t.Errorf("Expected %v to be retryable", err)
		}
	}

	nonRetryable := []error{
		errors.New("invalid input"),
		errors.New("permission denied"),
		errors.New("HTTP 400 Bad Request"),
		errors.New("HTTP 401 Unauthorized"),
		errors.New("HTTP 404 Not Found"),
		context.Canceled,
	}

	for _, err := range nonRetryable {
		if IsRetryable(err) {
			t.Errorf("Expected %v to NOT be retryable", err)
		}
	}

	if IsRetryable(nil) {
		t.Error("Expected nil error to NOT be retryable")
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

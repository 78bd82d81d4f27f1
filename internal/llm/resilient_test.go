package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reviewpilot/internal/retry"
)

// stubClient plays back one scripted outcome per call.
type stubClient struct {
	calls   int
	scripts []func(fn StreamFunc) (string, error)
}

func (s *stubClient) StreamCompletion(ctx context.Context, _ Request, fn StreamFunc) (string, error) {
	script := s.scripts[s.calls]
	s.calls++
	return script(fn)
}

func (s *stubClient) Provider() string { return "stub" }
func (s *stubClient) Model() string    { return "stub-model" }

func fastRetry() retry.Config {
	return retry.Config{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestResilientRetriesPreStreamFailure(t *testing.T) {
	t.Parallel()

	stub := &stubClient{scripts: []func(fn StreamFunc) (string, error){
		func(fn StreamFunc) (string, error) {
			return "", errors.New("connection refused")
		},
		func(fn StreamFunc) (string, error) {
			_ = fn(context.Background(), "ok")
			return "ok", nil
		},
	}}

	r := NewResilient(stub, fastRetry())
	full, err := r.StreamCompletion(context.Background(), Request{Prompt: "p"}, func(context.Context, string) error { return nil })
	require.NoError(t, err)
	require.Equal(t, "ok", full)
	require.Equal(t, 2, stub.calls)
}

func TestResilientDoesNotRetryNonRetryable(t *testing.T) {
	t.Parallel()

	stub := &stubClient{scripts: []func(fn StreamFunc) (string, error){
		func(fn StreamFunc) (string, error) {
			return "", &Error{Provider: "stub", Status: 401, Message: "bad key"}
		},
	}}

	r := NewResilient(stub, fastRetry())
	_, err := r.StreamCompletion(context.Background(), Request{Prompt: "p"}, func(context.Context, string) error { return nil })
	require.Error(t, err)
	require.Equal(t, 1, stub.calls)
}

func TestResilientDoesNotReplayLiveStream(t *testing.T) {
	t.Parallel()

	stub := &stubClient{scripts: []func(fn StreamFunc) (string, error){
		func(fn StreamFunc) (string, error) {
			_ = fn(context.Background(), "partial ")
			return "partial ", errors.New("connection reset")
		},
	}}

	r := NewResilient(stub, fastRetry())
	var seen []string
	full, err := r.StreamCompletion(context.Background(), Request{Prompt: "p"}, func(_ context.Context, d string) error {
		seen = append(seen, d)
		return nil
	})
	require.Error(t, err)
	require.Equal(t, 1, stub.calls)
	require.Equal(t, "partial ", full)
	require.Equal(t, []string{"partial "}, seen)
}

func TestResilientExhaustsRetries(t *testing.T) {
	t.Parallel()

	fail := func(fn StreamFunc) (string, error) {
		return "", errors.New("service unavailable")
	}
	stub := &stubClient{scripts: []func(fn StreamFunc) (string, error){fail, fail, fail}}

	r := NewResilient(stub, fastRetry())
	_, err := r.StreamCompletion(context.Background(), Request{Prompt: "p"}, func(context.Context, string) error { return nil })
	require.Error(t, err)
	require.Equal(t, 3, stub.calls)
}
